package artifacts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Writer manages the artifact directory of a single run.
type Writer struct {
	RunDir string
}

// NewWriter creates the run directory.
func NewWriter(runDir string) (*Writer, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create run dir %s", runDir)
	}
	return &Writer{RunDir: runDir}, nil
}

// Path resolves name against the run directory.
func (w *Writer) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(w.RunDir, name)
}

// EnsureDir creates a directory (relative names resolve under the run dir) and returns its path.
func (w *Writer) EnsureDir(name string) (string, error) {
	path := w.Path(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errors.Wrapf(err, "create dir %s", path)
	}
	return path, nil
}

// WriteJSON writes an object to an indented JSON file under the run directory.
func (w *Writer) WriteJSON(name string, value any) (string, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encode %s", name)
	}
	return w.WriteBytes(name, payload)
}

// WriteText writes a string to a file under the run directory.
func (w *Writer) WriteText(name string, data string) (string, error) {
	return w.WriteBytes(name, []byte(data))
}

// WriteBytes writes bytes to a file under the run directory.
func (w *Writer) WriteBytes(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "create dir for %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}

// maxExclusiveAttempts bounds the -N suffixes WriteExclusive tries.
const maxExclusiveAttempts = 1000

// WriteExclusive writes data to a new file. When name already exists a -N
// suffix is added before the extension; existing files are never replaced.
// It returns the path actually written.
func (w *Writer) WriteExclusive(name string, data []byte) (string, error) {
	base := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return "", errors.Wrapf(err, "create dir for %s", name)
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for attempt := 0; attempt < maxExclusiveAttempts; attempt++ {
		path := base
		if attempt > 0 {
			path = fmt.Sprintf("%s-%d%s", stem, attempt, ext)
		}
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "create %s", path)
		}
		if _, err := file.Write(data); err != nil {
			file.Close()
			return "", errors.Wrapf(err, "write %s", path)
		}
		if err := file.Close(); err != nil {
			return "", errors.Wrapf(err, "close %s", path)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s", base)
}

// Files lists every regular file under the run directory as slash-separated
// paths relative to it, sorted.
func (w *Writer) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.RunDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.RunDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", w.RunDir)
	}
	sort.Strings(files)
	return files, nil
}
