package objectstore

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// openUpload opens a local file for upload and returns its size.
func openUpload(localPath string) (*os.File, int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open %s", localPath)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, errors.Wrapf(err, "stat %s", localPath)
	}
	return file, stat.Size(), nil
}

// createDownload creates localPath and its parent directories.
func createDownload(localPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", localPath)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", localPath)
	}
	return file, nil
}
