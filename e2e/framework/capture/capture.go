// Package capture writes uniquely named screenshot artifacts.
//
// File names have the form <kind>_<label>_<timestamp>.png. When two captures
// share kind, label and timestamp, a per-label counter is appended to the
// timestamp so names stay unique across concurrent scenario workers.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

const (
	// DefaultMaxLabelLength bounds the label part of a file name.
	DefaultMaxLabelLength = 100
	timestampLayout       = "20060102-150405.000"
	maxCreateAttempts     = 1000
)

// Screenshotter is the part of a page handle the service needs.
type Screenshotter interface {
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	IsClosed() bool
}

// Observer receives the outcome of every capture.
type Observer interface {
	ObserveCapture(kind results.ArtifactKind, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMaxLabelLength overrides DefaultMaxLabelLength.
func WithMaxLabelLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLabel = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers a capture observer, typically the metrics collector.
func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

// Service captures screenshots into a directory.
type Service struct {
	dir      string
	clock    func() time.Time
	maxLabel int
	logger   *zap.Logger
	observer Observer

	mu   sync.Mutex
	last map[string]stamp
}

type stamp struct {
	timestamp string
	seq       int
}

// New creates the screenshot directory and returns a Service writing into it.
func New(dir string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("screenshot dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create screenshot dir %s", dir)
	}
	s := &Service{
		dir:      dir,
		clock:    time.Now,
		maxLabel: DefaultMaxLabelLength,
		logger:   zap.NewNop(),
		last:     make(map[string]stamp),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the screenshot directory.
func (s *Service) Dir() string {
	return s.dir
}

// Capture takes a screenshot of page and writes it under the service
// directory. Errors are classified as failures.CaptureFailure; callers log
// them and carry on since evidence never decides a step outcome.
func (s *Service) Capture(ctx context.Context, page Screenshotter, kind results.ArtifactKind, label string, fullPage bool) (results.Artifact, error) {
	artifact, err := s.capture(ctx, page, kind, label, fullPage)
	if s.observer != nil {
		s.observer.ObserveCapture(kind, err)
	}
	if err != nil {
		s.logger.Warn("screenshot capture failed", zap.String("kind", string(kind)), zap.String("label", label), zap.Error(err))
		return results.Artifact{}, err
	}
	s.logger.Debug("screenshot captured", zap.String("kind", string(kind)), zap.String("path", artifact.Path))
	return artifact, nil
}

func (s *Service) capture(ctx context.Context, page Screenshotter, kind results.ArtifactKind, label string, fullPage bool) (results.Artifact, error) {
	if page == nil || page.IsClosed() {
		return results.Artifact{}, failures.New(failures.CaptureFailure, "screenshot", "page is closed")
	}
	if kind == "" {
		kind = results.KindStep
	}
	label = SanitizeLabel(label, s.maxLabel)

	capturedAt := s.clock()
	data, err := page.Screenshot(ctx, fullPage)
	if err != nil {
		return results.Artifact{}, failures.Wrap(failures.CaptureFailure, "screenshot", err)
	}
	if len(data) == 0 {
		return results.Artifact{}, failures.New(failures.CaptureFailure, "screenshot", "empty image")
	}

	name, err := s.write(kind, label, capturedAt, data)
	if err != nil {
		return results.Artifact{}, failures.Wrap(failures.CaptureFailure, "write", err)
	}
	return results.Artifact{
		Path:         filepath.Join(s.dir, name),
		RelativePath: name,
		CapturedAt:   capturedAt,
		Kind:         kind,
		Label:        label,
	}, nil
}

// write reserves a name and creates the file exclusively, bumping the
// disambiguator if another writer got there first.
func (s *Service) write(kind results.ArtifactKind, label string, at time.Time, data []byte) (string, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		name := s.reserve(kind, label, at)
		path := filepath.Join(s.dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := file.Write(data); err != nil {
			file.Close()
			return "", err
		}
		if err := file.Close(); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", fmt.Errorf("no free file name for %s_%s", kind, label)
}

func (s *Service) reserve(kind results.ArtifactKind, label string, at time.Time) string {
	ts := at.UTC().Format(timestampLayout)
	key := string(kind) + "/" + label

	s.mu.Lock()
	prev := s.last[key]
	seq := 0
	if prev.timestamp == ts {
		seq = prev.seq + 1
	}
	s.last[key] = stamp{timestamp: ts, seq: seq}
	s.mu.Unlock()

	return FileName(kind, label, ts, seq)
}

// FileName renders <kind>_<label>_<timestamp>[-<seq>].png.
func FileName(kind results.ArtifactKind, label, timestamp string, seq int) string {
	if seq > 0 {
		timestamp = fmt.Sprintf("%s-%d", timestamp, seq)
	}
	return fmt.Sprintf("%s_%s_%s.png", kind, label, timestamp)
}

// SanitizeLabel replaces every character outside [A-Za-z0-9_-] with '_' and
// truncates the result to limit bytes.
func SanitizeLabel(label string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxLabelLength
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= limit {
			break
		}
	}
	out := b.String()
	if len(out) > limit {
		out = out[:limit]
	}
	if out == "" {
		return "unnamed"
	}
	return out
}

// NavigationLabel derives a label from the host of rawURL.
func NavigationLabel(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return SanitizeLabel(rawURL, DefaultMaxLabelLength)
	}
	return SanitizeLabel(parsed.Hostname(), DefaultMaxLabelLength)
}

// StepLabel derives a label from a scenario name and step text.
func StepLabel(scenario, step string) string {
	return SanitizeLabel(scenario+"_"+step, DefaultMaxLabelLength)
}
