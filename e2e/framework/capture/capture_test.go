package capture

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

type fakePage struct {
	data   []byte
	err    error
	closed bool
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.data, nil
}

func (p *fakePage) IsClosed() bool { return p.closed }

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveCapture(kind results.ArtifactKind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func TestCaptureNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(dir, WithClock(fixedClock))
	require.NoError(t, err)
	page := &fakePage{data: []byte("png")}

	var names []string
	for i := 0; i < 3; i++ {
		artifact, err := svc.Capture(context.Background(), page, results.KindStep, "Search AI", true)
		require.NoError(t, err)
		names = append(names, artifact.RelativePath)
		assert.Equal(t, fixedTime, artifact.CapturedAt)
		assert.Equal(t, "Search_AI", artifact.Label)
		assert.FileExists(t, artifact.Path)
	}

	assert.Equal(t, []string{
		"step_Search_AI_20260314-092653.589.png",
		"step_Search_AI_20260314-092653.589-1.png",
		"step_Search_AI_20260314-092653.589-2.png",
	}, names)
}

func TestCaptureConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(dir, WithClock(fixedClock))
	require.NoError(t, err)
	page := &fakePage{data: []byte("png")}

	const workers = 32
	paths := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			artifact, err := svc.Capture(context.Background(), page, results.KindNavigation, "www.google.com", true)
			if assert.NoError(t, err) {
				paths <- artifact.Path
			}
		}()
	}
	wg.Wait()
	close(paths)

	seen := map[string]bool{}
	for path := range paths {
		assert.False(t, seen[path], "duplicate path %s", path)
		seen[path] = true
	}
	assert.Len(t, seen, workers)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, workers)
}

func TestCaptureSkipsNamesTakenByOtherWriters(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir, WithClock(fixedClock))
	require.NoError(t, err)
	second, err := New(dir, WithClock(fixedClock))
	require.NoError(t, err)
	page := &fakePage{data: []byte("png")}

	a, err := first.Capture(context.Background(), page, results.KindStep, "same", true)
	require.NoError(t, err)
	b, err := second.Capture(context.Background(), page, results.KindStep, "same", true)
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestCaptureFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	obs := &recordingObserver{}
	dir := t.TempDir()
	svc, err := New(dir, WithLogger(zap.New(core)), WithObserver(obs))
	require.NoError(t, err)

	tests := []struct {
		name string
		page Screenshotter
	}{
		{name: "closed page", page: &fakePage{closed: true}},
		{name: "nil page", page: nil},
		{name: "driver error", page: &fakePage{err: errors.New("target crashed")}},
		{name: "empty image", page: &fakePage{data: nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact, err := svc.Capture(context.Background(), tt.page, results.KindStep, "label", true)
			require.Error(t, err)
			assert.True(t, failures.Is(err, failures.CaptureFailure))
			assert.Empty(t, artifact.Path)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, len(tests), logs.FilterMessage("screenshot capture failed").Len())
	assert.Len(t, obs.errs, len(tests))
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{in: "Search for AI", limit: 0, want: "Search_for_AI"},
		{in: "a/b\\c:d*e?f", limit: 0, want: "a_b_c_d_e_f"},
		{in: "keep-this_one9", limit: 0, want: "keep-this_one9"},
		{in: "héllo", limit: 0, want: "h_llo"},
		{in: "   ", limit: 0, want: "unnamed"},
		{in: "abcdefghij", limit: 4, want: "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeLabel(tt.in, tt.limit))
		})
	}

	long := SanitizeLabel(strings.Repeat("x", 500), 0)
	assert.Len(t, long, DefaultMaxLabelLength)
}

func TestNavigationLabel(t *testing.T) {
	assert.Equal(t, "www_google_com", NavigationLabel("https://www.google.com/search?q=AI"))
	assert.Equal(t, "localhost", NavigationLabel("http://localhost:8080/"))
	assert.Equal(t, "not_a_url", NavigationLabel("not a url"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "navigation_host_ts.png", FileName(results.KindNavigation, "host", "ts", 0))
	assert.Equal(t, "step_l_ts-3.png", FileName(results.KindStep, "l", "ts", 3))
}
