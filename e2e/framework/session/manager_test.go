package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/browser/browsertest"
	"github.com/splunk/browser-e2e/e2e/framework/capture"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

const home = "https://www.google.com"

func newSite() *browsertest.Site {
	return browsertest.NewSite().Route(home, browsertest.Document{Title: "Google"})
}

type recordingCapturer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *recordingCapturer) Capture(ctx context.Context, page capture.Screenshotter, kind results.ArtifactKind, label string, fullPage bool) (results.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return results.Artifact{}, c.err
	}
	c.calls = append(c.calls, string(kind)+":"+label)
	return results.Artifact{Path: label + ".png", Kind: kind, Label: label, CapturedAt: time.Now()}, nil
}

func options(isolation string) Options {
	return Options{
		Launch:            browser.LaunchOptions{Kind: browser.KindChromium, Headless: true},
		Context:           browser.ContextOptions{ViewportWidth: 1280, ViewportHeight: 720},
		Isolation:         isolation,
		RetryCount:        2,
		TeardownTimeout:   time.Second,
		NavigationCapture: true,
		FullPage:          true,
	}
}

func TestSharedIsolationTeardownOrder(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := NewManager(launcher, nil, options(config.IsolationShared), nil)

	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	first, err := m.OpenScenario(context.Background(), run, "first")
	require.NoError(t, err)
	second, err := m.OpenScenario(context.Background(), run, "second")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Open())

	require.NoError(t, m.CloseScenario(context.Background(), first))
	require.NoError(t, m.CloseRun(context.Background(), run))
	assert.True(t, second.IsClosed())
	assert.Zero(t, run.Open())

	assert.Equal(t, []string{
		"launch browser-1",
		"open context-1", "open page-1",
		"open context-2", "open page-2",
		"close page-1", "close context-1",
		"close page-2", "close context-2",
		"close browser-1",
	}, launcher.Events())
}

func TestPerScenarioIsolationOwnsBrowser(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := NewManager(launcher, nil, options(config.IsolationPerScenario), nil)

	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run.Browser())
	s, err := m.OpenScenario(context.Background(), run, "alone")
	require.NoError(t, err)
	require.NoError(t, m.CloseScenario(context.Background(), s))
	require.NoError(t, m.CloseScenario(context.Background(), s), "second close is a no-op")
	require.NoError(t, m.CloseRun(context.Background(), run))

	assert.Equal(t, []string{
		"launch browser-1", "open context-1", "open page-1",
		"close page-1", "close context-1", "close browser-1",
	}, launcher.Events())
}

func TestOpenScenarioRetries(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	launcher.PageFailures = 2
	m := NewManager(launcher, nil, options(config.IsolationShared), nil)
	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	defer m.CloseRun(context.Background(), run)

	s, err := m.OpenScenario(context.Background(), run, "flaky")
	require.NoError(t, err)
	assert.NotNil(t, s.Page)

	// Contexts from failed attempts were released.
	events := launcher.Events()
	assert.Contains(t, events, "close context-1")
	assert.Contains(t, events, "close context-2")
	assert.NotContains(t, events, "close context-3")
}

func TestOpenScenarioExhaustsRetries(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	launcher.ContextFailures = 10
	m := NewManager(launcher, nil, options(config.IsolationShared), nil)
	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)

	_, err = m.OpenScenario(context.Background(), run, "doomed")
	require.Error(t, err)
	assert.True(t, failures.Is(err, failures.SessionFailure))
	assert.Equal(t, 7, launcher.ContextFailures, "one initial attempt plus two retries")
	require.NoError(t, m.CloseRun(context.Background(), run))
}

func TestUnsupportedBrowserIsSessionFailure(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	opts := options(config.IsolationShared)
	opts.Launch.Kind = browser.KindFirefox
	opts.RetryCount = 0
	m := NewManager(launcher, nil, opts, nil)

	run, err := m.OpenRun(context.Background())
	require.Error(t, err)
	assert.True(t, failures.Is(err, failures.SessionFailure))

	_, err = m.OpenScenario(context.Background(), run, "any")
	assert.True(t, failures.Is(err, failures.SessionFailure))
	require.NoError(t, m.CloseRun(context.Background(), run))
}

func TestNavigateCapturesEvidence(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	capturer := &recordingCapturer{}
	m := NewManager(launcher, capturer, options(config.IsolationShared), nil)
	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	defer m.CloseRun(context.Background(), run)
	s, err := m.OpenScenario(context.Background(), run, "nav")
	require.NoError(t, err)

	var got []results.Artifact
	s.OnArtifact(func(a results.Artifact) { got = append(got, a) })
	require.NoError(t, m.Navigate(context.Background(), s, home))
	require.Len(t, got, 1)
	assert.Equal(t, results.KindNavigation, got[0].Kind)
	assert.Equal(t, []string{"navigation:www_google_com"}, capturer.calls)

	err = s.Navigate(context.Background(), "https://unknown.invalid")
	assert.Error(t, err, "navigation errors are returned")
	assert.Len(t, got, 1, "no capture after failed navigation")
}

func TestNavigateCaptureFailureIsAbsorbed(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	capturer := &recordingCapturer{err: errors.New("target crashed")}
	m := NewManager(launcher, capturer, options(config.IsolationShared), nil)
	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	defer m.CloseRun(context.Background(), run)
	s, err := m.OpenScenario(context.Background(), run, "nav")
	require.NoError(t, err)

	assert.NoError(t, s.Navigate(context.Background(), home))
}

func TestTeardownRunsAfterCancellation(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := NewManager(launcher, nil, options(config.IsolationShared), nil)
	run, err := m.OpenRun(context.Background())
	require.NoError(t, err)
	s, err := m.OpenScenario(context.Background(), run, "cancelled")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Navigate(ctx, home))
	require.NoError(t, m.CloseRun(ctx, run))
	assert.True(t, s.IsClosed())
	assert.Contains(t, launcher.Events(), "close browser-1")

	_, err = m.OpenScenario(context.Background(), run, "late")
	assert.True(t, failures.Is(err, failures.SessionFailure))
}

func TestTeardownErrorsAreCombined(t *testing.T) {
	var order []string
	var s stack
	s.push("a", func() error { order = append(order, "a"); return errors.New("a broke") })
	s.push("b", func() error { order = append(order, "b"); return nil })
	s.push("c", func() error { order = append(order, "c"); return errors.New("c broke") })

	err := s.unwind(context.Background(), zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Contains(t, err.Error(), "a broke")
	assert.Contains(t, err.Error(), "c broke")
	assert.Zero(t, s.len())
}

func TestTeardownIsBounded(t *testing.T) {
	var s stack
	block := make(chan struct{})
	defer close(block)
	s.push("first", func() error { return nil })
	s.push("stuck", func() error { <-block; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.unwind(ctx, zap.NewNop())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, s.len())
}
