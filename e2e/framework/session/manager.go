// Package session owns browser, context and page lifetimes for a run and its
// scenarios. Every resource opened here is released in reverse order on every
// exit path, including cancellation of the caller's context.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/capture"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// Capturer takes screenshots on behalf of sessions.
type Capturer interface {
	Capture(ctx context.Context, page capture.Screenshotter, kind results.ArtifactKind, label string, fullPage bool) (results.Artifact, error)
}

// Options configure a Manager.
type Options struct {
	Launch            browser.LaunchOptions
	Context           browser.ContextOptions
	Isolation         string
	RetryCount        int
	RetryBackoff      time.Duration
	TeardownTimeout   time.Duration
	NavigationCapture bool
	FullPage          bool
}

// OptionsFromConfig maps run configuration onto manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Launch: browser.LaunchOptions{
			Kind:        cfg.Browser,
			Bin:         cfg.BrowserBin,
			Headless:    cfg.Headless,
			DebuggerURL: cfg.DebuggerURL,
		},
		Context: browser.ContextOptions{
			ViewportWidth:     cfg.ViewportWidth,
			ViewportHeight:    cfg.ViewportHeight,
			UserAgent:         cfg.UserAgent,
			DefaultTimeout:    cfg.DefaultTimeout,
			NavigationTimeout: cfg.NavigationTimeout,
		},
		Isolation:         cfg.Isolation,
		RetryCount:        cfg.RetryCount,
		RetryBackoff:      500 * time.Millisecond,
		TeardownTimeout:   cfg.TeardownTimeout,
		NavigationCapture: cfg.NavigationCapture,
		FullPage:          cfg.FullPageScreenshots,
	}
}

// Snapshot is the configuration a session was created with.
type Snapshot struct {
	Browser        string        `json:"browser"`
	Headless       bool          `json:"headless"`
	ViewportWidth  int           `json:"viewport_width"`
	ViewportHeight int           `json:"viewport_height"`
	Timeout        time.Duration `json:"timeout"`
	Isolation      string        `json:"isolation"`
}

// Manager opens and closes runs and scenario sessions.
type Manager struct {
	launcher browser.Launcher
	capturer Capturer
	opts     Options
	logger   *zap.Logger
}

// NewManager returns a Manager. capturer may be nil to disable navigation
// captures entirely.
func NewManager(launcher browser.Launcher, capturer Capturer, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Isolation == "" {
		opts.Isolation = config.IsolationShared
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 30 * time.Second
	}
	return &Manager{
		launcher: launcher,
		capturer: capturer,
		opts:     opts,
		logger:   logger.With(zap.String("component", "session")),
	}
}

// RunContext holds run-scoped resources.
type RunContext struct {
	ID        string
	StartedAt time.Time

	browser   browser.Browser
	launchErr error
	resources stack

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

// Browser returns the shared browser, or nil under per-scenario isolation.
func (r *RunContext) Browser() browser.Browser {
	return r.browser
}

// Open returns the number of scenario sessions not yet closed.
func (r *RunContext) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if !s.closed.Load() {
			n++
		}
	}
	return n
}

// OpenRun starts the run. Under shared isolation the browser is launched
// here; if that fails the error is returned and every later OpenScenario on
// this run fails with a SessionFailure, so each scenario reports it.
func (m *Manager) OpenRun(ctx context.Context) (*RunContext, error) {
	run := &RunContext{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	if m.opts.Isolation != config.IsolationShared {
		m.logger.Info("run opened", zap.String("run", run.ID), zap.String("isolation", m.opts.Isolation))
		return run, nil
	}
	var b browser.Browser
	err := m.retry(ctx, "launch browser", func() error {
		var err error
		b, err = m.launcher.Launch(ctx, m.opts.Launch)
		return err
	})
	if err != nil {
		run.launchErr = failures.Wrap(failures.SessionFailure, "open run", err)
		return run, run.launchErr
	}
	run.browser = b
	run.resources.push("browser", b.Close)
	m.logger.Info("run opened", zap.String("run", run.ID), zap.String("isolation", m.opts.Isolation), zap.String("browser", m.opts.Launch.Kind))
	return run, nil
}

// OpenScenario creates a context and page for scenario, retrying creation up
// to RetryCount times. Failures are SessionFailure.
func (m *Manager) OpenScenario(ctx context.Context, run *RunContext, scenario string) (*Session, error) {
	if run == nil {
		return nil, failures.New(failures.SessionFailure, "open scenario", "run is not open")
	}
	run.mu.Lock()
	closed := run.closed
	run.mu.Unlock()
	if closed {
		return nil, failures.New(failures.SessionFailure, "open scenario", "run %s is closed", run.ID)
	}
	if run.launchErr != nil {
		return nil, failures.Wrap(failures.SessionFailure, "open scenario", run.launchErr)
	}

	s := &Session{
		ID:       uuid.NewString(),
		Scenario: scenario,
		Config: Snapshot{
			Browser:        m.opts.Launch.Kind,
			Headless:       m.opts.Launch.Headless,
			ViewportWidth:  m.opts.Context.ViewportWidth,
			ViewportHeight: m.opts.Context.ViewportHeight,
			Timeout:        m.opts.Context.DefaultTimeout,
			Isolation:      m.opts.Isolation,
		},
		manager: m,
		run:     run,
	}
	err := m.retry(ctx, "open scenario session", func() error {
		return m.acquire(ctx, run, s)
	})
	if err != nil {
		return nil, failures.Wrap(failures.SessionFailure, "open scenario", err)
	}

	run.mu.Lock()
	run.sessions = append(run.sessions, s)
	run.mu.Unlock()
	m.logger.Info("scenario session opened", zap.String("scenario", scenario), zap.String("session", s.ID))
	return s, nil
}

// acquire opens browser (per-scenario only), context and page. On failure
// the resources acquired so far are released before returning.
func (m *Manager) acquire(ctx context.Context, run *RunContext, s *Session) error {
	b := run.browser
	if b == nil {
		launched, err := m.launcher.Launch(ctx, m.opts.Launch)
		if err != nil {
			return err
		}
		b = launched
		s.resources.push("browser", b.Close)
	}
	bctx, err := b.NewContext(ctx, m.opts.Context)
	if err != nil {
		m.release(ctx, &s.resources)
		return err
	}
	s.resources.push("context", bctx.Close)
	page, err := bctx.NewPage(ctx)
	if err != nil {
		m.release(ctx, &s.resources)
		return err
	}
	s.resources.push("page", page.Close)
	s.Page = page
	return nil
}

func (m *Manager) retry(ctx context.Context, what string, fn func() error) error {
	var errs error
	for attempt := 0; attempt <= m.opts.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		m.logger.Warn(what+" failed", zap.Int("attempt", attempt+1), zap.Int("max_attempts", m.opts.RetryCount+1), zap.Error(err))
		if attempt < m.opts.RetryCount && m.opts.RetryBackoff > 0 {
			select {
			case <-time.After(m.opts.RetryBackoff):
			case <-ctx.Done():
				return multierr.Append(errs, ctx.Err())
			}
		}
	}
	return errs
}

// Navigate loads url in the scenario page and captures a navigation
// screenshot unless disabled.
func (m *Manager) Navigate(ctx context.Context, s *Session, url string) error {
	return s.Navigate(ctx, url)
}

// CloseScenario releases the scenario's page, context and browser (if it
// owns one). It is safe to call more than once and runs even when ctx is
// already cancelled.
func (m *Manager) CloseScenario(ctx context.Context, s *Session) error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	err := m.release(ctx, &s.resources)
	if err != nil {
		err = failures.Wrap(failures.SessionFailure, "close scenario", err)
	}
	m.logger.Info("scenario session closed", zap.String("scenario", s.Scenario), zap.String("session", s.ID), zap.Bool("clean", err == nil))
	return err
}

// CloseRun closes scenario sessions still open, newest first, then the shared
// browser.
func (m *Manager) CloseRun(ctx context.Context, run *RunContext) error {
	if run == nil {
		return nil
	}
	run.mu.Lock()
	if run.closed {
		run.mu.Unlock()
		return nil
	}
	run.closed = true
	sessions := run.sessions
	run.mu.Unlock()

	var errs error
	for i := len(sessions) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, m.CloseScenario(ctx, sessions[i]))
	}
	if err := m.release(ctx, &run.resources); err != nil {
		errs = multierr.Append(errs, failures.Wrap(failures.SessionFailure, "close run", err))
	}
	m.logger.Info("run closed", zap.String("run", run.ID), zap.Duration("duration", time.Since(run.StartedAt)))
	return errs
}

func (m *Manager) release(ctx context.Context, resources *stack) error {
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.TeardownTimeout)
	defer cancel()
	return resources.unwind(teardownCtx, m.logger)
}

// Session is one scenario's page. It embeds the page so steps drive it
// directly; Navigate additionally captures navigation evidence.
type Session struct {
	browser.Page

	ID       string
	Scenario string
	Config   Snapshot

	manager   *Manager
	run       *RunContext
	resources stack
	closed    atomic.Bool

	mu         sync.Mutex
	onArtifact func(results.Artifact)
}

// OnArtifact sets the sink for navigation captures.
func (s *Session) OnArtifact(fn func(results.Artifact)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onArtifact = fn
}

// Navigate loads url. A navigation capture follows a successful load; a
// failed capture is logged by the capturer and does not fail navigation.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.IsClosed() {
		return failures.New(failures.SessionFailure, "navigate", "session %s is closed", s.ID)
	}
	if err := s.Page.Navigate(ctx, url); err != nil {
		return err
	}
	m := s.manager
	if !m.opts.NavigationCapture || m.capturer == nil {
		return nil
	}
	artifact, err := m.capturer.Capture(ctx, s.Page, results.KindNavigation, capture.NavigationLabel(url), m.opts.FullPage)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	sink := s.onArtifact
	s.mu.Unlock()
	if sink != nil {
		sink(artifact)
	}
	return nil
}

// IsClosed reports whether the session or its page has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load() || s.Page == nil || s.Page.IsClosed()
}

// Close releases the session through its manager.
func (s *Session) Close() error {
	return s.manager.CloseScenario(context.Background(), s)
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.ID, s.Scenario)
}
