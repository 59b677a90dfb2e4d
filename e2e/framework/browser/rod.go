package browser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RodLauncher drives Chromium-family browsers over the DevTools protocol.
type RodLauncher struct {
	Logger *zap.Logger
}

// NewRodLauncher returns a launcher backed by go-rod.
func NewRodLauncher(logger *zap.Logger) *RodLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodLauncher{Logger: logger}
}

// Launch starts a browser, or attaches to opts.DebuggerURL when set.
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if !Supported(opts.Kind) {
		return nil, fmt.Errorf("browser %q is not supported by the rod backend", opts.Kind)
	}

	var lnch *launcher.Launcher
	controlURL := strings.TrimSpace(opts.DebuggerURL)
	if controlURL == "" {
		lnch = launcher.New().Context(ctx).Headless(opts.Headless).Leakless(false)
		if opts.Bin != "" {
			lnch = lnch.Bin(opts.Bin)
		}
		u, err := lnch.Launch()
		if err != nil {
			return nil, errors.Wrap(err, "launch browser")
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, errors.Wrap(err, "connect to browser")
	}
	l.Logger.Info("browser started", zap.String("kind", opts.Kind), zap.Bool("headless", opts.Headless), zap.Bool("attached", lnch == nil))
	// The connection must outlive the launch context.
	return &rodBrowser{browser: b.Context(context.Background()), launcher: lnch}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *rodBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, errors.Wrap(err, "create browser context")
	}
	return &rodContext{browser: incognito.Context(context.Background()), opts: opts}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	return err
}

type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, errors.Wrap(err, "create page")
	}
	page = page.Context(context.Background())
	if c.opts.ViewportWidth > 0 && c.opts.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             c.opts.ViewportWidth,
			Height:            c.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			_ = page.Close()
			return nil, errors.Wrap(err, "set viewport")
		}
	}
	if c.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.opts.UserAgent}); err != nil {
			_ = page.Close()
			return nil, errors.Wrap(err, "set user agent")
		}
	}
	timeout := c.opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navTimeout := c.opts.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = timeout
	}
	return &rodPage{page: page, timeout: timeout, navTimeout: navTimeout}, nil
}

func (c *rodContext) Close() error {
	return c.browser.Close()
}

type rodPage struct {
	page       *rod.Page
	timeout    time.Duration
	navTimeout time.Duration
	closed     atomic.Bool
}

func (p *rodPage) bound(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.timeout)
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Navigate(url); err != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	if err := page.WaitLoad(); err != nil {
		return errors.Wrapf(err, "wait for %s to load", url)
	}
	return nil
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", selector)
	}
	return el, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return errors.Wrapf(el.Click(proto.InputMouseButtonLeft, 1), "click %s", selector)
}

func (p *rodPage) Fill(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return errors.Wrapf(err, "clear %s", selector)
	}
	return errors.Wrapf(el.Input(text), "fill %s", selector)
}

func (p *rodPage) Press(ctx context.Context, selector, key string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	k, ok := keys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return errors.Wrapf(el.Type(k), "press %s on %s", key, selector)
}

var keys = map[string]input.Key{
	"enter":     input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"backspace": input.Backspace,
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.element(ctx, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	return text, errors.Wrapf(err, "read text of %s", selector)
}

func (p *rodPage) Texts(ctx context.Context, selector string) ([]string, error) {
	els, err := p.bound(ctx).Elements(selector)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", selector)
	}
	texts := make([]string, 0, len(els))
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (p *rodPage) Visible(ctx context.Context, selector string) (bool, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil || !has {
		return false, err
	}
	return el.Visible()
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return errors.Wrapf(el.WaitVisible(), "wait for %s", selector)
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.bound(ctx).Info()
	if err != nil {
		return "", errors.Wrap(err, "page info")
	}
	return info.Title, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.bound(ctx).Info()
	if err != nil {
		return "", errors.Wrap(err, "page info")
	}
	return info.URL, nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if p.IsClosed() {
		return nil, fmt.Errorf("page is closed")
	}
	return p.bound(ctx).Screenshot(fullPage, nil)
}

func (p *rodPage) IsClosed() bool {
	return p.closed.Load()
}

func (p *rodPage) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.page.Close()
}
