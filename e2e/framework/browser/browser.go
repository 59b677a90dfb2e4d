// Package browser defines the web-automation surface used by scenarios and
// its go-rod backend.
package browser

import (
	"context"
	"time"
)

// Kinds of browser a Launcher may be asked for.
const (
	KindChromium = "chromium"
	KindChrome   = "chrome"
	KindEdge     = "edge"
	KindFirefox  = "firefox"
	KindWebKit   = "webkit"
)

// LaunchOptions select and start a browser process.
type LaunchOptions struct {
	Kind        string
	Bin         string
	Headless    bool
	DebuggerURL string
}

// ContextOptions configure an isolated browsing context.
type ContextOptions struct {
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated set of cookies and storage.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	Text(ctx context.Context, selector string) (string, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	IsClosed() bool
	Close() error
}

// Supported reports whether the go-rod backend can drive kind.
func Supported(kind string) bool {
	switch kind {
	case "", KindChromium, KindChrome, KindEdge:
		return true
	default:
		return false
	}
}
