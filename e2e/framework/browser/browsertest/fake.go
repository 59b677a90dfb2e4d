// Package browsertest provides an in-memory browser for tests.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
)

// Document is what the fake renders for a URL. Each selector maps to the
// texts of the visible elements it matches.
type Document struct {
	Title    string
	Elements map[string][]string
}

// SubmitFunc decides where pressing Enter in selector leads.
type SubmitFunc func(currentURL, selector, value string) (string, bool)

// Site routes URLs to documents.
type Site struct {
	mu     sync.Mutex
	routes map[string]Document
	submit SubmitFunc
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{routes: map[string]Document{}}
}

// Route serves doc for url. A trailing slash is ignored.
func (s *Site) Route(url string, doc Document) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[normalize(url)] = doc
	return s
}

// OnSubmit sets the Enter key handler.
func (s *Site) OnSubmit(fn SubmitFunc) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submit = fn
	return s
}

func (s *Site) resolve(url string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.routes[normalize(url)]
	return doc, ok
}

func (s *Site) onSubmit(current, selector, value string) (string, bool) {
	s.mu.Lock()
	fn := s.submit
	s.mu.Unlock()
	if fn == nil {
		return "", false
	}
	return fn(current, selector, value)
}

func normalize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

// Launcher is a browser.Launcher whose browsers render a Site.
type Launcher struct {
	Site *Site

	// LaunchFailures, ContextFailures and PageFailures fail that many calls
	// before succeeding.
	LaunchFailures  int
	ContextFailures int
	PageFailures    int
	ScreenshotErr   error
	NavigateDelay   time.Duration
	CloseErr        error

	// ScreenshotFailures fails the Nth screenshot (1-based, counted across
	// every page of the launcher) with the mapped error.
	ScreenshotFailures map[int]error

	mu          sync.Mutex
	events      []string
	launches    int
	contexts    int
	screenshots int
	pages       []*Page
}

// NewLauncher returns a launcher serving site.
func NewLauncher(site *Site) *Launcher {
	if site == nil {
		site = NewSite()
	}
	return &Launcher{Site: site}
}

func (l *Launcher) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *Launcher) nextScreenshot() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screenshots++
	return l.ScreenshotFailures[l.screenshots]
}

// Events returns the lifecycle events seen so far, e.g. "open page-1".
func (l *Launcher) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Pages returns every page opened so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !browser.Supported(opts.Kind) {
		return nil, fmt.Errorf("browser %q is not supported", opts.Kind)
	}
	l.mu.Lock()
	if l.LaunchFailures > 0 {
		l.LaunchFailures--
		l.mu.Unlock()
		return nil, fmt.Errorf("launch failed")
	}
	l.launches++
	id := fmt.Sprintf("browser-%d", l.launches)
	l.mu.Unlock()
	l.record("launch " + id)
	return &Browser{id: id, launcher: l}, nil
}

// Browser is a fake browser process.
type Browser struct {
	id       string
	launcher *Launcher
}

// NewContext implements browser.Browser.
func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	l := b.launcher
	l.mu.Lock()
	if l.ContextFailures > 0 {
		l.ContextFailures--
		l.mu.Unlock()
		return nil, fmt.Errorf("context creation failed")
	}
	l.contexts++
	id := fmt.Sprintf("context-%d", l.contexts)
	l.mu.Unlock()
	l.record("open " + id)
	return &Context{id: id, launcher: l, opts: opts}, nil
}

// Close implements browser.Browser.
func (b *Browser) Close() error {
	b.launcher.record("close " + b.id)
	return b.launcher.CloseErr
}

// Context is a fake browsing context.
type Context struct {
	id       string
	launcher *Launcher
	opts     browser.ContextOptions
}

// NewPage implements browser.Context.
func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	l := c.launcher
	l.mu.Lock()
	if l.PageFailures > 0 {
		l.PageFailures--
		l.mu.Unlock()
		return nil, fmt.Errorf("page creation failed")
	}
	page := &Page{id: fmt.Sprintf("page-%d", len(l.pages)+1), launcher: l, values: map[string]string{}, url: "about:blank"}
	l.pages = append(l.pages, page)
	l.mu.Unlock()
	l.record("open " + page.id)
	return page, nil
}

// Close implements browser.Context.
func (c *Context) Close() error {
	c.launcher.record("close " + c.id)
	return nil
}

// Page is a fake tab rendering Site documents.
type Page struct {
	id       string
	launcher *Launcher

	mu          sync.Mutex
	url         string
	doc         Document
	values      map[string]string
	closed      bool
	screenshots int
	navigations []string
}

// ID returns the page id used in events.
func (p *Page) ID() string { return p.id }

// Navigations returns every URL navigated to, including submits.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Screenshots returns how many screenshots were taken.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

// Value returns the text filled into selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return fmt.Errorf("page %s is closed", p.id)
	}
	return nil
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if delay := p.launcher.NavigateDelay; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigateLocked(ctx, url)
}

func (p *Page) navigateLocked(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	doc, ok := p.launcher.Site.resolve(url)
	if !ok {
		return fmt.Errorf("navigate to %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	p.url = url
	p.doc = doc
	p.values = map[string]string{}
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *Page) find(ctx context.Context, selector string) ([]string, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	texts, ok := p.doc.Elements[selector]
	if !ok {
		return nil, fmt.Errorf("element %s not found on %s", selector, p.url)
	}
	return texts, nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.find(ctx, selector)
	return err
}

// Fill implements browser.Page.
func (p *Page) Fill(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.find(ctx, selector); err != nil {
		return err
	}
	p.values[selector] = text
	return nil
}

// Press implements browser.Page. Enter submits through the Site.
func (p *Page) Press(ctx context.Context, selector, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.find(ctx, selector); err != nil {
		return err
	}
	if !strings.EqualFold(key, "enter") {
		return nil
	}
	next, ok := p.launcher.Site.onSubmit(p.url, selector, p.values[selector])
	if !ok {
		return nil
	}
	return p.navigateLocked(ctx, next)
}

// Text implements browser.Page.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts, err := p.find(ctx, selector)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", nil
	}
	return texts[0], nil
}

// Texts implements browser.Page.
func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), p.doc.Elements[selector]...), nil
}

// Visible implements browser.Page.
func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return false, err
	}
	_, ok := p.doc.Elements[selector]
	return ok, nil
}

// WaitVisible implements browser.Page.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.find(ctx, selector)
	return err
}

// Title implements browser.Page.
func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.doc.Title, nil
}

// URL implements browser.Page.
func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.url, nil
}

// Screenshot implements browser.Page. It returns a 1x1 PNG.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if err := p.launcher.ScreenshotErr; err != nil {
		return nil, err
	}
	if err := p.launcher.nextScreenshot(); err != nil {
		return nil, err
	}
	p.screenshots++
	return append([]byte(nil), pixel...), nil
}

// IsClosed implements browser.Page.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.launcher.record("close " + p.id)
	return nil
}

var pixel = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 0x28, G: 0xa7, B: 0x45, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()
