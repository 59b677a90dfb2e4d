// Package pagestest serves an in-memory Google for page and step tests.
package pagestest

import (
	"net/url"
	"strings"

	"github.com/splunk/browser-e2e/e2e/framework/browser/browsertest"
	"github.com/splunk/browser-e2e/e2e/framework/pages"
)

// GoogleSite returns a site with a home page and a result page per keyword.
// Keywords absent from results lead to an empty result page whose URL still
// carries the query.
func GoogleSite(results map[string][]string) *browsertest.Site {
	site := browsertest.NewSite().Route(pages.DefaultGoogleURL, browsertest.Document{
		Title: "Google",
		Elements: map[string][]string{
			pages.SearchBox: {""},
		},
	})
	for keyword, titles := range results {
		site.Route(SearchURL(keyword), browsertest.Document{
			Title: keyword + " - Google Search",
			Elements: map[string][]string{
				pages.SearchBox:    {keyword},
				pages.ResultTitles: titles,
			},
		})
	}
	site.OnSubmit(func(current, selector, value string) (string, bool) {
		if selector != pages.SearchBox || strings.TrimSpace(value) == "" {
			return "", false
		}
		target := SearchURL(value)
		if _, ok := results[value]; !ok {
			site.Route(target, browsertest.Document{
				Title:    value + " - Google Search",
				Elements: map[string][]string{pages.SearchBox: {value}},
			})
		}
		return target, true
	})
	return site
}

// SearchURL is where submitting keyword leads.
func SearchURL(keyword string) string {
	return pages.DefaultGoogleURL + "/search?q=" + url.QueryEscape(keyword)
}

// WithConsent adds a cookie banner to the home page.
func WithConsent(site *browsertest.Site) *browsertest.Site {
	return site.Route(pages.DefaultGoogleURL, browsertest.Document{
		Title: "Google",
		Elements: map[string][]string{
			pages.SearchBox:     {""},
			pages.CookieConsent: {"Accept all"},
		},
	})
}
