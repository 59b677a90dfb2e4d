package steps

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/failures"
)

// RegisterGoogleHandlers registers the Google search steps.
func RegisterGoogleHandlers(reg *Registry) {
	reg.Register(`I navigate to Google`, handleOpenGoogle)
	reg.Register(`I search for "([^"]*)"`, handleSearch)
	reg.Register(`I should see search results displayed`, handleResultsDisplayed)
	reg.Register(`the page title should contain "([^"]*)"`, handleTitleContains)
	reg.Register(`I should see at least (\d+) search results?`, handleResultCount)
	reg.Register(`the search results should meet the validation criteria`, handleValidationCriteria)
}

func handleOpenGoogle(ctx context.Context, sc *Context, _ []string) error {
	return sc.Google().Open(ctx)
}

func handleSearch(ctx context.Context, sc *Context, args []string) error {
	keyword := args[0]
	if kw := sc.serviceValue(ctx, "search_keyword", "keyword"); kw != "" {
		sc.Logger.Info("using orchestrated keyword", zap.String("keyword", kw), zap.String("requested", keyword))
		keyword = kw
	}
	if err := sc.Google().Search(ctx, keyword); err != nil {
		return err
	}
	sc.Vars["search_keyword"] = keyword
	return nil
}

func handleResultsDisplayed(ctx context.Context, sc *Context, _ []string) error {
	displayed, err := sc.Google().ResultsDisplayed(ctx)
	if err != nil {
		return err
	}
	keyword := sc.Vars["search_keyword"]
	if keyword == "" {
		keyword = "unknown"
	}
	sc.report("verify_search_results", displayed, map[string]interface{}{
		"results_displayed": displayed,
		"keyword":           keyword,
	})
	if !displayed {
		return failures.New(failures.StepFailure, "verify search results", "search results are not displayed")
	}
	return nil
}

func handleTitleContains(ctx context.Context, sc *Context, args []string) error {
	title, err := sc.Google().Title(ctx)
	if err != nil {
		return err
	}
	expected := args[0]
	if want := sc.serviceValue(ctx, "validation_criteria", "title_contains"); want != "" {
		sc.Logger.Info("using orchestrated validation criteria", zap.String("title_contains", want))
		expected = want
	}
	contains := strings.Contains(strings.ToLower(title), strings.ToLower(expected))
	sc.report("verify_page_title", contains, map[string]interface{}{
		"page_title":    title,
		"expected_text": expected,
		"contains":      contains,
	})
	if !contains {
		return failures.New(failures.StepFailure, "verify page title", "page title %q does not contain %q", title, expected)
	}
	return nil
}

func handleResultCount(ctx context.Context, sc *Context, args []string) error {
	want, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid result count %q", args[0])
	}
	got, err := sc.Google().ResultCount(ctx)
	if err != nil {
		return err
	}
	if got < want {
		return failures.New(failures.StepFailure, "verify result count", "expected at least %d search results, found %d", want, got)
	}
	return nil
}

// handleValidationCriteria checks min_results from validation_criteria.
// The client falls back to local defaults when orchestration is down.
func handleValidationCriteria(ctx context.Context, sc *Context, _ []string) error {
	var criteria map[string]interface{}
	if sc.Orchestration != nil {
		criteria = sc.Orchestration.FetchDynamicData(ctx, "validation_criteria")
	} else {
		criteria = sc.Data.ValidationCriteria()
	}
	return handleResultCount(ctx, sc, []string{strconv.Itoa(getInt(criteria, "min_results", 1))})
}
