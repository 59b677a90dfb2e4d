package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// Error categories assigned to failed scenarios.
const (
	CategoryElementNotFound = "ElementNotFound"
	CategoryTimeout         = "Timeout"
	CategoryNavigation      = "NavigationError"
	CategoryAssertion       = "AssertionFailed"
	CategoryUndefinedStep   = "UndefinedStep"
	CategorySession         = "SessionError"
	CategoryOrchestration   = "OrchestrationError"
	CategoryCapture         = "CaptureError"
	CategoryUnknown         = "Unknown"
)

// categoryPatterns is checked in order; the first match wins.
var categoryPatterns = []struct {
	category string
	patterns []string
}{
	{CategoryUndefinedStep, []string{"undefined step"}},
	{CategorySession, []string{"sessionfailure", "launch browser", "browser closed", "target closed"}},
	{CategoryOrchestration, []string{"orchestrationunavailable", "orchestration"}},
	{CategoryCapture, []string{"capturefailure", "screenshot"}},
	{CategoryTimeout, []string{"deadline exceeded", "timeout", "timed out", "context canceled"}},
	{CategoryElementNotFound, []string{"no element", "element not found", "selector", "not visible", "cannot find"}},
	{CategoryNavigation, []string{"navigate", "net::err", "dns", "connection refused", "no route"}},
	{CategoryAssertion, []string{"expected", "should", "to contain", "assert"}},
}

// CategorizeError assigns a failure category to an error message.
func CategorizeError(errorMsg string) string {
	lower := strings.ToLower(errorMsg)
	if lower == "" {
		return CategoryUnknown
	}
	for _, entry := range categoryPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(lower, pattern) {
				return entry.category
			}
		}
	}
	return CategoryUnknown
}

// DetermineSeverity rates a category; smoke-tagged scenarios are never
// below high.
func DetermineSeverity(category string, tags []string) string {
	switch category {
	case CategorySession, CategoryUndefinedStep:
		return "critical"
	case CategoryNavigation, CategoryTimeout:
		return "high"
	}
	for _, tag := range tags {
		if strings.TrimPrefix(tag, "@") == "smoke" {
			return "high"
		}
	}
	return "medium"
}

// FailureAnalysis describes why a scenario failed.
type FailureAnalysis struct {
	Scenario      string   `json:"scenario"`
	FailureStep   string   `json:"failure_step"`
	ErrorMessage  string   `json:"error_message"`
	ErrorCategory string   `json:"error_category"`
	Severity      string   `json:"severity"`
	Screenshots   []string `json:"screenshots,omitempty"`
}

// AnalyzeScenario finds the first failed step of a scenario and the
// screenshots taken for it.
func AnalyzeScenario(scenario results.ScenarioReport) FailureAnalysis {
	analysis := FailureAnalysis{Scenario: scenario.Name, ErrorMessage: scenario.Error}
	for _, record := range scenario.Records {
		if record.Status != results.StatusFailed {
			continue
		}
		analysis.FailureStep = record.Step.Text
		if record.Detail != "" {
			analysis.ErrorMessage = record.Detail
		}
		for _, artifact := range record.Artifacts {
			analysis.Screenshots = append(analysis.Screenshots, artifact.Path)
		}
		break
	}
	analysis.ErrorCategory = CategorizeError(analysis.ErrorMessage)
	analysis.Severity = DetermineSeverity(analysis.ErrorCategory, scenario.Tags)
	return analysis
}

// AddFailureAnalysis links an analysis node and its error pattern to the
// scenario node.
func AddFailureAnalysis(g *Graph, scenarioID string, analysis FailureAnalysis) {
	analysisID := fmt.Sprintf("failure_analysis:%s", strings.TrimPrefix(scenarioID, "scenario:"))
	patternID := "error_pattern:" + analysis.ErrorCategory

	g.AddNode(Node{ID: analysisID, Type: "failure_analysis", Label: analysis.FailureStep, Attributes: map[string]interface{}{
		"error_category": analysis.ErrorCategory,
		"error_message":  analysis.ErrorMessage,
		"severity":       analysis.Severity,
	}})
	g.AddNode(Node{ID: patternID, Type: "error_pattern", Label: analysis.ErrorCategory})
	g.AddEdge(Edge{From: scenarioID, To: analysisID, Type: "HAS_FAILURE_ANALYSIS"})
	g.AddEdge(Edge{From: analysisID, To: patternID, Type: "MATCHES_PATTERN"})
	for _, path := range analysis.Screenshots {
		g.AddEdge(Edge{From: analysisID, To: "artifact:" + path, Type: "EVIDENCED_BY"})
	}
}

// Categories counts failure categories across the graph, most frequent
// first.
func Categories(g *Graph) []CategoryCount {
	counts := map[string]int{}
	for _, node := range g.Nodes {
		if node.Type != "failure_analysis" {
			continue
		}
		if category, ok := node.Attributes["error_category"].(string); ok {
			counts[category]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for category, count := range counts {
		out = append(out, CategoryCount{Category: category, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// CategoryCount is one entry of Categories.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
