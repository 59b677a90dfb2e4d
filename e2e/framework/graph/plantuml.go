package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// PlantUMLGenerator renders PlantUML diagrams for a run.
type PlantUMLGenerator struct {
	graph *Graph
	run   results.RunReport
}

// NewPlantUMLGenerator creates a new PlantUML generator.
func NewPlantUMLGenerator(g *Graph, run results.RunReport) *PlantUMLGenerator {
	return &PlantUMLGenerator{graph: g, run: run}
}

// Diagrams returns every diagram keyed by a relative file name.
func (p *PlantUMLGenerator) Diagrams() map[string]string {
	out := map[string]string{
		"run_summary.puml":      p.GenerateRunSummaryDiagram(),
		"failure_analysis.puml": p.GenerateFailureAnalysisDiagram(),
	}
	for _, scenario := range p.run.Scenarios {
		if scenario.Status == results.StatusSkipped && len(scenario.Records) == 0 {
			continue
		}
		name := filepath.Join("scenarios", sanitizeID(scenario.ID)+".puml")
		out[name] = p.GenerateScenarioSequenceDiagram(scenario.ID)
	}
	return out
}

// GenerateScenarioSequenceDiagram shows each step of a scenario as a call from
// the runner to the browser, with the screenshots it produced.
func (p *PlantUMLGenerator) GenerateScenarioSequenceDiagram(scenarioID string) string {
	var scenario *results.ScenarioReport
	for i := range p.run.Scenarios {
		if p.run.Scenarios[i].ID == scenarioID {
			scenario = &p.run.Scenarios[i]
			break
		}
	}
	if scenario == nil {
		return fmt.Sprintf("@startuml\ntitle Scenario Not Found: %s\n@enduml\n", scenarioID)
	}

	var sb strings.Builder
	sb.WriteString("@startuml\n")
	sb.WriteString("skinparam sequenceMessageAlign center\n")
	sb.WriteString("skinparam responseMessageBelowArrow true\n\n")
	fmt.Fprintf(&sb, "title Scenario: %s\n\n", escape(scenario.Name))

	fmt.Fprintf(&sb, "participant \"Runner\" as Runner %s\n", statusColor(scenario.Status))
	sb.WriteString("participant \"Browser\" as Browser\n")
	sb.WriteString("database \"Evidence\" as Evidence\n\n")

	sb.WriteString("note over Runner\n")
	fmt.Fprintf(&sb, "  **Status**: %s\n", scenario.Status)
	fmt.Fprintf(&sb, "  **Duration**: %.2fs\n", scenario.Duration.Seconds())
	if scenario.Error != "" {
		fmt.Fprintf(&sb, "  **Error**: %s\n", escape(truncate(scenario.Error, 60)))
	}
	sb.WriteString("end note\n\n")

	for i, record := range scenario.Records {
		n := i + 1
		text := escape(truncate(strings.TrimSpace(record.Step.Keyword+" "+record.Step.Text), 70))
		switch record.Status {
		case results.StatusSkipped:
			fmt.Fprintf(&sb, "Runner -[#gray]> Runner: %d. %s (skipped)\n", n, text)
			continue
		case results.StatusFailed:
			fmt.Fprintf(&sb, "Runner -[#red]> Browser: %d. %s (%.1fs)\n", n, text, record.Duration.Seconds())
		default:
			fmt.Fprintf(&sb, "Runner -> Browser: %d. %s (%.1fs)\n", n, text, record.Duration.Seconds())
		}
		for _, artifact := range record.Artifacts {
			fmt.Fprintf(&sb, "Browser --> Evidence: %s %s\n", artifact.Kind, escape(filepath.Base(artifact.Path)))
		}
		if record.Status == results.StatusFailed && record.Detail != "" {
			sb.WriteString("note right of Browser #FFB6C6\n")
			fmt.Fprintf(&sb, "  **Step %d failed**\n", n)
			fmt.Fprintf(&sb, "  %s\n", escape(truncate(record.Detail, 80)))
			sb.WriteString("end note\n")
		}
	}

	sb.WriteString("@enduml\n")
	return sb.String()
}

// GenerateRunSummaryDiagram renders totals and the failed scenarios.
func (p *PlantUMLGenerator) GenerateRunSummaryDiagram() string {
	var sb strings.Builder
	summary := p.run.Summary

	sb.WriteString("@startuml\n")
	sb.WriteString("skinparam defaultTextAlignment center\n\n")
	fmt.Fprintf(&sb, "title Run %s\n\n", escape(p.run.RunID))

	sb.WriteString("rectangle \"Run\" #LightBlue {\n")
	fmt.Fprintf(&sb, "  rectangle \"**Total**: %d scenarios\" as total\n", summary.Total)
	fmt.Fprintf(&sb, "  rectangle \"**Passed**: %d (%.1f%%)\" as pass %s\n", summary.Passed, summary.PassRate, statusColor(results.StatusPassed))
	fmt.Fprintf(&sb, "  rectangle \"**Failed**: %d\" as fail %s\n", summary.Failed, statusColor(results.StatusFailed))
	fmt.Fprintf(&sb, "  rectangle \"**Skipped**: %d\" as skip %s\n", summary.Skipped, statusColor(results.StatusSkipped))
	fmt.Fprintf(&sb, "  rectangle \"**Duration**: %.1fs\" as dur\n", p.run.Duration.Seconds())
	sb.WriteString("}\n\n")

	var failed []results.ScenarioReport
	for _, scenario := range p.run.Scenarios {
		if scenario.Status == results.StatusFailed {
			failed = append(failed, scenario)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "rectangle \"Failed Scenarios\" %s {\n", statusColor(results.StatusFailed))
		for i, scenario := range failed {
			if i == 10 {
				fmt.Fprintf(&sb, "  rectangle \"... and %d more\" as fail_more\n", len(failed)-10)
				break
			}
			fmt.Fprintf(&sb, "  rectangle \"%s\\n(%.1fs)\" as fail_%d\n", escape(truncate(scenario.Name, 40)), scenario.Duration.Seconds(), i)
		}
		sb.WriteString("}\n\n")
	}

	sb.WriteString("@enduml\n")
	return sb.String()
}

// GenerateFailureAnalysisDiagram groups failed scenarios by error category.
func (p *PlantUMLGenerator) GenerateFailureAnalysisDiagram() string {
	var sb strings.Builder
	sb.WriteString("@startuml\n")
	sb.WriteString("title Failure Analysis\n\n")

	categories := Categories(p.graph)
	if len(categories) == 0 {
		sb.WriteString("note \"No failures\" as N1\n")
		sb.WriteString("@enduml\n")
		return sb.String()
	}
	for _, entry := range categories {
		patternID := "error_pattern:" + entry.Category
		fmt.Fprintf(&sb, "package \"%s (%d)\" as %s #FFB6C6 {\n", entry.Category, entry.Count, sanitizeID(patternID))
		for _, node := range p.graph.Nodes {
			if node.Type != "failure_analysis" || node.Attributes["error_category"] != entry.Category {
				continue
			}
			fmt.Fprintf(&sb, "  rectangle \"%s\" as %s\n", escape(truncate(node.Label, 50)), sanitizeID(node.ID))
		}
		sb.WriteString("}\n\n")
	}
	sb.WriteString("@enduml\n")
	return sb.String()
}

func statusColor(status results.Status) string {
	switch status {
	case results.StatusPassed:
		return "#90EE90"
	case results.StatusFailed:
		return "#FFB6C6"
	default:
		return "#FFF3B0"
	}
}

func sanitizeID(id string) string {
	return strings.NewReplacer(":", "_", "-", "_", ".", "_", " ", "_", "/", "_", "#", "_").Replace(id)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
