// Package graph turns a run report into a node/edge graph of runs,
// scenarios, steps and screenshots, and exports it as JSON, PlantUML or to
// Neo4j.
package graph

import (
	"fmt"
	"strings"

	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// Node types.
const (
	TypeRun      = "run"
	TypeFeature  = "feature"
	TypeScenario = "scenario"
	TypeTag      = "tag"
	TypeStep     = "step"
	TypeArtifact = "artifact"
	TypeBrowser  = "browser"
)

// Node represents a graph node.
type Node struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Label      string                 `json:"label,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Edge represents a graph edge.
type Edge struct {
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Graph is a lightweight knowledge graph for run evidence.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	index map[string]int
}

// AddNode adds a node to the graph if it does not exist.
func (g *Graph) AddNode(node Node) {
	if g.index == nil {
		g.index = make(map[string]int, len(g.Nodes))
		for i, existing := range g.Nodes {
			g.index[existing.ID] = i
		}
	}
	if _, ok := g.index[node.ID]; ok {
		return
	}
	g.index[node.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, node)
}

// AddEdge adds an edge to the graph.
func (g *Graph) AddEdge(edge Edge) {
	g.Edges = append(g.Edges, edge)
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// Outgoing returns edges leaving id, optionally restricted to edgeType.
func (g *Graph) Outgoing(id, edgeType string) []Edge {
	var edges []Edge
	for _, edge := range g.Edges {
		if edge.From == id && (edgeType == "" || edge.Type == edgeType) {
			edges = append(edges, edge)
		}
	}
	return edges
}

// Build creates the graph for run. env is attached to the run node and may
// carry "browser" and "isolation".
func Build(run results.RunReport, env map[string]string) *Graph {
	g := &Graph{}
	runID := RunNodeID(run.RunID)
	runAttrs := map[string]interface{}{
		"total":     run.Summary.Total,
		"passed":    run.Summary.Passed,
		"failed":    run.Summary.Failed,
		"skipped":   run.Summary.Skipped,
		"pass_rate": run.Summary.PassRate,
		"start":     run.StartTime,
	}
	for key, value := range env {
		runAttrs[key] = value
	}
	g.AddNode(Node{ID: runID, Type: TypeRun, Label: run.RunID, Attributes: runAttrs})

	browserID := ""
	if name := env["browser"]; name != "" {
		browserID = "browser:" + name
		g.AddNode(Node{ID: browserID, Type: TypeBrowser, Label: name})
	}

	for _, scenario := range run.Scenarios {
		scenarioID := ScenarioNodeID(run.RunID, scenario.ID)
		g.AddNode(Node{ID: scenarioID, Type: TypeScenario, Label: scenario.Name, Attributes: map[string]interface{}{
			"status":    string(scenario.Status),
			"duration":  scenario.Duration.Seconds(),
			"error":     scenario.Error,
			"source_id": scenario.ID,
		}})
		g.AddEdge(Edge{From: runID, To: scenarioID, Type: "HAS_SCENARIO"})
		if browserID != "" {
			g.AddEdge(Edge{From: scenarioID, To: browserID, Type: "RUNS_ON"})
		}
		if scenario.Feature != "" {
			featureID := "feature:" + scenario.Feature
			g.AddNode(Node{ID: featureID, Type: TypeFeature, Label: scenario.Feature})
			g.AddEdge(Edge{From: scenarioID, To: featureID, Type: "IN_FEATURE"})
		}
		for _, tag := range scenario.Tags {
			tagID := "tag:" + strings.TrimPrefix(tag, "@")
			g.AddNode(Node{ID: tagID, Type: TypeTag, Label: tag})
			g.AddEdge(Edge{From: scenarioID, To: tagID, Type: "TAGGED"})
		}

		previous := ""
		for _, record := range scenario.Records {
			stepID := StepNodeID(record.Step)
			g.AddNode(Node{ID: stepID, Type: TypeStep, Label: strings.TrimSpace(record.Step.Keyword + " " + record.Step.Text), Attributes: map[string]interface{}{
				"status":   string(record.Status),
				"action":   record.Step.Text,
				"index":    record.Step.Index,
				"detail":   record.Detail,
				"duration": record.Duration.Seconds(),
			}})
			g.AddEdge(Edge{From: scenarioID, To: stepID, Type: "HAS_STEP"})
			if previous != "" {
				g.AddEdge(Edge{From: previous, To: stepID, Type: "NEXT"})
			}
			previous = stepID

			for _, artifact := range record.Artifacts {
				artifactID := "artifact:" + artifact.Path
				g.AddNode(Node{ID: artifactID, Type: TypeArtifact, Label: artifact.Label, Attributes: map[string]interface{}{
					"path":        artifact.Path,
					"kind":        string(artifact.Kind),
					"captured_at": artifact.CapturedAt,
				}})
				g.AddEdge(Edge{From: stepID, To: artifactID, Type: "PRODUCED"})
			}
		}

		if scenario.Status == results.StatusFailed {
			AddFailureAnalysis(g, scenarioID, AnalyzeScenario(scenario))
		}
	}
	return g
}

// RunNodeID is the node id of a run.
func RunNodeID(runID string) string {
	return "run:" + runID
}

// ScenarioNodeID is unique per run so history accumulates across runs.
func ScenarioNodeID(runID, scenarioID string) string {
	return fmt.Sprintf("scenario:%s:%s", runID, scenarioID)
}

// StepNodeID is the node id of a step.
func StepNodeID(step results.StepContext) string {
	if step.ID != "" {
		return "step:" + step.ID
	}
	return fmt.Sprintf("step:%s:%d", step.Scenario, step.Index)
}
