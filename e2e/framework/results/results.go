package results

import (
	"math"
	"time"
)

// Status indicates outcome for a scenario or step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Valid reports whether the status is one of the known outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ArtifactKind identifies why a screenshot was taken.
type ArtifactKind string

const (
	KindNavigation ArtifactKind = "navigation"
	KindStep       ArtifactKind = "step"
)

// StepContext identifies one executing step. It is immutable once created.
type StepContext struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Text      string    `json:"text"`
	Keyword   string    `json:"keyword"`
	Index     int       `json:"index"`
	StartedAt time.Time `json:"started_at"`
}

// Artifact is a single captured screenshot.
type Artifact struct {
	Path         string       `json:"path"`
	RelativePath string       `json:"relative_path,omitempty"`
	CapturedAt   time.Time    `json:"captured_at"`
	Kind         ArtifactKind `json:"kind"`
	Label        string       `json:"label"`
}

// EvidenceRecord binds the artifacts of a step to its final status.
type EvidenceRecord struct {
	Step      StepContext   `json:"step"`
	Artifacts []Artifact    `json:"artifacts"`
	Status    Status        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// ScenarioReport is the ordered evidence of one scenario.
type ScenarioReport struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Feature     string            `json:"feature,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Duration    time.Duration     `json:"duration"`
	Records     []EvidenceRecord  `json:"records"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ArtifactCount returns the number of artifacts across all records.
func (s ScenarioReport) ArtifactCount() int {
	count := 0
	for _, record := range s.Records {
		count += len(record.Artifacts)
	}
	return count
}

// RunReport captures the overall run.
type RunReport struct {
	RunID     string            `json:"run_id"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration"`
	Scenarios []ScenarioReport  `json:"scenarios"`
	Summary   Summary           `json:"summary"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary counts scenario outcomes.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

// Summarize counts scenario outcomes. PassRate is a percentage rounded to two decimals.
func Summarize(scenarios []ScenarioReport) Summary {
	summary := Summary{Total: len(scenarios)}
	for _, scenario := range scenarios {
		switch scenario.Status {
		case StatusPassed:
			summary.Passed++
		case StatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	if summary.Total > 0 {
		rate := float64(summary.Passed) / float64(summary.Total) * 100
		summary.PassRate = math.Round(rate*100) / 100
	}
	return summary
}

// ScenarioStatus derives a scenario status from its records.
// A scenario passes only when it has records and all of them passed.
func ScenarioStatus(records []EvidenceRecord, scenarioErr string) Status {
	if scenarioErr != "" {
		return StatusFailed
	}
	passed := 0
	for _, record := range records {
		switch record.Status {
		case StatusFailed:
			return StatusFailed
		case StatusPassed:
			passed++
		}
	}
	if passed > 0 && passed == len(records) {
		return StatusPassed
	}
	return StatusSkipped
}
