package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScenarioStatus(t *testing.T) {
	tests := []struct {
		name     string
		records  []EvidenceRecord
		err      string
		expected Status
	}{
		{name: "all passed", records: []EvidenceRecord{{Status: StatusPassed}, {Status: StatusPassed}}, expected: StatusPassed},
		{name: "one failed", records: []EvidenceRecord{{Status: StatusPassed}, {Status: StatusFailed}, {Status: StatusSkipped}}, expected: StatusFailed},
		{name: "passed and skipped", records: []EvidenceRecord{{Status: StatusPassed}, {Status: StatusSkipped}}, expected: StatusSkipped},
		{name: "no records", expected: StatusSkipped},
		{name: "scenario error", records: []EvidenceRecord{{Status: StatusPassed}}, err: "session failed", expected: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScenarioStatus(tt.records, tt.err))
		})
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]ScenarioReport{
		{Status: StatusPassed},
		{Status: StatusPassed},
		{Status: StatusFailed},
	})

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 66.67, summary.PassRate)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestArtifactCount(t *testing.T) {
	report := ScenarioReport{Records: []EvidenceRecord{
		{Artifacts: []Artifact{{Path: "a"}, {Path: "b"}}},
		{},
		{Artifacts: []Artifact{{Path: "c"}}},
	}}
	assert.Equal(t, 3, report.ArtifactCount())
}
