// Package spec loads scenarios from Gherkin feature files and YAML scenario
// documents into one executable shape.
package spec

import "strings"

// Scenario is one executable scenario. Outlines and variants are already
// expanded, so every Scenario runs exactly once.
type Scenario struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Feature     string   `json:"feature,omitempty" yaml:"feature,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
	Line        int      `json:"line,omitempty" yaml:"line,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Steps       []Step   `json:"steps" yaml:"steps"`
}

// Step is a single step line.
type Step struct {
	Keyword   string     `json:"keyword" yaml:"keyword"`
	Text      string     `json:"text" yaml:"text"`
	Line      int        `json:"line,omitempty" yaml:"line,omitempty"`
	DocString string     `json:"doc_string,omitempty" yaml:"doc_string,omitempty"`
	Table     [][]string `json:"table,omitempty" yaml:"table,omitempty"`
}

// String renders the step the way it appears in a feature file.
func (s Step) String() string {
	if s.Keyword == "" {
		return s.Text
	}
	return strings.TrimSpace(s.Keyword) + " " + s.Text
}

// MatchesTags returns true if the scenario is allowed by include/exclude
// tags. Tags compare case-insensitively with or without a leading "@".
func (s Scenario) MatchesTags(include []string, exclude []string) bool {
	if len(include) == 0 && len(exclude) == 0 {
		return true
	}
	for _, tag := range exclude {
		if s.HasTag(tag) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, tag := range include {
		if s.HasTag(tag) {
			return true
		}
	}
	return false
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	want := NormalizeTag(tag)
	if want == "" {
		return false
	}
	for _, existing := range s.Tags {
		if strings.EqualFold(NormalizeTag(existing), want) {
			return true
		}
	}
	return false
}

// NormalizeTag trims whitespace and a leading "@".
func NormalizeTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "@")
}

// Filter splits scenarios into those selected by the tag filter and those
// excluded by it, preserving order.
func Filter(scenarios []Scenario, include, exclude []string) (selected, skipped []Scenario) {
	for _, sc := range scenarios {
		if sc.MatchesTags(include, exclude) {
			selected = append(selected, sc)
		} else {
			skipped = append(skipped, sc)
		}
	}
	return selected, skipped
}
