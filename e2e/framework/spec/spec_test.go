package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feature = `@search
Feature: Google Search
  Searching from the home page.

  Background:
    Given I navigate to Google

  @smoke
  Scenario: Search for AI
    When I search for "AI"
    Then I should see search results displayed
    And the page title should contain "AI"

  Scenario Outline: Search for <term>
    When I search for "<term>"
    Then I should see at least <count> search results

    Examples:
      | term | count |
      | Go   | 3     |
      | Rust | 5     |
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFeatures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "google/search.feature", feature)
	writeFile(t, dir, "notes.txt", "ignored")

	scenarios, err := LoadFeatures(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	smoke := scenarios[0]
	assert.Equal(t, "Search for AI", smoke.Name)
	assert.Equal(t, "Google Search", smoke.Feature)
	assert.Equal(t, []string{"@search", "@smoke"}, smoke.Tags)
	assert.Equal(t, 9, smoke.Line)
	assert.Contains(t, smoke.ID, "search.feature:9")

	want := []Step{
		{Keyword: "Given", Text: "I navigate to Google", Line: 6},
		{Keyword: "When", Text: `I search for "AI"`, Line: 10},
		{Keyword: "Then", Text: "I should see search results displayed", Line: 11},
		{Keyword: "And", Text: `the page title should contain "AI"`, Line: 12},
	}
	if diff := cmp.Diff(want, smoke.Steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}

	rust := scenarios[2]
	assert.Equal(t, "Search for Rust", rust.Name)
	assert.Equal(t, `I search for "Rust"`, rust.Steps[1].Text)
	assert.Equal(t, "I should see at least 5 search results", rust.Steps[2].Text)
	assert.Equal(t, 21, rust.Line)
	assert.NotEqual(t, scenarios[1].ID, rust.ID)
}

func TestParseFeatureFileSyntaxError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.feature", "Feature: x\n  Scenario: y\n    Given ok\n    Nonsense line\n")
	_, err := ParseFeatureFile(path)
	assert.Error(t, err)
}

const document = `
name: Search for <keyword>
feature: Google Search
tags: [yaml]
params:
  keyword: AI
steps:
  - Given I navigate to Google
  - When I search for "<keyword>"
  - keyword: Then
    text: the page title should contain "<keyword>"
variants:
  - name_suffix: default
  - params: {keyword: Kubernetes}
    tags: ["@k8s"]
---
name: Plain
steps:
  - Given I navigate to "https://example.com"
`

func TestParseDocuments(t *testing.T) {
	scenarios, err := ParseDocuments([]byte(document), "specs/search.yaml")
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	assert.Equal(t, "Search for AI - default", scenarios[0].Name)
	assert.Equal(t, `I search for "AI"`, scenarios[0].Steps[1].Text)
	assert.Equal(t, "When", scenarios[0].Steps[1].Keyword)

	k8s := scenarios[1]
	assert.Equal(t, "Search for Kubernetes #2", k8s.Name)
	assert.Equal(t, []string{"yaml", "@k8s"}, k8s.Tags)
	assert.Equal(t, `the page title should contain "Kubernetes"`, k8s.Steps[2].Text)
	assert.Equal(t, "Then", k8s.Steps[2].Keyword)

	plain := scenarios[2]
	assert.Equal(t, "Plain", plain.Name)
	assert.Equal(t, "specs/search.yaml#1", plain.ID)
	assert.Equal(t, `Given I navigate to "https://example.com"`, plain.Steps[0].String())
}

func TestMatchesTags(t *testing.T) {
	sc := Scenario{Tags: []string{"@smoke", "@search"}}
	cases := []struct {
		name             string
		include, exclude []string
		want             bool
	}{
		{"no filter", nil, nil, true},
		{"include with at", []string{"@smoke"}, nil, true},
		{"include without at", []string{"SMOKE"}, nil, true},
		{"include missing", []string{"slow"}, nil, false},
		{"exclude wins", []string{"smoke"}, []string{"search"}, false},
		{"exclude other", nil, []string{"@wip"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sc.MatchesTags(tc.include, tc.exclude))
		})
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	all := []Scenario{
		{Name: "a", Tags: []string{"@wip"}},
		{Name: "b"},
		{Name: "c", Tags: []string{"@wip"}},
	}
	selected, skipped := Filter(all, nil, []string{"wip"})
	require.Len(t, selected, 1)
	assert.Equal(t, "b", selected[0].Name)
	assert.Equal(t, []string{"a", "c"}, []string{skipped[0].Name, skipped[1].Name})
}
