package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feature = `Feature: Google Search

  @smoke
  Scenario: Search for AI
    Given I navigate to Google
    When I search for "AI"
    Then I should see search results displayed

  @slow
  Scenario: Search for golang
    Given I navigate to Google
    When I search for "golang"
`

func TestListAppliesTagFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.feature"), []byte(feature), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"list",
		"--feature-dir", dir,
		"--environment-dir", t.TempDir(),
		"--artifact-dir", t.TempDir(),
		"--include-tags", "@smoke",
	})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Search for AI")
	assert.NotContains(t, out.String(), "Search for golang")
	assert.Contains(t, out.String(), "1 selected, 1 filtered out")
}

func TestRunRejectsInvalidIsolation(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"run",
		"--feature-dir", t.TempDir(),
		"--environment-dir", t.TempDir(),
		"--artifact-dir", t.TempDir(),
		"--isolation", "per-step",
	})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid isolation")
}
