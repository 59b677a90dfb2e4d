package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	w, err := NewWriter(dir)
	require.NoError(t, err)

	path, err := w.WriteJSON("summary.json", map[string]int{"passed": 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "summary.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 1, decoded["passed"])

	_, err = w.WriteText("reports/note.txt", "hello")
	require.NoError(t, err)
	_, err = w.WriteBytes("screenshots/step_a.png", []byte{0x89, 0x50})
	require.NoError(t, err)

	files, err := w.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/note.txt", "screenshots/step_a.png", "summary.json"}, files)
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	path, err := w.EnsureDir("screenshots")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	abs := filepath.Join(t.TempDir(), "elsewhere")
	got, err := w.EnsureDir(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)
}

func TestWriteExclusiveNeverReplacesFiles(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	first, err := w.WriteExclusive("reports/report.json", []byte("a"))
	require.NoError(t, err)
	second, err := w.WriteExclusive("reports/report.json", []byte("b"))
	require.NoError(t, err)
	third, err := w.WriteExclusive("reports/report.json", []byte("c"))
	require.NoError(t, err)

	assert.Equal(t, w.Path("reports/report.json"), first)
	assert.Equal(t, w.Path("reports/report-1.json"), second)
	assert.Equal(t, w.Path("reports/report-2.json"), third)
	for path, want := range map[string]string{first: "a", second: "b", third: "c"} {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(raw))
	}
}
