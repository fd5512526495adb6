package store

import (
	"path/filepath"
	"testing"

	"github.com/contextforge/rulegraph/internal/compose"
	"github.com/contextforge/rulegraph/internal/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(path string) *compose.Result {
	return &compose.Result{
		RulePath: path,
		Sections: []rule.Section{
			{Name: "content", Body: "intro"},
			{Name: "setup", Body: "install"},
		},
		Metadata: map[string]rule.Value{
			"owner": rule.StringValue("platform"),
		},
		Success:         true,
		SourceRules:     []string{"base.md", path},
		ComposedContent: "intro\n\n# Setup\ninstall",
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openTemp(t)
	want := sampleResult("child.md")

	require.NoError(t, s.Save("key-1", want))

	got, found, err := s.Load("key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.RulePath, got.RulePath)
	assert.Equal(t, want.Sections, got.Sections)
	assert.Equal(t, want.SourceRules, got.SourceRules)
	assert.Equal(t, want.ComposedContent, got.ComposedContent)
	assert.True(t, got.Success)
}

func TestSQLiteStore_MissingKey(t *testing.T) {
	s := openTemp(t)
	_, found, err := s.Load("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save("k", sampleResult("a.md")))
	require.NoError(t, s.Save("k", sampleResult("b.md")))

	got, found, err := s.Load("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b.md", got.RulePath)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save("k", sampleResult("a.md")))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k")) // idempotent

	_, found, err := s.Load("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_DeleteByRulePath(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save("k1", sampleResult("a.md")))
	require.NoError(t, s.Save("k2", sampleResult("a.md")))
	require.NoError(t, s.Save("k3", sampleResult("b.md")))

	require.NoError(t, s.DeleteByRulePath("a.md"))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
