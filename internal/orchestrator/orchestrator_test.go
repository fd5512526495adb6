package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/contextforge/rulegraph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newOrchestrator(t *testing.T, root string) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Root = root
	o, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestLoadHierarchyAndCompose(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "base.md", "# Setup\ninstall")
	writeRule(t, root, "guides/deploy.md", "---\ninherit: base.md\n---\n# Steps\nship it")

	o := newOrchestrator(t, root)
	n, err := o.LoadHierarchy()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"base.md", "guides/deploy.md"}, o.Rules())

	res, err := o.ComposeRule("guides/deploy.md")
	require.NoError(t, err)
	require.True(t, res.Success)

	setup, ok := res.Section("setup")
	require.True(t, ok)
	assert.Equal(t, "install", setup)
	_, ok = res.Section("steps")
	assert.True(t, ok)
}

func TestComposeRule_NotLoaded(t *testing.T) {
	o := newOrchestrator(t, t.TempDir())
	_, err := o.LoadHierarchy()
	require.NoError(t, err)

	_, err = o.ComposeRule("ghost.md")
	assert.Error(t, err)
}

func TestResolveChain(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "root.md", "r")
	writeRule(t, root, "mid.md", "---\ninherit: root.md\n---\nm")
	writeRule(t, root, "leaf.md", "---\ninherit: mid.md\n---\nl")

	o := newOrchestrator(t, root)
	_, err := o.LoadHierarchy()
	require.NoError(t, err)

	chain, err := o.ResolveChain("leaf.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"root.md", "mid.md", "leaf.md"}, chain)
}

func TestValidateAndCacheStats(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "a.md", "---\ninherit: b.md\n---\na")
	writeRule(t, root, "b.md", "---\ninherit: a.md\n---\nb")

	o := newOrchestrator(t, root)
	_, err := o.LoadHierarchy()
	require.NoError(t, err)

	rep := o.Validate()
	assert.False(t, rep.Valid)
	assert.Len(t, rep.Cycles, 1)

	stats := o.CacheStats()
	assert.Equal(t, 100, stats.MaxSize)
}

func TestReloadRuleInvalidatesCompositions(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "base.md", "# Intro\nfirst")
	writeRule(t, root, "child.md", "---\ninherit: base.md\n---\n# Extra\ne")

	o := newOrchestrator(t, root)
	_, err := o.LoadHierarchy()
	require.NoError(t, err)

	before, err := o.ComposeRule("child.md")
	require.NoError(t, err)

	writeRule(t, root, "base.md", "# Intro\nsecond")
	require.NoError(t, o.ReloadRule("base.md"))

	after, err := o.ComposeRule("child.md")
	require.NoError(t, err)
	intro, _ := after.Section("intro")
	assert.Equal(t, "second", intro)
	assert.NotEqual(t, before.ComposedContent, after.ComposedContent)
}

func TestRemoveRule(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "a.md", "x")

	o := newOrchestrator(t, root)
	_, err := o.LoadHierarchy()
	require.NoError(t, err)

	o.RemoveRule("a.md")
	assert.Empty(t, o.Rules())
	_, err = o.ComposeRule("a.md")
	assert.Error(t, err)
}

func TestSnapshotPersistenceAcrossSessions(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "base.md", "# Setup\ns")
	writeRule(t, root, "child.md", "---\ninherit: base.md\n---\n# Extra\ne")

	cfg := config.Default()
	cfg.Source.Root = root
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "snaps.db")

	first, err := New(cfg)
	require.NoError(t, err)
	_, err = first.LoadHierarchy()
	require.NoError(t, err)
	res, err := first.ComposeRule("child.md")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.LoadHierarchy()
	require.NoError(t, err)

	again, err := second.ComposeRule("child.md")
	require.NoError(t, err)
	assert.Equal(t, res.ComposedContent, again.ComposedContent)
}

func TestWatchReloadsChangedRules(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "r.md", "# A\nv1")

	cfg := config.Default()
	cfg.Source.Root = root
	cfg.Source.Watch = true

	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Close()
	_, err = o.LoadHierarchy()
	require.NoError(t, err)
	require.NoError(t, o.Watch())

	writeRule(t, root, "r.md", "# A\nv2")

	require.Eventually(t, func() bool {
		res, err := o.ComposeRule("r.md")
		if err != nil {
			return false
		}
		body, _ := res.Section("a")
		return body == "v2"
	}, 5*time.Second, 50*time.Millisecond)
}
