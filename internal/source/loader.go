// Package source reads rule documents off disk and keeps them fresh.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextforge/rulegraph/internal/rule"
)

// DefaultExtensions are the file extensions treated as rule documents.
var DefaultExtensions = []string{".md", ".mdc", ".json", ".yaml", ".yml", ".hcl", ".txt"}

// Loader reads a rule hierarchy from a directory tree. Rule paths are
// slash-normalized and relative to the root, so hierarchies compare
// equal across platforms.
type Loader struct {
	root string
	exts map[string]struct{}
}

// NewLoader creates a loader rooted at dir. A nil extension list uses
// DefaultExtensions.
func NewLoader(root string, extensions []string) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Loader{root: root, exts: exts}
}

// Root returns the loader's root directory.
func (l *Loader) Root() string { return l.root }

// LoadAll walks the root and parses every rule document found. Hidden
// directories are skipped. Unreadable files abort the walk; parsing
// itself never fails.
func (l *Loader) LoadAll() (map[string]*rule.ParsedRule, error) {
	all := make(map[string]*rule.ParsedRule)
	err := filepath.Walk(l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && p != l.root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := l.exts[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil
		}

		rel, err := l.RulePath(p)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read rule %s: %w", p, err)
		}
		all[rel] = rule.Parse(rel, string(raw))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	return all, nil
}

// LoadOne re-reads a single rule by its hierarchy path.
func (l *Loader) LoadOne(rulePath string) (*rule.ParsedRule, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(rulePath))
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read rule %s: %w", rulePath, err)
	}
	return rule.Parse(rulePath, string(raw)), nil
}

// RulePath converts an absolute or root-relative file path into the
// hierarchy key used everywhere else.
func (l *Loader) RulePath(p string) (string, error) {
	rel, err := filepath.Rel(l.root, p)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", p, err)
	}
	return filepath.ToSlash(rel), nil
}

// Paths returns the sorted rule paths of a loaded hierarchy.
func Paths(all map[string]*rule.ParsedRule) []string {
	out := make([]string, 0, len(all))
	for p := range all {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
