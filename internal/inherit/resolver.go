// Package inherit resolves parent/child relationships between rules.
//
// Parent discovery is two-tiered: an explicit `inherit` metadata key
// naming a path wins outright; otherwise the resolver looks for
// conventionally named siblings (index, base, ...) in the rule's
// directory and its ancestors. The convention is a pluggable ordered
// pattern list so hosts can override it without touching the walk.
package inherit

import (
	"path"
	"strings"

	"github.com/contextforge/rulegraph/internal/rule"
)

// Strategy is the ordered list of base names tried during
// convention-based parent lookup.
type Strategy struct {
	Patterns []string
}

// DefaultStrategy returns the stock candidate order.
func DefaultStrategy() Strategy {
	return Strategy{Patterns: []string{"index", "base", "parent", "_base"}}
}

// Edge is one directed child→parent relationship.
type Edge struct {
	Child  string               `json:"child"`
	Parent string               `json:"parent"`
	Type   rule.InheritanceType `json:"type"`
}

// Resolver determines parents and builds inheritance chains. It holds no
// rule state; the full rule set is passed per call so concurrent callers
// can share one Resolver across snapshots.
type Resolver struct {
	strategy Strategy
}

func NewResolver(s Strategy) *Resolver {
	if len(s.Patterns) == 0 {
		s = DefaultStrategy()
	}
	return &Resolver{strategy: s}
}

// ResolveParent finds the parent path for r within all, if any.
//
// Order: explicit `inherit` metadata first (a missing target means no
// parent here — the validator reports it as an orphan), then the
// convention walk, nearest directory first. A rule naming itself is a
// self-loop and resolves to no parent.
func (rv *Resolver) ResolveParent(r *rule.ParsedRule, all map[string]*rule.ParsedRule) (string, bool) {
	if target := r.MetaString(rule.KeyInherit); target != "" {
		if target == r.Path {
			return "", false
		}
		if _, ok := all[target]; ok {
			return target, true
		}
		// Explicit but unresolved: do not fall back to convention,
		// the author's intent was a specific parent.
		return "", false
	}

	ext := strings.ToLower(path.Ext(r.Path))
	dir := path.Dir(r.Path)
	for {
		for _, pattern := range rv.strategy.Patterns {
			for _, candExt := range extensionFamily(ext) {
				cand := pattern + candExt
				if dir != "." {
					cand = dir + "/" + cand
				}
				if cand == r.Path {
					continue
				}
				if _, ok := all[cand]; ok {
					return cand, true
				}
			}
		}
		if dir == "." || dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}
	return "", false
}

// extensionFamily groups interchangeable extensions so a .md rule can
// inherit from an index.mdc and vice versa.
func extensionFamily(ext string) []string {
	switch ext {
	case ".md", ".mdc":
		return []string{".mdc", ".md"}
	case ".yaml", ".yml":
		return []string{".yaml", ".yml"}
	case "":
		return []string{""}
	default:
		return []string{ext}
	}
}

// InferInheritanceType decides how much of the parent a rule absorbs.
// Explicit inherit_mode wins; a non-empty inherit_sections list implies
// selective; the default is full inheritance.
func (rv *Resolver) InferInheritanceType(r *rule.ParsedRule) rule.InheritanceType {
	switch strings.ToLower(r.MetaString(rule.KeyInheritMode)) {
	case "full":
		return rule.InheritFull
	case "content":
		return rule.InheritContent
	case "metadata":
		return rule.InheritMetadata
	case "variables":
		return rule.InheritVariables
	case "selective":
		return rule.InheritSelective
	}
	if v, ok := r.Meta(rule.KeyInheritSections); ok && v.Kind == rule.ValueList && len(v.List) > 0 {
		return rule.InheritSelective
	}
	return rule.InheritFull
}

// SelectedSections returns the section names a selective rule pulls from
// its parent.
func (rv *Resolver) SelectedSections(r *rule.ParsedRule) []string {
	v, ok := r.Meta(rule.KeyInheritSections)
	if !ok {
		return nil
	}
	if v.Kind == rule.ValueList {
		return v.List
	}
	if v.Str != "" {
		return []string{v.Str}
	}
	return nil
}

// BuildChain walks parent links upward from p and returns the chain
// ordered root→leaf, length ≥ 1. When a path repeats, the walk stops
// with the repeated path appended once more — the duplicate is the cycle
// signal callers detect via ChainHasCycle; the resolver itself never
// errors on cycles.
func (rv *Resolver) BuildChain(p string, all map[string]*rule.ParsedRule) []string {
	var chain []string
	seen := make(map[string]struct{})
	cur := p
	for {
		if _, dup := seen[cur]; dup {
			chain = append(chain, cur)
			break
		}
		seen[cur] = struct{}{}
		chain = append(chain, cur)

		r, ok := all[cur]
		if !ok {
			break
		}
		parent, ok := rv.ResolveParent(r, all)
		if !ok {
			break
		}
		cur = parent
	}
	// Walked leaf→root; callers want root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// ChainHasCycle reports whether a chain carries the duplicate-path
// truncation signal from BuildChain.
func ChainHasCycle(chain []string) bool {
	seen := make(map[string]struct{}, len(chain))
	for _, p := range chain {
		if _, dup := seen[p]; dup {
			return true
		}
		seen[p] = struct{}{}
	}
	return false
}

// Edges resolves the full child→parent edge set for a rule snapshot.
func (rv *Resolver) Edges(all map[string]*rule.ParsedRule) []Edge {
	var edges []Edge
	for p, r := range all {
		parent, ok := rv.ResolveParent(r, all)
		if !ok {
			continue
		}
		edges = append(edges, Edge{Child: p, Parent: parent, Type: rv.InferInheritanceType(r)})
	}
	return edges
}
