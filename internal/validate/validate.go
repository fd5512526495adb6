// Package validate checks a whole rule hierarchy for structural
// problems: inheritance cycles, orphaned explicit parents, and the
// conflicts surfaced while composing every rule.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/contextforge/rulegraph/internal/compose"
	"github.com/contextforge/rulegraph/internal/inherit"
	"github.com/contextforge/rulegraph/internal/rule"
)

// Statistics summarizes the shape of a validated hierarchy.
type Statistics struct {
	TotalRules           int            `json:"total_rules"`
	RulesWithInheritance int            `json:"rules_with_inheritance"`
	MaxDepth             int            `json:"max_depth"`
	TotalConflicts       int            `json:"total_conflicts"`
	InheritanceTypes     map[string]int `json:"inheritance_types"`
}

// Report is the outcome of validating a hierarchy. Valid means no
// cycles and no error-severity conflicts; warnings alone do not fail
// validation.
type Report struct {
	Valid      bool               `json:"valid"`
	Errors     []string           `json:"errors,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Cycles     [][]string         `json:"cycles,omitempty"`
	Orphans    []string           `json:"orphans,omitempty"`
	Conflicts  []compose.Conflict `json:"conflicts,omitempty"`
	Statistics Statistics         `json:"statistics"`
}

// Validator walks hierarchies with a shared resolver and composition
// engine.
type Validator struct {
	resolver *inherit.Resolver
	engine   *compose.Engine
}

func New(rv *inherit.Resolver, eng *compose.Engine) *Validator {
	return &Validator{resolver: rv, engine: eng}
}

// Validate inspects the full rule set. The walk visits each rule once,
// so cyclic hierarchies terminate like any other.
func (v *Validator) Validate(all map[string]*rule.ParsedRule) *Report {
	rep := &Report{
		Statistics: Statistics{
			TotalRules:       len(all),
			InheritanceTypes: map[string]int{},
		},
	}

	paths := make([]string, 0, len(all))
	for p := range all {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// 1. Cycle detection over child→parent edges. Each rule has at most
	// one parent, so following parents from every unvisited node finds
	// each cycle exactly once.
	rep.Cycles = v.findCycles(paths, all)
	cyclic := make(map[string]struct{})
	for _, cyc := range rep.Cycles {
		rep.Errors = append(rep.Errors,
			fmt.Sprintf("inheritance cycle: %s", strings.Join(cyc, " -> ")))
		for _, p := range cyc {
			cyclic[p] = struct{}{}
		}
	}

	// 2. Orphans: an explicit inherit target that does not exist. A rule
	// naming itself is a guarded self-loop, not an orphan.
	for _, p := range paths {
		target := all[p].MetaString(rule.KeyInherit)
		if target == "" || target == p {
			continue
		}
		if _, ok := all[target]; !ok {
			rep.Orphans = append(rep.Orphans, p)
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("missing parent rule for %s: %s", p, target))
		}
	}

	// 3. Per-rule statistics and conflict aggregation. Rules inside a
	// cycle are skipped here; the cycle entry already covers them.
	for _, p := range paths {
		if _, hasParent := v.resolver.ResolveParent(all[p], all); hasParent {
			rep.Statistics.RulesWithInheritance++
			rep.Statistics.InheritanceTypes[v.resolver.InferInheritanceType(all[p]).String()]++
		}
		if _, inCycle := cyclic[p]; inCycle {
			continue
		}

		chain := v.resolver.BuildChain(p, all)
		if len(chain) > rep.Statistics.MaxDepth {
			rep.Statistics.MaxDepth = len(chain)
		}

		res := v.engine.Compose(p, all)
		for _, c := range res.Conflicts {
			if c.Kind == compose.ConflictCycle {
				continue
			}
			rep.Conflicts = append(rep.Conflicts, c)
		}
	}
	rep.Statistics.TotalConflicts = len(rep.Conflicts)

	rep.Valid = len(rep.Cycles) == 0
	for _, c := range rep.Conflicts {
		if c.Severity == compose.SeverityError {
			rep.Valid = false
		}
	}
	return rep
}

// findCycles colors nodes white/grey/black while following parent
// links. Hitting a grey node closes a cycle; the slice from its first
// grey occurrence to the current node is the cycle membership.
func (v *Validator) findCycles(paths []string, all map[string]*rule.ParsedRule) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(all))
	var cycles [][]string

	for _, start := range paths {
		if color[start] != white {
			continue
		}
		var stack []string
		at := make(map[string]int)
		cur := start
		for {
			if c := color[cur]; c == black {
				break
			} else if c == grey {
				cycles = append(cycles, append([]string(nil), stack[at[cur]:]...))
				break
			}
			color[cur] = grey
			at[cur] = len(stack)
			stack = append(stack, cur)

			r, ok := all[cur]
			if !ok {
				break
			}
			parent, ok := v.resolver.ResolveParent(r, all)
			if !ok {
				break
			}
			cur = parent
		}
		for _, p := range stack {
			color[p] = black
		}
	}
	return cycles
}
