package validate

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/contextforge/rulegraph/internal/cache"
	"github.com/contextforge/rulegraph/internal/compose"
	"github.com/contextforge/rulegraph/internal/inherit"
	"github.com/contextforge/rulegraph/internal/rule"
)

func newValidator() *Validator {
	rv := inherit.NewResolver(inherit.DefaultStrategy())
	eng := compose.NewEngine(rv, cache.New[*compose.Result](100, time.Hour), time.Hour)
	return New(rv, eng)
}

func parseAll(docs map[string]string) map[string]*rule.ParsedRule {
	all := make(map[string]*rule.ParsedRule, len(docs))
	for p, c := range docs {
		all[p] = rule.Parse(p, c)
	}
	return all
}

func TestValidate_CleanHierarchy(t *testing.T) {
	all := parseAll(map[string]string{
		"base.md":  "# Setup\ns",
		"child.md": "---\ninherit: base.md\n---\n# Extra\ne",
	})
	rep := newValidator().Validate(all)

	if !rep.Valid {
		t.Fatalf("Valid = false: %+v", rep)
	}
	if len(rep.Cycles) != 0 || len(rep.Orphans) != 0 {
		t.Errorf("cycles %v orphans %v, want none", rep.Cycles, rep.Orphans)
	}
	if len(rep.Errors) != 0 || len(rep.Warnings) != 0 {
		t.Errorf("errors %v warnings %v, want none", rep.Errors, rep.Warnings)
	}
	if rep.Statistics.TotalRules != 2 || rep.Statistics.RulesWithInheritance != 1 {
		t.Errorf("stats = %+v", rep.Statistics)
	}
	if rep.Statistics.MaxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", rep.Statistics.MaxDepth)
	}
	if rep.Statistics.InheritanceTypes["full"] != 1 {
		t.Errorf("InheritanceTypes = %v", rep.Statistics.InheritanceTypes)
	}
}

func TestValidate_ThreeNodeCycleFoundOnce(t *testing.T) {
	all := parseAll(map[string]string{
		"a.md": "---\ninherit: b.md\n---\na",
		"b.md": "---\ninherit: c.md\n---\nb",
		"c.md": "---\ninherit: a.md\n---\nc",
	})

	done := make(chan *Report, 1)
	go func() { done <- newValidator().Validate(all) }()

	var rep *Report
	select {
	case rep = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("validation did not terminate on a cyclic hierarchy")
	}

	if rep.Valid {
		t.Error("cyclic hierarchy reported valid")
	}
	if len(rep.Cycles) != 1 {
		t.Fatalf("cycles = %v, want exactly one", rep.Cycles)
	}
	if len(rep.Cycles[0]) != 3 {
		t.Errorf("cycle = %v, want 3 members", rep.Cycles[0])
	}
	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "cycle") {
		t.Errorf("Errors = %v, want one cycle message", rep.Errors)
	}
}

func TestValidate_IndependentRules(t *testing.T) {
	docs := map[string]string{}
	for i := 0; i < 10; i++ {
		docs[fmt.Sprintf("r%d.md", i)] = fmt.Sprintf("# Body\nrule %d", i)
	}
	rep := newValidator().Validate(parseAll(docs))

	if !rep.Valid {
		t.Fatal("flat hierarchy should be valid")
	}
	if len(rep.Cycles) != 0 || len(rep.Orphans) != 0 || len(rep.Conflicts) != 0 {
		t.Errorf("unexpected findings: %+v", rep)
	}
	if rep.Statistics.RulesWithInheritance != 0 {
		t.Errorf("RulesWithInheritance = %d, want 0", rep.Statistics.RulesWithInheritance)
	}
	if rep.Statistics.TotalRules != 10 || rep.Statistics.MaxDepth != 1 {
		t.Errorf("stats = %+v", rep.Statistics)
	}
}

func TestValidate_OrphanDetection(t *testing.T) {
	all := parseAll(map[string]string{
		"child.md": "---\ninherit: gone.md\n---\nbody",
		"self.md":  "---\ninherit: self.md\n---\nbody",
	})
	rep := newValidator().Validate(all)

	if len(rep.Orphans) != 1 || rep.Orphans[0] != "child.md" {
		t.Errorf("orphans = %v, want [child.md]", rep.Orphans)
	}
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], "gone.md") {
		t.Errorf("Warnings = %v, want one naming the missing parent", rep.Warnings)
	}
	// Orphans and self-loops are reportable but survivable.
	if !rep.Valid {
		t.Error("orphan should not invalidate the hierarchy")
	}
}

func TestValidate_AggregatesCompositionConflicts(t *testing.T) {
	all := parseAll(map[string]string{
		"base.md":  "---\ntype: agent\n---\n# Intro\nX",
		"child.md": "---\ninherit: base.md\ntype: workflow\n---\n# Intro\nY",
	})
	rep := newValidator().Validate(all)

	var kinds []string
	for _, c := range rep.Conflicts {
		kinds = append(kinds, c.Kind.String())
	}
	if rep.Statistics.TotalConflicts < 2 {
		t.Errorf("conflicts = %v, want type_mismatch and section_override", kinds)
	}
	if !rep.Valid {
		t.Error("warning-level conflicts should not invalidate the hierarchy")
	}
}

func TestValidate_CycleDoesNotPoisonOtherRules(t *testing.T) {
	all := parseAll(map[string]string{
		"a.md":    "---\ninherit: b.md\n---\na",
		"b.md":    "---\ninherit: a.md\n---\nb",
		"solo.md": "# Body\nfine",
	})
	rep := newValidator().Validate(all)

	if len(rep.Cycles) != 1 {
		t.Fatalf("cycles = %v, want one", rep.Cycles)
	}
	// solo still contributes to depth and conflict stats normally.
	if rep.Statistics.MaxDepth != 1 {
		t.Errorf("MaxDepth = %d, want 1", rep.Statistics.MaxDepth)
	}
	for _, c := range rep.Conflicts {
		if c.Kind == compose.ConflictCycle {
			t.Error("cycle conflicts should live in Cycles, not Conflicts")
		}
	}
}
