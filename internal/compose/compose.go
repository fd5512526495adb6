// Package compose merges a rule with its resolved ancestor chain into a
// single composition, recording conflicts along the way.
//
// Compositions are memoized in an LRU+TTL cache keyed by a fingerprint
// of the whole chain (paths and content hashes), so a change to any
// ancestor's content naturally misses the cache. An optional snapshot
// store persists results across sessions; its failures degrade to
// warnings, never errors.
package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/contextforge/rulegraph/internal/cache"
	"github.com/contextforge/rulegraph/internal/inherit"
	"github.com/contextforge/rulegraph/internal/rule"
)

// Result is the outcome of composing one rule with its ancestors.
// Results are shared through the cache: treat them as immutable.
type Result struct {
	RulePath        string                `json:"rule_path"`
	Sections        []rule.Section        `json:"sections"`
	Metadata        map[string]rule.Value `json:"metadata"`
	Conflicts       []Conflict            `json:"conflicts,omitempty"`
	Success         bool                  `json:"success"`
	Warnings        []string              `json:"warnings,omitempty"`
	SourceRules     []string              `json:"source_rules"`
	ComposedContent string                `json:"composed_content"`
}

// Section returns the composed body of the named section.
func (r *Result) Section(name string) (string, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s.Body, true
		}
	}
	return "", false
}

// ErrorConflicts returns the error-severity entries, if any.
func (r *Result) ErrorConflicts() []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Severity == SeverityError {
			out = append(out, c)
		}
	}
	return out
}

// SnapshotStore persists compositions across sessions. Implementations
// must tolerate being handed keys they have never seen.
type SnapshotStore interface {
	Load(key string) (*Result, bool, error)
	Save(key string, res *Result) error
	Delete(key string) error
}

// Engine folds inheritance chains into Results.
type Engine struct {
	resolver  *inherit.Resolver
	cache     *cache.Store[*Result]
	snapshots SnapshotStore
	ttl       time.Duration

	// Invalidation index: rule path → bitmap of interned cache-key ids.
	// Lets Invalidate drop every composition whose chain touched a path
	// without scanning the cache.
	mu       sync.Mutex
	keyIDs   map[string]uint32
	idKeys   []string
	idChains [][]string
	freeIDs  []uint32
	pathKeys map[string]*roaring.Bitmap
}

// NewEngine wires a composition engine over the given resolver and
// cache. A non-positive ttl uses the cache's default.
func NewEngine(rv *inherit.Resolver, store *cache.Store[*Result], ttl time.Duration) *Engine {
	return &Engine{
		resolver: rv,
		cache:    store,
		ttl:      ttl,
		keyIDs:   make(map[string]uint32),
		pathKeys: make(map[string]*roaring.Bitmap),
	}
}

// SetSnapshots attaches an optional persistent snapshot backend.
func (e *Engine) SetSnapshots(s SnapshotStore) { e.snapshots = s }

// Fingerprint derives the cache key for a chain: an ordered digest of
// (path, content-hash) pairs. Any ancestor content change changes the
// key, so cached entries can never serve stale compositions.
func Fingerprint(chain []string, all map[string]*rule.ParsedRule) string {
	h := sha256.New()
	for _, p := range chain {
		h.Write([]byte(p))
		h.Write([]byte{0})
		if r, ok := all[p]; ok {
			h.Write([]byte(r.Checksum))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compose merges rulePath with its ancestors. Data-quality problems are
// recorded on the Result; only a structural impossibility (a cycle in
// this rule's chain) yields Success=false, and that is fatal for this
// rule alone.
func (e *Engine) Compose(rulePath string, all map[string]*rule.ParsedRule) *Result {
	target, ok := all[rulePath]
	if !ok {
		return &Result{
			RulePath: rulePath,
			Success:  false,
			Warnings: []string{fmt.Sprintf("rule %q not found in hierarchy", rulePath)},
		}
	}

	chain := e.resolver.BuildChain(rulePath, all)
	if inherit.ChainHasCycle(chain) {
		return &Result{
			RulePath: rulePath,
			Success:  false,
			Conflicts: []Conflict{{
				SectionOrKey: rulePath,
				ChildPath:    rulePath,
				Kind:         ConflictCycle,
				Severity:     SeverityError,
				Resolution:   fmt.Sprintf("inheritance cycle through %s", strings.Join(chain, " -> ")),
			}},
		}
	}

	key := Fingerprint(chain, all)
	if cached, hit := e.cache.Get(key); hit {
		return cached
	}

	var warnings []string
	if e.snapshots != nil {
		snap, found, err := e.snapshots.Load(key)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("snapshot load failed, recomposing: %v", err))
		} else if found {
			e.cache.PutTTL(key, snap, e.ttl)
			e.indexKey(key, chain)
			return snap
		}
	}

	res := e.fold(target, chain, all)
	res.Warnings = append(res.Warnings, warnings...)

	// Persist before publishing: once the result enters the cache a
	// concurrent caller may already hold it, and results are immutable
	// from that point on.
	if e.snapshots != nil {
		if err := e.snapshots.Save(key, res); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("snapshot save failed: %v", err))
		}
	}
	e.cache.PutTTL(key, res, e.ttl)
	e.indexKey(key, chain)
	return res
}

// fold accumulates the chain root→leaf. Each link's own inheritance
// type governs how much of the accumulated parent state it absorbs.
func (e *Engine) fold(target *rule.ParsedRule, chain []string, all map[string]*rule.ParsedRule) *Result {
	res := &Result{
		RulePath:    target.Path,
		Success:     true,
		SourceRules: append([]string(nil), chain...),
		Metadata:    map[string]rule.Value{},
	}

	// Type mismatches are recorded up front, independent of the
	// inheritance types along the chain.
	for i := 1; i < len(chain); i++ {
		parent, child := all[chain[i-1]], all[chain[i]]
		if parent == nil || child == nil {
			continue
		}
		if parent.Type != child.Type {
			res.Conflicts = append(res.Conflicts, Conflict{
				SectionOrKey: rule.KeyType,
				ParentPath:   parent.Path,
				ChildPath:    child.Path,
				Kind:         ConflictTypeMismatch,
				Severity:     SeverityWarning,
				Resolution: fmt.Sprintf("child type %q retained over parent type %q",
					child.Type, parent.Type),
			})
		}
	}

	acc := newAccumulator()
	for i, p := range chain {
		r := all[p]
		if r == nil {
			continue
		}
		if i == 0 {
			acc.absorbOwn(r)
			continue
		}
		parentPath := chain[i-1]
		e.mergeStep(acc, r, parentPath, res)
	}

	res.Sections = acc.sections
	res.Metadata = acc.metadata
	res.ComposedContent = renderComposed(res)
	return res
}

// mergeStep merges one child over the accumulated parent state.
func (e *Engine) mergeStep(acc *accumulator, r *rule.ParsedRule, parentPath string, res *Result) {
	itype := e.resolver.InferInheritanceType(r)

	switch itype {
	case rule.InheritFull:
		acc.overrideSections(r, parentPath, res)
		acc.mergeMetadata(r, parentPath, res, nil)
	case rule.InheritContent:
		acc.overrideSections(r, parentPath, res)
		acc.replaceMetadata(r)
	case rule.InheritMetadata:
		acc.replaceSections(r)
		acc.mergeMetadata(r, parentPath, res, nil)
	case rule.InheritVariables:
		acc.replaceSections(r)
		acc.mergeMetadata(r, parentPath, res, func(v rule.Value) bool { return v.Variable })
	case rule.InheritSelective:
		selected := e.resolver.SelectedSections(r)
		acc.filterSections(selected)
		acc.overrideSections(r, parentPath, res)
		acc.replaceMetadata(r)
	}
}

// Invalidate drops every cached composition whose chain touched
// rulePath and releases the interned ids, so the index stays bounded by
// the number of live compositions even under long watch sessions.
func (e *Engine) Invalidate(rulePath string) {
	e.mu.Lock()
	bm := e.pathKeys[rulePath]
	delete(e.pathKeys, rulePath)
	var keys []string
	if bm != nil {
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			key := e.idKeys[id]
			if key == "" {
				continue
			}
			keys = append(keys, key)
			e.releaseLocked(id, rulePath)
		}
	}
	e.mu.Unlock()

	for _, key := range keys {
		e.cache.Invalidate(key)
		if e.snapshots != nil {
			_ = e.snapshots.Delete(key) // best-effort, see error policy
		}
	}
}

// releaseLocked un-interns one key: its id leaves every other path's
// bitmap and returns to the free list for reuse.
func (e *Engine) releaseLocked(id uint32, via string) {
	for _, p := range e.idChains[id] {
		if p == via {
			continue
		}
		if bm := e.pathKeys[p]; bm != nil {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(e.pathKeys, p)
			}
		}
	}
	delete(e.keyIDs, e.idKeys[id])
	e.idKeys[id] = ""
	e.idChains[id] = nil
	e.freeIDs = append(e.freeIDs, id)
}

// indexKey interns the cache key and registers it under every path in
// the chain.
func (e *Engine) indexKey(key string, chain []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.keyIDs[key]
	if !ok {
		if n := len(e.freeIDs); n > 0 {
			id = e.freeIDs[n-1]
			e.freeIDs = e.freeIDs[:n-1]
			e.idKeys[id] = key
			e.idChains[id] = append([]string(nil), chain...)
		} else {
			id = uint32(len(e.idKeys))
			e.idKeys = append(e.idKeys, key)
			e.idChains = append(e.idChains, append([]string(nil), chain...))
		}
		e.keyIDs[key] = id
	}
	for _, p := range chain {
		bm, ok := e.pathKeys[p]
		if !ok {
			bm = roaring.New()
			e.pathKeys[p] = bm
		}
		bm.Add(id)
	}
}

// ---------------------------------------------------------------------------
// Accumulator: ordered section state plus metadata for the fold
// ---------------------------------------------------------------------------

type accumulator struct {
	sections []rule.Section
	index    map[string]int
	metadata map[string]rule.Value
}

func newAccumulator() *accumulator {
	return &accumulator{
		index:    map[string]int{},
		metadata: map[string]rule.Value{},
	}
}

// absorbOwn seeds the accumulator from the chain root.
func (a *accumulator) absorbOwn(r *rule.ParsedRule) {
	for _, s := range r.Sections {
		a.setSection(s.Name, s.Body)
	}
	for k, v := range r.Metadata {
		a.metadata[k] = v
	}
}

func (a *accumulator) setSection(name, body string) {
	if at, ok := a.index[name]; ok {
		a.sections[at].Body = body
		return
	}
	a.index[name] = len(a.sections)
	a.sections = append(a.sections, rule.Section{Name: name, Body: body})
}

// overrideSections applies the child's sections over the parent state,
// recording an override conflict when the child replaces a section with
// different content.
func (a *accumulator) overrideSections(r *rule.ParsedRule, parentPath string, res *Result) {
	for _, s := range r.Sections {
		if at, ok := a.index[s.Name]; ok && a.sections[at].Body != s.Body {
			res.Conflicts = append(res.Conflicts, Conflict{
				SectionOrKey: s.Name,
				ParentPath:   parentPath,
				ChildPath:    r.Path,
				Kind:         ConflictSectionOverride,
				Severity:     SeverityWarning,
				Resolution:   "child override applied",
			})
		}
		a.setSection(s.Name, s.Body)
	}
}

// replaceSections discards the inherited section state entirely.
func (a *accumulator) replaceSections(r *rule.ParsedRule) {
	a.sections = nil
	a.index = map[string]int{}
	for _, s := range r.Sections {
		a.setSection(s.Name, s.Body)
	}
}

// filterSections keeps only the named inherited sections, in order.
func (a *accumulator) filterSections(keep []string) {
	allowed := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		allowed[name] = struct{}{}
	}
	var kept []rule.Section
	idx := map[string]int{}
	for _, s := range a.sections {
		if _, ok := allowed[s.Name]; ok {
			idx[s.Name] = len(kept)
			kept = append(kept, s)
		}
	}
	a.sections = kept
	a.index = idx
}

// mergeMetadata merges the child's metadata over the inherited state,
// child winning ties. An optional keepInherited filter restricts which
// inherited keys survive at all (VARIABLES inheritance). Differing
// overrides are recorded as variable conflicts.
func (a *accumulator) mergeMetadata(r *rule.ParsedRule, parentPath string, res *Result, keepInherited func(rule.Value) bool) {
	if keepInherited != nil {
		for k, v := range a.metadata {
			if !keepInherited(v) {
				delete(a.metadata, k)
			}
		}
	}
	for k, v := range r.Metadata {
		if prev, ok := a.metadata[k]; ok && !prev.Equal(v) && !bookkeepingKey(k) {
			res.Conflicts = append(res.Conflicts, Conflict{
				SectionOrKey: k,
				ParentPath:   parentPath,
				ChildPath:    r.Path,
				Kind:         ConflictVariable,
				Severity:     SeverityWarning,
				Resolution:   "child value applied",
			})
		}
		a.metadata[k] = v
	}
}

// bookkeepingKey reports whether a metadata key carries inheritance
// bookkeeping rather than user data. Differences on these keys are
// structural (every child names a different parent) and are covered by
// the chain itself and by type-mismatch detection, so they never count
// as variable conflicts.
func bookkeepingKey(k string) bool {
	switch k {
	case rule.KeyInherit, rule.KeyType, rule.KeyInheritMode, rule.KeyInheritSections:
		return true
	}
	return false
}

// replaceMetadata discards inherited metadata; the child's own stands
// alone.
func (a *accumulator) replaceMetadata(r *rule.ParsedRule) {
	a.metadata = map[string]rule.Value{}
	for k, v := range r.Metadata {
		a.metadata[k] = v
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// renderComposed flattens a result back into a markdown document:
// variable metadata first, then sections in composed order.
func renderComposed(res *Result) string {
	var b strings.Builder

	var varKeys []string
	for k, v := range res.Metadata {
		if v.Variable {
			varKeys = append(varKeys, k)
		}
	}
	if len(varKeys) > 0 {
		sort.Strings(varKeys)
		b.WriteString("# Variables\n")
		for _, k := range varKeys {
			fmt.Fprintf(&b, "- %s: %s\n", k, res.Metadata[k].AsString())
		}
		b.WriteString("\n")
	}

	for _, s := range res.Sections {
		if s.Name != rule.DefaultSection {
			fmt.Fprintf(&b, "# %s\n", headingTitle(s.Name))
		}
		b.WriteString(s.Body)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func headingTitle(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
