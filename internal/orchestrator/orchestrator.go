// Package orchestrator wires the rule engine's pieces into one session:
// a loaded hierarchy, the inheritance resolver, the composition engine
// with its cache, the validator, and optional persistence and watching.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/contextforge/rulegraph/internal/cache"
	"github.com/contextforge/rulegraph/internal/compose"
	"github.com/contextforge/rulegraph/internal/config"
	"github.com/contextforge/rulegraph/internal/inherit"
	"github.com/contextforge/rulegraph/internal/rule"
	"github.com/contextforge/rulegraph/internal/source"
	"github.com/contextforge/rulegraph/internal/store"
	"github.com/contextforge/rulegraph/internal/validate"
)

// Orchestrator is the top-level entry point. Safe for concurrent use;
// the rule snapshot swaps atomically under the lock while composition
// results flow through the engine's own cache.
type Orchestrator struct {
	cfg       *config.Config
	loader    *source.Loader
	resolver  *inherit.Resolver
	cache     *cache.Store[*compose.Result]
	engine    *compose.Engine
	validator *validate.Validator
	snapshots *store.SQLiteStore
	watcher   *source.Watcher

	mu    sync.RWMutex
	rules map[string]*rule.ParsedRule
}

// New builds an orchestrator from configuration. The hierarchy is not
// loaded yet; call LoadHierarchy.
func New(cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	rv := inherit.NewResolver(inherit.Strategy{Patterns: cfg.Resolver.CandidatePatterns})
	c := cache.New[*compose.Result](cfg.Cache.MaxSize, cfg.Cache.TTL)
	eng := compose.NewEngine(rv, c, cfg.Cache.TTL)

	o := &Orchestrator{
		cfg:       cfg,
		loader:    source.NewLoader(cfg.Source.Root, cfg.Source.Extensions),
		resolver:  rv,
		cache:     c,
		engine:    eng,
		validator: validate.New(rv, eng),
		rules:     map[string]*rule.ParsedRule{},
	}

	if cfg.Snapshot.Enabled {
		s, err := store.Open(cfg.Snapshot.Path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		o.snapshots = s
		eng.SetSnapshots(s)
	}
	return o, nil
}

// LoadHierarchy reads the whole rule tree from disk, replacing any
// previously loaded snapshot. Returns the number of rules loaded.
func (o *Orchestrator) LoadHierarchy() (int, error) {
	all, err := o.loader.LoadAll()
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.rules = all
	o.mu.Unlock()
	return len(all), nil
}

// Rules returns the sorted paths of the loaded hierarchy.
func (o *Orchestrator) Rules() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return source.Paths(o.rules)
}

// Rule returns a loaded rule by path.
func (o *Orchestrator) Rule(path string) (*rule.ParsedRule, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.rules[path]
	return r, ok
}

// ComposeRule merges a rule with its inheritance chain.
func (o *Orchestrator) ComposeRule(path string) (*compose.Result, error) {
	o.mu.RLock()
	all := o.rules
	o.mu.RUnlock()
	if _, ok := all[path]; !ok {
		return nil, fmt.Errorf("rule %q not loaded", path)
	}
	return o.engine.Compose(path, all), nil
}

// ResolveChain returns a rule's inheritance chain, root first.
func (o *Orchestrator) ResolveChain(path string) ([]string, error) {
	o.mu.RLock()
	all := o.rules
	o.mu.RUnlock()
	if _, ok := all[path]; !ok {
		return nil, fmt.Errorf("rule %q not loaded", path)
	}
	return o.resolver.BuildChain(path, all), nil
}

// Validate checks the loaded hierarchy for cycles, orphans, and
// conflicts.
func (o *Orchestrator) Validate() *validate.Report {
	o.mu.RLock()
	all := o.rules
	o.mu.RUnlock()
	return o.validator.Validate(all)
}

// CacheStats reports the composition cache's counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// ReloadRule re-reads one rule from disk and invalidates every cached
// composition that depended on it. The snapshot map is copied on write
// so readers holding the old map are never raced.
func (o *Orchestrator) ReloadRule(path string) error {
	r, err := o.loader.LoadOne(path)
	if err != nil {
		return err
	}
	o.mu.Lock()
	next := cloneRules(o.rules)
	next[path] = r
	o.rules = next
	o.mu.Unlock()
	o.engine.Invalidate(path)
	return nil
}

// RemoveRule drops a rule from the hierarchy and invalidates dependent
// compositions. Unknown paths are a no-op.
func (o *Orchestrator) RemoveRule(path string) {
	o.mu.Lock()
	next := cloneRules(o.rules)
	delete(next, path)
	o.rules = next
	o.mu.Unlock()
	o.engine.Invalidate(path)
}

func cloneRules(all map[string]*rule.ParsedRule) map[string]*rule.ParsedRule {
	next := make(map[string]*rule.ParsedRule, len(all))
	for k, v := range all {
		next[k] = v
	}
	return next
}

// Watch starts the file watcher if the configuration asks for one.
// Changed rules reload in place; removed rules drop out.
func (o *Orchestrator) Watch() error {
	if !o.cfg.Source.Watch || o.watcher != nil {
		return nil
	}
	w, err := source.NewWatcher(o.loader, 0, func(c source.Change) {
		switch c.Kind {
		case source.ChangeRemove:
			o.RemoveRule(c.RulePath)
		default:
			if err := o.ReloadRule(c.RulePath); err != nil {
				o.RemoveRule(c.RulePath)
			}
		}
	})
	if err != nil {
		return err
	}
	o.watcher = w
	return nil
}

// Close releases the watcher and snapshot store.
func (o *Orchestrator) Close() error {
	var first error
	if o.watcher != nil {
		if err := o.watcher.Close(); err != nil {
			first = err
		}
		o.watcher = nil
	}
	if o.snapshots != nil {
		if err := o.snapshots.Close(); err != nil && first == nil {
			first = err
		}
		o.snapshots = nil
	}
	return first
}
