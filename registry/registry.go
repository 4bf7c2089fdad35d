// Package registry holds the engine's four inheritance-aware registries:
// precedence, associativity, semantic actions, and error recovery. All four
// share one generic shape, keyed by (grammar name, item name), with lookups
// that walk the grammar's inheritance linearization from most-derived to
// most-base and a per-grammar cache invalidated on every write.
package registry

import (
	"sort"
)

// Hierarchy answers inheritance questions for registries. It is implemented
// by inherit.Resolver together with grammar.Container.
type Hierarchy interface {
	// Linearize returns g's hierarchy from most-derived (g itself) to
	// most-base.
	Linearize(g string) ([]string, error)

	// TransitiveDerivedOf returns every grammar that inherits g, directly
	// or transitively.
	TransitiveDerivedOf(g string) []string
}

// Registry stores values of one kind keyed by (grammar, item name). Lookups
// through Get consult the inheritance hierarchy; Register and RemoveAll
// invalidate the caches of the written grammar and all its dependents.
type Registry[V any] struct {
	h Hierarchy

	// entries[grammar][item] = value registered directly against grammar.
	entries map[string]map[string]V

	// lookupCache[grammar][item] = result of an inheritance-walked Get.
	lookupCache map[string]map[string]V
}

// New creates a Registry walking the given hierarchy.
func New[V any](h Hierarchy) *Registry[V] {
	return &Registry[V]{
		h:           h,
		entries:     map[string]map[string]V{},
		lookupCache: map[string]map[string]V{},
	}
}

// Register upserts the value stored under (g, name) and invalidates cached
// lookups for g and every grammar that inherits from it.
func (r *Registry[V]) Register(g, name string, v V) {
	items, ok := r.entries[g]
	if !ok {
		items = map[string]V{}
		r.entries[g] = items
	}
	items[name] = v

	r.Invalidate(g)
}

// Get returns the value for name visible from g: the hierarchy is walked
// from most-derived to most-base and the first grammar that directly
// registers name wins. The result is cached under g until the next write
// touching g's hierarchy.
func (r *Registry[V]) Get(g, name string) (V, bool) {
	if cached, ok := r.lookupCache[g]; ok {
		if v, ok := cached[name]; ok {
			return v, true
		}
	}

	lin, err := r.h.Linearize(g)
	if err != nil {
		// an unloaded or cyclic grammar still allows direct entries; fall
		// back to them so registries work before grammars are installed.
		lin = []string{g}
	}

	var zero V
	for _, ancestor := range lin {
		if items, ok := r.entries[ancestor]; ok {
			if v, ok := items[name]; ok {
				cached, ok := r.lookupCache[g]
				if !ok {
					cached = map[string]V{}
					r.lookupCache[g] = cached
				}
				cached[name] = v
				return v, true
			}
		}
	}

	return zero, false
}

// GetWithOrigin is Get plus the name of the grammar in g's hierarchy the
// returned value was registered directly against. Callers that need to
// compare how derived two registrations are use the origin's position in
// the linearization.
func (r *Registry[V]) GetWithOrigin(g, name string) (V, string, bool) {
	lin, err := r.h.Linearize(g)
	if err != nil {
		lin = []string{g}
	}

	var zero V
	for _, ancestor := range lin {
		if items, ok := r.entries[ancestor]; ok {
			if v, ok := items[name]; ok {
				return v, ancestor, true
			}
		}
	}

	return zero, "", false
}

// GetAll returns every item visible from g, overlaying base entries with
// derived ones on name collisions.
func (r *Registry[V]) GetAll(g string) map[string]V {
	lin, err := r.h.Linearize(g)
	if err != nil {
		lin = []string{g}
	}

	all := map[string]V{}
	// base-first so derived overrides on collision.
	for i := len(lin) - 1; i >= 0; i-- {
		for name, v := range r.entries[lin[i]] {
			all[name] = v
		}
	}

	return all
}

// GetDirect returns only the items registered directly against g.
func (r *Registry[V]) GetDirect(g string) map[string]V {
	items, ok := r.entries[g]
	if !ok {
		return map[string]V{}
	}

	direct := make(map[string]V, len(items))
	for name, v := range items {
		direct[name] = v
	}
	return direct
}

// Names returns the sorted names of items registered directly against g.
func (r *Registry[V]) Names(g string) []string {
	items := r.entries[g]
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveAll drops every entry registered directly against g and invalidates
// affected caches.
func (r *Registry[V]) RemoveAll(g string) {
	delete(r.entries, g)
	r.Invalidate(g)
}

// Invalidate drops cached lookups for g and every transitive dependent.
// Container change hooks call this so registry caches stay consistent with
// grammar writes.
func (r *Registry[V]) Invalidate(g string) {
	delete(r.lookupCache, g)
	for _, derived := range r.h.TransitiveDerivedOf(g) {
		delete(r.lookupCache, derived)
	}
}
// staticHierarchy is a Hierarchy for registries used without any loaded
// grammars, e.g. in tests: every grammar is its own whole hierarchy.
type staticHierarchy struct{}

func (staticHierarchy) Linearize(g string) ([]string, error) { return []string{g}, nil }
func (staticHierarchy) TransitiveDerivedOf(g string) []string {
	return nil
}

// NewStandalone creates a Registry with no inheritance: lookups only ever
// see direct entries.
func NewStandalone[V any]() *Registry[V] {
	return New[V](staticHierarchy{})
}

// StandaloneHierarchy returns a Hierarchy with no inheritance, for
// registries used without a grammar container.
func StandaloneHierarchy() Hierarchy {
	return staticHierarchy{}
}
