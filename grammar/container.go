package grammar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dekarrin/stepgram/internal/util"
	"github.com/dekarrin/stepgram/parseerr"
)

// Container owns every loaded Grammar and maintains the inheritance graph
// over them: which grammars each one inherits from, and which ones inherit
// it. The two maps are kept as mutual transposes, and cycle detection runs
// on every insertion so the base graph is acyclic at all times.
type Container struct {
	grammars map[string]*Grammar

	// insertion order of grammar names, used for deterministic listings.
	order []string

	// derivedOf[g] holds the names of grammars that list g as a base.
	derivedOf map[string]util.StringSet

	onChange []func(name string)
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{
		grammars:  map[string]*Grammar{},
		derivedOf: map[string]util.StringSet{},
	}
}

// OnChange registers a hook called with a grammar's name whenever that
// grammar is added, removed, or touched. Resolution and registry caches
// subscribe here to invalidate themselves.
func (c *Container) OnChange(fn func(name string)) {
	c.onChange = append(c.onChange, fn)
}

func (c *Container) notify(name string) {
	for _, fn := range c.onChange {
		fn(name)
	}
}

// Add installs g in the container, replacing any grammar already present
// under the same name. It fails with a parseerr.CircularInheritance error if
// installing g would create a cycle in the base graph; the error message
// names the cycle. The grammar is validated first and rejected on any
// structural problem.
func (c *Container) Add(g *Grammar) error {
	if err := g.Validate(); err != nil {
		return err
	}

	// check for cycles before committing: walk up from every base of g; if
	// we can reach g again the insertion closes a loop.
	if cycle := c.findCycle(g); len(cycle) > 0 {
		return parseerr.Newf(parseerr.CircularInheritance, parseerr.Position{},
			"grammar %q closes an inheritance cycle: %s", g.Name, strings.Join(cycle, " -> "))
	}

	if old, ok := c.grammars[g.Name]; ok {
		c.unlink(old)
		g.Version = old.Version
	} else {
		c.order = append(c.order, g.Name)
	}

	c.grammars[g.Name] = g
	for _, base := range g.BaseGrammars {
		derived, ok := c.derivedOf[base]
		if !ok {
			derived = util.NewStringSet()
			c.derivedOf[base] = derived
		}
		derived.Add(g.Name)
	}

	c.Touch(g.Name)
	return nil
}

// CycleWith returns the inheritance cycle that installing g would create,
// normalized to start at the lexically smallest participant, or nil when
// installation is safe.
func (c *Container) CycleWith(g *Grammar) []string {
	return c.findCycle(g)
}

// findCycle returns the cycle that installing g would create, as a name
// path normalized by NormalizeCycle to start and end at the lexically
// smallest participant, or nil if installation is safe. Bases
// not yet present in the container cannot contribute to a cycle.
func (c *Container) findCycle(g *Grammar) []string {
	type frame struct {
		name string
		path []string
	}

	stack := []frame{}
	for _, base := range g.BaseGrammars {
		stack = append(stack, frame{name: base, path: []string{g.Name, base}})
	}

	visited := util.NewStringSet()
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.name == g.Name {
			return NormalizeCycle(f.path)
		}
		if visited.Has(f.name) {
			continue
		}
		visited.Add(f.name)

		next, ok := c.grammars[f.name]
		if !ok {
			continue
		}
		for _, base := range next.BaseGrammars {
			path := make([]string, len(f.path)+1)
			copy(path, f.path)
			path[len(path)-1] = base
			stack = append(stack, frame{name: base, path: path})
		}
	}

	return nil
}

// NormalizeCycle rotates a cycle path (first == last) so it starts at the
// lexically smallest participant, keeping error messages deterministic no
// matter which grammar's insertion exposed the loop.
func NormalizeCycle(path []string) []string {
	if len(path) < 2 {
		return path
	}

	ring := path[:len(path)-1]
	smallest := 0
	for i := range ring {
		if ring[i] < ring[smallest] {
			smallest = i
		}
	}

	rotated := make([]string, 0, len(path))
	for i := 0; i < len(ring); i++ {
		rotated = append(rotated, ring[(smallest+i)%len(ring)])
	}
	return append(rotated, ring[smallest])
}

func (c *Container) unlink(g *Grammar) {
	for _, base := range g.BaseGrammars {
		if derived, ok := c.derivedOf[base]; ok {
			derived.Remove(g.Name)
			if derived.Empty() {
				delete(c.derivedOf, base)
			}
		}
	}
}

// Get returns the grammar registered under name.
func (c *Container) Get(name string) (*Grammar, bool) {
	g, ok := c.grammars[name]
	return g, ok
}

// Has returns whether a grammar is registered under name.
func (c *Container) Has(name string) bool {
	_, ok := c.grammars[name]
	return ok
}

// Names returns the names of all registered grammars in insertion order.
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.grammars))
	for _, n := range c.order {
		if _, ok := c.grammars[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Len returns the number of registered grammars.
func (c *Container) Len() int {
	return len(c.grammars)
}

// BasesOf returns the names of the grammars that name directly inherits
// from, in listed order. Missing grammars have no bases.
func (c *Container) BasesOf(name string) []string {
	g, ok := c.grammars[name]
	if !ok {
		return nil
	}
	bases := make([]string, len(g.BaseGrammars))
	copy(bases, g.BaseGrammars)
	return bases
}

// DerivedOf returns the names of the grammars that directly inherit name.
func (c *Container) DerivedOf(name string) []string {
	derived, ok := c.derivedOf[name]
	if !ok {
		return nil
	}
	names := derived.Elements()
	sort.Strings(names)
	return names
}

// TransitiveDerivedOf returns the names of every grammar that inherits name
// directly or through any chain of bases.
func (c *Container) TransitiveDerivedOf(name string) []string {
	seen := util.NewStringSet()
	queue := c.DerivedOf(name)

	var all []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen.Has(n) {
			continue
		}
		seen.Add(n)
		all = append(all, n)
		queue = append(queue, c.DerivedOf(n)...)
	}

	return all
}

// Remove drops the grammar registered under name. Grammars deriving from it
// remain installed; their resolution will fail until the base is re-added.
func (c *Container) Remove(name string) {
	g, ok := c.grammars[name]
	if !ok {
		return
	}

	c.unlink(g)
	delete(c.grammars, name)
	c.notify(name)
}

// Clear drops every grammar.
func (c *Container) Clear() {
	names := c.Names()
	c.grammars = map[string]*Grammar{}
	c.derivedOf = map[string]util.StringSet{}
	c.order = nil
	for _, n := range names {
		c.notify(n)
	}
}

// Touch bumps the version of the named grammar and notifies change hooks,
// invalidating caches for it and every transitive derivative.
func (c *Container) Touch(name string) {
	if g, ok := c.grammars[name]; ok {
		g.Version++
	}
	c.notify(name)
}

// DependencyOrder sorts the given grammar names so that every grammar
// appears after all of its bases that are also in the list. Names whose
// dependency chains cannot be satisfied from within the list or the
// container are reported in the error.
func (c *Container) DependencyOrder(names []string) ([]string, error) {
	inList := util.NewStringSet()
	for _, n := range names {
		inList.Add(n)
	}

	var sorted []string
	state := map[string]int{} // 0 unvisited, 1 on stack, 2 done
	var unresolvable []string

	var visit func(n string) bool
	visit = func(n string) bool {
		switch state[n] {
		case 1:
			return false
		case 2:
			return true
		}
		state[n] = 1

		g, ok := c.grammars[n]
		if ok {
			for _, base := range g.BaseGrammars {
				if inList.Has(base) || c.Has(base) {
					if !visit(base) {
						state[n] = 2
						return false
					}
				} else {
					unresolvable = append(unresolvable, fmt.Sprintf("%s (missing base %s)", n, base))
				}
			}
		}

		state[n] = 2
		if inList.Has(n) {
			sorted = append(sorted, n)
		}
		return true
	}

	var cyclic []string
	for _, n := range names {
		if !visit(n) {
			cyclic = append(cyclic, n)
		}
	}

	if len(cyclic) > 0 {
		return nil, parseerr.Newf(parseerr.CircularInheritance, parseerr.Position{},
			"dependency order contains a cycle involving %s", util.MakeTextList(cyclic))
	}
	if len(unresolvable) > 0 {
		return nil, parseerr.Newf(parseerr.MissingGrammar, parseerr.Position{},
			"cannot resolve dependencies: %s", util.MakeTextList(unresolvable))
	}

	return sorted, nil
}
