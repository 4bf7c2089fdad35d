// Package inherit resolves grammar inheritance. Given a derived grammar in a
// container, the Resolver computes a deterministic linearization of its
// transitive bases and merges them base-first into a fresh, fully flattened
// Grammar. Resolved grammars are cached until any grammar on their hierarchy
// changes.
package inherit

import (
	"sort"
	"strings"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/internal/util"
	"github.com/dekarrin/stepgram/parseerr"
)

// Problem is one issue found by ValidateInheritance. Warning-level problems
// do not prevent resolution.
type Problem struct {
	Grammar string
	Message string
	Warning bool
}

func (p Problem) String() string {
	sev := "error"
	if p.Warning {
		sev = "warning"
	}
	return p.Grammar + ": " + sev + ": " + p.Message
}

// Resolver merges derived grammars with their transitive bases. It caches
// results keyed by derived name and subscribes to the container's change
// hooks so that a write to any grammar drops the cache entries of that
// grammar and every transitive derivative.
type Resolver struct {
	c     *grammar.Container
	cache map[string]*grammar.Grammar
}

// NewResolver creates a Resolver over the given container and hooks its
// cache invalidation into the container's change notifications.
func NewResolver(c *grammar.Container) *Resolver {
	r := &Resolver{
		c:     c,
		cache: map[string]*grammar.Grammar{},
	}

	c.OnChange(func(name string) {
		r.Invalidate(name)
	})

	return r
}

// Invalidate drops the cached resolution of name and of every grammar that
// transitively derives from it.
func (r *Resolver) Invalidate(name string) {
	delete(r.cache, name)
	for _, derived := range r.c.TransitiveDerivedOf(name) {
		delete(r.cache, derived)
	}
}

// Resolve produces the fully merged grammar for name. A grammar with no
// bases resolves to a copy of itself. Resolution fails with MissingGrammar
// if name or any transitive base is absent, and with CircularInheritance if
// the hierarchy loops (which the container normally prevents at insertion).
func (r *Resolver) Resolve(name string) (*grammar.Grammar, error) {
	return r.resolve(name, nil)
}

func (r *Resolver) resolve(name string, stack []string) (*grammar.Grammar, error) {
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	if util.InSlice(name, stack) {
		cycle := append(append([]string{}, stack...), name)
		return nil, parseerr.Newf(parseerr.CircularInheritance, parseerr.Position{},
			"inheritance cycle: %s", strings.Join(cycle, " -> "))
	}

	g, ok := r.c.Get(name)
	if !ok {
		return nil, parseerr.Newf(parseerr.MissingGrammar, parseerr.Position{},
			"no grammar named %q is loaded", name)
	}

	// resolve all bases first so the linearization below can rely on their
	// own hierarchies being consistent.
	stack = append(stack, name)
	for _, base := range g.BaseGrammars {
		if _, err := r.resolve(base, stack); err != nil {
			return nil, err
		}
	}

	lin, err := r.linearize(name, nil)
	if err != nil {
		return nil, err
	}

	merged := r.merge(name, lin)
	r.cache[name] = merged
	return merged, nil
}

// Linearize returns the resolution order of name's hierarchy from
// most-derived to most-base: name itself first, then its bases in C3-style
// order with ties broken by the order bases are listed on each grammar.
func (r *Resolver) Linearize(name string) ([]string, error) {
	return r.linearize(name, nil)
}

func (r *Resolver) linearize(name string, stack []string) ([]string, error) {
	if util.InSlice(name, stack) {
		cycle := append(append([]string{}, stack...), name)
		return nil, parseerr.Newf(parseerr.CircularInheritance, parseerr.Position{},
			"inheritance cycle: %s", strings.Join(cycle, " -> "))
	}

	g, ok := r.c.Get(name)
	if !ok {
		return nil, parseerr.Newf(parseerr.MissingGrammar, parseerr.Position{},
			"no grammar named %q is loaded", name)
	}

	if len(g.BaseGrammars) == 0 {
		return []string{name}, nil
	}

	stack = append(stack, name)

	// C3: merge the linearizations of each base plus the list of bases
	// itself, always taking the head that appears in no other sequence's
	// tail.
	var seqs [][]string
	for _, base := range g.BaseGrammars {
		baseLin, err := r.linearize(base, stack)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, baseLin)
	}
	seqs = append(seqs, append([]string{}, g.BaseGrammars...))

	merged, err := c3Merge(seqs)
	if err != nil {
		return nil, parseerr.Wrap(parseerr.CircularInheritance, parseerr.Position{},
			"cannot linearize bases of grammar "+name, err)
	}

	return append([]string{name}, merged...), nil
}

func c3Merge(seqs [][]string) ([]string, error) {
	var out []string

	for {
		// drop exhausted sequences
		live := seqs[:0]
		for _, s := range seqs {
			if len(s) > 0 {
				live = append(live, s)
			}
		}
		seqs = live
		if len(seqs) == 0 {
			return out, nil
		}

		// find a good head: one that appears in no sequence's tail. scanning
		// the sequences in order makes the listed base order the tie-break.
		var head string
		found := false
		for _, s := range seqs {
			candidate := s[0]
			inTail := false
			for _, s2 := range seqs {
				for i := 1; i < len(s2); i++ {
					if s2[i] == candidate {
						inTail = true
						break
					}
				}
				if inTail {
					break
				}
			}
			if !inTail {
				head = candidate
				found = true
				break
			}
		}
		if !found {
			return nil, parseerr.Newf(parseerr.CircularInheritance, parseerr.Position{},
				"inconsistent hierarchy: no valid linearization head among %s", util.MakeTextList(heads(seqs)))
		}

		out = append(out, head)
		for i := range seqs {
			if len(seqs[i]) > 0 && seqs[i][0] == head {
				seqs[i] = seqs[i][1:]
			} else {
				// the head cannot be in a tail, so no other removal is needed
				seqs[i] = removeAll(seqs[i], head)
			}
		}
	}
}

func heads(seqs [][]string) []string {
	var hs []string
	for _, s := range seqs {
		if len(s) > 0 {
			hs = append(hs, s[0])
		}
	}
	return hs
}

func removeAll(s []string, val string) []string {
	out := s[:0]
	for _, v := range s {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}

// merge walks the linearization base-first and overlays each grammar's
// contents onto a fresh grammar named after the derived one.
func (r *Resolver) merge(name string, lin []string) *grammar.Grammar {
	merged := grammar.New(name)

	// the derived grammar's scalars always win; take them up front.
	derived, _ := r.c.Get(name)
	merged.FormatType = derived.FormatType
	merged.Inheritable = derived.Inheritable
	merged.ImportSemantics = derived.ImportSemantics
	merged.CoordinateTokens = derived.CoordinateTokens
	merged.TokenSplitter = derived.TokenSplitter
	merged.BaseGrammars = append([]string{}, derived.BaseGrammars...)

	// walk base-first: reverse of the most-derived-first linearization.
	startTermIdx := map[string]int{}
	startProdSeen := util.NewStringSet()
	precByLevel := map[int]grammar.PrecedenceRule{}
	assocByOp := map[string]grammar.AssociativityRule{}
	syncTokens := util.NewStringSet()

	for i := len(lin) - 1; i >= 0; i-- {
		g, ok := r.c.Get(lin[i])
		if !ok {
			continue
		}

		// productions: name-keyed; a more-derived definition replaces every
		// alternative of the name and moves it to its own position.
		for _, prodName := range g.ProductionNames() {
			alts := g.ProductionsNamed(prodName)
			copies := make([]grammar.Production, len(alts))
			for j := range alts {
				copies[j] = alts[j].Copy()
			}
			merged.AddProduction(copies...)
		}

		// start terminals: union by name, derived overrides on collision.
		for _, st := range g.StartTerminals {
			if idx, ok := startTermIdx[st.Name]; ok {
				merged.StartTerminals[idx] = st
			} else {
				startTermIdx[st.Name] = len(merged.StartTerminals)
				merged.StartTerminals = append(merged.StartTerminals, st)
			}
		}

		// start productions: union by name.
		for _, sp := range g.StartProductions {
			if !startProdSeen.Has(sp) {
				startProdSeen.Add(sp)
				merged.StartProductions = append(merged.StartProductions, sp)
			}
		}

		// precedence: level-keyed, derived overrides.
		for _, pr := range g.PrecedenceRules {
			precByLevel[pr.Level] = pr
		}

		// associativity: operator-keyed, derived overrides.
		for _, ar := range g.AssociativityRules {
			assocByOp[ar.Operator] = ar
		}

		// semantic action templates: name-keyed, derived overrides.
		for tmplName, tmpl := range g.SemanticActionTemplates {
			merged.SemanticActionTemplates[tmplName] = tmpl.Copy()
		}

		// error recovery: sync tokens union; kind and reporting take the
		// most-derived non-default value (later iterations are more derived,
		// so plain overwrite of non-defaults works).
		for tok := range g.ErrorRecovery.SyncTokens {
			syncTokens.Add(tok)
		}
		if !g.ErrorRecovery.IsDefault() {
			merged.ErrorRecovery.Kind = g.ErrorRecovery.Kind
			merged.ErrorRecovery.SkipCount = g.ErrorRecovery.SkipCount
			merged.ErrorRecovery.Token = g.ErrorRecovery.Token
			if g.ErrorRecovery.Reporting != grammar.ReportDefault {
				merged.ErrorRecovery.Reporting = g.ErrorRecovery.Reporting
			}
		}
	}

	if !syncTokens.Empty() {
		merged.ErrorRecovery.SyncTokens = syncTokens
	}

	for _, pr := range precByLevel {
		merged.PrecedenceRules = append(merged.PrecedenceRules, pr)
	}
	merged.PrecedenceRules = grammar.SortPrecedenceRules(merged.PrecedenceRules)

	assocOps := make([]string, 0, len(assocByOp))
	for op := range assocByOp {
		assocOps = append(assocOps, op)
	}
	sort.Strings(assocOps)
	for _, op := range assocOps {
		merged.AssociativityRules = append(merged.AssociativityRules, assocByOp[op])
	}

	return merged
}

// ValidateInheritance performs the same hierarchy walk as Resolve but only
// records problems instead of failing on the first one: missing bases and
// cycles are errors, inheriting a non-inheritable base is a warning.
func (r *Resolver) ValidateInheritance(name string) []Problem {
	var problems []Problem
	seen := util.NewStringSet()
	r.validateWalk(name, nil, seen, &problems)
	return problems
}

func (r *Resolver) validateWalk(name string, stack []string, seen util.StringSet, problems *[]Problem) {
	if util.InSlice(name, stack) {
		cycle := append(append([]string{}, stack...), name)
		*problems = append(*problems, Problem{
			Grammar: stack[0],
			Message: "inheritance cycle: " + strings.Join(cycle, " -> "),
		})
		return
	}

	g, ok := r.c.Get(name)
	if !ok {
		from := name
		if len(stack) > 0 {
			from = stack[len(stack)-1]
		}
		*problems = append(*problems, Problem{
			Grammar: from,
			Message: "base grammar " + name + " is not loaded",
		})
		return
	}

	if len(stack) > 0 && !g.Inheritable {
		*problems = append(*problems, Problem{
			Grammar: stack[len(stack)-1],
			Message: "base grammar " + name + " is not inheritable",
			Warning: true,
		})
	}

	if seen.Has(name) {
		return
	}
	seen.Add(name)

	stack = append(stack, name)
	for _, base := range g.BaseGrammars {
		r.validateWalk(base, stack, seen, problems)
	}
}
