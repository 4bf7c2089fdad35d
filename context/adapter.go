package context

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dekarrin/stepgram/arena"
	"github.com/dekarrin/stepgram/grammar"
)

// Scoring constants for RankProductions. Every candidate starts at the
// base; being expected in a current scope and continuing a recognized
// pattern add to it; the total is capped at 1.0.
const (
	rankBase             = 0.5
	rankExpectedInScope  = 0.3
	rankContinuesPattern = 0.2
	rankCap              = 1.0
)

// DefaultScopeOpenMarkers are the production-name substrings that push a
// scope when a production whose name contains one completes. The naming
// convention is language-agnostic; hosts may replace the set.
var DefaultScopeOpenMarkers = []string{"block_start", "function_start", "class_start", "scope_start"}

// DefaultScopeCloseMarkers are the matching closers, index-aligned with
// DefaultScopeOpenMarkers.
var DefaultScopeCloseMarkers = []string{"block_end", "function_end", "class_end", "scope_end"}

// RecoveryMove is the adapter's answer to "what recovery is worth trying
// here".
type RecoveryMove int

const (
	// MoveNone means nothing is worth trying; release the path.
	MoveNone RecoveryMove = iota

	// MoveSkip means advance past the offending token and continue.
	MoveSkip

	// MoveBacktrack means abandon this hypothesis; the path is released so
	// surviving sibling paths carry the parse.
	MoveBacktrack
)

func (m RecoveryMove) String() string {
	switch m {
	case MoveSkip:
		return "skip"
	case MoveBacktrack:
		return "backtrack"
	default:
		return "none"
	}
}

// ScoredProduction pairs a candidate production with its context-fitness
// score.
type ScoredProduction struct {
	Production grammar.Production
	Score      float64
}

// Adapter owns the symbol table and the scope-marker configuration, and
// answers context questions for parser paths. The adapter itself is
// mutable engine state; the snapshots it hands out are immutable.
type Adapter struct {
	interner *arena.StringInterner
	symbols  *SymbolTable

	openMarkers  []string
	closeMarkers []string

	states map[string]bool

	// splitter, when set, marks token text as inter-token separation that
	// is worth skipping rather than treating as an error.
	splitter *regexp.Regexp
}

// NewAdapter creates an Adapter interning symbol names through in and using
// the default scope markers.
func NewAdapter(in *arena.StringInterner) *Adapter {
	return &Adapter{
		interner:     in,
		symbols:      NewSymbolTable(),
		openMarkers:  append([]string{}, DefaultScopeOpenMarkers...),
		closeMarkers: append([]string{}, DefaultScopeCloseMarkers...),
		states:       map[string]bool{},
	}
}

// Symbols returns the engine-owned symbol table.
func (a *Adapter) Symbols() *SymbolTable {
	return a.symbols
}

// SetScopeMarkers replaces the scope open/close marker sets. The two slices
// must be index-aligned.
func (a *Adapter) SetScopeMarkers(openers, closers []string) {
	a.openMarkers = append([]string{}, openers...)
	a.closeMarkers = append([]string{}, closers...)
}

// SetTokenSplitter configures the grammar's token splitter: SplitSpace
// skips whitespace between tokens (the default behavior), SplitPattern
// skips text matching the given pattern, SplitNone skips whitespace only.
func (a *Adapter) SetTokenSplitter(ts grammar.TokenSplitter) error {
	if ts.Kind != grammar.SplitPattern {
		a.splitter = nil
		return nil
	}
	re, err := regexp.Compile("^(?:" + ts.Pattern + ")$")
	if err != nil {
		return err
	}
	a.splitter = re
	return nil
}

// SetState sets a named context state. Productions and terminals gated on
// the name follow it.
func (a *Adapter) SetState(name string, active bool) {
	a.states[name] = active
}

// State returns a named context state; unset names are inactive.
func (a *Adapter) State(name string) bool {
	return a.states[name]
}

// InitialSnapshot returns the snapshot a fresh parser path starts with.
func (a *Adapter) InitialSnapshot() *Snapshot {
	return NewSnapshot(nil, nil, "", 0)
}

// ObserveToken returns the snapshot advanced to the position after tok.
func (a *Adapter) ObserveToken(tokText string, snap *Snapshot) *Snapshot {
	return snap.WithPosition(snap.Position() + len(tokText))
}

// ObserveProduction folds a completed production into the snapshot:
// scope-opening names push a scope, their closers pop one, and the parse
// state becomes the production's name.
func (a *Adapter) ObserveProduction(prodName string, pos int, snap *Snapshot) *Snapshot {
	next := snap.WithParseState(prodName)

	for _, marker := range a.closeMarkers {
		if strings.Contains(prodName, marker) {
			return next.WithScopePopped()
		}
	}
	for _, marker := range a.openMarkers {
		if strings.Contains(prodName, marker) {
			return next.WithScopePushed(scopeLabel(prodName, pos))
		}
	}

	return next
}

// scopeLabel names a scope opened by a production at a position. Positions
// keep same-named scopes at different places distinct.
func scopeLabel(prodName string, pos int) string {
	return prodName + "@" + strconv.Itoa(pos)
}

// DefineSymbol interns the symbol's name, installs it in the table under
// the snapshot's current scope, and returns a snapshot that knows it.
func (a *Adapter) DefineSymbol(info SymbolInfo, snap *Snapshot) (*Snapshot, error) {
	if info.Scope == "" {
		info.Scope = snap.CurrentScope()
	}
	if info.ContextPath == nil {
		info.ContextPath = snap.ScopeStack()
	}

	id, err := a.interner.Intern(info.Name)
	if err != nil {
		return snap, err
	}

	a.symbols.Define(info)
	return snap.WithSymbol(id), nil
}

// IsTerminalValid returns whether terminal t may appear under the given
// snapshot. A terminal is valid unless a context state bearing its name has
// been explicitly switched off.
func (a *Adapter) IsTerminalValid(t grammar.Terminal, snap *Snapshot) bool {
	if active, ok := a.states[t.Name]; ok && !active {
		return false
	}
	return true
}

// IsProductionValidInContext returns whether prod may be applied under the
// given snapshot with lookahead token text tok. A production with a context
// qualifier requires either an active context state of that name or a
// scope of that kind somewhere on the stack; an unqualified production is
// valid unless its name's context state is switched off.
func (a *Adapter) IsProductionValidInContext(prod grammar.Production, snap *Snapshot, tok string) bool {
	if prod.Context != "" {
		if active, ok := a.states[prod.Context]; ok {
			return active
		}
		for _, scope := range snap.ScopeStack() {
			if strings.HasPrefix(scope, prod.Context) {
				return true
			}
		}
		return false
	}

	if active, ok := a.states[prod.Name]; ok && !active {
		return false
	}
	return true
}

// Fitness computes the context-fitness score of one production under the
// snapshot.
func (a *Adapter) Fitness(prod grammar.Production, snap *Snapshot) float64 {
	score := rankBase

	if prod.Context != "" && snap.InScopeKind(prod.Context) {
		score += rankExpectedInScope
	}

	if continuesPattern(prod, snap.ParseState()) {
		score += rankContinuesPattern
	}

	if score > rankCap {
		score = rankCap
	}
	return score
}

// continuesPattern reports whether prod continues the pattern recognized so
// far: its first part references the most recently completed production.
func continuesPattern(prod grammar.Production, parseState string) bool {
	if parseState == "" || len(prod.Parts) == 0 {
		return false
	}
	return prod.Parts[0].Name() == parseState
}

// RankProductions scores every candidate and returns them sorted by score
// descending; ties keep the candidates' given order so grammar definition
// order remains the final tie-break.
func (a *Adapter) RankProductions(prods []grammar.Production, snap *Snapshot) []ScoredProduction {
	scored := make([]ScoredProduction, len(prods))
	for i := range prods {
		scored[i] = ScoredProduction{Production: prods[i], Score: a.Fitness(prods[i], snap)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// ProposeRecovery suggests a recovery move for a parser path that found no
// candidate production for a token: whitespace, empty tokens, and splitter
// matches are worth skipping; anything else abandons the hypothesis so
// sibling paths can carry the parse.
func (a *Adapter) ProposeRecovery(tokText string, snap *Snapshot) RecoveryMove {
	if strings.TrimSpace(tokText) == "" {
		return MoveSkip
	}
	if a.splitter != nil && a.splitter.MatchString(tokText) {
		return MoveSkip
	}
	return MoveBacktrack
}
