// Package interp contains the Interpreter, the coordinator that owns every
// engine subsystem: the arena and pools, the grammar container and
// resolver, the four registries, the context adapter, and the lexer/parser
// pair a parse runs on. It exposes the engine's public surface: grammar
// loading with dependency ordering, registration of callbacks and registry
// values, and the parse entry point.
package interp

import (
	"errors"
	"strings"

	"github.com/dekarrin/stepgram/arena"
	"github.com/dekarrin/stepgram/config"
	"github.com/dekarrin/stepgram/context"
	"github.com/dekarrin/stepgram/fishi"
	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/inherit"
	"github.com/dekarrin/stepgram/lex"
	"github.com/dekarrin/stepgram/parseerr"
	"github.com/dekarrin/stepgram/registry"
	"github.com/dekarrin/stepgram/stepparse"
	"github.com/google/uuid"
)

// GrammarHandle identifies one successful grammar load. Names are reused
// across reloads; handles are not.
type GrammarHandle struct {
	ID   uuid.UUID
	Name string
}

// GrammarSource is one grammar file to load.
type GrammarSource struct {
	Content  string
	FileName string
}

// Result is the outcome of a parse: the match forest, tagged by path id so
// callers can select among ambiguous parses, plus every warning (including
// recovered errors) and, for unsuccessful parses, a non-empty error list.
type Result struct {
	Forest   []*stepparse.ProductionMatch
	Warnings []parseerr.Warning
	Errors   []*parseerr.Error

	// Tokens carries the emitted token stream, path-lifecycle markers
	// included, when the engine is configured to surface path tokens.
	Tokens []lex.AlignedToken
}

// Succeeded returns whether at least one path consumed all input.
func (r Result) Succeeded() bool {
	return len(r.Errors) == 0
}

// hierarchy adapts the resolver and container to the registry.Hierarchy
// interface.
type hierarchy struct {
	r *inherit.Resolver
	c *grammar.Container
}

func (h hierarchy) Linearize(g string) ([]string, error) { return h.r.Linearize(g) }
func (h hierarchy) TransitiveDerivedOf(g string) []string {
	return h.c.TransitiveDerivedOf(g)
}

// Interpreter is the engine handle. All subsystems are addressable through
// it; there is no global mutable state. One Interpreter runs one parse at a
// time; concurrent parses need their own Interpreter each, though the
// grammar model and registries may be pre-populated before sharing an
// engine across sequential parses.
type Interpreter struct {
	cfg config.EngineConfig

	arena    *arena.Arena
	interner *arena.StringInterner

	container *grammar.Container
	resolver  *inherit.Resolver

	precedence    *registry.Precedence
	associativity *registry.Associativity
	semantics     *registry.SemanticActions
	recoveries    *registry.Recoveries

	adapter *context.Adapter

	callbacks map[string]grammar.Hook
	executor  stepparse.ScriptExecutor
	user      any

	handles map[uuid.UUID]string

	// pendingWarnings holds load-time warnings (e.g. the legacy Include:
	// directive) surfaced on the next parse result.
	pendingWarnings []parseerr.Warning
}

// New creates an Interpreter with compiled-in default configuration.
func New() *Interpreter {
	return NewWithConfig(config.Default())
}

// NewWithConfig creates an Interpreter with the given configuration.
func NewWithConfig(cfg config.EngineConfig) *Interpreter {
	a := arena.New(0, cfg.ArenaHardCapBytes)

	c := grammar.NewContainer()
	r := inherit.NewResolver(c)
	h := hierarchy{r: r, c: c}

	assoc := registry.NewAssociativity(h)

	i := &Interpreter{
		cfg:           cfg,
		arena:         a,
		interner:      arena.NewStringInterner(a),
		container:     c,
		resolver:      r,
		precedence:    registry.NewPrecedence(h, assoc),
		associativity: assoc,
		semantics:     registry.NewSemanticActions(h),
		recoveries:    registry.NewRecoveries(h),
		callbacks:     map[string]grammar.Hook{},
		handles:       map[uuid.UUID]string{},
	}
	i.adapter = context.NewAdapter(i.interner)

	c.OnChange(func(name string) {
		i.precedence.Invalidate(name)
		i.associativity.Invalidate(name)
		i.semantics.Invalidate(name)
		i.recoveries.Invalidate(name)
	})

	return i
}

// Container exposes the grammar container, mainly for inspection.
func (i *Interpreter) Container() *grammar.Container {
	return i.container
}

// Resolver exposes the inheritance resolver.
func (i *Interpreter) Resolver() *inherit.Resolver {
	return i.resolver
}

// LoadGrammar parses grammar-file content, installs the grammar in the
// container, seeds the registries from its declared rules, and returns a
// fresh handle. With resolve set, inheritance is resolved eagerly so
// missing bases surface now instead of at parse time. Loading errors are
// not recoverable: on any error the grammar is not installed, and a
// detected inheritance cycle additionally uninstalls the other cycle
// participants, each reported as its own wrapped CircularInheritance error.
func (i *Interpreter) LoadGrammar(content, fileName string, resolve bool) (GrammarHandle, error) {
	g, warns, err := fishi.Parse(content, fileName)
	if err != nil {
		return GrammarHandle{}, err
	}
	i.pendingWarnings = append(i.pendingWarnings, warns...)

	if cycle := i.container.CycleWith(g); len(cycle) > 0 {
		cycleStr := strings.Join(cycle, " -> ")
		var participantErrs []error
		for _, name := range cycle[:len(cycle)-1] {
			participantErrs = append(participantErrs, parseerr.Newf(parseerr.CircularInheritance,
				parseerr.Position{File: fileName, Line: 1, Column: 1},
				"grammar %q participates in inheritance cycle %s", name, cycleStr))
			if name != g.Name {
				i.container.Remove(name)
			}
		}
		return GrammarHandle{}, parseerr.Wrap(parseerr.CircularInheritance,
			parseerr.Position{File: fileName, Line: 1, Column: 1},
			"cannot install grammar "+g.Name, participantErrs...)
	}

	if err := i.container.Add(g); err != nil {
		return GrammarHandle{}, err
	}

	i.seedRegistries(g)

	if resolve {
		if _, err := i.resolver.Resolve(g.Name); err != nil {
			i.container.Remove(g.Name)
			return GrammarHandle{}, err
		}
	}

	handle := GrammarHandle{ID: uuid.New(), Name: g.Name}
	i.handles[handle.ID] = g.Name
	return handle, nil
}

// seedRegistries installs a loaded grammar's declared precedence,
// associativity, and semantic-action rules into the registries, plus its
// recovery strategy when one is declared.
func (i *Interpreter) seedRegistries(g *grammar.Grammar) {
	for _, pr := range g.PrecedenceRules {
		i.precedence.Register(g.Name, pr.Operator, pr)
	}
	for _, ar := range g.AssociativityRules {
		i.associativity.Register(g.Name, ar.Operator, ar)
	}
	for name, sa := range g.SemanticActionTemplates {
		i.semantics.Register(g.Name, name, sa)
	}
	if !g.ErrorRecovery.IsDefault() {
		i.recoveries.Register(g.Name, "syntax", g.ErrorRecovery)
	}
}

// LoadGrammarsWithDependencies loads a set of grammar files in dependency
// order regardless of the order given. Grammars whose base chains cannot be
// satisfied — missing bases or cycles — are not installed and are reported
// in the returned error list; the rest load normally.
func (i *Interpreter) LoadGrammarsWithDependencies(sources []GrammarSource) ([]GrammarHandle, []error) {
	type parsed struct {
		src GrammarSource
		g   *grammar.Grammar
	}

	var handles []GrammarHandle
	var errs []error

	var pending []parsed
	for _, src := range sources {
		g, warns, err := fishi.Parse(src.Content, src.FileName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		i.pendingWarnings = append(i.pendingWarnings, warns...)
		pending = append(pending, parsed{src: src, g: g})
	}

	// repeatedly install every grammar whose bases are all available; what
	// remains at a fixed point is unresolvable.
	for {
		progress := false
		var still []parsed

		for _, p := range pending {
			ready := true
			for _, base := range p.g.BaseGrammars {
				if !i.container.Has(base) {
					ready = false
					break
				}
			}
			if !ready {
				still = append(still, p)
				continue
			}

			handle, err := i.LoadGrammar(p.src.Content, p.src.FileName, false)
			if err != nil {
				errs = append(errs, err)
			} else {
				handles = append(handles, handle)
			}
			progress = true
		}

		pending = still
		if !progress || len(pending) == 0 {
			break
		}
	}

	// whatever is left is unresolvable. A base that is itself in the
	// pending set means the grammars are mutually blocked — a cycle, which
	// must be reported as CircularInheritance naming the loop, not as a
	// missing grammar; only bases absent from both the container and the
	// batch are genuinely missing.
	pendingBases := map[string][]string{}
	for _, p := range pending {
		pendingBases[p.g.Name] = p.g.BaseGrammars
	}

	for _, p := range pending {
		var missing []string
		for _, base := range p.g.BaseGrammars {
			if !i.container.Has(base) {
				if _, inBatch := pendingBases[base]; !inBatch {
					missing = append(missing, base)
				}
			}
		}
		if len(missing) > 0 {
			errs = append(errs, parseerr.Newf(parseerr.MissingGrammar,
				parseerr.Position{File: p.src.FileName, Line: 1, Column: 1},
				"cannot load grammar %q: unresolvable base(s) %s", p.g.Name, strings.Join(missing, ", ")))
			continue
		}

		if cycle := findPendingCycle(p.g.Name, pendingBases); len(cycle) > 0 {
			errs = append(errs, parseerr.Newf(parseerr.CircularInheritance,
				parseerr.Position{File: p.src.FileName, Line: 1, Column: 1},
				"grammar %q participates in inheritance cycle %s", p.g.Name, strings.Join(cycle, " -> ")))
			continue
		}

		// not on a cycle itself, but blocked behind one elsewhere in the
		// batch.
		errs = append(errs, parseerr.Newf(parseerr.MissingGrammar,
			parseerr.Position{File: p.src.FileName, Line: 1, Column: 1},
			"cannot load grammar %q: base(s) blocked by an inheritance cycle", p.g.Name))
	}

	return handles, errs
}

// findPendingCycle walks the pending grammars' base edges from start and
// returns the cycle through start, normalized, or nil when start is not on
// one.
func findPendingCycle(start string, bases map[string][]string) []string {
	type frame struct {
		name string
		path []string
	}

	stack := []frame{{name: start, path: []string{start}}}
	visited := map[string]bool{}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, base := range bases[f.name] {
			if base == start {
				return grammar.NormalizeCycle(append(append([]string{}, f.path...), start))
			}
			if visited[base] {
				continue
			}
			visited[base] = true
			path := append(append([]string{}, f.path...), base)
			stack = append(stack, frame{name: base, path: path})
		}
	}

	return nil
}

// RegisterCallback installs fn under name for productions declaring a
// `=> {name}` callback.
func (i *Interpreter) RegisterCallback(name string, fn grammar.Hook) {
	i.callbacks[name] = fn
}

// RegisterSemanticAction installs a semantic action for (grammarName,
// name); it fires when the production of that name completes in that
// grammar or any grammar inheriting it.
func (i *Interpreter) RegisterSemanticAction(grammarName, name string, action grammar.SemanticAction) {
	i.semantics.Register(grammarName, name, action)
	i.container.Touch(grammarName)
}

// RegisterPrecedence assigns op a precedence level in grammarName.
func (i *Interpreter) RegisterPrecedence(grammarName, op string, level int) {
	i.precedence.Register(grammarName, op, grammar.PrecedenceRule{Operator: op, Level: level})
	i.container.Touch(grammarName)
}

// RegisterAssociativity assigns op an associativity in grammarName.
func (i *Interpreter) RegisterAssociativity(grammarName, op string, assoc grammar.Associativity) {
	i.associativity.Register(grammarName, op, grammar.AssociativityRule{Operator: op, Assoc: assoc})
	i.container.Touch(grammarName)
}

// RegisterRecovery installs a recovery strategy for the given error type
// ("lexical", "syntax", or "semantic") in grammarName.
func (i *Interpreter) RegisterRecovery(grammarName, errType string, strategy grammar.RecoveryStrategy) {
	i.recoveries.Register(grammarName, errType, strategy)
	i.container.Touch(grammarName)
}

// SetScriptExecutor installs the host's executor for script-kind semantic
// actions.
func (i *Interpreter) SetScriptExecutor(ex stepparse.ScriptExecutor) {
	i.executor = ex
}

// SetUserContext sets the object handed to every callback as ctx.User.
func (i *Interpreter) SetUserContext(user any) {
	i.user = user
}

// SetContextState switches a named context state; productions and
// terminals gated on the name follow it.
func (i *Interpreter) SetContextState(name string, active bool) {
	i.adapter.SetState(name, active)
}

// ContextState returns a named context state.
func (i *Interpreter) ContextState(name string) bool {
	return i.adapter.State(name)
}

// ComparePrecedence compares two operators' precedence as visible from
// grammarName; ok is false when either has no rule.
func (i *Interpreter) ComparePrecedence(grammarName, op1, op2 string) (cmp int, ok bool) {
	return i.precedence.Compare(grammarName, op1, op2)
}

// PrecedenceTable returns grammarName's visible precedence rules grouped by
// level ascending.
func (i *Interpreter) PrecedenceTable(grammarName string) ([]registry.OperatorGroup, []registry.TableWarning) {
	return i.precedence.Table(grammarName)
}

// ValidateGrammar records the problems in grammarName's inheritance
// hierarchy without failing on the first.
func (i *Interpreter) ValidateGrammar(grammarName string) []inherit.Problem {
	return i.resolver.ValidateInheritance(grammarName)
}

// Parse runs the engine over source lines under the named grammar. It
// pulls token batches from the step lexer until exhaustion and returns the
// resulting forest. A successful parse may still carry warnings from
// recovered errors; an unsuccessful one returns the best-scoring partial
// forest with a non-empty error list. Budget, path-explosion, and
// arena-exhaustion failures roll engine memory back to its pre-parse state
// and are returned as errors.
func (i *Interpreter) Parse(grammarName string, sourceLines []string) (Result, error) {
	resolved, err := i.resolver.Resolve(grammarName)
	if err != nil {
		return Result{}, err
	}

	if err := i.adapter.SetTokenSplitter(resolved.TokenSplitter); err != nil {
		return Result{}, err
	}

	baseline := i.arena.Snapshot()
	internerBaseline := i.interner.Len()

	parser := stepparse.New(i.cfg, i.adapter, i.semantics, i.recoveries)
	for name, fn := range i.callbacks {
		parser.RegisterCallback(name, fn)
	}
	if i.executor != nil {
		parser.SetScriptExecutor(i.executor)
	}
	parser.SetUserContext(i.user)

	lexer := lex.New(i.cfg, i.interner, parser)
	if err := lexer.Start(grammarName, sourceLines); err != nil {
		return Result{}, err
	}
	parser.Begin(resolved, grammarName, lexer, lexer.Resolve)

	var surfaced []lex.AlignedToken

	for lexer.HasNext() {
		batch, err := lexer.NextTokens()
		if err != nil {
			i.rollback(baseline, internerBaseline)
			return Result{}, err
		}

		if i.cfg.SurfacePathTokens {
			surfaced = append(surfaced, batch...)
		} else {
			for _, tok := range batch {
				if !tok.IsControl() {
					surfaced = append(surfaced, tok)
				}
			}
		}

		if err := parser.DriveBatch(batch); err != nil {
			i.rollback(baseline, internerBaseline)
			return Result{}, err
		}
	}

	result := Result{
		Forest:   parser.Forest(),
		Warnings: append(i.pendingWarnings, parser.Warnings()...),
		Tokens:   surfaced,
	}
	i.pendingWarnings = nil

	if !parser.Succeeded() {
		result.Errors = parser.Errors()
		if len(result.Errors) == 0 {
			result.Errors = []*parseerr.Error{parseerr.Newf(parseerr.Syntax,
				parseerr.Position{File: grammarName, Line: 1, Column: 1},
				"no parse path consumed the input")}
		}
	}

	return result, nil
}

// rollback restores the arena to its pre-parse contents and discards
// strings interned since, re-establishing the safe rollback point after a
// Budget, PathExplosion, or ArenaExhausted failure.
func (i *Interpreter) rollback(baseline arena.Snapshot, internerBaseline int) {
	// truncate first: it reads the to-be-discarded strings' bytes, which
	// are only addressable before the arena shrinks back.
	i.interner.Truncate(internerBaseline)
	i.arena.Restore(baseline)
}

// Reset drops all run state: the arena, interned strings, and the symbol
// table. Loaded grammars and registry contents survive; ClearGrammars
// drops those too.
func (i *Interpreter) Reset() {
	i.arena.Reset()
	i.interner.Reset()
	i.adapter = context.NewAdapter(i.interner)
	i.pendingWarnings = nil
}

// ClearGrammars drops every loaded grammar, resolution cache entry, and
// registry value.
func (i *Interpreter) ClearGrammars() {
	for _, name := range i.container.Names() {
		i.precedence.RemoveAll(name)
		i.associativity.RemoveAll(name)
		i.semantics.RemoveAll(name)
		i.recoveries.RemoveAll(name)
	}
	i.container.Clear()
	i.handles = map[uuid.UUID]string{}
}

// IsBudgetError reports whether err is one of the unrecoverable resource
// failures that end a parse: Budget, PathExplosion, or ArenaExhausted.
func IsBudgetError(err error) bool {
	return errors.Is(err, parseerr.Budget) ||
		errors.Is(err, parseerr.PathExplosion) ||
		errors.Is(err, parseerr.ArenaExhausted)
}
