package stepparse

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/dekarrin/stepgram/arena"
	"github.com/dekarrin/stepgram/config"
	"github.com/dekarrin/stepgram/context"
	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/lex"
	"github.com/dekarrin/stepgram/parseerr"
	"github.com/dekarrin/stepgram/registry"
)

// ScriptExecutor runs the opaque script payloads of semantic actions. The
// engine never assumes a scripting runtime; hosts that want script actions
// plug one in.
type ScriptExecutor interface {
	Execute(lang, script string, ctx *grammar.ActionContext) (any, error)
}

// Lineage reports a lexer path's parent, so the parser can clone the right
// hypothesis state when a forked path's first token arrives. The step lexer
// provides this.
type Lineage interface {
	Path(id int) (*lex.Path, bool)
}

// StepParser consumes token batches from the step lexer, advances its
// parser paths, forks on ambiguity, and merges completed matches into the
// output forest. It also answers the lexer's valid-terminal queries, which
// is what makes tokenization context-aware.
type StepParser struct {
	cfg     config.EngineConfig
	g       *grammar.Grammar
	adapter *context.Adapter

	semantics  *registry.SemanticActions
	recoveries *registry.Recoveries

	pool *arena.ObjectPool[Path]

	// paths holds live parser paths by id; byLexer indexes them by the
	// lexer path they consume from.
	paths   map[int]*Path
	byLexer map[int][]int

	// activeParts tracks, per lexer path, the flattened remaining parts of
	// every open production on that path's parser paths.
	activeParts map[int][]grammar.Part

	callbacks map[string]grammar.Hook
	executor  ScriptExecutor
	lineage   Lineage

	resolve func(lex.AlignedToken) string

	warnings []parseerr.Warning
	errors   []*parseerr.Error

	// finished holds paths that ended with no production left open; failed
	// holds paths torn down with productions still open or after an
	// unrecoverable error. Both keep their matches for forest assembly.
	finished []*Path
	failed   []*Path

	maxPathID int
	file      string
	user      any
}

// New creates a StepParser. The semantic-action and recovery registries may
// be shared with other parsers; they are read-only during a parse.
func New(cfg config.EngineConfig, adapter *context.Adapter, semantics *registry.SemanticActions, recoveries *registry.Recoveries) *StepParser {
	sp := &StepParser{
		cfg:        cfg,
		adapter:    adapter,
		semantics:  semantics,
		recoveries: recoveries,
		callbacks:  map[string]grammar.Hook{},
	}

	sp.pool = arena.NewObjectPool[Path](
		func() *Path { return &Path{} },
		(*Path).Reset,
		nil,
		cfg.MaxPaths,
		arena.Grow,
	)

	return sp
}

// RegisterCallback installs fn under name for productions that declare a
// callback.
func (sp *StepParser) RegisterCallback(name string, fn grammar.Hook) {
	sp.callbacks[name] = fn
}

// SetScriptExecutor installs the host's executor for script-kind semantic
// actions. Without one, script actions are skipped.
func (sp *StepParser) SetScriptExecutor(ex ScriptExecutor) {
	sp.executor = ex
}

// SetUserContext sets the caller-supplied object handed to every callback.
func (sp *StepParser) SetUserContext(user any) {
	sp.user = user
}

// Begin resets the parser over a resolved grammar. lineage and resolve come
// from the step lexer this parser drives.
func (sp *StepParser) Begin(g *grammar.Grammar, file string, lineage Lineage, resolve func(lex.AlignedToken) string) {
	sp.g = g
	sp.file = file
	sp.lineage = lineage
	sp.resolve = resolve
	sp.paths = map[int]*Path{}
	sp.byLexer = map[int][]int{}
	sp.activeParts = map[int][]grammar.Part{}
	sp.warnings = nil
	sp.errors = nil
	sp.finished = nil
	sp.failed = nil
	sp.maxPathID = 0
}

// Warnings returns the warnings accumulated so far, recoveries included.
func (sp *StepParser) Warnings() []parseerr.Warning {
	return sp.warnings
}

// Errors returns the errors accumulated so far.
func (sp *StepParser) Errors() []*parseerr.Error {
	return sp.errors
}

func (sp *StepParser) nextPathID() int {
	id := sp.maxPathID
	sp.maxPathID++
	return id
}

// tokPos converts a token's 0-based position to the 1-based Position errors
// carry.
func (sp *StepParser) tokPos(tok lex.AlignedToken) parseerr.Position {
	return parseerr.Position{File: sp.file, Line: tok.Line + 1, Column: tok.Column + 1}
}

// ValidTerminalsFor implements lex.TerminalSource: the set of terminals
// that may appear next on the given lexer path. With no active parts
// recorded for the path, the grammar's start terminals (and the first
// terminals of its start productions) apply; otherwise the expectation
// terminals of the path's open productions do.
func (sp *StepParser) ValidTerminalsFor(lexerPathID int) []grammar.Terminal {
	ids := sp.byLexer[lexerPathID]
	parts := sp.activeParts[lexerPathID]

	if len(ids) == 0 || len(parts) == 0 {
		return sp.startTerminals(sp.snapshotFor(lexerPathID))
	}

	var terms []grammar.Terminal
	seen := map[string]bool{}

	for _, id := range ids {
		p := sp.paths[id]

		if p.synchronizing != nil {
			// while re-anchoring, any terminal of the grammar may appear.
			for _, t := range sp.g.Terminals() {
				addTerm(&terms, seen, t)
			}
			continue
		}

		if p.Complete() {
			for _, t := range sp.startTerminals(p.Snapshot) {
				addTerm(&terms, seen, t)
			}
			continue
		}

		part, _ := p.frames[len(p.frames)-1].currentPart()
		for _, t := range sp.firstTerminals(part, p.Snapshot, map[string]bool{}) {
			addTerm(&terms, seen, t)
		}
	}

	return terms
}

func addTerm(terms *[]grammar.Terminal, seen map[string]bool, t grammar.Terminal) {
	if seen[t.Name] {
		return
	}
	seen[t.Name] = true
	*terms = append(*terms, t)
}

// snapshotFor returns some parser path's snapshot on the lexer path, or the
// adapter's initial snapshot when none exists yet.
func (sp *StepParser) snapshotFor(lexerPathID int) *context.Snapshot {
	for _, id := range sp.byLexer[lexerPathID] {
		return sp.paths[id].Snapshot
	}
	return sp.adapter.InitialSnapshot()
}

// startTerminals returns the terminals a fresh top-level match may begin
// with, filtered by context.
func (sp *StepParser) startTerminals(snap *context.Snapshot) []grammar.Terminal {
	var terms []grammar.Terminal
	seen := map[string]bool{}

	for _, t := range sp.g.StartTerminals {
		if sp.adapter.IsTerminalValid(t, snap) {
			addTerm(&terms, seen, t)
		}
	}

	for _, startName := range sp.g.StartProductions {
		for _, alt := range sp.g.ProductionsNamed(startName) {
			if len(alt.Parts) == 0 {
				continue
			}
			if !sp.adapter.IsProductionValidInContext(alt, snap, "") {
				continue
			}
			for _, t := range sp.firstTerminals(alt.Parts[0], snap, map[string]bool{}) {
				addTerm(&terms, seen, t)
			}
		}
	}

	return terms
}

// firstTerminals returns every terminal that can begin the given part,
// expanding non-terminals through their productions. visited guards against
// left recursion.
func (sp *StepParser) firstTerminals(part grammar.Part, snap *context.Snapshot, visited map[string]bool) []grammar.Terminal {
	if part.Kind == grammar.PartTerminal {
		if sp.adapter.IsTerminalValid(part.Term, snap) {
			return []grammar.Terminal{part.Term}
		}
		return nil
	}

	if !sp.nonTermContextOK(part.NonTerm, snap) {
		return nil
	}

	name := part.NonTerm.Name
	if visited[name] {
		return nil
	}
	visited[name] = true

	alts := sp.g.ProductionsNamed(name)
	if len(alts) == 0 {
		// an identifier part with no production behind it degrades to a
		// literal terminal of the same spelling.
		t := literalTerminal(name)
		if sp.adapter.IsTerminalValid(t, snap) {
			return []grammar.Terminal{t}
		}
		return nil
	}

	var terms []grammar.Terminal
	for _, alt := range alts {
		if len(alt.Parts) == 0 {
			continue
		}
		if !sp.adapter.IsProductionValidInContext(alt, snap, "") {
			continue
		}
		terms = append(terms, sp.firstTerminals(alt.Parts[0], snap, visited)...)
	}

	return terms
}

// literalTerminal builds the terminal an undefined identifier part falls
// back to: its own spelling, matched literally.
func literalTerminal(name string) grammar.Terminal {
	return grammar.Terminal{Name: name, Pattern: regexp.QuoteMeta(name)}
}

func (sp *StepParser) nonTermContextOK(nt grammar.NonTerminal, snap *context.Snapshot) bool {
	if nt.Context == "" {
		return true
	}
	return sp.adapter.State(nt.Context) || snap.InScopeKind(nt.Context)
}

// DriveBatch processes one lexer batch: control tokens tear down or
// retarget parser paths, content tokens advance them. Forked lexer paths
// whose first token appears in the batch have their parser state cloned
// from the parent before any token of the batch is consumed.
func (sp *StepParser) DriveBatch(batch []lex.AlignedToken) error {
	// pre-pass: clone hypothesis state for lexer paths forked this step.
	for _, tok := range batch {
		if tok.IsControl() {
			continue
		}
		if _, known := sp.byLexer[tok.PathID]; known {
			continue
		}
		sp.cloneForFork(tok.PathID)
	}

	for _, tok := range batch {
		switch tok.Kind {
		case lex.KindPathRemoved:
			sp.handleRemoved(tok)
		case lex.KindPathMerge:
			sp.handleMerge(tok)
		default:
			if err := sp.driveToken(tok); err != nil {
				return err
			}
		}
	}

	return nil
}

// cloneForFork duplicates the parser paths of a forked lexer path's parent
// onto the fork, so both tokenization hypotheses carry the same parse
// progress.
func (sp *StepParser) cloneForFork(lexerPathID int) {
	if sp.lineage == nil {
		return
	}
	lp, ok := sp.lineage.Path(lexerPathID)
	if !ok || lp.ParentID < 0 {
		return
	}

	parentIDs := sp.byLexer[lp.ParentID]
	for _, id := range parentIDs {
		parent := sp.paths[id]
		np, err := sp.forkPath(parent)
		if err != nil {
			continue
		}
		np.LexerPathID = lexerPathID
		sp.byLexer[lexerPathID] = append(sp.byLexer[lexerPathID], np.ID)
	}
	sp.recomputeActiveParts(lexerPathID)
}

// handleRemoved tears down every parser path tied to the removed lexer
// path. Paths with no production left open finish cleanly and keep their
// matches; the rest are failed with an error.
func (sp *StepParser) handleRemoved(tok lex.AlignedToken) {
	ids := sp.byLexer[tok.PathID]
	delete(sp.byLexer, tok.PathID)
	delete(sp.activeParts, tok.PathID)

	for _, id := range ids {
		p, ok := sp.paths[id]
		if !ok {
			continue
		}
		delete(sp.paths, id)

		if p.synchronizing != nil {
			sp.errors = append(sp.errors, parseerr.Newf(parseerr.Syntax, sp.tokPos(tok),
				"no synchronization token found before end of input"))
			sp.failed = append(sp.failed, p)
			continue
		}

		if p.Complete() {
			sp.finished = append(sp.finished, p)
		} else {
			open := p.frames[len(p.frames)-1].prod.Name
			sp.errors = append(sp.errors, parseerr.Newf(parseerr.Syntax, sp.tokPos(tok),
				"unexpected end of input while matching %q", open))
			sp.failed = append(sp.failed, p)
		}
	}
}

// handleMerge retargets the removed lexer path's parser paths to the merge
// target, then drops hypotheses made redundant by the merge: paths at the
// same position with equal context-snapshot hashes, equal open-production
// counts and equal top-level match counts are equivalent, and only the
// lowest-id one survives.
func (sp *StepParser) handleMerge(tok lex.AlignedToken) {
	ids := sp.byLexer[tok.PathID]
	delete(sp.byLexer, tok.PathID)
	delete(sp.activeParts, tok.PathID)

	target := tok.TargetPathID
	for _, id := range ids {
		if p, ok := sp.paths[id]; ok {
			p.LexerPathID = target
		}
	}
	sp.byLexer[target] = append(sp.byLexer[target], ids...)
	sort.Ints(sp.byLexer[target])

	sp.dedupe(target)
	sp.recomputeActiveParts(target)
}

type dedupeKey struct {
	pos     int
	hash    uint64
	open    int
	matched int
}

func (sp *StepParser) dedupe(lexerPathID int) {
	ids := sp.byLexer[lexerPathID]
	kept := ids[:0]
	seen := map[dedupeKey]bool{}

	for _, id := range ids {
		p, ok := sp.paths[id]
		if !ok {
			continue
		}
		key := dedupeKey{pos: p.Position, open: len(p.frames), matched: len(p.ActiveMatches)}
		if p.Snapshot != nil {
			key.hash = p.Snapshot.Hash()
		}
		if seen[key] {
			delete(sp.paths, id)
			sp.pool.Release(p)
			continue
		}
		seen[key] = true
		kept = append(kept, id)
	}

	sp.byLexer[lexerPathID] = kept
}

// recomputeActiveParts rebuilds the flattened remaining-parts record for a
// lexer path from its surviving parser paths.
func (sp *StepParser) recomputeActiveParts(lexerPathID int) {
	var parts []grammar.Part
	for _, id := range sp.byLexer[lexerPathID] {
		if p, ok := sp.paths[id]; ok {
			parts = append(parts, p.RemainingParts()...)
		}
	}
	if len(parts) == 0 {
		delete(sp.activeParts, lexerPathID)
	} else {
		sp.activeParts[lexerPathID] = parts
	}
}

// driveToken advances every parser path on the token's lexer path.
func (sp *StepParser) driveToken(tok lex.AlignedToken) error {
	ids := sp.byLexer[tok.PathID]

	if len(ids) == 0 {
		p, err := sp.freshPath(tok)
		if err != nil {
			return err
		}
		ids = []int{p.ID}
	}

	// iterate over a snapshot: ambiguity forks register new ids that must
	// not see this token again.
	idsNow := make([]int, len(ids))
	copy(idsNow, ids)

	for _, id := range idsNow {
		p, ok := sp.paths[id]
		if !ok {
			continue
		}
		if err := sp.step(p, tok); err != nil {
			return err
		}
	}

	sp.recomputeActiveParts(tok.PathID)
	return nil
}

// freshPath creates a parser path seeded with the grammar's start
// productions for a lexer path that has none.
func (sp *StepParser) freshPath(tok lex.AlignedToken) (*Path, error) {
	p, err := sp.pool.Acquire()
	if err != nil {
		return nil, err
	}

	p.ID = sp.nextPathID()
	p.LexerPathID = tok.PathID
	p.Position = tok.Span.Start
	p.Snapshot = sp.adapter.InitialSnapshot().WithPosition(tok.Span.Start)
	p.Score = 0
	p.Confidence = 0

	sp.paths[p.ID] = p
	sp.byLexer[tok.PathID] = append(sp.byLexer[tok.PathID], p.ID)

	return p, nil
}

// forkPath duplicates a parser path, deep-copying its frames and matches.
func (sp *StepParser) forkPath(p *Path) (*Path, error) {
	np, err := sp.pool.Acquire()
	if err != nil {
		return nil, err
	}

	np.ID = sp.nextPathID()
	np.LexerPathID = p.LexerPathID
	np.Position = p.Position
	np.Snapshot = p.Snapshot
	np.Score = p.Score
	np.Confidence = p.Confidence
	np.decisions = p.decisions

	np.frames = np.frames[:0]
	for i := range p.frames {
		np.frames = append(np.frames, p.frames[i].copy())
	}

	np.ActiveMatches = make([]*ProductionMatch, len(p.ActiveMatches))
	for i := range p.ActiveMatches {
		np.ActiveMatches[i] = p.ActiveMatches[i].Copy()
	}

	if p.synchronizing != nil {
		np.synchronizing = map[string]bool{}
		for k := range p.synchronizing {
			np.synchronizing[k] = true
		}
	}

	sp.paths[np.ID] = np
	return np, nil
}

// candidate is one way to consume a token at a path's current point: the
// chain of productions to open, outermost first, ending at the terminal
// that matches the token.
type candidate struct {
	chain []grammar.Production
	term  grammar.Terminal
}

// step advances one parser path by one token.
func (sp *StepParser) step(p *Path, tok lex.AlignedToken) error {
	text := sp.resolve(tok)

	if p.synchronizing != nil {
		sp.stepSynchronizing(p, tok, text)
		return nil
	}

	p.Snapshot = sp.adapter.ObserveToken(text, p.Snapshot)

	cands := sp.candidates(p, tok.Kind)

	switch len(cands) {
	case 0:
		sp.recover(p, tok, text)
		return nil

	case 1:
		sp.apply(p, cands[0], tok, text, sp.candidateFitness(p, cands[0]))
		return nil

	default:
		return sp.stepAmbiguous(p, cands, tok, text)
	}
}

// stepSynchronizing consumes input until a synchronization token appears,
// then re-anchors the path.
func (sp *StepParser) stepSynchronizing(p *Path, tok lex.AlignedToken, text string) {
	p.Position = tok.Span.End
	p.Snapshot = sp.adapter.ObserveToken(text, p.Snapshot)

	if p.synchronizing[text] {
		p.synchronizing = nil
		sp.warnings = append(sp.warnings, parseerr.NewWarning(parseerr.Syntax, sp.tokPos(tok),
			"recovered from syntax error: synchronized on %q", text))
	}
}

// candidateFitness scores a candidate by its outermost production, or by a
// neutral 1.0 when the candidate consumes a terminal of an already-open
// production.
func (sp *StepParser) candidateFitness(p *Path, c candidate) float64 {
	if len(c.chain) == 0 {
		return 1.0
	}
	return sp.adapter.Fitness(c.chain[0], p.Snapshot)
}

// stepAmbiguous ranks the candidates by the context fitness of their
// outermost production, applies the best in place, forks a path for each of
// the next alternatives up to the configured cap, and discards the rest
// with a warning.
func (sp *StepParser) stepAmbiguous(p *Path, cands []candidate, tok lex.AlignedToken, text string) error {
	type scored struct {
		cand  candidate
		score float64
	}

	ordered := make([]scored, len(cands))
	for i, c := range cands {
		ordered[i] = scored{cand: c, score: sp.candidateFitness(p, c)}
	}
	// stable sort keeps grammar definition order as the final tie-break.
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })

	keep := sp.cfg.MaxAmbiguousPaths
	if keep <= 0 {
		keep = 3
	}
	if keep > len(ordered) {
		keep = len(ordered)
	}
	if len(ordered) > keep {
		sp.warnings = append(sp.warnings, parseerr.NewWarning(parseerr.Syntax, sp.tokPos(tok),
			"ambiguity of arity %d at %q: discarded %d low-ranked alternatives", len(ordered), text, len(ordered)-keep))
	}

	// forks take the lower-ranked alternatives; the path itself takes the
	// winner.
	for i := 1; i < keep; i++ {
		np, err := sp.forkPath(p)
		if err != nil {
			return err
		}
		sp.byLexer[p.LexerPathID] = append(sp.byLexer[p.LexerPathID], np.ID)
		sp.apply(np, ordered[i].cand, tok, text, ordered[i].score)
	}

	sp.apply(p, ordered[0].cand, tok, text, ordered[0].score)

	if sp.cfg.MaxPaths > 0 && len(sp.paths) > sp.cfg.MaxPaths {
		return parseerr.Newf(parseerr.PathExplosion, sp.tokPos(tok),
			"live parser paths exceed cap of %d", sp.cfg.MaxPaths)
	}

	return nil
}

// candidates finds every way the path can consume a token of the given
// kind at its current point.
func (sp *StepParser) candidates(p *Path, kind string) []candidate {
	if len(p.frames) > 0 {
		part, ok := p.frames[len(p.frames)-1].currentPart()
		if !ok {
			return nil
		}
		return sp.expandPart(p, part, kind, map[string]bool{})
	}

	// at top level: any start production may open.
	var cands []candidate
	for _, startName := range sp.g.StartProductions {
		for _, alt := range sp.g.ProductionsNamed(startName) {
			if len(alt.Parts) == 0 {
				continue
			}
			if !sp.adapter.IsProductionValidInContext(alt, p.Snapshot, kind) {
				continue
			}
			for _, sub := range sp.expandPart(p, alt.Parts[0], kind, map[string]bool{}) {
				chain := append([]grammar.Production{alt}, sub.chain...)
				cands = append(cands, candidate{chain: chain, term: sub.term})
			}
		}
	}
	return cands
}

// expandPart descends from a part to the terminals that can begin it,
// collecting the production chain of each descent.
func (sp *StepParser) expandPart(p *Path, part grammar.Part, kind string, visited map[string]bool) []candidate {
	if part.Kind == grammar.PartTerminal {
		if part.Term.Name != kind {
			return nil
		}
		if !sp.adapter.IsTerminalValid(part.Term, p.Snapshot) {
			return nil
		}
		return []candidate{{term: part.Term}}
	}

	if !sp.nonTermContextOK(part.NonTerm, p.Snapshot) {
		return nil
	}

	name := part.NonTerm.Name
	if visited[name] {
		return nil
	}
	visited[name] = true
	defer delete(visited, name)

	alts := sp.g.ProductionsNamed(name)
	if len(alts) == 0 {
		t := literalTerminal(name)
		if t.Name == kind && sp.adapter.IsTerminalValid(t, p.Snapshot) {
			return []candidate{{term: t}}
		}
		return nil
	}

	var cands []candidate
	for _, alt := range alts {
		if len(alt.Parts) == 0 {
			continue
		}
		if !sp.adapter.IsProductionValidInContext(alt, p.Snapshot, kind) {
			continue
		}
		for _, sub := range sp.expandPart(p, alt.Parts[0], kind, visited) {
			chain := append([]grammar.Production{alt}, sub.chain...)
			cands = append(cands, candidate{chain: chain, term: sub.term})
		}
	}

	return cands
}

// apply consumes the token along the candidate's descent chain, cascading
// any production completions.
func (sp *StepParser) apply(p *Path, c candidate, tok lex.AlignedToken, text string, confidence float64) {
	for _, prod := range c.chain {
		p.frames = append(p.frames, frame{
			prod: prod,
			match: &ProductionMatch{
				Production:    prod.Name,
				StartPosition: tok.Span.Start,
				PathID:        p.ID,
			},
		})
	}

	top := &p.frames[len(p.frames)-1]
	leaf := &ProductionMatch{
		Value:         text,
		StartPosition: tok.Span.Start,
		EndPosition:   tok.Span.End,
		PathID:        p.ID,
	}
	top.match.Children = append(top.match.Children, leaf)
	top.match.Value += text
	top.partIdx++

	p.Position = tok.Span.End
	p.note(confidence)

	sp.cascadeCompletions(p, tok, text)
}

// cascadeCompletions pops every completed production, attaching its match
// to the parent (or to the path's top-level matches), observing the
// completion in the context, and running callbacks.
func (sp *StepParser) cascadeCompletions(p *Path, tok lex.AlignedToken, text string) {
	for len(p.frames) > 0 && p.frames[len(p.frames)-1].done() {
		f := p.frames[len(p.frames)-1]
		p.frames = p.frames[:len(p.frames)-1]

		f.match.EndPosition = p.Position
		p.Snapshot = sp.adapter.ObserveProduction(f.prod.Name, p.Position, p.Snapshot)

		sp.runActions(p, f, tok, text)

		if len(p.frames) > 0 {
			parent := &p.frames[len(p.frames)-1]
			parent.match.Children = append(parent.match.Children, f.match)
			parent.match.Value += f.match.Value
			parent.partIdx++
		} else {
			p.ActiveMatches = append(p.ActiveMatches, f.match)
		}
	}
}

// runActions executes the completed production's declared callback and any
// registered semantic action, with the enriched callback context.
func (sp *StepParser) runActions(p *Path, f frame, tok lex.AlignedToken, text string) {
	actx := sp.actionContext(p, f, text)

	if f.prod.Callback != "" {
		if fn, ok := sp.callbacks[f.prod.Callback]; ok {
			if _, err := fn(actx); err != nil {
				sp.errors = append(sp.errors, parseerr.Wrap(parseerr.Semantic, sp.tokPos(tok),
					"callback "+f.prod.Callback+" failed", err))
			}
		}
	}

	if sa, ok := sp.semantics.Get(sp.g.Name, f.prod.Name); ok {
		if err := sp.runAction(sa, actx); err != nil {
			sp.errors = append(sp.errors, parseerr.Wrap(parseerr.Semantic, sp.tokPos(tok),
				"semantic action for "+f.prod.Name+" failed", err))
		}
	}
}

func (sp *StepParser) actionContext(p *Path, f frame, text string) *grammar.ActionContext {
	symbols := map[string]any{}
	for _, scope := range p.Snapshot.ScopeStack() {
		for _, info := range sp.adapter.Symbols().InScope(scope) {
			symbols[info.Name] = info
		}
	}

	return &grammar.ActionContext{
		Production: f.prod.Name,
		Token:      text,
		Position:   p.Position,
		Captures:   leafValues(f.match),
		Symbols:    symbols,
		User:       sp.user,
	}
}

func leafValues(pm *ProductionMatch) []string {
	if pm.IsLeaf() {
		return []string{pm.Value}
	}
	var vals []string
	for _, child := range pm.Children {
		vals = append(vals, leafValues(child)...)
	}
	return vals
}

// runAction executes one semantic action. Template and script payloads are
// opaque; they are delivered to the pluggable executor when one is set and
// skipped otherwise.
func (sp *StepParser) runAction(sa grammar.SemanticAction, actx *grammar.ActionContext) error {
	switch sa.Kind {
	case grammar.ActionNative:
		if sa.Native == nil {
			return nil
		}
		_, err := sa.Native(actx)
		return err

	case grammar.ActionCallback:
		if fn, ok := sp.callbacks[sa.CallbackName]; ok {
			_, err := fn(actx)
			return err
		}
		return nil

	case grammar.ActionTemplate:
		if sp.executor != nil {
			_, err := sp.executor.Execute("template", sa.Template, actx)
			return err
		}
		return nil

	case grammar.ActionScript:
		if sp.executor != nil {
			_, err := sp.executor.Execute(sa.ScriptLang, sa.Script, actx)
			return err
		}
		return nil

	case grammar.ActionComposite:
		for _, sub := range sa.Sub {
			err := sp.runAction(sub, actx)
			if sa.Strategy == grammar.CompositeFirstSuccess {
				if err == nil {
					return nil
				}
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// recover handles a token no candidate production can consume. Whitespace
// is skipped silently; otherwise the error-recovery layer is consulted,
// with streaming synchronization as the syntax-error default; a path with
// no recovery available is released.
func (sp *StepParser) recover(p *Path, tok lex.AlignedToken, text string) {
	if sp.adapter.ProposeRecovery(text, p.Snapshot) == context.MoveSkip {
		p.Position = tok.Span.End
		return
	}

	res := sp.recoveries.Apply(sp.g.Name, parseerr.Syntax, registry.RecoveryContext{
		Position:  tok.Span.Start,
		Lookahead: []string{text},
	}, sp.g.ErrorRecovery.SyncTokens)

	if res.Recovered {
		switch res.Action {
		case registry.RecoverSynchronize:
			// the offending token was itself a synchronization token; the
			// anchor is already re-established.
			sp.salvage(p)
			p.Position = tok.Span.End
			sp.warnings = append(sp.warnings, parseerr.NewWarning(parseerr.Syntax, sp.tokPos(tok),
				"recovered from syntax error: synchronized on %q", text))

		case registry.RecoverInsert:
			sp.recoverByInsert(p, res, tok, text)

		default:
			// skip, character-skip, replace: the offending input counts as
			// consumed.
			p.Position = tok.Span.End
			sp.warnings = append(sp.warnings, parseerr.NewWarning(parseerr.Syntax, sp.tokPos(tok),
				"recovered from syntax error: %s", res.Message))
		}
		return
	}

	// streaming synchronization: when the effective strategy is
	// synchronization but the sync token is still ahead, consume input
	// until it appears.
	if syncSet := sp.effectiveSyncSet(); len(syncSet) > 0 {
		sp.salvage(p)
		p.synchronizing = syncSet
		p.Position = tok.Span.End
		return
	}

	sp.releasePath(p, parseerr.Newf(parseerr.Syntax, sp.tokPos(tok),
		"unexpected %q", text))
}

// recoverByInsert pretends the strategy's token was present, then retries
// the offending token once against the new expectation.
func (sp *StepParser) recoverByInsert(p *Path, res registry.RecoveryResult, tok lex.AlignedToken, text string) {
	inserted := res.RecoveredTokens[0]
	insTok := lex.AlignedToken{
		Kind:   inserted,
		Span:   lex.Span{Start: tok.Span.Start, End: tok.Span.Start},
		Line:   tok.Line,
		Column: tok.Column,
		PathID: tok.PathID,
	}

	cands := sp.candidates(p, inserted)
	if len(cands) == 0 {
		sp.releasePath(p, parseerr.Newf(parseerr.Syntax, sp.tokPos(tok),
			"cannot insert %q here", inserted))
		return
	}
	sp.apply(p, cands[0], insTok, inserted, sp.candidateFitness(p, cands[0]))
	sp.warnings = append(sp.warnings, parseerr.NewWarning(parseerr.Syntax, sp.tokPos(tok),
		"recovered from syntax error: inserted %q", inserted))

	// retry the real token once; if it still has no home, it is consumed
	// as recovered input.
	retry := sp.candidates(p, tok.Kind)
	if len(retry) > 0 {
		sp.apply(p, retry[0], tok, text, sp.candidateFitness(p, retry[0]))
	} else {
		p.Position = tok.Span.End
	}
}

// effectiveSyncSet returns the synchronization tokens that apply to syntax
// errors in the active grammar: a registered syntax strategy's set if one
// exists, otherwise the grammar's own.
func (sp *StepParser) effectiveSyncSet() map[string]bool {
	if strat, ok := sp.recoveries.Get(sp.g.Name, "syntax"); ok {
		if strat.Kind == grammar.RecoverySynchronize && len(strat.SyncTokens) > 0 {
			return strat.SyncTokens
		}
		if strat.Kind != grammar.RecoverySynchronize {
			return nil
		}
	}
	if len(sp.g.ErrorRecovery.SyncTokens) > 0 {
		return sp.g.ErrorRecovery.SyncTokens
	}
	return nil
}

// salvage moves the completed children of the path's open productions into
// its top-level matches and abandons the open productions, re-establishing
// a clean anchor.
func (sp *StepParser) salvage(p *Path) {
	for i := range p.frames {
		for _, child := range p.frames[i].match.Children {
			if !child.IsLeaf() {
				p.ActiveMatches = append(p.ActiveMatches, child)
			}
		}
	}
	p.frames = p.frames[:0]
}

// releasePath drops a live path after an unrecoverable error, keeping it in
// the failed list so its partial matches can still back a best-effort
// forest.
func (sp *StepParser) releasePath(p *Path, err *parseerr.Error) {
	err.PathID = pathIDString(p.ID)
	err.Grammar = sp.g.Name
	sp.errors = append(sp.errors, err)

	delete(sp.paths, p.ID)

	ids := sp.byLexer[p.LexerPathID]
	kept := ids[:0]
	for _, id := range ids {
		if id != p.ID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(sp.byLexer, p.LexerPathID)
	} else {
		sp.byLexer[p.LexerPathID] = kept
	}

	sp.failed = append(sp.failed, p)
}

func pathIDString(id int) string {
	return "parser-" + strconv.Itoa(id)
}

// Done returns whether no live parser path remains.
func (sp *StepParser) Done() bool {
	return len(sp.paths) == 0
}

// Succeeded returns whether at least one path finished with no production
// left open.
func (sp *StepParser) Succeeded() bool {
	return len(sp.finished) > 0
}

// Forest assembles the output: the union of top-level matches across every
// cleanly finished path, tagged by path id. When no path finished, the
// best-scoring failed path contributes its partial matches instead.
func (sp *StepParser) Forest() []*ProductionMatch {
	if len(sp.finished) > 0 {
		var forest []*ProductionMatch
		for _, p := range sp.finished {
			forest = append(forest, p.ActiveMatches...)
		}
		return forest
	}

	var best *Path
	for _, p := range sp.failed {
		if best == nil || p.Score > best.Score {
			best = p
		}
	}
	if best == nil {
		return nil
	}

	forest := append([]*ProductionMatch{}, best.ActiveMatches...)
	for i := range best.frames {
		for _, child := range best.frames[i].match.Children {
			if !child.IsLeaf() {
				forest = append(forest, child)
			}
		}
	}
	return forest
}
