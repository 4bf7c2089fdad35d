package lex

import (
	"math"
	"regexp"
	"sort"

	"github.com/dekarrin/stepgram/arena"
	"github.com/dekarrin/stepgram/config"
	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/parseerr"
)

// TerminalSource supplies the set of terminals that may legally appear next
// on a given lexer path. The step parser implements this; the lexer asks it
// before every match attempt so tokenization stays context-aware.
type TerminalSource interface {
	ValidTerminalsFor(lexerPathID int) []grammar.Terminal
}

// StepLexer tokenizes source lines non-deterministically. It maintains a
// set of live Paths; ambiguous matches fork new paths, equivalent paths
// merge, and every call to NextTokens advances each live path by one token
// at most.
type StepLexer struct {
	cfg      config.EngineConfig
	interner *arena.StringInterner
	source   TerminalSource

	pool *arena.ObjectPool[Path]

	file  string
	lines []string

	paths map[int]*Path

	// invalidated holds paths released since the last batch; their removal
	// markers open the next batch.
	invalidated []*Path

	maxPathID int
	steps     int

	compiled map[string]*regexp.Regexp
}

// New creates a StepLexer. The source is consulted for valid terminals on
// every step; it must be set before the first NextTokens call.
func New(cfg config.EngineConfig, interner *arena.StringInterner, source TerminalSource) *StepLexer {
	lx := &StepLexer{
		cfg:      cfg,
		interner: interner,
		source:   source,
		compiled: map[string]*regexp.Regexp{},
	}

	lx.pool = arena.NewObjectPool[Path](
		func() *Path { return &Path{ParentID: -1} },
		(*Path).Reset,
		func(p *Path) bool { return len(p.Tokens) < 1<<16 },
		cfg.MaxPaths,
		arena.Grow,
	)

	return lx
}

// SetSource replaces the lexer's terminal source. The step parser calls
// this when it attaches to the lexer.
func (lx *StepLexer) SetSource(source TerminalSource) {
	lx.source = source
}

// Start resets the lexer over new input and creates the initial path at
// line 0, column 0.
func (lx *StepLexer) Start(file string, lines []string) error {
	lx.file = file
	lx.lines = lines
	lx.paths = map[int]*Path{}
	lx.invalidated = nil
	lx.maxPathID = 0
	lx.steps = 0

	p, err := lx.pool.Acquire()
	if err != nil {
		return err
	}
	p.ID = lx.nextPathID()
	p.ParentID = -1
	p.File = file
	p.Score = 1.0
	lx.paths[p.ID] = p

	return nil
}

func (lx *StepLexer) nextPathID() int {
	id := lx.maxPathID
	lx.maxPathID++
	return id
}

// HasNext returns whether any live path remains, or any removal markers are
// still pending emission.
func (lx *StepLexer) HasNext() bool {
	return len(lx.paths) > 0 || len(lx.invalidated) > 0
}

// Path returns the live path with the given id.
func (lx *StepLexer) Path(id int) (*Path, bool) {
	p, ok := lx.paths[id]
	return p, ok
}

// LiveCount returns the number of live paths.
func (lx *StepLexer) LiveCount() int {
	return len(lx.paths)
}

// Resolve returns the text of a token's interned value. Control tokens
// resolve to "".
func (lx *StepLexer) Resolve(t AlignedToken) string {
	if t.ValueID < 0 {
		return ""
	}
	return lx.interner.Resolve(t.ValueID)
}

// NextTokens performs one lexer step and returns the resulting batch: any
// pending removal markers, any merge markers, then one token (or fork of
// tokens) per live path. An empty batch with HasNext() false means the
// input is exhausted on every path.
func (lx *StepLexer) NextTokens() ([]AlignedToken, error) {
	if lx.cfg.MaxSteps > 0 {
		lx.steps++
		if lx.steps > lx.cfg.MaxSteps {
			return nil, parseerr.Newf(parseerr.Budget, lx.errPos(nil),
				"lexer exceeded step budget of %d", lx.cfg.MaxSteps)
		}
	}

	var batch []AlignedToken

	// 1. removal markers for paths released since the last batch.
	for _, p := range lx.invalidated {
		batch = append(batch, AlignedToken{
			Kind:    KindPathRemoved,
			ValueID: -1,
			Span:    Span{Start: p.Offset, End: p.Offset},
			Line:    p.Line,
			Column:  p.Column,
			PathID:  p.ID,
		})
		lx.pool.Release(p)
	}
	lx.invalidated = nil

	// 2. merge equivalent paths.
	batch = lx.mergePaths(batch)

	// 3. advance each live path. Iterate over a sorted id snapshot so paths
	// forked during this step are not advanced twice.
	liveIDs := lx.sortedLiveIDs()
	for _, id := range liveIDs {
		p, ok := lx.paths[id]
		if !ok {
			continue
		}

		var err error
		batch, err = lx.advancePath(p, batch)
		if err != nil {
			return nil, err
		}

		if lx.cfg.MaxPaths > 0 && len(lx.paths) > lx.cfg.MaxPaths {
			return nil, parseerr.Newf(parseerr.PathExplosion, lx.errPos(p),
				"live lexer paths exceed cap of %d", lx.cfg.MaxPaths)
		}
	}

	return batch, nil
}

func (lx *StepLexer) sortedLiveIDs() []int {
	ids := make([]int, 0, len(lx.paths))
	for id := range lx.paths {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// errPos converts a path's 0-based position to the 1-based position errors
// carry.
func (lx *StepLexer) errPos(p *Path) parseerr.Position {
	if p == nil {
		return parseerr.Position{File: lx.file, Line: 1, Column: 1}
	}
	return parseerr.Position{File: p.File, Line: p.Line + 1, Column: p.Column + 1}
}

// mergePaths groups live paths by position and merges equivalent ones: a
// candidate merges into the lowest-id path at its position when their token
// counts are equal and their scores differ by less than the configured
// epsilon. Merge markers are appended to batch.
func (lx *StepLexer) mergePaths(batch []AlignedToken) []AlignedToken {
	type posKey struct{ line, col int }

	groups := map[posKey][]int{}
	for id, p := range lx.paths {
		key := posKey{line: p.Line, col: p.Column}
		groups[key] = append(groups[key], id)
	}

	// deterministic emission order: groups by position, ascending.
	keys := make([]posKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].line != keys[j].line {
			return keys[i].line < keys[j].line
		}
		return keys[i].col < keys[j].col
	})

	for _, key := range keys {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		sort.Ints(ids)

		base := lx.paths[ids[0]]
		for _, candID := range ids[1:] {
			cand := lx.paths[candID]
			if cand.TokenCount() != base.TokenCount() {
				continue
			}
			if math.Abs(cand.Score-base.Score) >= lx.cfg.MergeEpsilon {
				continue
			}

			batch = append(batch, AlignedToken{
				Kind:         KindPathMerge,
				ValueID:      -1,
				Span:         Span{Start: cand.Offset, End: cand.Offset},
				Line:         cand.Line,
				Column:       cand.Column,
				PathID:       cand.ID,
				TargetPathID: base.ID,
			})

			delete(lx.paths, candID)
			lx.pool.Release(cand)
		}
	}

	return batch
}

// advancePath moves one path forward by one token, forking on ambiguity.
func (lx *StepLexer) advancePath(p *Path, batch []AlignedToken) ([]AlignedToken, error) {
	// exhausted input: release the path; its removal marker opens the next
	// batch.
	if p.Line >= len(lx.lines) {
		delete(lx.paths, p.ID)
		lx.invalidated = append(lx.invalidated, p)
		return batch, nil
	}

	line := lx.lines[p.Line]
	if p.Column >= len(line) {
		p.Line++
		p.Column = 0
		return batch, nil
	}

	rest := line[p.Column:]

	var terms []grammar.Terminal
	if lx.source != nil {
		terms = lx.source.ValidTerminalsFor(p.ID)
	}

	matches, err := lx.matchTerminals(terms, rest)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		// no valid terminal matches here; degrade to a single UNKNOWN
		// character instead of abandoning the path.
		ch := firstRune(rest)
		tok, err := lx.makeToken(p, KindUnknown, ch)
		if err != nil {
			return nil, err
		}
		p.Tokens = append(p.Tokens, tok)
		p.Score -= 0.05
		lx.advanceBy(p, ch)
		return append(batch, tok), nil
	}

	// one or more matches of equal longest length. The first is emitted on
	// this path; each remaining match gets a fork duplicating the current
	// state, including the context snapshot link.
	first := matches[0]
	tok, err := lx.makeToken(p, first.term.Name, first.text)
	if err != nil {
		return nil, err
	}
	batch = append(batch, tok)

	for _, alt := range matches[1:] {
		np, err := lx.fork(p)
		if err != nil {
			return nil, err
		}
		altTok, err := lx.makeToken(np, alt.term.Name, alt.text)
		if err != nil {
			return nil, err
		}
		np.Tokens = append(np.Tokens, altTok)
		lx.advanceBy(np, alt.text)
		batch = append(batch, altTok)
	}

	p.Tokens = append(p.Tokens, tok)
	lx.advanceBy(p, first.text)

	return batch, nil
}

type termMatch struct {
	term grammar.Terminal
	text string
}

// matchTerminals attempts an anchored match of every terminal against rest
// and keeps only the longest matches, GNU-lex style: a strictly longer
// match always beats a shorter one on a single path; only equal-longest
// matches represent genuine ambiguity and survive to fork.
func (lx *StepLexer) matchTerminals(terms []grammar.Terminal, rest string) ([]termMatch, error) {
	ordered := make([]grammar.Terminal, len(terms))
	copy(ordered, terms)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OrderImportant != ordered[j].OrderImportant {
			return ordered[i].OrderImportant
		}
		return ordered[i].Order < ordered[j].Order
	})

	var matches []termMatch
	longest := 0
	seen := map[string]bool{}

	for _, t := range ordered {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true

		re, err := lx.compile(t)
		if err != nil {
			return nil, err
		}

		m := re.FindString(rest)
		if m == "" {
			// zero-length matches are discarded: no path may consume zero
			// characters without emitting a token.
			continue
		}

		if len(m) > longest {
			longest = len(m)
			matches = matches[:0]
			matches = append(matches, termMatch{term: t, text: m})
		} else if len(m) == longest {
			matches = append(matches, termMatch{term: t, text: m})
		}
	}

	return matches, nil
}

func (lx *StepLexer) compile(t grammar.Terminal) (*regexp.Regexp, error) {
	if re, ok := lx.compiled[t.Pattern]; ok {
		return re, nil
	}
	re, err := t.Compile()
	if err != nil {
		return nil, parseerr.Wrap(parseerr.Lexical, parseerr.Position{File: lx.file, Line: 1, Column: 1},
			"terminal "+t.Name+" has an invalid pattern", err)
	}
	lx.compiled[t.Pattern] = re
	return re, nil
}

func (lx *StepLexer) makeToken(p *Path, kind, text string) (AlignedToken, error) {
	id, err := lx.interner.Intern(text)
	if err != nil {
		return AlignedToken{}, err
	}
	return AlignedToken{
		Kind:    kind,
		ValueID: id,
		Span:    Span{Start: p.Offset, End: p.Offset + len(text)},
		Line:    p.Line,
		Column:  p.Column,
		PathID:  p.ID,
	}, nil
}

// advanceBy moves a path past consumed text, rolling to the next line when
// the current one is exhausted.
func (lx *StepLexer) advanceBy(p *Path, text string) {
	p.Column += len(text)
	p.Offset += len(text)
	if p.Line < len(lx.lines) && p.Column >= len(lx.lines[p.Line]) {
		p.Line++
		p.Column = 0
	}
}

// fork acquires a pooled path duplicating p's state. The fork gets a fresh
// id; ids are never reused within one parse.
func (lx *StepLexer) fork(p *Path) (*Path, error) {
	np, err := lx.pool.Acquire()
	if err != nil {
		return nil, err
	}

	np.ID = lx.nextPathID()
	np.ParentID = p.ID
	np.Line = p.Line
	np.Column = p.Column
	np.Offset = p.Offset
	np.Indent = p.Indent
	np.File = p.File
	np.Score = p.Score
	np.Snapshot = p.Snapshot
	np.Tokens = append(np.Tokens[:0], p.Tokens...)

	lx.paths[np.ID] = np
	return np, nil
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
