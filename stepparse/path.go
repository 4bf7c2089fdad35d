package stepparse

import (
	"fmt"

	"github.com/dekarrin/stepgram/context"
	"github.com/dekarrin/stepgram/grammar"
)

// frame is one production being matched on a path: the production, how many
// of its parts have been consumed, and the match node under construction.
type frame struct {
	prod    grammar.Production
	partIdx int
	match   *ProductionMatch
}

func (f frame) done() bool {
	return f.partIdx >= len(f.prod.Parts)
}

func (f frame) currentPart() (grammar.Part, bool) {
	if f.done() {
		return grammar.Part{}, false
	}
	return f.prod.Parts[f.partIdx], true
}

// remainingParts returns the parts the frame has yet to consume.
func (f frame) remainingParts() []grammar.Part {
	if f.done() {
		return nil
	}
	return f.prod.Parts[f.partIdx:]
}

func (f frame) copy() frame {
	f2 := frame{
		prod:    f.prod.Copy(),
		partIdx: f.partIdx,
	}
	if f.match != nil {
		f2.match = f.match.Copy()
	}
	return f2
}

// Path is one hypothesis about how to apply productions to a token stream.
// It is tied to a lexer path and carries an immutable context snapshot.
// Paths live in an object pool.
type Path struct {
	// ID is the parser path's identity for this parse; ids are never reused
	// within one parse.
	ID int

	// LexerPathID is the lexer path this parser path consumes tokens from.
	// Merges retarget it.
	LexerPathID int

	// Position is the character position of the next unconsumed input.
	Position int

	// frames is the stack of productions being matched, outermost first.
	frames []frame

	// ActiveMatches holds every completed top-level match, in completion
	// order.
	ActiveMatches []*ProductionMatch

	// Snapshot is the path's current context snapshot.
	Snapshot *context.Snapshot

	// Score is the path's running plausibility; Confidence is the context
	// fitness of the path's latest decision.
	Score      float64
	Confidence float64

	// synchronizing holds the sync-token set while the path is consuming
	// input to re-establish an anchor after a syntax error; nil otherwise.
	synchronizing map[string]bool

	// decisions counts scored decisions, for the running Score average.
	decisions int
}

// Reset blanks the path for pool reuse.
func (p *Path) Reset() {
	p.ID = 0
	p.LexerPathID = 0
	p.Position = 0
	p.frames = p.frames[:0]
	p.ActiveMatches = nil
	p.Snapshot = nil
	p.Score = 0
	p.Confidence = 0
	p.synchronizing = nil
	p.decisions = 0
}

// Depth returns how many productions are currently open on the path.
func (p *Path) Depth() int {
	return len(p.frames)
}

// Complete returns whether the path has no production left open.
func (p *Path) Complete() bool {
	return len(p.frames) == 0
}

// RemainingParts returns the flattened remaining parts of every open
// production, outermost first. This is what terminal filtering reads.
func (p *Path) RemainingParts() []grammar.Part {
	var parts []grammar.Part
	for i := range p.frames {
		parts = append(parts, p.frames[i].remainingParts()...)
	}
	return parts
}

// note records a scored decision and folds it into the running score.
func (p *Path) note(confidence float64) {
	p.Confidence = confidence
	p.decisions++
	p.Score += (confidence - p.Score) / float64(p.decisions)
}

func (p *Path) String() string {
	return fmt.Sprintf("parser path %d (lexer %d) at %d, %d open, %d matched, conf %.2f",
		p.ID, p.LexerPathID, p.Position, len(p.frames), len(p.ActiveMatches), p.Confidence)
}
