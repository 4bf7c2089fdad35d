package lex

import (
	"fmt"

	"github.com/dekarrin/stepgram/context"
)

// Path is one hypothesis about how to tokenize the input. Paths live in an
// object pool; Reset returns one to a blank state for reuse.
type Path struct {
	// ID is the path's identity for this parse. Ids are never reused within
	// one parse, even after the path is released.
	ID int

	// ParentID is the path this one was forked from, or -1 for the initial
	// path.
	ParentID int

	// Line and Column are the path's 0-based read position.
	Line   int
	Column int

	// Offset is the absolute character offset corresponding to (Line,
	// Column) over the concatenated input lines.
	Offset int

	// Indent is the indentation depth of the current line, for grammars
	// that coordinate tokens by layout.
	Indent int

	// File names the input, for error reporting.
	File string

	// Tokens is every token the path has emitted, in emission order.
	Tokens []AlignedToken

	// Score is the path's plausibility score. Forks inherit it; unknown
	// characters lower it.
	Score float64

	// Snapshot links the path to the context snapshot of the parser path it
	// feeds, so forks can duplicate the link.
	Snapshot *context.Snapshot
}

// Reset blanks the path for pool reuse.
func (p *Path) Reset() {
	p.ID = 0
	p.ParentID = -1
	p.Line = 0
	p.Column = 0
	p.Offset = 0
	p.Indent = 0
	p.File = ""
	p.Tokens = p.Tokens[:0]
	p.Score = 0
	p.Snapshot = nil
}

// TokenCount returns how many non-control tokens the path has emitted.
func (p *Path) TokenCount() int {
	n := 0
	for i := range p.Tokens {
		if !p.Tokens[i].IsControl() {
			n++
		}
	}
	return n
}

func (p *Path) String() string {
	return fmt.Sprintf("path %d at %d:%d (%d tokens, score %.2f)", p.ID, p.Line, p.Column, len(p.Tokens), p.Score)
}
