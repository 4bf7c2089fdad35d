// Package parseerr holds the error and warning types shared across the
// engine. Notably, it contains the Error type, which can be created with one
// or more 'cause' errors. Calling errors.Is() on this Error type with an
// argument consisting of any of the sentinel Kind values below, or any error
// it has as a cause, will return true.
package parseerr

import (
	"errors"
	"fmt"
)

// Kind tags the class of problem an Error or Warning represents. Kind values
// are sentinel errors so that callers can test for them with errors.Is.
type Kind error

var (
	Lexical             Kind = errors.New("lexical error")
	Syntax              Kind = errors.New("syntax error")
	Semantic            Kind = errors.New("semantic error")
	Type                Kind = errors.New("type error")
	Reference           Kind = errors.New("reference error")
	CircularInheritance Kind = errors.New("circular inheritance")
	MissingGrammar      Kind = errors.New("missing grammar")
	PathExplosion       Kind = errors.New("path explosion")
	Budget              Kind = errors.New("step budget exceeded")
	ArenaExhausted      Kind = errors.New("arena exhausted")
)

// Position is a 1-based file position.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Error is a typed error returned by engine operations. It contains a
// human-readable message, the Kind that classifies it, the Position it
// occurred at, and zero or more causes. Error is compatible with the use of
// errors.Is: calling errors.Is on an Error with the Kind it was created with,
// or with any of its causes, returns true.
//
// Error should not be constructed directly outside this package; use New,
// Newf, or Wrap.
type Error struct {
	kind  Kind
	msg   string
	pos   Position
	cause []error

	// PathID, when non-empty, names the lexer or parser path the error was
	// raised on, for callers that want to correlate an error with a specific
	// speculative hypothesis.
	PathID string

	// Grammar, when non-empty, names the grammar active when the error was
	// raised.
	Grammar string
}

// New creates an Error of the given kind at the given position with the
// given message.
func New(kind Kind, pos Position, msg string) *Error {
	return &Error{kind: kind, pos: pos, msg: msg}
}

// Newf is like New but builds msg via fmt.Sprintf.
func Newf(kind Kind, pos Position, format string, args ...interface{}) *Error {
	return New(kind, pos, fmt.Sprintf(format, args...))
}

// Wrap creates an Error of the given kind at the given position with the
// given message, wrapping one or more causes so that errors.Is/errors.As can
// reach them.
func Wrap(kind Kind, pos Position, msg string, causes ...error) *Error {
	e := New(kind, pos, msg)
	e.cause = causes
	return e
}

// Kind returns the Kind this Error was tagged with.
func (e *Error) Kind() Kind {
	return e.kind
}

// Position returns where the Error occurred.
func (e *Error) Position() Position {
	return e.pos
}

// Error returns the message defined for the Error, concatenated with the
// result of calling Error() on its first cause, if one is defined.
func (e *Error) Error() string {
	prefix := e.pos.String() + ": " + e.msg
	if len(e.cause) == 0 {
		return prefix
	}
	return prefix + ": " + e.cause[0].Error()
}

// Unwrap returns the causes of the Error, including the Kind sentinel so
// errors.Is(err, parseerr.Syntax) works without an explicit Kind() check.
func (e *Error) Unwrap() []error {
	all := make([]error, 0, len(e.cause)+1)
	all = append(all, e.kind)
	all = append(all, e.cause...)
	return all
}

// Warning has the same shape as Error but represents a non-fatal diagnostic,
// such as a recovered syntax error or use of a deprecated grammar-file
// directive.
type Warning struct {
	Kind     Kind
	Position Position
	Message  string
}

func (w Warning) String() string {
	return w.Position.String() + ": warning: " + w.Message
}

// NewWarning builds a Warning.
func NewWarning(kind Kind, pos Position, format string, args ...interface{}) Warning {
	return Warning{Kind: kind, Position: pos, Message: fmt.Sprintf(format, args...)}
}
