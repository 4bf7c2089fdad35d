package registry

import (
	"errors"
	"fmt"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/parseerr"
)

// RecoveryAction is what a recovery attempt decided to do.
type RecoveryAction int

const (
	// RecoverFail means no recovery was possible; the path should be
	// released.
	RecoverFail RecoveryAction = iota

	// RecoverSynchronize means input was consumed up to a synchronization
	// token.
	RecoverSynchronize

	// RecoverSkip means a fixed number of tokens were skipped.
	RecoverSkip

	// RecoverCharSkip means one code point was skipped.
	RecoverCharSkip

	// RecoverInsert means a token was treated as present without consuming
	// input.
	RecoverInsert

	// RecoverReplace means the offending token was treated as another one.
	RecoverReplace
)

func (a RecoveryAction) String() string {
	switch a {
	case RecoverSynchronize:
		return "synchronize"
	case RecoverSkip:
		return "skip"
	case RecoverCharSkip:
		return "character-skip"
	case RecoverInsert:
		return "insert"
	case RecoverReplace:
		return "replace"
	default:
		return "fail"
	}
}

// RecoveryContext is the view of the failure point a strategy runs against.
type RecoveryContext struct {
	// Position is the character position of the failure.
	Position int

	// Lookahead holds the texts of the upcoming tokens (or characters, for
	// lexical failures) from the failure point onward.
	Lookahead []string
}

// RecoveryResult reports what a recovery attempt did. Recovered is false
// only when Action is RecoverFail.
type RecoveryResult struct {
	Action  RecoveryAction
	Message string

	// RecoveredTokens is the consumed (or synthesized, for insert/replace)
	// token texts.
	RecoveredTokens []string

	// NewPosition is the character position the path should continue from.
	NewPosition int

	Recovered bool
}

// Recoveries is the inheritance-aware error-recovery registry. Strategies
// are registered under error-type names; Apply falls back to per-type
// defaults when no strategy is registered.
type Recoveries struct {
	*Registry[grammar.RecoveryStrategy]
}

// NewRecoveries creates a Recoveries registry walking h.
func NewRecoveries(h Hierarchy) *Recoveries {
	return &Recoveries{Registry: New[grammar.RecoveryStrategy](h)}
}

// errTypeKey maps an error kind to the registry item name strategies are
// registered under.
func errTypeKey(kind parseerr.Kind) string {
	switch {
	case errors.Is(kind, parseerr.Lexical):
		return "lexical"
	case errors.Is(kind, parseerr.Syntax):
		return "syntax"
	case errors.Is(kind, parseerr.Semantic):
		return "semantic"
	default:
		return ""
	}
}

// defaultStrategy returns the built-in strategy for an error type: syntax
// errors synchronize, semantic errors skip one token, lexical errors skip
// one character. Anything else fails.
func defaultStrategy(key string, syncTokens map[string]bool) (grammar.RecoveryStrategy, bool) {
	switch key {
	case "syntax":
		return grammar.RecoveryStrategy{Kind: grammar.RecoverySynchronize, SyncTokens: syncTokens}, true
	case "semantic":
		return grammar.RecoveryStrategy{Kind: grammar.RecoverySkip, SkipCount: 1}, true
	case "lexical":
		return grammar.RecoveryStrategy{Kind: grammar.RecoveryCharacterSkip}, true
	default:
		return grammar.RecoveryStrategy{}, false
	}
}

// Apply looks up and runs the recovery strategy for the given error kind as
// seen from grammar g. Resolution order: a strategy registered under the
// error type's name anywhere on g's hierarchy, then the per-type default,
// then failure. fallbackSync supplies the synchronization-token set for the
// syntax default when the grammar's own strategy never set one.
func (r *Recoveries) Apply(g string, kind parseerr.Kind, ctx RecoveryContext, fallbackSync map[string]bool) RecoveryResult {
	key := errTypeKey(kind)
	if key == "" {
		return RecoveryResult{Action: RecoverFail, Message: "no recovery for error kind", NewPosition: ctx.Position}
	}

	strategy, ok := r.Get(g, key)
	if !ok {
		strategy, ok = defaultStrategy(key, fallbackSync)
		if !ok {
			return RecoveryResult{Action: RecoverFail, Message: "no recovery strategy", NewPosition: ctx.Position}
		}
	}

	return runStrategy(strategy, ctx)
}

func runStrategy(s grammar.RecoveryStrategy, ctx RecoveryContext) RecoveryResult {
	switch s.Kind {
	case grammar.RecoverySynchronize:
		var consumed []string
		for _, tok := range ctx.Lookahead {
			consumed = append(consumed, tok)
			if s.SyncTokens.Has(tok) {
				newPos := ctx.Position
				for _, c := range consumed {
					newPos += len(c)
				}
				return RecoveryResult{
					Action:          RecoverSynchronize,
					Message:         fmt.Sprintf("synchronized on %q after %d token(s)", tok, len(consumed)),
					RecoveredTokens: consumed,
					NewPosition:     newPos,
					Recovered:       true,
				}
			}
		}
		return RecoveryResult{
			Action:      RecoverFail,
			Message:     "no synchronization token found before end of input",
			NewPosition: ctx.Position,
		}

	case grammar.RecoverySkip:
		n := s.SkipCount
		if n <= 0 {
			n = 1
		}
		if n > len(ctx.Lookahead) {
			n = len(ctx.Lookahead)
		}
		skipped := make([]string, n)
		copy(skipped, ctx.Lookahead[:n])
		newPos := ctx.Position
		for _, tok := range skipped {
			newPos += len(tok)
		}
		return RecoveryResult{
			Action:          RecoverSkip,
			Message:         fmt.Sprintf("skipped %d token(s)", n),
			RecoveredTokens: skipped,
			NewPosition:     newPos,
			Recovered:       n > 0,
		}

	case grammar.RecoveryCharacterSkip:
		if len(ctx.Lookahead) == 0 || len(ctx.Lookahead[0]) == 0 {
			return RecoveryResult{Action: RecoverFail, Message: "nothing to skip", NewPosition: ctx.Position}
		}
		// advance exactly one code point
		ch := []rune(ctx.Lookahead[0])[0]
		return RecoveryResult{
			Action:          RecoverCharSkip,
			Message:         fmt.Sprintf("skipped character %q", ch),
			RecoveredTokens: []string{string(ch)},
			NewPosition:     ctx.Position + len(string(ch)),
			Recovered:       true,
		}

	case grammar.RecoveryInsert:
		return RecoveryResult{
			Action:          RecoverInsert,
			Message:         fmt.Sprintf("inserted %q", s.Token),
			RecoveredTokens: []string{s.Token},
			NewPosition:     ctx.Position,
			Recovered:       true,
		}

	case grammar.RecoveryReplace:
		newPos := ctx.Position
		if len(ctx.Lookahead) > 0 {
			newPos += len(ctx.Lookahead[0])
		}
		return RecoveryResult{
			Action:          RecoverReplace,
			Message:         fmt.Sprintf("replaced with %q", s.Token),
			RecoveredTokens: []string{s.Token},
			NewPosition:     newPos,
			Recovered:       true,
		}

	default:
		return RecoveryResult{Action: RecoverFail, Message: "strategy declines recovery", NewPosition: ctx.Position}
	}
}
