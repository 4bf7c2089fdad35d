package grammar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dekarrin/stepgram/internal/util"
)

// Associativity is the grouping direction of an operator.
type Associativity int

const (
	AssocNone Associativity = iota
	AssocLeft
	AssocRight
)

func (a Associativity) String() string {
	switch a {
	case AssocLeft:
		return "left"
	case AssocRight:
		return "right"
	default:
		return "none"
	}
}

// PrecedenceRule assigns a binding level to an operator. Higher level means
// higher precedence.
type PrecedenceRule struct {
	Operator string
	Level    int
}

func (pr PrecedenceRule) String() string {
	return fmt.Sprintf("%s:%d", pr.Operator, pr.Level)
}

// AssociativityRule assigns an associativity to an operator.
type AssociativityRule struct {
	Operator string
	Assoc    Associativity
}

func (ar AssociativityRule) String() string {
	return fmt.Sprintf("%s:%s", ar.Operator, ar.Assoc)
}

// SortPrecedenceRules returns a copy of rules sorted by level ascending,
// ties broken by operator name so output order is deterministic.
func SortPrecedenceRules(rules []PrecedenceRule) []PrecedenceRule {
	sorted := make([]PrecedenceRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level < sorted[j].Level
		}
		return sorted[i].Operator < sorted[j].Operator
	})
	return sorted
}

// RecoveryKind discriminates the RecoveryStrategy tagged union.
type RecoveryKind int

const (
	// RecoveryFail is the zero value: no recovery is attempted.
	RecoveryFail RecoveryKind = iota

	// RecoverySynchronize advances input until a synchronization token is
	// found.
	RecoverySynchronize

	// RecoverySkip skips a fixed number of tokens.
	RecoverySkip

	// RecoveryCharacterSkip advances input by one code point.
	RecoveryCharacterSkip

	// RecoveryInsert behaves as if a given token had been present.
	RecoveryInsert

	// RecoveryReplace replaces the offending token with a given one.
	RecoveryReplace
)

func (rk RecoveryKind) String() string {
	switch rk {
	case RecoverySynchronize:
		return "synchronize"
	case RecoverySkip:
		return "skip"
	case RecoveryCharacterSkip:
		return "character-skip"
	case RecoveryInsert:
		return "insert"
	case RecoveryReplace:
		return "replace"
	default:
		return "fail"
	}
}

// ReportingLevel selects how loudly a recovery is surfaced to the caller.
type ReportingLevel int

const (
	// ReportDefault defers to the engine's default of reporting recoveries
	// as warnings.
	ReportDefault ReportingLevel = iota

	// ReportSilent performs recovery without surfacing anything.
	ReportSilent

	// ReportWarning surfaces each recovery as a warning on the parse result.
	ReportWarning

	// ReportError surfaces each recovery as a full error even when the parse
	// continues.
	ReportError
)

// RecoveryStrategy is a tagged union over the engine's error-recovery
// moves. Which fields are meaningful depends on Kind: SyncTokens for
// RecoverySynchronize, SkipCount for RecoverySkip, Token for RecoveryInsert
// and RecoveryReplace.
type RecoveryStrategy struct {
	Kind       RecoveryKind
	SyncTokens util.StringSet
	SkipCount  int
	Token      string
	Reporting  ReportingLevel
}

// IsDefault returns whether the strategy is the zero value, meaning no
// strategy has been set.
func (rs RecoveryStrategy) IsDefault() bool {
	return rs.Kind == RecoveryFail && len(rs.SyncTokens) == 0 && rs.SkipCount == 0 && rs.Token == "" && rs.Reporting == ReportDefault
}

// Copy returns a duplicate of the strategy with its own sync-token set.
func (rs RecoveryStrategy) Copy() RecoveryStrategy {
	rs2 := rs
	if rs.SyncTokens != nil {
		rs2.SyncTokens = util.NewStringSet()
		for tok := range rs.SyncTokens {
			rs2.SyncTokens.Add(tok)
		}
	}
	return rs2
}

// Equal returns whether the RecoveryStrategy equals another value.
func (rs RecoveryStrategy) Equal(o any) bool {
	other, ok := o.(RecoveryStrategy)
	if !ok {
		otherPtr, ok := o.(*RecoveryStrategy)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if rs.Kind != other.Kind || rs.SkipCount != other.SkipCount || rs.Token != other.Token || rs.Reporting != other.Reporting {
		return false
	}

	if len(rs.SyncTokens) != len(other.SyncTokens) {
		return false
	}
	for tok := range rs.SyncTokens {
		if !other.SyncTokens.Has(tok) {
			return false
		}
	}

	return true
}

func (rs RecoveryStrategy) String() string {
	switch rs.Kind {
	case RecoverySynchronize:
		return fmt.Sprintf("synchronize(%s)", rs.SyncTokens.StringOrdered())
	case RecoverySkip:
		return fmt.Sprintf("skip(%d)", rs.SkipCount)
	case RecoveryInsert:
		return fmt.Sprintf("insert(%q)", rs.Token)
	case RecoveryReplace:
		return fmt.Sprintf("replace(%q)", rs.Token)
	default:
		return rs.Kind.String()
	}
}

// ActionContext is the information handed to a semantic-action hook when a
// production completes.
type ActionContext struct {
	// Production is the name of the completed production.
	Production string

	// Token is the text of the token that completed the production.
	Token string

	// Position is the character position the production completed at.
	Position int

	// Captures holds the text of every token the production consumed, in
	// order.
	Captures []string

	// Symbols gives the hook read access to the current symbol table by
	// (scope-qualified) name.
	Symbols map[string]any

	// User is the caller-supplied context object. Hooks may mutate it.
	User any
}

// Hook is a native semantic-action implementation.
type Hook func(ctx *ActionContext) (any, error)

// SemanticActionKind discriminates the SemanticAction tagged union.
type SemanticActionKind int

const (
	// ActionCallback names a callback registered with the engine.
	ActionCallback SemanticActionKind = iota

	// ActionTemplate is an opaque text template delivered to the host.
	ActionTemplate

	// ActionScript is an opaque foreign-language script delivered to a
	// pluggable executor; the engine never runs it itself.
	ActionScript

	// ActionNative is a Go function run in-process.
	ActionNative

	// ActionComposite is an ordered list of actions run under a composite
	// strategy.
	ActionComposite
)

func (k SemanticActionKind) String() string {
	switch k {
	case ActionTemplate:
		return "template"
	case ActionScript:
		return "script"
	case ActionNative:
		return "native"
	case ActionComposite:
		return "composite"
	default:
		return "callback"
	}
}

// CompositeStrategy selects how an ActionComposite runs its sub-actions.
type CompositeStrategy int

const (
	// CompositeAll runs every sub-action in order.
	CompositeAll CompositeStrategy = iota

	// CompositeFirstSuccess runs sub-actions in order until one succeeds.
	CompositeFirstSuccess
)

// SemanticAction is a tagged union over the ways a completed production can
// trigger behavior. Which fields are meaningful depends on Kind.
type SemanticAction struct {
	Name string
	Kind SemanticActionKind

	// CallbackName is the registered callback to invoke for ActionCallback.
	CallbackName string

	// Template is the opaque payload for ActionTemplate.
	Template string

	// ScriptLang and Script are the opaque payload for ActionScript.
	ScriptLang string
	Script     string

	// Native is the in-process implementation for ActionNative.
	Native Hook

	// Sub and Strategy drive ActionComposite.
	Sub      []SemanticAction
	Strategy CompositeStrategy
}

// Copy returns a deep-copied duplicate of the action.
func (sa SemanticAction) Copy() SemanticAction {
	sa2 := sa
	if sa.Sub != nil {
		sa2.Sub = make([]SemanticAction, len(sa.Sub))
		for i := range sa.Sub {
			sa2.Sub[i] = sa.Sub[i].Copy()
		}
	}
	return sa2
}

// Equal returns whether the SemanticAction equals another value. Native
// hooks are compared by presence only, since function values have no
// meaningful equality.
func (sa SemanticAction) Equal(o any) bool {
	other, ok := o.(SemanticAction)
	if !ok {
		otherPtr, ok := o.(*SemanticAction)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if sa.Name != other.Name || sa.Kind != other.Kind {
		return false
	}
	if sa.CallbackName != other.CallbackName || sa.Template != other.Template {
		return false
	}
	if sa.ScriptLang != other.ScriptLang || sa.Script != other.Script {
		return false
	}
	if (sa.Native == nil) != (other.Native == nil) {
		return false
	}
	if sa.Strategy != other.Strategy {
		return false
	}
	if len(sa.Sub) != len(other.Sub) {
		return false
	}
	for i := range sa.Sub {
		if !sa.Sub[i].Equal(other.Sub[i]) {
			return false
		}
	}

	return true
}

func (sa SemanticAction) String() string {
	var detail string
	switch sa.Kind {
	case ActionCallback:
		detail = sa.CallbackName
	case ActionTemplate:
		detail = sa.Template
	case ActionScript:
		detail = sa.ScriptLang
	case ActionNative:
		detail = "fn"
	case ActionComposite:
		subs := make([]string, len(sa.Sub))
		for i := range sa.Sub {
			subs[i] = sa.Sub[i].String()
		}
		detail = strings.Join(subs, ", ")
	}
	return fmt.Sprintf("%s[%s](%s)", sa.Name, sa.Kind, detail)
}
