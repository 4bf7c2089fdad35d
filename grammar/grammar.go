// Package grammar contains the primitive types of the parsing engine's
// grammar model: terminals, non-terminals, productions, and the Grammar
// record itself, together with the precedence, associativity, recovery, and
// semantic-action values that ride along with a grammar. A Grammar is plain
// data; inheritance between grammars is resolved by package inherit, not by
// any type hierarchy here.
package grammar

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dekarrin/rosed"
	"github.com/dekarrin/stepgram/internal/util"
)

// FormatType names the textual format a grammar was loaded from. The engine
// interprets all of them into the same Grammar record; the format matters
// only to front ends.
type FormatType string

const (
	FormatCEBNF    FormatType = "CEBNF"
	FormatANTLR4   FormatType = "ANTLR4"
	FormatBison    FormatType = "Bison"
	FormatFlex     FormatType = "Flex"
	FormatYacc     FormatType = "Yacc"
	FormatLex      FormatType = "Lex"
	FormatMinotaur FormatType = "Minotaur"
)

// TokenSplitterKind selects how a grammar's token splitter divides input
// before terminal matching.
type TokenSplitterKind int

const (
	// SplitNone performs no pre-splitting; terminals match directly against
	// the raw input.
	SplitNone TokenSplitterKind = iota

	// SplitSpace splits input on runs of whitespace.
	SplitSpace

	// SplitPattern splits input on a custom regular expression.
	SplitPattern
)

// TokenSplitter is a grammar's input pre-splitting rule.
type TokenSplitter struct {
	Kind    TokenSplitterKind
	Pattern string
}

func (ts TokenSplitter) String() string {
	switch ts.Kind {
	case SplitSpace:
		return "Space"
	case SplitPattern:
		return fmt.Sprintf("%q", ts.Pattern)
	default:
		return "None"
	}
}

// Equal returns whether the TokenSplitter equals another value. It will not
// be equal if the other value cannot be cast to TokenSplitter or
// *TokenSplitter.
func (ts TokenSplitter) Equal(o any) bool {
	other, ok := o.(TokenSplitter)
	if !ok {
		otherPtr, ok := o.(*TokenSplitter)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	return ts.Kind == other.Kind && ts.Pattern == other.Pattern
}

// Terminal is a named lexical pattern. Two terminals are equal iff their
// names are equal; patterns are deliberately not part of equality.
type Terminal struct {
	// Name uniquely identifies the terminal within a grammar. Token kinds in
	// the lexer's output are terminal names.
	Name string

	// Pattern is a regular expression over the input alphabet. It is always
	// applied anchored at the current lexer position.
	Pattern string

	// OrderImportant marks the terminal as participating in definition-order
	// tie-breaking when it matches the same length as another terminal.
	OrderImportant bool

	// Order is the terminal's definition order within its grammar, used for
	// tie-breaking when OrderImportant is set.
	Order int
}

// AnchoredPattern returns the terminal's pattern wrapped so that a regexp
// match can only occur at the start of the matched text.
func (t Terminal) AnchoredPattern() string {
	return "^(?:" + t.Pattern + ")"
}

// Compile compiles the terminal's anchored pattern. Callers that match
// repeatedly should cache the result; Terminal itself is a value type and
// holds no compiled state.
func (t Terminal) Compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(t.AnchoredPattern())
	if err != nil {
		return nil, fmt.Errorf("cannot compile pattern for terminal %q: %w", t.Name, err)
	}
	return re, nil
}

// Equal returns whether the Terminal equals another value. Two terminals are
// equal iff their names are equal.
func (t Terminal) Equal(o any) bool {
	other, ok := o.(Terminal)
	if !ok {
		otherPtr, ok := o.(*Terminal)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	return t.Name == other.Name
}

func (t Terminal) String() string {
	return fmt.Sprintf("%s=/%s/", t.Name, t.Pattern)
}

// NonTerminal is a reference to a named set of productions. The optional
// Context restricts where the non-terminal is legal; a blank Context means
// no restriction.
type NonTerminal struct {
	Name    string
	Context string
}

// Equal returns whether the NonTerminal equals another value.
func (nt NonTerminal) Equal(o any) bool {
	other, ok := o.(NonTerminal)
	if !ok {
		otherPtr, ok := o.(*NonTerminal)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	return nt.Name == other.Name && nt.Context == other.Context
}

func (nt NonTerminal) String() string {
	if nt.Context != "" {
		return fmt.Sprintf("<%s(%s)>", nt.Name, nt.Context)
	}
	return fmt.Sprintf("<%s>", nt.Name)
}

// PartKind discriminates the Part tagged union.
type PartKind int

const (
	PartTerminal PartKind = iota
	PartNonTerminal
)

// Part is one element of a production's right-hand side: either a Terminal
// or a NonTerminal. It is a tagged union, not an interface, so productions
// stay plain copyable data.
type Part struct {
	Kind    PartKind
	Term    Terminal
	NonTerm NonTerminal
}

// TermPart wraps a Terminal as a Part.
func TermPart(t Terminal) Part {
	return Part{Kind: PartTerminal, Term: t}
}

// NonTermPart wraps a NonTerminal as a Part.
func NonTermPart(nt NonTerminal) Part {
	return Part{Kind: PartNonTerminal, NonTerm: nt}
}

// Name returns the name of whichever symbol the Part holds.
func (p Part) Name() string {
	if p.Kind == PartTerminal {
		return p.Term.Name
	}
	return p.NonTerm.Name
}

// Equal returns whether the Part equals another value.
func (p Part) Equal(o any) bool {
	other, ok := o.(Part)
	if !ok {
		otherPtr, ok := o.(*Part)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if p.Kind != other.Kind {
		return false
	}
	if p.Kind == PartTerminal {
		return p.Term.Equal(other.Term)
	}
	return p.NonTerm.Equal(other.NonTerm)
}

func (p Part) String() string {
	if p.Kind == PartTerminal {
		return p.Term.Name
	}
	return p.NonTerm.String()
}

// Production is a single alternative of a named rule. Its Parts are consumed
// left to right. Productions within one grammar are unique by Name; a later
// definition of the same Name overwrites all earlier alternatives of it. Alt
// distinguishes the alternatives one definition introduces at once.
type Production struct {
	Name string

	// Alt is the zero-based alternative index within the Name. The first
	// (or only) alternative of a name has Alt 0.
	Alt int

	// Context, when non-blank, restricts where the production is legal.
	Context string

	Parts []Part

	// Callback names a registered callback to run when the production
	// completes. Blank means none.
	Callback string
}

// Copy returns a deep-copied duplicate of this production.
func (p Production) Copy() Production {
	p2 := p
	p2.Parts = make([]Part, len(p.Parts))
	copy(p2.Parts, p.Parts)
	return p2
}

// Equal returns whether the Production equals another value.
func (p Production) Equal(o any) bool {
	other, ok := o.(Production)
	if !ok {
		otherPtr, ok := o.(*Production)
		if !ok {
			return false
		} else if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if p.Name != other.Name || p.Alt != other.Alt || p.Context != other.Context || p.Callback != other.Callback {
		return false
	}
	if len(p.Parts) != len(other.Parts) {
		return false
	}
	for i := range p.Parts {
		if !p.Parts[i].Equal(other.Parts[i]) {
			return false
		}
	}

	return true
}

func (p Production) String() string {
	var sb strings.Builder

	sb.WriteString(p.Name)
	sb.WriteString(" ::= ")
	for i := range p.Parts {
		sb.WriteString(p.Parts[i].String())
		if i+1 < len(p.Parts) {
			sb.WriteRune(' ')
		}
	}
	if p.Callback != "" {
		sb.WriteString(" => {")
		sb.WriteString(p.Callback)
		sb.WriteRune('}')
	}

	return sb.String()
}

// Grammar is the engine's model of one grammar: a plain record of
// productions, start symbols, and the registries' seed values. It carries no
// behavior beyond bookkeeping; inheritance is resolved externally.
type Grammar struct {
	Name string

	FormatType FormatType

	// Inheritable marks whether other grammars may list this one as a base.
	Inheritable bool

	// BaseGrammars is the ordered list of grammar names this grammar
	// inherits from. Order matters: it is the tie-break for linearization.
	BaseGrammars []string

	ImportSemantics  bool
	CoordinateTokens bool
	TokenSplitter    TokenSplitter

	// Productions holds every alternative of every rule, in definition
	// order. Use AddProduction to maintain the overwrite-by-name contract.
	Productions []Production

	// StartTerminals are the terminals a parse may begin with.
	StartTerminals []Terminal

	// StartProductions are the names of the productions a parse may begin
	// with.
	StartProductions []string

	PrecedenceRules    []PrecedenceRule
	AssociativityRules []AssociativityRule
	ErrorRecovery      RecoveryStrategy

	// SemanticActionTemplates is keyed by template name.
	SemanticActionTemplates map[string]SemanticAction

	// Version is bumped by the owning container on every write that touches
	// this grammar. Resolution caches key off it.
	Version int
}

// New creates an empty Grammar with the given name. The grammar is
// inheritable by default.
func New(name string) *Grammar {
	return &Grammar{
		Name:                    name,
		Inheritable:             true,
		FormatType:              FormatCEBNF,
		SemanticActionTemplates: map[string]SemanticAction{},
	}
}

// InheritsFrom returns whether the grammar directly lists base among its
// base grammars. It is always false for the grammar's own name.
func (g *Grammar) InheritsFrom(base string) bool {
	if base == g.Name {
		return false
	}
	return util.InSlice(base, g.BaseGrammars)
}

// AddProduction installs alternatives of one rule. If any production with
// the same Name already exists, every alternative of it is removed first;
// within one grammar, later definitions overwrite earlier ones wholesale.
func (g *Grammar) AddProduction(prods ...Production) {
	if len(prods) == 0 {
		return
	}
	name := prods[0].Name

	kept := make([]Production, 0, len(g.Productions))
	for i := range g.Productions {
		if g.Productions[i].Name != name {
			kept = append(kept, g.Productions[i])
		}
	}
	g.Productions = append(kept, prods...)
}

// ProductionsNamed returns every alternative of the rule with the given
// name, in definition order.
func (g *Grammar) ProductionsNamed(name string) []Production {
	var prods []Production
	for i := range g.Productions {
		if g.Productions[i].Name == name {
			prods = append(prods, g.Productions[i])
		}
	}
	return prods
}

// HasProduction returns whether any alternative is defined under name.
func (g *Grammar) HasProduction(name string) bool {
	for i := range g.Productions {
		if g.Productions[i].Name == name {
			return true
		}
	}
	return false
}

// ProductionNames returns the distinct rule names in first-definition order.
func (g *Grammar) ProductionNames() []string {
	seen := util.NewStringSet()
	var names []string
	for i := range g.Productions {
		n := g.Productions[i].Name
		if !seen.Has(n) {
			seen.Add(n)
			names = append(names, n)
		}
	}
	return names
}

// Terminals returns every distinct terminal referenced from any production
// part or start terminal, keyed by name.
func (g *Grammar) Terminals() map[string]Terminal {
	terms := map[string]Terminal{}
	for _, t := range g.StartTerminals {
		terms[t.Name] = t
	}
	for i := range g.Productions {
		for _, part := range g.Productions[i].Parts {
			if part.Kind == PartTerminal {
				if _, ok := terms[part.Term.Name]; !ok {
					terms[part.Term.Name] = part.Term
				}
			}
		}
	}
	return terms
}

// Copy returns a deep-copied duplicate of the Grammar.
func (g *Grammar) Copy() *Grammar {
	g2 := &Grammar{
		Name:             g.Name,
		FormatType:       g.FormatType,
		Inheritable:      g.Inheritable,
		ImportSemantics:  g.ImportSemantics,
		CoordinateTokens: g.CoordinateTokens,
		TokenSplitter:    g.TokenSplitter,
		ErrorRecovery:    g.ErrorRecovery.Copy(),
		Version:          g.Version,
	}

	g2.BaseGrammars = make([]string, len(g.BaseGrammars))
	copy(g2.BaseGrammars, g.BaseGrammars)

	g2.Productions = make([]Production, len(g.Productions))
	for i := range g.Productions {
		g2.Productions[i] = g.Productions[i].Copy()
	}

	g2.StartTerminals = make([]Terminal, len(g.StartTerminals))
	copy(g2.StartTerminals, g.StartTerminals)

	g2.StartProductions = make([]string, len(g.StartProductions))
	copy(g2.StartProductions, g.StartProductions)

	g2.PrecedenceRules = make([]PrecedenceRule, len(g.PrecedenceRules))
	copy(g2.PrecedenceRules, g.PrecedenceRules)

	g2.AssociativityRules = make([]AssociativityRule, len(g.AssociativityRules))
	copy(g2.AssociativityRules, g.AssociativityRules)

	g2.SemanticActionTemplates = make(map[string]SemanticAction, len(g.SemanticActionTemplates))
	for k, v := range g.SemanticActionTemplates {
		g2.SemanticActionTemplates[k] = v.Copy()
	}

	return g2
}

// Equal returns whether the Grammar equals another value under deep value
// comparison of every field except Version.
func (g *Grammar) Equal(o any) bool {
	other, ok := o.(*Grammar)
	if !ok {
		otherVal, ok := o.(Grammar)
		if !ok {
			return false
		}
		other = &otherVal
	} else if other == nil {
		return false
	}

	if g.Name != other.Name ||
		g.FormatType != other.FormatType ||
		g.Inheritable != other.Inheritable ||
		g.ImportSemantics != other.ImportSemantics ||
		g.CoordinateTokens != other.CoordinateTokens ||
		!g.TokenSplitter.Equal(other.TokenSplitter) ||
		!g.ErrorRecovery.Equal(other.ErrorRecovery) {
		return false
	}

	if !util.EqualSlices(g.BaseGrammars, other.BaseGrammars) ||
		!util.EqualSlices(g.StartProductions, other.StartProductions) {
		return false
	}

	if len(g.Productions) != len(other.Productions) {
		return false
	}
	for i := range g.Productions {
		if !g.Productions[i].Equal(other.Productions[i]) {
			return false
		}
	}

	if len(g.StartTerminals) != len(other.StartTerminals) {
		return false
	}
	for i := range g.StartTerminals {
		if !g.StartTerminals[i].Equal(other.StartTerminals[i]) {
			return false
		}
	}

	if len(g.PrecedenceRules) != len(other.PrecedenceRules) {
		return false
	}
	for i := range g.PrecedenceRules {
		if g.PrecedenceRules[i] != other.PrecedenceRules[i] {
			return false
		}
	}

	if len(g.AssociativityRules) != len(other.AssociativityRules) {
		return false
	}
	for i := range g.AssociativityRules {
		if g.AssociativityRules[i] != other.AssociativityRules[i] {
			return false
		}
	}

	if len(g.SemanticActionTemplates) != len(other.SemanticActionTemplates) {
		return false
	}
	for k := range g.SemanticActionTemplates {
		otherTmpl, ok := other.SemanticActionTemplates[k]
		if !ok || !g.SemanticActionTemplates[k].Equal(otherTmpl) {
			return false
		}
	}

	return true
}

// Validate checks the grammar for structural problems: a blank name,
// self-inheritance, start productions that are not defined, production
// parts whose terminal patterns do not compile. The first problem found is
// returned.
func (g *Grammar) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("grammar has no name")
	}

	if util.InSlice(g.Name, g.BaseGrammars) {
		return fmt.Errorf("grammar %q cannot inherit from itself", g.Name)
	}

	for _, sp := range g.StartProductions {
		if !g.HasProduction(sp) {
			return fmt.Errorf("start production %q is not defined in grammar %q", sp, g.Name)
		}
	}

	for i := range g.Productions {
		p := g.Productions[i]
		if p.Name == "" {
			return fmt.Errorf("grammar %q has a production with no name", g.Name)
		}
		for _, part := range p.Parts {
			if part.Kind == PartTerminal {
				if _, err := part.Term.Compile(); err != nil {
					return fmt.Errorf("production %q: %w", p.Name, err)
				}
			}
		}
	}

	return nil
}

// RuleTable returns a human-readable table of the grammar's productions,
// one row per alternative.
func (g *Grammar) RuleTable() string {
	data := [][]string{{"Rule", "Production"}}

	for i := range g.Productions {
		p := g.Productions[i]

		var partsStr strings.Builder
		for j := range p.Parts {
			partsStr.WriteString(p.Parts[j].String())
			if j+1 < len(p.Parts) {
				partsStr.WriteRune(' ')
			}
		}

		data = append(data, []string{p.Name, partsStr.String()})
	}

	return rosed.Edit("").
		InsertTableOpts(0, data, 80, rosed.Options{
			TableHeaders: true,
		}).
		String()
}
