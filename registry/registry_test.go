package registry

import (
	"testing"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/inherit"
	"github.com/dekarrin/stepgram/parseerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hierFixture builds a container with Base <- Mid <- Leaf and returns a
// Hierarchy over it.
type hierFixture struct {
	c *grammar.Container
	r *inherit.Resolver
}

func (h hierFixture) Linearize(g string) ([]string, error) { return h.r.Linearize(g) }
func (h hierFixture) TransitiveDerivedOf(g string) []string {
	return h.c.TransitiveDerivedOf(g)
}

func newHierFixture(t *testing.T) hierFixture {
	c := grammar.NewContainer()

	base := grammar.New("Base")
	require.NoError(t, c.Add(base))

	mid := grammar.New("Mid")
	mid.BaseGrammars = []string{"Base"}
	require.NoError(t, c.Add(mid))

	leaf := grammar.New("Leaf")
	leaf.BaseGrammars = []string{"Mid"}
	require.NoError(t, c.Add(leaf))

	return hierFixture{c: c, r: inherit.NewResolver(c)}
}

func Test_Registry_Get_walksInheritance(t *testing.T) {
	assert := assert.New(t)

	h := newHierFixture(t)
	reg := New[int](h)

	reg.Register("Base", "answer", 42)

	v, ok := reg.Get("Leaf", "answer")
	assert.True(ok)
	assert.Equal(42, v)

	// derived registration shadows the base
	reg.Register("Mid", "answer", 7)
	v, ok = reg.Get("Leaf", "answer")
	assert.True(ok)
	assert.Equal(7, v)

	// base still sees its own
	v, ok = reg.Get("Base", "answer")
	assert.True(ok)
	assert.Equal(42, v)
}

func Test_Registry_Get_missingReturnsFalse(t *testing.T) {
	assert := assert.New(t)

	reg := NewStandalone[string]()

	_, ok := reg.Get("G", "nope")
	assert.False(ok)
}

func Test_Registry_writeInvalidatesDependentCaches(t *testing.T) {
	assert := assert.New(t)

	h := newHierFixture(t)
	reg := New[int](h)

	reg.Register("Base", "x", 1)

	// warm the Leaf cache through inheritance
	v, ok := reg.Get("Leaf", "x")
	require.True(t, ok)
	assert.Equal(1, v)

	// a write against Mid must invalidate Leaf's cached lookup too
	reg.Register("Mid", "x", 2)

	v, ok = reg.Get("Leaf", "x")
	assert.True(ok)
	assert.Equal(2, v, "cache invalidation must reach every transitive dependent")
}

func Test_Registry_GetAll_overlays(t *testing.T) {
	assert := assert.New(t)

	h := newHierFixture(t)
	reg := New[string](h)

	reg.Register("Base", "a", "base-a")
	reg.Register("Base", "b", "base-b")
	reg.Register("Leaf", "a", "leaf-a")

	all := reg.GetAll("Leaf")
	assert.Equal(map[string]string{"a": "leaf-a", "b": "base-b"}, all)
}

func Test_Registry_GetDirect_and_RemoveAll(t *testing.T) {
	assert := assert.New(t)

	h := newHierFixture(t)
	reg := New[string](h)

	reg.Register("Base", "a", "base-a")
	reg.Register("Leaf", "b", "leaf-b")

	assert.Equal(map[string]string{"b": "leaf-b"}, reg.GetDirect("Leaf"))

	reg.RemoveAll("Base")
	_, ok := reg.Get("Leaf", "a")
	assert.False(ok)
	_, ok = reg.Get("Leaf", "b")
	assert.True(ok)
}

func Test_Precedence_Compare(t *testing.T) {
	testCases := []struct {
		name       string
		op1        string
		op2        string
		expectCmp  int
		expectOk   bool
	}{
		{name: "lower vs higher", op1: "+", op2: "*", expectCmp: -1, expectOk: true},
		{name: "higher vs lower", op1: "*", op2: "+", expectCmp: 1, expectOk: true},
		{name: "equal levels", op1: "+", op2: "-", expectCmp: 0, expectOk: true},
		{name: "missing rule", op1: "+", op2: "??", expectOk: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assoc := NewAssociativity(staticHierarchy{})
			prec := NewPrecedence(staticHierarchy{}, assoc)
			prec.Register("G", "+", grammar.PrecedenceRule{Operator: "+", Level: 5})
			prec.Register("G", "-", grammar.PrecedenceRule{Operator: "-", Level: 5})
			prec.Register("G", "*", grammar.PrecedenceRule{Operator: "*", Level: 6})

			cmp, ok := prec.Compare("G", tc.op1, tc.op2)

			assert.Equal(tc.expectOk, ok)
			if tc.expectOk {
				assert.Equal(tc.expectCmp, cmp)
			}
		})
	}
}

func Test_Precedence_Table(t *testing.T) {
	assert := assert.New(t)

	assoc := NewAssociativity(staticHierarchy{})
	assoc.Register("G", "+", grammar.AssociativityRule{Operator: "+", Assoc: grammar.AssocLeft})
	assoc.Register("G", "-", grammar.AssociativityRule{Operator: "-", Assoc: grammar.AssocLeft})
	assoc.Register("G", "*", grammar.AssociativityRule{Operator: "*", Assoc: grammar.AssocLeft})

	prec := NewPrecedence(staticHierarchy{}, assoc)
	prec.Register("G", "+", grammar.PrecedenceRule{Operator: "+", Level: 5})
	prec.Register("G", "-", grammar.PrecedenceRule{Operator: "-", Level: 5})
	prec.Register("G", "*", grammar.PrecedenceRule{Operator: "*", Level: 6})

	groups, warnings := prec.Table("G")

	require.Len(t, groups, 2)
	assert.Empty(warnings)
	assert.Equal(5, groups[0].Level)
	assert.Equal([]string{"+", "-"}, groups[0].Operators)
	assert.Equal(grammar.AssocLeft, groups[0].Associativity)
	assert.Equal(6, groups[1].Level)
	assert.Equal([]string{"*"}, groups[1].Operators)
}

func Test_Precedence_Table_conflictingAssocWarns(t *testing.T) {
	assert := assert.New(t)

	assoc := NewAssociativity(staticHierarchy{})
	assoc.Register("G", "+", grammar.AssociativityRule{Operator: "+", Assoc: grammar.AssocLeft})
	assoc.Register("G", "-", grammar.AssociativityRule{Operator: "-", Assoc: grammar.AssocRight})

	prec := NewPrecedence(staticHierarchy{}, assoc)
	prec.Register("G", "+", grammar.PrecedenceRule{Operator: "+", Level: 5})
	prec.Register("G", "-", grammar.PrecedenceRule{Operator: "-", Level: 5})

	groups, warnings := prec.Table("G")

	require.Len(t, groups, 1)
	assert.Len(warnings, 1)
	// both registrations are equally derived (both directly on G), so
	// alphabetical order is the tie-break and "+" wins
	assert.Equal(grammar.AssocLeft, groups[0].Associativity)
}

func Test_Precedence_Table_mostDerivedAssocWins(t *testing.T) {
	assert := assert.New(t)

	h := newHierFixture(t)

	// the base grammar registers "+" as left at level 5; the leaf grammar
	// registers "-" as right at the same level. The leaf registration is
	// the more derived one, so the level resolves to right even though "+"
	// sorts first alphabetically.
	assoc := NewAssociativity(h)
	assoc.Register("Base", "+", grammar.AssociativityRule{Operator: "+", Assoc: grammar.AssocLeft})
	assoc.Register("Leaf", "-", grammar.AssociativityRule{Operator: "-", Assoc: grammar.AssocRight})

	prec := NewPrecedence(h, assoc)
	prec.Register("Base", "+", grammar.PrecedenceRule{Operator: "+", Level: 5})
	prec.Register("Leaf", "-", grammar.PrecedenceRule{Operator: "-", Level: 5})

	groups, warnings := prec.Table("Leaf")

	require.Len(t, groups, 1)
	assert.Equal([]string{"+", "-"}, groups[0].Operators)
	assert.Equal(grammar.AssocRight, groups[0].Associativity, "the most-derived registration must win")

	require.Len(t, warnings, 1)
	assert.Contains(warnings[0].Message, `"+"`)

	// seen from the base itself there is no conflict
	baseGroups, baseWarnings := prec.Table("Base")
	require.Len(t, baseGroups, 1)
	assert.Empty(baseWarnings)
	assert.Equal(grammar.AssocLeft, baseGroups[0].Associativity)
}

func Test_Recoveries_Apply_namedStrategy(t *testing.T) {
	assert := assert.New(t)

	rec := NewRecoveries(staticHierarchy{})
	rec.Register("G", "syntax", grammar.RecoveryStrategy{
		Kind:       grammar.RecoverySynchronize,
		SyncTokens: map[string]bool{";": true},
	})

	result := rec.Apply("G", parseerr.Syntax, RecoveryContext{
		Position:  2,
		Lookahead: []string{"+", ";", "x"},
	}, nil)

	assert.True(result.Recovered)
	assert.Equal(RecoverSynchronize, result.Action)
	assert.Equal([]string{"+", ";"}, result.RecoveredTokens)
	assert.Equal(4, result.NewPosition)
}

func Test_Recoveries_Apply_defaults(t *testing.T) {
	testCases := []struct {
		name         string
		kind         parseerr.Kind
		lookahead    []string
		sync         map[string]bool
		expectAction RecoveryAction
		expectOk     bool
	}{
		{
			name:         "syntax defaults to synchronization",
			kind:         parseerr.Syntax,
			lookahead:    []string{"x", ";"},
			sync:         map[string]bool{";": true},
			expectAction: RecoverSynchronize,
			expectOk:     true,
		},
		{
			name:         "semantic defaults to skip",
			kind:         parseerr.Semantic,
			lookahead:    []string{"x", "y"},
			expectAction: RecoverSkip,
			expectOk:     true,
		},
		{
			name:         "lexical defaults to character skip",
			kind:         parseerr.Lexical,
			lookahead:    []string{"abc"},
			expectAction: RecoverCharSkip,
			expectOk:     true,
		},
		{
			name:         "unrecoverable kind fails",
			kind:         parseerr.Budget,
			lookahead:    []string{"x"},
			expectAction: RecoverFail,
			expectOk:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			rec := NewRecoveries(staticHierarchy{})

			result := rec.Apply("G", tc.kind, RecoveryContext{Lookahead: tc.lookahead}, tc.sync)

			assert.Equal(tc.expectAction, result.Action)
			assert.Equal(tc.expectOk, result.Recovered)
		})
	}
}

func Test_Recoveries_Apply_insertAndReplace(t *testing.T) {
	assert := assert.New(t)

	rec := NewRecoveries(staticHierarchy{})
	rec.Register("G", "syntax", grammar.RecoveryStrategy{Kind: grammar.RecoveryInsert, Token: ";"})

	result := rec.Apply("G", parseerr.Syntax, RecoveryContext{Position: 5, Lookahead: []string{"}"}}, nil)
	assert.Equal(RecoverInsert, result.Action)
	assert.Equal(5, result.NewPosition, "insert does not consume input")

	rec.Register("G", "syntax", grammar.RecoveryStrategy{Kind: grammar.RecoveryReplace, Token: ";"})
	result = rec.Apply("G", parseerr.Syntax, RecoveryContext{Position: 5, Lookahead: []string{"}"}}, nil)
	assert.Equal(RecoverReplace, result.Action)
	assert.Equal(6, result.NewPosition, "replace consumes the offending token")
}
