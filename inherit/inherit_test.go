package inherit

import (
	"errors"
	"regexp"
	"testing"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/parseerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prod(name string, partNames ...string) grammar.Production {
	p := grammar.Production{Name: name}
	for _, pn := range partNames {
		p.Parts = append(p.Parts, grammar.TermPart(grammar.Terminal{Name: pn, Pattern: regexp.QuoteMeta(pn)}))
	}
	return p
}

func Test_Resolver_Resolve_noBases(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()
	g := grammar.New("Solo")
	g.AddProduction(prod("a", "x"))
	require.NoError(t, c.Add(g))

	r := NewResolver(c)
	resolved, err := r.Resolve("Solo")

	assert.NoError(err)
	assert.Equal("Solo", resolved.Name)
	assert.Len(resolved.ProductionsNamed("a"), 1)
}

func Test_Resolver_Resolve_baseProductionsInherited(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	base := grammar.New("Arith")
	base.AddProduction(prod("expr", "num", "+", "num"))
	require.NoError(t, c.Add(base))

	derived := grammar.New("ArithExt")
	derived.BaseGrammars = []string{"Arith"}
	derived.AddProduction(prod("num", "int"))
	require.NoError(t, c.Add(derived))

	r := NewResolver(c)
	resolved, err := r.Resolve("ArithExt")

	assert.NoError(err)
	assert.True(resolved.HasProduction("expr"), "base production must be inherited")
	assert.True(resolved.HasProduction("num"))
	// base-first insertion order
	assert.Equal([]string{"expr", "num"}, resolved.ProductionNames())
}

func Test_Resolver_Resolve_overrideReplacesAndMoves(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	base := grammar.New("Base")
	base.AddProduction(prod("expr", "a"))
	base.AddProduction(prod("other", "b"))
	require.NoError(t, c.Add(base))

	derived := grammar.New("Derived")
	derived.BaseGrammars = []string{"Base"}
	derived.AddProduction(prod("expr", "c"))
	require.NoError(t, c.Add(derived))

	r := NewResolver(c)
	resolved, err := r.Resolve("Derived")
	assert.NoError(err)

	exprs := resolved.ProductionsNamed("expr")
	assert.Len(exprs, 1, "count(name, resolved) must be 1")
	assert.Equal("c", exprs[0].Parts[0].Name(), "derived version must win")

	// overridden name moves to the derived position
	assert.Equal([]string{"other", "expr"}, resolved.ProductionNames())
}

func Test_Resolver_Resolve_diamondLinearization(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	root := grammar.New("Root")
	root.AddProduction(prod("r", "x"))
	require.NoError(t, c.Add(root))

	left := grammar.New("Left")
	left.BaseGrammars = []string{"Root"}
	left.AddProduction(prod("v", "l"))
	require.NoError(t, c.Add(left))

	right := grammar.New("Right")
	right.BaseGrammars = []string{"Root"}
	right.AddProduction(prod("v", "r"))
	require.NoError(t, c.Add(right))

	bottom := grammar.New("Bottom")
	bottom.BaseGrammars = []string{"Left", "Right"}
	require.NoError(t, c.Add(bottom))

	r := NewResolver(c)

	lin, err := r.Linearize("Bottom")
	assert.NoError(err)
	assert.Equal([]string{"Bottom", "Left", "Right", "Root"}, lin)

	resolved, err := r.Resolve("Bottom")
	assert.NoError(err)

	// Left precedes Right in the linearization, so Left is the more derived
	// of the two and its v overrides Right's in the base-first walk.
	vs := resolved.ProductionsNamed("v")
	assert.Len(vs, 1)
	assert.Equal("l", vs[0].Parts[0].Name())
}

func Test_Resolver_Resolve_scalarAndRecoveryMerge(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	base := grammar.New("Base")
	base.TokenSplitter = grammar.TokenSplitter{Kind: grammar.SplitSpace}
	base.PrecedenceRules = []grammar.PrecedenceRule{{Operator: "+", Level: 5}}
	base.AssociativityRules = []grammar.AssociativityRule{{Operator: "+", Assoc: grammar.AssocLeft}}
	base.ErrorRecovery = grammar.RecoveryStrategy{
		Kind:       grammar.RecoverySynchronize,
		SyncTokens: map[string]bool{";": true},
	}
	require.NoError(t, c.Add(base))

	derived := grammar.New("Derived")
	derived.BaseGrammars = []string{"Base"}
	derived.PrecedenceRules = []grammar.PrecedenceRule{{Operator: "*", Level: 6}, {Operator: "-", Level: 5}}
	derived.ErrorRecovery = grammar.RecoveryStrategy{
		Kind:       grammar.RecoverySkip,
		SkipCount:  2,
		SyncTokens: map[string]bool{"}": true},
	}
	require.NoError(t, c.Add(derived))

	r := NewResolver(c)
	resolved, err := r.Resolve("Derived")
	assert.NoError(err)

	// derived scalars win: Derived never set a splitter, so the default
	// (None) wins over the base's Space.
	assert.Equal(grammar.SplitNone, resolved.TokenSplitter.Kind)

	// precedence is level-keyed with derived override; sorted ascending.
	assert.Equal([]grammar.PrecedenceRule{
		{Operator: "-", Level: 5},
		{Operator: "*", Level: 6},
	}, resolved.PrecedenceRules)

	// associativity comes through from the base untouched.
	assert.Equal([]grammar.AssociativityRule{{Operator: "+", Assoc: grammar.AssocLeft}}, resolved.AssociativityRules)

	// recovery: sync tokens are unioned, kind takes most-derived non-default.
	assert.Equal(grammar.RecoverySkip, resolved.ErrorRecovery.Kind)
	assert.True(resolved.ErrorRecovery.SyncTokens.Has(";"))
	assert.True(resolved.ErrorRecovery.SyncTokens.Has("}"))
}

func Test_Resolver_Resolve_missingBase(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()
	g := grammar.New("Orphan")
	g.BaseGrammars = []string{"Ghost"}
	require.NoError(t, c.Add(g))

	r := NewResolver(c)
	_, err := r.Resolve("Orphan")

	assert.Error(err)
	assert.True(errors.Is(err, parseerr.MissingGrammar))
}

func Test_Resolver_Resolve_idempotent(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	base := grammar.New("Base")
	base.AddProduction(prod("a", "x"))
	require.NoError(t, c.Add(base))

	derived := grammar.New("Derived")
	derived.BaseGrammars = []string{"Base"}
	derived.AddProduction(prod("b", "y"))
	require.NoError(t, c.Add(derived))

	r := NewResolver(c)
	resolved, err := r.Resolve("Derived")
	require.NoError(t, err)

	// install the resolved grammar in a fresh container and resolve again:
	// resolve(resolve(D)) must equal resolve(D) under value equality,
	// modulo the base list the resolved copy still records.
	c2 := grammar.NewContainer()
	flattened := resolved.Copy()
	flattened.BaseGrammars = nil
	require.NoError(t, c2.Add(flattened))

	r2 := NewResolver(c2)
	resolved2, err := r2.Resolve("Derived")
	require.NoError(t, err)

	resolvedNoBases := resolved.Copy()
	resolvedNoBases.BaseGrammars = nil
	resolvedNoBases.Version = resolved2.Version
	assert.True(resolved2.Equal(resolvedNoBases))
}

func Test_Resolver_cacheInvalidation(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	base := grammar.New("Base")
	base.AddProduction(prod("a", "x"))
	require.NoError(t, c.Add(base))

	derived := grammar.New("Derived")
	derived.BaseGrammars = []string{"Base"}
	require.NoError(t, c.Add(derived))

	r := NewResolver(c)
	first, err := r.Resolve("Derived")
	require.NoError(t, err)
	assert.True(first.HasProduction("a"))

	// write to the base; both its own and the derived cache entries must be
	// invalidated.
	base2 := grammar.New("Base")
	base2.AddProduction(prod("a2", "x"))
	require.NoError(t, c.Add(base2))

	second, err := r.Resolve("Derived")
	require.NoError(t, err)
	assert.False(second.HasProduction("a"))
	assert.True(second.HasProduction("a2"))
}

func Test_Resolver_ValidateInheritance(t *testing.T) {
	assert := assert.New(t)

	c := grammar.NewContainer()

	sealed := grammar.New("Sealed")
	sealed.Inheritable = false
	require.NoError(t, c.Add(sealed))

	g := grammar.New("G")
	g.BaseGrammars = []string{"Sealed", "Ghost"}
	require.NoError(t, c.Add(g))

	r := NewResolver(c)
	problems := r.ValidateInheritance("G")

	require.Len(t, problems, 2)

	var warnings, errs int
	for _, p := range problems {
		if p.Warning {
			warnings++
		} else {
			errs++
		}
	}
	assert.Equal(1, warnings, "non-inheritable base is a warning")
	assert.Equal(1, errs, "missing base is an error")
}
