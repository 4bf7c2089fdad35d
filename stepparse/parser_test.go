package stepparse

import (
	"testing"

	"github.com/dekarrin/stepgram/arena"
	"github.com/dekarrin/stepgram/config"
	"github.com/dekarrin/stepgram/context"
	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/lex"
	"github.com/dekarrin/stepgram/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tInt  = grammar.Terminal{Name: "int", Pattern: `[0-9]+`}
	tPlus = grammar.Terminal{Name: "+", Pattern: `\+`}
	tStar = grammar.Terminal{Name: "*", Pattern: `\*`}
	tID   = grammar.Terminal{Name: "ident", Pattern: `[a-z]+`}
)

// arithGrammar is expr ::= num "+" num; num ::= int, started at expr.
func arithGrammar() *grammar.Grammar {
	g := grammar.New("Arith")
	g.AddProduction(grammar.Production{
		Name: "expr",
		Parts: []grammar.Part{
			grammar.NonTermPart(grammar.NonTerminal{Name: "num"}),
			grammar.TermPart(tPlus),
			grammar.NonTermPart(grammar.NonTerminal{Name: "num"}),
		},
	})
	g.AddProduction(grammar.Production{
		Name:  "num",
		Parts: []grammar.Part{grammar.TermPart(tInt)},
	})
	g.StartProductions = []string{"expr"}
	return g
}

type harness struct {
	lx *lex.StepLexer
	sp *StepParser
}

func newHarness(t *testing.T, g *grammar.Grammar, cfgMod func(*config.EngineConfig)) *harness {
	cfg := config.Default()
	if cfgMod != nil {
		cfgMod(&cfg)
	}

	a := arena.New(0, 0)
	in := arena.NewStringInterner(a)
	adapter := context.NewAdapter(in)

	sem := registry.NewSemanticActions(registry.StandaloneHierarchy())
	rec := registry.NewRecoveries(registry.StandaloneHierarchy())

	sp := New(cfg, adapter, sem, rec)
	lx := lex.New(cfg, in, sp)

	return &harness{lx: lx, sp: sp}
}

// run drives the full lexer/parser loop over the input lines.
func (h *harness) run(t *testing.T, g *grammar.Grammar, lines []string) {
	require.NoError(t, h.lx.Start("test.txt", lines))
	h.sp.Begin(g, "test.txt", h.lx, h.lx.Resolve)

	for i := 0; h.lx.HasNext(); i++ {
		require.Less(t, i, 1000, "parse did not terminate")
		batch, err := h.lx.NextTokens()
		require.NoError(t, err)
		require.NoError(t, h.sp.DriveBatch(batch))
	}
}

func Test_StepParser_nestedMatchTree(t *testing.T) {
	assert := assert.New(t)

	h := newHarness(t, arithGrammar(), nil)
	h.run(t, arithGrammar(), []string{"12+34"})

	require.True(t, h.sp.Succeeded())
	forest := h.sp.Forest()
	require.Len(t, forest, 1)

	assert.Equal(`expr(num("12"), "+", num("34"))`, forest[0].Compact())
	assert.Equal("12+34", forest[0].Value)
	assert.Equal(0, forest[0].StartPosition)
	assert.Equal(5, forest[0].EndPosition)
}

func Test_StepParser_matchSpansNest(t *testing.T) {
	assert := assert.New(t)

	h := newHarness(t, arithGrammar(), nil)
	h.run(t, arithGrammar(), []string{"1+2"})

	require.True(t, h.sp.Succeeded())
	forest := h.sp.Forest()
	require.Len(t, forest, 1)

	expr := forest[0]
	require.Len(t, expr.Children, 3)

	left := expr.Children[0]
	assert.Equal("num", left.Production)
	assert.Equal(0, left.StartPosition)
	assert.Equal(1, left.EndPosition)

	right := expr.Children[2]
	assert.Equal("num", right.Production)
	assert.Equal(2, right.StartPosition)
	assert.Equal(3, right.EndPosition)
}

func Test_StepParser_syntaxErrorReleasesPath(t *testing.T) {
	assert := assert.New(t)

	g := arithGrammar()
	h := newHarness(t, g, nil)
	h.run(t, g, []string{"1*2"})

	assert.False(h.sp.Succeeded())
	require.NotEmpty(t, h.sp.Errors())

	// the error is at the offending character, 1-based
	first := h.sp.Errors()[0]
	assert.Equal(2, first.Position().Column)
}

func Test_StepParser_structuralPrecedence(t *testing.T) {
	assert := assert.New(t)

	// expr ::= term "+" term; term ::= num "*" num | num; num ::= int.
	// "1+2*3" must come out with * bound tighter than +.
	g := grammar.New("Prec")
	g.AddProduction(grammar.Production{
		Name: "expr",
		Parts: []grammar.Part{
			grammar.NonTermPart(grammar.NonTerminal{Name: "term"}),
			grammar.TermPart(tPlus),
			grammar.NonTermPart(grammar.NonTerminal{Name: "term"}),
		},
	})
	g.AddProduction(
		grammar.Production{
			Name: "term",
			Alt:  0,
			Parts: []grammar.Part{
				grammar.NonTermPart(grammar.NonTerminal{Name: "num"}),
				grammar.TermPart(tStar),
				grammar.NonTermPart(grammar.NonTerminal{Name: "num"}),
			},
		},
		grammar.Production{
			Name:  "term",
			Alt:   1,
			Parts: []grammar.Part{grammar.NonTermPart(grammar.NonTerminal{Name: "num"})},
		},
	)
	g.AddProduction(grammar.Production{
		Name:  "num",
		Parts: []grammar.Part{grammar.TermPart(tInt)},
	})
	g.StartProductions = []string{"expr"}

	h := newHarness(t, g, nil)
	h.run(t, g, []string{"1+2*3"})

	require.True(t, h.sp.Succeeded())
	forest := h.sp.Forest()
	require.Len(t, forest, 1)

	assert.Equal(`expr(term(num("1")), "+", term(num("2"), "*", num("3")))`, forest[0].Compact())
}

func Test_StepParser_ambiguityCapThree(t *testing.T) {
	assert := assert.New(t)

	// five alternatives all beginning with the same token; only three
	// hypotheses may survive the ambiguous step.
	g := grammar.New("Ambig")
	alts := make([]grammar.Production, 5)
	for i := range alts {
		alts[i] = grammar.Production{
			Name: "s",
			Alt:  i,
			Parts: []grammar.Part{
				grammar.TermPart(tID),
				grammar.TermPart(grammar.Terminal{Name: "end" + string(rune('a'+i)), Pattern: `\.`}),
			},
		}
	}
	g.AddProduction(alts...)
	g.StartProductions = []string{"s"}

	h := newHarness(t, g, nil)

	require.NoError(t, h.lx.Start("test.txt", []string{"xy."}))
	h.sp.Begin(g, "test.txt", h.lx, h.lx.Resolve)

	// first batch delivers the ident token and triggers the 5-way fork
	batch, err := h.lx.NextTokens()
	require.NoError(t, err)
	require.NoError(t, h.sp.DriveBatch(batch))

	assert.LessOrEqual(len(h.sp.paths), 3, "at most three paths may survive one ambiguity")
	require.Len(t, h.sp.Warnings(), 1, "discarded alternatives must be warned about")
	assert.Contains(h.sp.Warnings()[0].Message, "ambiguity of arity 5")
}

func Test_StepParser_synchronizationRecovery(t *testing.T) {
	assert := assert.New(t)

	// stmt ::= word; word ::= ident, sync tokens {";", "}"}. Input "a+;"
	// yields one match for a, one syntax warning, and a clean finish.
	g := grammar.New("Rec")
	g.AddProduction(grammar.Production{
		Name:  "stmt",
		Parts: []grammar.Part{grammar.NonTermPart(grammar.NonTerminal{Name: "word"})},
	})
	g.AddProduction(grammar.Production{
		Name:  "word",
		Parts: []grammar.Part{grammar.TermPart(tID)},
	})
	g.StartProductions = []string{"stmt"}
	g.ErrorRecovery = grammar.RecoveryStrategy{
		Kind:       grammar.RecoverySynchronize,
		SyncTokens: map[string]bool{";": true, "}": true},
	}

	h := newHarness(t, g, nil)
	h.run(t, g, []string{"a+;"})

	require.True(t, h.sp.Succeeded(), "synchronization must let the path finish cleanly")

	forest := h.sp.Forest()
	require.Len(t, forest, 1)
	assert.Equal(`stmt(word("a"))`, forest[0].Compact())

	require.Len(t, h.sp.Warnings(), 1)
	assert.Contains(h.sp.Warnings()[0].Message, "synchronized")
}

func Test_StepParser_callbacksRun(t *testing.T) {
	assert := assert.New(t)

	g := arithGrammar()
	// attach a callback to num
	prods := g.ProductionsNamed("num")
	prods[0].Callback = "onNum"
	g.AddProduction(prods...)

	h := newHarness(t, g, nil)

	var captured [][]string
	h.sp.RegisterCallback("onNum", func(ctx *grammar.ActionContext) (any, error) {
		captured = append(captured, ctx.Captures)
		return nil, nil
	})

	h.run(t, g, []string{"12+34"})

	require.True(t, h.sp.Succeeded())
	require.Len(t, captured, 2)
	assert.Equal([]string{"12"}, captured[0])
	assert.Equal([]string{"34"}, captured[1])
}

func Test_StepParser_semanticActionNative(t *testing.T) {
	assert := assert.New(t)

	g := arithGrammar()
	h := newHarness(t, g, nil)

	var seen []string
	h.sp.semantics.Register("Arith", "expr", grammar.SemanticAction{
		Name: "expr",
		Kind: grammar.ActionNative,
		Native: func(ctx *grammar.ActionContext) (any, error) {
			seen = append(seen, ctx.Production)
			return nil, nil
		},
	})

	h.run(t, g, []string{"1+2"})

	require.True(t, h.sp.Succeeded())
	assert.Equal([]string{"expr"}, seen)
}

func Test_StepParser_partialForestOnFailure(t *testing.T) {
	assert := assert.New(t)

	g := arithGrammar()
	h := newHarness(t, g, nil)
	h.run(t, g, []string{"1+"})

	assert.False(h.sp.Succeeded())
	assert.NotEmpty(h.sp.Errors())

	// the completed num("1") survives into the partial forest
	forest := h.sp.Forest()
	require.NotEmpty(t, forest)
	assert.Equal(`num("1")`, forest[0].Compact())
}

func Test_ProductionMatch_CopyAndEqual(t *testing.T) {
	assert := assert.New(t)

	pm := &ProductionMatch{
		Production: "expr",
		Value:      "1+2",
		Children: []*ProductionMatch{
			{Production: "num", Value: "1", Children: []*ProductionMatch{{Value: "1"}}},
			{Value: "+"},
			{Production: "num", Value: "2", Children: []*ProductionMatch{{Value: "2"}}},
		},
	}

	pm2 := pm.Copy()
	assert.True(pm.Equal(pm2))

	pm2.Children[0].Value = "9"
	assert.False(pm.Equal(pm2))
	assert.Equal("1", pm.Children[0].Value)
}
