package fishi

import (
	"testing"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Parse_headerDirectives(t *testing.T) {
	assert := assert.New(t)

	content := `
Grammar: MyLang
TokenSplitter: Space
Inheritable: false
FormatType: CEBNF
Inherits: BaseA, BaseB
ImportSemantics: true
CoordinateTokens: true

stmt ::= "go"
`

	g, warnings, err := Parse(content, "mylang.grammar")
	require.NoError(t, err)
	assert.Empty(warnings)

	assert.Equal("MyLang", g.Name)
	assert.Equal(grammar.SplitSpace, g.TokenSplitter.Kind)
	assert.False(g.Inheritable)
	assert.Equal(grammar.FormatCEBNF, g.FormatType)
	assert.Equal([]string{"BaseA", "BaseB"}, g.BaseGrammars)
	assert.True(g.ImportSemantics)
	assert.True(g.CoordinateTokens)
	assert.Equal([]string{"stmt"}, g.StartProductions)
}

func Test_Parse_legacyIncludeWarns(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: Legacy
Include: Base
x ::= "x"
`

	g, warnings, err := Parse(content, "legacy.grammar")
	require.NoError(t, err)

	assert.Equal([]string{"Base"}, g.BaseGrammars)
	require.Len(t, warnings, 1)
	assert.Contains(warnings[0].Message, "deprecated")
}

func Test_Parse_productionParts(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: Parts
expr ::= <lhs> "+" /[0-9]+/ name <scoped(fn)>
`

	g, _, err := Parse(content, "parts.grammar")
	require.NoError(t, err)

	prods := g.ProductionsNamed("expr")
	require.Len(t, prods, 1)
	parts := prods[0].Parts
	require.Len(t, parts, 5)

	assert.Equal(grammar.PartNonTerminal, parts[0].Kind)
	assert.Equal("lhs", parts[0].NonTerm.Name)

	assert.Equal(grammar.PartTerminal, parts[1].Kind)
	assert.Equal("+", parts[1].Term.Name)
	assert.Equal(`\+`, parts[1].Term.Pattern)

	assert.Equal(grammar.PartTerminal, parts[2].Kind)
	assert.Equal("[0-9]+", parts[2].Term.Pattern)

	// bare identifiers are references resolved at parse time
	assert.Equal(grammar.PartNonTerminal, parts[3].Kind)
	assert.Equal("name", parts[3].NonTerm.Name)

	assert.Equal(grammar.PartNonTerminal, parts[4].Kind)
	assert.Equal("scoped", parts[4].NonTerm.Name)
	assert.Equal("fn", parts[4].NonTerm.Context)
}

func Test_Parse_alternation(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: Alt
val ::= /[0-9]+/ | /[a-z]+/ | "nil"
`

	g, _, err := Parse(content, "alt.grammar")
	require.NoError(t, err)

	alts := g.ProductionsNamed("val")
	require.Len(t, alts, 3)
	assert.Equal(0, alts[0].Alt)
	assert.Equal(1, alts[1].Alt)
	assert.Equal(2, alts[2].Alt)
	assert.Equal("nil", alts[2].Parts[0].Term.Name)
}

func Test_Parse_callback(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: CB
num ::= /[0-9]+/ => {onNum}
`

	g, _, err := Parse(content, "cb.grammar")
	require.NoError(t, err)

	prods := g.ProductionsNamed("num")
	require.Len(t, prods, 1)
	assert.Equal("onNum", prods[0].Callback)
}

func Test_Parse_laterDefinitionOverwrites(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: Re
x ::= "a"
x ::= "b"
`

	g, _, err := Parse(content, "re.grammar")
	require.NoError(t, err)

	prods := g.ProductionsNamed("x")
	require.Len(t, prods, 1)
	assert.Equal("b", prods[0].Parts[0].Term.Name)
}

func Test_Parse_commentsStripped(t *testing.T) {
	assert := assert.New(t)

	content := `Grammar: C  # the name
# a full-line comment
hash ::= "#" /[0-9a-f]+/  # color literal
`

	g, _, err := Parse(content, "c.grammar")
	require.NoError(t, err)

	assert.Equal("C", g.Name)
	prods := g.ProductionsNamed("hash")
	require.Len(t, prods, 1)
	require.Len(t, prods[0].Parts, 2)
	assert.Equal("#", prods[0].Parts[0].Term.Name, "a # inside a literal is not a comment")
}

func Test_Parse_errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "no grammar header", content: `x ::= "a"` + "\n"},
		{name: "unknown directive", content: "Grammar: G\nBogus: 1\n"},
		{name: "bad format type", content: "Grammar: G\nFormatType: EBNF9\n"},
		{name: "unterminated literal", content: "Grammar: G\nx ::= \"a\n"},
		{name: "bad regex", content: "Grammar: G\nx ::= /(/\n"},
		{name: "empty alternative", content: "Grammar: G\nx ::= \"a\" |\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			_, _, err := Parse(tc.content, "bad.grammar")

			assert.Error(err)
		})
	}
}
