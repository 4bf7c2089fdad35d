// Package fishi is the minimal textual front end that feeds the engine: it
// reads a grammar file of header directives and ::= productions and
// produces a grammar.Grammar. Richer grammar syntaxes are collaborators
// built on the same engine surface; this one covers the header/production
// form the engine's own loading path needs.
package fishi

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/dekarrin/stepgram/grammar"
	"github.com/dekarrin/stepgram/parseerr"
)

// Preprocess strips comments and normalizes line endings to \n. A comment
// runs from an unquoted # to the end of the line.
func Preprocess(source string) string {
	scanner := bufio.NewScanner(strings.NewReader(source))
	var preprocessed strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimSuffix(line, "\r")
		line = cutComment(line)
		preprocessed.WriteString(line)
		preprocessed.WriteRune('\n')
	}

	return preprocessed.String()
}

// cutComment removes a trailing # comment, respecting quoted literals and
// regex terms so patterns may contain #.
func cutComment(line string) string {
	var inQuote, inRegex, escaped bool
	for i, ch := range line {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			if !inRegex {
				inQuote = !inQuote
			}
		case '/':
			if !inQuote {
				inRegex = !inRegex
			}
		case '#':
			if !inQuote && !inRegex {
				return line[:i]
			}
		}
	}
	return line
}

// Parse reads grammar-file content and builds a Grammar. The returned
// warnings include use of the legacy Include: directive. Parse fails on the
// first malformed line.
func Parse(content, fileName string) (*grammar.Grammar, []parseerr.Warning, error) {
	var warnings []parseerr.Warning

	g := grammar.New("")

	lines := strings.Split(Preprocess(content), "\n")
	termOrder := 0

	for lineNo, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		pos := parseerr.Position{File: fileName, Line: lineNo + 1, Column: 1}

		if strings.Contains(line, "::=") {
			if err := parseProduction(g, line, pos, &termOrder); err != nil {
				return nil, warnings, err
			}
			continue
		}

		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, warnings, parseerr.Newf(parseerr.Syntax, pos,
				"expected a directive or production, got %q", line)
		}
		directive = strings.TrimSpace(directive)
		value = strings.TrimSpace(value)

		switch directive {
		case "Grammar", "Extends Grammar":
			g.Name = value
		case "TokenSplitter":
			ts, err := parseTokenSplitter(value)
			if err != nil {
				return nil, warnings, parseerr.Wrap(parseerr.Syntax, pos, "bad TokenSplitter", err)
			}
			g.TokenSplitter = ts
		case "Inheritable":
			g.Inheritable = parseBool(value)
		case "FormatType":
			ft, err := parseFormatType(value)
			if err != nil {
				return nil, warnings, parseerr.Wrap(parseerr.Syntax, pos, "bad FormatType", err)
			}
			g.FormatType = ft
		case "Include":
			warnings = append(warnings, parseerr.NewWarning(parseerr.Syntax, pos,
				"the Include: directive is deprecated; use Inherits:"))
			fallthrough
		case "Inherits":
			for _, base := range strings.Split(value, ",") {
				base = strings.TrimSpace(base)
				if base != "" {
					g.BaseGrammars = append(g.BaseGrammars, base)
				}
			}
		case "ImportSemantics":
			g.ImportSemantics = parseBool(value)
		case "CoordinateTokens":
			g.CoordinateTokens = parseBool(value)
		default:
			return nil, warnings, parseerr.Newf(parseerr.Syntax, pos,
				"unknown directive %q", directive)
		}
	}

	if g.Name == "" {
		return nil, warnings, parseerr.Newf(parseerr.Syntax,
			parseerr.Position{File: fileName, Line: 1, Column: 1},
			"grammar file has no Grammar: header")
	}

	// the first production defined is the start production, whether or not
	// the grammar inherits; inheritance resolution unions it with the bases'
	// start productions.
	if len(g.StartProductions) == 0 && len(g.Productions) > 0 {
		g.StartProductions = []string{g.Productions[0].Name}
	}

	return g, warnings, nil
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true")
}

func parseTokenSplitter(s string) (grammar.TokenSplitter, error) {
	switch {
	case strings.EqualFold(s, "None") || s == "":
		return grammar.TokenSplitter{Kind: grammar.SplitNone}, nil
	case strings.EqualFold(s, "Space"):
		return grammar.TokenSplitter{Kind: grammar.SplitSpace}, nil
	case len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`):
		pat := s[1 : len(s)-1]
		if _, err := regexp.Compile(pat); err != nil {
			return grammar.TokenSplitter{}, fmt.Errorf("cannot compile splitter pattern: %w", err)
		}
		return grammar.TokenSplitter{Kind: grammar.SplitPattern, Pattern: pat}, nil
	default:
		return grammar.TokenSplitter{}, fmt.Errorf("must be None, Space, or a quoted pattern, not %q", s)
	}
}

func parseFormatType(s string) (grammar.FormatType, error) {
	for _, ft := range []grammar.FormatType{
		grammar.FormatCEBNF, grammar.FormatANTLR4, grammar.FormatBison,
		grammar.FormatFlex, grammar.FormatYacc, grammar.FormatLex, grammar.FormatMinotaur,
	} {
		if strings.EqualFold(string(ft), s) {
			return ft, nil
		}
	}
	return "", fmt.Errorf("unknown format type %q", s)
}

// parseProduction reads one `name ::= expression [=> {callback}]` line.
// Alternation produces one Production per alternative, sharing the name.
func parseProduction(g *grammar.Grammar, line string, pos parseerr.Position, termOrder *int) error {
	namePart, exprPart, _ := strings.Cut(line, "::=")

	name := strings.TrimSpace(namePart)
	if strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">") {
		name = name[1 : len(name)-1]
	}
	if name == "" {
		return parseerr.Newf(parseerr.Syntax, pos, "production has no name")
	}

	exprPart = strings.TrimSpace(exprPart)

	// trailing callback applies to every alternative of the line.
	callback := ""
	if idx := strings.LastIndex(exprPart, "=>"); idx >= 0 {
		cb := strings.TrimSpace(exprPart[idx+2:])
		if strings.HasPrefix(cb, "{") && strings.HasSuffix(cb, "}") {
			callback = strings.TrimSpace(cb[1 : len(cb)-1])
			exprPart = strings.TrimSpace(exprPart[:idx])
		}
	}

	alternatives, err := splitAlternatives(exprPart)
	if err != nil {
		return parseerr.Wrap(parseerr.Syntax, pos, "bad production "+name, err)
	}

	var prods []grammar.Production
	for alt, expr := range alternatives {
		parts, err := parseParts(expr, termOrder)
		if err != nil {
			return parseerr.Wrap(parseerr.Syntax, pos, "bad production "+name, err)
		}
		prods = append(prods, grammar.Production{
			Name:     name,
			Alt:      alt,
			Parts:    parts,
			Callback: callback,
		})
	}

	g.AddProduction(prods...)
	return nil
}

// splitAlternatives splits an expression on top-level | separators,
// respecting quoted literals and regex terms.
func splitAlternatives(expr string) ([]string, error) {
	var alts []string
	var cur strings.Builder
	var inQuote, inRegex, escaped bool

	for _, ch := range expr {
		if escaped {
			cur.WriteRune(ch)
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			cur.WriteRune(ch)
			escaped = true
		case '"':
			if !inRegex {
				inQuote = !inQuote
			}
			cur.WriteRune(ch)
		case '/':
			if !inQuote {
				inRegex = !inRegex
			}
			cur.WriteRune(ch)
		case '|':
			if inQuote || inRegex {
				cur.WriteRune(ch)
			} else {
				alts = append(alts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if inRegex {
		return nil, fmt.Errorf("unterminated regex term")
	}
	alts = append(alts, cur.String())
	return alts, nil
}

// nonTermRef matches <name> and <name(ctx)> references.
var nonTermRef = regexp.MustCompile(`^<([A-Za-z_][A-Za-z0-9_-]*)(?:\(([^)]*)\))?>$`)

// parseParts tokenizes one alternative's expression into production parts:
// <NonTerm> and <name(ctx)> references, "literal" terminals, /regex/
// terminals, and bare identifiers, which reference a production of that
// name when one exists and otherwise match their own spelling.
func parseParts(expr string, termOrder *int) ([]grammar.Part, error) {
	var parts []grammar.Part

	fields, err := fieldsRespectingQuotes(expr)
	if err != nil {
		return nil, err
	}

	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "<"):
			m := nonTermRef.FindStringSubmatch(f)
			if m == nil {
				return nil, fmt.Errorf("bad non-terminal reference %q", f)
			}
			parts = append(parts, grammar.NonTermPart(grammar.NonTerminal{Name: m[1], Context: m[2]}))

		case strings.HasPrefix(f, `"`) && strings.HasSuffix(f, `"`) && len(f) >= 2:
			lit := unescape(f[1 : len(f)-1])
			parts = append(parts, grammar.TermPart(grammar.Terminal{
				Name:    lit,
				Pattern: regexp.QuoteMeta(lit),
				Order:   *termOrder,
			}))
			*termOrder++

		case strings.HasPrefix(f, "/") && strings.HasSuffix(f, "/") && len(f) >= 2:
			pat := strings.ReplaceAll(f[1:len(f)-1], `\/`, `/`)
			if _, err := regexp.Compile(pat); err != nil {
				return nil, fmt.Errorf("cannot compile pattern %q: %w", pat, err)
			}
			parts = append(parts, grammar.TermPart(grammar.Terminal{
				Name:    f,
				Pattern: pat,
				Order:   *termOrder,
			}))
			*termOrder++

		default:
			// bare identifier: a reference resolved against productions at
			// parse time, falling back to a literal terminal.
			parts = append(parts, grammar.NonTermPart(grammar.NonTerminal{Name: f}))
		}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("empty alternative")
	}

	return parts, nil
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// fieldsRespectingQuotes splits an expression on whitespace, keeping quoted
// literals and regex terms intact.
func fieldsRespectingQuotes(expr string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	var inQuote, inRegex, escaped bool

	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for _, ch := range expr {
		if escaped {
			cur.WriteRune(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			cur.WriteRune(ch)
			escaped = true
		case ch == '"' && !inRegex:
			inQuote = !inQuote
			cur.WriteRune(ch)
		case ch == '/' && !inQuote:
			inRegex = !inRegex
			cur.WriteRune(ch)
		case (ch == ' ' || ch == '\t') && !inQuote && !inRegex:
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if inRegex {
		return nil, fmt.Errorf("unterminated regex term")
	}
	flush()

	return fields, nil
}
