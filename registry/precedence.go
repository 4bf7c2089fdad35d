package registry

import (
	"fmt"
	"sort"

	"github.com/dekarrin/rosed"
	"github.com/dekarrin/stepgram/grammar"
)

// Precedence is the inheritance-aware precedence registry, with operator
// comparison and a level-grouped table view layered over the generic
// registry shape.
type Precedence struct {
	*Registry[grammar.PrecedenceRule]

	// assoc is consulted when building the precedence table, so each
	// operator group can carry its resolved associativity.
	assoc *Associativity
}

// NewPrecedence creates a Precedence registry walking h, using assoc to
// annotate table groups. assoc may be nil, in which case groups report
// AssocNone.
func NewPrecedence(h Hierarchy, assoc *Associativity) *Precedence {
	return &Precedence{
		Registry: New[grammar.PrecedenceRule](h),
		assoc:    assoc,
	}
}

// Compare returns -1, 0, or +1 as op1's precedence level visible from g is
// lower than, equal to, or higher than op2's. The second return is false if
// either operator has no rule visible from g. Higher level means higher
// precedence.
func (p *Precedence) Compare(g, op1, op2 string) (int, bool) {
	r1, ok1 := p.Get(g, op1)
	r2, ok2 := p.Get(g, op2)
	if !ok1 || !ok2 {
		return 0, false
	}

	switch {
	case r1.Level < r2.Level:
		return -1, true
	case r1.Level > r2.Level:
		return 1, true
	default:
		return 0, true
	}
}

// OperatorGroup is one level of a precedence table: every operator at the
// level, plus the associativity shared by the level.
type OperatorGroup struct {
	Level         int
	Associativity grammar.Associativity
	Operators     []string
}

// TableWarning reports a conflict discovered while building a precedence
// table, such as two operators at one level with different registered
// associativities.
type TableWarning struct {
	Level   int
	Message string
}

// Table returns g's visible precedence rules grouped by level, ascending.
// All operators at one level share associativity by construction of the
// templates; when conflicting associativities have been registered at one
// level, the most-derived registration wins — the one whose defining
// grammar sits closest to g in the linearization — with alphabetical
// operator order as the final tie-break among equally-derived
// registrations, and a warning is returned for each conflicting operator.
func (p *Precedence) Table(g string) ([]OperatorGroup, []TableWarning) {
	all := p.GetAll(g)

	byLevel := map[int][]string{}
	for _, rule := range all {
		byLevel[rule.Level] = append(byLevel[rule.Level], rule.Operator)
	}

	levels := make([]int, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	depth := p.linearizationDepth(g)

	var groups []OperatorGroup
	var warnings []TableWarning

	for _, level := range levels {
		ops := byLevel[level]
		sort.Strings(ops)

		group := OperatorGroup{Level: level, Operators: ops}

		if p.assoc != nil {
			// pick the winner first: the registration whose origin grammar
			// is most derived. Ops are already alphabetical, so only a
			// strictly more-derived origin replaces the current winner.
			winnerDepth := -1
			haveWinner := false
			for _, op := range ops {
				ar, origin, ok := p.assoc.GetWithOrigin(g, op)
				if !ok {
					continue
				}
				d, known := depth[origin]
				if !known {
					d = len(depth)
				}
				if !haveWinner || d < winnerDepth {
					group.Associativity = ar.Assoc
					winnerDepth = d
					haveWinner = true
				}
			}

			if haveWinner {
				for _, op := range ops {
					ar, _, ok := p.assoc.GetWithOrigin(g, op)
					if !ok {
						continue
					}
					if ar.Assoc != group.Associativity {
						warnings = append(warnings, TableWarning{
							Level:   level,
							Message: fmt.Sprintf("operator %q at level %d has conflicting associativity %s (level resolved to %s)", op, level, ar.Assoc, group.Associativity),
						})
					}
				}
			}
		}

		groups = append(groups, group)
	}

	return groups, warnings
}

// linearizationDepth maps each grammar in g's hierarchy to its distance
// from g: 0 for g itself, increasing toward the most-base grammar.
func (p *Precedence) linearizationDepth(g string) map[string]int {
	lin, err := p.h.Linearize(g)
	if err != nil {
		lin = []string{g}
	}

	depth := make(map[string]int, len(lin))
	for i, name := range lin {
		depth[name] = i
	}
	return depth
}

// TableString renders the precedence table as human-readable text.
func (p *Precedence) TableString(g string) string {
	groups, _ := p.Table(g)

	data := [][]string{{"Level", "Assoc", "Operators"}}
	for _, group := range groups {
		opsStr := ""
		for i, op := range group.Operators {
			opsStr += op
			if i+1 < len(group.Operators) {
				opsStr += " "
			}
		}
		data = append(data, []string{fmt.Sprintf("%d", group.Level), group.Associativity.String(), opsStr})
	}

	return rosed.Edit("").
		InsertTableOpts(0, data, 60, rosed.Options{
			TableHeaders: true,
		}).
		String()
}

// Associativity is the inheritance-aware associativity registry.
type Associativity struct {
	*Registry[grammar.AssociativityRule]
}

// NewAssociativity creates an Associativity registry walking h.
func NewAssociativity(h Hierarchy) *Associativity {
	return &Associativity{Registry: New[grammar.AssociativityRule](h)}
}

// SemanticActions is the inheritance-aware semantic-action registry.
type SemanticActions struct {
	*Registry[grammar.SemanticAction]
}

// NewSemanticActions creates a SemanticActions registry walking h.
func NewSemanticActions(h Hierarchy) *SemanticActions {
	return &SemanticActions{Registry: New[grammar.SemanticAction](h)}
}
