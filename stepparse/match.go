// Package stepparse contains the step parser: a non-deterministic,
// speculative parser that drives the step lexer, maintains poolable parser
// paths each holding a context snapshot and active productions, and merges
// completed matches into an output forest.
package stepparse

import (
	"fmt"
	"strings"
)

const (
	treeLevelEmpty               = "        "
	treeLevelOngoing             = "  |     "
	treeLevelPrefix              = "  |%s: "
	treeLevelPrefixLast          = `  \%s: `
	treeLevelPrefixNamePadChar   = '-'
	treeLevelPrefixNamePadAmount = 3
)

func makeTreeLevelPrefix(msg string) string {
	for len([]rune(msg)) < treeLevelPrefixNamePadAmount {
		msg = string(treeLevelPrefixNamePadChar) + msg
	}
	return fmt.Sprintf(treeLevelPrefix, msg)
}

func makeTreeLevelPrefixLast(msg string) string {
	for len([]rune(msg)) < treeLevelPrefixNamePadAmount {
		msg = string(treeLevelPrefixNamePadChar) + msg
	}
	return fmt.Sprintf(treeLevelPrefixLast, msg)
}

// ProductionMatch is one node of the output forest. Nodes with a blank
// Production are token leaves; all others record a completed production
// whose Children are the matches of its parts in order.
type ProductionMatch struct {
	// Production is the name of the matched production, or "" for a token
	// leaf.
	Production string

	// Value is the matched text: the token's text for leaves, the
	// concatenated consumed text for production nodes.
	Value string

	// StartPosition and EndPosition are the character span the match
	// covers.
	StartPosition int
	EndPosition   int

	// Children are the sub-matches, in part order. Leaves have none.
	Children []*ProductionMatch

	// PathID tags the parser path that produced the match, letting callers
	// select among ambiguous parses.
	PathID int
}

// IsLeaf returns whether the node is a token leaf.
func (pm *ProductionMatch) IsLeaf() bool {
	return pm.Production == ""
}

// Copy returns a duplicate, deeply-copied match tree.
func (pm *ProductionMatch) Copy() *ProductionMatch {
	pm2 := &ProductionMatch{
		Production:    pm.Production,
		Value:         pm.Value,
		StartPosition: pm.StartPosition,
		EndPosition:   pm.EndPosition,
		PathID:        pm.PathID,
	}
	if pm.Children != nil {
		pm2.Children = make([]*ProductionMatch, len(pm.Children))
		for i := range pm.Children {
			pm2.Children[i] = pm.Children[i].Copy()
		}
	}
	return pm2
}

// Equal returns whether the match tree equals another value, comparing
// structure, production names, and values but not path tags.
func (pm *ProductionMatch) Equal(o any) bool {
	other, ok := o.(*ProductionMatch)
	if !ok {
		otherVal, ok := o.(ProductionMatch)
		if !ok {
			return false
		}
		other = &otherVal
	} else if other == nil {
		return false
	}

	if pm.Production != other.Production || pm.Value != other.Value {
		return false
	}
	if len(pm.Children) != len(other.Children) {
		return false
	}
	for i := range pm.Children {
		if !pm.Children[i].Equal(other.Children[i]) {
			return false
		}
	}

	return true
}

// String returns a prettified representation of the entire match tree
// suitable for use in line-by-line comparisons of tree structure. Two trees
// are considered semantically identical if they produce identical String()
// output.
func (pm *ProductionMatch) String() string {
	return pm.leveledStr("", "")
}

func (pm *ProductionMatch) leveledStr(firstPrefix, contPrefix string) string {
	var sb strings.Builder

	sb.WriteString(firstPrefix)
	if pm.IsLeaf() {
		sb.WriteString(fmt.Sprintf("(TOK %q)", pm.Value))
	} else {
		sb.WriteString(fmt.Sprintf("( %s %q )", pm.Production, pm.Value))
	}

	for i := range pm.Children {
		sb.WriteRune('\n')
		var leveledFirstPrefix string
		var leveledContPrefix string
		if i+1 < len(pm.Children) {
			leveledFirstPrefix = contPrefix + makeTreeLevelPrefix("")
			leveledContPrefix = contPrefix + treeLevelOngoing
		} else {
			leveledFirstPrefix = contPrefix + makeTreeLevelPrefixLast("")
			leveledContPrefix = contPrefix + treeLevelEmpty
		}
		itemOut := pm.Children[i].leveledStr(leveledFirstPrefix, leveledContPrefix)
		sb.WriteString(itemOut)
	}

	return sb.String()
}

// Compact returns a one-line functional rendering of the tree, e.g.
// expr(num("12"), "+", num("34")).
func (pm *ProductionMatch) Compact() string {
	if pm.IsLeaf() {
		return fmt.Sprintf("%q", pm.Value)
	}

	if len(pm.Children) == 0 {
		return fmt.Sprintf("%s(%q)", pm.Production, pm.Value)
	}

	parts := make([]string, len(pm.Children))
	for i := range pm.Children {
		parts[i] = pm.Children[i].Compact()
	}
	return fmt.Sprintf("%s(%s)", pm.Production, strings.Join(parts, ", "))
}
