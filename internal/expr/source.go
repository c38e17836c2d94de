package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceText reconstructs the text of a subtree, for error messages and
// deferred bound labels.
func (t *Tree) SourceText(id NodeID) string {
	n := &t.nodes[id]
	switch n.Kind {
	case KindColumn, KindValueVariable:
		return n.Name
	case KindLiteral:
		return literalText(n.Value)
	case KindAccessor:
		if len(n.Children) == 1 {
			return t.SourceText(n.Children[0])
		}
		return t.SourceText(n.Children[0]) + "[" + t.listText(n.Children[1]) + "]"
	case KindArithmetic, KindLogical:
		if len(n.Children) == 1 {
			if n.Op == OpNot {
				return "not " + t.SourceText(n.Children[0])
			}
			return "-" + t.SourceText(n.Children[0])
		}
		return t.SourceText(n.Children[0]) + " " + n.Op.String() + " " + t.SourceText(n.Children[1])
	case KindCast:
		return fmt.Sprintf("((%s) %s)", n.CastType, t.SourceText(n.Children[0]))
	case KindConstructorLiteral:
		return fmt.Sprintf("< [%s] %s >", t.listText(n.Children[0]), t.listText(n.Children[1]))
	case KindComprehension:
		return fmt.Sprintf("marray [%s] values %s", t.listText(n.Children[0]), t.SourceText(n.Children[1]))
	case KindCondense:
		return fmt.Sprintf("condense %s over [%s] using %s", n.Op, t.listText(n.Children[0]), t.SourceText(n.Children[1]))
	case KindIndexRange:
		return t.SourceText(n.Children[0]) + ":" + t.SourceText(n.Children[1])
	case KindIndexSlice:
		return t.SourceText(n.Children[0])
	case KindUnbounded:
		return "*"
	case KindDimension:
		return n.Name + "(" + t.SourceText(n.Children[0]) + ")"
	case KindElementList:
		return t.listText(id)
	case KindFunction:
		if n.Name == FuncEncode {
			return fmt.Sprintf("encode(%s, %s)", t.SourceText(n.Children[0]), strconv.Quote(n.Format))
		}
		return n.Name + "(" + t.joinSource(n.Children) + ")"
	case KindProbe:
		return n.Name + "(" + t.joinSource(n.Children) + ")"
	}
	return "?"
}

func (t *Tree) listText(list NodeID) string {
	ln := &t.nodes[list]
	if ln.Kind != KindElementList {
		return t.SourceText(list)
	}
	return t.joinSource(ln.Children)
}

func (t *Tree) joinSource(ids []NodeID) string {
	parts := make([]string, len(ids))
	for i, c := range ids {
		parts[i] = t.SourceText(c)
	}
	return strings.Join(parts, ", ")
}
