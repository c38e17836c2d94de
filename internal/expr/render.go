package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// Result is the outcome of rendering a node. A non-root array node yields
// a Fragment and the correlation set it references; a root array node and
// every host scalar node also carry a materialized Value.
type Result struct {
	Fragment     string
	IDs          *arrayid.Set
	Value        any
	Materialized bool
}

// Render renders the resolved node id for the current row of env. With
// isRoot set, an array-valued node dispatches the combined query and
// returns the materialized value; otherwise it returns its fragment for the
// parent to embed. Subtrees that never touch an array are evaluated by the
// host scalar evaluator.
func (t *Tree) Render(ctx context.Context, env *Env, id NodeID, isRoot bool) (Result, error) {
	n := &t.nodes[id]
	if !n.resolved {
		return Result{}, errors.NewInternalError(fmt.Sprintf("render of unresolved %s node %d", n.Kind, id), nil)
	}
	if !n.remote {
		v, err := t.evalHost(ctx, env, id)
		if err != nil {
			return Result{}, err
		}
		return Result{Fragment: literalText(v), IDs: arrayid.NewSet(), Value: v, Materialized: isRoot}, nil
	}

	frag, ids, err := t.fragment(ctx, env, id)
	if err != nil {
		return Result{}, t.failed(env, isRoot, err)
	}
	if !isRoot {
		return Result{Fragment: frag, IDs: ids}, nil
	}
	v, err := t.dispatch(ctx, env, id, frag, ids)
	if err != nil {
		return Result{}, t.failed(env, isRoot, err)
	}
	return Result{Fragment: frag, IDs: ids, Value: v, Materialized: true}, nil
}

func (t *Tree) failed(env *Env, isRoot bool, err error) error {
	if isRoot && env != nil {
		env.Stats.RecordFailure()
	}
	return err
}

// Evaluate renders id as the root and returns the value.
func (t *Tree) Evaluate(ctx context.Context, env *Env, id NodeID) (any, error) {
	res, err := t.Render(ctx, env, id, true)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// evalHost evaluates a subtree that involves no array.
func (t *Tree) evalHost(ctx context.Context, env *Env, id NodeID) (any, error) {
	n := &t.nodes[id]
	switch n.Kind {
	case KindLiteral:
		return n.Value, nil
	case KindColumn:
		return rowValue(env, n.Name)
	case KindAccessor:
		return t.evalHost(ctx, env, n.Children[0])
	case KindProbe:
		if n.hasStatic {
			return n.static, nil
		}
	case KindArithmetic, KindLogical, KindCast:
		if env == nil || env.Scalar == nil {
			return nil, errors.NewInternalError("no host scalar evaluator", nil)
		}
		args := make([]any, len(n.Children))
		for i, c := range n.Children {
			v, err := t.evalHost(ctx, env, c)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		switch {
		case n.Kind == KindCast:
			return env.Scalar.Cast(args[0], n.CastType)
		case len(args) == 1:
			return env.Scalar.Unary(n.Op, args[0])
		default:
			return env.Scalar.Binary(n.Op, args[0], args[1])
		}
	}
	return nil, errors.NewInternalError(fmt.Sprintf("%s node %d cannot be evaluated by the host", n.Kind, id), nil)
}

// isStructural reports whether the kind only appears inside subsets and
// domain definitions.
func isStructural(k Kind) bool {
	switch k {
	case KindIndexRange, KindIndexSlice, KindUnbounded, KindDimension, KindElementList:
		return true
	}
	return false
}

func rowValue(env *Env, column string) (any, error) {
	if env == nil || env.Row == nil {
		return nil, errors.NewQueryError(errors.CodeObjectNotFound, fmt.Sprintf("no row for column %s", column), nil)
	}
	v, ok := env.Row.Value(column)
	if !ok {
		return nil, errors.NewTypeError(errors.CodeUnknownColumn, fmt.Sprintf("row has no column %s", column))
	}
	return v, nil
}

// fragment assembles the rasql text of a subtree without dispatching.
func (t *Tree) fragment(ctx context.Context, env *Env, id NodeID) (string, *arrayid.Set, error) {
	n := &t.nodes[id]
	if !n.remote && !isStructural(n.Kind) {
		v, err := t.evalHost(ctx, env, id)
		if err != nil {
			return "", nil, err
		}
		return literalText(v), arrayid.NewSet(), nil
	}

	switch n.Kind {
	case KindColumn:
		return t.columnFragment(env, n)

	case KindValueVariable:
		iter := n.iter
		if iter == "" {
			iter = DefaultIterator
		}
		return iter + "[" + strconv.Itoa(n.index) + "]", arrayid.NewSet(), nil

	case KindAccessor:
		base, ids, err := t.fragment(ctx, env, n.Children[0])
		if err != nil || len(n.Children) == 1 {
			return base, ids, err
		}
		sub, subIDs, err := t.subsetText(ctx, env, n)
		if err != nil {
			return "", nil, err
		}
		if t.isOperator(n.Children[0]) {
			base = "(" + base + ")"
		}
		return base + "[" + sub + "]", arrayid.Merge(ids, subIDs), nil

	case KindArithmetic, KindLogical:
		return t.operationFragment(ctx, env, n)

	case KindCast:
		v, ids, err := t.fragment(ctx, env, n.Children[0])
		if err != nil {
			return "", nil, err
		}
		if t.needsParens(n.Children[0], 6, false) {
			v = "(" + v + ")"
		}
		return fmt.Sprintf("((%s) %s)", n.CastType.RasType(), v), ids, nil

	case KindConstructorLiteral:
		return t.arrayLiteralFragment(ctx, env, n)

	case KindComprehension, KindCondense:
		dom, ids, err := t.domainText(ctx, env, n.Children[0])
		if err != nil {
			return "", nil, err
		}
		val, valIDs, err := t.fragment(ctx, env, n.Children[1])
		if err != nil {
			return "", nil, err
		}
		iter := n.iter
		if iter == "" {
			iter = DefaultIterator
		}
		ids = arrayid.Merge(ids, valIDs)
		if n.Kind == KindCondense {
			return fmt.Sprintf("CONDENSE %s OVER %s in %s USING %s", n.Op, iter, dom, val), ids, nil
		}
		return fmt.Sprintf("(marray %s in %s values %s)", iter, dom, val), ids, nil

	case KindFunction:
		return t.functionFragment(ctx, env, n)

	case KindProbe:
		op, ids, err := t.fragment(ctx, env, n.Children[0])
		if err != nil {
			return "", nil, err
		}
		var index string
		if n.axis >= 0 {
			index = strconv.Itoa(n.axis)
		} else {
			var idxIDs *arrayid.Set
			index, idxIDs, err = t.boundText(ctx, env, n.Children[1])
			if err != nil {
				return "", nil, err
			}
			ids = arrayid.Merge(ids, idxIDs)
		}
		return fmt.Sprintf("sdom(%s)[%s].%s", op, index, n.Name), ids, nil

	case KindUnbounded:
		return "*", arrayid.NewSet(), nil

	case KindIndexRange, KindIndexSlice, KindDimension:
		return t.elementText(ctx, env, id)

	case KindElementList:
		return t.domainText(ctx, env, id)
	}
	return "", nil, errors.NewInternalError(fmt.Sprintf("cannot render %s node %d", n.Kind, id), nil)
}

func (t *Tree) columnFragment(env *Env, n *Node) (string, *arrayid.Set, error) {
	v, err := rowValue(env, n.Name)
	if err != nil {
		return "", nil, err
	}
	var id arrayid.ID
	switch ref := v.(type) {
	case types.ArrayRef:
		id = arrayid.FromRef(ref, n.Name)
	case string:
		if id, err = arrayid.Parse(ref, n.Name); err != nil {
			return "", nil, err
		}
	case []byte:
		if id, err = arrayid.Parse(string(ref), n.Name); err != nil {
			return "", nil, err
		}
	case nil:
		return "", nil, errors.NewQueryError(errors.CodeObjectNotFound,
			fmt.Sprintf("array column %s is null", n.Name), nil)
	default:
		return "", nil, errors.NewQueryError(errors.CodeInvalidArrayID,
			fmt.Sprintf("array column %s holds %T", n.Name, v), nil)
	}
	return n.Name, arrayid.NewSet(id), nil
}

func (t *Tree) operationFragment(ctx context.Context, env *Env, n *Node) (string, *arrayid.Set, error) {
	if len(n.Children) == 1 {
		v, ids, err := t.fragment(ctx, env, n.Children[0])
		if err != nil {
			return "", nil, err
		}
		if t.needsParens(n.Children[0], 6, false) {
			v = "(" + v + ")"
		}
		if n.Op == OpNot {
			return "not " + v, ids, nil
		}
		return "-" + v, ids, nil
	}

	l, lids, err := t.fragment(ctx, env, n.Children[0])
	if err != nil {
		return "", nil, err
	}
	r, rids, err := t.fragment(ctx, env, n.Children[1])
	if err != nil {
		return "", nil, err
	}
	prec := n.Op.precedence()
	if t.needsParens(n.Children[0], prec, false) {
		l = "(" + l + ")"
	}
	if t.needsParens(n.Children[1], prec, n.Op == OpSub || n.Op == OpDiv || n.Op.IsComparison()) {
		r = "(" + r + ")"
	}
	return l + " " + n.Op.String() + " " + r, arrayid.Merge(lids, rids), nil
}

// needsParens reports whether the child fragment must be parenthesized
// inside an operator of precedence prec.
func (t *Tree) needsParens(child NodeID, prec int, strictRight bool) bool {
	c := &t.nodes[child]
	if !c.remote {
		return false
	}
	switch c.Kind {
	case KindCondense:
		return true
	case KindArithmetic, KindLogical:
		if len(c.Children) == 1 {
			return false
		}
		cp := c.Op.precedence()
		return cp < prec || (strictRight && cp == prec)
	}
	return false
}

// isOperator reports whether the child renders as an operator expression,
// which a postfix subset would otherwise bind to only in part.
func (t *Tree) isOperator(child NodeID) bool {
	c := &t.nodes[child]
	if !c.remote {
		return false
	}
	switch c.Kind {
	case KindArithmetic, KindLogical, KindCondense:
		return true
	}
	return false
}

func (t *Tree) arrayLiteralFragment(ctx context.Context, env *Env, n *Node) (string, *arrayid.Set, error) {
	dom, ids, err := t.domainText(ctx, env, n.Children[0])
	if err != nil {
		return "", nil, err
	}
	values := t.nodes[n.Children[1]].Children
	parts := make([]string, len(values))
	for i, v := range values {
		text, vids, err := t.fragment(ctx, env, v)
		if err != nil {
			return "", nil, err
		}
		parts[i] = text
		ids = arrayid.Merge(ids, vids)
	}
	return fmt.Sprintf("< %s %s >", dom, suffixNumbers(strings.Join(parts, ", "), literalSuffix(env, n))), ids, nil
}

// literalSuffix picks the numeric suffix of array literal cells. When
// populating an MDARRAY column every cell is typed after the column;
// otherwise only floating cells need a suffix.
func literalSuffix(env *Env, n *Node) string {
	if env != nil && env.Insert != nil {
		return env.Insert.Type.CellType.LiteralSuffix()
	}
	if cell := n.typ.CellType(); cell.IsFloating() {
		return cell.LiteralSuffix()
	}
	return ""
}

func (t *Tree) functionFragment(ctx context.Context, env *Env, n *Node) (string, *arrayid.Set, error) {
	if n.Name == FuncDecode {
		return "decode($1)", arrayid.NewSet(), nil
	}
	args := make([]string, len(n.Children))
	ids := arrayid.NewSet()
	for i, c := range n.Children {
		text, cids, err := t.fragment(ctx, env, c)
		if err != nil {
			return "", nil, err
		}
		args[i] = text
		ids = arrayid.Merge(ids, cids)
	}
	if n.Name == FuncEncode {
		return fmt.Sprintf("encode(%s, %s)", args[0], strconv.Quote(n.Format)), ids, nil
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")", ids, nil
}

// subsetText renders the inside of a subset accessor. A named subset is
// rewritten positionally against the parent domain, filling unmentioned
// dimensions with "*:*".
func (t *Tree) subsetText(ctx context.Context, env *Env, n *Node) (string, *arrayid.Set, error) {
	elements := t.nodes[n.Children[1]].Children
	ids := arrayid.NewSet()

	if !n.named {
		parts := make([]string, len(elements))
		for i, el := range elements {
			text, eids, err := t.rangeText(ctx, env, el)
			if err != nil {
				return "", nil, err
			}
			parts[i] = text
			ids = arrayid.Merge(ids, eids)
		}
		return strings.Join(parts, ", "), ids, nil
	}

	byName := make(map[string]NodeID, len(elements))
	for _, el := range elements {
		byName[t.nodes[el].Name] = el
	}
	parts := make([]string, 0, n.dom.Len())
	for _, dim := range n.dom.Dimensions() {
		el, ok := byName[dim.Name]
		if !ok {
			parts = append(parts, "*:*")
			continue
		}
		text, eids, err := t.rangeText(ctx, env, el)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, text)
		ids = arrayid.Merge(ids, eids)
	}
	return strings.Join(parts, ","), ids, nil
}

// domainText renders a domain definition list "[x(0:10), y(0:10)]".
func (t *Tree) domainText(ctx context.Context, env *Env, list NodeID) (string, *arrayid.Set, error) {
	ln := &t.nodes[list]
	elements := []NodeID{list}
	if ln.Kind == KindElementList {
		elements = ln.Children
	}
	parts := make([]string, len(elements))
	ids := arrayid.NewSet()
	for i, el := range elements {
		text, eids, err := t.elementText(ctx, env, el)
		if err != nil {
			return "", nil, err
		}
		parts[i] = text
		ids = arrayid.Merge(ids, eids)
	}
	return "[" + strings.Join(parts, ", ") + "]", ids, nil
}

// elementText renders a domain element with its name.
func (t *Tree) elementText(ctx context.Context, env *Env, el NodeID) (string, *arrayid.Set, error) {
	en := &t.nodes[el]
	text, ids, err := t.rangeText(ctx, env, el)
	if err != nil {
		return "", nil, err
	}
	if en.Kind == KindDimension && en.Name != "" {
		return en.Name + "(" + text + ")", ids, nil
	}
	return text, ids, nil
}

// rangeText renders the bounds of an element without its name: "lo:hi",
// "lo", or "*:*".
func (t *Tree) rangeText(ctx context.Context, env *Env, el NodeID) (string, *arrayid.Set, error) {
	idx := el
	if en := &t.nodes[el]; en.Kind == KindDimension {
		idx = en.Children[0]
	}
	in := &t.nodes[idx]
	switch in.Kind {
	case KindUnbounded:
		return "*:*", arrayid.NewSet(), nil
	case KindIndexRange:
		lo, lids, err := t.boundText(ctx, env, in.Children[0])
		if err != nil {
			return "", nil, err
		}
		hi, hids, err := t.boundText(ctx, env, in.Children[1])
		if err != nil {
			return "", nil, err
		}
		return lo + ":" + hi, arrayid.Merge(lids, hids), nil
	case KindIndexSlice:
		return t.boundText(ctx, env, in.Children[0])
	default:
		return t.boundText(ctx, env, idx)
	}
}

func (t *Tree) boundText(ctx context.Context, env *Env, id NodeID) (string, *arrayid.Set, error) {
	n := &t.nodes[id]
	if n.Kind == KindUnbounded {
		return "*", arrayid.NewSet(), nil
	}
	if !n.remote {
		v, err := t.evalHost(ctx, env, id)
		if err != nil {
			return "", nil, err
		}
		return indexText(v), arrayid.NewSet(), nil
	}
	return t.fragment(ctx, env, id)
}
