package expr

import (
	"fmt"

	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// IndexType is the type of an iterator dimension reference.
const IndexType = types.BigInt

// scope is the chain of comprehension domains enclosing a node.
type scope struct {
	node   NodeID
	dom    domain.Domain
	parent *scope
}

// lookup finds the nearest scope defining the dimension.
func (s *scope) lookup(name string) (*scope, int) {
	for sc := s; sc != nil; sc = sc.parent {
		if i, ok := sc.dom.IndexByName(name); ok {
			return sc, i
		}
	}
	return nil, -1
}

// ResolveType resolves the subtree rooted at id. Type errors are returned
// unchanged and leave the tree unusable for rendering.
func (t *Tree) ResolveType(env *Env, id NodeID) (Type, error) {
	return t.resolve(env, id, nil)
}

func (t *Tree) resolve(env *Env, id NodeID, sc *scope) (Type, error) {
	n := &t.nodes[id]

	var err error
	switch n.Kind {
	case KindColumn:
		err = t.resolveColumn(env, n, sc)
	case KindValueVariable:
		err = t.resolveVariable(n, sc)
	case KindLiteral:
		n.typ = ScalarOf(n.LitType)
	case KindAccessor:
		err = t.resolveAccessor(env, n, sc)
	case KindArithmetic, KindLogical:
		err = t.resolveOperation(env, n, sc)
	case KindCast:
		err = t.resolveCast(env, n, sc)
	case KindConstructorLiteral:
		err = t.resolveArrayLiteral(env, n, sc)
	case KindComprehension, KindCondense:
		err = t.resolveComprehension(env, id, sc)
	case KindFunction:
		err = t.resolveFunction(env, n, sc)
	case KindProbe:
		err = t.resolveProbe(env, n, sc)
	case KindElementList:
		_, err = t.buildDomain(env, id, sc)
	case KindIndexRange, KindIndexSlice, KindUnbounded, KindDimension:
		_, err = t.buildDimension(env, id, sc)
	default:
		err = errors.NewInternalError(fmt.Sprintf("unknown node kind %v", n.Kind), nil)
	}
	if err != nil {
		return Type{}, err
	}
	n.resolved = true
	return n.typ, nil
}

func (t *Tree) resolveColumn(env *Env, n *Node, sc *scope) error {
	// inside a comprehension, a dimension name shadows host columns
	if owner, i := sc.lookup(n.Name); owner != nil {
		n.Kind = KindValueVariable
		bindVariable(n, owner, i)
		return nil
	}
	if env == nil || env.Schema == nil {
		return errors.NewTypeError(errors.CodeUnknownColumn, fmt.Sprintf("unknown column %s", n.Name))
	}
	ct, ok := env.Schema.ColumnType(n.Name)
	if !ok {
		return errors.NewTypeError(errors.CodeUnknownColumn, fmt.Sprintf("unknown column %s", n.Name)).
			WithDetails(map[string]interface{}{"column": n.Name})
	}
	n.typ = ct
	n.remote = ct.IsArray()
	return nil
}

func (t *Tree) resolveVariable(n *Node, sc *scope) error {
	owner, i := sc.lookup(n.Name)
	if owner == nil {
		return errors.NewTypeError(errors.CodeUnknownDimension,
			fmt.Sprintf("no enclosing iterator defines dimension %q", n.Name)).
			WithDetails(map[string]interface{}{"dimension": n.Name})
	}
	bindVariable(n, owner, i)
	return nil
}

func bindVariable(n *Node, owner *scope, i int) {
	n.binder = owner.node
	n.index = i
	n.typ = ScalarOf(IndexType)
	n.remote = true
}

func (t *Tree) resolveAccessor(env *Env, n *Node, sc *scope) error {
	base := n.Children[0]
	bt, err := t.resolve(env, base, sc)
	if err != nil {
		return err
	}
	if len(n.Children) == 1 {
		n.typ = bt
		n.remote = t.nodes[base].remote
		return nil
	}
	if !bt.IsArray() {
		return errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("cannot subset %s of type %s", t.SourceText(base), bt))
	}

	list := n.Children[1]
	subset, err := t.buildDomain(env, list, sc)
	if err != nil {
		return err
	}
	if err := domain.CheckAddressing(subset, t.listText(list)); err != nil {
		return err
	}
	parent := bt.Array.Domain
	result, err := domain.MatchSubsetDomain(parent, subset)
	if err != nil {
		return err
	}

	n.dom = parent
	n.named = domain.IsNamedSubset(subset, parent)
	n.remote = true
	if result.Len() == 0 {
		n.typ = ScalarOf(bt.Array.CellType)
	} else {
		n.typ = ArrayOf(bt.Array.CellType, result)
	}
	return nil
}

func (t *Tree) resolveOperation(env *Env, n *Node, sc *scope) error {
	var (
		cell  types.ScalarType
		shape *domain.ArrayType
	)
	for i, c := range n.Children {
		ct, err := t.resolve(env, c, sc)
		if err != nil {
			return err
		}
		if t.nodes[c].remote {
			n.remote = true
		}
		if ct.IsArray() && shape == nil {
			shape = ct.Array
		}
		if i == 0 {
			cell = ct.CellType()
		} else {
			cell = types.Wider(cell, ct.CellType())
		}
	}
	if n.Kind == KindLogical {
		cell = types.Boolean
	}
	if shape != nil {
		n.typ = ArrayOf(cell, shape.Domain)
	} else {
		n.typ = ScalarOf(cell)
	}
	return nil
}

func (t *Tree) resolveCast(env *Env, n *Node, sc *scope) error {
	ct, err := t.resolve(env, n.Children[0], sc)
	if err != nil {
		return err
	}
	n.remote = t.nodes[n.Children[0]].remote
	if ct.IsArray() {
		if n.CastType.RasType() == "" {
			return errors.NewTypeError(errors.CodeUnsupportedOperation,
				fmt.Sprintf("cannot cast array cells to %s", n.CastType))
		}
		n.typ = ArrayOf(n.CastType, ct.Array.Domain)
		return nil
	}
	n.typ = ScalarOf(n.CastType)
	return nil
}

func (t *Tree) resolveArrayLiteral(env *Env, n *Node, sc *scope) error {
	dom, err := t.buildDomain(env, n.Children[0], sc)
	if err != nil {
		return err
	}
	values := &t.nodes[n.Children[1]]
	cell := types.Unknown
	for i, v := range values.Children {
		vt, err := t.resolve(env, v, sc)
		if err != nil {
			return err
		}
		if vt.IsArray() || !(vt.Scalar.IsNumeric() || vt.Scalar == types.Boolean) {
			return errors.NewTypeError(errors.CodeUnsupportedOperation,
				fmt.Sprintf("array literal cell %s has type %s", t.SourceText(v), vt))
		}
		if i == 0 {
			cell = vt.Scalar
		} else {
			cell = types.Wider(cell, vt.Scalar)
		}
	}
	values.resolved = true

	if card, ok := dom.Cardinality(); ok && card != int64(len(values.Children)) {
		return errors.NewTypeError(errors.CodeDimensionalityMismatch,
			fmt.Sprintf("array literal over %s has %d cells, got %d values", dom, card, len(values.Children))).
			WithDetails(map[string]interface{}{"expected": card, "actual": len(values.Children)})
	}
	n.typ = ArrayOf(cell, dom)
	n.remote = true
	return nil
}

func (t *Tree) resolveComprehension(env *Env, id NodeID, sc *scope) error {
	n := &t.nodes[id]
	dom, err := t.buildDomain(env, n.Children[0], sc)
	if err != nil {
		return err
	}
	n.dom = domain.WithDefaultNames(dom)

	vt, err := t.resolve(env, n.Children[1], &scope{node: id, dom: n.dom, parent: sc})
	if err != nil {
		return err
	}
	if vt.IsArray() {
		return errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("%s value must be scalar, got %s", n.Kind, vt))
	}

	n.remote = true
	if n.Kind == KindCondense {
		switch n.Op {
		case OpAnd, OpOr:
			n.typ = ScalarOf(types.Boolean)
		case OpAdd, OpMul, OpMax, OpMin:
			n.typ = ScalarOf(vt.Scalar)
		default:
			return errors.NewTypeError(errors.CodeUnsupportedOperation,
				fmt.Sprintf("condense does not support operator %s", n.Op))
		}
	} else {
		n.typ = ArrayOf(vt.Scalar, n.dom)
	}

	if sc == nil {
		t.AssignIterators(id)
	}
	return nil
}

func (t *Tree) resolveFunction(env *Env, n *Node, sc *scope) error {
	args := make([]Type, 0, len(n.Children))
	for _, c := range n.Children {
		ct, err := t.resolve(env, c, sc)
		if err != nil {
			return err
		}
		args = append(args, ct)
	}
	rt, err := lookupFunction(n.Name, args)
	if err != nil {
		return err
	}
	if n.Name == FuncDecode && args[0].Scalar != types.Binary && args[0].Scalar != types.Varchar {
		return errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("decode requires binary data, got %s", args[0]))
	}
	n.typ = rt
	n.remote = true
	return nil
}

// Probe names.
const (
	ProbeLo        = "lo"
	ProbeHi        = "hi"
	ProbeName      = "name"
	ProbeDimension = "dimension"
)

func (t *Tree) resolveProbe(env *Env, n *Node, sc *scope) error {
	ot, err := t.resolve(env, n.Children[0], sc)
	if err != nil {
		return err
	}
	if !ot.IsArray() {
		return errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("%s requires an array operand, got %s", n.Name, ot))
	}
	dom := domain.WithDefaultNames(ot.Array.Domain)

	if n.Name == ProbeDimension {
		n.typ = ScalarOf(types.Integer)
		n.static, n.hasStatic = int64(dom.Len()), true
		return nil
	}
	if n.Name != ProbeLo && n.Name != ProbeHi && n.Name != ProbeName {
		return errors.NewTypeError(errors.CodeUnsupportedOperation, fmt.Sprintf("unknown probe %s", n.Name))
	}
	if len(n.Children) < 2 {
		return errors.NewTypeError(errors.CodeUnsupportedOperation, fmt.Sprintf("%s requires a dimension", n.Name))
	}

	idx := n.Children[1]
	it, err := t.resolve(env, idx, sc)
	if err != nil {
		return err
	}
	if err := t.resolveAxis(n, idx, dom); err != nil {
		return err
	}

	if n.Name == ProbeName {
		if n.axis < 0 {
			return errors.NewTypeError(errors.CodeUnsupportedOperation,
				"name requires a literal dimension index or name")
		}
		n.typ = ScalarOf(types.Varchar)
		n.static, n.hasStatic = dom.Dimension(n.axis).Name, true
		return nil
	}

	if it.IsArray() || !(it.Scalar.IsNumeric() || it.Scalar.IsCharacter()) {
		return errors.NewTypeError(errors.CodeInvalidSubsetIndexType,
			fmt.Sprintf("dimension index %s has type %s", t.SourceText(idx), it))
	}
	n.typ = ScalarOf(types.Integer)
	if n.axis >= 0 {
		dim := dom.Dimension(n.axis)
		b := dim.Lower
		if n.Name == ProbeHi {
			b = dim.Upper
		}
		if v, ok := b.Literal(); ok {
			n.static, n.hasStatic = v, true
			return nil
		}
	}
	n.remote = true
	return nil
}

// resolveAxis maps a literal index or dimension name to an axis of dom.
func (t *Tree) resolveAxis(n *Node, idx NodeID, dom domain.Domain) error {
	in := &t.nodes[idx]
	if in.Kind != KindLiteral {
		return nil
	}
	switch v := in.Value.(type) {
	case int64:
		if v < 0 || int(v) >= dom.Len() {
			return errors.NewTypeError(errors.CodeDimensionalityMismatch,
				fmt.Sprintf("dimension index %d out of range for %s", v, dom)).
				WithDetails(map[string]interface{}{"expected": dom.Len(), "actual": v})
		}
		n.axis = int(v)
	case string:
		i, ok := dom.IndexByName(v)
		if !ok {
			return errors.NewTypeError(errors.CodeUnknownDimension, fmt.Sprintf("unknown dimension %q", v)).
				WithDetails(map[string]interface{}{"dimension": v})
		}
		n.axis = i
	}
	return nil
}

// buildDomain turns an element list into a domain, resolving every bound.
func (t *Tree) buildDomain(env *Env, list NodeID, sc *scope) (domain.Domain, error) {
	ln := &t.nodes[list]
	elements := []NodeID{list}
	if ln.Kind == KindElementList {
		elements = ln.Children
	}
	var d domain.Domain
	for _, el := range elements {
		dim, err := t.buildDimension(env, el, sc)
		if err != nil {
			return domain.Domain{}, err
		}
		if err := d.AddDimension(dim); err != nil {
			return domain.Domain{}, err
		}
	}
	ln.resolved = true
	return d, nil
}

func (t *Tree) buildDimension(env *Env, el NodeID, sc *scope) (domain.Dimension, error) {
	name := ""
	idx := el
	if en := &t.nodes[el]; en.Kind == KindDimension {
		name = en.Name
		idx = en.Children[0]
		en.resolved = true
	}

	in := &t.nodes[idx]
	switch in.Kind {
	case KindIndexRange:
		lo, err := t.bound(env, in.Children[0], sc)
		if err != nil {
			return domain.Dimension{}, err
		}
		hi, err := t.bound(env, in.Children[1], sc)
		if err != nil {
			return domain.Dimension{}, err
		}
		in.resolved = true
		return domain.NewRange(name, lo, hi), nil
	case KindIndexSlice:
		at, err := t.bound(env, in.Children[0], sc)
		if err != nil {
			return domain.Dimension{}, err
		}
		in.resolved = true
		return domain.NewSlice(name, at), nil
	case KindUnbounded:
		in.resolved = true
		return domain.UnboundedRange(name), nil
	default:
		// a bare index expression addresses a single point
		at, err := t.bound(env, idx, sc)
		if err != nil {
			return domain.Dimension{}, err
		}
		return domain.NewSlice(name, at), nil
	}
}

func (t *Tree) bound(env *Env, id NodeID, sc *scope) (domain.Bound, error) {
	bn := &t.nodes[id]
	if bn.Kind == KindUnbounded {
		bn.resolved = true
		return domain.Unbounded(), nil
	}
	bt, err := t.resolve(env, id, sc)
	if err != nil {
		return domain.Bound{}, err
	}
	if bt.IsArray() || !(bt.Scalar.IsNumeric() || bt.Scalar.IsCharacter()) {
		src := t.SourceText(id)
		return domain.Bound{}, errors.NewTypeError(errors.CodeInvalidSubsetIndexType,
			fmt.Sprintf("subset index %s has type %s", src, bt)).
			WithDetails(map[string]interface{}{"index": src})
	}
	if bn.Kind == KindLiteral {
		if v, ok := bn.Value.(int64); ok {
			return domain.At(v), nil
		}
	}
	return domain.Deferred(t.SourceText(id)), nil
}
