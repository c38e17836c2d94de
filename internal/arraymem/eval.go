package arraymem

import (
	"context"
	"fmt"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/rasql"
	"github.com/misev/asqldb/pkg/types"
)

// scope binds aliases and iterators during evaluation.
type scope struct {
	vars   map[string]any
	oids   map[string]int64
	parent *scope
}

func (s *scope) lookup(name string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) oid(name string) (int64, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if oid, ok := sc.oids[name]; ok {
			return oid, true
		}
	}
	return 0, false
}

func (s *scope) child(name string, v any) *scope {
	return &scope{vars: map[string]any{name: v}, parent: s}
}

// evaluator evaluates expressions of one statement.
type evaluator struct {
	ctx      context.Context
	bind     []byte
	maxCells int64
}

func (ev *evaluator) eval(sc *scope, e rasql.Expression) (any, error) {
	switch n := e.(type) {
	case *rasql.Ident:
		v, ok := sc.lookup(n.Name)
		if !ok {
			return nil, fmt.Errorf("unknown identifier %s", n.Name)
		}
		return v, nil
	case *rasql.Number:
		return scalar{v: castCell(n.Value, n.Type), t: n.Type}, nil
	case *rasql.Bool:
		return boolScalar(n.Value), nil
	case *rasql.String:
		return n.Value, nil
	case *rasql.Param:
		if n.Index != 1 || ev.bind == nil {
			return nil, fmt.Errorf("parameter $%d is not bound", n.Index)
		}
		return ev.bind, nil
	case *rasql.ParenExpr:
		return ev.eval(sc, n.Expr)
	case *rasql.UnaryExpr:
		v, err := ev.eval(sc, n.Operand)
		if err != nil {
			return nil, err
		}
		if n.Operator == "not" {
			return unary(v, fixedType(types.Boolean), func(x float64) float64 { return truth(x == 0) })
		}
		return unary(v, keepType, func(x float64) float64 { return -x })
	case *rasql.BinaryExpr:
		l, err := ev.eval(sc, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(sc, n.Right)
		if err != nil {
			return nil, err
		}
		return binaryOp(n.Operator, l, r)
	case *rasql.CastExpr:
		v, err := ev.eval(sc, n.Expr)
		if err != nil {
			return nil, err
		}
		return unary(v, fixedType(n.Type), func(x float64) float64 { return x })
	case *rasql.FunctionCall:
		return ev.call(sc, n)
	case *rasql.SubsetExpr:
		return ev.subset(sc, n)
	case *rasql.FieldExpr:
		return ev.field(sc, n)
	case *rasql.MarrayExpr:
		return ev.marray(sc, n)
	case *rasql.CondenseExpr:
		return ev.condense(sc, n)
	case *rasql.ArrayLiteral:
		return ev.arrayLiteral(sc, n)
	case *rasql.DomainLiteral:
		return ev.domainLiteral(sc, n)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func (ev *evaluator) index(sc *scope, e rasql.Expression) (int64, error) {
	v, err := ev.eval(sc, e)
	if err != nil {
		return 0, err
	}
	return asIndex(v)
}

// checkSize rejects arrays that exceed the engine's cell limit.
func (ev *evaluator) checkSize(dom types.Sdom) error {
	if ev.maxCells > 0 && dom.Cells() > ev.maxCells {
		return errors.NewQueryError(errors.CodeOverload,
			fmt.Sprintf("array over %s exceeds %d cells", dom, ev.maxCells), nil)
	}
	return nil
}

// domain evaluates the bounded domain of a marray, condense or literal.
func (ev *evaluator) domain(sc *scope, elems []rasql.Element) (types.Sdom, error) {
	dom := make(types.Sdom, 0, len(elems))
	for _, el := range elems {
		if el.Slice {
			at, err := ev.index(sc, el.Lo)
			if err != nil {
				return nil, err
			}
			dom = append(dom, types.Interval{Lo: at, Hi: at})
			continue
		}
		if el.Lo == nil || el.Hi == nil {
			return nil, fmt.Errorf("domain bounds must be fixed")
		}
		lo, err := ev.index(sc, el.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := ev.index(sc, el.Hi)
		if err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, fmt.Errorf("empty interval %d:%d", lo, hi)
		}
		dom = append(dom, types.Interval{Lo: lo, Hi: hi})
	}
	if len(dom) == 0 {
		return nil, fmt.Errorf("empty domain")
	}
	return dom, ev.checkSize(dom)
}

// each calls fn for every point of dom in row-major order.
func (ev *evaluator) each(dom types.Sdom, fn func(p point) error) error {
	n := dom.Cells()
	for off := int64(0); off < n; off++ {
		if off%4096 == 0 {
			if err := ev.ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(point(dom.Point(off))); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) marray(sc *scope, n *rasql.MarrayExpr) (any, error) {
	dom, err := ev.domain(sc, n.Domain)
	if err != nil {
		return nil, err
	}
	var out *types.MArray
	var off int64
	err = ev.each(dom, func(p point) error {
		v, err := ev.eval(sc.child(n.Iterator, p), n.Value)
		if err != nil {
			return err
		}
		s, ok := asScalar(v)
		if !ok {
			return fmt.Errorf("marray cell must be a scalar, got %s", describe(v))
		}
		if out == nil {
			out = types.NewMArray(s.t, dom)
		}
		out.Cells[off] = castCell(s.v, out.CellType)
		off++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (ev *evaluator) condense(sc *scope, n *rasql.CondenseExpr) (any, error) {
	dom, err := ev.domain(sc, n.Domain)
	if err != nil {
		return nil, err
	}
	var acc scalar
	first := true
	err = ev.each(dom, func(p point) error {
		v, err := ev.eval(sc.child(n.Iterator, p), n.Using)
		if err != nil {
			return err
		}
		s, ok := asScalar(v)
		if !ok {
			return fmt.Errorf("condense operand must be a scalar, got %s", describe(v))
		}
		if first {
			acc = s
			if n.Operator == "and" || n.Operator == "or" {
				acc = boolScalar(s.v != 0)
			}
			first = false
			return nil
		}
		acc, err = condenseStep(n.Operator, acc, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func condenseStep(op string, acc, s scalar) (scalar, error) {
	switch op {
	case "+":
		t := wider(acc.t, s.t)
		return scalar{v: castCell(acc.v+s.v, t), t: t}, nil
	case "*":
		t := wider(acc.t, s.t)
		return scalar{v: castCell(acc.v*s.v, t), t: t}, nil
	case "max":
		if s.v > acc.v {
			acc.v = s.v
		}
		acc.t = wider(acc.t, s.t)
		return acc, nil
	case "min":
		if s.v < acc.v {
			acc.v = s.v
		}
		acc.t = wider(acc.t, s.t)
		return acc, nil
	case "and":
		return boolScalar(acc.v != 0 && s.v != 0), nil
	case "or":
		return boolScalar(acc.v != 0 || s.v != 0), nil
	}
	return scalar{}, fmt.Errorf("unknown condense operator %s", op)
}

func (ev *evaluator) arrayLiteral(sc *scope, n *rasql.ArrayLiteral) (any, error) {
	dom, err := ev.domain(sc, n.Domain)
	if err != nil {
		return nil, err
	}
	if int64(len(n.Cells)) != dom.Cells() {
		return nil, fmt.Errorf("array literal over %s needs %d cells, got %d", dom, dom.Cells(), len(n.Cells))
	}
	cells := make([]scalar, len(n.Cells))
	t := types.Unknown
	for i, c := range n.Cells {
		v, err := ev.eval(sc, c)
		if err != nil {
			return nil, err
		}
		s, ok := v.(scalar)
		if !ok {
			return nil, fmt.Errorf("array literal cell must be a scalar")
		}
		cells[i] = s
		if t == types.Unknown {
			t = s.t
		} else if t != s.t {
			t = wider(t, s.t)
		}
	}
	out := types.NewMArray(t, dom)
	for i, s := range cells {
		out.Cells[i] = castCell(s.v, t)
	}
	return out, nil
}

// domainLiteral evaluates "[...]": a point when every element is a slice.
func (ev *evaluator) domainLiteral(sc *scope, n *rasql.DomainLiteral) (any, error) {
	allSlices := true
	for _, el := range n.Elements {
		if !el.Slice {
			allSlices = false
		}
	}
	if allSlices {
		p := make(point, len(n.Elements))
		for i, el := range n.Elements {
			at, err := ev.index(sc, el.Lo)
			if err != nil {
				return nil, err
			}
			p[i] = at
		}
		return p, nil
	}
	dom, err := ev.domain(sc, n.Elements)
	if err != nil {
		return nil, err
	}
	return dom, nil
}

// subset evaluates base[elements] on arrays, points and domains.
func (ev *evaluator) subset(sc *scope, n *rasql.SubsetExpr) (any, error) {
	base, err := ev.eval(sc, n.Base)
	if err != nil {
		return nil, err
	}

	switch b := base.(type) {
	case point:
		i, err := ev.singleIndex(sc, n, len(b))
		if err != nil {
			return nil, err
		}
		return scalar{v: float64(b[i]), t: types.BigInt}, nil
	case types.Sdom:
		i, err := ev.singleIndex(sc, n, len(b))
		if err != nil {
			return nil, err
		}
		return b[i], nil
	case *types.MArray:
		return ev.trim(sc, b, n.Elements)
	}
	return nil, fmt.Errorf("cannot subset %s", describe(base))
}

func (ev *evaluator) singleIndex(sc *scope, n *rasql.SubsetExpr, size int) (int64, error) {
	if len(n.Elements) != 1 || !n.Elements[0].Slice {
		return 0, fmt.Errorf("expected a single index")
	}
	i, err := ev.index(sc, n.Elements[0].Lo)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= int64(size) {
		return 0, fmt.Errorf("index %d out of range [0:%d]", i, size-1)
	}
	return i, nil
}

// trim applies trims and slices to an array. Slicing every axis yields the
// cell as a scalar.
func (ev *evaluator) trim(sc *scope, arr *types.MArray, elems []rasql.Element) (any, error) {
	if len(elems) != len(arr.Domain) {
		return nil, fmt.Errorf("subset of %d-D array needs %d elements, got %d",
			len(arr.Domain), len(arr.Domain), len(elems))
	}
	region := make(types.Sdom, len(elems))
	var kept types.Sdom
	for i, el := range elems {
		bounds := arr.Domain[i]
		if el.Slice {
			at, err := ev.index(sc, el.Lo)
			if err != nil {
				return nil, err
			}
			region[i] = types.Interval{Lo: at, Hi: at}
		} else {
			lo, hi := bounds.Lo, bounds.Hi
			if el.Lo != nil {
				v, err := ev.index(sc, el.Lo)
				if err != nil {
					return nil, err
				}
				lo = v
			}
			if el.Hi != nil {
				v, err := ev.index(sc, el.Hi)
				if err != nil {
					return nil, err
				}
				hi = v
			}
			region[i] = types.Interval{Lo: lo, Hi: hi}
			kept = append(kept, region[i])
		}
		if region[i].Lo > region[i].Hi || region[i].Lo < bounds.Lo || region[i].Hi > bounds.Hi {
			return nil, fmt.Errorf("subset %s out of bounds %s", region[i], bounds)
		}
	}

	if len(kept) == 0 {
		p := make([]int64, len(region))
		for i, r := range region {
			p[i] = r.Lo
		}
		v, _ := arr.At(p...)
		return scalar{v: v, t: arr.CellType}, nil
	}

	out := types.NewMArray(arr.CellType, kept)
	var off int64
	err := ev.each(region, func(p point) error {
		v, _ := arr.At(p...)
		out.Cells[off] = v
		off++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (ev *evaluator) field(sc *scope, n *rasql.FieldExpr) (any, error) {
	base, err := ev.eval(sc, n.Base)
	if err != nil {
		return nil, err
	}
	iv, ok := base.(types.Interval)
	if !ok {
		return nil, fmt.Errorf("field %s requires an interval, got %s", n.Name, describe(base))
	}
	switch n.Name {
	case "lo":
		return scalar{v: float64(iv.Lo), t: types.BigInt}, nil
	case "hi":
		return scalar{v: float64(iv.Hi), t: types.BigInt}, nil
	}
	return nil, fmt.Errorf("unknown interval field %s", n.Name)
}
