package arraymem

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/misev/asqldb/pkg/types"
)

// Values flowing through evaluation are one of:
//
//	scalar        a typed number or boolean
//	*types.MArray a materialized array
//	point         an iterator position or a domain literal of slices
//	types.Sdom    a spatial domain
//	types.Interval one axis of a domain
//	string        a collection name or string literal
//	[]byte        a bound parameter or an encoded array

type scalar struct {
	v float64
	t types.ScalarType
}

type point []int64

func boolScalar(b bool) scalar {
	if b {
		return scalar{v: 1, t: types.Boolean}
	}
	return scalar{v: 0, t: types.Boolean}
}

func (p point) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// castCell converts a cell value to the representation of t.
func castCell(v float64, t types.ScalarType) float64 {
	switch {
	case t == types.Boolean:
		if v != 0 {
			return 1
		}
		return 0
	case t.IsInteger():
		return math.Trunc(v)
	case t == types.Real:
		return float64(float32(v))
	}
	return v
}

// wider returns the result cell type of an arithmetic operation.
func wider(a, b types.ScalarType) types.ScalarType {
	if a == types.Boolean {
		a = types.TinyInt
	}
	if b == types.Boolean {
		b = types.TinyInt
	}
	return types.Wider(a, b)
}

// toBag converts an evaluated value to a result bag element.
func toBag(v any) (any, error) {
	switch x := v.(type) {
	case scalar:
		switch {
		case x.t == types.Boolean:
			return x.v != 0, nil
		case x.t.IsInteger():
			return int64(x.v), nil
		default:
			return x.v, nil
		}
	case *types.MArray:
		return copyArray(x), nil
	case types.Sdom:
		return x.String(), nil
	case types.Interval:
		return x.String(), nil
	case point:
		return x.String(), nil
	case string, []byte:
		return x, nil
	}
	return nil, fmt.Errorf("unsupported result value %T", v)
}

// asScalar accepts a scalar value or a one-cell array.
func asScalar(v any) (scalar, bool) {
	switch x := v.(type) {
	case scalar:
		return x, true
	case *types.MArray:
		if len(x.Cells) == 1 {
			return scalar{v: x.Cells[0], t: x.CellType}, true
		}
	}
	return scalar{}, false
}

func asIndex(v any) (int64, error) {
	s, ok := asScalar(v)
	if !ok {
		return 0, fmt.Errorf("expected an index, got %s", describe(v))
	}
	if s.v != math.Trunc(s.v) {
		return 0, fmt.Errorf("index %v is not integral", s.v)
	}
	return int64(s.v), nil
}

func describe(v any) string {
	switch x := v.(type) {
	case scalar:
		return fmt.Sprintf("%s scalar", x.t)
	case *types.MArray:
		return fmt.Sprintf("%s array %s", x.CellType, x.Domain)
	case point:
		return "point " + x.String()
	case types.Sdom:
		return "domain " + x.String()
	case types.Interval:
		return "interval " + x.String()
	case string:
		return "string"
	case []byte:
		return "binary"
	}
	return fmt.Sprintf("%T", v)
}

// cellwise applies fn to every cell of the array operands, broadcasting
// scalars. Array operands must have equal extents; the result takes the
// domain of the first array.
func cellwise(a, b any, typ func(x, y types.ScalarType) types.ScalarType, fn func(x, y float64) (float64, error)) (any, error) {
	as, aScalar := a.(scalar)
	bs, bScalar := b.(scalar)
	if aScalar && bScalar {
		t := typ(as.t, bs.t)
		r, err := fn(as.v, bs.v)
		if err != nil {
			return nil, err
		}
		return scalar{v: castCell(r, t), t: t}, nil
	}

	aa, aArr := a.(*types.MArray)
	ba, bArr := b.(*types.MArray)
	switch {
	case aArr && bArr:
		if !sameExtents(aa.Domain, ba.Domain) {
			return nil, fmt.Errorf("array extents differ: %s and %s", aa.Domain, ba.Domain)
		}
		t := typ(aa.CellType, ba.CellType)
		out := types.NewMArray(t, aa.Domain)
		for i := range aa.Cells {
			r, err := fn(aa.Cells[i], ba.Cells[i])
			if err != nil {
				return nil, err
			}
			out.Cells[i] = castCell(r, t)
		}
		return out, nil
	case aArr && bScalar:
		t := typ(aa.CellType, bs.t)
		out := types.NewMArray(t, aa.Domain)
		for i, x := range aa.Cells {
			r, err := fn(x, bs.v)
			if err != nil {
				return nil, err
			}
			out.Cells[i] = castCell(r, t)
		}
		return out, nil
	case aScalar && bArr:
		t := typ(as.t, ba.CellType)
		out := types.NewMArray(t, ba.Domain)
		for i, y := range ba.Cells {
			r, err := fn(as.v, y)
			if err != nil {
				return nil, err
			}
			out.Cells[i] = castCell(r, t)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot combine %s and %s", describe(a), describe(b))
}

// unary applies fn to a scalar or every cell of an array.
func unary(v any, typ func(types.ScalarType) types.ScalarType, fn func(float64) float64) (any, error) {
	switch x := v.(type) {
	case scalar:
		t := typ(x.t)
		return scalar{v: castCell(fn(x.v), t), t: t}, nil
	case *types.MArray:
		t := typ(x.CellType)
		out := types.NewMArray(t, x.Domain)
		for i, c := range x.Cells {
			out.Cells[i] = castCell(fn(c), t)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a number or an array, got %s", describe(v))
}

func sameExtents(a, b types.Sdom) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Extent() != b[i].Extent() {
			return false
		}
	}
	return true
}

func keepType(t types.ScalarType) types.ScalarType { return t }

func fixedType(t types.ScalarType) func(types.ScalarType) types.ScalarType {
	return func(types.ScalarType) types.ScalarType { return t }
}

func fixedType2(t types.ScalarType) func(types.ScalarType, types.ScalarType) types.ScalarType {
	return func(types.ScalarType, types.ScalarType) types.ScalarType { return t }
}

func noFail(fn func(x, y float64) float64) func(x, y float64) (float64, error) {
	return func(x, y float64) (float64, error) { return fn(x, y), nil }
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// binaryOp evaluates an infix operator.
func binaryOp(op string, a, b any) (any, error) {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %s", describe(b))
		}
		switch op {
		case "=":
			return boolScalar(sa == sb), nil
		case "!=":
			return boolScalar(sa != sb), nil
		}
		return nil, fmt.Errorf("operator %s not defined on strings", op)
	}

	switch op {
	case "+":
		return cellwise(a, b, wider, noFail(func(x, y float64) float64 { return x + y }))
	case "-":
		return cellwise(a, b, wider, noFail(func(x, y float64) float64 { return x - y }))
	case "*":
		return cellwise(a, b, wider, noFail(func(x, y float64) float64 { return x * y }))
	case "/":
		return cellwise(a, b, fixedType2(types.Double), noFail(func(x, y float64) float64 { return x / y }))
	case "=":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x == y) }))
	case "!=":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x != y) }))
	case "<":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x < y) }))
	case ">":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x > y) }))
	case "<=":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x <= y) }))
	case ">=":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x >= y) }))
	case "and":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x != 0 && y != 0) }))
	case "or":
		return cellwise(a, b, fixedType2(types.Boolean), noFail(func(x, y float64) float64 { return truth(x != 0 || y != 0) }))
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}
