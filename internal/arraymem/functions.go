package arraymem

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/misev/asqldb/internal/rasql"
	"github.com/misev/asqldb/pkg/types"
)

type reducer func(arr *types.MArray) scalar

var reducers = map[string]reducer{
	"add_cells": func(arr *types.MArray) scalar {
		t := types.BigInt
		if arr.CellType.IsFloating() {
			t = types.Double
		}
		var sum float64
		for _, c := range arr.Cells {
			sum += c
		}
		return scalar{v: sum, t: t}
	},
	"avg_cells": func(arr *types.MArray) scalar {
		var sum float64
		for _, c := range arr.Cells {
			sum += c
		}
		return scalar{v: sum / float64(len(arr.Cells)), t: types.Double}
	},
	"count_cells": func(arr *types.MArray) scalar {
		var n float64
		for _, c := range arr.Cells {
			if c != 0 {
				n++
			}
		}
		return scalar{v: n, t: types.Integer}
	},
	"max_cells": func(arr *types.MArray) scalar {
		m := math.Inf(-1)
		for _, c := range arr.Cells {
			m = math.Max(m, c)
		}
		return scalar{v: m, t: arr.CellType}
	},
	"min_cells": func(arr *types.MArray) scalar {
		m := math.Inf(1)
		for _, c := range arr.Cells {
			m = math.Min(m, c)
		}
		return scalar{v: m, t: arr.CellType}
	},
	"some_cells": func(arr *types.MArray) scalar {
		for _, c := range arr.Cells {
			if c != 0 {
				return boolScalar(true)
			}
		}
		return boolScalar(false)
	},
	"all_cells": func(arr *types.MArray) scalar {
		for _, c := range arr.Cells {
			if c == 0 {
				return boolScalar(false)
			}
		}
		return boolScalar(true)
	},
}

var trig = map[string]func(float64) float64{
	"arccos": math.Acos,
	"arcsin": math.Asin,
	"arctan": math.Atan,
	"cosh":   math.Cosh,
	"sinh":   math.Sinh,
	"tanh":   math.Tanh,
}

type binaryFunc struct {
	typ func(x, y types.ScalarType) types.ScalarType
	fn  func(x, y float64) (float64, error)
}

var binaryFuncs = map[string]binaryFunc{
	"bit": {fixedType2(types.Boolean), noFail(func(x, y float64) float64 {
		return float64((int64(x) >> uint(int64(y))) & 1)
	})},
	"divide": {fixedType2(types.Double), noFail(func(x, y float64) float64 { return x / y })},
	"modulo": {fixedType2(types.Double), noFail(math.Mod)},
	"pow":    {fixedType2(types.Double), noFail(math.Pow)},
	"div": {fixedType2(types.Integer), func(x, y float64) (float64, error) {
		if int64(y) == 0 {
			return 0, fmt.Errorf("integer division by zero")
		}
		return float64(int64(x) / int64(y)), nil
	}},
}

func (ev *evaluator) call(sc *scope, n *rasql.FunctionCall) (any, error) {
	if n.Name == "oid" {
		return ev.oid(sc, n)
	}

	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(sc, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	arity := func(want int) error {
		if len(args) != want {
			return fmt.Errorf("%s takes %d argument(s), got %d", n.Name, want, len(args))
		}
		return nil
	}

	if r, ok := reducers[n.Name]; ok {
		if err := arity(1); err != nil {
			return nil, err
		}
		arr, err := asArray(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		return r(arr), nil
	}
	if fn, ok := trig[n.Name]; ok {
		if err := arity(1); err != nil {
			return nil, err
		}
		return unary(args[0], fixedType(types.Double), fn)
	}
	if bf, ok := binaryFuncs[n.Name]; ok {
		if err := arity(2); err != nil {
			return nil, err
		}
		return cellwise(args[0], args[1], bf.typ, bf.fn)
	}

	switch n.Name {
	case "sdom":
		if err := arity(1); err != nil {
			return nil, err
		}
		arr, ok := args[0].(*types.MArray)
		if !ok {
			return nil, fmt.Errorf("sdom requires an array, got %s", describe(args[0]))
		}
		return append(types.Sdom(nil), arr.Domain...), nil
	case "shift":
		if err := arity(2); err != nil {
			return nil, err
		}
		return shift(args[0], args[1])
	case "extend":
		if err := arity(2); err != nil {
			return nil, err
		}
		return ev.extend(args[0], args[1])
	case "scale":
		if err := arity(2); err != nil {
			return nil, err
		}
		return ev.scale(args[0], args[1])
	case "encode":
		if len(args) < 2 {
			return nil, fmt.Errorf("encode takes an array and a format")
		}
		format, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("encode format must be a string")
		}
		return encode(args[0], format)
	case "csv":
		if err := arity(1); err != nil {
			return nil, err
		}
		return encode(args[0], "csv")
	case "decode":
		if len(args) < 1 {
			return nil, fmt.Errorf("decode takes a binary argument")
		}
		data, ok := args[0].([]byte)
		if !ok {
			return nil, fmt.Errorf("decode requires binary data, got %s", describe(args[0]))
		}
		return types.ArrayFromBytes(data), nil
	case "complex":
		return nil, fmt.Errorf("complex cells are not supported")
	}
	return nil, fmt.Errorf("unknown function %s", n.Name)
}

func (ev *evaluator) oid(sc *scope, n *rasql.FunctionCall) (any, error) {
	if len(n.Args) != 1 {
		return nil, fmt.Errorf("oid takes 1 argument, got %d", len(n.Args))
	}
	id, ok := n.Args[0].(*rasql.Ident)
	if !ok {
		return nil, fmt.Errorf("oid requires a collection alias")
	}
	oid, ok := sc.oid(id.Name)
	if !ok {
		return nil, fmt.Errorf("unknown alias %s", id.Name)
	}
	return scalar{v: float64(oid), t: types.BigInt}, nil
}

func asArray(v any) (*types.MArray, error) {
	switch x := v.(type) {
	case *types.MArray:
		return x, nil
	case scalar:
		arr := types.NewMArray(x.t, types.Sdom{{Lo: 0, Hi: 0}})
		arr.Cells[0] = x.v
		return arr, nil
	}
	return nil, fmt.Errorf("expected an array, got %s", describe(v))
}

func shift(a, by any) (any, error) {
	arr, err := asArray(a)
	if err != nil {
		return nil, err
	}
	p, ok := by.(point)
	if !ok || len(p) != len(arr.Domain) {
		return nil, fmt.Errorf("shift requires a %d-D point", len(arr.Domain))
	}
	out := copyArray(arr)
	for i := range out.Domain {
		out.Domain[i].Lo += p[i]
		out.Domain[i].Hi += p[i]
	}
	return out, nil
}

// extend places the array in a new domain; cells outside the source are 0.
func (ev *evaluator) extend(a, to any) (any, error) {
	arr, err := asArray(a)
	if err != nil {
		return nil, err
	}
	dom, ok := to.(types.Sdom)
	if !ok || len(dom) != len(arr.Domain) {
		return nil, fmt.Errorf("extend requires a %d-D domain", len(arr.Domain))
	}
	if err := ev.checkSize(dom); err != nil {
		return nil, err
	}
	out := types.NewMArray(arr.CellType, dom)
	var off int64
	err = ev.each(dom, func(p point) error {
		if v, ok := arr.At(p...); ok {
			out.Cells[off] = v
		}
		off++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scale resamples the array by a factor per axis, nearest neighbour.
func (ev *evaluator) scale(a, by any) (any, error) {
	arr, err := asArray(a)
	if err != nil {
		return nil, err
	}
	factors := make([]float64, len(arr.Domain))
	switch f := by.(type) {
	case scalar:
		for i := range factors {
			factors[i] = f.v
		}
	case point:
		if len(f) != len(arr.Domain) {
			return nil, fmt.Errorf("scale requires %d factors", len(arr.Domain))
		}
		for i, c := range f {
			factors[i] = float64(c)
		}
	default:
		return nil, fmt.Errorf("scale factor must be a number or a point")
	}

	dom := make(types.Sdom, len(arr.Domain))
	for i, iv := range arr.Domain {
		if factors[i] <= 0 {
			return nil, fmt.Errorf("scale factor must be positive")
		}
		lo := int64(math.Floor(float64(iv.Lo) * factors[i]))
		extent := int64(math.Max(1, math.Round(float64(iv.Extent())*factors[i])))
		dom[i] = types.Interval{Lo: lo, Hi: lo + extent - 1}
	}
	if err := ev.checkSize(dom); err != nil {
		return nil, err
	}

	out := types.NewMArray(arr.CellType, dom)
	src := make([]int64, len(dom))
	var off int64
	err = ev.each(dom, func(p point) error {
		for i := range p {
			s := arr.Domain[i].Lo + int64(float64(p[i]-dom[i].Lo)/factors[i])
			if s > arr.Domain[i].Hi {
				s = arr.Domain[i].Hi
			}
			src[i] = s
		}
		out.Cells[off], _ = arr.At(src...)
		off++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// encode serializes an array. Only csv is supported: cells grouped by the
// last axis, "{1,2},{3,4}".
func encode(v any, format string) (any, error) {
	if !strings.EqualFold(format, "csv") {
		return nil, fmt.Errorf("encoding %s is not supported", format)
	}
	arr, err := asArray(v)
	if err != nil {
		return nil, err
	}
	row := arr.Domain[len(arr.Domain)-1].Extent()
	var b strings.Builder
	for i, c := range arr.Cells {
		switch {
		case int64(i)%row == 0 && i > 0:
			b.WriteString("},{")
		case i > 0:
			b.WriteByte(',')
		default:
			b.WriteByte('{')
		}
		b.WriteString(cellText(c, arr.CellType))
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func cellText(v float64, t types.ScalarType) string {
	if t.IsFloating() {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(v), 10)
}
