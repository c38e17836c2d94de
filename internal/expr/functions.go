package expr

import (
	"fmt"

	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// Library function names with special rendering.
const (
	FuncEncode = "encode"
	FuncDecode = "decode"
	FuncSdom   = "sdom"
)

// Formats is the set of encode shorthands, each rendered as a function of
// the same name.
var Formats = map[string]bool{
	"tiff": true,
	"png":  true,
	"csv":  true,
	"jpeg": true,
	"bmp":  true,
}

type funcSpec struct {
	arity int
	// array requires the first argument to be an MDARRAY
	array  bool
	result func(args []Type) Type
}

func fixed(st types.ScalarType) func([]Type) Type {
	return func([]Type) Type { return ScalarOf(st) }
}

// cellwise keeps the argument's shape with a new cell type.
func cellwise(st types.ScalarType) func([]Type) Type {
	return func(args []Type) Type {
		for _, a := range args {
			if a.IsArray() {
				return ArrayOf(st, a.Array.Domain)
			}
		}
		return ScalarOf(st)
	}
}

func sameCell(args []Type) Type {
	return ScalarOf(args[0].CellType())
}

func sum(args []Type) Type {
	if args[0].CellType().IsFloating() {
		return ScalarOf(types.Double)
	}
	return ScalarOf(types.Integer)
}

// reshaped keeps names and cell type but loses static bounds.
func reshaped(args []Type) Type {
	var d domain.Domain
	for _, dim := range args[0].Array.Domain.Dimensions() {
		_ = d.AddDimension(domain.UnboundedRange(dim.Name))
	}
	return ArrayOf(args[0].Array.CellType, d)
}

var functions = map[string]funcSpec{
	"add_cells":   {arity: 1, array: true, result: sum},
	"avg_cells":   {arity: 1, array: true, result: fixed(types.Double)},
	"count_cells": {arity: 1, array: true, result: fixed(types.Integer)},
	"max_cells":   {arity: 1, array: true, result: sameCell},
	"min_cells":   {arity: 1, array: true, result: sameCell},
	"some_cells":  {arity: 1, array: true, result: fixed(types.Boolean)},
	"all_cells":   {arity: 1, array: true, result: fixed(types.Boolean)},

	"arccos": {arity: 1, result: cellwise(types.Double)},
	"arcsin": {arity: 1, result: cellwise(types.Double)},
	"arctan": {arity: 1, result: cellwise(types.Double)},
	"cosh":   {arity: 1, result: cellwise(types.Double)},
	"sinh":   {arity: 1, result: cellwise(types.Double)},
	"tanh":   {arity: 1, result: cellwise(types.Double)},

	"bit":     {arity: 2, result: cellwise(types.Boolean)},
	"complex": {arity: 2, result: cellwise(types.Double)},
	"divide":  {arity: 2, result: cellwise(types.Double)},
	"modulo":  {arity: 2, result: cellwise(types.Double)},
	"pow":     {arity: 2, result: cellwise(types.Double)},
	"div":     {arity: 2, result: cellwise(types.Integer)},
	"shift":   {arity: 2, array: true, result: reshaped},
	"extend":  {arity: 2, array: true, result: reshaped},
	"scale":   {arity: 2, array: true, result: reshaped},

	FuncSdom:   {arity: 1, array: true, result: fixed(types.Varchar)},
	FuncEncode: {arity: 1, array: true, result: fixed(types.Binary)},
	FuncDecode: {arity: 1, result: func([]Type) Type {
		return ArrayOf(types.TinyInt, domain.MustNew(domain.NewRange(domain.DefaultDimensionPrefix+"0", domain.At(0), domain.Unbounded())))
	}},
}

func init() {
	for f := range Formats {
		functions[f] = funcSpec{arity: 1, array: true, result: fixed(types.Binary)}
	}
}

// IsFunction reports whether name is a known library function.
func IsFunction(name string) bool {
	_, ok := functions[name]
	return ok
}

func lookupFunction(name string, args []Type) (Type, error) {
	spec, ok := functions[name]
	if !ok {
		return Type{}, errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("unknown function %s", name))
	}
	if len(args) != spec.arity {
		return Type{}, errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("%s takes %d argument(s), got %d", name, spec.arity, len(args)))
	}
	if spec.array && !args[0].IsArray() {
		return Type{}, errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("%s requires an array argument, got %s", name, args[0]))
	}
	return spec.result(args), nil
}
