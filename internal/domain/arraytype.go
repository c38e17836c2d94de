package domain

import (
	"fmt"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// MaxCollectionDimensions is the highest dimensionality with a predefined
// collection type on the array engine.
const MaxCollectionDimensions = 3

// DefaultDimensionPrefix names dimensions that are declared without a name.
const DefaultDimensionPrefix = "d"

// ArrayType is the type of an array-valued expression.
type ArrayType struct {
	CellType types.ScalarType
	Domain   Domain
}

// Dimensionality returns the number of dimensions.
func (t ArrayType) Dimensionality() int {
	return t.Domain.Len()
}

func (t ArrayType) String() string {
	return fmt.Sprintf("MDARRAY %s %s", t.CellType, t.Domain)
}

var collectionPrefixes = map[types.ScalarType]string{
	types.Boolean:  "BoolSet",
	types.TinyInt:  "GreySet",
	types.SmallInt: "ShortSet",
	types.Integer:  "LongSet",
	types.BigInt:   "LongSet",
	types.Real:     "FloatSet",
	types.Double:   "DoubleSet",
}

// CollectionType returns the array engine collection type that stores
// arrays of this type. The 2-D type carries no dimensionality suffix.
func (t ArrayType) CollectionType() (string, error) {
	prefix, ok := collectionPrefixes[t.CellType]
	if !ok {
		return "", errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("no collection type for cell type %s", t.CellType))
	}
	n := t.Dimensionality()
	if n < 1 || n > MaxCollectionDimensions {
		return "", errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("unsupported dimensionality %d (1 to %d)", n, MaxCollectionDimensions))
	}
	if n == 2 {
		return prefix, nil
	}
	return fmt.Sprintf("%s%d", prefix, n), nil
}

// WithDefaultNames returns a copy of the domain where every unnamed
// dimension is named by its position, "d0", "d1", ...
func WithDefaultNames(d Domain) Domain {
	var out Domain
	for i, dim := range d.dims {
		if !dim.Named() {
			dim.Name = fmt.Sprintf("%s%d", DefaultDimensionPrefix, i)
		}
		out.dims = append(out.dims, dim)
	}
	return out
}
