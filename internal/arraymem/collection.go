package arraymem

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/misev/asqldb/pkg/types"
)

// CollectionNames is the virtual collection listing every collection name.
const CollectionNames = "RAS_COLLECTIONNAMES"

// defaultDimensions is the dimensionality of a type name without a suffix.
const defaultDimensions = 2

var cellTypes = map[string]types.ScalarType{
	"boolset":   types.Boolean,
	"greyset":   types.TinyInt,
	"shortset":  types.SmallInt,
	"longset":   types.Integer,
	"floatset":  types.Real,
	"doubleset": types.Double,
}

// CollectionType is a parsed collection type name such as "ShortSet1".
type CollectionType struct {
	Name       string
	CellType   types.ScalarType
	Dimensions int
}

// ParseCollectionType parses a set type name. The cell type comes from the
// prefix and the dimensionality from the numeric suffix.
func ParseCollectionType(name string) (CollectionType, error) {
	base := strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	cell, ok := cellTypes[strings.ToLower(base)]
	if !ok {
		return CollectionType{}, fmt.Errorf("unknown collection type %q", name)
	}
	dims := defaultDimensions
	if suffix := name[len(base):]; suffix != "" {
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 1 {
			return CollectionType{}, fmt.Errorf("invalid dimensionality in collection type %q", name)
		}
		dims = n
	}
	return CollectionType{Name: name, CellType: cell, Dimensions: dims}, nil
}

// collection holds the arrays of one collection keyed by oid.
type collection struct {
	name    string
	typ     CollectionType
	objects map[int64]*types.MArray
}

func newCollection(name string, typ CollectionType) *collection {
	return &collection{
		name:    name,
		typ:     typ,
		objects: make(map[int64]*types.MArray),
	}
}

// oids returns the object ids in ascending order.
func (c *collection) oids() []int64 {
	out := make([]int64, 0, len(c.objects))
	for oid := range c.objects {
		out = append(out, oid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// accept checks that arr fits the collection and returns it with the
// collection's cell type.
func (c *collection) accept(arr *types.MArray) (*types.MArray, error) {
	if len(arr.Domain) != c.typ.Dimensions {
		return nil, fmt.Errorf("collection %s holds %d-D arrays, got %d-D",
			c.name, c.typ.Dimensions, len(arr.Domain))
	}
	out := copyArray(arr)
	out.CellType = c.typ.CellType
	for i, v := range out.Cells {
		out.Cells[i] = castCell(v, c.typ.CellType)
	}
	return out, nil
}

func key(name string) string {
	return strings.ToLower(name)
}

func copyArray(arr *types.MArray) *types.MArray {
	out := &types.MArray{
		CellType: arr.CellType,
		Domain:   append(types.Sdom(nil), arr.Domain...),
		Cells:    make([]float64, len(arr.Cells)),
	}
	copy(out.Cells, arr.Cells)
	return out
}
