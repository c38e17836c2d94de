package domain

import (
	"fmt"
	"strings"

	"github.com/misev/asqldb/internal/errors"
)

// Domain is an ordered list of dimensions. Order defines positional
// addressing; names, when present, are unique.
type Domain struct {
	dims []Dimension
}

// New builds a domain from dimensions, rejecting duplicate names.
func New(dims ...Dimension) (Domain, error) {
	var d Domain
	for _, dim := range dims {
		if err := d.AddDimension(dim); err != nil {
			return Domain{}, err
		}
	}
	return d, nil
}

// MustNew is New for statically known domains.
func MustNew(dims ...Dimension) Domain {
	d, err := New(dims...)
	if err != nil {
		panic(err)
	}
	return d
}

// AddDimension appends a dimension.
func (d *Domain) AddDimension(dim Dimension) error {
	if dim.Named() {
		if _, ok := d.IndexByName(dim.Name); ok {
			return errors.NewTypeError(errors.CodeDuplicateDimension,
				fmt.Sprintf("dimension %q is defined twice", dim.Name))
		}
	}
	d.dims = append(d.dims, dim)
	return nil
}

// Len returns the dimensionality.
func (d Domain) Len() int {
	return len(d.dims)
}

// Dimension returns the i-th dimension.
func (d Domain) Dimension(i int) Dimension {
	return d.dims[i]
}

// Dimensions returns a copy of the dimensions.
func (d Domain) Dimensions() []Dimension {
	out := make([]Dimension, len(d.dims))
	copy(out, d.dims)
	return out
}

// IndexByName returns the position of the named dimension.
func (d Domain) IndexByName(name string) (int, bool) {
	if name == "" {
		return -1, false
	}
	for i, dim := range d.dims {
		if dim.Name == name {
			return i, true
		}
	}
	return -1, false
}

// HasDimension reports whether a dimension with this name exists.
func (d Domain) HasDimension(name string) bool {
	_, ok := d.IndexByName(name)
	return ok
}

// AllNamed reports whether every dimension carries a name.
func (d Domain) AllNamed() bool {
	for _, dim := range d.dims {
		if !dim.Named() {
			return false
		}
	}
	return true
}

// Mixed reports whether named and positional dimensions are combined.
func (d Domain) Mixed() bool {
	named := 0
	for _, dim := range d.dims {
		if dim.Named() {
			named++
		}
	}
	return named > 0 && named < len(d.dims)
}

// Cardinality is the product of the dimension extents, when known.
func (d Domain) Cardinality() (int64, bool) {
	if len(d.dims) == 0 {
		return 0, true
	}
	n := int64(1)
	for _, dim := range d.dims {
		ext, ok := dim.Extent()
		if !ok {
			return 0, false
		}
		n *= ext
	}
	return n, true
}

// String renders the domain literal form "[x(0:10), y(0:10)]".
func (d Domain) String() string {
	parts := make([]string, len(d.dims))
	for i, dim := range d.dims {
		parts[i] = dim.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// IsNamedSubset reports whether every dimension of subset has a name that
// exists in parent.
func IsNamedSubset(subset, parent Domain) bool {
	if subset.Len() == 0 {
		return false
	}
	for _, dim := range subset.dims {
		if !dim.Named() || !parent.HasDimension(dim.Name) {
			return false
		}
	}
	return true
}

// CheckAddressing rejects a subset that combines named and positional
// dimensions. raw is the subset's source text, reported in the error.
func CheckAddressing(subset Domain, raw string) error {
	if subset.Mixed() {
		return errors.NewTypeError(errors.CodeMixedAddressing,
			fmt.Sprintf("subset [%s] mixes named and positional dimensions", raw)).
			WithDetails(map[string]interface{}{"subset": raw})
	}
	return nil
}

// MatchSubsetDomain computes the domain that results from addressing
// parent with subset. Slices are removed; named subsets keep parent order
// and leave unmentioned dimensions unbounded.
func MatchSubsetDomain(parent, subset Domain) (Domain, error) {
	if err := CheckAddressing(subset, subset.rangeText()); err != nil {
		return Domain{}, err
	}

	var out Domain
	if subset.Len() > 0 && subset.AllNamed() {
		for _, dim := range subset.dims {
			if !parent.HasDimension(dim.Name) {
				return Domain{}, errors.NewTypeError(errors.CodeUnknownDimension,
					fmt.Sprintf("unknown dimension %q", dim.Name)).
					WithDetails(map[string]interface{}{"dimension": dim.Name})
			}
		}
		for _, pdim := range parent.dims {
			i, ok := subset.IndexByName(pdim.Name)
			if !ok {
				out.dims = append(out.dims, UnboundedRange(pdim.Name))
				continue
			}
			sdim := subset.dims[i]
			if sdim.Slice {
				continue
			}
			out.dims = append(out.dims, sdim)
		}
		return out, nil
	}

	if subset.Len() != parent.Len() {
		return Domain{}, errors.NewTypeError(errors.CodeDimensionalityMismatch,
			fmt.Sprintf("subset has %d dimensions, array has %d", subset.Len(), parent.Len())).
			WithDetails(map[string]interface{}{"expected": parent.Len(), "actual": subset.Len()})
	}
	for i, sdim := range subset.dims {
		if sdim.Slice {
			continue
		}
		// positional ranges inherit the parent's axis name
		if !sdim.Named() {
			sdim.Name = parent.dims[i].Name
		}
		out.dims = append(out.dims, sdim)
	}
	return out, nil
}

func (d Domain) rangeText() string {
	parts := make([]string, len(d.dims))
	for i, dim := range d.dims {
		parts[i] = dim.String()
	}
	return strings.Join(parts, ", ")
}
