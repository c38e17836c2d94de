// Package domain models the dimensions and domains of MDARRAY values and
// implements the subset matching that types array subsetting and casts.
package domain

import (
	"fmt"
	"strconv"
)

type boundKind int

const (
	boundLiteral boundKind = iota
	boundDeferred
	boundUnbounded
)

// Bound is one end of a dimension range: a literal integer, an expression
// that is only known at row evaluation time, or unbounded.
type Bound struct {
	kind  boundKind
	value int64
	label string
}

// Unbounded returns the "*" bound.
func Unbounded() Bound {
	return Bound{kind: boundUnbounded}
}

// At returns a literal bound.
func At(v int64) Bound {
	return Bound{kind: boundLiteral, value: v}
}

// Deferred returns a bound whose value comes from an expression, typically
// a host column reference. label is the expression's source text.
func Deferred(label string) Bound {
	return Bound{kind: boundDeferred, label: label}
}

// IsUnbounded reports whether the bound is "*".
func (b Bound) IsUnbounded() bool {
	return b.kind == boundUnbounded
}

// Literal returns the bound value when it is statically known.
func (b Bound) Literal() (int64, bool) {
	return b.value, b.kind == boundLiteral
}

func (b Bound) String() string {
	switch b.kind {
	case boundUnbounded:
		return "*"
	case boundDeferred:
		return b.label
	default:
		return strconv.FormatInt(b.value, 10)
	}
}

// Dimension is one axis of a domain or subset.
type Dimension struct {
	Name  string
	Lower Bound
	Upper Bound
	// Slice marks a single-index address. The dimension disappears from
	// the resulting domain and only Lower is meaningful.
	Slice bool
}

// NewRange returns a range dimension. An empty name makes it positional.
func NewRange(name string, lo, hi Bound) Dimension {
	return Dimension{Name: name, Lower: lo, Upper: hi}
}

// NewSlice returns a single-index dimension.
func NewSlice(name string, at Bound) Dimension {
	return Dimension{Name: name, Lower: at, Slice: true}
}

// UnboundedRange returns the "*:*" dimension.
func UnboundedRange(name string) Dimension {
	return NewRange(name, Unbounded(), Unbounded())
}

// Named reports whether the dimension is addressed by name.
func (d Dimension) Named() bool {
	return d.Name != ""
}

// Extent returns the number of points on the axis when both bounds are
// literal. A slice has extent 1.
func (d Dimension) Extent() (int64, bool) {
	if d.Slice {
		return 1, true
	}
	lo, ok := d.Lower.Literal()
	if !ok {
		return 0, false
	}
	hi, ok := d.Upper.Literal()
	if !ok {
		return 0, false
	}
	if hi < lo {
		return 0, true
	}
	return hi - lo + 1, true
}

// Range renders the bounds only: "lo:hi", or "lo" for a slice.
func (d Dimension) Range() string {
	if d.Slice {
		return d.Lower.String()
	}
	return d.Lower.String() + ":" + d.Upper.String()
}

// String renders "name(lo:hi)", "name(lo)" or the bare range.
func (d Dimension) String() string {
	if !d.Named() {
		return d.Range()
	}
	return fmt.Sprintf("%s(%s)", d.Name, d.Range())
}
