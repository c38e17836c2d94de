package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ArrayRef is the value an MDARRAY column carries in a host row: the
// remote collection and object id of the array, rendered as "coll:oid".
type ArrayRef struct {
	Collection string
	OID        int64
}

// RefSeparator separates the collection from the object id.
const RefSeparator = ':'

// String renders the reference in its stored form.
func (r ArrayRef) String() string {
	return r.Collection + string(RefSeparator) + strconv.FormatInt(r.OID, 10)
}

// ParseArrayRef parses a "coll:oid" string.
func ParseArrayRef(s string) (ArrayRef, error) {
	idx := strings.IndexByte(s, RefSeparator)
	if idx <= 0 || idx == len(s)-1 || len(s) < 3 {
		return ArrayRef{}, fmt.Errorf("invalid array reference %q", s)
	}
	oid, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return ArrayRef{}, fmt.Errorf("invalid array reference %q: %w", s, err)
	}
	return ArrayRef{Collection: s[:idx], OID: oid}, nil
}

// Interval is a closed integer range of one array axis.
type Interval struct {
	Lo int64
	Hi int64
}

// Extent returns the number of points in the interval.
func (i Interval) Extent() int64 {
	if i.Hi < i.Lo {
		return 0
	}
	return i.Hi - i.Lo + 1
}

func (i Interval) String() string {
	return fmt.Sprintf("%d:%d", i.Lo, i.Hi)
}

// Sdom is the concrete spatial domain of a materialized array.
type Sdom []Interval

// Cells returns the number of cells covered by the domain.
func (s Sdom) Cells() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, iv := range s {
		n *= iv.Extent()
	}
	return n
}

// Contains reports whether the point lies inside the domain.
func (s Sdom) Contains(point []int64) bool {
	if len(point) != len(s) {
		return false
	}
	for i, p := range point {
		if p < s[i].Lo || p > s[i].Hi {
			return false
		}
	}
	return true
}

// Offset returns the row-major linear offset of a point. The last axis
// varies fastest.
func (s Sdom) Offset(point []int64) (int64, bool) {
	if !s.Contains(point) {
		return 0, false
	}
	var off int64
	for i, p := range point {
		off = off*s[i].Extent() + (p - s[i].Lo)
	}
	return off, true
}

// Point is the inverse of Offset.
func (s Sdom) Point(offset int64) []int64 {
	point := make([]int64, len(s))
	for i := len(s) - 1; i >= 0; i-- {
		ext := s[i].Extent()
		point[i] = s[i].Lo + offset%ext
		offset /= ext
	}
	return point
}

// String renders the domain as "[lo:hi,lo:hi]".
func (s Sdom) String() string {
	parts := make([]string, len(s))
	for i, iv := range s {
		parts[i] = iv.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseSdom parses the text produced by Sdom.String.
func ParseSdom(text string) (Sdom, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, fmt.Errorf("invalid domain %q", text)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return Sdom{}, nil
	}
	var out Sdom
	for _, part := range strings.Split(body, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			hi = lo
		}
		l, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", text, err)
		}
		h, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", text, err)
		}
		out = append(out, Interval{Lo: l, Hi: h})
	}
	return out, nil
}

// MArray is a materialized array returned by the array engine.
// Cells are stored in row-major order.
type MArray struct {
	CellType ScalarType
	Domain   Sdom
	Cells    []float64
}

// NewMArray allocates a zero-filled array over the domain.
func NewMArray(cellType ScalarType, dom Sdom) *MArray {
	return &MArray{
		CellType: cellType,
		Domain:   dom,
		Cells:    make([]float64, dom.Cells()),
	}
}

// At returns the cell at the given point.
func (m *MArray) At(point ...int64) (float64, bool) {
	off, ok := m.Domain.Offset(point)
	if !ok {
		return 0, false
	}
	return m.Cells[off], true
}

// Set stores a cell value at the given point.
func (m *MArray) Set(v float64, point ...int64) bool {
	off, ok := m.Domain.Offset(point)
	if !ok {
		return false
	}
	m.Cells[off] = v
	return true
}

// Len returns the number of cells.
func (m *MArray) Len() int {
	return len(m.Cells)
}

// Bytes returns the cells of a char array as raw bytes.
func (m *MArray) Bytes() []byte {
	out := make([]byte, len(m.Cells))
	for i, c := range m.Cells {
		out[i] = byte(int64(c))
	}
	return out
}

// ArrayFromBytes wraps raw bytes as a 1-D char array over [0:n-1].
func ArrayFromBytes(data []byte) *MArray {
	m := NewMArray(TinyInt, Sdom{{Lo: 0, Hi: int64(len(data)) - 1}})
	for i, b := range data {
		m.Cells[i] = float64(b)
	}
	return m
}
