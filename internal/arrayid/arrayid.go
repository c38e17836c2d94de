// Package arrayid identifies remote arrays referenced by host rows and
// builds the combined FROM/WHERE clauses for a set of them.
package arrayid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// ID identifies one remote array bound to one row-scoped local name.
type ID struct {
	Collection string
	OID        int64
	// Field is the local alias used in the rendered FROM clause.
	Field string
}

// Parse builds an ID from a host column value of the form "coll:oid".
func Parse(ref string, field string) (ID, error) {
	r, err := types.ParseArrayRef(ref)
	if err != nil {
		return ID{}, errors.NewQueryError(errors.CodeInvalidArrayID,
			fmt.Sprintf("invalid array id %q for field %s", ref, field), err)
	}
	return FromRef(r, field), nil
}

// FromRef binds an array reference to a local field name.
func FromRef(r types.ArrayRef, field string) ID {
	return ID{Collection: r.Collection, OID: r.OID, Field: field}
}

// Ref returns the stored reference form.
func (id ID) Ref() types.ArrayRef {
	return types.ArrayRef{Collection: id.Collection, OID: id.OID}
}

// SameObject reports whether both ids denote the same physical array,
// regardless of local name.
func (id ID) SameObject(other ID) bool {
	return id.Collection == other.Collection && id.OID == other.OID
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d(%s)", id.Collection, id.OID, id.Field)
}

// Set is an insertion-ordered, de-duplicating collection of IDs. Two ids
// for the same object under different local names are distinct entries,
// since each needs its own alias in the rendered clause.
type Set struct {
	ids  []ID
	seen map[ID]struct{}
}

// NewSet returns a set holding ids in order.
func NewSet(ids ...ID) *Set {
	s := &Set{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id unless already present and reports whether it was added.
func (s *Set) Add(id ID) bool {
	if s.seen == nil {
		s.seen = make(map[ID]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// AddAll inserts every id of other, in order.
func (s *Set) AddAll(other *Set) {
	if other == nil {
		return
	}
	for _, id := range other.ids {
		s.Add(id)
	}
}

// Len returns the number of entries. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Empty reports whether the set has no entries.
func (s *Set) Empty() bool {
	return s.Len() == 0
}

// IDs returns a copy of the entries in insertion order.
func (s *Set) IDs() []ID {
	if s == nil {
		return nil
	}
	out := make([]ID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Merge returns the insertion-ordered union of a and b. Neither input is
// modified.
func Merge(a, b *Set) *Set {
	out := &Set{}
	out.AddAll(a)
	out.AddAll(b)
	return out
}

// FromClause renders "coll AS field" for each entry.
func (s *Set) FromClause() string {
	parts := make([]string, 0, s.Len())
	for _, id := range s.IDs() {
		parts = append(parts, id.Collection+" AS "+id.Field)
	}
	return strings.Join(parts, ", ")
}

// WhereClause renders "oid(field) = oid" for each entry.
func (s *Set) WhereClause() string {
	parts := make([]string, 0, s.Len())
	for _, id := range s.IDs() {
		parts = append(parts, "oid("+id.Field+") = "+strconv.FormatInt(id.OID, 10))
	}
	return strings.Join(parts, " AND ")
}

// FileIdentifier names an externalized result produced from these arrays.
func (s *Set) FileIdentifier() string {
	var sb strings.Builder
	for _, id := range s.IDs() {
		sb.WriteString(id.Collection)
		sb.WriteByte('_')
		sb.WriteString(strconv.FormatInt(id.OID, 10))
	}
	return sb.String()
}

// Key hashes the ordered set content.
func (s *Set) Key() uint64 {
	h := murmur3.New64()
	for _, id := range s.IDs() {
		h.Write([]byte(id.Collection))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(id.OID, 10)))
		h.Write([]byte{0})
		h.Write([]byte(id.Field))
		h.Write([]byte{1})
	}
	return h.Sum64()
}
