package arrayid

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/misev/asqldb/internal/errors"
)

func TestParse(t *testing.T) {
	id, err := Parse("PUBLIC_T_A:42", "a")
	require.NoError(t, err)
	assert.Equal(t, ID{Collection: "PUBLIC_T_A", OID: 42, Field: "a"}, id)

	for _, bad := range []string{"", "coll", ":1", "coll:", "c:x"} {
		_, err := Parse(bad, "a")
		assert.Truef(t, errors.Is(err, aerrors.NewQueryError(aerrors.CodeInvalidArrayID, "", nil)),
			"Parse(%q) = %v", bad, err)
	}
}

func TestSetClauses(t *testing.T) {
	s := NewSet(
		ID{Collection: "rastest", OID: 1025, Field: "a"},
		ID{Collection: "rastest2", OID: 2049, Field: "b"},
	)
	assert.Equal(t, "rastest AS a, rastest2 AS b", s.FromClause())
	assert.Equal(t, "oid(a) = 1025 AND oid(b) = 2049", s.WhereClause())
	assert.Equal(t, "rastest_1025rastest2_2049", s.FileIdentifier())
}

func TestSetSameObjectDifferentAliases(t *testing.T) {
	a := ID{Collection: "arr", OID: 7, Field: "a"}
	b := ID{Collection: "arr", OID: 7, Field: "b"}
	require.True(t, a.SameObject(b))

	s := Merge(NewSet(a), NewSet(b))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "oid(a) = 7 AND oid(b) = 7", s.WhereClause())
}

func TestSetDeduplicatesIdenticalEntries(t *testing.T) {
	a := ID{Collection: "arr", OID: 7, Field: "a"}
	s := Merge(NewSet(a), NewSet(a))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "oid(a) = 7", s.WhereClause())
}

func TestEmptySet(t *testing.T) {
	var s *Set
	assert.True(t, s.Empty())
	assert.Equal(t, "", s.FromClause())
	assert.Equal(t, "", s.WhereClause())
	assert.Equal(t, NewSet().Key(), s.Key())
}

func TestKeyDependsOnContent(t *testing.T) {
	a := ID{Collection: "arr", OID: 1, Field: "a"}
	b := ID{Collection: "arr", OID: 2, Field: "a"}
	assert.Equal(t, NewSet(a).Key(), NewSet(a).Key())
	assert.NotEqual(t, NewSet(a).Key(), NewSet(b).Key())
	assert.NotEqual(t, NewSet(a, b).Key(), NewSet(b, a).Key())
}

// TestProperty_MergeIsOrderedUnion checks that merging keeps the first
// occurrence order and never drops or duplicates entries.
func TestProperty_MergeIsOrderedUnion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	toSet := func(oids []int64) *Set {
		s := NewSet()
		for _, o := range oids {
			s.Add(ID{Collection: "c", OID: o, Field: "f"})
		}
		return s
	}

	properties.Property("merge is an insertion-ordered union", prop.ForAll(
		func(left, right []int64) bool {
			merged := Merge(toSet(left), toSet(right))
			expected := []int64{}
			seen := map[int64]bool{}
			for _, o := range append(append([]int64{}, left...), right...) {
				if !seen[o] {
					seen[o] = true
					expected = append(expected, o)
				}
			}
			ids := merged.IDs()
			if len(ids) != len(expected) {
				return false
			}
			for i, id := range ids {
				if id.OID != expected[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 20)),
		gen.SliceOf(gen.Int64Range(0, 20)),
	))

	properties.TestingRun(t)
}
