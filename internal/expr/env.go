package expr

import (
	"context"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/catalog"
	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/internal/observability"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// Type is the resolved type of a node: a scalar, or an MDARRAY when Array
// is set.
type Type struct {
	Scalar types.ScalarType
	Array  *domain.ArrayType
}

// ScalarOf returns a scalar type.
func ScalarOf(st types.ScalarType) Type {
	return Type{Scalar: st}
}

// ArrayOf returns an MDARRAY type.
func ArrayOf(cell types.ScalarType, d domain.Domain) Type {
	return Type{Array: &domain.ArrayType{CellType: cell, Domain: d}}
}

// IsArray reports whether the type is an MDARRAY.
func (t Type) IsArray() bool {
	return t.Array != nil
}

// CellType returns the cell type of an array, or the scalar type.
func (t Type) CellType() types.ScalarType {
	if t.Array != nil {
		return t.Array.CellType
	}
	return t.Scalar
}

func (t Type) String() string {
	if t.Array != nil {
		return t.Array.String()
	}
	return t.Scalar.String()
}

// Schema resolves host column types.
type Schema interface {
	ColumnType(name string) (Type, bool)
}

// MapSchema is a Schema backed by a map.
type MapSchema map[string]Type

func (m MapSchema) ColumnType(name string) (Type, bool) {
	t, ok := m[name]
	return t, ok
}

// Row exposes the current host row. MDARRAY columns hold a
// types.ArrayRef or its "coll:oid" text.
type Row interface {
	Value(column string) (any, bool)
}

// MapRow is a Row backed by a map.
type MapRow map[string]any

func (m MapRow) Value(column string) (any, bool) {
	v, ok := m[column]
	return v, ok
}

// ScalarEvaluator is the host engine's scalar evaluation, used for every
// subtree that does not touch an array.
type ScalarEvaluator interface {
	Binary(op Op, left, right any) (any, error)
	Unary(op Op, v any) (any, error)
	Cast(v any, to types.ScalarType) (any, error)
}

// Remote dispatches queries to the array engine. *session.Session
// implements it.
type Remote interface {
	Select(ctx context.Context, fragment string, ids *arrayid.Set) (any, error)
	Execute(ctx context.Context, query string, opts session.ExecOptions) (session.Bag, error)
}

// Collections is the collection name cache. *catalog.Catalog implements
// it.
type Collections interface {
	Contains(name string) bool
	Observe(ddl string)
}

// ArtifactStore externalizes encoded results.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) error
}

// InsertTarget is the MDARRAY column an INSERT is populating.
type InsertTarget struct {
	Table  string
	Column string
	Type   domain.ArrayType
}

// Collection names the collection backing the column.
func (it InsertTarget) Collection() string {
	return catalog.CollectionName(it.Table, it.Column)
}

// Env carries what resolution and rendering need from the host. Only
// Schema is used by ResolveType.
type Env struct {
	Schema    Schema
	Row       Row
	Scalar    ScalarEvaluator
	Remote    Remote
	Catalog   Collections
	Artifacts ArtifactStore
	Stats     *observability.DispatchStats
	Insert    *InsertTarget
}

// WithRow returns a copy of the environment for another row.
func (e *Env) WithRow(row Row) *Env {
	cp := *e
	cp.Row = row
	return &cp
}

// WithInsert returns a copy of the environment populating target.
func (e *Env) WithInsert(target *InsertTarget) *Env {
	cp := *e
	cp.Insert = target
	return &cp
}
