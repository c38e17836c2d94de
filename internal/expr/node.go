// Package expr implements the expression algebra over MDARRAY values:
// type resolution, rendering into rasql fragments, and root dispatch of
// the combined query to the array engine.
//
// A Tree is an arena of nodes addressed by NodeID. The host builds a tree
// per expression, resolves it once during planning, and renders it once
// per row. Rendering with isRoot set is the only path that dispatches.
package expr

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/pkg/types"
)

// NodeID addresses a node in its Tree.
type NodeID int

// NoNode marks an absent child.
const NoNode NodeID = -1

// Kind is the node variant.
type Kind int

const (
	KindColumn Kind = iota
	KindLiteral
	KindAccessor
	KindArithmetic
	KindLogical
	KindCast
	KindConstructorLiteral
	KindComprehension
	KindCondense
	KindIndexRange
	KindIndexSlice
	KindUnbounded
	KindDimension
	KindElementList
	KindValueVariable
	KindFunction
	KindProbe
)

var kindNames = [...]string{
	"column", "literal", "accessor", "arithmetic", "logical", "cast",
	"constructor literal", "comprehension", "condense", "index range",
	"index slice", "unbounded", "dimension", "element list",
	"value variable", "function", "probe",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Op is an arithmetic, logical or condense operator.
type Op int

const (
	OpNone Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNot
	OpMax
	OpMin
)

var opTokens = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpNeg: "-",
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "and", OpOr: "or", OpNot: "not",
	OpMax: "max", OpMin: "min",
}

// String returns the rasql token.
func (o Op) String() string {
	if tok, ok := opTokens[o]; ok {
		return tok
	}
	return "?"
}

// IsComparison reports whether the operator compares two values.
func (o Op) IsComparison() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsLogical reports whether the operator yields a boolean.
func (o Op) IsLogical() bool {
	return o.IsComparison() || o == OpAnd || o == OpOr || o == OpNot
}

// precedence orders binary operators for parenthesization.
func (o Op) precedence() int {
	switch o {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return 3
	case OpAdd, OpSub:
		return 4
	case OpMul, OpDiv:
		return 5
	}
	return 6
}

// Node is one expression node. Exported fields are set by the builder;
// the rest are filled by type resolution.
type Node struct {
	Kind     Kind
	Op       Op
	Children []NodeID
	// Name is the column, function, probe, dimension or variable name
	Name string
	// Value is the literal value, normalized to int64, float64, bool,
	// string or []byte
	Value   any
	LitType types.ScalarType
	// CastType is the target of a cast
	CastType types.ScalarType
	// Format is the encode format
	Format string

	resolved bool
	typ      Type
	remote   bool

	// dom is the comprehension/condense domain, or the parent domain of a
	// subset accessor
	dom   domain.Domain
	named bool

	// iter is the iterator token of a comprehension/condense node, or the
	// iterator a value variable refers to
	iter   string
	index  int
	binder NodeID

	axis      int
	static    any
	hasStatic bool
}

// Type returns the resolved type.
func (n *Node) Type() Type {
	return n.typ
}

// Remote reports whether rendering the node involves the array engine.
func (n *Node) Remote() bool {
	return n.remote
}

// Iterator returns the iterator token assigned to the node.
func (n *Node) Iterator() string {
	return n.iter
}

type cacheKey struct {
	node NodeID
	hash uint64
}

// Tree is an arena of expression nodes.
type Tree struct {
	nodes []Node

	mu    sync.Mutex
	cache map[cacheKey]any
	group singleflight.Group
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{cache: make(map[cacheKey]any)}
}

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) add(n Node) NodeID {
	n.binder = NoNode
	n.axis = -1
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Column references a host column, or an enclosing iterator's dimension
// when used inside a comprehension.
func (t *Tree) Column(name string) NodeID {
	return t.add(Node{Kind: KindColumn, Name: name})
}

// Literal adds a scalar constant. Go ints become INTEGER, int64 BIGINT,
// float64 DOUBLE, float32 REAL, bool BOOLEAN, string VARCHAR and []byte
// BINARY.
func (t *Tree) Literal(v any) NodeID {
	val, st := normalizeLiteral(v)
	return t.add(Node{Kind: KindLiteral, Value: val, LitType: st})
}

// TypedLiteral adds a constant with an explicit type.
func (t *Tree) TypedLiteral(v any, st types.ScalarType) NodeID {
	val, _ := normalizeLiteral(v)
	return t.add(Node{Kind: KindLiteral, Value: val, LitType: st})
}

// Binary adds an arithmetic or logical binary operation.
func (t *Tree) Binary(op Op, left, right NodeID) NodeID {
	kind := KindArithmetic
	if op.IsLogical() {
		kind = KindLogical
	}
	return t.add(Node{Kind: kind, Op: op, Children: []NodeID{left, right}})
}

// Negate adds unary minus.
func (t *Tree) Negate(v NodeID) NodeID {
	return t.add(Node{Kind: KindArithmetic, Op: OpNeg, Children: []NodeID{v}})
}

// Not adds boolean negation.
func (t *Tree) Not(v NodeID) NodeID {
	return t.add(Node{Kind: KindLogical, Op: OpNot, Children: []NodeID{v}})
}

// Cast converts v to st.
func (t *Tree) Cast(st types.ScalarType, v NodeID) NodeID {
	return t.add(Node{Kind: KindCast, CastType: st, Children: []NodeID{v}})
}

// Range adds "lo:hi". Either bound may be Star.
func (t *Tree) Range(lo, hi NodeID) NodeID {
	return t.add(Node{Kind: KindIndexRange, Children: []NodeID{lo, hi}})
}

// Slice adds a single index.
func (t *Tree) Slice(at NodeID) NodeID {
	return t.add(Node{Kind: KindIndexSlice, Children: []NodeID{at}})
}

// Star adds the unbounded marker "*".
func (t *Tree) Star() NodeID {
	return t.add(Node{Kind: KindUnbounded})
}

// Dim adds a named dimension over a Range or Slice.
func (t *Tree) Dim(name string, index NodeID) NodeID {
	return t.add(Node{Kind: KindDimension, Name: name, Children: []NodeID{index}})
}

// DimRange is shorthand for Dim(name, Range(Literal(lo), Literal(hi))).
func (t *Tree) DimRange(name string, lo, hi int64) NodeID {
	return t.Dim(name, t.Range(t.Literal(lo), t.Literal(hi)))
}

// List groups subset elements, domain dimensions or literal values.
func (t *Tree) List(items ...NodeID) NodeID {
	return t.add(Node{Kind: KindElementList, Children: items})
}

// Access adds an accessor over base, optionally subset by the elements.
func (t *Tree) Access(base NodeID, subset ...NodeID) NodeID {
	children := []NodeID{base}
	if len(subset) > 0 {
		children = append(children, t.List(subset...))
	}
	return t.add(Node{Kind: KindAccessor, Children: children})
}

// ArrayLiteral adds "< domain values >".
func (t *Tree) ArrayLiteral(dims NodeID, values NodeID) NodeID {
	return t.add(Node{Kind: KindConstructorLiteral, Children: []NodeID{dims, values}})
}

// Marray adds an array constructor by comprehension.
func (t *Tree) Marray(dims NodeID, value NodeID) NodeID {
	return t.add(Node{Kind: KindComprehension, Children: []NodeID{dims, value}})
}

// Condense adds a reduction of value over dims using op.
func (t *Tree) Condense(op Op, dims NodeID, value NodeID) NodeID {
	return t.add(Node{Kind: KindCondense, Op: op, Children: []NodeID{dims, value}})
}

// Var references the named dimension of the nearest enclosing
// comprehension.
func (t *Tree) Var(name string) NodeID {
	return t.add(Node{Kind: KindValueVariable, Name: name})
}

// Func adds a library function call.
func (t *Tree) Func(name string, args ...NodeID) NodeID {
	return t.add(Node{Kind: KindFunction, Name: name, Children: args})
}

// Encode adds encode(arg, "format").
func (t *Tree) Encode(arg NodeID, format string) NodeID {
	return t.add(Node{Kind: KindFunction, Name: FuncEncode, Format: format, Children: []NodeID{arg}})
}

// Probe adds lo, hi, name or dimension over an array operand. index is
// NoNode for dimension.
func (t *Tree) Probe(name string, operand NodeID, index NodeID) NodeID {
	children := []NodeID{operand}
	if index != NoNode {
		children = append(children, index)
	}
	return t.add(Node{Kind: KindProbe, Name: name, Children: children})
}

func normalizeLiteral(v any) (any, types.ScalarType) {
	switch x := v.(type) {
	case int:
		return int64(x), types.Integer
	case int8:
		return int64(x), types.TinyInt
	case int16:
		return int64(x), types.SmallInt
	case int32:
		return int64(x), types.Integer
	case int64:
		return x, types.BigInt
	case float32:
		return float64(x), types.Real
	case float64:
		return x, types.Double
	case bool:
		return x, types.Boolean
	case string:
		return x, types.Varchar
	case []byte:
		return x, types.Binary
	default:
		return v, types.Unknown
	}
}
