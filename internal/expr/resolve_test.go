package expr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

func TestResolveSubsetUnknownDimension(t *testing.T) {
	tr := NewTree()
	a := tr.Column("a")
	root := tr.Access(a, tr.Dim("x", tr.Literal(100)), tr.Dim("z", tr.Literal(100)))

	env := &Env{Schema: MapSchema{"a": doubleArray("x", "y")}}
	_, err := tr.ResolveType(env, root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aerrors.ErrUnknownDimension))
	d, ok := aerrors.GetDetail(err, "dimension")
	require.True(t, ok)
	assert.Equal(t, "z", d)
}

func TestResolveSubsetMixedAddressing(t *testing.T) {
	tr := NewTree()
	a := tr.Column("a")
	root := tr.Access(a, tr.Literal(80), tr.Dim("x", tr.Range(tr.Star(), tr.Star())))

	env := &Env{Schema: MapSchema{"a": doubleArray("x", "y")}}
	_, err := tr.ResolveType(env, root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aerrors.ErrMixedAddressing))
	raw, _ := aerrors.GetDetail(err, "subset")
	assert.Equal(t, "80, x(*:*)", raw)
}

func TestResolveSubsetTypes(t *testing.T) {
	schema := MapSchema{"a": doubleArray("x", "y"), "k": ScalarOf(types.Integer)}

	tests := []struct {
		name   string
		build  func(tr *Tree) NodeID
		want   string
		remote bool
	}{
		{
			name: "positional slice and range",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("a"), tr.Literal(1), tr.Range(tr.Literal(2), tr.Literal(4)))
			},
			want:   "MDARRAY DOUBLE [y(2:4)]",
			remote: true,
		},
		{
			name: "point access",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("a"), tr.Literal(1), tr.Column("k"))
			},
			want:   "DOUBLE",
			remote: true,
		},
		{
			name: "named subset keeps parent order",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("a"), tr.Dim("y", tr.Range(tr.Literal(0), tr.Literal(1))))
			},
			want:   "MDARRAY DOUBLE [x(*:*), y(0:1)]",
			remote: true,
		},
		{
			name: "host arithmetic",
			build: func(tr *Tree) NodeID {
				return tr.Binary(OpAdd, tr.Column("k"), tr.Literal(1.5))
			},
			want: "DOUBLE",
		},
		{
			name: "comparison over array",
			build: func(tr *Tree) NodeID {
				return tr.Binary(OpGt, tr.Column("a"), tr.Literal(0))
			},
			want:   "MDARRAY BOOLEAN [x(0:9), y(0:9)]",
			remote: true,
		},
		{
			name: "cast of array cells",
			build: func(tr *Tree) NodeID {
				return tr.Cast(types.Real, tr.Column("a"))
			},
			want:   "MDARRAY REAL [x(0:9), y(0:9)]",
			remote: true,
		},
		{
			name: "reducer",
			build: func(tr *Tree) NodeID {
				return tr.Func("avg_cells", tr.Column("a"))
			},
			want:   "DOUBLE",
			remote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTree()
			root := tt.build(tr)
			typ, err := tr.ResolveType(&Env{Schema: schema}, root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, typ.String())
			assert.Equal(t, tt.remote, tr.Node(root).Remote())
		})
	}
}

func TestResolveErrors(t *testing.T) {
	schema := MapSchema{"a": doubleArray("x", "y"), "k": ScalarOf(types.Integer)}

	tests := []struct {
		name  string
		build func(tr *Tree) NodeID
		code  string
	}{
		{
			name:  "unknown column",
			build: func(tr *Tree) NodeID { return tr.Column("nope") },
			code:  aerrors.CodeUnknownColumn,
		},
		{
			name: "boolean subset index",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("a"), tr.Literal(true), tr.Literal(1))
			},
			code: aerrors.CodeInvalidSubsetIndexType,
		},
		{
			name: "positional arity",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("a"), tr.Literal(1))
			},
			code: aerrors.CodeDimensionalityMismatch,
		},
		{
			name: "subset of a scalar",
			build: func(tr *Tree) NodeID {
				return tr.Access(tr.Column("k"), tr.Literal(1))
			},
			code: aerrors.CodeUnsupportedOperation,
		},
		{
			name: "variable outside comprehension",
			build: func(tr *Tree) NodeID {
				return tr.Var("i")
			},
			code: aerrors.CodeUnknownDimension,
		},
		{
			name: "array literal cardinality",
			build: func(tr *Tree) NodeID {
				return tr.ArrayLiteral(
					tr.List(tr.Range(tr.Literal(0), tr.Literal(1))),
					tr.List(tr.Literal(1), tr.Literal(2), tr.Literal(3)))
			},
			code: aerrors.CodeDimensionalityMismatch,
		},
		{
			name: "unknown function",
			build: func(tr *Tree) NodeID {
				return tr.Func("frobnicate", tr.Column("a"))
			},
			code: aerrors.CodeUnsupportedOperation,
		},
		{
			name: "reducer over scalar",
			build: func(tr *Tree) NodeID {
				return tr.Func("add_cells", tr.Column("k"))
			},
			code: aerrors.CodeUnsupportedOperation,
		},
		{
			name: "probe axis out of range",
			build: func(tr *Tree) NodeID {
				return tr.Probe(ProbeLo, tr.Column("a"), tr.Literal(5))
			},
			code: aerrors.CodeDimensionalityMismatch,
		},
		{
			name: "probe unknown dimension name",
			build: func(tr *Tree) NodeID {
				return tr.Probe(ProbeHi, tr.Column("a"), tr.Literal("t"))
			},
			code: aerrors.CodeUnknownDimension,
		},
		{
			name: "array valued comprehension",
			build: func(tr *Tree) NodeID {
				return tr.Marray(tr.List(tr.DimRange("i", 0, 1)), tr.Column("a"))
			},
			code: aerrors.CodeUnsupportedOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTree()
			_, err := tr.ResolveType(&Env{Schema: schema}, tt.build(tr))
			require.Error(t, err)
			assert.Equal(t, aerrors.ErrCategoryType, aerrors.GetCategory(err))
			assert.Equal(t, tt.code, aerrors.GetCode(err))
		})
	}
}

func TestResolveStaticProbes(t *testing.T) {
	schema := MapSchema{"a": doubleArray("x", "y"), "k": ScalarOf(types.Integer)}

	tests := []struct {
		name   string
		probe  string
		index  func(tr *Tree) NodeID
		static any
	}{
		{"dimension", ProbeDimension, func(*Tree) NodeID { return NoNode }, int64(2)},
		{"hi by position", ProbeHi, func(tr *Tree) NodeID { return tr.Literal(0) }, int64(9)},
		{"lo by name", ProbeLo, func(tr *Tree) NodeID { return tr.Literal("y") }, int64(0)},
		{"name", ProbeName, func(tr *Tree) NodeID { return tr.Literal(1) }, "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTree()
			root := tr.Probe(tt.probe, tr.Column("a"), tt.index(tr))
			_, err := tr.ResolveType(&Env{Schema: schema}, root)
			require.NoError(t, err)
			assert.False(t, tr.Node(root).Remote())

			v, err := tr.Evaluate(context.Background(), nil, root)
			require.NoError(t, err)
			assert.Equal(t, tt.static, v)
		})
	}

	tr := NewTree()
	root := tr.Probe(ProbeLo, tr.Column("a"), tr.Column("k"))
	_, err := tr.ResolveType(&Env{Schema: schema}, root)
	require.NoError(t, err)
	assert.True(t, tr.Node(root).Remote(), "a row-dependent axis needs the engine")
}

func TestResolveDimensionNamesBecomeVariables(t *testing.T) {
	tr := NewTree()
	x := tr.Column("x")
	y := tr.Column("y")
	root := tr.Marray(tr.List(tr.DimRange("x", 0, 10), tr.DimRange("y", 0, 10)), tr.Binary(OpAdd, x, y))

	typ, err := tr.ResolveType(&Env{}, root)
	require.NoError(t, err)
	assert.Equal(t, "MDARRAY BIGINT [x(0:10), y(0:10)]", typ.String())
	assert.Equal(t, KindValueVariable, tr.Node(x).Kind)
	assert.Equal(t, KindValueVariable, tr.Node(y).Kind)
	assert.Equal(t, DefaultIterator, tr.Node(root).Iterator())
}

func TestResolveCondenseTypes(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{OpAdd, "BIGINT"},
		{OpMax, "BIGINT"},
		{OpAnd, "BOOLEAN"},
	}
	for _, tt := range tests {
		tr := NewTree()
		value := tr.Column("i")
		if tt.op == OpAnd {
			value = tr.Binary(OpGt, value, tr.Literal(0))
		}
		root := tr.Condense(tt.op, tr.List(tr.DimRange("i", 0, 9)), value)
		typ, err := tr.ResolveType(&Env{}, root)
		require.NoError(t, err)
		assert.Equal(t, tt.want, typ.String(), "condense %s", tt.op)
	}

	tr := NewTree()
	root := tr.Condense(OpSub, tr.List(tr.DimRange("i", 0, 9)), tr.Column("i"))
	_, err := tr.ResolveType(&Env{}, root)
	assert.Equal(t, aerrors.CodeUnsupportedOperation, aerrors.GetCode(err))
}
