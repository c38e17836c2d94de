package federation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misev/asqldb/internal/arraymem"
	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/domain"
	aerrors "github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/expr"
	"github.com/misev/asqldb/internal/host"
	"github.com/misev/asqldb/internal/observability"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

func openStack(t *testing.T) (*Stack, *arraymem.Engine) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()

	e := arraymem.New(arraymem.Options{})
	st, err := Open(context.Background(), cfg, e)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, e
}

func vectorTable() []host.Column {
	dom := domain.MustNew(domain.NewRange("x", domain.At(0), domain.At(1)))
	return []host.Column{
		{Name: "id", Type: expr.ScalarOf(types.Integer)},
		{Name: "a", Type: expr.ArrayOf(types.SmallInt, dom)},
	}
}

func insertVector(t *testing.T, st *Stack, id int64, lo, hi int) types.ArrayRef {
	t.Helper()
	tr := expr.NewTree()
	root := tr.ArrayLiteral(
		tr.List(tr.Range(tr.Literal(0), tr.Literal(1))),
		tr.List(tr.Literal(lo), tr.Literal(hi)))
	ref, err := st.Insert(context.Background(), "t", "a", tr, root, map[string]any{"id": id})
	require.NoError(t, err)
	return ref
}

func TestSelectOverHostRows(t *testing.T) {
	st, _ := openStack(t)
	ctx := context.Background()
	require.NoError(t, st.Host.CreateTable(ctx, "t", vectorTable()))
	assert.True(t, st.Catalog.Contains("PUBLIC_T_A"))

	first := insertVector(t, st, 1, 1, 2)
	second := insertVector(t, st, 2, 10, 20)
	assert.Equal(t, "PUBLIC_T_A", first.Collection)
	assert.NotEqual(t, first.OID, second.OID)

	tr := expr.NewTree()
	sum := tr.Func("add_cells", tr.Column("a"))
	got, err := st.Select(ctx, tr, sum, "t", "")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(30)}, got)

	tr = expr.NewTree()
	plusID := tr.Binary(expr.OpAdd, tr.Column("id"), tr.Literal(100))
	got, err = st.Select(ctx, tr, plusID, "t", "id = ?", int64(2))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(102)}, got)

	assert.Equal(t, int64(2), st.Stats.KindCount(observability.KindSelect))
	assert.Equal(t, int64(2), st.Stats.KindCount(observability.KindInsert))
}

func TestSelectUnknownTable(t *testing.T) {
	st, _ := openStack(t)
	tr := expr.NewTree()
	_, err := st.Select(context.Background(), tr, tr.Literal(1), "missing", "")
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeUnknownColumn, aerrors.GetCode(err))
}

func TestEncodedResultsAreExternalizedAndPurged(t *testing.T) {
	st, e := openStack(t)
	ctx := context.Background()
	require.NoError(t, st.Host.CreateTable(ctx, "t", vectorTable()))
	ref := insertVector(t, st, 1, 4, 5)

	tr := expr.NewTree()
	csv := tr.Encode(tr.Column("a"), "csv")
	got, err := st.Select(ctx, tr, csv, "t", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	data, ok := got[0].([]byte)
	require.True(t, ok, "got %T", got[0])
	assert.NotEmpty(t, data)

	name := ref.Collection + "_" + strconv.FormatInt(ref.OID, 10) + ".csv"
	stored, err := st.Artifacts.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	require.NotEmpty(t, st.Stats.GetTopCollections(1))

	require.NoError(t, st.Host.DropTable(ctx, "t"))
	assert.Empty(t, e.Collections())
	require.Eventually(t, func() bool {
		names, err := st.Artifacts.List(ctx)
		return err == nil && len(names) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(st.Stats.GetTopCollections(1)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInsertIntoScalarColumn(t *testing.T) {
	st, _ := openStack(t)
	ctx := context.Background()
	require.NoError(t, st.Host.CreateTable(ctx, "t", vectorTable()))

	tr := expr.NewTree()
	_, err := st.Insert(ctx, "t", "id", tr, tr.Literal(1), nil)
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeUnknownColumn, aerrors.GetCode(err))
}

func TestFailedRowInsertDiscardsArray(t *testing.T) {
	st, _ := openStack(t)
	ctx := context.Background()
	require.NoError(t, st.Host.CreateTable(ctx, "t", vectorTable()))

	tr := expr.NewTree()
	root := tr.ArrayLiteral(
		tr.List(tr.Range(tr.Literal(0), tr.Literal(1))),
		tr.List(tr.Literal(1), tr.Literal(2)))
	_, err := st.Insert(ctx, "t", "a", tr, root, map[string]any{"missing": 1})
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeUnknownColumn, aerrors.GetCode(err))

	bag, err := st.Session.Execute(ctx, "SELECT oid(c) FROM PUBLIC_T_A AS c", session.ExecOptions{})
	require.NoError(t, err)
	assert.Empty(t, bag)
}

func TestReopenKeepsTables(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()
	e := arraymem.New(arraymem.Options{})
	ctx := context.Background()

	st, err := Open(ctx, cfg, e)
	require.NoError(t, err)
	require.NoError(t, st.Host.CreateTable(ctx, "t", vectorTable()))
	insertVector(t, st, 1, 2, 3)
	require.NoError(t, st.Close())

	st, err = Open(ctx, cfg, e)
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, []string{"public_t_a"}, st.Catalog.Names())

	tr := expr.NewTree()
	got, err := st.Select(ctx, tr, tr.Func("add_cells", tr.Column("a")), "t", "")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5)}, got)
}
