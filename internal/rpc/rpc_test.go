package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/misev/asqldb/internal/arraymem"
	aerrors "github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

type fixture struct {
	engine    *arraymem.Engine
	server    *Server
	transport *Transport
}

func startEngine(t *testing.T, opts arraymem.Options) *fixture {
	t.Helper()
	e := arraymem.New(opts)
	srv := NewServer(e)
	gs := NewGRPCServer(srv)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()

	tr := NewTransport(
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	t.Cleanup(func() {
		_ = tr.Close()
		gs.Stop()
		srv.CloseAll()
	})
	return &fixture{engine: e, server: srv, transport: tr}
}

func (f *fixture) session() *session.Session {
	opts := session.DefaultOptions()
	s := session.New(f.transport, opts)
	s.SetSleep(func(context.Context, time.Duration) error { return nil })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	f := startEngine(t, arraymem.Options{})
	s := f.session()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Execute(ctx, "create collection c GreySet1", session.ExecOptions{WriteAccess: true})
	require.NoError(t, err)
	bag, err := s.Execute(ctx, "insert into c values <[0:2] 1c, 2c, 3c>", session.ExecOptions{WriteAccess: true})
	require.NoError(t, err)
	require.Len(t, bag, 1)
	oid, ok := bag[0].(int64)
	require.True(t, ok, "got %T", bag[0])
	assert.Equal(t, int64(arraymem.FirstOID), oid)

	bag, err = s.Execute(ctx, "select c from c", session.ExecOptions{})
	require.NoError(t, err)
	require.Len(t, bag, 1)
	arr, ok := bag[0].(*types.MArray)
	require.True(t, ok, "got %T", bag[0])
	assert.Equal(t, types.TinyInt, arr.CellType)
	assert.Equal(t, []float64{1, 2, 3}, arr.Cells)

	bag, err = s.Execute(ctx, "select add_cells(c) from c", session.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.Bag{int64(6)}, bag)

	names, err := s.Execute(ctx, session.CollectionNamesQuery, session.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.Bag{"c"}, names)
	assert.Equal(t, 1, f.server.OpenHandles())
}

func TestBusyServerIsRetried(t *testing.T) {
	f := startEngine(t, arraymem.Options{BusyOpens: 2})
	s := f.session()
	defer s.Close()

	bag, err := s.Execute(context.Background(), "SELECT 1", session.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.Bag{int64(1)}, bag)
}

func TestBusyServerGivesUp(t *testing.T) {
	f := startEngine(t, arraymem.Options{BusyOpens: session.DefaultMaxAttempts})
	s := f.session()
	defer s.Close()

	_, err := s.Execute(context.Background(), "SELECT 1", session.ExecOptions{})
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeUnavailable, aerrors.GetCode(err))
	attempts, ok := aerrors.GetDetail(err, "attempts")
	require.True(t, ok)
	assert.Equal(t, session.DefaultMaxAttempts, attempts)
}

func TestOverloadCodeSurvivesTransport(t *testing.T) {
	f := startEngine(t, arraymem.Options{MaxCells: 10})
	s := f.session()
	defer s.Close()

	_, err := s.Execute(context.Background(), "SELECT marray x in [0:99] values 1",
		session.ExecOptions{IgnoreFailure: true})
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeOverload, aerrors.GetCode(err))
}

func TestIgnoredFailureYieldsEmptyBag(t *testing.T) {
	f := startEngine(t, arraymem.Options{})
	s := f.session()
	defer s.Close()

	bag, err := s.Execute(context.Background(), "select c from missing as c",
		session.ExecOptions{IgnoreFailure: true})
	require.NoError(t, err)
	assert.Empty(t, bag)

	_, err = s.Execute(context.Background(), "select c from missing as c", session.ExecOptions{})
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeFailed, aerrors.GetCode(err))
}

func TestRemoteAbortReverts(t *testing.T) {
	f := startEngine(t, arraymem.Options{})
	ctx := context.Background()

	db, err := f.transport.Open(ctx, session.Endpoint{Server: "localhost", Port: 7001, Database: "RASBASE"},
		session.Credentials{Username: "rasadmin", Password: "rasadmin"}, true)
	require.NoError(t, err)

	tx, err := db.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Begin())
	q, err := db.NewQuery()
	require.NoError(t, err)
	require.NoError(t, q.Create("create collection fresh GreySet"))
	_, err = q.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, f.engine.Collections())

	require.NoError(t, tx.Abort())
	assert.Empty(t, f.engine.Collections())

	require.NoError(t, db.Close())
	assert.Equal(t, 0, f.server.OpenHandles())
}

func TestParseErrorMapsToInvalidArgument(t *testing.T) {
	err := toStatus(aerrors.NewQueryError(aerrors.CodeParseError, "select (", nil))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	back := fromStatus(err, "select (")
	assert.Equal(t, aerrors.CodeParseError, aerrors.GetCode(back))
	assert.Equal(t, aerrors.ErrCategoryQuery, aerrors.GetCategory(back))
}

func TestBareStatusMapping(t *testing.T) {
	tests := []struct {
		code      codes.Code
		want      string
		retryable bool
	}{
		{codes.Unavailable, aerrors.CodeConnectionRefused, true},
		{codes.DeadlineExceeded, aerrors.CodeConnectionRefused, true},
		{codes.ResourceExhausted, aerrors.CodeOverload, false},
		{codes.Internal, aerrors.CodeFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := fromStatus(status.Error(tt.code, "boom"), "q")
			assert.Equal(t, tt.want, aerrors.GetCode(err))
			assert.Equal(t, tt.retryable, aerrors.IsRetryable(err))
		})
	}
	assert.NoError(t, fromStatus(nil, "q"))
}

func TestUnknownHandle(t *testing.T) {
	srv := NewServer(arraymem.New(arraymem.Options{}))
	_, err := srv.Execute(context.Background(), handleReply("nope"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestBagCodec(t *testing.T) {
	arr := types.NewMArray(types.Double, types.Sdom{{Lo: 0, Hi: 1}, {Lo: 2, Hi: 2}})
	arr.Cells = []float64{0.5, -1}
	in := session.Bag{
		int64(1) << 60,
		2.5,
		true,
		"[0:1]",
		[]byte{0, 1, 2},
		types.ArrayRef{Collection: "PUBLIC_T_A", OID: 1025},
		arr,
	}
	list, err := EncodeBag(in)
	require.NoError(t, err)
	out, err := DecodeBag(list)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = EncodeBag(session.Bag{struct{}{}})
	assert.Error(t, err)
}
