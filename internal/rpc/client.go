package rpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/session"
)

// DefaultCallTimeout bounds calls that take no caller context.
const DefaultCallTimeout = 30 * time.Second

// Transport is a session.Transport reaching the engine service over gRPC.
// Connections are created per endpoint and reused.
type Transport struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewTransport creates a transport. Without options connections are
// plaintext.
func NewTransport(opts ...grpc.DialOption) *Transport {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Transport{
		dialOpts: opts,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Close closes every connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for target, cc := range t.conns {
		if err := cc.Close(); err != nil && first == nil {
			first = err
		}
		delete(t.conns, target)
	}
	return first
}

func (t *Transport) conn(ep session.Endpoint) (*grpc.ClientConn, error) {
	target := net.JoinHostPort(ep.Server, strconv.Itoa(ep.Port))
	t.mu.Lock()
	defer t.mu.Unlock()
	if cc, ok := t.conns[target]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient("passthrough:///"+target, t.dialOpts...)
	if err != nil {
		return nil, errors.NewConnectionError(errors.CodeConnectionRefused, target, err)
	}
	t.conns[target] = cc
	return cc, nil
}

func invoke(ctx context.Context, cc *grpc.ClientConn, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	return out, err
}

// Open implements session.Transport.
func (t *Transport) Open(ctx context.Context, ep session.Endpoint, cred session.Credentials, writeAccess bool) (session.Database, error) {
	cc, err := t.conn(ep)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"server":   structpb.NewStringValue(ep.Server),
		"port":     structpb.NewNumberValue(float64(ep.Port)),
		"database": structpb.NewStringValue(ep.Database),
		"username": structpb.NewStringValue(cred.Username),
		"password": structpb.NewStringValue(cred.Password),
		"write":    structpb.NewBoolValue(writeAccess),
	}}
	out, err := invoke(ctx, cc, "Open", req)
	if err != nil {
		return nil, fromStatus(err, fmt.Sprintf("open %s", ep.Database))
	}
	return &remoteDatabase{cc: cc, handle: out.GetFields()["handle"].GetStringValue()}, nil
}

type remoteDatabase struct {
	cc     *grpc.ClientConn
	handle string
}

func (db *remoteDatabase) request(extra map[string]*structpb.Value) *structpb.Struct {
	fields := map[string]*structpb.Value{"handle": structpb.NewStringValue(db.handle)}
	for k, v := range extra {
		fields[k] = v
	}
	return &structpb.Struct{Fields: fields}
}

// call runs a method that has no caller context.
func (db *remoteDatabase) call(method string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCallTimeout)
	defer cancel()
	_, err := invoke(ctx, db.cc, method, db.request(nil))
	return fromStatus(err, method)
}

func (db *remoteDatabase) NewTransaction() (session.Transaction, error) {
	return &remoteTransaction{db: db}, nil
}

func (db *remoteDatabase) NewQuery() (session.Query, error) {
	return &remoteQuery{db: db}, nil
}

func (db *remoteDatabase) Close() error {
	return db.call("Close")
}

type remoteTransaction struct {
	db *remoteDatabase
}

func (tx *remoteTransaction) Begin() error  { return tx.db.call("Begin") }
func (tx *remoteTransaction) Commit() error { return tx.db.call("Commit") }
func (tx *remoteTransaction) Abort() error  { return tx.db.call("Abort") }

type remoteQuery struct {
	db   *remoteDatabase
	text string
	bind []byte
}

func (q *remoteQuery) Create(text string) error {
	q.text = text
	return nil
}

func (q *remoteQuery) Bind(data []byte) error {
	q.bind = data
	return nil
}

func (q *remoteQuery) Execute(ctx context.Context) (session.Bag, error) {
	extra := map[string]*structpb.Value{"query": structpb.NewStringValue(q.text)}
	if q.bind != nil {
		extra["bind"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(q.bind))
	}
	out, err := invoke(ctx, q.db.cc, "Execute", q.db.request(extra))
	if err != nil {
		return nil, fromStatus(err, q.text)
	}
	return DecodeBag(out.GetFields()["bag"].GetListValue())
}
