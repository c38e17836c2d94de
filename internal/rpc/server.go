// Package rpc carries the array engine protocol over gRPC. Server exposes
// any session.Transport; Transport is the matching client, so a session
// can reach an engine running in another process.
package rpc

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/misev/asqldb/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "asqldb.ArrayEngine"

// EngineServer is the server API of the array engine service. Every
// message is a google.protobuf.Struct.
type EngineServer interface {
	Open(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Begin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Commit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Abort(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Close(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(EngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the array engine service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Open", Handler: unaryHandler(EngineServer.Open, "Open")},
		{MethodName: "Begin", Handler: unaryHandler(EngineServer.Begin, "Begin")},
		{MethodName: "Commit", Handler: unaryHandler(EngineServer.Commit, "Commit")},
		{MethodName: "Abort", Handler: unaryHandler(EngineServer.Abort, "Abort")},
		{MethodName: "Execute", Handler: unaryHandler(EngineServer.Execute, "Execute")},
		{MethodName: "Close", Handler: unaryHandler(EngineServer.Close, "Close")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "asqldb/engine",
}

// handle is one database opened on behalf of a client.
type handle struct {
	db session.Database
	tx session.Transaction
}

// Server serves a session.Transport over gRPC.
type Server struct {
	transport session.Transport

	mu      sync.Mutex
	handles map[string]*handle
}

// NewServer creates a server for the transport.
func NewServer(transport session.Transport) *Server {
	return &Server{
		transport: transport,
		handles:   make(map[string]*handle),
	}
}

// Register registers the service on a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// OpenHandles returns the number of databases held for clients.
func (s *Server) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// CloseAll closes every database held for clients.
func (s *Server) CloseAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle)
	s.mu.Unlock()
	for id, h := range handles {
		if err := h.db.Close(); err != nil {
			log.Printf("rpc: close handle %s: %v", id, err)
		}
	}
}

func (s *Server) lookup(in *structpb.Struct) (string, *handle, error) {
	id := in.GetFields()["handle"].GetStringValue()
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return "", nil, status.Errorf(codes.NotFound, "unknown handle %q", id)
	}
	return id, h, nil
}

func (s *Server) Open(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	ep := session.Endpoint{
		Server:   f["server"].GetStringValue(),
		Port:     int(f["port"].GetNumberValue()),
		Database: f["database"].GetStringValue(),
	}
	cred := session.Credentials{
		Username: f["username"].GetStringValue(),
		Password: f["password"].GetStringValue(),
	}
	db, err := s.transport.Open(ctx, ep, cred, f["write"].GetBoolValue())
	if err != nil {
		return nil, toStatus(err)
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.handles[id] = &handle{db: db}
	s.mu.Unlock()
	return handleReply(id), nil
}

func (s *Server) Begin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, h, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	tx, err := h.db.NewTransaction()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := tx.Begin(); err != nil {
		return nil, toStatus(err)
	}
	s.mu.Lock()
	h.tx = tx
	s.mu.Unlock()
	return handleReply(id), nil
}

func (s *Server) Commit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.finish(in, session.Transaction.Commit)
}

func (s *Server) Abort(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.finish(in, session.Transaction.Abort)
}

func (s *Server) finish(in *structpb.Struct, end func(session.Transaction) error) (*structpb.Struct, error) {
	id, h, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	tx := h.tx
	h.tx = nil
	s.mu.Unlock()
	if tx == nil {
		return nil, status.Error(codes.FailedPrecondition, "no active transaction")
	}
	if err := end(tx); err != nil {
		return nil, toStatus(err)
	}
	return handleReply(id), nil
}

func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, h, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	f := in.GetFields()
	q, err := h.db.NewQuery()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := q.Create(f["query"].GetStringValue()); err != nil {
		return nil, toStatus(err)
	}
	if b, ok := f["bind"]; ok {
		data, err := base64.StdEncoding.DecodeString(b.GetStringValue())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid bind data: %v", err)
		}
		if err := q.Bind(data); err != nil {
			return nil, toStatus(err)
		}
	}
	bag, err := q.Execute(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	list, err := EncodeBag(bag)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bag": structpb.NewListValue(list),
	}}, nil
}

func (s *Server) Close(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, h, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
	if err := h.db.Close(); err != nil {
		return nil, toStatus(err)
	}
	return handleReply(id), nil
}

func handleReply(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle": structpb.NewStringValue(id),
	}}
}

// LoggingInterceptor logs every call with its duration and status code.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.Printf("rpc: %s %s %v", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}

// NewGRPCServer creates a grpc.Server serving s with request logging.
// Interceptors passed in opts run after the logger.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor)}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}
