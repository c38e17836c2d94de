// Package app manages the lifecycle of the reference array engine service:
// state restore, the gRPC listener, periodic snapshots and graceful
// shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/misev/asqldb/internal/arraymem"
	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/rpc"
	"github.com/misev/asqldb/internal/server"
)

// App runs the array engine behind the gRPC service.
type App struct {
	cfg *config.Config

	engine     *arraymem.Engine
	rpcServer  *rpc.Server
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	shutdown   *server.ShutdownManager

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start restores the engine state and starts serving.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.engine = arraymem.New(arraymem.Options{
		BusyOpens:  a.cfg.GRPC.BusyOpens,
		MaxCells:   a.cfg.GRPC.MaxCells,
		LogQueries: a.cfg.Remote.LogQueries,
	})
	if err := a.restore(); err != nil {
		a.fail()
		return err
	}

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.rpcServer = rpc.NewServer(a.engine)
	a.grpcServer = rpc.NewGRPCServer(a.rpcServer,
		grpc.ChainUnaryInterceptor(server.ShutdownInterceptor(a.shutdown)))
	a.health = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.health)
	a.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var err error
	a.listener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		a.fail()
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	// closers run last-registered first: stop serving, release client
	// handles, then persist
	a.shutdown.Register("snapshot", a.saveSnapshot)
	a.shutdown.Register("client handles", func() error {
		a.rpcServer.CloseAll()
		return nil
	})
	a.shutdown.Register("grpc server", func() error {
		a.grpcServer.GracefulStop()
		return nil
	})
	a.shutdown.OnShutdownStart(a.health.Shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("app: engine listening on %s", a.listener.Addr())
		if err := a.grpcServer.Serve(a.listener); err != nil {
			log.Printf("app: grpc server error: %v", err)
		}
	}()

	if interval := a.cfg.GRPC.SnapshotInterval; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.snapshotLoop(ctx, interval)
		}()
	}

	return nil
}

func (a *App) fail() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.cancel()
}

func (a *App) snapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.saveSnapshot(); err != nil {
				log.Printf("app: periodic snapshot: %v", err)
			}
		}
	}
}

// restore loads the snapshot file when one exists.
func (a *App) restore() error {
	path := a.cfg.GRPC.Snapshot
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	if err := a.engine.Restore(f); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	return nil
}

// saveSnapshot writes the engine state next to the snapshot file and
// renames it into place.
func (a *App) saveSnapshot() error {
	path := a.cfg.GRPC.Snapshot
	if path == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snap-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := a.engine.Snapshot(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Addr returns the address the service listens on, or nil before Start.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Engine returns the served engine.
func (a *App) Engine() *arraymem.Engine {
	return a.engine
}

// Stop shuts the service down and saves the engine state.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("app: initiating graceful shutdown")
	a.cancel()
	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("app: shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("app: stopped")
	return err
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends,
// then shuts the service down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	if serr := a.Stop(context.Background()); serr != nil {
		return serr
	}
	return err
}
