// Package server coordinates graceful shutdown of the engine service:
// signal handling, draining in-flight gRPC calls and ordered release of
// resources.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout is the time to wait for in-flight calls to complete.
	// Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

type step struct {
	name  string
	close func() error
}

// ShutdownManager runs registered shutdown steps once, after in-flight
// calls have drained.
type ShutdownManager struct {
	cfg ShutdownConfig

	mu       sync.Mutex
	draining bool
	inFlight int64
	idle     chan struct{} // closed when draining and inFlight reaches 0
	steps    []step
	onStart  []func()

	done chan struct{}
	once sync.Once
}

// NewShutdownManager creates a shutdown manager. Zero timeouts take the
// defaults.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &ShutdownManager{
		cfg:  cfg,
		idle: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a named step. Steps run in reverse order of
// registration.
func (sm *ShutdownManager) Register(name string, close func() error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, step{name: name, close: close})
}

// OnShutdownStart registers a callback run as soon as shutdown begins,
// before draining.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStart = append(sm.onStart, fn)
}

// ListenForSignals blocks until SIGTERM or SIGINT, ctx cancellation, or
// another caller starting shutdown. In the first two cases it shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown stops admitting calls, waits for in-flight ones and runs the
// steps. Every step runs even if an earlier one fails; the errors are
// joined. Later calls are no-ops returning nil.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var err error
	sm.once.Do(func() {
		log.Printf("server: shutting down: %s", reason)

		sm.mu.Lock()
		sm.draining = true
		if sm.inFlight == 0 {
			close(sm.idle)
		}
		onStart := sm.onStart
		steps := sm.steps
		sm.mu.Unlock()
		close(sm.done)

		for _, fn := range onStart {
			fn()
		}

		ctx, cancel := context.WithTimeout(ctx, sm.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := sm.drain(ctx); err != nil {
			errs = append(errs, err)
		}
		for i := len(steps) - 1; i >= 0; i-- {
			if err := steps[i].close(); err != nil {
				log.Printf("server: %s: %v", steps[i].name, err)
				errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, err))
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	timer := time.NewTimer(sm.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-sm.idle:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return fmt.Errorf("drain: %d calls still in flight", sm.InFlightCount())
}

// TrackRequest admits a call. It returns false once shutdown has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.draining {
		return false
	}
	sm.inFlight++
	return true
}

// UntrackRequest marks an admitted call as finished.
func (sm *ShutdownManager) UntrackRequest() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inFlight--
	if sm.draining && sm.inFlight == 0 {
		close(sm.idle)
	}
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.draining
}

// InFlightCount returns the number of admitted calls still running.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inFlight
}

// ShutdownCh returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.done
}

// ShutdownInterceptor admits unary calls through sm and rejects new ones
// with Unavailable once shutdown has begun, which clients treat as a
// retryable refusal.
func ShutdownInterceptor(sm *ShutdownManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !sm.TrackRequest() {
			return nil, status.Error(codes.Unavailable, "server is shutting down")
		}
		defer sm.UntrackRequest()
		return handler(ctx, req)
	}
}
