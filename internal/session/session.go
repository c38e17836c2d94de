// Package session manages the connection to the array engine: opening with
// retries, executing queries inside transactions, and mapping engine
// failures to typed errors.
package session

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/errors"
)

const (
	// DefaultMaxAttempts bounds connection-open attempts.
	DefaultMaxAttempts = 5
	// DefaultRetryDelay is the fixed sleep between open attempts.
	DefaultRetryDelay = 1000 * time.Millisecond
)

// CollectionNamesQuery lists every collection of the database.
const CollectionNamesQuery = "select c from RAS_COLLECTIONNAMES as c"

// Options configures a Session.
type Options struct {
	Endpoint    Endpoint
	User        Credentials
	Admin       Credentials
	MaxAttempts int
	RetryDelay  time.Duration
	LogQueries  bool
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Remote)
}

// OptionsFromConfig converts the remote section of the configuration.
func OptionsFromConfig(rc config.RemoteConfig) Options {
	return Options{
		Endpoint: Endpoint{Server: rc.Server, Port: rc.Port, Database: rc.Database},
		User:     Credentials{Username: rc.Username, Password: rc.Password},
		Admin:    Credentials{Username: rc.AdminUsername, Password: rc.AdminPassword},

		MaxAttempts: rc.MaxAttempts,
		RetryDelay:  rc.RetryDelay,
		LogQueries:  rc.LogQueries,
	}
}

// ExecOptions controls a single Execute call.
type ExecOptions struct {
	// IgnoreFailure swallows a failed remote query and returns an empty bag
	IgnoreFailure bool
	// WriteAccess selects the admin credentials and a read-write open
	WriteAccess bool
	// Bind is bound to the query's $1 parameter when non-nil
	Bind []byte
}

// Session is one connection to the array engine. All methods are safe for
// concurrent use; open, execute and close are serialized.
type Session struct {
	mu        sync.Mutex
	transport Transport
	opts      Options
	id        string

	db    Database
	write bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a closed session.
func New(transport Transport, opts Options) *Session {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Session{
		transport: transport,
		opts:      opts,
		id:        uuid.New().String()[:8],
		sleep:     sleepContext,
	}
}

// SetSleep replaces the function used to wait between open attempts.
func (s *Session) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleep = fn
}

// ID returns the session id used in log lines.
func (s *Session) ID() string {
	return s.id
}

// IsOpen reports whether a database handle is held.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Open opens the database, selecting credentials by write access.
func (s *Session) Open(ctx context.Context, writeAccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(ctx, s.credentials(writeAccess), writeAccess)
}

// OpenWith opens the database with explicit credentials.
func (s *Session) OpenWith(ctx context.Context, cred Credentials, writeAccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(ctx, cred, writeAccess)
}

func (s *Session) credentials(writeAccess bool) Credentials {
	if writeAccess {
		return s.opts.Admin
	}
	return s.opts.User
}

// open must be called with s.mu held.
func (s *Session) open(ctx context.Context, cred Credentials, writeAccess bool) error {
	if s.db != nil {
		if err := s.close(); err != nil {
			log.Printf("session %s: close before reopen: %v", s.id, err)
		}
	}

	attempts := 0
	for {
		db, err := s.transport.Open(ctx, s.opts.Endpoint, cred, writeAccess)
		if err == nil {
			s.db = db
			s.write = writeAccess
			return nil
		}
		attempts++

		if !errors.IsRetryable(err) {
			return unavailable(attempts, err)
		}
		if attempts >= s.opts.MaxAttempts {
			log.Printf("session %s: no free array server after %d attempts", s.id, attempts)
			return unavailable(attempts, err)
		}
		log.Printf("session %s: open attempt %d failed, retrying in %v: %v", s.id, attempts, s.opts.RetryDelay, err)
		if serr := s.sleep(ctx, s.opts.RetryDelay); serr != nil {
			return unavailable(attempts, serr)
		}
	}
}

func unavailable(attempts int, cause error) error {
	return errors.NewConnectionError(errors.CodeUnavailable,
		fmt.Sprintf("%d attempts", attempts), cause).
		WithDetails(map[string]interface{}{"attempts": attempts})
}

// Close releases the database handle. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *Session) close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	s.write = false
	if err := db.Close(); err != nil {
		return errors.NewConnectionError(errors.CodeCloseFailed, "could not close database", err)
	}
	return nil
}

// Execute runs query in its own transaction and returns the result bag.
func (s *Session) Execute(ctx context.Context, query string, opts ExecOptions) (Bag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || (opts.WriteAccess && !s.write) {
		if err := s.open(ctx, s.credentials(opts.WriteAccess), opts.WriteAccess); err != nil {
			return nil, err
		}
	}
	if s.opts.LogQueries {
		log.Printf("session %s: %s", s.id, query)
	}

	tx, err := s.db.NewTransaction()
	if err != nil {
		return nil, errors.NewQueryError(errors.CodeFailed, query, err)
	}
	if err := tx.Begin(); err != nil {
		return s.classify(query, err, opts.IgnoreFailure)
	}

	bag, err := s.run(ctx, query, opts.Bind)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if aerr := tx.Abort(); aerr != nil {
			log.Printf("session %s: abort failed: %v", s.id, aerr)
		}
		return s.classify(query, err, opts.IgnoreFailure)
	}
	return bag, nil
}

// run creates, binds and executes the query. A nil dereference inside the
// engine client is reported as errClientFault instead of crashing.
func (s *Session) run(ctx context.Context, query string, bind []byte) (bag Bag, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(runtime.Error); ok && strings.Contains(re.Error(), "nil pointer") {
				err = errClientFault
				return
			}
			panic(r)
		}
	}()

	q, err := s.db.NewQuery()
	if err != nil {
		return nil, err
	}
	if err := q.Create(query); err != nil {
		return nil, err
	}
	if bind != nil {
		if err := q.Bind(bind); err != nil {
			return nil, err
		}
	}
	return q.Execute(ctx)
}

var errClientFault = fmt.Errorf("nil pointer dereference in array engine client")

func (s *Session) classify(query string, err error, ignore bool) (Bag, error) {
	switch {
	case err == errClientFault:
		return nil, errors.NewQueryError(errors.CodeClientBug, query, err)
	case errors.GetCode(err) == errors.CodeOverload:
		return nil, errors.NewQueryError(errors.CodeOverload, query, err)
	case ignore:
		log.Printf("session %s: ignoring failed query %q: %v", s.id, query, err)
		return Bag{}, nil
	default:
		return nil, errors.NewQueryError(errors.CodeFailed, query, err)
	}
}

// SelectQuery renders the combined query for a fragment over a
// correlation set. An empty set yields a constant query.
func SelectQuery(fragment string, ids *arrayid.Set) string {
	if ids.Empty() {
		return "SELECT " + fragment
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s", fragment, ids.FromClause(), ids.WhereClause())
}

// Select executes the combined query and returns its first result.
func (s *Session) Select(ctx context.Context, fragment string, ids *arrayid.Set) (any, error) {
	query := SelectQuery(fragment, ids)
	bag, err := s.Execute(ctx, query, ExecOptions{})
	if err != nil {
		return nil, err
	}
	first, ok := Head(bag)
	if !ok {
		return nil, errors.NewQueryError(errors.CodeObjectNotFound, query, nil)
	}
	return first, nil
}

// CollectionAs applies fn to every array of collection and returns the
// first result, or nil when the query fails or is empty.
func (s *Session) CollectionAs(ctx context.Context, collection, fn string) (any, error) {
	query := fmt.Sprintf("select %s(c) from %s as c", fn, collection)
	bag, err := s.Execute(ctx, query, ExecOptions{IgnoreFailure: true})
	if err != nil {
		return nil, err
	}
	first, _ := Head(bag)
	return first, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
