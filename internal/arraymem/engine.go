// Package arraymem is an in-memory array engine. It evaluates the rasql
// subset the federation layer emits and implements session.Transport, so
// it can stand in for a remote engine in tests and behind the gRPC server.
package arraymem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/rasql"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// FirstOID is the object id given to the first stored array.
const FirstOID = 1025

// Options configures an Engine.
type Options struct {
	// BusyOpens makes the first n opens fail with NO_FREE_SERVER
	BusyOpens int
	// MaxCells bounds every constructed array; 0 means unbounded
	MaxCells int64
	// LogQueries logs every executed statement
	LogQueries bool
}

// Engine holds collections in memory. It is safe for concurrent use;
// statements are serialized.
type Engine struct {
	mu          sync.Mutex
	opts        Options
	collections map[string]*collection
	nextOID     int64
	busy        int
}

// New creates an empty engine.
func New(opts Options) *Engine {
	return &Engine{
		opts:        opts,
		collections: make(map[string]*collection),
		nextOID:     FirstOID,
		busy:        opts.BusyOpens,
	}
}

// Open implements session.Transport.
func (e *Engine) Open(ctx context.Context, ep session.Endpoint, cred session.Credentials, writeAccess bool) (session.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewConnectionError(errors.CodeConnectionRefused, "open cancelled", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy > 0 {
		e.busy--
		return nil, errors.NewConnectionError(errors.CodeNoFreeServer,
			fmt.Sprintf("no free server for %s", ep.Database), nil)
	}
	return &database{engine: e, write: writeAccess, user: cred.Username}, nil
}

// SetBusy makes the next n opens fail with NO_FREE_SERVER.
func (e *Engine) SetBusy(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = n
}

// CreateCollection creates an empty collection of the given set type.
func (e *Engine) CreateCollection(name, typeName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.create(name, typeName)
	return err
}

// Store adds an array to a collection and returns its oid.
func (e *Engine) Store(name string, arr *types.MArray) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	oid, _, err := e.insert(name, arr)
	return oid, err
}

// Collections lists the collection names in sorted order.
func (e *Engine) Collections() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.names()
}

// Array returns a copy of a stored array.
func (e *Engine) Array(ref types.ArrayRef) (*types.MArray, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[key(ref.Collection)]
	if !ok {
		return nil, false
	}
	arr, ok := c.objects[ref.OID]
	if !ok {
		return nil, false
	}
	return copyArray(arr), true
}

func (e *Engine) names() []string {
	out := make([]string, 0, len(e.collections))
	for _, c := range e.collections {
		out = append(out, c.name)
	}
	sort.Strings(out)
	return out
}

// The mutators below must be called with e.mu held. Each returns the undo
// action for the enclosing transaction.

func (e *Engine) create(name, typeName string) (func(), error) {
	k := key(name)
	if k == key(CollectionNames) {
		return nil, fmt.Errorf("collection name %s is reserved", name)
	}
	if _, ok := e.collections[k]; ok {
		return nil, fmt.Errorf("collection %s already exists", name)
	}
	typ, err := ParseCollectionType(typeName)
	if err != nil {
		return nil, err
	}
	e.collections[k] = newCollection(name, typ)
	return func() { delete(e.collections, k) }, nil
}

func (e *Engine) drop(name string) (func(), error) {
	k := key(name)
	c, ok := e.collections[k]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", name)
	}
	delete(e.collections, k)
	return func() { e.collections[k] = c }, nil
}

func (e *Engine) insert(name string, arr *types.MArray) (int64, func(), error) {
	c, ok := e.collections[key(name)]
	if !ok {
		return 0, nil, fmt.Errorf("collection %s not found", name)
	}
	stored, err := c.accept(arr)
	if err != nil {
		return 0, nil, err
	}
	oid := e.nextOID
	e.nextOID++
	c.objects[oid] = stored
	return oid, func() { delete(c.objects, oid) }, nil
}

// execute runs one parsed statement.
func (e *Engine) execute(ctx context.Context, db *database, stmt rasql.Statement, bind []byte) (session.Bag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := &evaluator{ctx: ctx, bind: bind, maxCells: e.opts.MaxCells}
	switch s := stmt.(type) {
	case *rasql.SelectStatement:
		return e.selectRows(ev, s)
	case *rasql.InsertStatement:
		if !db.write {
			return nil, errReadOnly
		}
		v, err := ev.eval(&scope{}, s.Value)
		if err != nil {
			return nil, err
		}
		arr, ok := v.(*types.MArray)
		if !ok {
			return nil, fmt.Errorf("insert requires an array, got %s", describe(v))
		}
		oid, undo, err := e.insert(s.Collection, arr)
		if err != nil {
			return nil, err
		}
		db.journal(undo)
		log.Printf("arraymem: inserted %s:%d", s.Collection, oid)
		return session.Bag{oid}, nil
	case *rasql.CreateCollectionStatement:
		if !db.write {
			return nil, errReadOnly
		}
		undo, err := e.create(s.Name, s.Type)
		if err != nil {
			return nil, err
		}
		db.journal(undo)
		log.Printf("arraymem: created collection %s %s", s.Name, s.Type)
		return session.Bag{}, nil
	case *rasql.DropCollectionStatement:
		if !db.write {
			return nil, errReadOnly
		}
		undo, err := e.drop(s.Name)
		if err != nil {
			return nil, err
		}
		db.journal(undo)
		log.Printf("arraymem: dropped collection %s", s.Name)
		return session.Bag{}, nil
	case *rasql.DeleteStatement:
		if !db.write {
			return nil, errReadOnly
		}
		n, undo, err := e.remove(ev, s)
		if err != nil {
			return nil, err
		}
		db.journal(undo)
		log.Printf("arraymem: deleted %d objects from %s", n, s.Collection)
		return session.Bag{}, nil
	}
	return nil, fmt.Errorf("unsupported statement %T", stmt)
}

// remove deletes the objects of a collection that pass WHERE.
func (e *Engine) remove(ev *evaluator, s *rasql.DeleteStatement) (int, func(), error) {
	c, ok := e.collections[key(s.Collection)]
	if !ok {
		return 0, nil, fmt.Errorf("collection %s not found", s.Collection)
	}
	removed := make(map[int64]*types.MArray)
	for _, oid := range c.oids() {
		sc := &scope{vars: map[string]any{s.Alias: c.objects[oid]}, oids: map[string]int64{s.Alias: oid}}
		ok, err := ev.holds(sc, s.Where)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			removed[oid] = c.objects[oid]
		}
	}
	for oid := range removed {
		delete(c.objects, oid)
	}
	return len(removed), func() {
		for oid, arr := range removed {
			c.objects[oid] = arr
		}
	}, nil
}

var errReadOnly = fmt.Errorf("database is open read-only")

// row is one binding of the FROM aliases.
type row struct {
	vars map[string]any
	oids map[string]int64
}

// selectRows evaluates the statement for every alias binding that passes
// WHERE. Without FROM the expression is evaluated once.
func (e *Engine) selectRows(ev *evaluator, s *rasql.SelectStatement) (session.Bag, error) {
	rows := []row{{vars: map[string]any{}, oids: map[string]int64{}}}
	for _, ref := range s.From {
		values, oids, err := e.scan(ref.Collection)
		if err != nil {
			return nil, err
		}
		next := make([]row, 0, len(rows)*len(values))
		for _, r := range rows {
			for i, v := range values {
				nr := row{vars: make(map[string]any, len(r.vars)+1), oids: make(map[string]int64, len(r.oids)+1)}
				for k, x := range r.vars {
					nr.vars[k] = x
				}
				for k, x := range r.oids {
					nr.oids[k] = x
				}
				nr.vars[ref.Alias] = v
				if oids != nil {
					nr.oids[ref.Alias] = oids[i]
				}
				next = append(next, nr)
			}
		}
		rows = next
	}

	bag := session.Bag{}
	for _, r := range rows {
		if err := ev.ctx.Err(); err != nil {
			return nil, err
		}
		sc := &scope{vars: r.vars, oids: r.oids}
		ok, err := ev.holds(sc, s.Where)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := ev.eval(sc, s.Expr)
		if err != nil {
			return nil, err
		}
		out, err := toBag(v)
		if err != nil {
			return nil, err
		}
		bag = append(bag, out)
	}
	return bag, nil
}

// holds evaluates a WHERE condition; a missing one always holds.
func (ev *evaluator) holds(sc *scope, where rasql.Expression) (bool, error) {
	if where == nil {
		return true, nil
	}
	cond, err := ev.eval(sc, where)
	if err != nil {
		return false, err
	}
	c, ok := cond.(scalar)
	if !ok || c.t != types.Boolean {
		return false, fmt.Errorf("WHERE must be a boolean, got %s", describe(cond))
	}
	return c.v != 0, nil
}

// scan returns the values a collection binds to an alias, with their oids.
func (e *Engine) scan(name string) ([]any, []int64, error) {
	if key(name) == key(CollectionNames) {
		names := e.names()
		values := make([]any, len(names))
		for i, n := range names {
			values[i] = n
		}
		return values, nil, nil
	}
	c, ok := e.collections[key(name)]
	if !ok {
		return nil, nil, fmt.Errorf("collection %s not found", name)
	}
	oids := c.oids()
	values := make([]any, len(oids))
	for i, oid := range oids {
		values[i] = c.objects[oid]
	}
	return values, oids, nil
}
