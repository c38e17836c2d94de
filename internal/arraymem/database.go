package arraymem

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/rasql"
	"github.com/misev/asqldb/internal/session"
)

var errClosed = fmt.Errorf("database is closed")

// database is one open connection. Queries run inside its active
// transaction, or commit on their own when none is active.
type database struct {
	engine *Engine
	write  bool
	user   string

	mu     sync.Mutex
	closed bool
	tx     *transaction
}

func (db *database) NewTransaction() (session.Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errClosed
	}
	return &transaction{db: db}, nil
}

func (db *database) NewQuery() (session.Query, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errClosed
	}
	return &query{db: db}, nil
}

// Close aborts any active transaction.
func (db *database) Close() error {
	db.mu.Lock()
	tx := db.tx
	db.closed = true
	db.mu.Unlock()
	if tx != nil {
		return tx.Abort()
	}
	return nil
}

// journal records an undo action on the active transaction.
func (db *database) journal(undo func()) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.tx != nil {
		db.tx.undo = append(db.tx.undo, undo)
	}
}

type transaction struct {
	db     *database
	undo   []func()
	active bool
}

func (tx *transaction) Begin() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.db.closed {
		return errClosed
	}
	if tx.db.tx != nil {
		return fmt.Errorf("a transaction is already active")
	}
	tx.db.tx = tx
	tx.active = true
	return nil
}

func (tx *transaction) Commit() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if !tx.active {
		return fmt.Errorf("transaction is not active")
	}
	tx.undo = nil
	tx.active = false
	tx.db.tx = nil
	return nil
}

// Abort reverts the transaction's changes in reverse order.
func (tx *transaction) Abort() error {
	tx.db.mu.Lock()
	if !tx.active {
		tx.db.mu.Unlock()
		return nil
	}
	undo := tx.undo
	tx.undo = nil
	tx.active = false
	tx.db.tx = nil
	tx.db.mu.Unlock()

	if len(undo) == 0 {
		return nil
	}
	e := tx.db.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	log.Printf("arraymem: aborted transaction, reverted %d change(s)", len(undo))
	return nil
}

type query struct {
	db   *database
	text string
	stmt rasql.Statement
	bind []byte
}

func (q *query) Create(text string) error {
	stmt, err := rasql.Parse(text)
	if err != nil {
		return errors.NewQueryError(errors.CodeParseError, text, err)
	}
	q.text = text
	q.stmt = stmt
	return nil
}

func (q *query) Bind(data []byte) error {
	q.bind = append([]byte(nil), data...)
	return nil
}

func (q *query) Execute(ctx context.Context) (session.Bag, error) {
	if q.stmt == nil {
		return nil, fmt.Errorf("query has no statement")
	}
	q.db.mu.Lock()
	closed := q.db.closed
	q.db.mu.Unlock()
	if closed {
		return nil, errClosed
	}
	if q.db.engine.opts.LogQueries {
		log.Printf("arraymem: %s: %s", q.db.user, q.text)
	}
	return q.db.engine.execute(ctx, q.db, q.stmt, q.bind)
}
