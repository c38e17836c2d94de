package session

import "context"

// Bag is the unordered collection of results a query returns. Elements
// are int64, float64, bool, string, []byte, *types.MArray or
// types.ArrayRef values.
type Bag []any

// Head returns the first element of the bag.
func Head(b Bag) (any, bool) {
	if len(b) == 0 {
		return nil, false
	}
	return b[0], true
}

// Endpoint locates an array engine database.
type Endpoint struct {
	Server   string
	Port     int
	Database string
}

// Credentials authenticate against the array engine.
type Credentials struct {
	Username string
	Password string
}

// Transport opens databases on an array engine. Open fails with a
// retryable CONNECTION error when the engine has no free server.
type Transport interface {
	Open(ctx context.Context, ep Endpoint, cred Credentials, writeAccess bool) (Database, error)
}

// Database is an open array engine connection.
type Database interface {
	NewTransaction() (Transaction, error)
	NewQuery() (Query, error)
	Close() error
}

// Transaction brackets query execution on a Database.
type Transaction interface {
	Begin() error
	Commit() error
	Abort() error
}

// Query is a single query on the database's active transaction.
type Query interface {
	Create(text string) error
	// Bind binds the single positional parameter $1.
	Bind(data []byte) error
	Execute(ctx context.Context) (Bag, error)
}
