package expr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// fakeRemote records every query it receives.
type fakeRemote struct {
	mu      sync.Mutex
	selects []string
	execs   []string
	binds   [][]byte

	result any
	err    error
	oid    int64
}

func (f *fakeRemote) Select(ctx context.Context, fragment string, ids *arrayid.Set) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, session.SelectQuery(fragment, ids))
	return f.result, f.err
}

func (f *fakeRemote) Execute(ctx context.Context, query string, opts session.ExecOptions) (session.Bag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)
	if opts.Bind != nil {
		f.binds = append(f.binds, opts.Bind)
	}
	if f.err != nil {
		return nil, f.err
	}
	if strings.HasPrefix(query, "INSERT") {
		return session.Bag{f.oid}, nil
	}
	return session.Bag{}, nil
}

func (f *fakeRemote) selectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.selects)
}

type fakeCollections struct {
	names    map[string]bool
	observed []string
}

func (f *fakeCollections) Contains(name string) bool {
	return f.names[strings.ToLower(name)]
}

func (f *fakeCollections) Observe(ddl string) {
	f.observed = append(f.observed, ddl)
	fields := strings.Fields(ddl)
	if len(fields) >= 3 && strings.EqualFold(fields[0], "create") {
		if f.names == nil {
			f.names = make(map[string]bool)
		}
		f.names[strings.ToLower(fields[2])] = true
	}
}

type memArtifacts map[string][]byte

func (m memArtifacts) Put(ctx context.Context, name string, data []byte) error {
	m[name] = data
	return nil
}

// intScalar evaluates integer arithmetic on the host side.
type intScalar struct{}

func (intScalar) Binary(op Op, l, r any) (any, error) {
	a, aok := l.(int64)
	b, bok := r.(int64)
	if !aok || !bok {
		return nil, fmt.Errorf("non-integer operands %v, %v", l, r)
	}
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpLt:
		return a < b, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

func (intScalar) Unary(op Op, v any) (any, error) {
	if op == OpNeg {
		return -v.(int64), nil
	}
	return !v.(bool), nil
}

func (intScalar) Cast(v any, to types.ScalarType) (any, error) {
	if to.IsFloating() {
		return float64(v.(int64)), nil
	}
	return v, nil
}

func dims(names ...string) domain.Domain {
	out := make([]domain.Dimension, len(names))
	for i, n := range names {
		out[i] = domain.NewRange(n, domain.At(0), domain.At(9))
	}
	return domain.MustNew(out...)
}

func doubleArray(names ...string) Type {
	return ArrayOf(types.Double, dims(names...))
}
