// Package federation assembles the client side of asqldb from the
// configuration: the engine session, the collection catalog, artifact
// storage, the host store and dispatch statistics. It is the entry point
// an embedding SQL layer uses to evaluate array expressions over host
// rows.
package federation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/misev/asqldb/internal/catalog"
	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/expr"
	"github.com/misev/asqldb/internal/host"
	"github.com/misev/asqldb/internal/notify"
	"github.com/misev/asqldb/internal/observability"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/internal/storage"
	"github.com/misev/asqldb/pkg/types"
)

// statsWindow is how long per-collection dispatch statistics are kept.
const statsWindow = time.Hour

// Stack is an open client stack. It is safe for concurrent use; the
// session serializes engine queries.
type Stack struct {
	Session   *session.Session
	Catalog   *catalog.Catalog
	Bus       *notify.Notifier
	Artifacts *storage.Artifacts
	Host      *host.DB
	Stats     *observability.DispatchStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds a stack reaching the engine through transport.
func Open(ctx context.Context, cfg *config.Config, transport session.Transport) (*Stack, error) {
	st := &Stack{
		Session: session.New(transport, session.OptionsFromConfig(cfg.Remote)),
		Bus:     notify.NewNotifier(64),
		Stats:   observability.NewDispatchStats(statsWindow),
	}
	st.Catalog = catalog.New(st.Session, st.Bus)
	if err := st.Catalog.Init(ctx); err != nil {
		st.Session.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		st.Session.Close()
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "open artifact storage", err)
	}
	st.Artifacts = storage.NewArtifacts(backend, cfg.Storage.Concurrency)
	st.Artifacts.EnableCache(cfg.Storage.CacheBytes)

	st.Host, err = host.Open(cfg.Host.Path, st.Session, st.Catalog)
	if err != nil {
		st.Session.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	purged := st.Artifacts.Watch(watchCtx, st.Bus)
	st.wg.Add(2)
	go func() {
		defer st.wg.Done()
		<-purged
	}()
	sub := st.Bus.Subscribe()
	go func() {
		defer st.wg.Done()
		defer st.Bus.Unsubscribe(sub.ID)
		st.forgetDropped(watchCtx, sub.Ch)
	}()

	log.Printf("federation: stack open (%d collections, %d tables)", len(st.Catalog.Names()), len(st.Host.Tables()))
	return st, nil
}

func (st *Stack) forgetDropped(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == notify.CollectionDropped {
				st.Stats.Forget(ev.Collection)
			}
		}
	}
}

// Close stops the watchers and releases the host store and the session.
func (st *Stack) Close() error {
	st.cancel()
	st.wg.Wait()
	herr := st.Host.Close()
	if err := st.Session.Close(); err != nil {
		return err
	}
	return herr
}

// Env returns an evaluation environment bound to the stack.
func (st *Stack) Env() *expr.Env {
	return &expr.Env{
		Scalar:    st.Host.Evaluator(),
		Remote:    st.Session,
		Catalog:   st.Catalog,
		Artifacts: st.Artifacts,
		Stats:     st.Stats,
	}
}

// Select evaluates root of tree once per row of table matching where and
// returns the values in row order.
func (st *Stack) Select(ctx context.Context, tree *expr.Tree, root expr.NodeID, table, where string, args ...any) ([]any, error) {
	tbl, ok := st.Host.Table(table)
	if !ok {
		return nil, errors.NewTypeError(errors.CodeUnknownColumn, fmt.Sprintf("unknown table %s", table))
	}
	env := st.Env()
	env.Schema = tbl
	if _, err := tree.ResolveType(env, root); err != nil {
		return nil, err
	}

	rows, err := st.Host.Rows(ctx, table, where, args...)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := tree.Evaluate(ctx, env.WithRow(row), root)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert evaluates root of tree into the MDARRAY column of table and
// stores a row holding the new array reference plus the other values.
func (st *Stack) Insert(ctx context.Context, table, column string, tree *expr.Tree, root expr.NodeID, values map[string]any) (types.ArrayRef, error) {
	target, err := st.Host.InsertTarget(table, column)
	if err != nil {
		return types.ArrayRef{}, err
	}
	env := st.Env().WithInsert(target)
	if _, err := tree.ResolveType(env, root); err != nil {
		return types.ArrayRef{}, err
	}

	v, err := tree.Evaluate(ctx, env, root)
	if err != nil {
		return types.ArrayRef{}, err
	}
	ref, ok := v.(types.ArrayRef)
	if !ok {
		return types.ArrayRef{}, errors.NewInternalError(fmt.Sprintf("insert into %s.%s produced %T", table, column, v), nil)
	}

	row := make(map[string]any, len(values)+1)
	for k, val := range values {
		row[k] = val
	}
	row[column] = ref
	if err := st.Host.Insert(ctx, table, row); err != nil {
		st.discard(ctx, ref)
		return types.ArrayRef{}, err
	}
	return ref, nil
}

// discard removes an array no host row refers to, best-effort.
func (st *Stack) discard(ctx context.Context, ref types.ArrayRef) {
	q := fmt.Sprintf("DELETE FROM %s AS c WHERE oid(c) = %d", ref.Collection, ref.OID)
	if _, err := st.Session.Execute(ctx, q, session.ExecOptions{WriteAccess: true}); err != nil {
		log.Printf("federation: array %s is orphaned: %v", ref, err)
	}
}
