package expr

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/observability"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// dispatch sends the one remote query of a root node and materializes its
// result.
func (t *Tree) dispatch(ctx context.Context, env *Env, id NodeID, frag string, ids *arrayid.Set) (any, error) {
	if env == nil || env.Remote == nil {
		return nil, errors.NewInternalError("no array engine configured", nil)
	}
	n := &t.nodes[id]

	switch {
	case n.Kind == KindFunction && n.Name == FuncDecode:
		return t.insertBlob(ctx, env, n)
	case env.Insert != nil && n.typ.IsArray():
		return t.insertArray(ctx, env, frag, ids)
	case ids.Empty() && !t.readsRow(id):
		return t.constant(ctx, env, id, frag)
	}
	return t.selectOnce(ctx, env, id, frag, ids)
}

func (t *Tree) selectOnce(ctx context.Context, env *Env, id NodeID, frag string, ids *arrayid.Set) (any, error) {
	n := &t.nodes[id]
	v, err := env.Remote.Select(ctx, frag, ids)
	if err != nil {
		return nil, err
	}
	env.Stats.RecordDispatch(observability.KindSelect, collections(ids)...)

	out, err := convertResult(v, n.typ)
	if err != nil {
		return nil, err
	}
	if format, ok := encodeFormat(n); ok && !ids.Empty() && env.Artifacts != nil {
		if data, isBytes := out.([]byte); isBytes {
			name := ids.FileIdentifier() + "." + format
			if err := env.Artifacts.Put(ctx, name, data); err != nil {
				return nil, err
			}
			log.Printf("expr: wrote artifact %s (%d bytes)", name, len(data))
		}
	}
	return out, nil
}

// constant serves a query that reads no row value from the node cache. Concurrent
// misses for the same fragment share one dispatch.
func (t *Tree) constant(ctx context.Context, env *Env, id NodeID, frag string) (any, error) {
	key := cacheKey{node: id, hash: murmur3.Sum64([]byte(frag))}

	t.mu.Lock()
	v, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		env.Stats.RecordDispatch(observability.KindCached)
		return v, nil
	}

	v, err, _ := t.group.Do(strconv.Itoa(int(id))+"/"+strconv.FormatUint(key.hash, 16), func() (any, error) {
		t.mu.Lock()
		cached, ok := t.cache[key]
		t.mu.Unlock()
		if ok {
			return cached, nil
		}
		v, err := t.selectOnce(ctx, env, id, frag, arrayid.NewSet())
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.cache[key] = v
		t.mu.Unlock()
		return v, nil
	})
	return v, err
}

// readsRow reports whether the subtree reads a host column of the current
// row. Iterator references are not host columns once resolved.
func (t *Tree) readsRow(id NodeID) bool {
	if id == NoNode {
		return false
	}
	n := &t.nodes[id]
	if n.Kind == KindColumn {
		return true
	}
	for _, c := range n.Children {
		if t.readsRow(c) {
			return true
		}
	}
	return false
}

// CachedResults returns the number of cached constant results.
func (t *Tree) CachedResults() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

// ResetCache drops every cached constant result.
func (t *Tree) ResetCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[cacheKey]any)
}

func (t *Tree) insertArray(ctx context.Context, env *Env, frag string, ids *arrayid.Set) (any, error) {
	if !ids.Empty() {
		return nil, errors.NewTypeError(errors.CodeUnsupportedOperation,
			"an inserted array cannot reference stored arrays")
	}
	if err := ensureCollection(ctx, env); err != nil {
		return nil, err
	}
	coll := env.Insert.Collection()
	query := fmt.Sprintf("INSERT INTO %s VALUES %s", coll, frag)
	bag, err := env.Remote.Execute(ctx, query, session.ExecOptions{WriteAccess: true})
	if err != nil {
		return nil, err
	}
	return insertedRef(env, query, coll, bag)
}

func (t *Tree) insertBlob(ctx context.Context, env *Env, n *Node) (any, error) {
	if env.Insert == nil {
		return nil, errors.NewTypeError(errors.CodeUnsupportedOperation,
			"decode is only supported when populating an MDARRAY column")
	}
	arg := n.Children[0]
	if t.nodes[arg].remote {
		return nil, errors.NewTypeError(errors.CodeUnsupportedOperation,
			"decode argument must be host data")
	}
	v, err := t.evalHost(ctx, env, arg)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return nil, errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("decode argument has type %T", v))
	}

	if err := ensureCollection(ctx, env); err != nil {
		return nil, err
	}
	coll := env.Insert.Collection()
	query := fmt.Sprintf("INSERT INTO %s VALUES decode($1)", coll)
	bag, err := env.Remote.Execute(ctx, query, session.ExecOptions{WriteAccess: true, Bind: data})
	if err != nil {
		return nil, err
	}
	return insertedRef(env, query, coll, bag)
}

func insertedRef(env *Env, query, coll string, bag session.Bag) (any, error) {
	oid, ok := oidOf(bag)
	if !ok {
		return nil, errors.NewQueryError(errors.CodeObjectNotFound, query, nil)
	}
	env.Stats.RecordDispatch(observability.KindInsert, coll)
	return types.ArrayRef{Collection: coll, OID: oid}, nil
}

// ensureCollection creates the insert target's collection unless the
// catalog already knows it. A failed create is ignored; the insert that
// follows reports a missing collection.
func ensureCollection(ctx context.Context, env *Env) error {
	coll := env.Insert.Collection()
	if env.Catalog != nil && env.Catalog.Contains(coll) {
		return nil
	}
	ct, err := env.Insert.Type.CollectionType()
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf("create collection %s %s", coll, ct)
	if _, err := env.Remote.Execute(ctx, ddl, session.ExecOptions{IgnoreFailure: true, WriteAccess: true}); err != nil {
		return err
	}
	if env.Catalog != nil {
		env.Catalog.Observe(ddl)
	}
	env.Stats.RecordDispatch(observability.KindDDL, coll)
	return nil
}

func encodeFormat(n *Node) (string, bool) {
	if n.Kind != KindFunction {
		return "", false
	}
	if n.Name == FuncEncode {
		return n.Format, true
	}
	if Formats[n.Name] {
		return n.Name, true
	}
	return "", false
}

func collections(ids *arrayid.Set) []string {
	out := make([]string, 0, ids.Len())
	for _, id := range ids.IDs() {
		out = append(out, id.Collection)
	}
	return out
}

// Compile returns the query the root dispatch of id would send for the
// current row, without sending it.
func (t *Tree) Compile(ctx context.Context, env *Env, id NodeID) (string, error) {
	n := &t.nodes[id]
	if !n.resolved {
		return "", errors.NewInternalError(fmt.Sprintf("compile of unresolved node %d", id), nil)
	}
	if !n.remote {
		return "", errors.NewTypeError(errors.CodeUnsupportedOperation,
			fmt.Sprintf("%s is evaluated by the host", t.SourceText(id)))
	}
	frag, ids, err := t.fragment(ctx, env, id)
	if err != nil {
		return "", err
	}
	if env != nil && env.Insert != nil && (n.typ.IsArray() || n.Name == FuncDecode) {
		return fmt.Sprintf("INSERT INTO %s VALUES %s", env.Insert.Collection(), frag), nil
	}
	return session.SelectQuery(frag, ids), nil
}
