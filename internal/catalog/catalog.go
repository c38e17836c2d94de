// Package catalog caches the names of the collections known to the array
// engine. The cache is a fast path for existence probes only; the engine
// stays authoritative.
package catalog

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/misev/asqldb/internal/notify"
	"github.com/misev/asqldb/internal/session"
)

// CollectionPrefix starts the name of every collection backing an MDARRAY
// column.
const CollectionPrefix = "PUBLIC"

var (
	createPattern = regexp.MustCompile(`create\s+collection\s+(\S+)`)
	dropPattern   = regexp.MustCompile(`drop\s+collection\s+(.+)`)
)

// Executor runs a query on the array engine.
type Executor interface {
	Execute(ctx context.Context, query string, opts session.ExecOptions) (session.Bag, error)
}

// Catalog is a concurrent-safe set of collection names. Names are stored
// lowercased.
type Catalog struct {
	mu          sync.RWMutex
	names       map[string]struct{}
	initialized bool

	exec Executor
	bus  *notify.Notifier
}

// New creates an empty catalog. bus may be nil.
func New(exec Executor, bus *notify.Notifier) *Catalog {
	return &Catalog{
		names: make(map[string]struct{}),
		exec:  exec,
		bus:   bus,
	}
}

// CollectionName names the collection backing table.field.
func CollectionName(table, field string) string {
	return fmt.Sprintf("%s_%s_%s", CollectionPrefix, strings.ToUpper(table), strings.ToUpper(field))
}

// Init populates the catalog from the engine. Later calls are no-ops.
func (c *Catalog) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	return c.load(ctx)
}

// Refresh replaces the cached names with the engine's current list.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// load must be called with c.mu held.
func (c *Catalog) load(ctx context.Context) error {
	bag, err := c.exec.Execute(ctx, session.CollectionNamesQuery, session.ExecOptions{})
	if err != nil {
		return err
	}
	names := make(map[string]struct{}, len(bag))
	for _, v := range bag {
		if name := collectionNameOf(v); name != "" {
			names[strings.ToLower(name)] = struct{}{}
		}
	}
	c.names = names
	c.initialized = true
	log.Printf("catalog: loaded %d collections", len(names))
	c.publish(notify.CatalogRefreshed, "")
	return nil
}

// collectionNameOf converts a catalog bag element. The engine returns
// names as char arrays that may carry NUL padding.
func collectionNameOf(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return ""
	}
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

// Initialized reports whether Init has completed.
func (c *Catalog) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Contains reports whether the collection is cached.
func (c *Catalog) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[strings.ToLower(name)]
	return ok
}

// Add caches a collection name.
func (c *Catalog) Add(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	c.mu.Lock()
	c.names[name] = struct{}{}
	c.mu.Unlock()
	c.publish(notify.CollectionCreated, name)
}

// Remove drops a collection name.
func (c *Catalog) Remove(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	c.mu.Lock()
	_, ok := c.names[name]
	delete(c.names, name)
	c.mu.Unlock()
	if ok {
		c.publish(notify.CollectionDropped, name)
	}
}

// Clear empties the cache. The catalog stays initialized.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = make(map[string]struct{})
}

// Names returns a sorted snapshot.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.names))
	for name := range c.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Observe updates the cache from DDL text sent to the engine. Text that is
// not collection DDL is ignored.
func (c *Catalog) Observe(ddl string) {
	text := strings.TrimSpace(strings.ToLower(ddl))
	switch {
	case strings.HasPrefix(text, "create "):
		m := createPattern.FindStringSubmatch(text)
		if m == nil {
			log.Printf("catalog: ignoring unrecognized ddl %q", ddl)
			return
		}
		c.Add(m[1])
	case strings.HasPrefix(text, "drop "):
		m := dropPattern.FindStringSubmatch(text)
		if m == nil {
			log.Printf("catalog: ignoring unrecognized ddl %q", ddl)
			return
		}
		c.Remove(strings.TrimSpace(m[1]))
	}
}

// Exists reports whether the engine has the collection, consulting the
// engine only when the cache misses.
func (c *Catalog) Exists(ctx context.Context, name string) (bool, error) {
	if c.Contains(name) {
		return true, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return false, err
	}
	return c.Contains(name), nil
}

func (c *Catalog) publish(t notify.EventType, name string) {
	if c.bus != nil {
		c.bus.Publish(notify.NewEvent(t, name))
	}
}
