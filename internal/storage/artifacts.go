package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"golang.org/x/sync/semaphore"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/notify"
)

// artifactPrefix keeps artifacts apart from other objects in a shared
// bucket.
const artifactPrefix = "artifacts/"

// Artifacts stores encoded query results under their file identifier.
// Payloads are snappy-compressed at rest.
type Artifacts struct {
	backend     ObjectStorage
	concurrency int
	cache       *readCache
}

// NewArtifacts wraps a backend. concurrency bounds GetMany.
func NewArtifacts(backend ObjectStorage, concurrency int) *Artifacts {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Artifacts{backend: backend, concurrency: concurrency}
}

// EnableCache keeps up to maxBytes of recently read payloads in memory.
// Call it before the store is shared.
func (a *Artifacts) EnableCache(maxBytes int64) {
	if maxBytes > 0 {
		a.cache = newReadCache(maxBytes)
	}
}

func artifactKey(name string) string {
	return artifactPrefix + name
}

// Put stores an artifact, replacing an earlier one of the same name.
func (a *Artifacts) Put(ctx context.Context, name string, data []byte) error {
	if err := a.backend.Put(ctx, artifactKey(name), snappy.Encode(nil, data)); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, name, err)
	}
	if a.cache != nil {
		a.cache.remove(name)
	}
	log.Printf("storage: stored artifact %s (%d bytes)", name, len(data))
	return nil
}

// Get returns an artifact's content.
func (a *Artifacts) Get(ctx context.Context, name string) ([]byte, error) {
	if a.cache != nil {
		if data, ok := a.cache.get(name); ok {
			return data, nil
		}
	}
	raw, err := a.backend.Get(ctx, artifactKey(name))
	if err != nil {
		if stderrors.Is(err, ErrObjectNotFound) {
			return nil, errors.NewStorageError(errors.CodeObjectNotFound, name, err)
		}
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, name, err)
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, name, fmt.Errorf("corrupt artifact: %w", err))
	}
	if a.cache != nil {
		a.cache.put(name, data)
	}
	return data, nil
}

// GetResult is the outcome of GetMany.
type GetResult struct {
	Data   map[string][]byte
	Errors map[string]error
}

// GetMany fetches artifacts in parallel. Failures are reported per name.
func (a *Artifacts) GetMany(ctx context.Context, names []string) *GetResult {
	result := &GetResult{
		Data:   make(map[string][]byte),
		Errors: make(map[string]error),
	}
	sem := semaphore.NewWeighted(int64(a.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[name] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := a.Get(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[name] = err
				return
			}
			result.Data[name] = data
		}(name)
	}

	wg.Wait()
	return result
}

// List returns the artifact names.
func (a *Artifacts) List(ctx context.Context) ([]string, error) {
	keys, err := a.backend.ListObjects(ctx, artifactPrefix)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, "list artifacts", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, artifactPrefix))
	}
	return names, nil
}

// Purge deletes every artifact derived from an array of collection and
// returns how many were removed.
func (a *Artifacts) Purge(ctx context.Context, collection string) (int, error) {
	names, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if !derivedFrom(name, collection) {
			continue
		}
		if err := a.backend.Delete(ctx, artifactKey(name)); err != nil {
			return removed, errors.NewStorageError(errors.CodeUploadFailed, name, err)
		}
		if a.cache != nil {
			a.cache.remove(name)
		}
		removed++
	}
	return removed, nil
}

// derivedFrom reports whether a file identifier contains an array of the
// collection. Identifiers concatenate "{collection}_{oid}" per array, so a
// match starts the name or follows an oid digit and is followed by one.
// Collection names compare case-insensitively.
func derivedFrom(name, collection string) bool {
	name = strings.ToLower(name)
	needle := strings.ToLower(collection) + "_"
	for i := 0; i+len(needle) < len(name); i++ {
		if !strings.HasPrefix(name[i:], needle) {
			continue
		}
		if i > 0 && !isDigit(name[i-1]) {
			continue
		}
		if isDigit(name[i+len(needle)]) {
			return true
		}
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Watch purges the artifacts of dropped collections until ctx is done.
// The returned channel is closed when the watcher stops.
func (a *Artifacts) Watch(ctx context.Context, bus *notify.Notifier) <-chan struct{} {
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch:
				if !ok {
					return
				}
				if ev.Type != notify.CollectionDropped {
					continue
				}
				n, err := a.Purge(ctx, ev.Collection)
				if err != nil {
					log.Printf("storage: purge %s: %v", ev.Collection, err)
					continue
				}
				if n > 0 {
					log.Printf("storage: purged %d artifacts of %s", n, ev.Collection)
				}
			}
		}
	}()
	return done
}
