// Package observability tracks remote dispatch statistics per collection
// and per dispatch kind.
package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Dispatch kinds.
const (
	KindSelect = "select"
	KindInsert = "insert"
	KindDDL    = "ddl"
	KindCached = "cached"
)

// DispatchStats tracks how often each collection is reached by a root
// dispatch, and how dispatches split across kinds.
type DispatchStats struct {
	mu       sync.RWMutex
	collFreq map[string]*CollectionStats
	kinds    map[string]int64
	failures int64
	window   time.Duration
}

// CollectionStats holds statistics for one collection.
type CollectionStats struct {
	Collection string
	Frequency  int64
	LastSeen   time.Time
	Kinds      map[string]int // kind → count (e.g., "select" → 5)
}

// NewDispatchStats creates a new tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewDispatchStats(window time.Duration) *DispatchStats {
	return &DispatchStats{
		collFreq: make(map[string]*CollectionStats),
		kinds:    make(map[string]int64),
		window:   window,
	}
}

// RecordDispatch records one dispatch of the given kind touching the given
// collections. A nil tracker ignores the call.
func (d *DispatchStats) RecordDispatch(kind string, collections ...string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.kinds[kind]++
	now := time.Now()
	for _, coll := range collections {
		stats, exists := d.collFreq[coll]
		if !exists {
			stats = &CollectionStats{
				Collection: coll,
				Kinds:      make(map[string]int),
			}
			d.collFreq[coll] = stats
		}
		stats.Frequency++
		stats.LastSeen = now
		stats.Kinds[kind]++
	}
}

// RecordFailure counts a dispatch that returned an error.
func (d *DispatchStats) RecordFailure() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.failures++
	d.mu.Unlock()
}

// KindCount returns the number of dispatches of a kind.
func (d *DispatchStats) KindCount(kind string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kinds[kind]
}

// Failures returns the number of failed dispatches.
func (d *DispatchStats) Failures() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failures
}

// GetTopCollections returns the top N collections by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (d *DispatchStats) GetTopCollections(n int) []CollectionStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || len(d.collFreq) == 0 {
		return []CollectionStats{}
	}

	stats := make([]CollectionStats, 0, len(d.collFreq))
	for _, s := range d.collFreq {
		cp := CollectionStats{
			Collection: s.Collection,
			Frequency:  s.Frequency,
			LastSeen:   s.LastSeen,
			Kinds:      make(map[string]int, len(s.Kinds)),
		}
		for k, c := range s.Kinds {
			cp.Kinds[k] = c
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency == stats[j].Frequency {
			return stats[i].Collection < stats[j].Collection
		}
		return stats[i].Frequency > stats[j].Frequency
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Forget drops the statistics of a collection, e.g. after it is dropped.
// Names compare case-insensitively.
func (d *DispatchStats) Forget(collection string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for coll := range d.collFreq {
		if strings.EqualFold(coll, collection) {
			delete(d.collFreq, coll)
		}
	}
}

// Prune removes entries where time.Since(LastSeen) > window.
func (d *DispatchStats) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := time.Now().Add(-d.window)
	for coll, stats := range d.collFreq {
		if stats.LastSeen.Before(threshold) {
			delete(d.collFreq, coll)
		}
	}
}
