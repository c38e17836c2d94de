package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordDispatchConcurrent tests concurrent RecordDispatch calls for race conditions.
func TestRecordDispatchConcurrent(t *testing.T) {
	ds := NewDispatchStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ds.RecordDispatch(KindSelect, "rastest", "rastest2")
				ds.RecordDispatch(KindInsert, "public_t_a")
			}
		}()
	}
	wg.Wait()

	top := ds.GetTopCollections(10)
	if len(top) != 3 {
		t.Fatalf("expected 3 collections, got %d", len(top))
	}
	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Frequency != expected {
			t.Errorf("expected frequency %d for %s, got %d", expected, s.Collection, s.Frequency)
		}
	}
	if got := ds.KindCount(KindSelect); got != expected {
		t.Errorf("got %d selects, want %d", got, expected)
	}
}

func TestGetTopCollectionsOrdering(t *testing.T) {
	ds := NewDispatchStats(time.Hour)
	for i := 0; i < 10; i++ {
		ds.RecordDispatch(KindSelect, "b")
	}
	for i := 0; i < 20; i++ {
		ds.RecordDispatch(KindSelect, "a")
	}
	ds.RecordDispatch(KindSelect, "c")

	top := ds.GetTopCollections(2)
	if len(top) != 2 || top[0].Collection != "a" || top[1].Collection != "b" {
		t.Errorf("unexpected order %+v", top)
	}

	// returned stats are copies
	top[0].Kinds[KindSelect] = 0
	if ds.GetTopCollections(1)[0].Kinds[KindSelect] != 20 {
		t.Error("GetTopCollections must return copies")
	}
}

func TestConstantDispatchHasNoCollections(t *testing.T) {
	ds := NewDispatchStats(time.Hour)
	ds.RecordDispatch(KindCached)
	if len(ds.GetTopCollections(5)) != 0 {
		t.Error("constant dispatch should not create collection entries")
	}
	if ds.KindCount(KindCached) != 1 {
		t.Errorf("got %d, want 1", ds.KindCount(KindCached))
	}
}

func TestNilTrackerIgnoresRecords(t *testing.T) {
	var ds *DispatchStats
	ds.RecordDispatch(KindSelect, "a")
	ds.RecordFailure()
}

func TestPruneAndForget(t *testing.T) {
	ds := NewDispatchStats(time.Millisecond)
	ds.RecordDispatch(KindSelect, "old")
	time.Sleep(5 * time.Millisecond)
	ds.RecordDispatch(KindSelect, "new", "gone")
	ds.Prune()
	ds.Forget("gone")

	top := ds.GetTopCollections(5)
	if len(top) != 1 || top[0].Collection != "new" {
		t.Errorf("unexpected stats after prune %+v", top)
	}
}
