package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBasicOperations(t *testing.T) {
	cache, err := New[string](10, time.Minute)
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	// Test Get on empty cache
	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	// Test Set and Get
	isNew, err := cache.Set("key1", "value1")
	if err != nil {
		t.Fatalf("Unexpected error setting key: %v", err)
	}
	if !isNew {
		t.Error("Expected new entry creation")
	}

	if value, exists := cache.Get("key1"); !exists || value != "value1" {
		t.Errorf("Expected 'value1', got value: %s, exists: %t", value, exists)
	}

	// Test overwrite
	isNew, err = cache.Set("key1", "value1_updated")
	if err != nil {
		t.Fatalf("Unexpected error updating key: %v", err)
	}
	if isNew {
		t.Error("Expected existing entry update")
	}

	if value, exists := cache.Get("key1"); !exists || value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got value: %s, exists: %t", value, exists)
	}

	// Test Delete
	deleted, err := cache.Delete("key1")
	if err != nil {
		t.Fatalf("Unexpected error deleting key: %v", err)
	}
	if !deleted {
		t.Error("Expected successful deletion")
	}

	deleted, err = cache.Delete("key1")
	if err != nil {
		t.Fatalf("Unexpected error deleting non-existent key: %v", err)
	}
	if deleted {
		t.Error("Expected deletion failure for non-existent key")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	cache, _ := New[int](10, 0)

	if _, err := cache.Set("", 1); err == nil {
		t.Error("Expected error setting empty key")
	}
	if _, err := cache.Delete(""); err == nil {
		t.Error("Expected error deleting empty key")
	}
}

func TestCapacityBound(t *testing.T) {
	var evicted []string
	cache, err := New[int](3, 0,
		WithEvictionCallback[int](func(key string, _ int, reason EvictReason) {
			if reason == ReasonCapacity {
				evicted = append(evicted, key)
			}
		}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	for i := 1; i <= 5; i++ {
		_, _ = cache.Set(fmt.Sprintf("key%d", i), i)
		if cache.Size() > 3 {
			t.Fatalf("Size exceeded capacity: %d", cache.Size())
		}
	}

	if cache.Size() != 3 {
		t.Errorf("Expected size 3, got %d", cache.Size())
	}

	// key1 and key2 were the oldest and must be gone
	if len(evicted) != 2 || evicted[0] != "key1" || evicted[1] != "key2" {
		t.Errorf("Expected [key1 key2] evicted, got %v", evicted)
	}
	if cache.Contains("key1") || cache.Contains("key2") {
		t.Error("Expected oldest entries to be evicted")
	}
	for i := 3; i <= 5; i++ {
		if !cache.Contains(fmt.Sprintf("key%d", i)) {
			t.Errorf("Expected key%d to survive", i)
		}
	}
}

func TestGetRefreshesLRUOrder(t *testing.T) {
	cache, _ := New[int](3, 0)

	_, _ = cache.Set("a", 1)
	_, _ = cache.Set("b", 2)
	_, _ = cache.Set("c", 3)

	// Touch "a" so "b" becomes the LRU entry.
	if _, exists := cache.Get("a"); !exists {
		t.Fatal("Expected hit on a")
	}

	_, _ = cache.Set("d", 4)

	if cache.Contains("b") {
		t.Error("Expected b to be evicted as least recently used")
	}
	if !cache.Contains("a") {
		t.Error("Expected a to survive after access")
	}
}

func TestLazyExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var expired []string
	cache, err := New[int](10, 30*time.Second,
		WithClock[int](func() time.Time { return clock() }),
		WithEvictionCallback[int](func(key string, _ int, reason EvictReason) {
			if reason == ReasonExpired {
				expired = append(expired, key)
			}
		}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	_, _ = cache.Set("key1", 1)
	_, _ = cache.Set("key2", 2)

	// Not yet expired
	now = now.Add(29 * time.Second)
	if cache.Size() != 2 {
		t.Errorf("Expected size 2 before expiry, got %d", cache.Size())
	}

	// Touch key2 to refresh its TTL, then cross key1's deadline.
	if _, exists := cache.Get("key2"); !exists {
		t.Fatal("Expected hit on key2")
	}
	now = now.Add(2 * time.Second)

	if cache.Contains("key1") {
		t.Error("Expected key1 to be expired")
	}
	if !cache.Contains("key2") {
		t.Error("Expected refreshed key2 to survive")
	}
	if len(expired) != 1 || expired[0] != "key1" {
		t.Errorf("Expected [key1] expired, got %v", expired)
	}
}

func TestSizeSweepsExpired(t *testing.T) {
	now := time.Now()
	cache, _ := New[int](10, time.Second,
		WithClock[int](func() time.Time { return now }))

	_, _ = cache.Set("key1", 1)
	now = now.Add(2 * time.Second)

	// Size itself must not report expired entries.
	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after expiry, got %d", cache.Size())
	}
}

func TestUpdateComputesInPlace(t *testing.T) {
	cache, _ := New[float64](10, 0)

	value, existed, err := cache.Update("total", func(old float64, exists bool) (float64, error) {
		if exists {
			return old + 5, nil
		}
		return 5, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if existed || value != 5 {
		t.Errorf("Expected fresh value 5, got %v (existed=%t)", value, existed)
	}

	value, existed, err = cache.Update("total", func(old float64, _ bool) (float64, error) {
		return old + 5, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !existed || value != 10 {
		t.Errorf("Expected accumulated value 10, got %v (existed=%t)", value, existed)
	}
}

func TestUpdateErrorLeavesCacheUnchanged(t *testing.T) {
	cache, _ := New[int](10, 0)
	_, _ = cache.Set("key1", 1)

	_, _, err := cache.Update("key1", func(int, bool) (int, error) {
		return 0, fmt.Errorf("rejected")
	})
	if err == nil {
		t.Fatal("Expected error from update func")
	}

	if value, _ := cache.Get("key1"); value != 1 {
		t.Errorf("Expected original value 1, got %d", value)
	}
}

func TestUpdateEvictsAtCapacity(t *testing.T) {
	var order []string
	cache, _ := New[int](1, 0,
		WithEvictionCallback[int](func(key string, _ int, _ EvictReason) {
			order = append(order, "evict:"+key)
		}))

	_, _ = cache.Set("old", 1)
	_, _, err := cache.Update("new", func(_ int, exists bool) (int, error) {
		order = append(order, fmt.Sprintf("compute(exists=%t)", exists))
		return 2, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The victim is only removed once the new value has been computed,
	// and its removal precedes the insertion.
	if len(order) != 2 || order[0] != "compute(exists=false)" || order[1] != "evict:old" {
		t.Errorf("Unexpected operation order: %v", order)
	}
	if cache.Size() != 1 || !cache.Contains("new") {
		t.Error("Expected only the new entry to remain")
	}
}

func TestUpdateErrorAtCapacityKeepsEntries(t *testing.T) {
	var evicted []string
	cache, _ := New[int](1, 0,
		WithEvictionCallback[int](func(key string, _ int, _ EvictReason) {
			evicted = append(evicted, key)
		}))

	_, _ = cache.Set("old", 1)

	// A failed compute for a new key at capacity must not cost the
	// resident entry its place.
	_, _, err := cache.Update("new", func(int, bool) (int, error) {
		return 0, fmt.Errorf("rejected")
	})
	if err == nil {
		t.Fatal("Expected error from update func")
	}

	if len(evicted) != 0 {
		t.Errorf("Expected no evictions, got %v", evicted)
	}
	if !cache.Contains("old") || cache.Contains("new") {
		t.Error("Expected the resident entry to survive and the new key to be absent")
	}
	if value, _ := cache.Get("old"); value != 1 {
		t.Errorf("Expected original value 1, got %d", value)
	}
}

func TestKeysAndValuesOrder(t *testing.T) {
	cache, _ := New[int](10, 0)
	_, _ = cache.Set("a", 1)
	_, _ = cache.Set("b", 2)
	_, _ = cache.Set("c", 3)

	keys := cache.Keys()
	if len(keys) != 3 || keys[0] != "c" || keys[2] != "a" {
		t.Errorf("Expected MRU-first key order, got %v", keys)
	}

	values := cache.Values()
	if len(values) != 3 || values[0] != 3 || values[2] != 1 {
		t.Errorf("Expected MRU-first value order, got %v", values)
	}
}

func TestClearFiresCallbacks(t *testing.T) {
	var cleared int
	cache, _ := New[int](10, 0,
		WithEvictionCallback[int](func(_ string, _ int, reason EvictReason) {
			if reason == ReasonCleared {
				cleared++
			}
		}))

	_, _ = cache.Set("a", 1)
	_, _ = cache.Set("b", 2)
	cache.Clear()

	if cleared != 2 {
		t.Errorf("Expected 2 cleared callbacks, got %d", cleared)
	}
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got size %d", cache.Size())
	}
}

func TestInvalidMaxSize(t *testing.T) {
	if _, err := New[int](0, time.Minute); err == nil {
		t.Error("Expected error for zero maxSize")
	}
	if _, err := New[int](-1, time.Minute); err == nil {
		t.Error("Expected error for negative maxSize")
	}
}

func TestConcurrentAccess(t *testing.T) {
	cache, _ := New[int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key%d", j%20)
				_, _ = cache.Set(key, id)
				_, _ = cache.Get(key)
				_, _, _ = cache.Update(key, func(old int, _ bool) (int, error) {
					return old + 1, nil
				})
			}
		}(i)
	}
	wg.Wait()

	if cache.Size() > 100 {
		t.Errorf("Size exceeded capacity: %d", cache.Size())
	}
}

func TestStatistics(t *testing.T) {
	cache, _ := New[int](2, 0)

	_, _ = cache.Set("a", 1)
	_, _ = cache.Get("a")
	_, _ = cache.Get("missing")
	_, _ = cache.Set("b", 2)
	_, _ = cache.Set("c", 3) // evicts a
	_, _ = cache.Delete("b")

	stats := cache.Stats()
	if stats.Hits() != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits())
	}
	if stats.Misses() != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses())
	}
	if stats.Evictions() != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions())
	}
	if stats.Deletes() != 1 {
		t.Errorf("Expected 1 delete, got %d", stats.Deletes())
	}
}
