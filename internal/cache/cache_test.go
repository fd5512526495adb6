package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock steps time manually so TTL boundaries are exact.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_GetPutRoundTrip(t *testing.T) {
	s := New[int](10, time.Hour)
	s.Put("a", 1)
	v, ok := s.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}
}

func TestStore_LRUEvictionProtectsRecentlyRead(t *testing.T) {
	// Scenario: maxSize=2; put a, put b, get a, put c => b evicted.
	clock := newFakeClock()
	s := New[int](2, time.Hour)
	s.SetClock(clock.Now)

	s.Put("a", 1)
	clock.Advance(time.Second)
	s.Put("b", 2)
	clock.Advance(time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("a should be present")
	}
	clock.Advance(time.Second)
	s.Put("c", 3)

	if _, ok := s.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("a should survive: it was read just before the insert")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestStore_EvictExactlyOneOnOverflow(t *testing.T) {
	clock := newFakeClock()
	s := New[int](5, time.Hour)
	s.SetClock(clock.Now)

	for i := 0; i < 6; i++ {
		s.Put(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Second)
	}
	if got := s.Len(); got != 5 {
		t.Fatalf("Len = %d, want 5", got)
	}
	if _, ok := s.Get("k0"); ok {
		t.Error("k0 was least recently used and should be gone")
	}
	if s.Stats().EvictedEntries != 1 {
		t.Errorf("EvictedEntries = %d, want 1", s.Stats().EvictedEntries)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	s := New[string](10, time.Hour)
	s.SetClock(clock.Now)

	s.PutTTL("k", "v", 10*time.Second)
	clock.Advance(5 * time.Second)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry should still be live at half TTL")
	}
	clock.Advance(6 * time.Second)
	if _, ok := s.Get("k"); ok {
		t.Fatal("entry should be absent past its TTL")
	}

	stats := s.Stats()
	if stats.ExpiredItems != 1 {
		t.Errorf("ExpiredItems = %d, want 1", stats.ExpiredItems)
	}
	if stats.Size != 0 {
		t.Errorf("Size = %d, want 0 after lazy removal", stats.Size)
	}
}

func TestStore_OverwriteDoesNotEvict(t *testing.T) {
	s := New[int](2, time.Hour)
	s.Put("a", 1)
	s.Put("b", 2)
	s.Put("a", 10) // overwrite, not an insert
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if v, _ := s.Get("a"); v != 10 {
		t.Errorf("a = %d, want 10", v)
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("b should not have been evicted by an overwrite")
	}
}

func TestStore_StatsHitRate(t *testing.T) {
	s := New[int](10, time.Hour)
	s.Put("a", 1)
	s.Get("a")       // hit
	s.Get("a")       // hit
	s.Get("missing") // miss

	stats := s.Stats()
	if stats.TotalAccesses != 3 {
		t.Errorf("TotalAccesses = %d, want 3", stats.TotalAccesses)
	}
	want := 2.0 / 3.0
	if stats.HitRate < want-1e-9 || stats.HitRate > want+1e-9 {
		t.Errorf("HitRate = %f, want %f", stats.HitRate, want)
	}
}

func TestStore_ClearResetsCounters(t *testing.T) {
	s := New[int](10, time.Hour)
	s.Put("a", 1)
	s.Get("a")
	s.Get("b")
	s.Clear()

	stats := s.Stats()
	if stats.Size != 0 || stats.TotalAccesses != 0 || stats.HitRate != 0 {
		t.Errorf("stats after clear = %+v, want zeroed", stats)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("a should be gone after clear")
	}
}

func TestStore_InvalidateRemovesSingleKey(t *testing.T) {
	s := New[int](10, time.Hour)
	s.Put("a", 1)
	s.Put("b", 2)
	s.Invalidate("a")
	if _, ok := s.Get("a"); ok {
		t.Error("a should be invalidated")
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("b should be untouched")
	}
}

func TestStore_DefaultsApplied(t *testing.T) {
	s := New[int](0, 0)
	if s.maxSize != DefaultMaxSize || s.defaultTTL != DefaultTTL {
		t.Errorf("defaults = (%d, %v), want (%d, %v)",
			s.maxSize, s.defaultTTL, DefaultMaxSize, DefaultTTL)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New[int](32, time.Hour)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*7+i)%40)
				s.Put(key, i)
				s.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if s.Len() > 32 {
		t.Errorf("Len = %d exceeds capacity 32", s.Len())
	}
}
