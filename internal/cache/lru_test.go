package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be present")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("a = %q, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clock := newTestCache(10, 5*time.Minute)
	c.Set("tenant-a:translations", "x")
	c.Set("tenant-b:translations", "y")

	clock.t = clock.t.Add(4 * time.Minute)
	if _, ok := c.Get("tenant-a:translations"); !ok {
		t.Fatal("entry should still be fresh")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if _, ok := c.Get("tenant-a:translations"); ok {
		t.Fatal("entry should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired removed %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestLRUDeletePrefixAndLookupHook(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	var hits, misses int
	c.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}
	c.Set("t1:einheiten", "a")
	c.Set("t1:mieter", "b")
	c.Set("t2:einheiten", "c")

	if n := c.DeletePrefix("t1:"); n != 2 {
		t.Fatalf("DeletePrefix removed %d", n)
	}
	c.Get("t1:einheiten")
	c.Get("t2:einheiten")
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestJanitorSweep(t *testing.T) {
	c, clock := newTestCache(10, time.Second)
	c.Set("k", "v")
	clock.t = clock.t.Add(time.Hour)

	j := NewJanitor(nil)
	j.Register("test", c)
	if n := j.Sweep(); n != 1 {
		t.Fatalf("sweep removed %d", n)
	}
	j.Stop() // no-op when never started
}
