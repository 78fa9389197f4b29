package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "A")
	c.Set("b", "B")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set("c", "C")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "A" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("Size = %d", c.Size())
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "A")
	c.Set("b", "B")

	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "B2")
	clk.t = clk.t.Add(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if v, ok := c.Get("b"); !ok || v != "B2" {
		t.Fatalf("Get(b) = %q, %v", v, ok)
	}

	clk.t = clk.t.Add(time.Hour)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired = %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("Size = %d", c.Size())
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("Stats = %d/%d", hits, misses)
	}
}

func TestLRUCacheGetMany(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", "A")
	c.Set("c", "C")
	found, missing := c.GetMany([]string{"a", "b", "c", "d"})
	if len(found) != 2 || found["c"] != "C" {
		t.Fatalf("found = %v", found)
	}
	if len(missing) != 2 || missing[0] != "b" || missing[1] != "d" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestManagerSweepAndStop(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "A")
	clk.t = clk.t.Add(2 * time.Minute)

	m := NewManager()
	m.Register(c)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d", n)
	}

	m.StartCleanup(time.Millisecond)
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()

	idle := NewManager()
	idle.Stop()
}

func TestLoaderMemoizesAndSharesCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	l := NewLoader(func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		<-release
		return "v:" + key, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Load(context.Background(), "k")
			if err != nil {
				t.Errorf("Load: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		if v != "v:k" {
			t.Fatalf("results = %v", results)
		}
	}
	if _, err := l.Load(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times", n)
	}
}

func TestLoaderDoesNotMemoizeErrors(t *testing.T) {
	fail := true
	calls := 0
	l := NewLoader(func(_ context.Context, key string) (int, error) {
		calls++
		if fail {
			return 0, errors.New("down")
		}
		return len(key), nil
	})

	if _, err := l.Load(context.Background(), "abc"); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	var got []int
	for _, k := range []string{"abc", "de", "abc"} {
		v, err := l.Load(context.Background(), k)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("Load = %v", got)
	}
	if calls != 3 {
		t.Fatalf("fetch called %d times", calls)
	}
}
