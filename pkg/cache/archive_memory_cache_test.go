package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	value, ok, _ := c.Get(ctx, "k")
	if !ok || value != "v" {
		t.Fatalf("Get = (%q, %v), want (v, true)", value, ok)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("key survived delete")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "k", "v", time.Hour)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh key missing")
	}
	now = now.Add(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expired key still present")
	}
}

func TestMemoryCache_GetOrCreate_SingleFlight(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var produced int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&produced, 1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate(ctx, "k", 0, producer)
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}
	// Give the goroutines time to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&produced); got != 1 {
		t.Errorf("producer ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != "value" {
			t.Errorf("result[%d] = %q, want value", i, v)
		}
	}
}

func TestMemoryCache_GetOrCreate_HitSkipsProducer(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.Set(ctx, "k", "cached", 0)

	v, err := c.GetOrCreate(ctx, "k", 0, func(ctx context.Context) (string, error) {
		t.Fatal("producer ran on a cache hit")
		return "", nil
	})
	if err != nil || v != "cached" {
		t.Fatalf("GetOrCreate = (%q, %v), want (cached, nil)", v, err)
	}
}

func TestMemoryCache_DeleteMulti(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.Set(ctx, "a", "1", 0)
	c.Set(ctx, "b", "2", 0)
	c.Set(ctx, "c", "3", 0)

	c.DeleteMulti(ctx, []string{"a", "b"})
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("a survived DeleteMulti")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Error("c was deleted but not named")
	}
}
