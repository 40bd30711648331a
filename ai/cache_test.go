package ai

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, 1); ok {
		t.Fatal("empty cache reported a hit")
	}
	_ = c.Put(ctx, 1, "a")
	_ = c.Put(ctx, 1, "b")
	if v, ok, _ := c.Get(ctx, 1); !ok || v != "b" {
		t.Errorf("Get(1) = %q, %v", v, ok)
	}
	if _, ok, _ := c.Get(ctx, 2); ok {
		t.Error("hit for a different id")
	}
}

func TestMemoryCacheConcurrent(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = c.Put(ctx, id%5, "v")
			_, _, _ = c.Get(ctx, id%5)
		}(i)
	}
	wg.Wait()
	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}
}
