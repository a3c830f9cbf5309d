package translate

import "testing"

func TestCacheKey_CaseInsensitiveText(t *testing.T) {
	t.Parallel()
	if cacheKey("Hello there", "en", "es") != cacheKey("hello THERE", "en", "es") {
		t.Error("keys should ignore text case")
	}
	if cacheKey("hello", "en", "es") == cacheKey("hello", "es", "en") {
		t.Error("keys must distinguish direction")
	}
	if cacheKey("ab", "c", "d") == cacheKey("a", "bc", "d") {
		t.Error("keys must not collide across field boundaries")
	}
}

func TestCache_GetPut(t *testing.T) {
	t.Parallel()
	c := newCache(10)

	key := cacheKey("hello", "en", "es")
	if _, ok := c.get(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.put(key, "hola")
	got, ok := c.get(key)
	if !ok || got != "hola" {
		t.Errorf("get = %q, %v; want hola, true", got, ok)
	}
}

func TestCache_FIFOEviction(t *testing.T) {
	t.Parallel()
	c := newCache(3)

	c.put(1, "one")
	c.put(2, "two")
	c.put(3, "three")
	c.put(4, "four") // evicts key 1, the oldest

	if _, ok := c.get(1); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []uint64{2, 3, 4} {
		if _, ok := c.get(k); !ok {
			t.Errorf("key %d should survive", k)
		}
	}
	if c.len() != 3 {
		t.Errorf("len = %d, want 3", c.len())
	}
}

func TestCache_OverwriteKeepsInsertionSlot(t *testing.T) {
	t.Parallel()
	c := newCache(2)

	c.put(1, "one")
	c.put(2, "two")
	c.put(1, "uno") // overwrite must not refresh key 1's slot

	if got, _ := c.get(1); got != "uno" {
		t.Errorf("get(1) = %q, want uno", got)
	}

	// Key 1 still occupies the oldest slot, so the next insert evicts it.
	c.put(3, "three")
	if _, ok := c.get(1); ok {
		t.Error("overwritten entry should still be evicted first")
	}
	if _, ok := c.get(2); !ok {
		t.Error("key 2 should survive")
	}
}

func TestCache_ZeroCapacityDisables(t *testing.T) {
	t.Parallel()
	c := newCache(0)

	c.put(1, "one")
	if _, ok := c.get(1); ok {
		t.Error("zero-capacity cache must not store")
	}
	if c.len() != 0 {
		t.Errorf("len = %d, want 0", c.len())
	}
}
