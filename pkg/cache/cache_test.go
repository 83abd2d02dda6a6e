package cache

import (
	"testing"
	"time"
)

func TestInMemoryCache_SetGet(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1, 0)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("got=(%d,%v) want=(1,true)", v, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("未写入的键不应该命中")
	}

	if c.Size() != 1 {
		t.Fatalf("size got=%d want=1", c.Size())
	}
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("过期项不应该命中")
	}
}

func TestInMemoryCache_Close(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)

	// Close 可重复调用，关闭后读写仍然安全
	c.Close()
	c.Close()

	c.Set("a", 1, 0)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("got=(%d,%v) want=(1,true)", v, ok)
	}
}
