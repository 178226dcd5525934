package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New()
	c.Set("k", 42, time.Minute)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	c.Set("k", "v", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still visible")
	}
}

func TestDelete(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted entry still visible")
	}
}

func TestOverwrite(t *testing.T) {
	c := New()
	c.Set("k", 1, time.Minute)
	c.Set("k", 2, time.Minute)
	v, _ := c.Get("k")
	if v.(int) != 2 {
		t.Errorf("got %v, want 2", v)
	}
}

func TestLenAcrossShards(t *testing.T) {
	c := New()
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i, time.Minute)
	}
	if got := c.Len(); got != 100 {
		t.Errorf("Len = %d, want 100", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				c.Set(key, i, time.Minute)
				c.Get(key)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
}
