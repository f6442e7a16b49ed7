package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	bucket := newTokenBucket(2, 5, clock.Now) // 2 tokens per second, capacity of 5

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	clock.Advance(1100 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	bucket := newTokenBucket(10, 3, clock.Now)

	clock.Advance(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if bucket.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 allowed after long idle, got %d", allowed)
	}
}

func TestLimiterPerKey(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewLimiter(1, 2)
	l.now = clock.Now

	if !l.Allow("engine") || !l.Allow("engine") {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if l.Allow("engine") {
		t.Error("Expected third engine event to be denied")
	}
	if !l.Allow("log_rotation") {
		t.Error("Expected a different key to have its own bucket")
	}

	clock.Advance(time.Second)
	if !l.Allow("engine") {
		t.Error("Expected engine event after refill")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("engine") {
			t.Fatalf("Expected event %d to be allowed when limiting disabled", i)
		}
	}

	var nilLimiter *Limiter
	if !nilLimiter.Allow("engine") {
		t.Fatal("Expected nil limiter to allow")
	}
}
