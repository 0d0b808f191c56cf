package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestControllerAllowsRequest(t *testing.T) {
	c := NewController(200, 10*time.Second, time.Second)

	result, err := Call(c, func() (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !result {
		t.Error("request result was not propagated")
	}
}

func TestControllerBlocksOnLimit(t *testing.T) {
	// One request per window: 300 rpm over a 200ms window prorates to 1.
	c := NewController(300, 200*time.Millisecond, 10*time.Millisecond)

	if err := c.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Acquire()
	}()

	select {
	case <-done:
		t.Fatal("second Acquire proceeded before quota refresh")
	case <-time.After(100 * time.Millisecond):
	}

	// After the window rolls over the blocked caller proceeds.
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire after refresh: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not proceed after window refresh")
	}
}

func TestControllerAllowsAfterRefresh(t *testing.T) {
	refresh := 200 * time.Millisecond
	c := NewController(300, refresh, 50*time.Millisecond)

	start := time.Now()
	if err := c.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := c.Acquire(); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < refresh {
		t.Errorf("second Acquire returned after %v, expected to wait at least %v", elapsed, refresh)
	}
}

func TestControllerBoundedRetries(t *testing.T) {
	// Zero retry delay and a slow refresh: retries burn out fast instead of
	// looping forever.
	c := NewController(1, time.Minute, 0)

	if err := c.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	err := c.Acquire()
	if !errors.Is(err, ErrTooManyRetries) {
		t.Fatalf("Acquire with exhausted quota = %v, want ErrTooManyRetries", err)
	}
}

func TestControllerProratedGrant(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewController(60, 5*time.Second, 0)
	c.now = func() time.Time { return now }
	c.windowStart = now

	// 60 rpm over a 5s window grants 5 requests.
	for i := 0; i < 5; i++ {
		if !c.tryAcquire() {
			t.Fatalf("tryAcquire %d within grant failed", i+1)
		}
	}
	if c.tryAcquire() {
		t.Error("tryAcquire beyond grant succeeded without refresh")
	}

	now = now.Add(5 * time.Second)
	if !c.tryAcquire() {
		t.Error("tryAcquire after window rollover failed")
	}
}
