package apisession

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type testState struct {
	Running bool
	Counter int
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestPutGetUpdate(t *testing.T) {
	s := New[testState](time.Minute)

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected miss for unknown id")
	}
	s.Put("a", testState{Counter: 1})

	if !s.Update("a", func(st *testState) { st.Counter++ }) {
		t.Fatal("Update reported unknown id")
	}
	got, ok := s.Get("a")
	if !ok || got.Counter != 2 {
		t.Errorf("expected Counter=2, got %+v (ok=%v)", got, ok)
	}

	// Get hands out copies.
	got.Counter = 99
	again, _ := s.Get("a")
	if again.Counter != 2 {
		t.Errorf("mutating a copy leaked into the store: %d", again.Counter)
	}

	if s.Update("b", func(st *testState) {}) {
		t.Error("Update should report false for unknown id")
	}
	s.Delete("a")
	if s.Len() != 0 {
		t.Errorf("expected Len()=0 after Delete, got %d", s.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := New(time.Minute, WithClock[testState](clk.now))

	s.Put("ephemeral", testState{})
	clk.advance(30 * time.Second)
	if _, ok := s.Get("ephemeral"); !ok {
		t.Fatal("entry expired too early")
	}

	clk.advance(31 * time.Second)
	if _, ok := s.Get("ephemeral"); ok {
		t.Error("expired entry still visible")
	}
	if n := s.Cleanup(); n != 1 {
		t.Errorf("expected 1 evicted, got %d", n)
	}
	if s.Len() != 0 {
		t.Errorf("expected 0 after TTL expiry, got %d", s.Len())
	}
}

func TestUpdateRefreshesTTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := New(time.Minute, WithClock[testState](clk.now))

	s.Put("a", testState{})
	clk.advance(50 * time.Second)
	s.Update("a", func(st *testState) { st.Counter++ })
	clk.advance(50 * time.Second)

	if _, ok := s.Get("a"); !ok {
		t.Error("Update should have refreshed the entry")
	}
}

func TestCleanupKeepsActive(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := New(time.Minute,
		WithClock[testState](clk.now),
		WithKeep(func(st testState) bool { return st.Running }),
	)

	s.Put("running", testState{Running: true})
	s.Put("done", testState{})
	clk.advance(time.Hour)

	s.Cleanup()
	if _, ok := s.Get("running"); !ok {
		t.Error("kept entry was evicted")
	}
	if _, ok := s.Get("done"); ok {
		t.Error("finished entry survived cleanup")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := New(0, WithClock[testState](clk.now))
	s.Put("a", testState{})
	clk.advance(24 * time.Hour)
	if s.Cleanup() != 0 {
		t.Error("zero TTL should disable eviction")
	}
}

func TestLazyCleanupOnWrite(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := New(time.Second, WithClock[testState](clk.now))

	s.Put("stale", testState{})
	clk.advance(time.Minute)
	for i := range cleanupInterval {
		s.Put(fmt.Sprintf("s%d", i), testState{})
	}
	if _, ok := s.entries["stale"]; ok {
		t.Error("stale entry should have been swept by a write")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New[testState](time.Minute)
	s.Put("shared", testState{})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("shared", func(st *testState) { st.Counter++ })
			s.Get("shared")
		}()
	}
	wg.Wait()

	got, _ := s.Get("shared")
	if got.Counter != 50 {
		t.Errorf("expected Counter=50, got %d", got.Counter)
	}
}
