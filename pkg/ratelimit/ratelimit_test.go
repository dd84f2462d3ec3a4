package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(limit, window)
	l.now = c.now
	return l, c
}

func TestAllowBurstThenRefill(t *testing.T) {
	l, c := newTestLimiter(3, 3*time.Second)
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	ok, wait := l.Allow("1.2.3.4")
	if ok {
		t.Fatal("fourth request allowed")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("retry after = %v, want (0, 1s]", wait)
	}

	if ok, _ := l.Allow("5.6.7.8"); !ok {
		t.Error("other key shares the bucket")
	}

	c.advance(time.Second)
	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Error("token not refilled after one second")
	}
}

func TestSweepAndReset(t *testing.T) {
	l, c := newTestLimiter(1, time.Second)
	l.Allow("a")
	l.Allow("b")
	c.advance(3 * time.Second)
	l.Allow("b")
	if removed := l.Sweep(); removed != 1 || l.Len() != 1 {
		t.Fatalf("Sweep removed %d, %d left", removed, l.Len())
	}
	l.Reset("b")
	if l.Len() != 0 {
		t.Errorf("Len after Reset = %d", l.Len())
	}
}
