package pool

import (
	"context"
	"testing"
	"time"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

func testServer(name string) *registry.Server {
	return &registry.Server{Name: name}
}

func dialCounting(t *testing.T, count *int) Dialer {
	return func(ctx context.Context, srv *registry.Server) (*Channel, error) {
		*count++
		return &Channel{Server: srv}, nil
	}
}

func TestAcquireOpensFreshChannelUnderCap(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 2, AcquireWait: time.Second})

	srv := testServer("m1")
	ch, err := p.Acquire(context.Background(), srv)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
	if ch.Server != srv {
		t.Fatalf("wrong server on channel")
	}
}

func TestReleaseThenAcquireReusesIdleChannel(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 2, AcquireWait: time.Second})
	srv := testServer("m1")

	ch, _ := p.Acquire(context.Background(), srv)
	p.Release(ch, true)

	ch2, err := p.Acquire(context.Background(), srv)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ch2 != ch {
		t.Fatalf("expected idle channel reuse, got a different channel")
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1 (no redial expected)", dials)
	}
}

func TestAcquireDiscardsHungUpIdleChannel(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 2, AcquireWait: time.Second})
	srv := testServer("m1")

	ch, _ := p.Acquire(context.Background(), srv)
	ch.HungUp = true
	p.Release(ch, true)

	ch2, err := p.Acquire(context.Background(), srv)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ch2 == ch {
		t.Fatalf("expected hung-up channel to be discarded")
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
}

func TestAcquireWaitlistTimesOutAtCapacity(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 1, AcquireWait: 30 * time.Millisecond})
	srv := testServer("m1")

	_, err := p.Acquire(context.Background(), srv) // takes the only slot
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = p.Acquire(context.Background(), srv)
	if err != ErrPoolTimeout {
		t.Fatalf("err = %v, want ErrPoolTimeout", err)
	}
}

func TestAcquireWaitlistWakesOnRelease(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 1, AcquireWait: time.Second})
	srv := testServer("m1")

	first, _ := p.Acquire(context.Background(), srv)

	done := make(chan *Channel, 1)
	go func() {
		ch, err := p.Acquire(context.Background(), srv)
		if err != nil {
			t.Errorf("Acquire: %v", err)
			return
		}
		done <- ch
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(first, true)

	select {
	case ch := <-done:
		if ch != first {
			t.Fatalf("waiter did not receive the released channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter was never woken")
	}
}

func TestStatsForReflectsOpenAndIdle(t *testing.T) {
	var dials int
	p := New(dialCounting(t, &dials))
	p.Configure("m1", Config{Capacity: 3, AcquireWait: time.Second})
	srv := testServer("m1")

	ch, _ := p.Acquire(context.Background(), srv)
	stats := p.StatsFor("m1")
	if stats.Open != 1 || stats.Idle != 0 {
		t.Fatalf("got %+v", stats)
	}

	p.Release(ch, true)
	stats = p.StatsFor("m1")
	if stats.Idle != 1 {
		t.Fatalf("got %+v", stats)
	}
}
