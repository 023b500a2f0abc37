package registry

import "testing"

func TestPublishThenGetSeesConsistentPair(t *testing.T) {
	r := New()
	r.Add(&Server{Name: "m1", Address: "10.0.0.1", Port: 3306})

	r.Publish("m1", Running|Primary, 0)

	snap := r.Get("m1").Snapshot()
	if !snap.Status.Has(Running) || !snap.Status.Has(Primary) || snap.LagSeconds != 0 {
		t.Fatalf("got %+v", snap)
	}
}

func TestListIsStableInsertionOrder(t *testing.T) {
	r := New()
	names := []string{"m", "r1", "r2"}
	for _, n := range names {
		r.Add(&Server{Name: n})
	}
	got := r.List()
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, n := range names {
		if got[i].Name != n {
			t.Fatalf("order mismatch at %d: got %s, want %s", i, got[i].Name, n)
		}
	}
}

func TestCountersAreAtomic(t *testing.T) {
	s := &Server{Name: "m"}
	for i := 0; i < 5; i++ {
		s.IncConnectionsOpened()
	}
	s.IncCurrentlyOpen(3)
	s.IncCurrentlyOpen(-1)
	s.IncAuthFailures()

	c := s.CountersSnapshot()
	if c.ConnectionsOpened != 5 || c.CurrentlyOpen != 2 || c.AuthFailures != 1 {
		t.Fatalf("got %+v", c)
	}
}

func TestUnpublishedServerHasZeroSnapshot(t *testing.T) {
	s := &Server{Name: "fresh"}
	snap := s.Snapshot()
	if snap.Status != 0 || snap.LagSeconds != 0 {
		t.Fatalf("got %+v", snap)
	}
}
