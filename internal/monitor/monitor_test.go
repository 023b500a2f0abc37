package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestDetectTransitionsNewPrimary(t *testing.T) {
	events := DetectTransitions(registry.Running, registry.Running|registry.Primary)
	want := map[Event]bool{EventPrimaryUp: true, EventNewPrimary: true}
	if len(events) != len(want) {
		t.Fatalf("got %v", events)
	}
	for _, e := range events {
		if !want[e] {
			t.Fatalf("unexpected event %v", e)
		}
	}
}

func TestDetectTransitionsLostPrimary(t *testing.T) {
	events := DetectTransitions(registry.Running|registry.Primary, registry.Running)
	found := map[Event]bool{}
	for _, e := range events {
		found[e] = true
	}
	if !found[EventPrimaryDown] || !found[EventLostPrimary] {
		t.Fatalf("got %v", events)
	}
}

func TestDetectTransitionsServerDown(t *testing.T) {
	events := DetectTransitions(registry.Running|registry.Replica, 0)
	found := map[Event]bool{}
	for _, e := range events {
		found[e] = true
	}
	if !found[EventServerDown] || !found[EventReplicaDown] || !found[EventLostReplica] {
		t.Fatalf("got %v", events)
	}
}

func TestDetectTransitionsNoChangeIsSilent(t *testing.T) {
	events := DetectTransitions(registry.Running|registry.Primary, registry.Running|registry.Primary)
	if len(events) != 0 {
		t.Fatalf("got %v, want none", events)
	}
}

func TestEventMaskHasOnlyConfiguredEvents(t *testing.T) {
	mask := MaskPrimaryDown | MaskServerDown
	if !mask.Has(EventPrimaryDown) {
		t.Fatalf("expected PrimaryDown enabled")
	}
	if mask.Has(EventPrimaryUp) {
		t.Fatalf("expected PrimaryUp disabled")
	}
}

func TestJournalWriteNowProducesAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")
	jw := newJournalWriter(path, time.Hour)

	jw.WriteNow(map[string]registry.Snapshot{
		"m1": {Status: registry.Running | registry.Primary, LagSeconds: 0},
	})

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc journalDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	entry, ok := doc.Servers["m1"]
	if !ok {
		t.Fatalf("missing server entry")
	}
	found := false
	for _, s := range entry.Status {
		if s == "PRIMARY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("got %+v, want PRIMARY in status", entry)
	}
}

func TestJournalWriteIfStaleSkipsWithinMaxAge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")
	jw := newJournalWriter(path, time.Hour)
	jw.WriteNow(map[string]registry.Snapshot{"m1": {Status: registry.Running}})

	info1, _ := os.Stat(path)
	jw.WriteIfStale(map[string]registry.Snapshot{"m1": {Status: registry.Running}})
	info2, _ := os.Stat(path)

	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatalf("expected no rewrite within max age")
	}
}

func TestRunHookSubstitutesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	template := "echo $INITIATOR $EVENT $NODELIST > " + outPath

	if err := RunHook(context.Background(), template, "10.0.0.1:3306", EventPrimaryDown, []string{"a:1", "b:2"}); err != nil {
		t.Fatalf("RunHook: %v", err)
	}
	body, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(body)
	if got != "10.0.0.1:3306 primary_down a:1,b:2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestCheckDiskSpaceHonorsIntervalAndStickiness(t *testing.T) {
	calls := 0
	m := New(registry.New(), Config{
		ProbeInterval:          time.Second,
		DiskSpaceCheckInterval: time.Hour,
		DiskProbe: func(ctx context.Context, db *sql.DB) (bool, error) {
			calls++
			return true, nil
		},
	}, testLogger(), nil)

	p := &serverProbe{}
	if !m.checkDiskSpace(context.Background(), p, nil) {
		t.Fatal("first check should run the probe and report low disk")
	}
	if !m.checkDiskSpace(context.Background(), p, nil) {
		t.Fatal("verdict should stay sticky between checks")
	}
	if calls != 1 {
		t.Fatalf("probe ran %d times within one interval", calls)
	}
}

func TestCheckDiskSpaceDisabledWithoutProbe(t *testing.T) {
	m := New(registry.New(), Config{ProbeInterval: time.Second}, testLogger(), nil)
	if m.checkDiskSpace(context.Background(), &serverProbe{}, nil) {
		t.Fatal("no probe configured must never flag DISK_SPACE")
	}
}
