package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

var statusNames = []struct {
	bit  registry.StatusBit
	name string
}{
	{registry.Running, "RUNNING"},
	{registry.Primary, "PRIMARY"},
	{registry.Replica, "REPLICA"},
	{registry.Synced, "SYNCED"},
	{registry.Maint, "MAINT"},
	{registry.Draining, "DRAINING"},
	{registry.Stale, "STALE"},
	{registry.DiskSpace, "DISK_SPACE"},
}

func statusLabels(status registry.StatusBit) []string {
	var out []string
	for _, s := range statusNames {
		if status.Has(s.bit) {
			out = append(out, s.name)
		}
	}
	return out
}

type journalEntry struct {
	Status []string `json:"status"`
	LagS   int      `json:"lag_s"`
}

type journalDoc struct {
	Servers map[string]journalEntry `json:"servers"`
}

// journalWriter rewrites the monitor journal file atomically (write temp,
// rename): at most once per journalMaxAge seconds unless
// a status change forces an immediate write.
type journalWriter struct {
	path        string
	maxAge      time.Duration
	mu          sync.Mutex
	lastWritten time.Time
}

func newJournalWriter(path string, maxAge time.Duration) *journalWriter {
	return &journalWriter{path: path, maxAge: maxAge}
}

// WriteNow writes the journal unconditionally, used when a status change was
// detected this tick.
func (j *journalWriter) WriteNow(snapshots map[string]registry.Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.write(snapshots); err == nil {
		j.lastWritten = time.Now()
	}
}

// WriteIfStale writes the journal only if journalMaxAge has elapsed since
// the last write, used on ticks with no detected change.
func (j *journalWriter) WriteIfStale(snapshots map[string]registry.Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.maxAge <= 0 || time.Since(j.lastWritten) < j.maxAge {
		return
	}
	if err := j.write(snapshots); err == nil {
		j.lastWritten = time.Now()
	}
}

func (j *journalWriter) write(snapshots map[string]registry.Snapshot) error {
	if j.path == "" {
		return nil
	}
	doc := journalDoc{Servers: make(map[string]journalEntry, len(snapshots))}
	for name, snap := range snapshots {
		doc.Servers[name] = journalEntry{Status: statusLabels(snap.Status), LagS: snap.LagSeconds}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, j.path)
}
