// Package cloud is a reference implementation of the remote sync service:
// a tombstone-retaining record table served over HTTP and NATS. projectd
// uses it for local development and its tests use it as the remote.
package cloud

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// Table holds the remote copy of every project. It satisfies the sync
// engine's Remote interface directly, which makes it usable in-process.
type Table struct {
	mu      sync.Mutex
	records map[string]project.Record
	pushes  int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]project.Record)}
}

// FetchSnapshot returns a copy of every record, tombstones included.
func (t *Table) FetchSnapshot(ctx context.Context) (project.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(project.Snapshot, len(t.records))
	for id, r := range t.records {
		snap[id] = r
	}
	return snap, nil
}

// Push stores rec unless the table already holds a newer version of it.
// Re-pushing the same version is accepted.
func (t *Table) Push(ctx context.Context, rec project.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return project.E(project.KindInvalidArgument, "push", "", fmt.Errorf("record id cannot be empty"))
	}
	if rec.Version < 1 {
		return project.E(project.KindInvalidArgument, "push", rec.ID, fmt.Errorf("version must be positive, got %d", rec.Version))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.records[rec.ID]; ok && rec.Version < cur.Version {
		return project.E(project.KindConflict, "push", rec.ID,
			fmt.Errorf("remote holds version %d, pushed %d", cur.Version, rec.Version))
	}
	t.records[rec.ID] = rec
	t.pushes++
	return nil
}

// Put stores rec unconditionally.
func (t *Table) Put(rec project.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.ID] = rec
}

// Get returns the record for id.
func (t *Table) Get(id string) (project.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	return r, ok
}

// IDs returns every stored id, sorted.
func (t *Table) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Pushes returns the number of accepted pushes.
func (t *Table) Pushes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pushes
}

// wireSnapshot returns the table in wire form, sorted by id.
func (t *Table) wireSnapshot() SnapshotResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := SnapshotResponse{Records: make([]Record, 0, len(t.records))}
	for _, r := range t.records {
		out.Records = append(out.Records, FromRecord(r))
	}
	slices.SortFunc(out.Records, func(a, b Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
