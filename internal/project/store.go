package project

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	seq int64
	rec Record
}

// Store is the local project table. The zero value is not usable; construct
// with NewStore or Open.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	// floors keeps the last version of purged ids so a re-created project
	// continues above what the remote has already seen.
	floors map[string]int64
	seq    int64

	persister Persister
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister makes the store write through to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the wall clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		floors:  make(map[string]int64),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store backed by p and loads its persisted rows.
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	s := NewStore(append(opts, WithPersister(p))...)
	rows, err := p.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading persisted projects: %w", err)
	}
	for _, row := range rows {
		s.entries[row.Record.ID] = &entry{seq: row.Seq, rec: row.Record}
		if row.Seq > s.seq {
			s.seq = row.Seq
		}
	}
	floors, err := p.LoadFloors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading version floors: %w", err)
	}
	for id, v := range floors {
		if _, live := s.entries[id]; !live {
			s.floors[id] = v
		}
	}
	s.logger.Debug("project store opened",
		zap.Int("records", len(rows)),
		zap.Int("floors", len(s.floors)))
	return s, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) put(ctx context.Context, seq int64, rec Record) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Put(ctx, seq, rec); err != nil {
		return E(KindInternal, "persist", rec.ID, err)
	}
	return nil
}

// purge drops id from the table and raises its version floor. The caller
// holds s.mu.
func (s *Store) purge(ctx context.Context, id string, version int64) error {
	floor := max(version, s.floors[id])
	if s.persister != nil {
		if err := s.persister.Remove(ctx, id, floor); err != nil {
			return E(KindInternal, "persist", id, err)
		}
	}
	delete(s.entries, id)
	s.floors[id] = floor
	return nil
}

// Save creates or replaces the payload for id and returns the new version.
// Saving over a tombstone revives the project.
func (s *Store) Save(ctx context.Context, id, payload string) (int64, error) {
	if id == "" {
		return 0, E(KindInvalidArgument, "save", "", fmt.Errorf("project id cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := Record{ID: id, Payload: payload, UpdatedAt: s.timestamp()}
	seq := s.seq + 1
	if e, ok := s.entries[id]; ok {
		next.Version = e.rec.Version + 1
		seq = e.seq
	} else {
		next.Version = s.floors[id] + 1
	}

	if err := s.put(ctx, seq, next); err != nil {
		return 0, err
	}
	if e, ok := s.entries[id]; ok {
		e.rec = next
	} else {
		s.seq = seq
		s.entries[id] = &entry{seq: seq, rec: next}
		delete(s.floors, id)
	}
	return next.Version, nil
}

// Load returns the payload of a live project.
func (s *Store) Load(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.rec.Deleted {
		return "", E(KindNotFound, "load", id, nil)
	}
	return e.rec.Payload, nil
}

// List returns the ids of live projects in insertion order.
func (s *Store) List(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.rec.Deleted {
			live = append(live, e)
		}
	}
	slices.SortFunc(live, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	ids := make([]string, len(live))
	for i, e := range live {
		ids[i] = e.rec.ID
	}
	return ids
}

// Delete tombstones a live project.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.rec.Deleted {
		return E(KindNotFound, "delete", id, nil)
	}

	next := e.rec
	next.Deleted = true
	next.Version++
	next.UpdatedAt = s.timestamp()
	if err := s.put(ctx, e.seq, next); err != nil {
		return err
	}
	e.rec = next
	return nil
}

// Snapshot returns a copy of every record, tombstones included.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(Snapshot, len(s.entries))
	for id, e := range s.entries {
		snap[id] = e.rec
	}
	return snap
}

// OfflineData returns the payload of every live project.
func (s *Store) OfflineData(ctx context.Context) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		if !e.rec.Deleted {
			data[id] = e.rec.Payload
		}
	}
	return data
}

// Get returns the record for id, tombstones included.
func (s *Store) Get(ctx context.Context, id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// ApplyRemote installs rec, a record that won reconciliation, provided the
// local record still equals expected. The zero Record as expected means the
// id must be absent. A tombstone is removed outright since the remote has
// already observed the deletion. A mismatch returns a KindConflict error.
func (s *Store) ApplyRemote(ctx context.Context, rec Record, expected Record) error {
	if rec.ID == "" {
		return E(KindInvalidArgument, "apply", "", fmt.Errorf("record id cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[rec.ID]
	switch {
	case expected.IsZero() && ok:
		return E(KindConflict, "apply", rec.ID, nil)
	case !expected.IsZero() && (!ok || !e.rec.Equal(expected)):
		return E(KindConflict, "apply", rec.ID, nil)
	}
	if ok && rec.Version < e.rec.Version {
		return E(KindConflict, "apply", rec.ID, fmt.Errorf("version %d behind local %d", rec.Version, e.rec.Version))
	}

	if rec.Deleted {
		return s.purge(ctx, rec.ID, rec.Version)
	}

	seq := s.seq + 1
	if ok {
		seq = e.seq
	}
	if err := s.put(ctx, seq, rec); err != nil {
		return err
	}
	if ok {
		e.rec = rec
	} else {
		s.seq = seq
		s.entries[rec.ID] = &entry{seq: seq, rec: rec}
		delete(s.floors, rec.ID)
	}
	return nil
}

// Purge removes the tombstone for id if it is still at version.
func (s *Store) Purge(ctx context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !e.rec.Deleted || e.rec.Version != version {
		return E(KindConflict, "purge", id, nil)
	}
	return s.purge(ctx, id, version)
}

// Stats summarizes the table.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, e := range s.entries {
		if e.rec.Deleted {
			st.Tombstones++
		} else {
			st.Live++
		}
		if e.rec.Version > st.MaxVersion {
			st.MaxVersion = e.rec.Version
		}
	}
	return st
}
