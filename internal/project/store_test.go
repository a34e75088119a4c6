package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestStore(opts ...Option) *Store {
	return NewStore(append([]Option{WithClock(fixedClock(time.Unix(1700000000, 0)))}, opts...)...)
}

func TestStore_Save(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		id       string
		payload  string
		wantKind Kind
		wantErr  bool
	}{
		{name: "valid project", id: "p1", payload: "{}"},
		{name: "empty payload", id: "p2", payload: ""},
		{name: "empty id", id: "", payload: "{}", wantErr: true, wantKind: KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			v, err := s.Save(ctx, tt.id, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				assert.Empty(t, s.Snapshot(ctx))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)

			got, err := s.Load(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestStore_SaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for want := int64(1); want <= 3; want++ {
		v, err := s.Save(ctx, "p1", fmt.Sprintf("v%d", want))
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	rec, ok := s.Get(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, "v3", rec.Payload)
	assert.Equal(t, int64(3), rec.Version)
}

func TestStore_SaveOverwriteLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Save(ctx, "p1", "A")
	require.NoError(t, err)
	_, err = s.Save(ctx, "p1", "B")
	require.NoError(t, err)

	got, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "B", got)
	assert.Equal(t, []string{"p1"}, s.List(ctx))
}

func TestStore_ListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	assert.Empty(t, s.List(ctx))

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := s.Save(ctx, id, "x")
		require.NoError(t, err)
	}
	_, err := s.Save(ctx, "alpha", "updated")
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, s.List(ctx))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Save(ctx, "p1", "X")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "p1"))

	_, err = s.Load(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, s.List(ctx))
	assert.Empty(t, s.OfflineData(ctx))

	snap := s.Snapshot(ctx)
	require.Contains(t, snap, "p1")
	assert.True(t, snap["p1"].Deleted)
	assert.Equal(t, int64(2), snap["p1"].Version)

	err = s.Delete(ctx, "p1")
	assert.Equal(t, KindNotFound, KindOf(err))

	err = s.Delete(ctx, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore()
	_, err := s.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStore_ReviveTombstone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Save(ctx, "a", "1")
	require.NoError(t, err)
	_, err = s.Save(ctx, "b", "1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))

	v, err := s.Save(ctx, "a", "2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, []string{"a", "b"}, s.List(ctx))
}

func TestStore_OfflineData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, _ = s.Save(ctx, "a", "A")
	_, _ = s.Save(ctx, "b", "B")
	_, _ = s.Save(ctx, "c", "C")
	require.NoError(t, s.Delete(ctx, "b"))

	assert.Equal(t, map[string]string{"a": "A", "c": "C"}, s.OfflineData(ctx))
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, _ = s.Save(ctx, "a", "A")

	snap := s.Snapshot(ctx)
	_, _ = s.Save(ctx, "a", "B")

	assert.Equal(t, "A", snap["a"].Payload)
}

func TestStore_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1800000000, 0).UTC()

	t.Run("insert absent", func(t *testing.T) {
		s := newTestStore()
		rec := Record{ID: "r", Payload: "R", Version: 4, UpdatedAt: ts}
		require.NoError(t, s.ApplyRemote(ctx, rec, Record{}))

		got, ok := s.Get(ctx, "r")
		require.True(t, ok)
		assert.True(t, got.Equal(rec))
		assert.Equal(t, []string{"r"}, s.List(ctx))
	})

	t.Run("replace expected", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Save(ctx, "r", "old")
		cur, _ := s.Get(ctx, "r")

		rec := Record{ID: "r", Payload: "new", Version: 2, UpdatedAt: ts}
		require.NoError(t, s.ApplyRemote(ctx, rec, cur))
		got, _ := s.Load(ctx, "r")
		assert.Equal(t, "new", got)
	})

	t.Run("conflict after concurrent save", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Save(ctx, "r", "old")
		observed, _ := s.Get(ctx, "r")
		_, _ = s.Save(ctx, "r", "edited")

		err := s.ApplyRemote(ctx, Record{ID: "r", Payload: "remote", Version: 5, UpdatedAt: ts}, observed)
		assert.Equal(t, KindConflict, KindOf(err))
		got, _ := s.Load(ctx, "r")
		assert.Equal(t, "edited", got)
	})

	t.Run("conflict when absent expected but present", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Save(ctx, "r", "local")
		err := s.ApplyRemote(ctx, Record{ID: "r", Payload: "remote", Version: 1, UpdatedAt: ts}, Record{})
		assert.True(t, errors.Is(err, ErrConflict))
	})

	t.Run("tombstone removes record and raises floor", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Save(ctx, "r", "local")
		cur, _ := s.Get(ctx, "r")

		require.NoError(t, s.ApplyRemote(ctx, Record{ID: "r", Version: 7, UpdatedAt: ts, Deleted: true}, cur))
		_, ok := s.Get(ctx, "r")
		assert.False(t, ok)

		v, err := s.Save(ctx, "r", "again")
		require.NoError(t, err)
		assert.Equal(t, int64(8), v)
	})
}

func TestStore_Purge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, _ = s.Save(ctx, "p", "x")
	require.NoError(t, s.Delete(ctx, "p"))

	assert.Equal(t, KindConflict, KindOf(s.Purge(ctx, "p", 1)))
	require.NoError(t, s.Purge(ctx, "p", 2))
	assert.Empty(t, s.Snapshot(ctx))

	v, err := s.Save(ctx, "p", "y")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v, "re-created project continues above the purged version")
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, _ = s.Save(ctx, "a", "1")
	_, _ = s.Save(ctx, "a", "2")
	_, _ = s.Save(ctx, "b", "1")
	require.NoError(t, s.Delete(ctx, "b"))

	assert.Equal(t, Stats{Live: 1, Tombstones: 1, MaxVersion: 2}, s.Stats(ctx))
}

func TestStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Save(ctx, "shared", fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err)
				_, err = s.Save(ctx, fmt.Sprintf("own-%d", w), "x")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	rec, ok := s.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, int64(writers*perWriter), rec.Version)
	assert.Len(t, s.List(ctx), writers+1)
}

type failingPersister struct {
	memPersister
	fail bool
}

func (f *failingPersister) Put(ctx context.Context, seq int64, rec Record) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.memPersister.Put(ctx, seq, rec)
}

type memPersister struct {
	rows   map[string]Row
	floors map[string]int64
}

func (m *memPersister) LoadAll(ctx context.Context) ([]Row, error) {
	out := make([]Row, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memPersister) Put(ctx context.Context, seq int64, rec Record) error {
	if m.rows == nil {
		m.rows = make(map[string]Row)
	}
	m.rows[rec.ID] = Row{Seq: seq, Record: rec}
	return nil
}

func (m *memPersister) LoadFloors(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(m.floors))
	for id, v := range m.floors {
		out[id] = v
	}
	return out, nil
}

func (m *memPersister) Remove(ctx context.Context, id string, floor int64) error {
	if m.floors == nil {
		m.floors = make(map[string]int64)
	}
	delete(m.rows, id)
	m.floors[id] = max(m.floors[id], floor)
	return nil
}

func TestStore_PersisterFailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	p := &failingPersister{}
	s := newTestStore(WithPersister(p))

	_, err := s.Save(ctx, "a", "1")
	require.NoError(t, err)

	p.fail = true
	_, err = s.Save(ctx, "a", "2")
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))

	err = s.Delete(ctx, "a")
	require.Error(t, err)

	rec, _ := s.Get(ctx, "a")
	assert.Equal(t, "1", rec.Payload)
	assert.Equal(t, int64(1), rec.Version)
	assert.False(t, rec.Deleted)
}

func TestOpen_RestoresOrderAndTombstones(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(WithPersister(p))

	_, _ = s.Save(ctx, "first", "1")
	_, _ = s.Save(ctx, "second", "2")
	_, _ = s.Save(ctx, "third", "3")
	require.NoError(t, s.Delete(ctx, "second"))

	reopened, err := Open(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "third"}, reopened.List(ctx))
	assert.True(t, reopened.Snapshot(ctx)["second"].Deleted)

	_, err = reopened.Save(ctx, "fourth", "4")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "third", "fourth"}, reopened.List(ctx))
}

func TestOpen_RestoresVersionFloors(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(WithPersister(p))

	_, _ = s.Save(ctx, "gone", "1")
	_, _ = s.Save(ctx, "gone", "2")
	require.NoError(t, s.Delete(ctx, "gone"))
	require.NoError(t, s.Purge(ctx, "gone", 3))
	require.NoError(t, s.ApplyRemote(ctx, Record{ID: "remote-only", Version: 7, Deleted: true}, Record{}))

	reopened, err := Open(ctx, p)
	require.NoError(t, err)

	v, err := reopened.Save(ctx, "gone", "again")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v, "re-created id continues above the purged tombstone")

	v, err = reopened.Save(ctx, "remote-only", "mine")
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}
