package project

import (
	"context"
	"time"
)

// Record is the stored state of one project.
type Record struct {
	// ID is the caller-assigned project identifier.
	ID string `json:"id"`

	// Payload is opaque serialized project content.
	Payload string `json:"payload"`

	// Version starts at 1 and never decreases.
	Version int64 `json:"version"`

	// UpdatedAt is the wall-clock time of the last mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// Deleted marks a tombstone awaiting remote acknowledgement.
	Deleted bool `json:"deleted"`
}

// IsZero reports whether r is the zero Record, used as "absent".
func (r Record) IsZero() bool {
	return r.ID == "" && r.Version == 0
}

// Equal reports whether r and o carry identical content and metadata.
func (r Record) Equal(o Record) bool {
	return r.ID == o.ID &&
		r.Payload == o.Payload &&
		r.Version == o.Version &&
		r.Deleted == o.Deleted &&
		r.UpdatedAt.Equal(o.UpdatedAt)
}

// Snapshot is a point-in-time copy of the store keyed by project id.
// It includes tombstones.
type Snapshot map[string]Record

// Stats summarizes the store contents.
type Stats struct {
	Live       int   `json:"live"`
	Tombstones int   `json:"tombstones"`
	MaxVersion int64 `json:"max_version"`
}

// Row is a persisted record together with its insertion position.
type Row struct {
	Seq    int64
	Record Record
}

// Persister is a durable backing for the store. Calls are made while the
// store lock is held and before the in-memory change is committed, so a
// failed call leaves the store unchanged.
type Persister interface {
	// LoadAll returns every persisted row.
	LoadAll(ctx context.Context) ([]Row, error)

	// LoadFloors returns the last version recorded for each purged id.
	LoadFloors(ctx context.Context) (map[string]int64, error)

	// Put inserts or replaces rec. seq is the record's insertion position.
	Put(ctx context.Context, seq int64, rec Record) error

	// Remove drops the record for id and records floor as the lowest
	// version a re-created id may not reuse. Floors only ever grow.
	Remove(ctx context.Context, id string, floor int64) error
}
