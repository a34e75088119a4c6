package cloud

import (
	"time"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// Record is the wire form of a project record, shared by the HTTP (JSON)
// and NATS (CBOR) protocols.
type Record struct {
	ID        string    `json:"id" cbor:"id"`
	Payload   string    `json:"payload" cbor:"payload"`
	Version   int64     `json:"version" cbor:"version"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
	Deleted   bool      `json:"deleted" cbor:"deleted"`
}

// SnapshotResponse is the body of a snapshot fetch.
type SnapshotResponse struct {
	Records []Record `json:"records" cbor:"records"`
}

// Reply is the NATS reply envelope. Error is empty on success.
type Reply struct {
	Snapshot *SnapshotResponse `json:"snapshot,omitempty" cbor:"snapshot,omitempty"`
	Kind     string            `json:"kind,omitempty" cbor:"kind,omitempty"`
	Error    string            `json:"error,omitempty" cbor:"error,omitempty"`
}

// ErrorBody is the HTTP error body.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FromRecord converts a store record to its wire form.
func FromRecord(r project.Record) Record {
	return Record{
		ID:        r.ID,
		Payload:   r.Payload,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt.UTC(),
		Deleted:   r.Deleted,
	}
}

// ToRecord converts a wire record to a store record.
func (r Record) ToRecord() project.Record {
	return project.Record{
		ID:        r.ID,
		Payload:   r.Payload,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt.UTC(),
		Deleted:   r.Deleted,
	}
}

// ToSnapshot converts a wire snapshot to a store snapshot.
func (s SnapshotResponse) ToSnapshot() project.Snapshot {
	snap := make(project.Snapshot, len(s.Records))
	for _, r := range s.Records {
		snap[r.ID] = r.ToRecord()
	}
	return snap
}
