// Package project holds the local project table shared by the invocation
// surface and the sync engine.
//
// Each project is a Record keyed by a caller-assigned id and carries an
// opaque payload, a monotonically increasing version, the time of its last
// mutation, and a tombstone flag. Deletions are tombstones until the sync
// engine has pushed them to the remote, after which they are purged.
//
// All Store operations are linearizable: a single mutex guards the table and
// no operation performs network I/O while holding it. A Persister, when
// configured, is written through under the lock so that a failed write
// leaves the table unchanged.
//
// Errors carry a Kind from a closed taxonomy (see KindOf) and match the
// package sentinels with errors.Is.
package project
