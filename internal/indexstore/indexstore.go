// Package indexstore defines the contract the Chunk Manager consumes from
// the underlying inverted-index engine. The engine itself — tokenization,
// posting lists, on-disk formats — is an external collaborator and out of
// scope; only the shape it must present to a Chunk is defined here, plus an
// in-memory reference implementation used by tests and the "memory"
// deployment profile.
package indexstore

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by any operation on a closed Store.
	ErrClosed = errors.New("index store is closed")
	// ErrSnapshotReleased is returned when a released Snapshot's files are
	// accessed again.
	ErrSnapshotReleased = errors.New("snapshot already released")
)

// Record is the minimal capability set a caller's message type must expose
// to be indexed: a serialized byte payload and the timestamp it should be
// bucketed under. Concrete record types (e.g. a log line with attributes)
// satisfy this by delegating to their own fields; indexstore never inspects
// payload structure.
type Record interface {
	// Serialize returns the wire bytes to append to the store's log.
	Serialize() ([]byte, error)
	// TimestampEpochMS is the record's logical time, used for chunk time
	// bounds and search filtering.
	TimestampEpochMS() int64
}

// SearchQuery is the minimal query shape the core needs to fan a query out
// to a Store and merge results back with search.Aggregator. Concrete query
// languages sit above this and translate down to it.
type SearchQuery struct {
	StartEpochS int64
	EndEpochS   int64
	SortKey     func(a, b Hit) bool // a "less" comparator; nil means insertion order
	HowMany     int
	Buckets     []Bucket // histogram bucket schema requested by the caller
}

// Hit is a single matched record returned from Search.
type Hit struct {
	TimestampEpochMS int64
	Payload          []byte
}

// Bucket is a half-open histogram interval [Low, High) with its match count.
type Bucket struct {
	Low, High int64
	Count     int64
}

// SearchResult is what a single Store's Search returns; search.Aggregator
// merges many of these into one.
type SearchResult struct {
	Hits    []Hit
	Buckets []Bucket
}

// Store is the contract a Chunk holds against its one owned index engine.
// Implementations must support a single concurrent writer and arbitrarily
// many concurrent readers.
type Store interface {
	// Append indexes one record. Must only be called while the owning chunk
	// is Live.
	Append(ctx context.Context, rec Record) error

	// Commit flushes any buffered writes so they are durable and visible to
	// a subsequent Snapshot. Called as the first rollover step.
	Commit(ctx context.Context) error

	// Snapshot acquires a reference-counted, point-in-time view of the
	// store's on-disk files. Concurrent compaction or merging must not
	// delete files referenced by an outstanding Snapshot.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Search executes a query against the store's current committed state.
	Search(ctx context.Context, q SearchQuery) (SearchResult, error)

	// Close releases in-memory resources. Idempotent.
	Close() error

	// Cleanup removes the store's on-disk state. Must only be called after
	// Close, and only once no Snapshot is outstanding.
	Cleanup() error
}

// Snapshot is a released-on-demand, reference-counted view over a Store's
// on-disk files, protected from deletion while held.
type Snapshot interface {
	// Files lists the snapshot's file paths, relative to the store's root,
	// to be uploaded byte-for-byte to the blob store.
	Files() ([]string, error)

	// Open opens one of the paths returned by Files for reading.
	Open(relPath string) (ReadCloserAt, error)

	// Release returns the reference. Safe to call more than once.
	Release()
}

// ReadCloserAt is the minimal file-like handle snapshot files are read
// through, satisfied by *os.File and in-memory test doubles alike.
type ReadCloserAt interface {
	Read(p []byte) (int, error)
	Close() error
}

// Factory builds a Store rooted at dir for the given chunk namespace. Kept
// separate from Store so the Chunk Manager can remain agnostic to which
// concrete index engine backs a chunk.
type Factory func(ctx context.Context, dir string) (Store, error)
