// Package chunk defines the core abstractions for a single append-only index
// shard: its identity, metadata, state machine, and the pure rollover/eviction
// predicates that decide when a shard is sealed or reclaimed.
package chunk

import (
	"context"
	"errors"
	"sync"

	"gastrolog/internal/indexstore"
)

var (
	// ErrNotLive is returned by Append when the chunk is not in the Live
	// state.
	ErrNotLive = errors.New("chunk: not live")
	// ErrAlreadySealed is returned by Seal when the chunk has already left
	// the Live state.
	ErrAlreadySealed = errors.New("chunk: already sealed")
	// ErrWrongState is returned by a state transition attempted from a state
	// that does not permit it (e.g. MarkUploaded on a Live chunk).
	ErrWrongState = errors.New("chunk: wrong state for transition")
)

// Chunk is one append-only index shard and its owned indexstore.Store. A
// manager holds at most one Live chunk at a time; every other chunk it
// tracks is ReadOnly, Uploaded, or Failed. A Chunk never transitions back to
// Live once sealed, and Uploaded/Failed are terminal.
type Chunk struct {
	id     ID
	prefix string
	store  indexstore.Store

	mu    sync.RWMutex
	state State

	dataStartEpochS   int64
	dataEndEpochS     int64
	createdEpochS     int64
	lastUpdatedEpochS int64
	messageCount      int64
	bytesIndexed      int64
	snapshotPath      string
}

// New creates a fresh Live chunk rooted at the given store, owned by the
// caller. nowEpochS stamps CreatedEpochS/LastUpdatedEpochS.
func New(id ID, prefix string, store indexstore.Store, nowEpochS int64) *Chunk {
	return &Chunk{
		id:                id,
		prefix:            prefix,
		store:             store,
		state:             Live,
		createdEpochS:     nowEpochS,
		lastUpdatedEpochS: nowEpochS,
	}
}

// FromMeta reconstructs a Chunk wrapper around an already-existing store and
// metadata record. The Manager does not call it; it never reloads chunks.
func FromMeta(m Meta, store indexstore.Store) *Chunk {
	return &Chunk{
		id:                m.ID,
		prefix:            m.Prefix,
		store:             store,
		state:             m.State,
		dataStartEpochS:   m.DataStartEpochS,
		dataEndEpochS:     m.DataEndEpochS,
		createdEpochS:     m.CreatedEpochS,
		lastUpdatedEpochS: m.LastUpdatedEpochS,
		messageCount:      m.MessageCount,
		bytesIndexed:      m.BytesIndexed,
		snapshotPath:      m.SnapshotPath,
	}
}

// ID returns the chunk's identity.
func (c *Chunk) ID() ID { return c.id }

// State returns the chunk's current lifecycle state.
func (c *Chunk) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Info returns a point-in-time snapshot of the chunk's metadata, suitable
// for writing into the metadata store catalog.
func (c *Chunk) Info() Meta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Meta{
		ID:                c.id,
		Prefix:            c.prefix,
		State:             c.state,
		DataStartEpochS:   c.dataStartEpochS,
		DataEndEpochS:     c.dataEndEpochS,
		CreatedEpochS:     c.createdEpochS,
		LastUpdatedEpochS: c.lastUpdatedEpochS,
		MessageCount:      c.messageCount,
		BytesIndexed:      c.bytesIndexed,
		SnapshotPath:      c.snapshotPath,
	}
}

// ContainsTimeRange reports whether [startS,endS] could contain matches for
// this chunk, per its recorded data time bounds. Empty chunks never match.
func (c *Chunk) ContainsTimeRange(startS, endS int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Meta{
		MessageCount:    c.messageCount,
		DataStartEpochS: c.dataStartEpochS,
		DataEndEpochS:   c.dataEndEpochS,
	}.OverlapsTimeRange(startS, endS)
}

// Append indexes one record and extends the chunk's time bounds and
// counters. Only valid while the chunk is Live; the caller (the manager) is
// the chunk's single writer and must serialize calls to Append.
func (c *Chunk) Append(ctx context.Context, rec indexstore.Record, sizeBytes int64, nowEpochS int64) error {
	c.mu.Lock()
	if c.state != Live {
		c.mu.Unlock()
		return ErrNotLive
	}
	c.mu.Unlock()

	if err := c.store.Append(ctx, rec); err != nil {
		return err
	}

	tsS := rec.TimestampEpochMS() / 1000

	c.mu.Lock()
	if c.messageCount == 0 || tsS < c.dataStartEpochS {
		c.dataStartEpochS = tsS
	}
	if tsS > c.dataEndEpochS {
		c.dataEndEpochS = tsS
	}
	c.messageCount++
	c.bytesIndexed += sizeBytes
	c.lastUpdatedEpochS = nowEpochS
	c.mu.Unlock()
	return nil
}

// Counters returns the chunk's current (bytesIndexed, messageCount), the
// pair a RolloverStrategy evaluates after every append.
func (c *Chunk) Counters() (bytesIndexed, messageCount int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesIndexed, c.messageCount
}

// Seal transitions Live -> ReadOnly. It is the first step of a rollover: no
// further Append calls are accepted once this returns.
func (c *Chunk) Seal(nowEpochS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live {
		return ErrAlreadySealed
	}
	c.state = ReadOnly
	c.lastUpdatedEpochS = nowEpochS
	return nil
}

// MarkUploaded transitions ReadOnly -> Uploaded, recording where the
// snapshot landed in the blob store.
func (c *Chunk) MarkUploaded(snapshotPath string, nowEpochS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ReadOnly {
		return ErrWrongState
	}
	c.state = Uploaded
	c.snapshotPath = snapshotPath
	c.lastUpdatedEpochS = nowEpochS
	return nil
}

// MarkFailed transitions ReadOnly -> Failed. Failed is terminal: the chunk
// stays in the catalog as a tombstone and ingestion is arrested by the
// manager.
func (c *Chunk) MarkFailed(nowEpochS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ReadOnly {
		return ErrWrongState
	}
	c.state = Failed
	c.lastUpdatedEpochS = nowEpochS
	return nil
}

// TakeSnapshot acquires a reference-counted view of the chunk's index files,
// protecting them from deletion while an upload reads them.
func (c *Chunk) TakeSnapshot(ctx context.Context) (indexstore.Snapshot, error) {
	return c.store.Snapshot(ctx)
}

// Commit flushes buffered writes so a subsequent TakeSnapshot observes them.
func (c *Chunk) Commit(ctx context.Context) error {
	return c.store.Commit(ctx)
}

// Query executes a search against the chunk's current committed state.
func (c *Chunk) Query(ctx context.Context, q indexstore.SearchQuery) (indexstore.SearchResult, error) {
	return c.store.Search(ctx, q)
}

// Close releases the chunk's in-memory resources. Idempotent.
func (c *Chunk) Close() error {
	return c.store.Close()
}

// Cleanup removes the chunk's on-disk state. Must only be called after
// Close and once no snapshot is outstanding, and only on a chunk that has
// reached Uploaded.
func (c *Chunk) Cleanup() error {
	return c.store.Cleanup()
}
