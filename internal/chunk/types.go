// Package chunk defines the core abstractions for a single append-only index
// shard: its identity, metadata, state machine, and the pure rollover/retention
// predicates that decide when a shard is sealed or reclaimed.
package chunk

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkIDEncoding is base32hex (RFC 4648) lowercase without padding.
// Alphabet 0-9a-v preserves lexicographic sort order.
var chunkIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID uniquely identifies a chunk. It is a UUIDv7 (16 bytes) whose string
// representation is 26-char lowercase base32hex, lexicographically sortable
// by creation time.
type ID [16]byte

// NewID creates an ID from a new UUIDv7. UUIDv7 embeds a millisecond
// timestamp and guarantees monotonically increasing IDs, so chunk directories
// and catalog entries sort by creation order without a separate index.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses a 26-character base32hex string into an ID.
func ParseID(value string) (ID, error) {
	if len(value) != 26 {
		return ID{}, fmt.Errorf("invalid chunk id length: %d (want 26)", len(value))
	}
	decoded, err := chunkIDEncoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		return ID{}, fmt.Errorf("invalid chunk id: %w", err)
	}
	var id ID
	copy(id[:], decoded)
	return id, nil
}

// String returns the 26-character lowercase base32hex representation.
func (id ID) String() string {
	return strings.ToLower(chunkIDEncoding.EncodeToString(id[:]))
}

// Time returns the creation time encoded in the UUIDv7 ID.
func (id ID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// State is the chunk lifecycle state.
type State int

const (
	// Live accepts appends. Exactly zero or one chunk is Live per manager.
	Live State = iota
	// ReadOnly no longer accepts appends; a rollover has begun.
	ReadOnly
	// Uploaded means the sealed snapshot was durably uploaded to the blob
	// store and the chunk is eligible for local eviction.
	Uploaded
	// Failed means rollover could not complete; ingestion is arrested.
	Failed
)

func (s State) String() string {
	switch s {
	case Live:
		return "LIVE"
	case ReadOnly:
		return "READ_ONLY"
	case Uploaded:
		return "UPLOADED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Meta is the metadata record for a single chunk. It is the value
// serialized into the Metadata Store catalog at /chunks/<chunk-id>.
type Meta struct {
	ID     ID
	Prefix string
	State  State

	DataStartEpochS   int64
	DataEndEpochS     int64
	CreatedEpochS     int64
	LastUpdatedEpochS int64

	MessageCount int64
	BytesIndexed int64

	// SnapshotPath is set once the chunk's snapshot has been uploaded;
	// empty otherwise.
	SnapshotPath string
}

// OverlapsTimeRange reports whether [startS,endS] intersects the chunk's
// recorded data time bounds: start <= data_end && end >= data_start.
func (m Meta) OverlapsTimeRange(startS, endS int64) bool {
	if m.MessageCount == 0 {
		return false
	}
	return startS <= m.DataEndEpochS && endS >= m.DataStartEpochS
}
