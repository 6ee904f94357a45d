// Package blobstore defines the contract the Chunk Manager's rollover task
// consumes from the durable object store a chunk's snapshot is uploaded to,
// plus gateway implementations for the three cloud backends the rest of the
// example corpus wires SDKs for.
package blobstore

import (
	"context"
	"io"
)

// Store is the contract RolloverTask uploads through. chunk.BlobPutter is
// the single-method subset a task actually needs; Store is the fuller
// surface a deployment profile configures and exposes its Put through.
type Store interface {
	// Put writes one object's bytes under key, overwriting any existing
	// object at that key.
	Put(ctx context.Context, key string, r io.Reader) error

	// DeletePrefix removes every object whose key begins with prefix. Used
	// when a chunk's cleanup needs to also reclaim remote storage (stale-chunk
	// eviction only reclaims local disk by default, but an operator can wire
	// this in too).
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
