// Package memory is an in-memory indexstore.Store used by tests and the
// "memory" deployment profile. It has no on-disk footprint of its own but
// still honors Snapshot's file-enumeration contract by materializing a flat
// log file under dir so rollover's "upload the snapshot's files" step has
// something real to copy.
package memory

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gastrolog/internal/indexstore"
)

const logFileName = "records.log"

// entry is one appended record, retained in memory for Search.
type entry struct {
	tsMS    int64
	payload []byte
}

// Store is an in-memory indexstore.Store. Safe for one writer and many
// concurrent readers.
type Store struct {
	dir string

	mu      sync.RWMutex
	entries []entry
	closed  bool

	snapMu    sync.Mutex
	snapCount int
}

var _ indexstore.Store = (*Store)(nil)

// New creates a Store rooted at dir. dir is created if missing.
func New(_ context.Context, dir string) (indexstore.Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Append(_ context.Context, rec indexstore.Record) error {
	payload, err := rec.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return indexstore.ErrClosed
	}
	s.entries = append(s.entries, entry{tsMS: rec.TimestampEpochMS(), payload: payload})
	return nil
}

// Commit flushes the in-memory log to dir/records.log so a Snapshot has
// real bytes to enumerate and upload.
func (s *Store) Commit(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return indexstore.ErrClosed
	}
	if s.dir == "" {
		return nil
	}
	var buf bytes.Buffer
	for _, e := range s.entries {
		buf.Write(e.payload)
		buf.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(s.dir, "records-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.dir, logFileName))
}

func (s *Store) Snapshot(_ context.Context) (indexstore.Snapshot, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, indexstore.ErrClosed
	}
	s.snapMu.Lock()
	s.snapCount++
	s.snapMu.Unlock()
	return &snapshot{store: s}, nil
}

func (s *Store) Search(_ context.Context, q indexstore.SearchQuery) (indexstore.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return indexstore.SearchResult{}, indexstore.ErrClosed
	}

	var hits []indexstore.Hit
	buckets := make([]indexstore.Bucket, len(q.Buckets))
	copy(buckets, q.Buckets)

	for _, e := range s.entries {
		startMS, endMS := q.StartEpochS*1000, q.EndEpochS*1000
		if e.tsMS < startMS || e.tsMS > endMS {
			continue
		}
		payload := make([]byte, len(e.payload))
		copy(payload, e.payload)
		hits = append(hits, indexstore.Hit{TimestampEpochMS: e.tsMS, Payload: payload})
		for i := range buckets {
			if e.tsMS >= buckets[i].Low && e.tsMS < buckets[i].High {
				buckets[i].Count++
			}
		}
	}

	if q.SortKey != nil {
		sort.Slice(hits, func(i, j int) bool { return q.SortKey(hits[i], hits[j]) })
	}
	if q.HowMany > 0 && len(hits) > q.HowMany {
		hits = hits[:q.HowMany]
	}

	return indexstore.SearchResult{Hits: hits, Buckets: buckets}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Cleanup() error {
	s.snapMu.Lock()
	outstanding := s.snapCount
	s.snapMu.Unlock()
	if outstanding > 0 {
		return errors.New("indexstore: cleanup called with outstanding snapshot references")
	}
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// snapshot is the in-memory Store's indexstore.Snapshot: since the Store's
// "files" are just the single flushed log, a snapshot is simply a
// reference-count bump that keeps Cleanup from running underneath a
// concurrent upload.
type snapshot struct {
	store    *Store
	released bool
	mu       sync.Mutex
}

var _ indexstore.Snapshot = (*snapshot)(nil)

func (sn *snapshot) Files() ([]string, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return nil, indexstore.ErrSnapshotReleased
	}
	if sn.store.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(sn.store.dir, logFileName)); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return []string{logFileName}, nil
}

func (sn *snapshot) Open(relPath string) (indexstore.ReadCloserAt, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return nil, indexstore.ErrSnapshotReleased
	}
	f, err := os.Open(filepath.Join(sn.store.dir, relPath))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (sn *snapshot) Release() {
	sn.mu.Lock()
	if sn.released {
		sn.mu.Unlock()
		return
	}
	sn.released = true
	sn.mu.Unlock()

	sn.store.snapMu.Lock()
	sn.store.snapCount--
	sn.store.snapMu.Unlock()
}
