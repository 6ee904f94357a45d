// Package metastore implements the cluster-visible hierarchical Metadata
// Store: a path/bytes key space with two node kinds —
// PERSISTENT nodes durable across restarts via a single-node raft+BoltDB
// log, and EPHEMERAL nodes scoped to a session's lease, torn down when that
// session expires. Every operation returns a Future completed on a bounded
// worker pool so callers never block the caller's own goroutine on store
// I/O.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gastrolog/internal/callgroup"
	"gastrolog/internal/chunk"
)

var (
	ErrNotFound      = errors.New("metastore: path not found")
	ErrAlreadyExists = errors.New("metastore: path already exists")
	ErrNoSession     = errors.New("metastore: unknown or expired session")
	ErrNoNode        = errors.New("metastore: parent node does not exist")
	ErrInternal      = errors.New("metastore: operation not permitted")
)

// Metrics counts metastore operations for the node's observability
// surface (metadata.read / metadata.write / metadata.failed / metadata.failed.zk).
type Metrics interface {
	IncRead()
	IncWrite()
	IncFailed()
	IncFailedConnection()
}

type noopMetrics struct{}

func (noopMetrics) IncRead()             {}
func (noopMetrics) IncWrite()            {}
func (noopMetrics) IncFailed()           {}
func (noopMetrics) IncFailedConnection() {}

// Store is the hierarchical Metadata Store.
type Store struct {
	persistent *persistentStore
	sessions   *sessionTracker
	pool       *pool
	metrics    Metrics

	ephMu  sync.RWMutex
	eph    map[string][]byte

	// readGroup collapses concurrent persistent reads of the same path into
	// one underlying fsm lookup — a hot chunk-metadata path read by many
	// concurrent query fan-outs only hits the fsm once per outstanding
	// burst.
	readGroup callgroup.Group[string]

	sweepStop chan struct{}
	sweepDone chan struct{}
	closed    atomic.Bool
}

// Config collects Store construction parameters.
type Config struct {
	Raft          RaftConfig
	Fatal         FatalErrorHandler
	Metrics       Metrics
	PoolWorkers   int
	SweepInterval time.Duration
}

// Open builds a Store backed by a new single-node raft instance rooted at
// cfg.Raft.DataDir.
func Open(cfg Config) (*Store, error) {
	ps, err := newPersistentStore(cfg.Raft)
	if err != nil {
		return nil, err
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	poolWorkers := cfg.PoolWorkers
	if poolWorkers <= 0 {
		poolWorkers = 4
	}

	s := &Store{
		persistent: ps,
		pool:       newPool(poolWorkers),
		metrics:    metrics,
		eph:        make(map[string][]byte),
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	s.sessions = newSessionTracker(cfg.Fatal, s.teardownEphemeral)

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	go s.sweepLoop(interval)
	return s, nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-t.C:
			s.sessions.sweep(now)
		}
	}
}

func (s *Store) teardownEphemeral(_ string, paths []string) {
	s.ephMu.Lock()
	defer s.ephMu.Unlock()
	for _, p := range paths {
		delete(s.eph, p)
	}
}

// OpenSession creates a new ephemeral session with the given TTL. Ephemeral
// nodes created under this session are torn down if the session is not
// renewed within ttl.
func (s *Store) OpenSession(sessionID string, ttl time.Duration) {
	s.sessions.open(sessionID, ttl, time.Now())
}

// RenewSession extends sessionID's lease. Returns false if the session has
// already expired and been reaped.
func (s *Store) RenewSession(sessionID string) bool {
	return s.sessions.renew(sessionID, time.Now())
}

// Create creates a PERSISTENT node at path with the given value. Fails with
// ErrAlreadyExists if a node is already present there. If path's parent does
// not exist, createParents=false fails ErrNoNode; createParents=true
// materializes every missing ancestor (empty-valued) first, in root-to-leaf
// order.
func (s *Store) Create(path string, value []byte, createParents bool) *Future[struct{}] {
	return submit(s.pool, func() (struct{}, error) {
		s.metrics.IncWrite()
		s.ephMu.RLock()
		_, ephExists := s.eph[path]
		s.ephMu.RUnlock()
		if _, ok := s.persistent.get(path); ok || ephExists {
			s.metrics.IncFailed()
			return struct{}{}, ErrAlreadyExists
		}
		if err := s.ensureParent(path, createParents); err != nil {
			s.metrics.IncFailed()
			return struct{}{}, err
		}
		if err := s.persistent.put(path, value); err != nil {
			s.metrics.IncFailed()
			s.metrics.IncFailedConnection()
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// ensureParent verifies path's parent exists before a create, optionally
// materializing missing ancestors. The root has no parent to check. An
// ephemeral parent can never gain children (EPHEMERAL nodes are leaves).
func (s *Store) ensureParent(path string, createParents bool) error {
	parent := parentPath(path)
	if parent == "/" {
		return nil
	}
	s.ephMu.RLock()
	_, ephParent := s.eph[parent]
	s.ephMu.RUnlock()
	if ephParent {
		return ErrInternal
	}
	if _, ok := s.persistent.get(parent); ok {
		return nil
	}
	if !createParents {
		return ErrNoNode
	}
	if err := s.ensureParent(parent, true); err != nil {
		return err
	}
	return s.persistent.put(parent, nil)
}

// CreateEphemeral creates an EPHEMERAL node at path, owned by sessionID.
// The node disappears when the session expires. Fails with ErrAlreadyExists
// if path is already present, ErrInternal if path's parent is itself an
// ephemeral node (EPHEMERAL nodes cannot have children), or ErrNoSession if
// sessionID is unknown.
func (s *Store) CreateEphemeral(sessionID, path string, value []byte) *Future[struct{}] {
	return submit(s.pool, func() (struct{}, error) {
		s.metrics.IncWrite()

		parent := parentPath(path)
		s.ephMu.RLock()
		_, exists := s.eph[path]
		_, ephParent := s.eph[parent]
		s.ephMu.RUnlock()
		if _, ok := s.persistent.get(path); ok {
			exists = true
		}
		if exists {
			s.metrics.IncFailed()
			return struct{}{}, ErrAlreadyExists
		}
		if ephParent {
			s.metrics.IncFailed()
			return struct{}{}, ErrInternal
		}

		if !s.sessions.track(sessionID, path) {
			s.metrics.IncFailed()
			return struct{}{}, ErrNoSession
		}
		s.ephMu.Lock()
		s.eph[path] = value
		s.ephMu.Unlock()
		return struct{}{}, nil
	})
}

// Put writes value at path. An existing ephemeral node is overwritten in
// place; otherwise the value is written as a persistent node, which is
// created if absent. Put does not fail when no node exists at path, and it
// does not check that path's parent exists.
func (s *Store) Put(path string, value []byte) *Future[struct{}] {
	return submit(s.pool, func() (struct{}, error) {
		s.metrics.IncWrite()
		s.ephMu.Lock()
		if _, ok := s.eph[path]; ok {
			s.eph[path] = value
			s.ephMu.Unlock()
			return struct{}{}, nil
		}
		s.ephMu.Unlock()

		if err := s.persistent.put(path, value); err != nil {
			s.metrics.IncFailed()
			s.metrics.IncFailedConnection()
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// Get reads the value at path.
func (s *Store) Get(path string) *Future[[]byte] {
	return submit(s.pool, func() ([]byte, error) {
		s.metrics.IncRead()
		s.ephMu.RLock()
		if v, ok := s.eph[path]; ok {
			s.ephMu.RUnlock()
			return v, nil
		}
		s.ephMu.RUnlock()

		var value []byte
		err := <-s.readGroup.DoChan(path, func() error {
			v, ok := s.persistent.get(path)
			if !ok {
				return ErrNotFound
			}
			value = v
			return nil
		})
		if err != nil {
			s.metrics.IncFailed()
			return nil, err
		}
		return value, nil
	})
}

// Exists reports whether a node is present at path.
func (s *Store) Exists(path string) *Future[bool] {
	return submit(s.pool, func() (bool, error) {
		s.metrics.IncRead()
		s.ephMu.RLock()
		_, ok := s.eph[path]
		s.ephMu.RUnlock()
		if ok {
			return true, nil
		}
		_, ok = s.persistent.get(path)
		return ok, nil
	})
}

// Delete removes the node at path, persistent or ephemeral. Fails with
// ErrInternal if path has any children.
func (s *Store) Delete(path string) *Future[struct{}] {
	return submit(s.pool, func() (struct{}, error) {
		s.metrics.IncWrite()
		if s.hasChildren(path) {
			s.metrics.IncFailed()
			return struct{}{}, ErrInternal
		}

		s.ephMu.Lock()
		if _, ok := s.eph[path]; ok {
			delete(s.eph, path)
			s.ephMu.Unlock()
			return struct{}{}, nil
		}
		s.ephMu.Unlock()

		if err := s.persistent.delete(path); err != nil {
			s.metrics.IncFailed()
			s.metrics.IncFailedConnection()
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// hasChildren reports whether any persistent or ephemeral node is a direct
// child of path.
func (s *Store) hasChildren(path string) bool {
	if len(s.persistent.children(path)) > 0 {
		return true
	}
	s.ephMu.RLock()
	defer s.ephMu.RUnlock()
	for p := range s.eph {
		if _, ok := directChild(path, p); ok {
			return true
		}
	}
	return false
}

// GetChildren lists the direct children of path, across both persistent and
// ephemeral nodes.
func (s *Store) GetChildren(path string) *Future[[]string] {
	return submit(s.pool, func() ([]string, error) {
		s.metrics.IncRead()
		children := s.persistent.children(path)

		s.ephMu.RLock()
		for p := range s.eph {
			if child, ok := directChild(path, p); ok {
				children = append(children, child)
			}
		}
		s.ephMu.RUnlock()

		return dedupSorted(children), nil
	})
}

func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Close stops the session sweeper and worker pool, then shuts down raft.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.sweepStop)
	<-s.sweepDone
	s.pool.close()
	return s.persistent.shutdown()
}

// PutChunkMeta satisfies chunk.Catalog by JSON-encoding m under
// /chunks/<chunk-id>, giving the Chunk Manager a durable catalog backed by
// this store's raft log.
func (s *Store) PutChunkMeta(_ context.Context, m chunk.Meta) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal chunk meta: %w", err)
	}
	_, err = s.Put(chunkMetaPath(m.ID.String()), value).Wait()
	return err
}

// DeleteChunkMeta satisfies chunk.Catalog.
func (s *Store) DeleteChunkMeta(_ context.Context, id chunk.ID) error {
	_, err := s.Delete(chunkMetaPath(id.String())).Wait()
	return err
}

func chunkMetaPath(id string) string {
	return strings.Join([]string{"/chunks", id}, "/")
}

var _ chunk.Catalog = (*Store)(nil)
