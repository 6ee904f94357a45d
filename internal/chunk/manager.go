package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gastrolog/internal/indexstore"
	"gastrolog/internal/search"
)

// Catalog persists chunk metadata outside the process. The Manager writes
// and deletes entries; it does not read them back on start. The Metadata
// Store satisfies this.
type Catalog interface {
	PutChunkMeta(ctx context.Context, m Meta) error
	DeleteChunkMeta(ctx context.Context, id ID) error
}

// Clock supplies wall-clock seconds; overridable in tests.
type Clock func() int64

// Metrics reports the Manager's live-ingest and rollover observability
// surface: live_messages_indexed, live_bytes_indexed, rollover
// success/failure counters, per-chunk snapshot timers. A nil Metrics is
// valid; all calls become no-ops.
type Metrics interface {
	SetLiveMessagesIndexed(v int64)
	SetLiveBytesIndexed(v int64)
	IncRollover(success bool)
	ObserveSnapshotDuration(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) SetLiveMessagesIndexed(int64)        {}
func (noopMetrics) SetLiveBytesIndexed(int64)           {}
func (noopMetrics) IncRollover(bool)                    {}
func (noopMetrics) ObserveSnapshotDuration(time.Duration) {}

// Manager is the Chunk Manager: it owns at most one Live chunk, accepts
// single-writer appends, rolls the Live chunk over to a new one under a
// capacity-1 executor, fans queries out across every tracked chunk, and
// evicts chunks the eviction policy marks stale. A Manager is safe for
// concurrent use by one writer and many readers.
type Manager struct {
	factory  indexstore.Factory
	strategy RolloverStrategy
	catalog  Catalog
	prefix   string
	logger   *slog.Logger
	clock    Clock

	rolloverFutureTimeout time.Duration

	chunkMapLock sync.RWMutex
	chunks       map[ID]*Chunk
	active       *Chunk

	// rolloverSlot is the capacity-1 admission gate: a successful send
	// grants the caller exclusive right to run a rollover; the executor
	// goroutine receives from it and frees the slot when done.
	rolloverSlot chan struct{}

	ingestionStopped atomic.Bool
	lastOffset       atomic.Uint64

	newChunkDir func(id ID) string
	blob        BlobPutter
	bucket      string
	metrics     Metrics
}

// Config collects Manager construction parameters.
type Config struct {
	Factory               indexstore.Factory
	Strategy              RolloverStrategy
	Catalog               Catalog
	Prefix                string
	Logger                *slog.Logger
	Clock                 Clock
	RolloverFutureTimeout time.Duration
	NewChunkDir           func(id ID) string
	Blob                  BlobPutter
	Bucket                string
	Metrics               Metrics
}

// NewManager constructs a Manager with no active chunk; the first AddMessage
// opens the first Live chunk.
func NewManager(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newChunkDir := cfg.NewChunkDir
	if newChunkDir == nil {
		newChunkDir = func(id ID) string { return id.String() }
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		factory:               cfg.Factory,
		strategy:              cfg.Strategy,
		catalog:               cfg.Catalog,
		prefix:                cfg.Prefix,
		logger:                logger,
		clock:                 clock,
		rolloverFutureTimeout: cfg.RolloverFutureTimeout,
		chunks:                make(map[ID]*Chunk),
		rolloverSlot:          make(chan struct{}, 1),
		newChunkDir:           newChunkDir,
		blob:                  cfg.Blob,
		bucket:                cfg.Bucket,
		metrics:               metrics,
	}
}

var (
	// ErrIngestionStopped is returned by AddMessage once a rollover has
	// failed and the manager has arrested ingestion.
	ErrIngestionStopped = fmt.Errorf("chunk manager: ingestion stopped after rollover failure")
	// ErrRolloverInProgress is returned by AddMessage when the rollover
	// predicate fires but the capacity-1 rollover executor already has a
	// task in flight. The record itself was still appended successfully;
	// only the rollover demand was rejected.
	ErrRolloverInProgress = fmt.Errorf("chunk manager: rollover already in progress")
)

// AddMessage appends one record to the Live chunk, opening a new Live chunk
// first if none exists, and records offset as the last-delivered upstream
// position, the resume point for at-least-once redelivery. If the rollover
// strategy fires after the append, a rollover is submitted to the
// capacity-1 executor; if one is already running, the submission is
// rejected synchronously and surfaced to the caller as
// ErrRolloverInProgress — the append itself still succeeded.
func (m *Manager) AddMessage(ctx context.Context, rec indexstore.Record, sizeBytes int64, offset uint64) error {
	if m.ingestionStopped.Load() {
		return ErrIngestionStopped
	}

	active, err := m.activeOrCreate(ctx)
	if err != nil {
		return err
	}

	if err := active.Append(ctx, rec, sizeBytes, m.clock()); err != nil {
		return err
	}
	m.lastOffset.Store(offset)

	bytesIndexed, messages := active.Counters()
	m.metrics.SetLiveMessagesIndexed(messages)
	m.metrics.SetLiveBytesIndexed(bytesIndexed)
	if m.strategy != nil && m.strategy.ShouldRollover(bytesIndexed, messages) {
		if !m.tryRollover(ctx) {
			return ErrRolloverInProgress
		}
	}
	return nil
}

// LastOffset returns the offset of the most recently appended record, the
// position a restarted ingest pipeline should resume from.
func (m *Manager) LastOffset() uint64 { return m.lastOffset.Load() }

func (m *Manager) activeOrCreate(ctx context.Context) (*Chunk, error) {
	m.chunkMapLock.RLock()
	active := m.active
	m.chunkMapLock.RUnlock()
	if active != nil {
		return active, nil
	}
	return m.createActive(ctx)
}

func (m *Manager) createActive(ctx context.Context) (*Chunk, error) {
	m.chunkMapLock.Lock()
	defer m.chunkMapLock.Unlock()
	if m.active != nil {
		return m.active, nil
	}

	id := NewID()
	store, err := m.factory(ctx, m.newChunkDir(id))
	if err != nil {
		return nil, fmt.Errorf("create index store for new chunk: %w", err)
	}
	c := New(id, m.prefix, store, m.clock())
	m.chunks[id] = c
	m.active = c
	if m.catalog != nil {
		if err := m.catalog.PutChunkMeta(ctx, c.Info()); err != nil {
			m.logger.Warn("failed to persist new chunk metadata", "chunk_id", id.String(), "error", err)
		}
	}
	return c, nil
}

// tryRollover attempts to claim the capacity-1 rollover slot and, if
// successful, runs the rollover in a new goroutine, reporting true. If the
// slot is already held, it returns false immediately without blocking the
// caller.
func (m *Manager) tryRollover(ctx context.Context) bool {
	select {
	case m.rolloverSlot <- struct{}{}:
	default:
		return false // a rollover is already in flight
	}

	m.chunkMapLock.Lock()
	sealing := m.active
	m.active = nil
	m.chunkMapLock.Unlock()
	m.metrics.SetLiveMessagesIndexed(0)
	m.metrics.SetLiveBytesIndexed(0)

	if sealing == nil {
		<-m.rolloverSlot
		return true
	}

	go func() {
		defer func() { <-m.rolloverSlot }()
		m.runRollover(context.Background(), sealing)
	}()
	return true
}

func (m *Manager) runRollover(ctx context.Context, c *Chunk) {
	task := NewRolloverTask(c, m.blob, m.bucket, m.metrics)
	if err := task.Run(ctx, m.clock()); err != nil {
		m.logger.Error("rollover failed, arresting ingestion", "chunk_id", c.ID().String(), "error", err)
		m.ingestionStopped.Store(true)
		m.metrics.IncRollover(false)
	} else {
		m.metrics.IncRollover(true)
	}
	if m.catalog != nil {
		if err := m.catalog.PutChunkMeta(ctx, c.Info()); err != nil {
			m.logger.Warn("failed to persist rolled-over chunk metadata", "chunk_id", c.ID().String(), "error", err)
		}
	}
}

// RollOverActive forces an immediate rollover of the Live chunk, bypassing
// the rollover strategy. Returns ErrRolloverInProgress if one is already
// running. Used on clean shutdown.
func (m *Manager) RollOverActive(ctx context.Context) error {
	select {
	case m.rolloverSlot <- struct{}{}:
	default:
		return ErrRolloverInProgress
	}
	defer func() { <-m.rolloverSlot }()

	m.chunkMapLock.Lock()
	sealing := m.active
	m.active = nil
	m.chunkMapLock.Unlock()
	m.metrics.SetLiveMessagesIndexed(0)
	m.metrics.SetLiveBytesIndexed(0)

	if sealing == nil {
		return nil
	}
	m.runRollover(ctx, sealing)
	return nil
}

// QueryResult is the Manager's Query return: the merged successful portion
// plus a count of chunks whose query failed under the partial-failure
// policy (a failing chunk does not abort the whole query).
type QueryResult struct {
	indexstore.SearchResult
	FailedChunks int
}

// Query fans a search out to every tracked chunk whose time bounds overlap
// the request, in parallel, and merges the per-chunk results with
// search.Aggregator.
func (m *Manager) Query(ctx context.Context, q indexstore.SearchQuery) (QueryResult, error) {
	m.chunkMapLock.RLock()
	var targets []*Chunk
	for _, c := range m.chunks {
		if c.ContainsTimeRange(q.StartEpochS, q.EndEpochS) {
			targets = append(targets, c)
		}
	}
	m.chunkMapLock.RUnlock()

	results := make([]indexstore.SearchResult, 0, len(targets))
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)
	for _, c := range targets {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Query(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("chunk query failed", "chunk_id", c.ID().String(), "error", err)
				failed++
				return
			}
			results = append(results, res)
		}()
	}
	wg.Wait()

	agg := search.NewAggregator(q.SortKey, q.HowMany)
	return QueryResult{SearchResult: agg.Merge(results), FailedChunks: failed}, nil
}

// RemoveStale evicts the given Uploaded chunks: closes and cleans up their
// index stores, drops them from the in-memory map, and removes their
// catalog entry. Any chunk not in the Uploaded state is skipped rather than
// treated as an error, since a concurrent rollover may have already moved
// it. Per-entry failures are logged and do not halt the batch.
func (m *Manager) RemoveStale(ctx context.Context, ids []ID) {
	for _, id := range ids {
		m.chunkMapLock.Lock()
		c, ok := m.chunks[id]
		if ok {
			delete(m.chunks, id)
		}
		m.chunkMapLock.Unlock()
		if !ok {
			continue
		}
		if c.State() != Uploaded {
			m.chunkMapLock.Lock()
			m.chunks[id] = c
			m.chunkMapLock.Unlock()
			continue
		}
		if err := c.Close(); err != nil {
			m.logger.Error("failed to close stale chunk", "chunk_id", id.String(), "error", err)
			continue
		}
		if err := c.Cleanup(); err != nil {
			m.logger.Error("failed to clean up stale chunk", "chunk_id", id.String(), "error", err)
			continue
		}
		if m.catalog != nil {
			if err := m.catalog.DeleteChunkMeta(ctx, id); err != nil {
				m.logger.Error("failed to delete catalog entry for stale chunk", "chunk_id", id.String(), "error", err)
			}
		}
	}
}

// EvictionCandidates returns the current EvictionState (Uploaded chunks
// sorted oldest-first) for an EvictionPolicy to evaluate.
func (m *Manager) EvictionCandidates() EvictionState {
	m.chunkMapLock.RLock()
	defer m.chunkMapLock.RUnlock()

	var metas []Meta
	for _, c := range m.chunks {
		if c.State() == Uploaded {
			metas = append(metas, c.Info())
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedEpochS < metas[j].CreatedEpochS })
	return EvictionState{Chunks: metas, NowEpochS: m.clock()}
}

// Close waits up to rolloverFutureTimeout for any in-flight rollover to
// finish, rolls over the active chunk so it is sealed and uploaded rather
// than discarded live, then closes every tracked chunk's index store.
func (m *Manager) Close(ctx context.Context) error {
	deadline := m.rolloverFutureTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	select {
	case m.rolloverSlot <- struct{}{}:
		<-m.rolloverSlot
	case <-time.After(deadline):
		m.logger.Warn("timed out waiting for in-flight rollover before close")
	}

	if err := m.RollOverActive(ctx); err != nil {
		m.logger.Warn("failed to roll over active chunk on close", "error", err)
	}

	m.chunkMapLock.Lock()
	defer m.chunkMapLock.Unlock()
	var firstErr error
	for _, c := range m.chunks {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
