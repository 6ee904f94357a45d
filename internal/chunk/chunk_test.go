package chunk

import (
	"context"
	"errors"
	"testing"

	"gastrolog/internal/indexstore/memory"
)

type testRecord struct {
	payload []byte
	tsMS    int64
}

func (r testRecord) Serialize() ([]byte, error) { return r.payload, nil }
func (r testRecord) TimestampEpochMS() int64     { return r.tsMS }

func newTestChunk(t *testing.T) *Chunk {
	t.Helper()
	store, err := memory.New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return New(NewID(), "test", store, 1000)
}

func TestChunkAppendExtendsTimeBounds(t *testing.T) {
	c := newTestChunk(t)

	if err := c.Append(context.Background(), testRecord{[]byte("a"), 5000}, 1, 1001); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Append(context.Background(), testRecord{[]byte("b"), 3000}, 2, 1002); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Append(context.Background(), testRecord{[]byte("c"), 9000}, 3, 1003); err != nil {
		t.Fatalf("append: %v", err)
	}

	info := c.Info()
	if info.DataStartEpochS != 3 {
		t.Errorf("DataStartEpochS = %d, want 3", info.DataStartEpochS)
	}
	if info.DataEndEpochS != 9 {
		t.Errorf("DataEndEpochS = %d, want 9", info.DataEndEpochS)
	}
	if info.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", info.MessageCount)
	}
	if info.BytesIndexed != 6 {
		t.Errorf("BytesIndexed = %d, want 6", info.BytesIndexed)
	}
}

func TestChunkAppendRejectedAfterSeal(t *testing.T) {
	c := newTestChunk(t)
	if err := c.Seal(2000); err != nil {
		t.Fatalf("seal: %v", err)
	}
	err := c.Append(context.Background(), testRecord{[]byte("x"), 1000}, 1, 2001)
	if !errors.Is(err, ErrNotLive) {
		t.Errorf("Append after seal = %v, want ErrNotLive", err)
	}
}

func TestChunkStateMachine(t *testing.T) {
	c := newTestChunk(t)

	if got := c.State(); got != Live {
		t.Fatalf("initial state = %v, want Live", got)
	}

	if err := c.Seal(2000); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if got := c.State(); got != ReadOnly {
		t.Fatalf("state after seal = %v, want ReadOnly", got)
	}

	if err := c.Seal(2001); !errors.Is(err, ErrAlreadySealed) {
		t.Errorf("second seal = %v, want ErrAlreadySealed", err)
	}

	if err := c.MarkUploaded("bucket/key", 2002); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	if got := c.State(); got != Uploaded {
		t.Fatalf("state after upload = %v, want Uploaded", got)
	}
	if got := c.Info().SnapshotPath; got != "bucket/key" {
		t.Errorf("SnapshotPath = %q, want bucket/key", got)
	}

	if err := c.MarkUploaded("again", 2003); !errors.Is(err, ErrWrongState) {
		t.Errorf("MarkUploaded on terminal state = %v, want ErrWrongState", err)
	}
}

func TestChunkMarkFailedIsTerminal(t *testing.T) {
	c := newTestChunk(t)
	if err := c.Seal(2000); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := c.MarkFailed(2001); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := c.State(); got != Failed {
		t.Fatalf("state = %v, want Failed", got)
	}
	if err := c.MarkUploaded("x", 2002); !errors.Is(err, ErrWrongState) {
		t.Errorf("MarkUploaded from Failed = %v, want ErrWrongState", err)
	}
}

func TestChunkContainsTimeRangeEmptyChunk(t *testing.T) {
	c := newTestChunk(t)
	if c.ContainsTimeRange(0, 1_000_000) {
		t.Error("empty chunk should never match a time range")
	}
}

func TestChunkContainsTimeRangeOverlap(t *testing.T) {
	c := newTestChunk(t)
	if err := c.Append(context.Background(), testRecord{[]byte("a"), 10_000}, 1, 10); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !c.ContainsTimeRange(5, 20) {
		t.Error("expected overlap")
	}
	if c.ContainsTimeRange(11, 20) {
		t.Error("expected no overlap past data end")
	}
}
