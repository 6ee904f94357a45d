package chunk

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// BlobPutter is the minimal capability RolloverTask needs from the blob
// store: write one object's bytes under a key. The concrete gateway
// (S3/Azure/GCS) lives in package blobstore; RolloverTask only depends on
// this narrow contract so it stays testable without a real backend.
type BlobPutter interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// RolloverTask carries one chunk from Live through to Uploaded or Failed in
// five steps: commit, snapshot, upload every snapshot file, release the
// snapshot, then mark the chunk's terminal state. A RolloverTask runs under
// the manager's capacity-1 rollover executor, so at most one is ever in
// flight per manager.
type RolloverTask struct {
	chunk   *Chunk
	blob    BlobPutter
	bucket  string
	metrics Metrics
}

// NewRolloverTask builds a task that will upload c's snapshot files under
// bucket/<chunk-id>/<relative-path>. A nil metrics is treated as a no-op
// sink.
func NewRolloverTask(c *Chunk, blob BlobPutter, bucket string, metrics Metrics) *RolloverTask {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RolloverTask{chunk: c, blob: blob, bucket: bucket, metrics: metrics}
}

// Run executes the rollover. On success the chunk ends in Uploaded with
// SnapshotPath set; if commit, snapshot or upload fails it ends in Failed
// and the error is returned so the caller can arrest ingestion. If the
// chunk is no longer Live, Run returns the Seal error and leaves its state
// unchanged.
func (t *RolloverTask) Run(ctx context.Context, nowEpochS int64) error {
	if err := t.chunk.Seal(nowEpochS); err != nil {
		return err
	}

	if err := t.run(ctx); err != nil {
		if markErr := t.chunk.MarkFailed(nowEpochS); markErr != nil {
			return fmt.Errorf("rollover failed (%w), then failed to mark chunk FAILED: %v", err, markErr)
		}
		return err
	}

	snapshotPath := path.Join(t.bucket, t.chunk.ID().String())
	return t.chunk.MarkUploaded(snapshotPath, nowEpochS)
}

func (t *RolloverTask) run(ctx context.Context) error {
	if err := t.chunk.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	snapStart := time.Now()
	snap, err := t.chunk.TakeSnapshot(ctx)
	t.metrics.ObserveSnapshotDuration(time.Since(snapStart))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer snap.Release()

	files, err := snap.Files()
	if err != nil {
		return fmt.Errorf("enumerate snapshot files: %w", err)
	}

	prefix := t.chunk.ID().String()
	group, gctx := errgroup.WithContext(ctx)
	for _, relPath := range files {
		relPath := relPath
		group.Go(func() error {
			f, err := snap.Open(relPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", relPath, err)
			}
			defer f.Close()

			zr, err := zstdCompress(f)
			if err != nil {
				return fmt.Errorf("compress %s: %w", relPath, err)
			}

			key := path.Join(prefix, relPath) + ".zst"
			if err := t.blob.Put(gctx, key, zr); err != nil {
				return fmt.Errorf("upload %s: %w", relPath, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// zstdCompress streams r through a zstd encoder via an in-memory pipe, so
// RolloverTask never buffers a whole snapshot file before upload.
func zstdCompress(r io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw)
	if err != nil {
		pw.Close()
		return nil, err
	}
	go func() {
		_, copyErr := io.Copy(enc, r)
		closeErr := enc.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
	}()
	return pr, nil
}
