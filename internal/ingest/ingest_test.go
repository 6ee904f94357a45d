package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
)

type fakeRecord struct{ ts int64 }

func (r fakeRecord) Serialize() ([]byte, error) { return []byte("x"), nil }
func (r fakeRecord) TimestampEpochMS() int64     { return r.ts }

func TestMemorySourceReplaysInOrder(t *testing.T) {
	msgs := []Message{
		{Record: fakeRecord{1}, SizeBytes: 1, Offset: 10},
		{Record: fakeRecord{2}, SizeBytes: 2, Offset: 11},
	}
	src := NewMemorySource(msgs)

	for i, want := range msgs {
		got, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() #%d: %v", i, err)
		}
		if got.Offset != want.Offset || got.SizeBytes != want.SizeBytes {
			t.Errorf("Next() #%d = %+v, want %+v", i, got, want)
		}
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after exhaustion = %v, want io.EOF", err)
	}
}

func TestMemorySourceRespectsCanceledContext(t *testing.T) {
	src := NewMemorySource([]Message{{Record: fakeRecord{1}, Offset: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() with canceled ctx = %v, want context.Canceled", err)
	}
}

func TestMemorySourceClose(t *testing.T) {
	src := NewMemorySource(nil)
	if err := src.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
