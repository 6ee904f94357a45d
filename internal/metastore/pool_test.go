package metastore

import (
	"errors"
	"sync"
	"testing"
)

func TestPoolSubmitReturnsResult(t *testing.T) {
	p := newPool(2)
	defer p.close()

	f := submit(p, func() (int, error) { return 42, nil })
	v, err := f.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 42 {
		t.Errorf("Wait() = %d, want 42", v)
	}
}

func TestPoolSubmitPropagatesError(t *testing.T) {
	p := newPool(1)
	defer p.close()

	wantErr := errors.New("boom")
	f := submit(p, func() (int, error) { return 0, wantErr })
	_, err := f.Wait()
	if !errors.Is(err, wantErr) {
		t.Errorf("Wait() error = %v, want %v", err, wantErr)
	}
}

func TestPoolRunsJobsConcurrently(t *testing.T) {
	const n = 20
	p := newPool(4)
	defer p.close()

	var mu sync.Mutex
	seen := make(map[int]bool)
	futures := make([]*Future[struct{}], n)
	for i := range n {
		i := i
		futures[i] = submit(p, func() (struct{}, error) {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			return struct{}{}, nil
		})
	}
	for _, f := range futures {
		if _, err := f.Wait(); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if len(seen) != n {
		t.Errorf("len(seen) = %d, want %d", len(seen), n)
	}
}

func TestFutureDoneClosesOnCompletion(t *testing.T) {
	p := newPool(1)
	defer p.close()

	f := submit(p, func() (int, error) { return 1, nil })
	<-f.Done()
	v, err := f.Wait()
	if err != nil || v != 1 {
		t.Errorf("Wait() = (%d, %v), want (1, nil)", v, err)
	}
}
