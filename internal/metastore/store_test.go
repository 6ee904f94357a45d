package metastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"gastrolog/internal/chunk"
)

// openTestStore bootstraps a real single-node raft-backed Store on a
// loopback port chosen by the OS. Single-node raft still has to elect
// itself leader before the first Apply succeeds, so callers must tolerate
// a brief warm-up window.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Raft: RaftConfig{
			NodeID:       "test-node",
			DataDir:      t.TempDir(),
			BindAddr:     "127.0.0.1:0",
			ApplyTimeout: 2 * time.Second,
		},
		SweepInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := s.Create("/warmup", []byte("x"), false).Wait()
		if err == nil || errors.Is(err, ErrAlreadyExists) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("store never became writable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStoreCreateGetDelete(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Create("/a", []byte("v1"), false).Wait(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, err := s.Get("/a").Wait()
	if err != nil || string(v) != "v1" {
		t.Fatalf("Get(/a) = (%q, %v), want (v1, nil)", v, err)
	}

	if _, err := s.Delete("/a").Wait(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("/a").Wait(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestStoreCreateAlreadyExists(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create("/dup", []byte("1"), false).Wait(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Create("/dup", []byte("2"), false).Wait()
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create = %v, want ErrAlreadyExists", err)
	}
}

func TestStoreEphemeralLifecycle(t *testing.T) {
	s := openTestStore(t)

	s.OpenSession("sess1", 50*time.Millisecond)

	if _, err := s.CreateEphemeral("sess1", "/live/a", []byte("v")).Wait(); err != nil {
		t.Fatalf("CreateEphemeral: %v", err)
	}
	if v, err := s.Get("/live/a").Wait(); err != nil || string(v) != "v" {
		t.Fatalf("Get(/live/a) = (%q, %v), want (v, nil)", v, err)
	}

	_, err := s.CreateEphemeral("no-such-session", "/live/b", []byte("v")).Wait()
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("CreateEphemeral with unknown session = %v, want ErrNoSession", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := s.Get("/live/a").Wait(); errors.Is(err, ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ephemeral node was never torn down after session expiry")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStoreGetChildren(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []string{"/chunks/a", "/chunks/b"} {
		if _, err := s.Create(p, []byte("v"), true).Wait(); err != nil {
			t.Fatalf("Create(%s): %v", p, err)
		}
	}
	s.OpenSession("sess1", time.Minute)
	if _, err := s.CreateEphemeral("sess1", "/chunks/c", []byte("v")).Wait(); err != nil {
		t.Fatalf("CreateEphemeral: %v", err)
	}

	children, err := s.GetChildren("/chunks").Wait()
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	want := map[string]bool{"/chunks/a": true, "/chunks/b": true, "/chunks/c": true}
	if len(children) != len(want) {
		t.Fatalf("GetChildren = %v, want keys %v", children, want)
	}
	for _, c := range children {
		if !want[c] {
			t.Errorf("unexpected child %q", c)
		}
	}
}

func TestStorePutChunkMetaSatisfiesCatalog(t *testing.T) {
	s := openTestStore(t)

	id := chunk.NewID()
	meta := chunk.Meta{ID: id, Prefix: "p", State: chunk.Uploaded, MessageCount: 3}

	if err := s.PutChunkMeta(context.Background(), meta); err != nil {
		t.Fatalf("PutChunkMeta: %v", err)
	}
	v, err := s.Get(chunkMetaPath(id.String())).Wait()
	if err != nil {
		t.Fatalf("Get chunk meta: %v", err)
	}
	if len(v) == 0 {
		t.Fatal("expected non-empty serialized chunk meta")
	}

	if err := s.DeleteChunkMeta(context.Background(), id); err != nil {
		t.Fatalf("DeleteChunkMeta: %v", err)
	}
	if _, err := s.Get(chunkMetaPath(id.String())).Wait(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after DeleteChunkMeta = %v, want ErrNotFound", err)
	}
}

func TestStoreCreateMissingParentFailsNoNode(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create("/missing/child", []byte("v"), false).Wait()
	if !errors.Is(err, ErrNoNode) {
		t.Fatalf("Create under missing parent, createParents=false = %v, want ErrNoNode", err)
	}
	if _, err := s.Get("/missing/child").Wait(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(/missing/child) after failed Create = %v, want ErrNotFound", err)
	}
}

func TestStoreCreateParentsMaterializesAncestors(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create("/root/1/leaf", []byte("v"), true).Wait(); err != nil {
		t.Fatalf("Create with createParents=true: %v", err)
	}
	for _, p := range []string{"/root", "/root/1", "/root/1/leaf"} {
		if _, err := s.Get(p).Wait(); err != nil {
			t.Errorf("Get(%s) after createParents=true = %v, want nil", p, err)
		}
	}
}

func TestStoreCreateEphemeralAlreadyExists(t *testing.T) {
	s := openTestStore(t)
	s.OpenSession("sess1", time.Minute)

	if _, err := s.CreateEphemeral("sess1", "/live/dup", []byte("1")).Wait(); err != nil {
		t.Fatalf("CreateEphemeral: %v", err)
	}
	_, err := s.CreateEphemeral("sess1", "/live/dup", []byte("2")).Wait()
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate CreateEphemeral = %v, want ErrAlreadyExists", err)
	}
}

func TestStoreCreateEphemeralUnderEphemeralParentFailsInternal(t *testing.T) {
	s := openTestStore(t)
	s.OpenSession("sess1", time.Minute)

	if _, err := s.CreateEphemeral("sess1", "/live/parent", []byte("v")).Wait(); err != nil {
		t.Fatalf("CreateEphemeral: %v", err)
	}
	_, err := s.CreateEphemeral("sess1", "/live/parent/child", []byte("v")).Wait()
	if !errors.Is(err, ErrInternal) {
		t.Errorf("CreateEphemeral under ephemeral parent = %v, want ErrInternal", err)
	}
}

func TestStoreDeleteWithChildrenFailsInternal(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create("/root/1", nil, true).Wait(); err != nil {
		t.Fatalf("Create(/root/1): %v", err)
	}
	if _, err := s.Create("/root/1/child", []byte("v"), false).Wait(); err != nil {
		t.Fatalf("Create(/root/1/child): %v", err)
	}

	_, err := s.Delete("/root/1").Wait()
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Delete(/root/1) with a child = %v, want ErrInternal", err)
	}

	if _, err := s.Delete("/root/1/child").Wait(); err != nil {
		t.Fatalf("Delete(/root/1/child): %v", err)
	}
	if _, err := s.Delete("/root/1").Wait(); err != nil {
		t.Errorf("Delete(/root/1) after removing its child: %v", err)
	}
}
