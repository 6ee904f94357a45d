package metastore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// command is the JSON-encoded unit applied through the raft log. Unlike the
// teacher's typed protobuf ConfigCommand (one oneof case per config
// entity), persistent nodes here are a generic path->bytes map, so one
// command shape covers every write.
type command struct {
	Op    string `json:"op"` // "put" or "delete"
	Path  string `json:"path"`
	Value []byte `json:"value,omitempty"`
}

func marshalPut(path string, value []byte) ([]byte, error) {
	return json.Marshal(command{Op: "put", Path: path, Value: value})
}

func marshalDelete(path string) ([]byte, error) {
	return json.Marshal(command{Op: "delete", Path: path})
}

// fsm implements raft.FSM over an in-memory path->bytes map, the
// persistent-node half of the hierarchical store. Grounded on the
// teacher's raftfsm.FSM, simplified from a typed command dispatch table to
// a two-op generic store.
type fsm struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ raft.FSM = (*fsm)(nil)

func newFSM() *fsm {
	return &fsm{data: make(map[string][]byte)}
}

func (f *fsm) Apply(l *raft.Log) any {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal metastore command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd.Op {
	case "put":
		f.data[cmd.Path] = cmd.Value
	case "delete":
		delete(f.data, cmd.Path)
	default:
		return fmt.Errorf("unknown metastore command op: %q", cmd.Op)
	}
	return nil
}

func (f *fsm) get(path string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[path]
	return v, ok
}

func (f *fsm) children(prefix string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for path := range f.data {
		if child, ok := directChild(prefix, path); ok {
			out = append(out, child)
		}
	}
	return out
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		cp[k] = v
	}
	return &fsmSnapshot{data: cp}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var data map[string][]byte
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return fmt.Errorf("decode metastore snapshot: %w", err)
	}
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	data map[string][]byte
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	enc := json.NewEncoder(sink)
	if err := enc.Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("persist metastore snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
