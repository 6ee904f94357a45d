package metastore

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// RaftConfig collects the single-node raft instance's on-disk and network
// parameters. Grounded on the teacher's raftstore.New bootstrap, which
// wires hashicorp/raft over a BoltDB log store for durable WAL + snapshot
// machinery without multi-node consensus (out of scope here, matching the
// teacher's own "multi-node consensus is out of scope" note).
type RaftConfig struct {
	NodeID       string
	DataDir      string
	BindAddr     string
	ApplyTimeout time.Duration
}

// persistentStore wraps a single-node raft.Raft + fsm, giving PERSISTENT
// metadata nodes a durable WAL: writes go through raft.Apply (logged to
// BoltDB before being applied to the in-memory fsm), reads are served
// directly from the fsm.
type persistentStore struct {
	raft         *raft.Raft
	fsm          *fsm
	applyTimeout time.Duration
}

func newPersistentStore(cfg RaftConfig) (*persistentStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	f := newFSM()
	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	bootstrapCfg := raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	}
	if fut := r.BootstrapCluster(bootstrapCfg); fut.Error() != nil && fut.Error() != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrap raft cluster: %w", fut.Error())
	}

	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = 5 * time.Second
	}
	return &persistentStore{raft: r, fsm: f, applyTimeout: applyTimeout}, nil
}

func (s *persistentStore) put(path string, value []byte) error {
	data, err := marshalPut(path, value)
	if err != nil {
		return fmt.Errorf("marshal put command: %w", err)
	}
	return s.apply(data)
}

func (s *persistentStore) delete(path string) error {
	data, err := marshalDelete(path)
	if err != nil {
		return fmt.Errorf("marshal delete command: %w", err)
	}
	return s.apply(data)
}

func (s *persistentStore) apply(data []byte) error {
	future := s.raft.Apply(data, s.applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

func (s *persistentStore) get(path string) ([]byte, bool) {
	return s.fsm.get(path)
}

func (s *persistentStore) children(prefix string) []string {
	return s.fsm.children(prefix)
}

func (s *persistentStore) shutdown() error {
	return s.raft.Shutdown().Error()
}
