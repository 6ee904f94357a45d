package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunknode.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeConfig(t, `
chunk_data_prefix: logs
data_directory: /var/lib/chunknode
rollover_bytes_threshold: 1073741824
rollover_messages_threshold: 5000000
rollover_future_timeout_ms: 45000
s3_bucket: my-bucket
zk_host: 127.0.0.1:9000
zk_path_prefix: /gastrolog
zk_session_timeout_ms: 15000
zk_connection_timeout_ms: 2000
zk_retry_policy:
  times: 3
  interval_ms: 500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ChunkDataPrefix != "logs" {
		t.Errorf("ChunkDataPrefix = %q, want logs", cfg.ChunkDataPrefix)
	}
	if cfg.DataDirectory != "/var/lib/chunknode" {
		t.Errorf("DataDirectory = %q, want /var/lib/chunknode", cfg.DataDirectory)
	}
	if cfg.RolloverBytesThreshold != 1073741824 {
		t.Errorf("RolloverBytesThreshold = %d, want 1073741824", cfg.RolloverBytesThreshold)
	}
	if cfg.RolloverMessagesThreshold != 5000000 {
		t.Errorf("RolloverMessagesThreshold = %d, want 5000000", cfg.RolloverMessagesThreshold)
	}
	if cfg.S3Bucket != "my-bucket" {
		t.Errorf("S3Bucket = %q, want my-bucket", cfg.S3Bucket)
	}
	if cfg.ZKHost != "127.0.0.1:9000" {
		t.Errorf("ZKHost = %q, want 127.0.0.1:9000", cfg.ZKHost)
	}
	if cfg.ZKPathPrefix != "/gastrolog" {
		t.Errorf("ZKPathPrefix = %q, want /gastrolog", cfg.ZKPathPrefix)
	}
	if cfg.ZKRetryPolicy.Times != 3 || cfg.ZKRetryPolicy.IntervalMS != 500 {
		t.Errorf("ZKRetryPolicy = %+v, want {3 500}", cfg.ZKRetryPolicy)
	}

	if got := cfg.RolloverFutureTimeout(); got != 45*time.Second {
		t.Errorf("RolloverFutureTimeout() = %v, want 45s", got)
	}
	if got := cfg.SessionTTL(); got != 15*time.Second {
		t.Errorf("SessionTTL() = %v, want 15s", got)
	}
	if got := cfg.ApplyTimeout(); got != 2*time.Second {
		t.Errorf("ApplyTimeout() = %v, want 2s", got)
	}
}

func TestLoadDefaultsWhenTimeoutsUnset(t *testing.T) {
	path := writeConfig(t, `
chunk_data_prefix: logs
data_directory: /var/lib/chunknode
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.RolloverFutureTimeout(); got != 30*time.Second {
		t.Errorf("RolloverFutureTimeout() default = %v, want 30s", got)
	}
	if got := cfg.SessionTTL(); got != 30*time.Second {
		t.Errorf("SessionTTL() default = %v, want 30s", got)
	}
	if got := cfg.ApplyTimeout(); got != 5*time.Second {
		t.Errorf("ApplyTimeout() default = %v, want 5s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "chunk_data_prefix: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
