package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/filefabric/ctp/peer"
)

func id32(fill byte) string {
	s := make([]byte, 32)
	for i := range s {
		s[i] = fill
	}
	return string(s)
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPeerConfigDefaults(t *testing.T) {
	path := writeTOML(t, `
listen_addr = "127.0.0.1:9000"
cluster_id = "`+id32('c')+`"
peer_id = "`+id32('p')+`"
shared_dir_path = "/tmp/ctp"
server_addr = "127.0.0.1:9001"
`)
	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("LoadPeerConfig failed: %v", err)
	}
	if time.Duration(cfg.Timeout) != peer.DefaultTimeout {
		t.Errorf("Timeout = %v, want default %v", time.Duration(cfg.Timeout), peer.DefaultTimeout)
	}
	if cfg.JoinRetries != peer.DefaultJoinRetries {
		t.Errorf("JoinRetries = %d, want default %d", cfg.JoinRetries, peer.DefaultJoinRetries)
	}
}

func TestLoadPeerConfigOverridesDefaults(t *testing.T) {
	path := writeTOML(t, `
listen_addr = "127.0.0.1:9000"
cluster_id = "`+id32('c')+`"
peer_id = "`+id32('p')+`"
shared_dir_path = "/tmp/ctp"
server_addr = "127.0.0.1:9001"
timeout = "5s"
join_retries = 9
`)
	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("LoadPeerConfig failed: %v", err)
	}
	if time.Duration(cfg.Timeout) != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", time.Duration(cfg.Timeout))
	}
	if cfg.JoinRetries != 9 {
		t.Errorf("JoinRetries = %d, want 9", cfg.JoinRetries)
	}
}

func TestLoadPeerConfigRejectsBadIDLength(t *testing.T) {
	path := writeTOML(t, `
listen_addr = "127.0.0.1:9000"
cluster_id = "short"
peer_id = "`+id32('p')+`"
shared_dir_path = "/tmp/ctp"
server_addr = "127.0.0.1:9001"
`)
	if _, err := LoadPeerConfig(path); err == nil || !strings.Contains(err.Error(), "cluster_id") {
		t.Fatalf("expected a cluster_id length error, got %v", err)
	}
}

func TestLoadPeerConfigRequiresListenAddr(t *testing.T) {
	path := writeTOML(t, `
cluster_id = "`+id32('c')+`"
peer_id = "`+id32('p')+`"
shared_dir_path = "/tmp/ctp"
server_addr = "127.0.0.1:9001"
`)
	if _, err := LoadPeerConfig(path); err == nil {
		t.Fatal("expected an error for a missing listen_addr")
	}
}

func TestLoadServerConfigValidatesClusters(t *testing.T) {
	path := writeTOML(t, `
listen_addr = "127.0.0.1:9000"
server_id = "ssssssssssssssssssssssssssssssss"
shared_dir_path = "/tmp/ctp"
clusters = ["short"]
`)
	if _, err := LoadServerConfig(path); err == nil || !strings.Contains(err.Error(), "cluster id") {
		t.Fatalf("expected a cluster id length error, got %v", err)
	}
}

func TestLoadServerConfigSuccess(t *testing.T) {
	path := writeTOML(t, `
listen_addr = "127.0.0.1:9000"
server_id = "ssssssssssssssssssssssssssssssss"
shared_dir_path = "/tmp/ctp"
clusters = ["`+id32('c')+`"]
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if len(cfg.Clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(cfg.Clusters))
	}
}
