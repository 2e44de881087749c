// Package config loads PeerConfig/ServerConfig from a TOML file, the way
// proxyd-style services load their process configuration. The file is the
// only source; no CLI flag overrides its values. Peer timeout and retry
// knobs the file omits fall back to the protocol defaults; addresses,
// identifiers and the shared-directory path are required.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/filefabric/ctp/peer"
	"github.com/filefabric/ctp/wire"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// PeerConfig mirrors the construction inputs of peer.New plus the
// timeouts/retries a running peer process uses for its workflow steps.
type PeerConfig struct {
	ListenAddr    string `toml:"listen_addr"`
	ClusterID     string `toml:"cluster_id"`
	PeerID        string `toml:"peer_id"`
	SharedDirPath string `toml:"shared_dir_path"`
	ServerAddr    string `toml:"server_addr"`

	Timeout              Duration `toml:"timeout"`
	JoinRetries          int      `toml:"join_retries"`
	PeerRequestRetries   int      `toml:"peer_request_retries"`
	ManifestFetchRetries int      `toml:"manifest_fetch_retries"`

	// MetricsAddr, when set, exposes the Prometheus registry over HTTP at
	// /metrics on that address.
	MetricsAddr string `toml:"metrics_addr"`
}

// ServerConfig mirrors the construction inputs of server.New plus the
// cluster IDs to register at startup.
type ServerConfig struct {
	ListenAddr    string   `toml:"listen_addr"`
	ServerID      string   `toml:"server_id"`
	SharedDirPath string   `toml:"shared_dir_path"`
	Clusters      []string `toml:"clusters"`

	// MetricsAddr, when set, exposes the Prometheus registry over HTTP at
	// /metrics on that address.
	MetricsAddr string `toml:"metrics_addr"`
}

// Duration wraps time.Duration so it can be parsed from a TOML string like
// "1s" instead of a raw integer nanosecond count.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML string values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// defaultPeerConfig returns a PeerConfig holding the protocol default
// timeout and retry counts, onto which the file is decoded.
func defaultPeerConfig() PeerConfig {
	return PeerConfig{
		Timeout:              Duration(peer.DefaultTimeout),
		JoinRetries:          peer.DefaultJoinRetries,
		PeerRequestRetries:   peer.DefaultPeerRequestRetries,
		ManifestFetchRetries: peer.DefaultManifestFetchRetries,
	}
}

// LoadPeerConfig reads path as TOML, applying defaults for any timeout or
// retry knob the file omits and for a zero timeout (a retry count set to 0
// stays 0), then validates the result.
func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := defaultPeerConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return PeerConfig{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(peer.DefaultTimeout)
	}
	return cfg, validatePeerConfig(cfg)
}

func validatePeerConfig(cfg PeerConfig) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if len(cfg.ClusterID) != wire.IDSize {
		return fmt.Errorf("%w: cluster_id must be exactly %d bytes, got %d", ErrInvalidConfig, wire.IDSize, len(cfg.ClusterID))
	}
	if len(cfg.PeerID) != wire.IDSize {
		return fmt.Errorf("%w: peer_id must be exactly %d bytes, got %d", ErrInvalidConfig, wire.IDSize, len(cfg.PeerID))
	}
	if cfg.SharedDirPath == "" {
		return fmt.Errorf("%w: shared_dir_path is required", ErrInvalidConfig)
	}
	if cfg.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr is required", ErrInvalidConfig)
	}
	return nil
}

// LoadServerConfig reads path as TOML and validates the result. A server
// carries no per-request timeout/retry knobs of its own.
func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, validateServerConfig(cfg)
}

func validateServerConfig(cfg ServerConfig) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if len(cfg.ServerID) != wire.IDSize {
		return fmt.Errorf("%w: server_id must be exactly %d bytes, got %d", ErrInvalidConfig, wire.IDSize, len(cfg.ServerID))
	}
	if cfg.SharedDirPath == "" {
		return fmt.Errorf("%w: shared_dir_path is required", ErrInvalidConfig)
	}
	for _, id := range cfg.Clusters {
		if len(id) != wire.IDSize {
			return fmt.Errorf("%w: cluster id %q must be exactly %d bytes, got %d", ErrInvalidConfig, id, wire.IDSize, len(id))
		}
	}
	return nil
}
