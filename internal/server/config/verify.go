package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/workingdb/workingdb-go/internal/storage/snapshot"
	"github.com/workingdb/workingdb-go/pkg/secret"
)

// Verify validates the configuration. All problems are reported together.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	errs = append(errs, verifyExpiry(&cfg.Expiry)...)
	errs = append(errs, verifyLimits(&cfg.Limits)...)
	errs = append(errs, verifyLog(&cfg.Log)...)
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	listeners := []struct {
		name string
		l    ListenerConfig
	}{
		{"server.redis", cfg.Redis.ListenerConfig},
		{"server.memcached", cfg.Memcached.ListenerConfig},
	}
	bound := make(map[string]string)
	claim := func(name, addr string) {
		if _, port, _ := net.SplitHostPort(addr); port == "0" {
			return
		}
		if prev, ok := bound[addr]; ok {
			errs = append(errs, fmt.Errorf("%s.address %s is already used by %s", name, addr, prev))
			return
		}
		bound[addr] = name
	}

	for _, ln := range listeners {
		if !ln.l.Enabled {
			continue
		}
		if err := verifyAddress(ln.l.Address); err != nil {
			errs = append(errs, fmt.Errorf("%s.address: %w", ln.name, err))
		} else {
			claim(ln.name, ln.l.Address)
		}
		if ln.l.MaxConnections < 0 {
			errs = append(errs, fmt.Errorf("%s.max_connections must not be negative", ln.name))
		}
		if ln.l.RateLimitPerSecond < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit_per_second must not be negative", ln.name))
		}
		if ln.l.ReadTimeout < 0 || ln.l.WriteTimeout < 0 || ln.l.IdleTimeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeouts must not be negative", ln.name))
		}
	}

	if cfg.Mux.Enabled {
		if err := verifyAddress(cfg.Mux.Address); err != nil {
			errs = append(errs, fmt.Errorf("server.mux.address: %w", err))
		} else {
			claim("server.mux", cfg.Mux.Address)
		}
	}
	if cfg.HTTP.Enabled {
		if err := verifyAddress(cfg.HTTP.Address); err != nil {
			errs = append(errs, fmt.Errorf("server.http.address: %w", err))
		} else {
			claim("server.http", cfg.HTTP.Address)
		}
	}
	if cfg.Local.Enabled && cfg.Local.SocketPath == "" {
		errs = append(errs, errors.New("server.local.socket_path is required when the local socket is enabled"))
	}
	return errs
}

func verifyAddress(addr string) error {
	if addr == "" {
		return errors.New("is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}

func verifyStorage(cfg *StorageSection) []error {
	var errs []error
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	if n := cfg.ShardCount; n <= 0 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("storage.shard_count must be a power of two, got %d", n))
	}
	switch cfg.Fsync {
	case "always", "everysec", "no":
	default:
		errs = append(errs, fmt.Errorf("storage.fsync must be always, everysec or no, got %q", cfg.Fsync))
	}
	if cfg.FsyncInterval < 0 {
		errs = append(errs, errors.New("storage.fsync_interval must not be negative"))
	}
	if cfg.SegmentSize < 0 {
		errs = append(errs, errors.New("storage.segment_size must not be negative"))
	}
	if strings.ContainsAny(cfg.FilePrefix, `/\`) {
		errs = append(errs, fmt.Errorf("storage.file_prefix must not contain path separators, got %q", cfg.FilePrefix))
	}
	if cfg.SnapshotInterval < 0 {
		errs = append(errs, errors.New("storage.snapshot_interval must not be negative"))
	}
	if cfg.SnapshotRetention < 1 {
		errs = append(errs, errors.New("storage.snapshot_retention must be at least 1"))
	}
	if cfg.RetainSegments < 0 {
		errs = append(errs, errors.New("storage.retain_segments must not be negative"))
	}
	switch cfg.Compression {
	case "zstd", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.compression must be zstd or none, got %q", cfg.Compression))
	}
	if cfg.EncryptionKey != "" {
		if _, err := secret.DecodeKey(cfg.EncryptionKey); err != nil {
			errs = append(errs, errors.New("storage.encryption_key must be 64 hex characters (workingdb-server keygen)"))
		}
	}
	if !slices.Contains(snapshot.Ciphers, cfg.EncryptionCipher) {
		errs = append(errs, fmt.Errorf("storage.encryption_cipher must be aes-gcm or chacha20-poly1305, got %q", cfg.EncryptionCipher))
	}
	return errs
}

func verifyExpiry(cfg *ExpirySection) []error {
	var errs []error
	if cfg.SweepInterval <= 0 {
		errs = append(errs, errors.New("expiry.sweep_interval must be positive"))
	}
	if cfg.SweepBatch <= 0 {
		errs = append(errs, errors.New("expiry.sweep_batch must be positive"))
	}
	return errs
}

func verifyLimits(cfg *LimitsSection) []error {
	var errs []error
	if cfg.MaxKeySize <= 0 {
		errs = append(errs, errors.New("limits.max_key_size must be positive"))
	}
	if cfg.MaxValueSize <= 0 {
		errs = append(errs, errors.New("limits.max_value_size must be positive"))
	}
	return errs
}

func verifyLog(cfg *LogSection) []error {
	var errs []error
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Level))
	}
	switch cfg.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Format))
	}
	return errs
}
