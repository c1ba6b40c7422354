package config

import "time"

// ServerConfig is the root configuration for workingdb-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Storage StorageSection `koanf:"storage"`
	Expiry  ExpirySection  `koanf:"expiry"`
	Limits  LimitsSection  `koanf:"limits"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the client-facing listeners.
type ServerSection struct {
	Redis     RedisConfig     `koanf:"redis"`
	Memcached MemcachedConfig `koanf:"memcached"`
	Mux       MuxConfig       `koanf:"mux"`
	Local     LocalConfig     `koanf:"local"`
	HTTP      HTTPConfig      `koanf:"http"`
}

// ListenerConfig holds the settings shared by the TCP protocol listeners.
type ListenerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Address        string        `koanf:"address"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	MaxConnections int           `koanf:"max_connections"`

	// RateLimitPerSecond is the per-client command budget. Zero disables
	// rate limiting.
	RateLimitPerSecond int `koanf:"rate_limit_per_second"`
}

// RedisConfig configures the RESP listener.
type RedisConfig struct {
	ListenerConfig `koanf:",squash"`

	// RequirePass enables AUTH when non-empty.
	RequirePass string `koanf:"require_pass"`
}

// MemcachedConfig configures the memcached text protocol listener.
type MemcachedConfig struct {
	ListenerConfig `koanf:",squash"`
}

// MuxConfig configures the single port that sniffs the protocol of each
// connection.
type MuxConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Address        string `koanf:"address"`
	MaxConnections int    `koanf:"max_connections"`
}

// LocalConfig configures the Unix socket used by workingdb-cli.
type LocalConfig struct {
	Enabled    bool   `koanf:"enabled"`
	SocketPath string `koanf:"socket_path"`
}

// HTTPConfig configures the admin API and metrics listener.
type HTTPConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Address   string `koanf:"address"`
	AccessLog bool   `koanf:"access_log"`

	RateLimitPerSecond int `koanf:"rate_limit_per_second"`
}

// StorageSection configures the write log and snapshots.
type StorageSection struct {
	DataDir    string `koanf:"data_dir"`
	ShardCount int    `koanf:"shard_count"`

	// Fsync is one of always, everysec or no.
	Fsync         string        `koanf:"fsync"`
	FsyncInterval time.Duration `koanf:"fsync_interval"`
	SegmentSize   int64         `koanf:"segment_size"`
	FilePrefix    string        `koanf:"file_prefix"`

	// SnapshotInterval of zero disables periodic snapshots.
	SnapshotInterval  time.Duration `koanf:"snapshot_interval"`
	SnapshotRetention int           `koanf:"snapshot_retention"`
	RetainSegments    int           `koanf:"retain_segments"`

	// Compression is zstd or none.
	Compression string `koanf:"compression"`

	// EncryptionKey is a hex encoded 32-byte snapshot key. Empty disables
	// encryption.
	EncryptionKey string `koanf:"encryption_key"`

	// EncryptionCipher is aes-gcm or chacha20-poly1305. Empty picks by
	// hardware support.
	EncryptionCipher string `koanf:"encryption_cipher"`
}

// ExpirySection configures the active expiration sweeper.
type ExpirySection struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepBatch    int           `koanf:"sweep_batch"`
}

// LimitsSection configures key and value size ceilings.
type LimitsSection struct {
	MaxKeySize   int `koanf:"max_key_size"`
	MaxValueSize int `koanf:"max_value_size"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}
