package config

import "time"

// Default configuration values.
const (
	DefaultRedisAddr     = "127.0.0.1:6379"
	DefaultMemcachedAddr = "127.0.0.1:11211"
	DefaultMuxAddr       = "127.0.0.1:6390"
	DefaultHTTPAddr      = "127.0.0.1:6380"
	DefaultLocalSocket   = "/var/run/workingdb/workingdb.sock"

	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultMaxConnections = 10000

	DefaultDataDir           = "./data"
	DefaultShardCount        = 64
	DefaultFsync             = "everysec"
	DefaultFsyncInterval     = time.Second
	DefaultSegmentSize       = 64 << 20
	DefaultFilePrefix        = "aof"
	DefaultSnapshotInterval  = time.Hour
	DefaultSnapshotRetention = 3
	DefaultRetainSegments    = 2
	DefaultCompression       = "zstd"

	DefaultSweepInterval = time.Second
	DefaultSweepBatch    = 512

	DefaultMaxKeySize   = 512
	DefaultMaxValueSize = 1 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stderr"
)

func defaultListener(enabled bool, addr string) ListenerConfig {
	return ListenerConfig{
		Enabled:        enabled,
		Address:        addr,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxConnections: DefaultMaxConnections,
	}
}

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Redis:     RedisConfig{ListenerConfig: defaultListener(true, DefaultRedisAddr)},
			Memcached: MemcachedConfig{ListenerConfig: defaultListener(true, DefaultMemcachedAddr)},
			Mux: MuxConfig{
				Address:        DefaultMuxAddr,
				MaxConnections: DefaultMaxConnections,
			},
			Local: LocalConfig{
				SocketPath: DefaultLocalSocket,
			},
			HTTP: HTTPConfig{
				Enabled: true,
				Address: DefaultHTTPAddr,
			},
		},
		Storage: StorageSection{
			DataDir:           DefaultDataDir,
			ShardCount:        DefaultShardCount,
			Fsync:             DefaultFsync,
			FsyncInterval:     DefaultFsyncInterval,
			SegmentSize:       DefaultSegmentSize,
			FilePrefix:        DefaultFilePrefix,
			SnapshotInterval:  DefaultSnapshotInterval,
			SnapshotRetention: DefaultSnapshotRetention,
			RetainSegments:    DefaultRetainSegments,
			Compression:       DefaultCompression,
		},
		Expiry: ExpirySection{
			SweepInterval: DefaultSweepInterval,
			SweepBatch:    DefaultSweepBatch,
		},
		Limits: LimitsSection{
			MaxKeySize:   DefaultMaxKeySize,
			MaxValueSize: DefaultMaxValueSize,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Output: DefaultLogOutput,
		},
	}
}
