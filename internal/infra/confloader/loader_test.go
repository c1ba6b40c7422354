package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type listener struct {
	Enabled     bool          `koanf:"enabled"`
	Address     string        `koanf:"address"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

type testConfig struct {
	Server struct {
		Redis struct {
			listener    `koanf:",squash"`
			RequirePass string `koanf:"require_pass"`
		} `koanf:"redis"`
	} `koanf:"server"`
	Storage struct {
		DataDir    string `koanf:"data_dir"`
		ShardCount int    `koanf:"shard_count"`
	} `koanf:"storage"`
}

func defaults() *testConfig {
	var cfg testConfig
	cfg.Server.Redis.Enabled = true
	cfg.Server.Redis.Address = "127.0.0.1:6379"
	cfg.Server.Redis.ReadTimeout = 30 * time.Second
	cfg.Storage.DataDir = "./data"
	cfg.Storage.ShardCount = 64
	return &cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoader_MissingFile(t *testing.T) {
	err := NewLoader(WithConfigFile("/nonexistent/config.yaml")).Load(defaults())
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestLoader_NoFileKeepsDefaults(t *testing.T) {
	cfg := defaults()
	if err := NewLoader().Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != *defaults() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoader_Load_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  shard_count: 16
`)
	cfg := defaults()
	if err := NewLoader(WithConfigFile(path)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.ShardCount != 16 {
		t.Errorf("ShardCount = %d, want 16", cfg.Storage.ShardCount)
	}
	if cfg.Storage.DataDir != "./data" || cfg.Server.Redis.Address != "127.0.0.1:6379" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Server.Redis.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.Redis.ReadTimeout)
	}
}

func TestLoader_Load_Priority(t *testing.T) {
	path := writeConfig(t, `
server:
  redis:
    address: "from-file:6379"
    read_timeout: 5s
`)
	t.Setenv("WORKINGDB_SERVER_REDIS_ADDRESS", "from-env:6379")

	cfg := defaults()
	if err := NewLoader(WithConfigFile(path)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Redis.Address != "from-env:6379" {
		t.Errorf("Address = %q, want env to override file", cfg.Server.Redis.Address)
	}
	if cfg.Server.Redis.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s from file", cfg.Server.Redis.ReadTimeout)
	}
}

func TestLoader_LoadEnv_UnderscoreKeys(t *testing.T) {
	t.Setenv("WORKINGDB_SERVER_REDIS_READ_TIMEOUT", "2s")
	t.Setenv("WORKINGDB_SERVER_REDIS_REQUIRE_PASS", "hunter2")
	t.Setenv("WORKINGDB_STORAGE_DATA_DIR", "/srv/workingdb")

	cfg := defaults()
	if err := NewLoader().Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Redis.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.Redis.ReadTimeout)
	}
	if cfg.Server.Redis.RequirePass != "hunter2" {
		t.Errorf("RequirePass = %q", cfg.Server.Redis.RequirePass)
	}
	if cfg.Storage.DataDir != "/srv/workingdb" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestLoader_LoadEnv_CustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_STORAGE_SHARD_COUNT", "8")
	t.Setenv("WORKINGDB_STORAGE_SHARD_COUNT", "4")

	cfg := defaults()
	if err := NewLoader(WithEnvPrefix("MYAPP_")).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.ShardCount != 8 {
		t.Errorf("ShardCount = %d, want 8", cfg.Storage.ShardCount)
	}
}

func TestKeysOf(t *testing.T) {
	keys := KeysOf(&testConfig{})
	want := map[string]string{
		"server_redis_enabled":      "server.redis.enabled",
		"server_redis_address":      "server.redis.address",
		"server_redis_read_timeout": "server.redis.read_timeout",
		"server_redis_require_pass": "server.redis.require_pass",
		"storage_data_dir":          "storage.data_dir",
		"storage_shard_count":       "storage.shard_count",
	}
	if len(keys) != len(want) {
		t.Fatalf("KeysOf() = %v", keys)
	}
	for k, v := range want {
		if keys[k] != v {
			t.Errorf("keys[%q] = %q, want %q", k, keys[k], v)
		}
	}

	if len(KeysOf(42)) != 0 {
		t.Error("non-struct should yield no keys")
	}
}

func TestLoader_OverridesWin(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /from/file
server:
  redis:
    address: "from-file:6379"
`)
	t.Setenv("WORKINGDB_STORAGE_DATA_DIR", "/from/env")

	cfg := defaults()
	l := NewLoader(
		WithConfigFile(path),
		WithOverride("storage.data_dir", "/from/flag"),
		WithOverride("server.redis.read_timeout", "3s"),
	)
	if err := l.Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DataDir != "/from/flag" {
		t.Errorf("DataDir = %q, want override", cfg.Storage.DataDir)
	}
	if cfg.Server.Redis.Address != "from-file:6379" {
		t.Errorf("Address = %q, sibling from file lost", cfg.Server.Redis.Address)
	}
	if cfg.Server.Redis.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.Redis.ReadTimeout)
	}
}

func TestLoader_ReloadIsRepeatable(t *testing.T) {
	path := writeConfig(t, "storage:\n  shard_count: 16\n")
	l := NewLoader(WithConfigFile(path))

	first := defaults()
	if err := l.Load(first); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("storage:\n  shard_count: 32\n"), 0644); err != nil {
		t.Fatal(err)
	}
	second := defaults()
	if err := l.Load(second); err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if first.Storage.ShardCount != 16 || second.Storage.ShardCount != 32 {
		t.Errorf("shard counts = %d, %d", first.Storage.ShardCount, second.Storage.ShardCount)
	}
}

func TestNested(t *testing.T) {
	got := nested(map[string]any{
		"log.level":        "debug",
		"storage.data_dir": "/d",
		"storage.fsync":    "always",
		"top":              1,
	})
	storage, ok := got["storage"].(map[string]any)
	if !ok || storage["data_dir"] != "/d" || storage["fsync"] != "always" {
		t.Fatalf("storage = %#v", got["storage"])
	}
	if lg, _ := got["log"].(map[string]any); lg["level"] != "debug" {
		t.Fatalf("log = %#v", got["log"])
	}
	if got["top"] != 1 {
		t.Fatalf("top = %#v", got["top"])
	}
}
