package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clicfg "github.com/workingdb/workingdb-go/internal/cli/config"
)

func TestConfigProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	cli := func(args ...string) (string, error) {
		return runApp(t, "", append([]string{"workingdb-cli", "--config", path}, args...)...)
	}

	out, err := cli("--server", "db1:6379", "--password", "pw", "config", "set-profile", "prod")
	require.NoError(t, err)
	assert.Equal(t, "Saved profile \"prod\"\n", out)

	_, err = cli("config", "use", "nope")
	assert.ErrorContains(t, err, `unknown profile "nope"`)

	_, err = cli("config", "use", "prod")
	require.NoError(t, err)

	cfg, err := clicfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Current)
	assert.Equal(t, clicfg.Profile{Server: "db1:6379", Password: "pw"}, cfg.Profiles["prod"])

	out, err = cli("-o", "json", "config", "show")
	require.NoError(t, err)
	var views []profileView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "default", views[0].Name)
	assert.Equal(t, "prod", views[1].Name)
	assert.True(t, views[1].Current)
	assert.Equal(t, "******", views[1].Password)

	_, err = cli("config", "set-profile", "empty")
	assert.Error(t, err)
}

func TestConfigTest(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("storage:\n  data_dir: /tmp/wdb\n  shard_count: 16\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  shard_count: 12\n  fsync: sometimes\n"), 0o600))

	cliPath := filepath.Join(dir, "cli.yaml")
	out, err := runApp(t, "", "workingdb-cli", "--config", cliPath, "config", "test", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = runApp(t, "", "workingdb-cli", "--config", cliPath, "config", "test", bad)
	assert.Error(t, err)
	assert.Contains(t, out, "is invalid")
	assert.Contains(t, out, "shard_count")
	assert.Contains(t, out, "fsync")
}
