package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "zkq.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
zookeeper:
  servers: ["zk1:2181", "zk2:2181"]
  session_timeout: 15s
  chroot: /zkq
log_level: debug
history_db: /var/lib/zkq/history.db
monitor_addr: ":9090"
apps:
  etl/profile:
    command: "bash run.sh --date {date} --client {client_id}"
    dimensions: [date, client_id, collection]
    watchdog_seconds: 3600
    env:
      STAGE: prod
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.ZooKeeper.Servers)
	assert.Equal(t, "/zkq", cfg.ZooKeeper.Chroot)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MonitorAddr)

	a, ok := cfg.App("etl/profile")
	require.True(t, ok)
	assert.Equal(t, 3600, a.Watchdog())
	assert.Equal(t, []string{"STAGE=prod"}, a.Environ())
	assert.Equal(t, []string{"etl/profile"}, cfg.AppNames())
}

func TestWatchdogDefaultsToDisabled(t *testing.T) {
	var a AppConfig
	assert.Equal(t, -1, a.Watchdog())

	n := -5
	a.WatchdogSeconds = &n
	assert.Equal(t, -1, a.Watchdog())

	zero := 0
	a.WatchdogSeconds = &zero
	assert.Equal(t, 0, a.Watchdog())
}

func TestParseJobID(t *testing.T) {
	dims := []string{"date", "client_id", "collection"}
	got := ParseJobID(dims, "20140606_1111_profile")
	assert.Equal(t, map[string]string{
		"date":       "20140606",
		"client_id":  "1111",
		"collection": "profile",
	}, got)

	// Short job ids map what they have.
	got = ParseJobID(dims, "20140606")
	assert.Equal(t, map[string]string{"date": "20140606"}, got)
}

func TestRenderCommand(t *testing.T) {
	a := AppConfig{
		Command:    "bash run.sh --date {date} --client {client_id} --job {job_id} --app {app_name}",
		Dimensions: []string{"date", "client_id", "collection"},
	}
	cmd, err := a.RenderCommand("etl/profile", "20140606_1111_profile")
	require.NoError(t, err)
	assert.Equal(t,
		"bash run.sh --date 20140606 --client 1111 --job 20140606_1111_profile --app etl/profile",
		cmd)
}

func TestRenderCommandMissingTemplate(t *testing.T) {
	var a AppConfig
	_, err := a.RenderCommand("etl/profile", "20140606_1111_profile")
	require.ErrorIs(t, err, ErrNoCommand)
}
