package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SCORELINE_RECONCILE__STALE_SCORE_WINDOW", "20m")
	t.Setenv("SCORELINE_DATABASE__DRIVER", "memory")
	t.Setenv("REST_PORT", "9090")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, cfg.Reconcile.StaleScoreWindow)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "9090", cfg.Server.RESTPort)
	assert.Equal(t, 90, cfg.Reconcile.FullTimeMinute)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("reconcile:\n  high_minute: 130\nschedule:\n  enable_diary_sync: false\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 130, cfg.Reconcile.HighMinute)
	assert.False(t, cfg.Schedule.EnableDiarySync)
	assert.True(t, cfg.Schedule.EnableStuckSweep)
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Reconcile.HighMinute = 80

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HighMinute")
}

func TestValidateRequiresDSNForPostgres(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = ""
	require.Error(t, cfg.Validate())

	cfg.Database.Driver = "memory"
	require.NoError(t, cfg.Validate())
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "schedule.stuck_interval", envTransform("SCORELINE_SCHEDULE__STUCK_INTERVAL"))
	assert.Equal(t, "redis.url", envTransform("REDIS_URL"))
	assert.Equal(t, "", envTransform("HOME"))
}

func TestLocations(t *testing.T) {
	local, provider, err := Default().Locations()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", local.String())
	assert.Equal(t, "Asia/Shanghai", provider.String())
}
