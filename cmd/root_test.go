package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avencel/guildmate/guildmate"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			viper.Reset()
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)
	viper.Reset()
	os.Clearenv()
}

func TestLoadConfigFromEnv(t *testing.T) {
	resetViper(t)

	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")

	require.NoError(t, os.Setenv("GM_DATABASE", dbPath))
	require.NoError(t, os.Setenv("GM_DATABASE_TYPE", "sqlite"))
	require.NoError(t, os.Setenv("GM_DISCORD_TOKEN", "env-token"))
	require.NoError(t, os.Setenv("GM_DISCORD_APPLICATION_ID", "env-app-id"))
	require.NoError(t, os.Setenv("GM_LOG_LEVEL", "ERROR"))
	require.NoError(t, os.Setenv("GM_API_LISTEN", "127.0.0.1:9000"))

	initConfig()

	cfg := guildmate.DefaultConfig()
	err := viper.Unmarshal(
		cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	require.NoError(t, err)

	assert.Equal(t, dbPath, cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "env-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
	assert.Equal(t, slog.LevelError, cfg.LogLevel.Level())
}

func TestConfigDefaults(t *testing.T) {
	resetViper(t)

	initConfig()

	cfg := guildmate.DefaultConfig()
	err := viper.Unmarshal(
		cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	require.NoError(t, err)

	assert.Equal(t, guildmate.DefaultDatabase, cfg.Database)
	assert.Equal(t, guildmate.DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, guildmate.DefaultAPIListen, cfg.API.Listen)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(
		t,
		guildmate.DefaultSchedulerTickInterval,
		cfg.Scheduler.TickInterval,
	)
	assert.Equal(t, guildmate.DefaultFactURL, cfg.Facts.FactURL)
}

func TestGetLogLevel(t *testing.T) {
	for name, expected := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	} {
		lvl, err := getLogLevel(name)
		require.NoError(t, err)
		assert.Equal(t, expected, lvl)
	}

	_, err := getLogLevel("VERBOSE")
	require.Error(t, err)
}
