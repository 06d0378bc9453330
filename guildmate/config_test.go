package guildmate

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	require.NoError(t, structValidator.Struct(cfg))

	cfg.DailyCooldownHours = 0
	require.Error(t, structValidator.Struct(cfg))

	cfg = DefaultRuntimeConfig()
	cfg.LogLevel = "VERBOSE"
	require.Error(t, structValidator.Struct(cfg))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, dbTypeSQLite, cfg.DatabaseType)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, DefaultSchedulerTickInterval, cfg.Scheduler.TickInterval)
	assert.Equal(t, DefaultFactURL, cfg.Facts.FactURL)
	assert.Equal(t, DefaultTriviaURL, cfg.Facts.TriviaURL)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
}

func TestGuildSettingsUpdateValidation(t *testing.T) {
	badHour := 24
	err := structValidator.Struct(
		GuildSettingsUpdate{BroadcastHour: &badHour},
	)
	require.Error(t, err)

	goodHour := 23
	zeroMultiplier := 0
	require.NoError(
		t,
		structValidator.Struct(GuildSettingsUpdate{BroadcastHour: &goodHour}),
	)
	require.Error(
		t,
		structValidator.Struct(
			GuildSettingsUpdate{XPMultiplier: &zeroMultiplier},
		),
	)
}

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.RuntimeConfigTTL = 0

	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ApplicationID = "test-application-id"

	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true
	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"
	cfg.API.ExternalURL = "http://127.0.0.1:5000"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.Facts.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}
