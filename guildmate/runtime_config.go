package guildmate

import (
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

const (
	DefaultTriviaRewardCoins  = 1
	DefaultTriviaRewardXP     = 15
	DefaultDailyRewardCoins   = 10
	DefaultDailyCooldownHours = 24
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"
)

// RuntimeConfig represents the runtime configuration of the bot. It
// stores settings that can be modified while running and persisted
// across restarts, such as reward amounts and logging levels. A single
// row exists in the 'config' table.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While
	// paused, commands are acknowledged with a "try again later"
	// message and the daily broadcast loop is suspended.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DiscordNotificationChannelID, if set, receives the configured
	// startup message whenever the bot connects to the gateway.
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`

	// TriviaRewardCoins is the coin reward for a correct trivia answer.
	TriviaRewardCoins int64 `json:"trivia_reward_coins" gorm:"default:1" binding:"min=0"`

	// TriviaRewardXP is the experience reward for a correct trivia
	// answer, before the per-guild multiplier.
	TriviaRewardXP int64 `json:"trivia_reward_xp" gorm:"default:15" binding:"min=0"`

	// DailyRewardCoins is the coin reward for the /daily command.
	DailyRewardCoins int64 `json:"daily_reward_coins" gorm:"default:10" binding:"min=0"`

	// DailyCooldownHours is the number of hours between /daily claims.
	DailyCooldownHours int `json:"daily_cooldown_hours" gorm:"default:24" binding:"min=1,max=168"`

	// AdminUsername for the web UI
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TriviaRewardCoins:   DefaultTriviaRewardCoins,
		TriviaRewardXP:      DefaultTriviaRewardXP,
		DailyRewardCoins:    DefaultDailyRewardCoins,
		DailyCooldownHours:  DefaultDailyCooldownHours,
		DiscordCustomStatus: DefaultDiscordCustomStatus,
		LogLevel:            DBLogLevel(slog.LevelInfo.String()),
		DiscordLogLevel:     DBLogLevel(slog.LevelInfo.String()),
		DiscordGoLogLevel:   DBLogLevel(slog.LevelInfo.String()),
		DatabaseLogLevel:    DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:         DBLogLevel(slog.LevelInfo.String()),
	}
}

func (b RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(b)
}

// RuntimeConfigUpdate is the payload accepted by the dashboard config
// endpoint. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	DiscordCustomStatus          *string `json:"discord_custom_status,omitempty"`
	DiscordNotificationChannelID *string `json:"discord_notification_channel_id,omitempty"`

	TriviaRewardCoins  *int64 `json:"trivia_reward_coins,omitempty" binding:"omitnil,min=0"`
	TriviaRewardXP     *int64 `json:"trivia_reward_xp,omitempty" binding:"omitnil,min=0"`
	DailyRewardCoins   *int64 `json:"daily_reward_coins,omitempty" binding:"omitnil,min=0"`
	DailyCooldownHours *int   `json:"daily_cooldown_hours,omitempty" binding:"omitnil,min=1,max=168"`

	AdminUsername *string `json:"admin_username,omitempty" binding:"omitnil,min=1"`
	AdminPassword *string `json:"admin_password,omitempty" binding:"omitnil,min=8"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}
