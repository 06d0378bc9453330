package guildmate

import (
	"fmt"
	"log/slog"
)

const (
	DefaultBroadcastHour   = 7
	DefaultBroadcastMinute = 30

	columnGuildSettingsBroadcastChannelID = "broadcast_channel_id"
	columnGuildSettingsBroadcastHour      = "broadcast_hour"
	columnGuildSettingsBroadcastMinute    = "broadcast_minute"
	columnGuildSettingsFactsEnabled       = "facts_enabled"
	columnGuildSettingsLevelChannelID     = "level_channel_id"
	columnGuildSettingsLevelsEnabled      = "levels_enabled"
	columnGuildSettingsXPEnabled          = "xp_enabled"
	columnGuildSettingsXPMultiplier       = "xp_multiplier"
)

// GuildSettings holds per-guild bot configuration. At most one row
// exists per guild; the absence of a row is equivalent to
// DefaultGuildSettings.
type GuildSettings struct {
	ModelUintID
	ModelUnixTime

	GuildID string `gorm:"uniqueIndex;not null" json:"guild_id" binding:"required"`

	// BroadcastChannelID is the channel the daily fun fact is sent to.
	// Empty disables the broadcast for this guild regardless of
	// FactsEnabled.
	BroadcastChannelID string `gorm:"type:string" json:"broadcast_channel_id"`

	// BroadcastHour and BroadcastMinute are the UTC wall-clock time of
	// the daily fun-fact broadcast.
	BroadcastHour   int `gorm:"default:7" json:"broadcast_hour" binding:"min=0,max=23"`
	BroadcastMinute int `gorm:"default:30" json:"broadcast_minute" binding:"min=0,max=59"`

	// FactsEnabled toggles the daily fun-fact broadcast.
	FactsEnabled bool `gorm:"default:false" json:"facts_enabled"`

	// LevelChannelID is where level-up announcements are posted. Empty
	// falls back to the channel the triggering interaction came from.
	LevelChannelID string `gorm:"type:string" json:"level_channel_id"`

	// LevelsEnabled toggles level-up announcements.
	LevelsEnabled bool `gorm:"default:true" json:"levels_enabled"`

	// XPEnabled toggles experience grants for this guild. Coins are
	// unaffected.
	XPEnabled bool `gorm:"default:true" json:"xp_enabled"`

	// XPMultiplier scales experience grants. Minimum 1.
	XPMultiplier int `gorm:"default:1" json:"xp_multiplier" binding:"min=1"`
}

// DefaultGuildSettings returns the settings used for a guild that has
// never saved any.
func DefaultGuildSettings(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:         guildID,
		BroadcastHour:   DefaultBroadcastHour,
		BroadcastMinute: DefaultBroadcastMinute,
		FactsEnabled:    false,
		LevelsEnabled:   true,
		XPEnabled:       true,
		XPMultiplier:    1,
	}
}

func (GuildSettings) TableName() string {
	return "guild_settings"
}

func (s GuildSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", s.GuildID),
		slog.String(columnGuildSettingsBroadcastChannelID, s.BroadcastChannelID),
		slog.Int(columnGuildSettingsBroadcastHour, s.BroadcastHour),
		slog.Int(columnGuildSettingsBroadcastMinute, s.BroadcastMinute),
		slog.Bool(columnGuildSettingsFactsEnabled, s.FactsEnabled),
		slog.String(columnGuildSettingsLevelChannelID, s.LevelChannelID),
		slog.Bool(columnGuildSettingsLevelsEnabled, s.LevelsEnabled),
		slog.Bool(columnGuildSettingsXPEnabled, s.XPEnabled),
		slog.Int(columnGuildSettingsXPMultiplier, s.XPMultiplier),
	)
}

// BroadcastTime returns the broadcast time as "HH:MM" for display.
func (s GuildSettings) BroadcastTime() string {
	return fmt.Sprintf("%02d:%02d", s.BroadcastHour, s.BroadcastMinute)
}

// GuildSettingsUpdate is the payload accepted by the dashboard and
// admin commands when updating guild settings. Nil fields are left
// unchanged (merge semantics).
type GuildSettingsUpdate struct {
	BroadcastChannelID *string `json:"broadcast_channel_id,omitempty"`
	BroadcastHour      *int    `json:"broadcast_hour,omitempty" binding:"omitnil,min=0,max=23"`
	BroadcastMinute    *int    `json:"broadcast_minute,omitempty" binding:"omitnil,min=0,max=59"`
	FactsEnabled       *bool   `json:"facts_enabled,omitempty"`
	LevelChannelID     *string `json:"level_channel_id,omitempty"`
	LevelsEnabled      *bool   `json:"levels_enabled,omitempty"`
	XPEnabled          *bool   `json:"xp_enabled,omitempty"`
	XPMultiplier       *int    `json:"xp_multiplier,omitempty" binding:"omitnil,min=1"`
}

// columnUpdates converts the non-nil fields into a column/value map
// suitable for DBI.UpsertGuildSettings.
func (u GuildSettingsUpdate) columnUpdates() map[string]any {
	updates := map[string]any{}
	if u.BroadcastChannelID != nil {
		updates[columnGuildSettingsBroadcastChannelID] = *u.BroadcastChannelID
	}
	if u.BroadcastHour != nil {
		updates[columnGuildSettingsBroadcastHour] = *u.BroadcastHour
	}
	if u.BroadcastMinute != nil {
		updates[columnGuildSettingsBroadcastMinute] = *u.BroadcastMinute
	}
	if u.FactsEnabled != nil {
		updates[columnGuildSettingsFactsEnabled] = *u.FactsEnabled
	}
	if u.LevelChannelID != nil {
		updates[columnGuildSettingsLevelChannelID] = *u.LevelChannelID
	}
	if u.LevelsEnabled != nil {
		updates[columnGuildSettingsLevelsEnabled] = *u.LevelsEnabled
	}
	if u.XPEnabled != nil {
		updates[columnGuildSettingsXPEnabled] = *u.XPEnabled
	}
	if u.XPMultiplier != nil {
		updates[columnGuildSettingsXPMultiplier] = *u.XPMultiplier
	}
	return updates
}
