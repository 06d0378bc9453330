package guildmate

import (
	"log/slog"
	"time"
)

const (
	columnMemberAccountCoins       = "coins"
	columnMemberAccountXP          = "xp"
	columnMemberAccountLevel       = "level"
	columnMemberAccountLastDailyAt = "last_daily_at"
)

// MemberAccount tracks a guild member's coin balance and level
// progression. One row exists per (guild, member) pair, created lazily
// on the first grant or balance query, and deleted only by an explicit
// leaderboard reset.
//
// XP always stays below the threshold needed to leave the current
// level; grants that cross the threshold roll the overflow into the
// next level immediately.
type MemberAccount struct {
	ModelUintID
	ModelUnixTime

	GuildID  string `gorm:"uniqueIndex:idx_guild_member;not null" json:"guild_id"`
	MemberID string `gorm:"uniqueIndex:idx_guild_member;not null" json:"member_id"`

	Coins int64 `gorm:"default:0" json:"coins"`
	XP    int64 `gorm:"default:0" json:"xp"`
	Level int   `gorm:"default:1" json:"level"`

	// LastDailyAt is the unix millisecond timestamp of the most recent
	// daily claim. Zero means the member has never claimed.
	LastDailyAt int64 `gorm:"default:0" json:"last_daily_at"`
}

func (MemberAccount) TableName() string {
	return "member_accounts"
}

func (a MemberAccount) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", a.GuildID),
		slog.String("member_id", a.MemberID),
		slog.Int64(columnMemberAccountCoins, a.Coins),
		slog.Int64(columnMemberAccountXP, a.XP),
		slog.Int(columnMemberAccountLevel, a.Level),
		slog.Int64(columnMemberAccountLastDailyAt, a.LastDailyAt),
	)
}

// LastDailyTime returns LastDailyAt as a time.Time, or the zero value
// if the member has never claimed.
func (a MemberAccount) LastDailyTime() time.Time {
	if a.LastDailyAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.LastDailyAt).UTC()
}
