package guildmate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuildSettingsReturnsDefaultsWhenUnset(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	settings, err := db.GuildSettings(ctx, "guild-1")
	require.NoError(t, err)
	require.NotNil(t, settings)

	assert.Equal(t, "guild-1", settings.GuildID)
	assert.Equal(t, DefaultBroadcastHour, settings.BroadcastHour)
	assert.Equal(t, DefaultBroadcastMinute, settings.BroadcastMinute)
	assert.False(t, settings.FactsEnabled)
	assert.True(t, settings.LevelsEnabled)
	assert.True(t, settings.XPEnabled)
	assert.Equal(t, 1, settings.XPMultiplier)

	// defaults are not persisted by a read
	var count int64
	require.NoError(
		t,
		db.DB().Model(&GuildSettings{}).Count(&count).Error,
	)
	assert.Zero(t, count)
}

func TestUpsertGuildSettingsMergesColumns(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	settings, err := db.UpsertGuildSettings(
		ctx, "guild-1", map[string]any{
			columnGuildSettingsBroadcastChannelID: "chan-1",
			columnGuildSettingsFactsEnabled:       true,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", settings.BroadcastChannelID)
	assert.True(t, settings.FactsEnabled)
	assert.Equal(t, DefaultBroadcastHour, settings.BroadcastHour)

	// updating the time leaves the channel untouched
	settings, err = db.UpsertGuildSettings(
		ctx, "guild-1", map[string]any{
			columnGuildSettingsBroadcastHour:   18,
			columnGuildSettingsBroadcastMinute: 45,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", settings.BroadcastChannelID)
	assert.Equal(t, 18, settings.BroadcastHour)
	assert.Equal(t, 45, settings.BroadcastMinute)
	assert.True(t, settings.FactsEnabled)

	// only a single row per guild
	var count int64
	require.NoError(
		t,
		db.DB().Model(&GuildSettings{}).Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestBroadcastGuildSettings(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertGuildSettings(
		ctx, "guild-enabled", map[string]any{
			columnGuildSettingsBroadcastChannelID: "chan-1",
			columnGuildSettingsFactsEnabled:       true,
		},
	)
	require.NoError(t, err)

	// enabled but no channel configured
	_, err = db.UpsertGuildSettings(
		ctx, "guild-no-channel", map[string]any{
			columnGuildSettingsFactsEnabled: true,
		},
	)
	require.NoError(t, err)

	// channel configured but disabled
	_, err = db.UpsertGuildSettings(
		ctx, "guild-disabled", map[string]any{
			columnGuildSettingsBroadcastChannelID: "chan-2",
		},
	)
	require.NoError(t, err)

	broadcastable, err := db.BroadcastGuildSettings(ctx)
	require.NoError(t, err)
	require.Len(t, broadcastable, 1)
	assert.Equal(t, "guild-enabled", broadcastable[0].GuildID)
}

func TestGetOrCreateMemberAccount(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	account, created, err := db.GetOrCreateMemberAccount(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, account.Level)
	assert.Zero(t, account.Coins)
	assert.Zero(t, account.XP)
	assert.Zero(t, account.LastDailyAt)

	account, created, err = db.GetOrCreateMemberAccount(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, account.Level)
}

func TestMemberAccountReturnsNilWhenUnseen(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	account, err := db.MemberAccount(context.Background(), "g1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestTopAccountsOrdering(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	seed := []MemberAccount{
		{GuildID: "g1", MemberID: "low", Level: 2, XP: 10},
		{GuildID: "g1", MemberID: "high", Level: 5, XP: 100},
		{GuildID: "g1", MemberID: "mid-a", Level: 3, XP: 50},
		{GuildID: "g1", MemberID: "mid-b", Level: 3, XP: 50},
		{GuildID: "g1", MemberID: "mid-c", Level: 3, XP: 75},
		{GuildID: "g2", MemberID: "other-guild", Level: 99, XP: 0},
	}
	for i := range seed {
		_, err := db.Create(ctx, &seed[i])
		require.NoError(t, err)
	}

	accounts, err := db.TopAccounts(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, accounts, 5)

	got := make([]string, len(accounts))
	for i, a := range accounts {
		got[i] = a.MemberID
	}
	// level desc, then xp desc, ties broken by earliest-created row
	assert.Equal(t, []string{"high", "mid-c", "mid-a", "mid-b", "low"}, got)

	accounts, err = db.TopAccounts(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "high", accounts[0].MemberID)
}

func TestResetAccounts(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	for _, m := range []string{"m1", "m2"} {
		_, _, err := db.GetOrCreateMemberAccount(ctx, "g1", m)
		require.NoError(t, err)
	}
	_, _, err := db.GetOrCreateMemberAccount(ctx, "g2", "m3")
	require.NoError(t, err)

	removed, err := db.ResetAccounts(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	accounts, err := db.TopAccounts(ctx, "g1", 10)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	// the other guild is untouched
	account, err := db.MemberAccount(ctx, "g2", "m3")
	require.NoError(t, err)
	assert.NotNil(t, account)

	// reset members can start over
	_, created, err := db.GetOrCreateMemberAccount(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCountAccounts(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	count, err := db.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, _, err = db.GetOrCreateMemberAccount(ctx, "g1", "m1")
	require.NoError(t, err)
	_, _, err = db.GetOrCreateMemberAccount(ctx, "g2", "m2")
	require.NoError(t, err)

	count, err = db.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
