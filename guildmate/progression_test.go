package guildmate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredXP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(100), RequiredXP(1))
	assert.Equal(t, int64(282), RequiredXP(2))
	assert.Equal(t, int64(519), RequiredXP(3))
	assert.Equal(t, int64(3162), RequiredXP(10))

	for level := 1; level < 100; level++ {
		assert.Less(
			t,
			RequiredXP(level),
			RequiredXP(level+1),
			"threshold must be strictly increasing at level %d",
			level,
		)
	}
}

func TestProgressBar(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		strings.Repeat(progressBarEmpty, 10),
		ProgressBar(0, 1, 10),
	)
	assert.Equal(
		t,
		strings.Repeat(progressBarFilled, 10),
		ProgressBar(RequiredXP(1), 1, 10),
	)

	// 150/282 at level 2 fills 5 of 10 slots
	bar := ProgressBar(150, 2, 10)
	assert.Equal(
		t,
		strings.Repeat(progressBarFilled, 5)+strings.Repeat(progressBarEmpty, 5),
		bar,
	)

	// overflow beyond the threshold caps at a full bar
	assert.Equal(
		t,
		strings.Repeat(progressBarFilled, 10),
		ProgressBar(RequiredXP(1)*3, 1, 10),
	)
}

func TestGrantXPCreatesAccountAndLevelsUp(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	result, err := p.GrantXP(ctx, "guild-1", "member-1", 250)
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 2, result.Level)
	assert.Equal(t, int64(150), result.XP)

	account, err := db.MemberAccount(ctx, "guild-1", "member-1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, 2, account.Level)
	assert.Equal(t, int64(150), account.XP)
}

func TestGrantXPCrossesMultipleLevels(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	// 100 (level 1) + 282 (level 2) + 50 remainder
	result, err := p.GrantXP(ctx, "guild-1", "member-1", 432)
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 3, result.Level)
	assert.Equal(t, int64(50), result.XP)
}

func TestGrantXPZeroIsNoOp(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	result, err := p.GrantXP(ctx, "guild-1", "member-1", 0)
	require.NoError(t, err)
	assert.False(t, result.LeveledUp)
	assert.Equal(t, 1, result.Level)
	assert.Equal(t, int64(0), result.XP)
}

func TestGrantCoins(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	result, err := p.GrantCoins(ctx, "guild-1", "member-1", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.Coins)

	// balances never go negative
	result, err = p.GrantCoins(ctx, "guild-1", "member-1", -100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Coins)
}

func TestClaimDaily(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()
	cooldown := 24 * time.Hour

	result, err := p.ClaimDaily(ctx, "guild-1", "member-1", 10, cooldown)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Coins)

	_, err = p.ClaimDaily(ctx, "guild-1", "member-1", 10, cooldown)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCooldownActive)

	var cooldownErr *CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.Greater(t, cooldownErr.Remaining, time.Duration(0))
	assert.LessOrEqual(t, cooldownErr.Remaining, cooldown)

	// the rejected claim must not have granted anything
	account, err := db.MemberAccount(ctx, "guild-1", "member-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Coins)
}

func TestClaimDailyAfterCooldown(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	_, err := p.ClaimDaily(ctx, "guild-1", "member-1", 10, 24*time.Hour)
	require.NoError(t, err)

	// backdate the claim past the cooldown window
	account, err := db.MemberAccount(ctx, "guild-1", "member-1")
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-25 * time.Hour).UnixMilli()
	_, err = db.Update(ctx, account, columnMemberAccountLastDailyAt, stale)
	require.NoError(t, err)

	result, err := p.ClaimDaily(ctx, "guild-1", "member-1", 10, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.Coins)
}

func TestConcurrentGrantsDoNotLoseUpdates(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewProgression(db, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GrantXP(ctx, "guild-1", "member-1", 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	account, err := db.MemberAccount(ctx, "guild-1", "member-1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, 1, account.Level)
	assert.Equal(t, int64(50), account.XP)
}

func TestCooldownErrorUnwraps(t *testing.T) {
	t.Parallel()
	err := &CooldownError{Remaining: time.Hour}
	assert.True(t, errors.Is(err, ErrCooldownActive))
	assert.Contains(t, err.Error(), "1h")
}
