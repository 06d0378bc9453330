package guildmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

const (
	progressBarSlots  = 10
	progressBarFilled = "▰"
	progressBarEmpty  = "▱"
)

// ErrCooldownActive is returned by ClaimDaily when the member's
// previous claim is still inside the cooldown window.
var ErrCooldownActive = errors.New("daily reward already claimed")

// CooldownError wraps ErrCooldownActive with the time remaining until
// the next claim is allowed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf(
		"daily reward already claimed (next claim in %s)",
		e.Remaining.Round(time.Second),
	)
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldownActive
}

// RequiredXP returns the experience needed to leave the given level:
// floor(100 * level^1.5). Strictly increasing for level >= 1.
func RequiredXP(level int) int64 {
	return int64(math.Floor(100 * math.Pow(float64(level), 1.5)))
}

// ProgressBar renders a fixed-width bar showing progress through the
// current level. filled = floor(min(xp/required, 1.0) * slots).
func ProgressBar(xp int64, level int, slots int) string {
	if slots <= 0 {
		slots = progressBarSlots
	}
	required := RequiredXP(level)
	ratio := float64(xp) / float64(required)
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	filled := int(ratio * float64(slots))
	return strings.Repeat(progressBarFilled, filled) +
		strings.Repeat(progressBarEmpty, slots-filled)
}

// GrantResult describes the account state after a grant.
type GrantResult struct {
	// LeveledUp is true if the grant crossed at least one level
	// threshold.
	LeveledUp bool
	// Level is the account's level after the grant.
	Level int
	// XP is the experience remaining toward the next level.
	XP int64
	// Coins is the coin balance after the grant.
	Coins int64
}

// keyedMutex provides one mutex per string key, so mutations for
// distinct keys proceed in parallel while mutations for the same key
// are serialized.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key, returning the unlock function.
// Mutexes are never evicted; the key space (active guild members) is
// small enough not to matter.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Progression applies coin and experience grants to member accounts
// and resolves level-ups.
//
// Grants for the same (guild, member) pair are serialized behind a
// per-key mutex, and each grant runs as a single transaction, so
// concurrent grants (e.g. a trivia answer racing a daily claim) never
// lose an update.
type Progression struct {
	db     DBI
	logger *slog.Logger
	keys   keyedMutex
}

func NewProgression(db DBI, logger *slog.Logger) *Progression {
	if logger == nil {
		logger = slog.Default()
	}
	return &Progression{
		db:     db,
		logger: logger.With(loggerNameKey, "progression"),
	}
}

func grantKey(guildID, memberID string) string {
	return guildID + "/" + memberID
}

// GrantXP adds experience to a member's account, rolling overflow into
// level-ups until the remaining experience is below the next
// threshold. A single large grant can cross multiple levels.
//
// Granting zero (or a negative amount) is a no-op that returns the
// current account state.
func (p *Progression) GrantXP(
	ctx context.Context,
	guildID string,
	memberID string,
	amount int64,
) (*GrantResult, error) {
	unlock := p.keys.lock(grantKey(guildID, memberID))
	defer unlock()

	var result GrantResult
	err := p.db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			account, err := getOrCreateAccountTx(tx, guildID, memberID)
			if err != nil {
				return err
			}

			xp := account.XP
			level := account.Level
			if amount > 0 {
				xp += amount
				for xp >= RequiredXP(level) {
					xp -= RequiredXP(level)
					level++
				}
			}

			result = GrantResult{
				LeveledUp: level > account.Level,
				Level:     level,
				XP:        xp,
				Coins:     account.Coins,
			}
			if xp == account.XP && level == account.Level {
				return nil
			}
			return tx.Model(account).Updates(
				map[string]any{
					columnMemberAccountXP:    xp,
					columnMemberAccountLevel: level,
				},
			).Error
		},
	)
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(
		ctx, "granted xp",
		"guild_id", guildID,
		"member_id", memberID,
		"amount", amount,
		"level", result.Level,
		"leveled_up", result.LeveledUp,
	)
	return &result, nil
}

// GrantCoins adds coins to a member's account. No side effects beyond
// persistence.
func (p *Progression) GrantCoins(
	ctx context.Context,
	guildID string,
	memberID string,
	amount int64,
) (*GrantResult, error) {
	unlock := p.keys.lock(grantKey(guildID, memberID))
	defer unlock()

	var result GrantResult
	err := p.db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			account, err := getOrCreateAccountTx(tx, guildID, memberID)
			if err != nil {
				return err
			}
			coins := account.Coins + amount
			if coins < 0 {
				coins = 0
			}
			result = GrantResult{
				Level: account.Level,
				XP:    account.XP,
				Coins: coins,
			}
			if coins == account.Coins {
				return nil
			}
			return tx.Model(account).Update(
				columnMemberAccountCoins, coins,
			).Error
		},
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ClaimDaily grants the daily coin reward if the member's previous
// claim happened at least cooldown ago. The coin grant and the claim
// timestamp advance in the same transaction, so a crash can never
// leave one without the other.
//
// Returns a *CooldownError (wrapping ErrCooldownActive) if the
// cooldown window has not elapsed; no state is mutated in that case.
func (p *Progression) ClaimDaily(
	ctx context.Context,
	guildID string,
	memberID string,
	reward int64,
	cooldown time.Duration,
) (*GrantResult, error) {
	unlock := p.keys.lock(grantKey(guildID, memberID))
	defer unlock()

	now := time.Now().UTC()
	var result GrantResult
	err := p.db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			account, err := getOrCreateAccountTx(tx, guildID, memberID)
			if err != nil {
				return err
			}

			if account.LastDailyAt != 0 {
				elapsed := now.Sub(time.UnixMilli(account.LastDailyAt))
				if elapsed < cooldown {
					return &CooldownError{Remaining: cooldown - elapsed}
				}
			}

			coins := account.Coins + reward
			result = GrantResult{
				Level: account.Level,
				XP:    account.XP,
				Coins: coins,
			}
			return tx.Model(account).Updates(
				map[string]any{
					columnMemberAccountCoins:       coins,
					columnMemberAccountLastDailyAt: now.UnixMilli(),
				},
			).Error
		},
	)
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(
		ctx, "daily reward claimed",
		"guild_id", guildID,
		"member_id", memberID,
		"reward", reward,
		"coins", result.Coins,
	)
	return &result, nil
}

// getOrCreateAccountTx loads the member's account inside an open
// transaction, creating it at level 1 if it does not exist.
func getOrCreateAccountTx(
	tx *gorm.DB,
	guildID string,
	memberID string,
) (*MemberAccount, error) {
	var account MemberAccount
	err := tx.Where(
		"guild_id = ? AND member_id = ?", guildID, memberID,
	).Take(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	account = MemberAccount{
		GuildID:  guildID,
		MemberID: memberID,
		Level:    1,
	}
	if err = tx.Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
