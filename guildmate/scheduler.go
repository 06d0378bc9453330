package guildmate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const dailyFactMessageFormat = "\U0001F31F **Daily Fun Fact** \U0001F31F\n\n%s"

// BroadcastSender is the slice of the Discord session the scheduler
// needs to deliver a broadcast.
type BroadcastSender interface {
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// FactProvider returns a fun fact to broadcast. Implementations must
// return fallback content rather than an error.
type FactProvider interface {
	FunFact(ctx context.Context) string
}

// fireRecord identifies a single broadcast slot: one calendar date
// plus the configured hour and minute. Recording the last-fired slot
// per guild guarantees at most one send per matching minute even if
// ticks arrive with jitter.
type fireRecord struct {
	Date   string
	Hour   int
	Minute int
}

// Scheduler runs the daily fun-fact broadcast loop. Once per tick
// (one minute by default) it compares the current UTC wall-clock time
// against each guild's configured broadcast hour/minute, and sends the
// daily fact to guilds that match.
//
// Missed slots are skipped, not caught up: if the process was down at
// a guild's broadcast minute, that day's broadcast simply does not
// happen. Delivery failures are logged and dropped.
type Scheduler struct {
	db     DBI
	sender BroadcastSender
	facts  FactProvider
	logger *slog.Logger

	tickInterval time.Duration

	// paused mirrors RuntimeConfig.Paused; checked each tick.
	paused *atomic.Bool

	mu    sync.Mutex
	fired map[string]fireRecord

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(
	db DBI,
	sender BroadcastSender,
	facts FactProvider,
	paused *atomic.Bool,
	tickInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tickInterval <= 0 {
		tickInterval = DefaultSchedulerTickInterval
	}
	if paused == nil {
		paused = &atomic.Bool{}
	}
	return &Scheduler{
		db:           db,
		sender:       sender,
		facts:        facts,
		logger:       logger.With(loggerNameKey, "scheduler"),
		tickInterval: tickInterval,
		paused:       paused,
		fired:        map[string]fireRecord{},
		stopCh:       make(chan struct{}),
	}
}

// Run blocks, evaluating broadcast times once per tick, until the
// context is canceled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(
		ctx,
		"starting broadcast scheduler",
		"tick_interval", s.tickInterval,
	)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "reason", "context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// Stop signals Run to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(
		func() {
			close(s.stopCh)
		},
	)
}

// tick evaluates all broadcast-enabled guilds against the given UTC
// time, sending the daily fact to each guild whose configured
// hour/minute matches. Guilds are processed concurrently; each guild's
// settings row is disjoint from the others.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.paused.Load() {
		return
	}

	settings, err := s.db.BroadcastGuildSettings(ctx)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"error loading broadcast guild settings",
			tint.Err(err),
		)
		return
	}

	var g errgroup.Group
	for i := range settings {
		guild := settings[i]
		if guild.BroadcastHour != now.Hour() ||
			guild.BroadcastMinute != now.Minute() {
			continue
		}

		record := fireRecord{
			Date:   now.Format(time.DateOnly),
			Hour:   now.Hour(),
			Minute: now.Minute(),
		}
		if !s.markFired(guild.GuildID, record) {
			continue
		}

		g.Go(
			func() error {
				s.broadcast(ctx, guild)
				return nil
			},
		)
	}
	_ = g.Wait()
}

// markFired records that the guild's broadcast fired for the given
// slot. Returns false if that exact slot already fired, so concurrent
// or repeated ticks within the same minute send at most once.
func (s *Scheduler) markFired(guildID string, record fireRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[guildID] == record {
		return false
	}
	s.fired[guildID] = record
	return true
}

// broadcast fetches a fact and delivers it to the guild's broadcast
// channel. Failures are logged and dropped; the next matching day
// self-heals.
func (s *Scheduler) broadcast(ctx context.Context, guild GuildSettings) {
	logger := s.logger.With(
		"guild_id", guild.GuildID,
		"channel_id", guild.BroadcastChannelID,
	)
	if guild.BroadcastChannelID == "" {
		logger.Warn("broadcast enabled but no channel configured, skipping")
		return
	}

	fact := s.facts.FunFact(ctx)
	_, err := s.sender.ChannelMessageSend(
		guild.BroadcastChannelID,
		fmt.Sprintf(dailyFactMessageFormat, fact),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending daily fact", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "sent daily fact broadcast")
}
