package guildmate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	mu       sync.Mutex
	messages []string
	channels []string
}

func (s *stubSender) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channelID)
	s.messages = append(s.messages, content)
	return &discordgo.Message{}, nil
}

func (s *stubSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type stubFacts struct{}

func (stubFacts) FunFact(_ context.Context) string {
	return "test fact"
}

func enableBroadcast(
	t *testing.T,
	db DBI,
	guildID string,
	channelID string,
	hour int,
	minute int,
) {
	t.Helper()
	_, err := db.UpsertGuildSettings(
		context.Background(), guildID, map[string]any{
			columnGuildSettingsBroadcastChannelID: channelID,
			columnGuildSettingsFactsEnabled:       true,
			columnGuildSettingsBroadcastHour:      hour,
			columnGuildSettingsBroadcastMinute:    minute,
		},
	)
	require.NoError(t, err)
}

func TestSchedulerSendsAtConfiguredMinute(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	sender := &stubSender{}
	s := NewScheduler(db, sender, stubFacts{}, nil, time.Minute, nil)

	enableBroadcast(t, db, "g1", "chan-1", 7, 30)

	now := time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC)
	s.tick(context.Background(), now)

	require.Equal(t, 1, sender.sent())
	assert.Equal(t, "chan-1", sender.channels[0])
	assert.Contains(t, sender.messages[0], "test fact")
}

func TestSchedulerFiresAtMostOncePerSlot(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	sender := &stubSender{}
	s := NewScheduler(db, sender, stubFacts{}, nil, time.Minute, nil)

	enableBroadcast(t, db, "g1", "chan-1", 7, 30)

	now := time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC)
	s.tick(context.Background(), now)
	// a second tick with jitter inside the same minute must not resend
	s.tick(context.Background(), now.Add(20*time.Second))
	assert.Equal(t, 1, sender.sent())

	// the same wall-clock slot the next day fires again
	s.tick(context.Background(), now.Add(24*time.Hour))
	assert.Equal(t, 2, sender.sent())
}

func TestSchedulerSkipsNonMatchingMinutes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	sender := &stubSender{}
	s := NewScheduler(db, sender, stubFacts{}, nil, time.Minute, nil)

	enableBroadcast(t, db, "g1", "chan-1", 7, 30)

	s.tick(
		context.Background(),
		time.Date(2024, 3, 15, 7, 31, 0, 0, time.UTC),
	)
	s.tick(
		context.Background(),
		time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC),
	)
	assert.Zero(t, sender.sent())
}

func TestSchedulerSkipsWhilePaused(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	sender := &stubSender{}
	paused := &atomic.Bool{}
	paused.Store(true)
	s := NewScheduler(db, sender, stubFacts{}, paused, time.Minute, nil)

	enableBroadcast(t, db, "g1", "chan-1", 7, 30)

	now := time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC)
	s.tick(context.Background(), now)
	assert.Zero(t, sender.sent())

	// resuming picks the broadcast back up on the next matching tick
	paused.Store(false)
	s.tick(context.Background(), now)
	assert.Equal(t, 1, sender.sent())
}

func TestSchedulerBroadcastsToMultipleGuilds(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	sender := &stubSender{}
	s := NewScheduler(db, sender, stubFacts{}, nil, time.Minute, nil)

	enableBroadcast(t, db, "g1", "chan-1", 7, 30)
	enableBroadcast(t, db, "g2", "chan-2", 7, 30)
	enableBroadcast(t, db, "g3", "chan-3", 9, 0)

	s.tick(
		context.Background(),
		time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC),
	)

	require.Equal(t, 2, sender.sent())
	assert.ElementsMatch(t, []string{"chan-1", "chan-2"}, sender.channels)
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	s := NewScheduler(db, &stubSender{}, stubFacts{}, nil, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
