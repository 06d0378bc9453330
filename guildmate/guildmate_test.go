package guildmate

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

// newTestDB creates a migrated sqlite database in a temp dir and wraps
// it in the DBI used throughout the bot.
func newTestDB(t testing.TB) DBI {
	t.Helper()
	cfg := DefaultTestConfig(t)
	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	return NewDatabase(db, slog.Default(), false)
}

// recordingHandler captures interaction responses and edits for
// assertions without a live gateway connection.
type recordingHandler struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
}

func (h *recordingHandler) Logger() *slog.Logger {
	return slog.Default()
}

func (h *recordingHandler) Respond(
	_ context.Context,
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, resp)
	return nil
}

func (h *recordingHandler) Edit(
	_ context.Context,
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edits = append(h.edits, edit)
	return &discordgo.Message{}, nil
}

func (h *recordingHandler) lastResponse() *discordgo.InteractionResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.responses) == 0 {
		return nil
	}
	return h.responses[len(h.responses)-1]
}

func TestNewGuildmate(t *testing.T) {
	cfg := DefaultTestConfig(t)
	g, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.NotNil(t, g.discord)
	require.NotNil(t, g.facts)
	require.NotNil(t, g.api)
	require.NotNil(t, g.trivia)
}

func TestNewGuildmateRejectsUnknownDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "oracle"
	_, err := New(cfg)
	require.Error(t, err)
}
