package guildmate

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBot wires up just enough of the bot to exercise command
// handlers directly, without a gateway connection.
func newTestBot(t testing.TB) *Guildmate {
	t.Helper()
	db := newTestDB(t)
	rc := DefaultRuntimeConfig()
	return &Guildmate{
		writeDB:       db,
		logger:        slog.Default(),
		trivia:        newTriviaRegistry(),
		runtimeConfig: &rc,
		progression:   NewProgression(db, nil),
	}
}

func commandInteraction(guildID string, userID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-1",
			GuildID: guildID,
			Type:    discordgo.InteractionApplicationCommand,
			Member: &discordgo.Member{
				User: &discordgo.User{
					ID:         userID,
					Username:   "tester",
					GlobalName: "Tester",
				},
			},
		},
	}
}

func TestMemberHasManageServer(t *testing.T) {
	t.Parallel()

	i := commandInteraction("g1", "u1")
	assert.False(t, memberHasManageServer(i))

	i.Member.Permissions = discordgo.PermissionManageServer
	assert.True(t, memberHasManageServer(i))

	// DM interactions have no member
	i.Member = nil
	assert.False(t, memberHasManageServer(i))
}

func TestAccountEmbed(t *testing.T) {
	t.Parallel()

	u := &discordgo.User{ID: "u1", GlobalName: "Tester"}
	account := &MemberAccount{
		GuildID:  "g1",
		MemberID: "u1",
		Coins:    42,
		Level:    2,
		XP:       150,
	}

	embed := accountEmbed(u, account)
	assert.Equal(t, "Tester's Balance", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "\U0001F4B0 42", embed.Fields[0].Value)
	assert.Equal(t, "2", embed.Fields[1].Value)
	assert.Contains(t, embed.Fields[2].Value, "150/282")
	assert.Contains(t, embed.Fields[2].Value, progressBarFilled)
}

func TestHandleBalance(t *testing.T) {
	t.Parallel()
	g := newTestBot(t)
	handler := &recordingHandler{}
	i := commandInteraction("g1", "u1")

	g.handleBalance(context.Background(), i, i.Member.User, handler)

	resp := handler.lastResponse()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Data)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Equal(t, "Tester's Balance", resp.Data.Embeds[0].Title)
}

func TestHandleDaily(t *testing.T) {
	t.Parallel()
	g := newTestBot(t)
	handler := &recordingHandler{}
	i := commandInteraction("g1", "u1")
	ctx := context.Background()

	g.handleDaily(ctx, i, i.Member.User, handler)

	resp := handler.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(
		t,
		resp.Data.Content,
		fmt.Sprintf("**%d** coins", DefaultDailyRewardCoins),
	)

	// a second claim inside the cooldown is rejected politely
	g.handleDaily(ctx, i, i.Member.User, handler)
	resp = handler.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Come back later")
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	account, err := g.writeDB.MemberAccount(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultDailyRewardCoins), account.Coins)
}

func TestHandleLeaderboard(t *testing.T) {
	t.Parallel()
	g := newTestBot(t)
	handler := &recordingHandler{}
	i := commandInteraction("g1", "u1")
	ctx := context.Background()

	g.handleLeaderboard(ctx, i, handler)
	resp := handler.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, "No one is on the leaderboard yet!", resp.Data.Content)

	for n, member := range []string{"alpha", "beta", "gamma", "delta"} {
		_, err := g.writeDB.Create(
			ctx, &MemberAccount{
				GuildID:  "g1",
				MemberID: member,
				Level:    10 - n,
				XP:       int64(100 * n),
				Coins:    int64(n),
			},
		)
		require.NoError(t, err)
	}

	g.handleLeaderboard(ctx, i, handler)
	resp = handler.lastResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)

	desc := resp.Data.Embeds[0].Description
	assert.Contains(t, desc, "\U0001F947 <@alpha>")
	assert.Contains(t, desc, "\U0001F948 <@beta>")
	assert.Contains(t, desc, "\U0001F949 <@gamma>")
	assert.Contains(t, desc, "**#4** <@delta>")
}

func TestHandleTriviaAnswerRewards(t *testing.T) {
	t.Parallel()
	g := newTestBot(t)
	ctx := context.Background()

	session := &triviaSession{
		ID:        "s1",
		GuildID:   "g1",
		ChannelID: "chan-1",
		Question: TriviaQuestion{
			Question:     "What is 2+2?",
			Options:      []string{"3", "4", "5", "6"},
			CorrectIndex: 1,
		},
		ExpiresAt: time.Now().Add(time.Minute),
		answered:  map[string]bool{},
	}
	g.trivia.add(session)

	handler := &recordingHandler{}
	i := commandInteraction("g1", "u1")

	// wrong answer: no reward
	g.handleTriviaAnswer(ctx, i, i.Member.User, "s1", 0, handler)
	resp := handler.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Nope")

	account, err := g.writeDB.MemberAccount(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Nil(t, account)

	// one attempt per member per question
	g.handleTriviaAnswer(ctx, i, i.Member.User, "s1", 1, handler)
	resp = handler.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, messageTriviaAnswered, resp.Data.Content)

	// a different member answering correctly is rewarded
	i2 := commandInteraction("g1", "u2")
	g.handleTriviaAnswer(ctx, i2, i2.Member.User, "s1", 1, handler)
	resp = handler.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Correct!")

	account, err = g.writeDB.MemberAccount(ctx, "g1", "u2")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, int64(DefaultTriviaRewardCoins), account.Coins)
	assert.Equal(t, int64(DefaultTriviaRewardXP), account.XP)
}

func TestHandleTriviaAnswerClosedSession(t *testing.T) {
	t.Parallel()
	g := newTestBot(t)
	handler := &recordingHandler{}
	i := commandInteraction("g1", "u1")

	g.handleTriviaAnswer(
		context.Background(), i, i.Member.User, "missing", 0, handler,
	)
	resp := handler.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, messageTriviaClosed, resp.Data.Content)
}
