package guildmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	embedColorPrimary = 0x5865F2
	embedColorSuccess = 0x57F287
	embedColorGold    = 0xFEE75C

	messagePaused         = "I'm taking a quick break, try again in a bit ⏸️"
	messageGuildOnly      = "This command only works in a server."
	messageSomethingWrong = "Sorry, something went wrong!"
	messageTriviaFailed   = "Couldn't fetch a trivia question, try again later \U0001F916"
	messageTriviaClosed   = "⏰ Too slow! That question is closed."
	messageTriviaAnswered = "You already answered this one!"
)

// InteractionHandler is the thin surface command handlers use to reply
// to an interaction. It exists so handlers can be tested against a
// mock without a live gateway session.
type InteractionHandler interface {
	Respond(
		ctx context.Context,
		i *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
	) error
	Edit(
		ctx context.Context,
		i *discordgo.Interaction,
		edit *discordgo.WebhookEdit,
	) (*discordgo.Message, error)
	Logger() *slog.Logger
}

// GatewayHandler implements InteractionHandler for interactions
// received over the gateway websocket.
type GatewayHandler struct {
	session DiscordSessionHandler
	logger  *slog.Logger
}

func (h GatewayHandler) Logger() *slog.Logger {
	return h.logger
}

func (h GatewayHandler) Respond(
	ctx context.Context,
	i *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
) error {
	err := h.session.InteractionRespond(i, resp)
	if err != nil {
		h.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (h GatewayHandler) Edit(
	ctx context.Context,
	i *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	msg, err := h.session.InteractionResponseEdit(i, edit)
	if err != nil {
		h.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func messageResponse(content string, flags discordgo.MessageFlags) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}
}

func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return messageResponse(content, discordgo.MessageFlagsEphemeral)
}

func publicResponse(content string) *discordgo.InteractionResponse {
	return messageResponse(content, 0)
}

func embedResponse(
	embed *discordgo.MessageEmbed,
	flags discordgo.MessageFlags,
) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}
}

func deferredResponse(flags discordgo.MessageFlags) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}
}

// memberHasManageServer reports whether the interaction came from a
// guild member holding the Manage Server permission.
func memberHasManageServer(i *discordgo.InteractionCreate) bool {
	return i.Member != nil &&
		i.Member.Permissions&discordgo.PermissionManageServer != 0
}

// handleInteraction routes a single interaction event to its command
// or component handler. Each interaction is processed independently;
// long-running external calls only block their own goroutine.
func (g *Guildmate) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	logger := handler.Logger().With(interactionLogAttrs(*i)...)
	ctx = WithLogger(ctx, logger)

	u := getDiscordUser(i)
	if u == nil {
		logger.Warn("interaction has no user, ignoring")
		return
	}
	logger = logger.With("user_id", u.ID)

	go func() {
		interactionLog, err := newInteractionLog(i, u)
		if err != nil {
			logger.Error("error creating interaction log", tint.Err(err))
			return
		}
		if _, err = g.writeDB.Create(context.TODO(), interactionLog); err != nil {
			logger.Error("error saving interaction log", tint.Err(err))
		}
	}()

	if g.paused.Load() {
		logger.Info("bot is paused, declining interaction")
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messagePaused))
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		g.handleApplicationCommand(ctx, i, u, handler)
	case discordgo.InteractionMessageComponent:
		g.handleMessageComponent(ctx, i, u, handler)
	default:
		logger.Warn("unhandled interaction type", "type", i.Type.String())
	}
}

func (g *Guildmate) handleApplicationCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	name := i.ApplicationCommandData().Name
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = slog.Default()
	}
	logger = logger.With("command", name)
	ctx = WithLogger(ctx, logger)
	logger.Info("received command")

	switch name {
	case DiscordSlashCommandFact:
		g.handleFact(ctx, i, handler)
	case DiscordSlashCommandPing:
		g.handlePing(ctx, i, handler)
	case DiscordSlashCommandStats:
		g.handleStats(ctx, i, handler)
	}

	switch name {
	case DiscordSlashCommandFact,
		DiscordSlashCommandPing,
		DiscordSlashCommandStats:
		return
	}

	// everything below is guild-scoped
	if i.GuildID == "" {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageGuildOnly))
		return
	}

	switch name {
	case DiscordSlashCommandTrivia:
		g.handleTrivia(ctx, i, handler)
	case DiscordSlashCommandBalance:
		g.handleBalance(ctx, i, u, handler)
	case DiscordSlashCommandDaily:
		g.handleDaily(ctx, i, u, handler)
	case DiscordSlashCommandLeaderboard:
		g.handleLeaderboard(ctx, i, handler)
	case DiscordSlashCommandServerInfo:
		g.handleServerInfo(ctx, i, handler)
	case DiscordSlashCommandUserInfo:
		g.handleUserInfo(ctx, i, u, handler)
	case DiscordSlashCommandSetChannel,
		DiscordSlashCommandSetTime,
		DiscordSlashCommandEnableFacts,
		DiscordSlashCommandDisableFacts,
		DiscordSlashCommandSetLevelChannel,
		DiscordSlashCommandToggleLevels,
		DiscordSlashCommandResetLeaderboard:
		g.handleAdminCommand(ctx, i, name, handler)
	default:
		logger.Warn("unknown command")
	}
}

func (g *Guildmate) handleFact(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	// fact fetch can exceed Discord's 3s response window, so ack first
	if err := handler.Respond(ctx, i.Interaction, deferredResponse(0)); err != nil {
		return
	}
	fact := g.facts.FunFact(ctx)
	content := fmt.Sprintf("\U0001F4A1 %s", fact)
	_, _ = handler.Edit(ctx, i.Interaction, &discordgo.WebhookEdit{Content: &content})
}

func (g *Guildmate) handlePing(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	latency := g.discord.session.HeartbeatLatency()
	_ = handler.Respond(
		ctx,
		i.Interaction,
		publicResponse(
			fmt.Sprintf(
				"\U0001F3D3 Pong! Gateway latency: %dms",
				latency.Milliseconds(),
			),
		),
	)
}

func (g *Guildmate) handleStats(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	stats, err := g.botStats(ctx)
	if err != nil {
		logger, _ := ContextLogger(ctx)
		if logger != nil {
			logger.Error("error gathering stats", tint.Err(err))
		}
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "\U0001F4CA Bot Stats",
		Color: embedColorPrimary,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Servers", Value: fmt.Sprintf("%d", stats.Servers), Inline: true},
			{Name: "Users", Value: fmt.Sprintf("%d", stats.Users), Inline: true},
			{Name: "Latency", Value: fmt.Sprintf("%dms", stats.Latency), Inline: true},
			{Name: "Uptime", Value: stats.Uptime, Inline: true},
		},
	}
	_ = handler.Respond(ctx, i.Interaction, embedResponse(embed, 0))
}

func (g *Guildmate) handleTrivia(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	logger, _ := ContextLogger(ctx)
	if logger == nil {
		logger = slog.Default()
	}

	if err := handler.Respond(ctx, i.Interaction, deferredResponse(0)); err != nil {
		return
	}

	question, err := g.facts.Trivia(ctx)
	if err != nil {
		logger.Error("trivia fetch failed", tint.Err(err))
		content := messageTriviaFailed
		_, _ = handler.Edit(ctx, i.Interaction, &discordgo.WebhookEdit{Content: &content})
		return
	}

	sessionID, err := generateRandomHexString(16)
	if err != nil {
		content := messageSomethingWrong
		_, _ = handler.Edit(ctx, i.Interaction, &discordgo.WebhookEdit{Content: &content})
		return
	}

	session := &triviaSession{
		ID:        sessionID,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Question:  *question,
		ExpiresAt: time.Now().Add(g.triviaSessionTTL),
		answered:  map[string]bool{},
	}

	buttons := make([]discordgo.MessageComponent, 0, len(question.Options))
	for index, option := range question.Options {
		buttons = append(
			buttons, discordgo.Button{
				Label:    truncate(option, 80),
				Style:    discordgo.PrimaryButton,
				CustomID: triviaCustomID(sessionID, index),
			},
		)
	}
	components := make([]discordgo.MessageComponent, 0, 2)
	for _, row := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		components = append(components, discordgo.ActionsRow{Components: row})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "\U0001F9E0 Trivia Time!",
		Description: question.Question,
		Color:       embedColorPrimary,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Category", Value: question.Category, Inline: true},
			{Name: "Difficulty", Value: question.Difficulty, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"You have %d seconds!",
				int(g.triviaSessionTTL.Seconds()),
			),
		},
	}

	g.trivia.add(session)
	_, err = handler.Edit(
		ctx, i.Interaction, &discordgo.WebhookEdit{
			Embeds:     &[]*discordgo.MessageEmbed{embed},
			Components: &components,
		},
	)
	if err != nil {
		g.trivia.remove(sessionID)
		return
	}

	interaction := i.Interaction
	time.AfterFunc(
		g.triviaSessionTTL, func() {
			g.trivia.remove(sessionID)
			closed := []discordgo.MessageComponent{}
			answer := fmt.Sprintf(
				"⏰ Time's up! The answer was **%s**",
				question.Correct(),
			)
			_, _ = handler.Edit(
				context.TODO(), interaction, &discordgo.WebhookEdit{
					Content:    &answer,
					Components: &closed,
				},
			)
		},
	)
}

func (g *Guildmate) handleMessageComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	customID := i.MessageComponentData().CustomID
	sessionID, optionIndex, ok := parseTriviaCustomID(customID)
	if !ok {
		logger, _ := ContextLogger(ctx)
		if logger != nil {
			logger.Warn("unknown component custom ID", "custom_id", customID)
		}
		return
	}
	g.handleTriviaAnswer(ctx, i, u, sessionID, optionIndex, handler)
}

func (g *Guildmate) handleTriviaAnswer(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	sessionID string,
	optionIndex int,
	handler InteractionHandler,
) {
	logger, _ := ContextLogger(ctx)
	if logger == nil {
		logger = slog.Default()
	}

	session := g.trivia.get(sessionID)
	if session == nil || session.Expired(time.Now()) {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageTriviaClosed))
		return
	}
	if optionIndex >= len(session.Question.Options) {
		logger.Warn("trivia option index out of range", "index", optionIndex)
		return
	}
	if !session.recordAnswer(u.ID) {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageTriviaAnswered))
		return
	}

	if optionIndex != session.Question.CorrectIndex {
		_ = handler.Respond(
			ctx, i.Interaction, ephemeralResponse(
				fmt.Sprintf(
					"❌ Nope! The correct answer was **%s**",
					session.Question.Correct(),
				),
			),
		)
		return
	}

	config := g.RuntimeConfig()
	settings, err := g.writeDB.GuildSettings(ctx, session.GuildID)
	if err != nil {
		logger.Error("error loading guild settings", tint.Err(err))
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	if _, err = g.progression.GrantCoins(
		ctx, session.GuildID, u.ID, config.TriviaRewardCoins,
	); err != nil {
		logger.Error("error granting trivia coins", tint.Err(err))
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	reply := fmt.Sprintf("✅ Correct! +%d coins", config.TriviaRewardCoins)

	if settings.XPEnabled {
		xpAmount := config.TriviaRewardXP * int64(settings.XPMultiplier)
		result, grantErr := g.progression.GrantXP(
			ctx, session.GuildID, u.ID, xpAmount,
		)
		if grantErr != nil {
			logger.Error("error granting trivia xp", tint.Err(grantErr))
		} else {
			reply = fmt.Sprintf("%s, +%d XP", reply, xpAmount)
			if result.LeveledUp {
				g.announceLevelUp(ctx, *settings, u, result, session.ChannelID)
			}
		}
	}

	_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(reply))
}

// announceLevelUp posts a level-up embed to the guild's configured
// level channel, falling back to the channel the triggering
// interaction came from. A failed send is logged and dropped.
func (g *Guildmate) announceLevelUp(
	ctx context.Context,
	settings GuildSettings,
	u *discordgo.User,
	result *GrantResult,
	fallbackChannelID string,
) {
	if !settings.LevelsEnabled {
		return
	}
	channelID := settings.LevelChannelID
	if channelID == "" {
		channelID = fallbackChannelID
	}
	if channelID == "" {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "\U0001F389 Level Up!",
		Description: fmt.Sprintf(
			"%s reached **level %d**!", u.Mention(), result.Level,
		),
		Color: embedColorGold,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Progress",
				Value: fmt.Sprintf(
					"%s %d/%d XP",
					ProgressBar(result.XP, result.Level, progressBarSlots),
					result.XP,
					RequiredXP(result.Level),
				),
			},
		},
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: u.AvatarURL("")},
	}
	if _, err := g.discord.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logger, _ := ContextLogger(ctx)
		if logger == nil {
			logger = g.logger
		}
		logger.Error(
			"error sending level-up announcement",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
}

func (g *Guildmate) handleBalance(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	account, _, err := g.writeDB.GetOrCreateMemberAccount(ctx, i.GuildID, u.ID)
	if err != nil {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	embed := accountEmbed(u, account)
	_ = handler.Respond(
		ctx,
		i.Interaction,
		embedResponse(embed, discordgo.MessageFlagsEphemeral),
	)
}

func accountEmbed(u *discordgo.User, account *MemberAccount) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s's Balance", u.GlobalName),
		Color: embedColorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Coins",
				Value:  fmt.Sprintf("\U0001F4B0 %d", account.Coins),
				Inline: true,
			},
			{
				Name:   "Level",
				Value:  fmt.Sprintf("%d", account.Level),
				Inline: true,
			},
			{
				Name: "XP",
				Value: fmt.Sprintf(
					"%s %d/%d",
					ProgressBar(account.XP, account.Level, progressBarSlots),
					account.XP,
					RequiredXP(account.Level),
				),
			},
		},
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: u.AvatarURL("")},
	}
}

func (g *Guildmate) handleDaily(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	config := g.RuntimeConfig()
	cooldown := time.Duration(config.DailyCooldownHours) * time.Hour

	result, err := g.progression.ClaimDaily(
		ctx, i.GuildID, u.ID, config.DailyRewardCoins, cooldown,
	)
	if err != nil {
		var cooldownErr *CooldownError
		if errors.As(err, &cooldownErr) {
			_ = handler.Respond(
				ctx, i.Interaction, ephemeralResponse(
					fmt.Sprintf(
						"Come back later ⏳ You can claim again in %s.",
						cooldownErr.Remaining.Round(time.Minute),
					),
				),
			)
			return
		}
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	_ = handler.Respond(
		ctx, i.Interaction, ephemeralResponse(
			fmt.Sprintf(
				"\U0001F4B0 You claimed **%d** coins! Balance: **%d**",
				config.DailyRewardCoins,
				result.Coins,
			),
		),
	)
}

func (g *Guildmate) handleLeaderboard(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	limit := defaultLeaderboardLimit
	if opt, ok := discordInteractionOptions(i)[commandOptionCount]; ok {
		limit = int(opt.IntValue())
	}

	accounts, err := g.writeDB.TopAccounts(ctx, i.GuildID, limit)
	if err != nil {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}
	if len(accounts) == 0 {
		_ = handler.Respond(
			ctx,
			i.Interaction,
			publicResponse("No one is on the leaderboard yet!"),
		)
		return
	}

	medals := []string{"\U0001F947", "\U0001F948", "\U0001F949"}
	var sb strings.Builder
	for rank, account := range accounts {
		marker := fmt.Sprintf("**#%d**", rank+1)
		if rank < len(medals) {
			marker = medals[rank]
		}
		fmt.Fprintf(
			&sb,
			"%s <@%s> — Level %d, %d XP, \U0001F4B0 %d\n",
			marker,
			account.MemberID,
			account.Level,
			account.XP,
			account.Coins,
		)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "\U0001F3C6 Leaderboard",
		Description: sb.String(),
		Color:       embedColorGold,
	}
	_ = handler.Respond(ctx, i.Interaction, embedResponse(embed, 0))
}

func (g *Guildmate) handleServerInfo(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	handler InteractionHandler,
) {
	settings, err := g.writeDB.GuildSettings(ctx, i.GuildID)
	if err != nil {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}

	name := "this server"
	memberCount := 0
	for _, guild := range g.discord.session.StateGuilds() {
		if guild.ID == i.GuildID {
			name = guild.Name
			memberCount = guild.MemberCount
			break
		}
	}

	factsStatus := "disabled"
	if settings.FactsEnabled && settings.BroadcastChannelID != "" {
		factsStatus = fmt.Sprintf(
			"daily at %s UTC in <#%s>",
			settings.BroadcastTime(),
			settings.BroadcastChannelID,
		)
	}
	levelsStatus := "disabled"
	if settings.LevelsEnabled {
		levelsStatus = "enabled"
	}

	embed := &discordgo.MessageEmbed{
		Title: name,
		Color: embedColorPrimary,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Members", Value: fmt.Sprintf("%d", memberCount), Inline: true},
			{Name: "Fun Facts", Value: factsStatus, Inline: true},
			{Name: "Level-Ups", Value: levelsStatus, Inline: true},
		},
	}
	_ = handler.Respond(ctx, i.Interaction, embedResponse(embed, 0))
}

func (g *Guildmate) handleUserInfo(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	target := u
	if opt, ok := discordInteractionOptions(i)[commandOptionUser]; ok {
		targetID := opt.Value.(string)
		if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
			if resolvedUser, found := resolved.Users[targetID]; found {
				target = resolvedUser
			}
		}
	}

	account, err := g.writeDB.MemberAccount(ctx, i.GuildID, target.ID)
	if err != nil {
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}
	if account == nil {
		// never seen: show an unstarted account rather than an error
		account = &MemberAccount{GuildID: i.GuildID, MemberID: target.ID, Level: 1}
	}

	_ = handler.Respond(ctx, i.Interaction, embedResponse(accountEmbed(target, account), 0))
}

func (g *Guildmate) handleAdminCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	name string,
	handler InteractionHandler,
) {
	logger, _ := ContextLogger(ctx)
	if logger == nil {
		logger = slog.Default()
	}

	if !memberHasManageServer(i) {
		// DefaultMemberPermissions already hides these commands, but a
		// guild can override command permissions, so check again here
		logger.Warn("permission denied for admin command")
		_ = handler.Respond(
			ctx,
			i.Interaction,
			ephemeralResponse("You need the **Manage Server** permission for that."),
		)
		return
	}

	options := discordInteractionOptions(i)
	var reply string
	var err error

	switch name {
	case DiscordSlashCommandSetChannel:
		channel := options[commandOptionChannel].ChannelValue(nil)
		_, err = g.writeDB.UpsertGuildSettings(
			ctx, i.GuildID, map[string]any{
				columnGuildSettingsBroadcastChannelID: channel.ID,
			},
		)
		reply = fmt.Sprintf("Daily fun facts will be posted in <#%s>", channel.ID)
	case DiscordSlashCommandSetTime:
		hour := int(options[commandOptionHour].IntValue())
		minute := int(options[commandOptionMinute].IntValue())
		_, err = g.writeDB.UpsertGuildSettings(
			ctx, i.GuildID, map[string]any{
				columnGuildSettingsBroadcastHour:   hour,
				columnGuildSettingsBroadcastMinute: minute,
			},
		)
		reply = fmt.Sprintf(
			"Daily fun fact time set to %02d:%02d UTC", hour, minute,
		)
	case DiscordSlashCommandEnableFacts:
		_, err = g.writeDB.UpsertGuildSettings(
			ctx, i.GuildID, map[string]any{
				columnGuildSettingsFactsEnabled: true,
			},
		)
		reply = "Daily fun facts **enabled** \U0001F4A1"
	case DiscordSlashCommandDisableFacts:
		_, err = g.writeDB.UpsertGuildSettings(
			ctx, i.GuildID, map[string]any{
				columnGuildSettingsFactsEnabled: false,
			},
		)
		reply = "Daily fun facts **disabled**"
	case DiscordSlashCommandSetLevelChannel:
		channel := options[commandOptionChannel].ChannelValue(nil)
		_, err = g.writeDB.UpsertGuildSettings(
			ctx, i.GuildID, map[string]any{
				columnGuildSettingsLevelChannelID: channel.ID,
			},
		)
		reply = fmt.Sprintf("Level-up announcements will go to <#%s>", channel.ID)
	case DiscordSlashCommandToggleLevels:
		var settings *GuildSettings
		settings, err = g.writeDB.GuildSettings(ctx, i.GuildID)
		if err == nil {
			enabled := !settings.LevelsEnabled
			_, err = g.writeDB.UpsertGuildSettings(
				ctx, i.GuildID, map[string]any{
					columnGuildSettingsLevelsEnabled: enabled,
				},
			)
			if enabled {
				reply = "Level-up announcements **enabled** \U0001F389"
			} else {
				reply = "Level-up announcements **disabled**"
			}
		}
	case DiscordSlashCommandResetLeaderboard:
		var removed int64
		removed, err = g.writeDB.ResetAccounts(ctx, i.GuildID)
		reply = fmt.Sprintf(
			"\U0001F5D1️ Leaderboard reset — %d accounts removed",
			removed,
		)
	}

	if err != nil {
		logger.Error("admin command failed", tint.Err(err))
		_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(messageSomethingWrong))
		return
	}
	_ = handler.Respond(ctx, i.Interaction, ephemeralResponse(reply))
}
