package guildmate

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandFact        = "fact"
	DiscordSlashCommandTrivia      = "trivia"
	DiscordSlashCommandBalance     = "balance"
	DiscordSlashCommandDaily       = "daily"
	DiscordSlashCommandLeaderboard = "leaderboard"
	DiscordSlashCommandPing        = "ping"
	DiscordSlashCommandServerInfo  = "serverinfo"
	DiscordSlashCommandUserInfo    = "userinfo"
	DiscordSlashCommandStats       = "stats"

	DiscordSlashCommandSetChannel       = "setchannel"
	DiscordSlashCommandSetTime          = "settime"
	DiscordSlashCommandEnableFacts      = "enablefacts"
	DiscordSlashCommandDisableFacts     = "disablefacts"
	DiscordSlashCommandSetLevelChannel  = "setlevelchannel"
	DiscordSlashCommandToggleLevels     = "togglelevels"
	DiscordSlashCommandResetLeaderboard = "resetleaderboard"

	commandOptionChannel = "channel"
	commandOptionHour    = "hour"
	commandOptionMinute  = "minute"
	commandOptionUser    = "user"
	commandOptionCount   = "count"

	// triviaComponentPrefix tags trivia answer buttons. Custom IDs are
	// "trivia:<sessionID>:<optionIndex>" so a component interaction can
	// be resolved against the stored session without any closure state.
	triviaComponentPrefix = "trivia"

	// discordMaxButtonsPerActionRow defines the maximum number of buttons
	// allowed per action row in Discord interactions.
	discordMaxButtonsPerActionRow = 5

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 25
)

// adminCommandPermissions gates guild-configuration commands to
// members holding Manage Server.
var adminCommandPermissions int64 = discordgo.PermissionManageServer

// Discord manages the gateway session: connecting, registering slash
// commands, and routing interaction events into command handlers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	g                           *Guildmate
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	if err != nil {
		return session, err
	}

	return session, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		config := d.g.RuntimeConfig()
		if config.DiscordNotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				config.DiscordNotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d *Discord) updateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

func channelOption(name string, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionChannel,
		Name:        name,
		Description: description,
		Required:    required,
		ChannelTypes: []discordgo.ChannelType{
			discordgo.ChannelTypeGuildText,
			discordgo.ChannelTypeGuildNews,
		},
	}
}

func intOption(
	name string,
	description string,
	minValue float64,
	maxValue float64,
	required bool,
) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    required,
		MinValue:    &minValue,
		MaxValue:    maxValue,
	}
}

func simpleCommand(name string, description string) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        name,
		Type:        discordgo.ChatApplicationCommand,
		Description: description,
	}
}

func adminCommand(name string, description string) *discordgo.ApplicationCommand {
	cmd := simpleCommand(name, description)
	cmd.DefaultMemberPermissions = &adminCommandPermissions
	return cmd
}

// botCommands returns the full slash command set sent to the Discord
// bulk overwrite endpoint.
func (*Discord) botCommands() []*discordgo.ApplicationCommand {
	leaderboard := simpleCommand(
		DiscordSlashCommandLeaderboard,
		"Show the server's top members by level",
	)
	leaderboard.Options = []*discordgo.ApplicationCommandOption{
		intOption(
			commandOptionCount,
			"How many members to show",
			1,
			maxLeaderboardLimit,
			false,
		),
	}

	userInfo := simpleCommand(
		DiscordSlashCommandUserInfo,
		"Show info about a member",
	)
	userInfo.Options = []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        commandOptionUser,
			Description: "Member to show (defaults to you)",
		},
	}

	setChannel := adminCommand(
		DiscordSlashCommandSetChannel,
		"Set the channel for the daily fun fact",
	)
	setChannel.Options = []*discordgo.ApplicationCommandOption{
		channelOption(commandOptionChannel, "Channel to broadcast to", true),
	}

	setTime := adminCommand(
		DiscordSlashCommandSetTime,
		"Set the UTC time for the daily fun fact",
	)
	setTime.Options = []*discordgo.ApplicationCommandOption{
		intOption(commandOptionHour, "Hour (0-23, UTC)", 0, 23, true),
		intOption(commandOptionMinute, "Minute (0-59)", 0, 59, true),
	}

	setLevelChannel := adminCommand(
		DiscordSlashCommandSetLevelChannel,
		"Set the channel for level-up announcements",
	)
	setLevelChannel.Options = []*discordgo.ApplicationCommandOption{
		channelOption(commandOptionChannel, "Channel for announcements", true),
	}

	return []*discordgo.ApplicationCommand{
		simpleCommand(DiscordSlashCommandFact, "Get a random fun fact"),
		simpleCommand(DiscordSlashCommandTrivia, "Answer a trivia question for coins and XP"),
		simpleCommand(DiscordSlashCommandBalance, "Show your coins, level, and XP"),
		simpleCommand(DiscordSlashCommandDaily, "Claim your daily coin reward"),
		leaderboard,
		simpleCommand(DiscordSlashCommandPing, "Check the bot's latency"),
		simpleCommand(DiscordSlashCommandServerInfo, "Show info about this server"),
		userInfo,
		simpleCommand(DiscordSlashCommandStats, "Show bot statistics"),
		setChannel,
		setTime,
		adminCommand(DiscordSlashCommandEnableFacts, "Enable the daily fun fact broadcast"),
		adminCommand(DiscordSlashCommandDisableFacts, "Disable the daily fun fact broadcast"),
		setLevelChannel,
		adminCommand(DiscordSlashCommandToggleLevels, "Toggle level-up announcements"),
		adminCommand(DiscordSlashCommandResetLeaderboard, "Delete all member accounts for this server"),
	}
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.botCommands(),
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name, "command_id", c.ID)
	}
	return created, nil
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This basically defines methods from `discordgo.Session`
// which are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel.
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to a specified channel.
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// SetIdentify sets the identify payload (intents, initial presence)
	// sent on the next gateway connect
	SetIdentify(i discordgo.Identify)

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// HeartbeatLatency returns the round-trip time to the gateway
	HeartbeatLatency() time.Duration

	// StateGuilds returns the guilds the bot is currently a member of,
	// from session state
	StateGuilds() []*discordgo.Guild

	GatewayBot(options ...discordgo.RequestOption) (st *discordgo.GatewayBotResponse, err error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	st *discordgo.GatewayBotResponse,
	err error,
) {
	gb, err := d.session.GatewayBot(options...)
	if err != nil {
		d.logger.Error("error retrieving gateway bot", tint.Err(err))
	} else {
		d.logger.Info("retrieved gateway bot", "gateway_bot", structToSlogValue(gb))
	}
	return gb, err
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify.Intents = i.Intents
	d.session.Identify.Presence = i.Presence
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) StateGuilds() []*discordgo.Guild {
	if d.session.State == nil {
		return nil
	}
	return d.session.State.Guilds
}
