package guildmate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/avencel/guildmate/guildmate.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Guildmate is the main application struct. It wires together the
// database, the Discord gateway session, the daily fact scheduler,
// the progression engine, and the web dashboard API.
type Guildmate struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. The only
	// difference between this and [Guildmate.db] is that, when using
	// sqlite, a mutex is used.
	writeDB DBI

	dbNotifier DBNotifier

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the back-end dashboard API
	api *API

	// Posts the daily fun-fact broadcasts
	scheduler *Scheduler

	// Awards coins and experience
	progression *Progression

	// Fetches fun facts and trivia questions
	facts *FactsClient

	// Active trivia questions, keyed by session ID
	trivia *triviaRegistry

	// How long a trivia question stays answerable
	triviaSessionTTL time.Duration

	// signalStop enables an explicit stop signal to be sent to the
	// bot, such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it when Run finishes starting
	// everything: database, API, discord session, scheduler
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot declines new interactions and the scheduler
	// skips broadcast ticks
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// Indicates whether admin credentials have been set. While
	// pending, the dashboard only serves the setup endpoints - the
	// bot itself still runs.
	pendingSetup atomic.Bool

	// getInteractionHandlerFunc returns the InteractionHandler to use
	// for an incoming interaction. Overridable for tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
}

// New creates and initializes a new Guildmate instance from the given
// configuration. Call [Guildmate.Run] on the result to start the bot.
func New(config *Config) (*Guildmate, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	g := &Guildmate{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		trivia:                        newTriviaRegistry(),
		triviaSessionTTL:              DefaultTriviaSessionTTL,
	}

	g.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     g.config.LogLevel,
			AddSource: true,
		},
	)

	g.logger = slog.New(g.logHandler)
	slog.SetDefault(g.logger)

	g.config.Discord.httpClient = g.config.HTTPClient

	disc, err := newDiscord(g.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     g.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     g.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	g.discord = disc
	disc.g = g

	g.facts = NewFactsClient(
		g.config.Facts,
		g.config.HTTPClient,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     g.config.Facts.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "facts"),
	)

	api, err := newAPI(g, config.API)
	errs = append(errs, err)
	g.api = api

	return g, errors.Join(errs...)
}

func (g *Guildmate) ValidateConfig() error {
	return structValidator.Struct(g.config)
}

// RuntimeConfig returns a copy of the current runtime configuration.
func (g *Guildmate) RuntimeConfig() RuntimeConfig {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	return *g.runtimeConfig
}

func (g *Guildmate) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = g.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// RegisterSlashCommands registers the bot's slash commands with the
// Discord API, overwriting any previously registered set.
func (g *Guildmate) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return g.discord.registerCommands(options...)
}

// BotStats is a point-in-time summary of the bot's reach, shown by the
// /stats command and the dashboard.
type BotStats struct {
	Servers int    `json:"servers"`
	Users   int64  `json:"users"`
	Latency int64  `json:"latency_ms"`
	Uptime  string `json:"uptime"`
}

func (g *Guildmate) botStats(ctx context.Context) (*BotStats, error) {
	stats := &BotStats{
		Servers: len(g.discord.session.StateGuilds()),
		Latency: g.discord.session.HeartbeatLatency().Milliseconds(),
		Uptime:  time.Since(g.startedAt).Round(time.Second).String(),
	}
	users, err := g.writeDB.CountAccounts(ctx)
	if err != nil {
		return nil, err
	}
	stats.Users = users
	return stats, nil
}

// Run starts the main loop of the bot: database init, runtime config,
// dashboard API, discord session, and the broadcast scheduler. It
// blocks until the given context is canceled or a stop signal is
// received, then shuts down gracefully.
func (g *Guildmate) Run(ctx context.Context) error {
	// prevents concurrent runs
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.signalStop = make(chan struct{}, 1)
	g.startedAt = time.Now()
	logger := g.logger

	if err := g.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", g.config))

	if g.signalReady == nil {
		g.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context - canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		select {
		case <-g.signalStop:
			g.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			g.logger.Warn("context canceled, sending stop signal")
			g.signalStop <- struct{}{}
			return
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, g.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- g.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	notifier, err := newDBNotifier(g)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	g.dbNotifier = notifier

	go func() {
		httpErr := g.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			g.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	if discErr := g.initDiscordSession(ctx, runtimeWG); discErr != nil {
		g.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err = g.discordInit(ctx, logger); err != nil {
		return err
	}

	if g.config.Scheduler.Enabled {
		g.scheduler = NewScheduler(
			g.writeDB,
			g.discord.session,
			g.facts,
			&g.paused,
			g.config.Scheduler.TickInterval,
			g.logger.With(loggerNameKey, "scheduler"),
		)
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			g.scheduler.Run(ctx)
		}()
	} else {
		logger.WarnContext(ctx, "broadcast scheduler disabled")
	}

	g.startRuntimeConfigRefresher(ctx, runtimeWG, logger)

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := g.dbNotifier.Listen(ctx, g.dbNotifier.RuntimeConfigChannelName()); e != nil {
			g.logger.ErrorContext(
				ctx,
				"error listening to runtime config channel",
				tint.Err(e),
			)
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := g.dbNotifier.Listen(ctx, g.dbNotifier.StopChannelName()); e != nil {
			g.logger.ErrorContext(ctx, "error listening to stop channel", tint.Err(e))
		}
	}()

	g.signalReady <- struct{}{}
	g.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context -
	// generally an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return g.shutdown(ctx, runtimeWG)
}

func (g *Guildmate) initRun(startCtx context.Context) error {
	g.logger.Debug("initializing DB...")
	if err := g.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	g.logger.Debug("finished initializing DB")

	// load or create the DB state config - this tells the bot whether
	// it should start in a 'paused' state (to avoid a potential
	// scenario where we want to keep it paused, but it crashes and
	// restarts in an active state)
	var botState RuntimeConfig

	getStateErr := g.db.Last(&botState).Error
	if getStateErr != nil {
		if errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			g.pendingSetup.Store(true)
			botState = DefaultRuntimeConfig()

			if _, err := g.writeDB.Create(startCtx, &botState); err != nil {
				return fmt.Errorf("error creating config: %w", err)
			}
		} else {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		g.pendingSetup.Store(true)
	}
	g.paused.Store(botState.Paused)
	g.setRuntimeLevels(botState)
	g.runtimeConfig = &botState
	g.progression = NewProgression(
		g.writeDB,
		g.logger.With(loggerNameKey, "progression"),
	)

	return nil
}

func (g *Guildmate) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = g.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     g.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, g.config.DatabaseSlowThreshold)
	db, err := getDB(g.config.DatabaseType, g.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	g.db = db
	g.writeDB = NewDatabase(
		db,
		slog.New(handler).With(loggerNameKey, "database"),
		g.config.DatabaseType == dbTypePostgres,
	)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if g.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&GuildSettings{},
		&MemberAccount{},
		&RuntimeConfig{},
		&InteractionLog{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	logger.Debug("finished migrating database")
	return nil
}

func (g *Guildmate) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := g.logger.With(loggerNameKey, "discord_session")

	if g.discord.session == nil {
		disc, discErr := g.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		g.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(g.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range g.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	identify := discordgo.Identify{Intents: g.config.Discord.GatewayIntents}
	if g.paused.Load() {
		identify.Presence = discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	} else {
		identify.Presence = discordgo.GatewayStatusUpdate{
			Status: g.RuntimeConfig().DiscordCustomStatus,
		}
	}
	g.discord.session.SetIdentify(identify)

	g.discord.discordgoRemoveHandlerFuncs = []func(){
		g.discord.session.AddHandler(g.discord.handlerConnect()),
		g.discord.session.AddHandler(g.discord.handlerDisconnect()),
		g.discord.session.AddHandler(g.discord.handlerReady()),
		g.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := g.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					g.handleInteraction(ctx, i, handler)
				}()
			},
		),
	}

	if g.getInteractionHandlerFunc == nil {
		g.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session: g.discord.session,
				logger: g.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// discordInit opens the discord websocket connection and registers
// the bot's slash commands.
func (g *Guildmate) discordInit(ctx context.Context, logger *slog.Logger) error {
	g.logger.InfoContext(ctx, "connecting to discord")
	if err := g.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := g.RegisterSlashCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	runtimeCfg := g.RuntimeConfig()
	if runtimeCfg.DiscordCustomStatus != "" && !g.paused.Load() {
		go func() {
			if statusErr := g.discord.session.UpdateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// startRuntimeConfigRefresher starts the goroutines that periodically
// refresh [RuntimeConfig] from the database, and that apply refreshes
// triggered by the DB notifier.
func (g *Guildmate) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := g.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case g.triggerRuntimeConfigRefreshCh <- false:
						logger.Info("sent config refresh signal from ticker")
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-g.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					g.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					g.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

func (g *Guildmate) refreshRuntimeConfig(ctx context.Context, force bool) {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	runtimeConfigTTL := g.config.RuntimeConfigTTL
	previousConfig := g.runtimeConfig

	var refreshConfig RuntimeConfig
	if err := g.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		g.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if force || lastUpdated > runtimeConfigTTL {
		g.logger.Info(
			fmt.Sprintf(
				"runtime config last updated: %s ago, refreshing",
				lastUpdated.String(),
			),
		)
		g.unsafeRefreshRuntimeConfig(previousConfig, &refreshConfig)
	} else {
		g.logger.Info("runtime config is up to date, skipping refresh")
	}
}

// unsafeRefreshRuntimeConfig applies a refreshed runtime config
// without locking the config mutex.
func (g *Guildmate) unsafeRefreshRuntimeConfig(
	previousConfig *RuntimeConfig,
	refreshConfig *RuntimeConfig,
) {
	switch {
	case refreshConfig.Paused && !previousConfig.Paused:
		if discErr := g.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); discErr != nil {
			g.logger.Error("error updating discord status", tint.Err(discErr))
		}
	case refreshConfig.DiscordCustomStatus != previousConfig.DiscordCustomStatus:
		if discErr := g.discord.updateCustomStatus(
			refreshConfig.DiscordCustomStatus,
		); discErr != nil {
			g.logger.Error("error updating discord status", tint.Err(discErr))
		}
	}

	g.paused.Store(refreshConfig.Paused)
	g.runtimeConfig = refreshConfig
	g.setRuntimeLevels(*refreshConfig)

	g.logger.Info("refreshed runtime config")
}

// setRuntimeLevels sets the logging levels for the bot's components
// based on the provided runtime configuration.
func (g *Guildmate) setRuntimeLevels(state RuntimeConfig) {
	g.config.LogLevel.Set(state.LogLevel.Level())
	g.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	g.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	g.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
	g.config.API.LogLevel.Set(state.APILogLevel.Level())
}

// Pause 'pauses' the bot. While paused, interactions are declined and
// scheduled broadcasts are skipped. Returns false if the bot was
// already paused.
func (g *Guildmate) Pause(ctx context.Context) bool {
	prev := g.paused.Swap(true)
	if prev {
		return false
	}

	if err := g.discord.updateStatusComplex(
		discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		},
	); err != nil {
		g.logger.ErrorContext(ctx, "unable to update afk status", tint.Err(err))
	}

	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	if !g.runtimeConfig.Paused {
		if _, err := g.writeDB.Update(
			ctx, g.runtimeConfig, columnRuntimeConfigPaused, true,
		); err != nil {
			g.logger.ErrorContext(ctx, "unable to set paused in db", tint.Err(err))
		}
	}
	return true
}

// Resume resumes command processing and broadcasts. It returns a bool
// indicating whether the bot was paused at the time it was called.
func (g *Guildmate) Resume(ctx context.Context) bool {
	prev := g.paused.Swap(false)
	if !prev {
		g.logger.Warn("bot not paused")
		return false
	}
	g.logger.InfoContext(ctx, "bot resumed")

	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	if err := g.discord.updateCustomStatus(
		g.runtimeConfig.DiscordCustomStatus,
	); err != nil {
		g.logger.ErrorContext(ctx, "unable to update online status", tint.Err(err))
	}

	if g.runtimeConfig.Paused {
		if _, err := g.writeDB.Update(
			ctx, g.runtimeConfig, columnRuntimeConfigPaused, false,
		); err != nil {
			g.logger.ErrorContext(ctx, "unable to set resumed in db", tint.Err(err))
		}
	}
	return true
}

func (g *Guildmate) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	g.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if g.eventShutdown != nil {
			go func() {
				g.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := g.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		g.logger.Warn("immediate shutdown")
		go func() {
			_ = g.api.httpServer.Close()
		}()
		return fmt.Errorf("shutdown did not complete in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	g.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		if g.scheduler != nil {
			g.scheduler.Stop()
		}

		runtimeWG.Wait() // wait for anything spawned by the main processes
		g.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"shutdown_started", shutdownStart,
			"runtime_stop_duration", time.Since(shutdownStart),
		)

		eg := errgroup.Group{}
		if g.api.httpServer != nil {
			eg.Go(
				func() error {
					g.logger.InfoContext(ctx, "stopping http server")
					_ = g.api.httpServer.Shutdown(closeCtx)
					g.logger.InfoContext(ctx, "http server stopped")
					return nil
				},
			)
		}

		if g.discord.session != nil {
			eg.Go(
				func() error {
					g.logger.InfoContext(ctx, "closing discord session")
					_ = g.discord.session.Close()
					g.logger.InfoContext(ctx, "discord session closed")
					for _, h := range g.discord.discordgoRemoveHandlerFuncs {
						h()
					}
					return nil
				},
			)
		}

		_ = eg.Wait()
		gracefulShutdownCh <- struct{}{}
		g.logger.InfoContext(ctx, "stopped http/discord")
	}()

	// if we get a signal on gracefulShutdownCh, everything stopped
	// and cleaned up normally. otherwise, burn it all down!
	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			g.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_ended", shutdownEnded,
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			g.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					time.Until(shutdownDeadline).String(),
				),
			)
		case <-closeCtx.Done(): // timed out, force-close everything
			g.logger.Warn("graceful shutdown did not finish in time, forcing close")
			go func() {
				_ = g.api.httpServer.Close()
			}()
			return fmt.Errorf("shutdown did not complete in time")
		}
	}
}
