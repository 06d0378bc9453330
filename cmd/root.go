package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/avencel/guildmate/guildmate"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = guildmate.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "guildmate [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	fmt.Println(err)
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", guildmate.DefaultDatabase)
	viper.SetDefault("database_type", guildmate.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		guildmate.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		guildmate.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", guildmate.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", guildmate.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", guildmate.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", guildmate.DefaultShutdownTimeout)
	viper.SetDefault("runtime_config_ttl", guildmate.DefaultRuntimeConfigTTL)

	// Scheduler config
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault(
		"scheduler.tick_interval",
		guildmate.DefaultSchedulerTickInterval,
	)

	// Facts config
	viper.SetDefault("facts.fact_url", guildmate.DefaultFactURL)
	viper.SetDefault("facts.trivia_url", guildmate.DefaultTriviaURL)
	viper.SetDefault("facts.request_timeout", guildmate.DefaultFactRequestTimeout)
	viper.SetDefault("facts.log_level", guildmate.DefaultLogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		guildmate.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		guildmate.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		guildmate.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		guildmate.DefaultDiscordStartupMessage,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.listen", guildmate.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)

	viper.SetDefault(
		"api.session_max_age",
		guildmate.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", guildmate.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		guildmate.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", guildmate.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", guildmate.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.external_url"))
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: OAuth config
	fatalErr(viper.BindEnv("api.oauth.client_id"))
	fatalErr(viper.BindEnv("api.oauth.client_secret"))
	fatalErr(viper.BindEnv("api.oauth.redirect_url"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		guildmate.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		guildmate.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		guildmate.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", guildmate.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		guildmate.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(guildmate.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = guildmate.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("facts.log_level"))
	if err != nil {
		log.Fatalf("error parsing facts log level: %v", err)
	}
	viper.Set("facts.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
