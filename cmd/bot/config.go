package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mangabot/internal/driver/telegram"
	"mangabot/internal/mangadex"
	"mangabot/internal/telegraph"
)

const (
	envPrefix             = "MANGABOT"
	envConfigFile         = "MANGABOT_CONFIG_FILE"
	defaultConfigFilePath = "config/bot.yaml"
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	telegram  telegram.RuntimeConfig
	mangadex  mangadexConfig
	telegraph telegraph.Config
	caching   cachingConfig
	redis     mangadex.RedisConfig

	databaseURL    string
	migrateOnStart bool
	adminAddr      string
}

type mangadexConfig struct {
	baseURL        string
	requestTimeout time.Duration
	retryAttempts  uint
	retryDelay     time.Duration
	dataSaver      bool
}

type cachingConfig struct {
	progressWindow        time.Duration
	pageTimeout           time.Duration
	maxPages              int
	allowedContentRatings []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("kernel.module_hook_timeout", "5s")
	v.SetDefault("kernel.shutdown_timeout", "10s")
	v.SetDefault("kernel.handler_timeout", "1m")
	v.SetDefault("kernel.subscription_buffer", 256)
	v.SetDefault("kernel.subscription_workers", 4)

	v.SetDefault("telegram.app_id", 0)
	v.SetDefault("telegram.app_hash", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.session_file", ".cache/telegram/session.json")
	v.SetDefault("telegram.rpc_timeout", "5s")
	v.SetDefault("telegram.update_buffer", 256)

	v.SetDefault("mangadex.base_url", mangadex.DefaultBaseURL)
	v.SetDefault("mangadex.request_timeout", "15s")
	v.SetDefault("mangadex.retry_attempts", 3)
	v.SetDefault("mangadex.retry_delay", "500ms")
	v.SetDefault("mangadex.data_saver", false)

	v.SetDefault("telegraph.access_token", "")
	v.SetDefault("telegraph.author_name", "")
	v.SetDefault("telegraph.author_url", "")

	v.SetDefault("caching.progress_window", "2500ms")
	v.SetDefault("caching.page_timeout", "1m")
	v.SetDefault("caching.max_pages", 0)
	v.SetDefault("caching.allowed_content_ratings", []string{})

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.migrate_on_start", true)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("admin.listen_addr", "")
}

// loadConfig reads the config file, when one is found, and MANGABOT_* env overrides.
func loadConfig(configFile string) (appConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, required, err := resolveConfigFilePath(configFile)
	if err != nil {
		return appConfig{}, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if required || !errors.As(err, &notFound) {
				return appConfig{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	cfg, err := parseConfig(v)
	if err != nil {
		if path != "" {
			return appConfig{}, fmt.Errorf("config %s: %w", path, err)
		}
		return appConfig{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// resolveConfigFilePath picks the flag, then the env var, then the default
// path if it exists. Explicit paths must exist.
func resolveConfigFilePath(flagValue string) (string, bool, error) {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path, true, nil
	}
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		return path, true, nil
	}

	info, err := os.Stat(defaultConfigFilePath)
	switch {
	case err == nil && info.IsDir():
		return "", false, fmt.Errorf("config file %s is a directory", defaultConfigFilePath)
	case err == nil:
		return defaultConfigFilePath, false, nil
	case errors.Is(err, os.ErrNotExist):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("stat config file %s: %w", defaultConfigFilePath, err)
	}
}

func parseConfig(v *viper.Viper) (appConfig, error) {
	var cfg appConfig
	var err error

	if cfg.logLevel, err = parseLogLevel(v.GetString("log_level")); err != nil {
		return appConfig{}, fmt.Errorf("parse log_level: %w", err)
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{key: "kernel.module_hook_timeout", target: &cfg.moduleHookTimeout},
		{key: "kernel.shutdown_timeout", target: &cfg.shutdownTimeout},
		{key: "kernel.handler_timeout", target: &cfg.handlerTimeout},
		{key: "telegram.rpc_timeout", target: &cfg.telegram.RPCTimeout},
		{key: "mangadex.request_timeout", target: &cfg.mangadex.requestTimeout},
		{key: "mangadex.retry_delay", target: &cfg.mangadex.retryDelay},
		{key: "caching.progress_window", target: &cfg.caching.progressWindow},
		{key: "caching.page_timeout", target: &cfg.caching.pageTimeout},
		{key: "redis.ttl", target: &cfg.redis.TTL},
	}
	for _, setting := range durations {
		if *setting.target, err = parsePositiveDuration(v.GetString(setting.key)); err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", setting.key, err)
		}
	}

	counts := []struct {
		key    string
		target *int
	}{
		{key: "kernel.subscription_buffer", target: &cfg.subscriptionBuffer},
		{key: "kernel.subscription_workers", target: &cfg.subscriptionWorkers},
		{key: "telegram.update_buffer", target: &cfg.telegram.UpdateBuffer},
	}
	for _, setting := range counts {
		value := v.GetInt(setting.key)
		if value <= 0 {
			return appConfig{}, fmt.Errorf("parse %s: must be > 0", setting.key)
		}
		*setting.target = value
	}

	cfg.telegram.Name = telegram.DriverType
	cfg.telegram.AppID = v.GetInt("telegram.app_id")
	cfg.telegram.AppHash = v.GetString("telegram.app_hash")
	cfg.telegram.BotToken = v.GetString("telegram.bot_token")
	cfg.telegram.SessionFile = v.GetString("telegram.session_file")
	if err := cfg.telegram.Validate(); err != nil {
		return appConfig{}, err
	}

	cfg.mangadex.baseURL = strings.TrimSpace(v.GetString("mangadex.base_url"))
	cfg.mangadex.dataSaver = v.GetBool("mangadex.data_saver")
	attempts := v.GetInt("mangadex.retry_attempts")
	if attempts <= 0 {
		return appConfig{}, fmt.Errorf("parse mangadex.retry_attempts: must be > 0")
	}
	cfg.mangadex.retryAttempts = uint(attempts)

	cfg.telegraph = telegraph.Config{
		AccessToken: strings.TrimSpace(v.GetString("telegraph.access_token")),
		AuthorName:  strings.TrimSpace(v.GetString("telegraph.author_name")),
		AuthorURL:   strings.TrimSpace(v.GetString("telegraph.author_url")),
	}
	if cfg.telegraph.AccessToken == "" {
		return appConfig{}, fmt.Errorf("telegraph access_token is required")
	}

	cfg.caching.maxPages = v.GetInt("caching.max_pages")
	if cfg.caching.maxPages < 0 {
		return appConfig{}, fmt.Errorf("parse caching.max_pages: must be >= 0")
	}
	for _, rating := range v.GetStringSlice("caching.allowed_content_ratings") {
		if rating = strings.TrimSpace(rating); rating != "" {
			cfg.caching.allowedContentRatings = append(cfg.caching.allowedContentRatings, rating)
		}
	}

	cfg.redis.Address = strings.TrimSpace(v.GetString("redis.address"))
	cfg.redis.Password = v.GetString("redis.password")
	cfg.redis.DB = v.GetInt("redis.db")

	cfg.databaseURL = strings.TrimSpace(v.GetString("store.database_url"))
	cfg.migrateOnStart = v.GetBool("store.migrate_on_start")
	cfg.adminAddr = strings.TrimSpace(v.GetString("admin.listen_addr"))

	return cfg, nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return value, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
