package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents application configuration loaded from environment variables
// and an optional config file.
type Config struct {
	AppEnv      string
	Port        string
	MetricsPort string
	DatabaseURL string

	DispatchSource    string
	DispatchLookAhead int
	GlobalPacing      time.Duration
	GlobalConcurrency int
	GlobalWindow      time.Duration
	StaleAfter        time.Duration

	PollFirst       time.Duration
	PollInterval    time.Duration
	PollMaxDuration time.Duration

	ProviderBaseURL       string
	ProviderSubmitTimeout time.Duration
	ProviderPollTimeout   time.Duration

	TelegramBotToken string
	NotifyLocale     string

	StoragePath       string
	StorageBaseURL    string
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2PublicURL       string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	LeaderLockKey int64
}

// HasR2 reports whether object storage credentials are configured.
func (c *Config) HasR2() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2Bucket != ""
}

var defaults = map[string]any{
	"app_env":                    "development",
	"port":                       "8080",
	"metrics_port":               "9090",
	"dispatch_source":            "telegram",
	"dispatch_lookahead":         1,
	"global_pacing":              "5s",
	"global_concurrency":         12,
	"global_window":              "15m",
	"stale_after":                "10m",
	"poll_first":                 "1s",
	"poll_interval":              "5s",
	"poll_max_duration":          "20m",
	"provider_base_url":          "https://api.freepik.com/v1/ai",
	"provider_submit_timeout":    "30s",
	"provider_poll_timeout":      "20s",
	"notify_locale":              "id",
	"storage_path":               "./storage",
	"storage_base_url":           "http://localhost:8080/static",
	"http_read_timeout_seconds":  15,
	"http_write_timeout_seconds": 30,
	"http_idle_timeout_seconds":  60,
	"rate_limit_per_minute":      30,
	"leader_lock_key":            int64(727001),
}

var plainKeys = []string{
	"database_url",
	"telegram_bot_token",
	"r2_account_id",
	"r2_access_key_id",
	"r2_secret_access_key",
	"r2_bucket_name",
	"r2_public_url",
}

// LoadConfig loads configuration from the environment and, when path is not
// empty, from the given config file. Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range plainKeys {
		v.SetDefault(key, "")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppEnv:      v.GetString("app_env"),
		Port:        v.GetString("port"),
		MetricsPort: v.GetString("metrics_port"),
		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),

		DispatchSource:    v.GetString("dispatch_source"),
		DispatchLookAhead: v.GetInt("dispatch_lookahead"),
		GlobalPacing:      v.GetDuration("global_pacing"),
		GlobalConcurrency: v.GetInt("global_concurrency"),
		GlobalWindow:      v.GetDuration("global_window"),
		StaleAfter:        v.GetDuration("stale_after"),

		PollFirst:       v.GetDuration("poll_first"),
		PollInterval:    v.GetDuration("poll_interval"),
		PollMaxDuration: v.GetDuration("poll_max_duration"),

		ProviderBaseURL:       strings.TrimRight(v.GetString("provider_base_url"), "/"),
		ProviderSubmitTimeout: v.GetDuration("provider_submit_timeout"),
		ProviderPollTimeout:   v.GetDuration("provider_poll_timeout"),

		TelegramBotToken: strings.TrimSpace(v.GetString("telegram_bot_token")),
		NotifyLocale:     v.GetString("notify_locale"),

		StoragePath:       v.GetString("storage_path"),
		StorageBaseURL:    strings.TrimRight(v.GetString("storage_base_url"), "/"),
		R2AccountID:       v.GetString("r2_account_id"),
		R2AccessKeyID:     v.GetString("r2_access_key_id"),
		R2SecretAccessKey: v.GetString("r2_secret_access_key"),
		R2Bucket:          v.GetString("r2_bucket_name"),
		R2PublicURL:       strings.TrimRight(v.GetString("r2_public_url"), "/"),

		HTTPReadTimeout:  time.Second * time.Duration(v.GetInt("http_read_timeout_seconds")),
		HTTPWriteTimeout: time.Second * time.Duration(v.GetInt("http_write_timeout_seconds")),
		HTTPIdleTimeout:  time.Second * time.Duration(v.GetInt("http_idle_timeout_seconds")),
		RateLimitPerMin:  v.GetInt("rate_limit_per_minute"),

		LeaderLockKey: v.GetInt64("leader_lock_key"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GlobalConcurrency <= 0 {
		return nil, fmt.Errorf("GLOBAL_CONCURRENCY must be positive")
	}
	if cfg.DispatchLookAhead <= 0 {
		cfg.DispatchLookAhead = 1
	}

	return cfg, nil
}
