package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"
)

type envOverrides struct {
	SourceURL       string        `envconfig:"NAVSYNC_SOURCE_URL,optional"`
	PushURL         string        `envconfig:"NAVSYNC_PUSH_URL,optional"`
	FilePath        string        `envconfig:"NAVSYNC_FILE,optional"`
	DatabaseURL     string        `envconfig:"NAVSYNC_DATABASE_URL,optional"`
	PollInterval    time.Duration `envconfig:"NAVSYNC_POLL_INTERVAL,optional"`
	CacheTTL        time.Duration `envconfig:"NAVSYNC_CACHE_TTL,optional"`
	CacheDB         string        `envconfig:"NAVSYNC_CACHE_DB,optional"`
	NotificationTTL time.Duration `envconfig:"NAVSYNC_NOTIFICATION_TTL,optional"`
	LogLevel        string        `envconfig:"NAVSYNC_LOG_LEVEL,optional"`
	LogDir          string        `envconfig:"NAVSYNC_LOG_DIR,optional"`
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays NAVSYNC_* variables on base. Unset variables keep the
// value base already carries.
func ApplyEnv(base Config) (Config, error) {
	var env envOverrides
	if err := envconfig.Init(&env); err != nil {
		return base, fmt.Errorf("read environment: %w", err)
	}
	overrideString(&base.SourceURL, env.SourceURL)
	overrideString(&base.PushURL, env.PushURL)
	overrideString(&base.FilePath, env.FilePath)
	overrideString(&base.DatabaseURL, env.DatabaseURL)
	overrideString(&base.CacheDB, env.CacheDB)
	overrideString(&base.LogLevel, env.LogLevel)
	overrideString(&base.LogDir, env.LogDir)
	overrideDuration(&base.PollInterval, env.PollInterval)
	overrideDuration(&base.CacheTTL, env.CacheTTL)
	overrideDuration(&base.NotificationTTL, env.NotificationTTL)
	return base, nil
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}
