package config

import "time"

type SourceKind string

const (
	SourceHTTP     SourceKind = "http"
	SourceFile     SourceKind = "file"
	SourcePostgres SourceKind = "postgres"
	SourceDemo     SourceKind = "demo"
)

type Config struct {
	SourceURL   string `yaml:"source_url"`
	PushURL     string `yaml:"push_url"`
	FilePath    string `yaml:"file"`
	DatabaseURL string `yaml:"database_url"`
	Table       string `yaml:"table"`
	Channel     string `yaml:"channel"`
	Demo        bool   `yaml:"demo"`
	Headless    bool   `yaml:"headless"`

	PollInterval      time.Duration `yaml:"poll_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestAttempts   int           `yaml:"request_attempts"`

	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheDB         string        `yaml:"cache_db"`
	CacheCapacity   int           `yaml:"cache_capacity"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`

	LogLevel   string `yaml:"log_level"`
	LogDir     string `yaml:"log_dir"`
	LogMaxKeep int    `yaml:"log_max_keep"`
}

type fileConfig struct {
	SourceURL         *string        `yaml:"source_url"`
	PushURL           *string        `yaml:"push_url"`
	FilePath          *string        `yaml:"file"`
	DatabaseURL       *string        `yaml:"database_url"`
	Table             *string        `yaml:"table"`
	Channel           *string        `yaml:"channel"`
	Demo              *bool          `yaml:"demo"`
	Headless          *bool          `yaml:"headless"`
	PollInterval      *time.Duration `yaml:"poll_interval"`
	ReconnectDelay    *time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay *time.Duration `yaml:"max_reconnect_delay"`
	RequestTimeout    *time.Duration `yaml:"request_timeout"`
	RequestAttempts   *int           `yaml:"request_attempts"`
	CacheTTL          *time.Duration `yaml:"cache_ttl"`
	CacheDB           *string        `yaml:"cache_db"`
	CacheCapacity     *int           `yaml:"cache_capacity"`
	NotificationTTL   *time.Duration `yaml:"notification_ttl"`
	LogLevel          *string        `yaml:"log_level"`
	LogDir            *string        `yaml:"log_dir"`
	LogMaxKeep        *int           `yaml:"log_max_keep"`
}

// Kind names the configured node source. Validate guarantees exactly one.
func (config Config) Kind() SourceKind {
	switch {
	case config.Demo:
		return SourceDemo
	case config.FilePath != "":
		return SourceFile
	case config.DatabaseURL != "":
		return SourcePostgres
	default:
		return SourceHTTP
	}
}
