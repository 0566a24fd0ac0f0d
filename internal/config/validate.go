package config

import (
	"errors"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var logLevels = []interface{}{"error", "warn", "info", "debug"}

func (config Config) Validate() error {
	return validation.ValidateStruct(&config,
		validation.Field(&config.SourceURL, validation.By(httpURL("http", "https"))),
		validation.Field(&config.PushURL, validation.By(httpURL("ws", "wss"))),
		validation.Field(&config.PollInterval,
			validation.Required,
			validation.Min(100*time.Millisecond),
			validation.Max(time.Minute),
		),
		validation.Field(&config.CacheTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&config.NotificationTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&config.ReconnectDelay, validation.Required),
		validation.Field(&config.MaxReconnectDelay, validation.Min(config.ReconnectDelay)),
		validation.Field(&config.RequestAttempts, validation.Min(1)),
		validation.Field(&config.CacheCapacity, validation.Min(1)),
		validation.Field(&config.LogLevel, validation.In(logLevels...)),
		validation.Field(&config.Demo, validation.By(func(interface{}) error {
			return config.oneSource()
		})),
	)
}

func (config Config) oneSource() error {
	count := 0
	for _, set := range []bool{config.SourceURL != "", config.FilePath != "", config.DatabaseURL != "", config.Demo} {
		if set {
			count++
		}
	}
	switch count {
	case 0:
		return errors.New("no node source configured: set one of -source, -file, -db or -demo")
	case 1:
		return nil
	default:
		return errors.New("only one of -source, -file, -db or -demo may be set")
	}
}

func httpURL(schemes ...string) validation.RuleFunc {
	return func(value interface{}) error {
		raw, _ := value.(string)
		if raw == "" {
			return nil
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return err
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme && parsed.Host != "" {
				return nil
			}
		}
		return errors.New("unsupported URL scheme " + parsed.Scheme)
	}
}
