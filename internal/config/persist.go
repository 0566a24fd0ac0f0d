package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "navsync"
	configFileName = "config.yaml"
)

func DefaultConfig() Config {
	return Config{
		Table:             "nodes",
		Channel:           "node_changed",
		PollInterval:      5 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		RequestTimeout:    10 * time.Second,
		RequestAttempts:   3,
		CacheTTL:          60 * time.Second,
		CacheCapacity:     512,
		NotificationTTL:   30 * time.Second,
		LogLevel:          "warn",
		LogMaxKeep:        5,
	}
}

func ConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, configDirName, configFileName), nil
}

// LoadConfig overlays the YAML file at path on the defaults. A missing file is
// not an error.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return config, err
	}
	var stored fileConfig
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return config, fmt.Errorf("parse %s: %w", path, err)
	}
	return mergeConfig(config, stored), nil
}

func SaveConfig(path string, config Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeConfig(base Config, stored fileConfig) Config {
	merged := base
	setString(&merged.SourceURL, stored.SourceURL)
	setString(&merged.PushURL, stored.PushURL)
	setString(&merged.FilePath, stored.FilePath)
	setString(&merged.DatabaseURL, stored.DatabaseURL)
	setString(&merged.Table, stored.Table)
	setString(&merged.Channel, stored.Channel)
	setString(&merged.CacheDB, stored.CacheDB)
	setString(&merged.LogLevel, stored.LogLevel)
	setString(&merged.LogDir, stored.LogDir)
	if stored.Demo != nil {
		merged.Demo = *stored.Demo
	}
	if stored.Headless != nil {
		merged.Headless = *stored.Headless
	}
	setDuration(&merged.PollInterval, stored.PollInterval)
	setDuration(&merged.ReconnectDelay, stored.ReconnectDelay)
	setDuration(&merged.MaxReconnectDelay, stored.MaxReconnectDelay)
	setDuration(&merged.RequestTimeout, stored.RequestTimeout)
	setDuration(&merged.CacheTTL, stored.CacheTTL)
	setDuration(&merged.NotificationTTL, stored.NotificationTTL)
	if stored.RequestAttempts != nil {
		merged.RequestAttempts = *stored.RequestAttempts
	}
	if stored.CacheCapacity != nil {
		merged.CacheCapacity = *stored.CacheCapacity
	}
	if stored.LogMaxKeep != nil {
		merged.LogMaxKeep = *stored.LogMaxKeep
	}
	return merged
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func setDuration(target *time.Duration, value *time.Duration) {
	if value != nil {
		*target = *value
	}
}
