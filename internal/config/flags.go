package config

import (
	"flag"
	"io"
)

// ParseFlags overlays command line flags on base. Unset flags keep the value
// base already carries.
func ParseFlags(base Config, args []string, output io.Writer) (Config, error) {
	flags := flag.NewFlagSet("navsync", flag.ContinueOnError)
	if output != nil {
		flags.SetOutput(output)
	}
	flags.StringVar(&base.SourceURL, "source", base.SourceURL, "Base URL of the node API")
	flags.StringVar(&base.PushURL, "push", base.PushURL, "WebSocket URL of the push channel")
	flags.StringVar(&base.FilePath, "file", base.FilePath, "JSON file holding the flat node list")
	flags.StringVar(&base.DatabaseURL, "db", base.DatabaseURL, "Postgres connection string")
	flags.DurationVar(&base.PollInterval, "poll", base.PollInterval, "Top-level refresh interval")
	flags.StringVar(&base.CacheDB, "cache-db", base.CacheDB, "SQLite file for the local cache (memory when empty)")
	flags.StringVar(&base.LogLevel, "log-level", base.LogLevel, "error, warn, info or debug")
	flags.BoolVar(&base.Demo, "demo", base.Demo, "Serve generated nodes with simulated status changes")
	flags.BoolVar(&base.Headless, "headless", base.Headless, "Log changes instead of starting the TUI")
	if err := flags.Parse(args); err != nil {
		return base, err
	}
	return base, nil
}
