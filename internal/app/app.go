package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"navsync/internal/cache"
	"navsync/internal/config"
	"navsync/internal/engine"
	"navsync/internal/navigator"
	"navsync/internal/notify"
	"navsync/internal/services"
	"navsync/internal/ui"
)

// Run loads configuration from the config file, .env, NAVSYNC_* variables and
// args, in that order, then runs the TUI or the headless logger until ctx ends.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(stderr, "navsync .env warning:", err)
	}
	cfg := config.DefaultConfig()
	if path, err := config.ConfigPath(); err == nil {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			fmt.Fprintln(stderr, "navsync config warning:", err)
		} else {
			cfg = loaded
		}
	}
	cfg, err := config.ApplyEnv(cfg)
	if err != nil {
		return err
	}
	cfg, err = config.ParseFlags(cfg, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := buildLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wiring, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer wiring.close()

	if cfg.Headless {
		return runHeadless(ctx, wiring.navigator, logger)
	}
	return runTUI(ctx, wiring.navigator, string(cfg.Kind()))
}

func buildLogger(cfg config.Config, stderr io.Writer) (zerolog.Logger, func(), error) {
	if cfg.Headless {
		return config.NewLogger(cfg.LogLevel, stderr), func() {}, nil
	}
	dir := cfg.LogDir
	if dir == "" {
		dir = config.DefaultLogDir()
	}
	file, err := config.SetupLogFile(dir, cfg.LogMaxKeep)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return config.NewLogger(cfg.LogLevel, file), func() { file.Close() }, nil
}

type wiring struct {
	navigator *navigator.Navigator
	closers   []func() error
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*wiring, error) {
	w := &wiring{}
	source, push, err := buildSource(ctx, cfg, logger, w)
	if err != nil {
		w.close()
		return nil, err
	}
	store, err := buildCache(cfg, logger, w)
	if err != nil {
		w.close()
		return nil, err
	}

	options := engine.DefaultOptions()
	options.PollInterval = cfg.PollInterval
	options.ReconnectDelay = cfg.ReconnectDelay
	options.MaxReconnectDelay = cfg.MaxReconnectDelay
	options.CacheMaxEntries = cfg.CacheCapacity
	syncEngine := engine.New(source, push, store, options, logger)
	center := notify.NewCenter(cfg.NotificationTTL, logger)
	w.navigator = navigator.New(syncEngine, center, logger)
	return w, nil
}

func buildSource(ctx context.Context, cfg config.Config, logger zerolog.Logger, w *wiring) (services.Source, services.PushChannel, error) {
	switch cfg.Kind() {
	case config.SourceDemo:
		mock := services.NewMockSource(services.DemoRecords()...)
		mock.SetDelay(150 * time.Millisecond)
		go mock.Simulate(ctx, 2*time.Second, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)))
		return mock, mock, nil
	case config.SourceFile:
		file := services.NewFileSource(cfg.FilePath, logger)
		return file, file.Watch(), nil
	case config.SourcePostgres:
		db, err := services.NewPostgresSource(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		db.WithTable(cfg.Table, cfg.Channel)
		w.closers = append(w.closers, db.Close)
		return db, db.Watch(), nil
	default:
		options := services.DefaultHTTPOptions()
		options.Timeout = cfg.RequestTimeout
		options.Attempts = uint(cfg.RequestAttempts)
		source, err := services.NewHTTPSource(cfg.SourceURL, options, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.PushURL == "" {
			return source, nil, nil
		}
		return source, services.NewWebSocketPush(cfg.PushURL, services.DefaultWebSocketOptions(), logger), nil
	}
}

func buildCache(cfg config.Config, logger zerolog.Logger, w *wiring) (*cache.Cache, error) {
	var store cache.Store
	if cfg.CacheDB != "" {
		sqlite, err := cache.OpenSQLite(cfg.CacheDB)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, sqlite.Close)
		store = sqlite
	} else {
		memory, err := cache.NewMemoryStore(cfg.CacheCapacity)
		if err != nil {
			return nil, err
		}
		store = memory
	}
	return cache.New(store, cfg.CacheTTL, cache.WithLogger(logger)), nil
}

func runTUI(ctx context.Context, nav *navigator.Navigator, source string) error {
	model := ui.NewModel(ctx, nav, source)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	nav.OnChange(func() {
		go program.Send(ui.ChangedMsg{})
	})
	if err := nav.Start(ctx, false); err != nil {
		return err
	}
	defer nav.Stop()
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("navsync ui: %w", err)
	}
	return nil
}

// runHeadless logs every new notification until ctx ends.
func runHeadless(ctx context.Context, nav *navigator.Navigator, logger zerolog.Logger) error {
	seen := map[ulid.ULID]bool{}
	changes := make(chan struct{}, 1)
	nav.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err := nav.Start(ctx, true); err != nil {
		return err
	}
	defer nav.Stop()
	logger.Info().Msg("running headless")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
		seen = logNew(nav.View().Notifications, seen, logger)
	}
}

// logNew logs the entries missing from seen and returns the ids of entries,
// so expired notifications are forgotten.
func logNew(entries []notify.Entry, seen map[ulid.ULID]bool, logger zerolog.Logger) map[ulid.ULID]bool {
	current := make(map[ulid.ULID]bool, len(entries))
	for _, entry := range entries {
		current[entry.ID] = true
		if seen[entry.ID] {
			continue
		}
		logger.Info().Str("node", entry.NodeID.String()).Str("old", entry.Old.String()).Str("new", entry.New.String()).Msg(entry.Message())
	}
	return current
}
