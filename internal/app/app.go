// ABOUTME: Assembles every almanac subsystem and runs them as one process.
// ABOUTME: Wires the store, classifier, web server, frontends, and orchestrator.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/almanac/internal/calendar"
	"github.com/2389/almanac/internal/config"
	"github.com/2389/almanac/internal/conversation"
	"github.com/2389/almanac/internal/frontend"
	"github.com/2389/almanac/internal/frontend/matrix"
	"github.com/2389/almanac/internal/frontend/slack"
	"github.com/2389/almanac/internal/frontend/terminal"
	"github.com/2389/almanac/internal/frontend/webchat"
	"github.com/2389/almanac/internal/future"
	"github.com/2389/almanac/internal/nlp"
	"github.com/2389/almanac/internal/settings"
	"github.com/2389/almanac/internal/web"
)

// App owns the almanac process: the settings store, the future registry the
// web form resolves into, the intent classifier, the shared web server, and
// one bot per enabled frontend, all conducted by a single orchestrator.
type App struct {
	config    *config.Config
	store     *settings.SQLiteStore
	futures   *future.Registry[calendar.Config]
	webServer *web.Server
	orch      *conversation.Orchestrator
	bots      []frontend.Bot
	logger    *slog.Logger
}

// New builds the app from config. Construction wires everything but touches
// no network; transports connect in Run.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := settings.NewSQLiteStore(resolveDatabasePath(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing settings store: %w", err)
	}

	futures := future.NewRegistry[calendar.Config]()
	classifier := buildClassifier(cfg.NLP, logger)

	webServer := web.NewServer(cfg, logger)
	baseURL := webServer.BaseURL()
	web.NewSettings(futures, baseURL, cfg.OAuth.Office, logger).Register(webServer.Router())

	orch := conversation.New(classifier, store, futures, conversation.Options{
		BaseURL:         baseURL,
		SettingsTimeout: cfg.Conversation.SettingsTimeout,
	}, logger)

	bots, err := buildFrontends(cfg, webServer.Router(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if len(bots) == 0 {
		store.Close()
		return nil, errors.New("no frontends enabled: enable at least one under frontends in the config")
	}
	for _, bot := range bots {
		orch.Attach(bot)
	}

	return &App{
		config:    cfg,
		store:     store,
		futures:   futures,
		webServer: webServer,
		orch:      orch,
		bots:      bots,
		logger:    logger.With("component", "app"),
	}, nil
}

// Frontends returns the names of the enabled bots, for startup reporting.
func (a *App) Frontends() []string {
	names := make([]string, 0, len(a.bots))
	for _, bot := range a.bots {
		names = append(names, bot.Name())
	}
	return names
}

// BaseURL returns the external URL settings links are built from.
func (a *App) BaseURL() string {
	return a.webServer.BaseURL()
}

// Run starts the web server and every frontend and blocks until ctx is done
// or the web server fails. A single frontend dying is logged and contained;
// the rest of the process keeps serving.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErr := make(chan error, 1)
	go func() {
		webErr <- a.webServer.Run(ctx)
	}()

	var wg sync.WaitGroup
	for _, bot := range a.bots {
		wg.Add(1)
		go func(b frontend.Bot) {
			defer wg.Done()
			err := b.Run(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				a.logger.Debug("frontend stopped", "frontend", b.Name())
			default:
				a.logger.Error("frontend stopped", "frontend", b.Name(), "error", err)
			}
		}(bot)
	}

	// The web server bounds the process: settings links and webhooks are
	// dead without it.
	err := <-webErr
	cancel()
	wg.Wait()

	if closeErr := a.store.Close(); closeErr != nil {
		a.logger.Warn("closing settings store", "error", closeErr)
	}
	return err
}

// resolveDatabasePath returns the settings database path, honoring the
// ALMANAC_DB_PATH environment override.
func resolveDatabasePath(cfg *config.Config) string {
	if envPath := os.Getenv("ALMANAC_DB_PATH"); envPath != "" {
		return envPath
	}
	return cfg.Database.Path
}

// buildClassifier picks wit.ai when a token is configured and the offline
// keyword matcher otherwise.
func buildClassifier(cfg config.NLPConfig, logger *slog.Logger) nlp.Classifier {
	if cfg.WitToken != "" {
		logger.Info("using wit.ai intent classifier")
		return nlp.NewClient(cfg.WitToken, logger)
	}
	logger.Info("no wit.ai token configured, using keyword classifier")
	return nlp.Keywords{}
}

// buildFrontends constructs a bot per enabled frontend and mounts the
// HTTP-facing ones on the shared router.
func buildFrontends(cfg *config.Config, router *web.Router, logger *slog.Logger) ([]frontend.Bot, error) {
	replyTimeout := cfg.Conversation.ReplyTimeout
	var bots []frontend.Bot

	if cfg.Frontends.Terminal.Enabled {
		bots = append(bots, terminal.New(cfg.Frontends.Terminal, replyTimeout, logger))
	}

	if cfg.Frontends.Slack.Enabled {
		bot := slack.New(cfg.Frontends.Slack, replyTimeout, logger)
		bot.Register(router)
		bots = append(bots, bot)
	}

	if cfg.Frontends.Matrix.Enabled {
		mcfg := cfg.Frontends.Matrix
		if mcfg.DataDir == "" {
			mcfg.DataDir = defaultDataDir()
		}
		bot, err := matrix.New(mcfg, replyTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix frontend: %w", err)
		}
		bots = append(bots, bot)
	}

	if cfg.Frontends.Webchat.Enabled {
		bot := webchat.New(replyTimeout, logger)
		bot.Register(router)
		bots = append(bots, bot)
	}

	return bots, nil
}

// defaultDataDir returns XDG_DATA_HOME/almanac or ~/.local/share/almanac.
func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "almanac")
}
