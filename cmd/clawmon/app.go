package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"clawmon/internal/auth"
	"clawmon/internal/browser"
	"clawmon/internal/config"
	"clawmon/internal/coordinate"
	"clawmon/internal/fetch"
	"clawmon/internal/history"
	"clawmon/internal/localusage"
	"clawmon/internal/monitor"
	"clawmon/internal/statuspage"
	"clawmon/internal/usage"
)

// Target origin and paths. These are the only claude.ai specifics outside the
// response schema.
const (
	targetOrigin = "https://claude.ai"
	usagePath    = "/settings/usage"
	loginPath    = "/login"
	cookieName   = "sessionKey"
	probePath    = "/api/organizations"
)

// app bundles the wired components behind the CLI commands.
type app struct {
	Config  *config.Config
	Coord   *coordinate.Coordinator
	Manager *browser.Manager
	Auth    *auth.Authenticator
	Engine  *fetch.Engine
	Flow    *monitor.Flow
	Monitor *monitor.Monitor

	history *history.Store
	local   *localusage.Watcher
	log     *zap.Logger
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	binPath, err := browser.FindExecutable(cfg.BrowserPath)
	if err != nil {
		return nil, err
	}

	schema, err := usage.LoadSchema(filepath.Join(cfg.StateDir(), "schema.yaml"))
	if err != nil {
		return nil, err
	}

	coord := coordinate.New(cfg.StateDir())
	mgr := browser.NewManager(cfg.ProfileDir(), binPath, log)
	authn := auth.New(targetOrigin, cookieName, probePath, log)
	engine := fetch.NewEngine(targetOrigin, usagePath, usage.NewNormalizer(schema), log)

	flow := monitor.NewFlow(mgr, authn, engine, coord, monitor.FlowOptions{
		Origin:    targetOrigin,
		LoginPath: loginPath,
		Headless:  cfg.Headless,
		DebugPort: cfg.DebugPort,
	}, log)

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	local, err := localusage.NewWatcher(ctx, localProjectRoots(), log)
	if err != nil {
		log.Warn("local telemetry unavailable", zap.Error(err))
		local = nil
	}

	a := &app{
		Config:  cfg,
		Coord:   coord,
		Manager: mgr,
		Auth:    authn,
		Engine:  engine,
		Flow:    flow,
		history: hist,
		local:   local,
		log:     log,
	}

	// A nil *Watcher must not become a non-nil interface value.
	var localReader interface{ Current() localusage.Summary }
	if local != nil {
		localReader = local
	}
	a.Monitor = monitor.New(coord, flow, localReader, statuspage.NewClient(cfg.StatusFeedURL), hist, cfg.HistoryRetention(), log)
	return a, nil
}

func localProjectRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return localusage.ProjectRoots(home)
}

func (a *app) Close() {
	if a.local != nil {
		a.local.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("close history db", zap.Error(err))
		}
	}
}
