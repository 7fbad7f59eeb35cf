package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/nugget/jarvis-core/examples"
	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/download"
	"github.com/nugget/jarvis-core/internal/events"
	"github.com/nugget/jarvis-core/internal/fetch"
	"github.com/nugget/jarvis-core/internal/history"
	"github.com/nugget/jarvis-core/internal/ledger"
	"github.com/nugget/jarvis-core/internal/paths"
	"github.com/nugget/jarvis-core/internal/resource"
	"github.com/nugget/jarvis-core/internal/secure"
	"github.com/nugget/jarvis-core/internal/skills"
)

// app is the wiring shared by the subcommands.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	settings *config.Settings
	env      config.Environment
	bus      *events.Bus
	resolver *resource.Resolver
}

// newApp loads configuration, settings and the environment snapshot and
// builds the resolver. progress, when set, observes downloads.
func newApp(stderr io.Writer, opts options, progress resource.ProgressFunc) (*app, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(stderr, cfg)
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	} else {
		logger.Debug("no config file found, using defaults")
	}

	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger,
		env:     config.SnapshotEnv(opts.environ),
		bus:     events.New(),
	}
	a.settings = config.LoadSettings(cfg.SettingsFile, logger)

	a.resolver, err = newResolver(cfg, a.env, a.bus, logger, progress)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newResolver builds the model resolver from the operator config. The
// "models:" path prefix follows MODEL_DIR when it is set.
func newResolver(cfg *config.Config, env config.Environment, bus *events.Bus, logger *slog.Logger, progress resource.ProgressFunc) (*resource.Resolver, error) {
	variants, err := resource.DefaultVariants().WithDigests(cfg.Model.Digests)
	if err != nil {
		return nil, fmt.Errorf("model.digests: %w", err)
	}
	fetcher, err := download.New(cfg.Model, env.Get(config.EnvHFToken), logger)
	if err != nil {
		return nil, err
	}

	root := config.InstallRoot()
	modelDir := cfg.ModelDir(root)
	if dir, ok := env.Lookup(config.EnvModelDir); ok {
		modelDir = paths.ExpandHome(dir)
	}

	return resource.NewResolver(resource.Config{
		Descriptor: resource.DescriptorOptions{
			Variants:    variants,
			InstallRoot: root,
			DefaultDir:  cfg.ModelDir(root),
			Repository:  cfg.Model.Repository,
			Revision:    cfg.Model.Revision,
			Paths: paths.New(map[string]string{
				"models": modelDir,
				"data":   cfg.DataDir,
			}),
			Bus:    bus,
			Logger: logger,
		},
		Fetcher:  fetcher,
		Progress: progress,
		Timeout:  time.Duration(cfg.Model.DownloadTimeoutSec) * time.Second,
	}), nil
}

// reloadSettings rereads the settings file so that long-running commands
// see edits made through the settings panel.
func (a *app) reloadSettings() resource.Settings {
	return config.LoadSettings(a.cfg.SettingsFile, a.logger)
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", a.cfg.DataDir, err)
	}
	return ledger.Open(filepath.Join(a.cfg.DataDir, "acquisitions.db"))
}

// skillRegistry registers every built-in skill whose dependencies are
// available on this machine.
func (a *app) skillRegistry() (*skills.Registry, error) {
	reg := skills.NewRegistry(a.bus, a.logger, a.cfg.Skills.Disabled...)

	calc, err := skills.NewCalculator()
	if err != nil {
		return nil, err
	}
	deps := skills.Deps{
		Calculator: calc,
		SystemInfo: &skills.SystemInfo{},
		Web:        fetch.New(fetch.Options{Logger: a.logger}),
	}

	if ws, err := skills.NewWorkspace(a.cfg.Skills.Workspace); err == nil {
		deps.Workspace = ws
	} else {
		a.logger.Warn("file skills unavailable", "workspace", a.cfg.Skills.Workspace, "error", err)
	}

	table, err := skills.LoadAppTable(paths.ExpandHome(a.cfg.Skills.AppPathsFile), examples.AppPathsYAML)
	if err != nil {
		return nil, err
	}
	deps.Opener = &skills.AppOpener{
		Table:    table,
		OS:       skills.OSName(runtime.GOOS),
		Launcher: skills.ExecLauncher{},
		Logger:   a.logger,
	}

	if cb, err := skills.DetectClipboard(runtime.GOOS, exec.LookPath); err == nil {
		deps.Clipboard = cb
	} else {
		a.logger.Debug("clipboard skills unavailable", "error", err)
	}

	if err := skills.RegisterBuiltins(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) historyRecorder(ctx context.Context) (*history.Recorder, error) {
	store, err := history.New(ctx, a.settings, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return history.NewRecorder(store, a.bus, a.logger), nil
}

func (a *app) secrets() (*secure.Store, error) {
	return secure.Open(filepath.Join(a.cfg.DataDir, "secrets"), a.logger)
}
