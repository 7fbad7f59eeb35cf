package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nugget/jarvis-core/internal/buildinfo"
	"github.com/nugget/jarvis-core/internal/mqtt"
	"github.com/nugget/jarvis-core/internal/web"
)

// defaultPort is used when listen.port is unset.
const defaultPort = 8765

// runServe runs the status server, the acquisition ledger and, when a
// broker is configured, the MQTT forwarder, until interrupted.
func runServe(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}
	a.logger.Info("starting Jarvis", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", a.cfgPath)

	var wg sync.WaitGroup
	defer wg.Wait()

	l, err := a.openLedger()
	if err != nil {
		return fmt.Errorf("open acquisition ledger: %w", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(ctx)
	wait := l.Start(ctx, a.bus, a.logger)
	defer wait()
	// Runs first on return so the ledger and forwarder also stop when
	// the listener fails.
	defer cancel()

	reg, err := a.skillRegistry()
	if err != nil {
		return err
	}

	if a.cfg.MQTT.Configured() {
		id, err := mqtt.ClientID(a.cfg.MQTT, a.cfg.DataDir)
		if err != nil {
			return err
		}
		fwd := mqtt.New(a.cfg.MQTT, id, a.bus, a.mqttCommand, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fwd.Run(ctx); err != nil {
				a.logger.Error("mqtt forwarder stopped", "error", err)
			}
		}()
	}

	// Report the model once at startup so that subscribers see a state.
	a.resolver.Status(a.settings, a.env)

	port := a.cfg.Listen.Port
	if port == 0 {
		port = defaultPort
	}
	srv := web.NewServer(web.Config{
		Address:  a.cfg.Listen.Address,
		Port:     port,
		Model:    a.resolver,
		Settings: a.reloadSettings,
		Env:      a.env,
		Skills:   reg,
		Ledger:   l,
		Bus:      a.bus,
		Logger:   a.logger,
	})
	fmt.Fprintf(stdout, "Jarvis listening on http://%s:%d\n", listenHost(a.cfg.Listen.Address), port)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Info("shut down")
	return nil
}

// mqttCommand handles commands received from the broker.
func (a *app) mqttCommand(ctx context.Context, name string, _ []byte) {
	switch name {
	case "model_fetch":
		art := a.resolver.GetOrAcquire(ctx, a.reloadSettings(), a.env)
		a.logger.Info("mqtt model_fetch finished", "status", art.Status.String(), "path", art.Path)
	case "model_status":
		a.resolver.Status(a.reloadSettings(), a.env)
	default:
		a.logger.Warn("unknown mqtt command", "command", name)
	}
}

func listenHost(addr string) string {
	if addr == "" {
		return "127.0.0.1"
	}
	return addr
}
