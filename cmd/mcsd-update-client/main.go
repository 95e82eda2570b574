// Command mcsd-update-client runs the mCSD Update Client as a standalone
// long-running process: it loads configuration, wires up every component
// via internal/app, and blocks until signalled to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/app"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/config"
)

// envPrefix matches the teacher's KNPT_ convention, renamed to this
// module's own namespace.
const envPrefix = "MCSD_"

func main() {
	configPath := pflag.String("config", "", "path to a YAML configuration file")
	once := pflag.Bool("once", false, "run a single scheduler tick and exit, instead of polling forever")
	pflag.Parse()

	if err := run(*configPath, *once); err != nil {
		slog.Error("mcsd-update-client exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath, envPrefix)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.StrictMode {
		slog.Warn("Strict mode is disabled. This is NOT recommended for production environments!")
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if once {
		report, err := a.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("run single pass: %w", err)
		}
		slog.Info("Completed single pass", "directories", len(report))
		return a.Stop(context.Background())
	}

	if err := a.Start(); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	slog.Info("mcsd-update-client started, waiting for shutdown signal...")
	<-ctx.Done()

	slog.Info("Shutdown signalled, stopping...")
	if err := a.Stop(context.Background()); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	slog.Info("Goodbye!")
	return nil
}
