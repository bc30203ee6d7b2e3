// Command coreserver is the process entry point for one fabric node:
// it loads configuration, constructs a CoreRuntime, serves the
// health/metrics surface, and shuts down cleanly on SIGINT/SIGTERM.
// Config loading follows cellorg/cmd/orchestrator's priority hierarchy
// (explicit path argument, then a default file, then hardcoded
// defaults).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenzoki/rfpflow/internal/config"
	"github.com/tenzoki/rfpflow/pkg/runtime"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg, source := loadConfig(log)
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	}
	log.Info().Str("source", source).Str("app", cfg.AppName).Msg("starting coreserver")

	rt, err := runtime.New(*cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct runtime")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("runtime exited")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
	log.Info().Msg("coreserver stopped")
}

func loadConfig(log zerolog.Logger) (*config.Config, string) {
	if len(os.Args) >= 2 {
		cfg, err := config.Load(os.Args[1])
		if err != nil {
			log.Fatal().Err(err).Str("path", os.Args[1]).Msg("failed to load config")
		}
		return cfg, "config file: " + os.Args[1]
	}

	const defaultPath = "config/coreserver.yaml"
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			log.Warn().Err(err).Str("path", defaultPath).Msg("default config file failed to parse, using hardcoded defaults")
			d := config.Defaults()
			return &d, "hardcoded defaults (default config file failed)"
		}
		return cfg, "config file: " + defaultPath
	}

	d := config.Defaults()
	return &d, "hardcoded defaults"
}
