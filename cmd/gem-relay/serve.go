package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/gem-relay/internal/di"
	"github.com/omarluq/gem-relay/internal/proxy"
	relayro "github.com/omarluq/gem-relay/internal/ro"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gem-relay proxy server",
	Long: `Start the proxy server that accepts Gemini API requests and spreads them
across the configured key pool.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	container, err := di.NewContainer(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to create container")
		return err
	}

	// Resolve the logger early so the rest of startup logs through the
	// configured sink.
	logSvc, err := di.Invoke[*di.LoggerService](container)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize")
		return err
	}
	log.Logger = *logSvc.Logger
	zerolog.DefaultContextLogger = logSvc.Logger
	if debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Resolving the server pulls in the whole service graph.
	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to build server")
		return err
	}

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	poolSvc := di.MustInvoke[*di.KeyPoolService](container)
	schedSvc := di.MustInvoke[*di.SchedulerService](container)

	// Config hot-reload runs for the life of the server.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	cfgSvc.StartWatching(watchCtx)

	// Warm the pool in the background; checkout falls back to registry
	// rotation until verified keys land.
	if poolSvc.Pool != nil {
		go poolSvc.Pool.Preload(watchCtx)
	}
	schedSvc.Start()

	return runWithGracefulShutdown(serverSvc.Server, container, cfgSvc.Get().Server.Listen, watchCancel)
}

// runWithGracefulShutdown runs the server until it fails or a shutdown
// signal arrives, then tears the container down in reverse dependency
// order.
func runWithGracefulShutdown(server *proxy.Server, container *di.Container, listen string, watchCancel context.CancelFunc) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	log.Info().Str("listen", listen).Msg("starting gem-relay")

	sigCh := make(chan os.Signal, 1)
	sigCtx, sigCancel := context.WithCancel(context.Background())
	defer sigCancel()
	go func() {
		if sig, err := relayro.WaitForShutdown(sigCtx); err == nil {
			sigCh <- sig
		}
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			return err
		}
	case sig := <-sigCh:
		log.Info().Str("signal", fmt.Sprint(sig)).Msg("shutting down...")
	}

	if watchCancel != nil {
		watchCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	if err := container.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		return err
	}

	// The server shut down as part of container teardown; drain its
	// ListenAndServe result.
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}

	log.Info().Msg("server stopped")

	return nil
}

// findConfigFile searches for config.yaml in the default locations.
func findConfigFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigFile
	}
	return findConfigIn(cwd)
}

// findConfigIn checks dir, then the user config directory.
func findConfigIn(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(dir, home)
}

// findConfigInWithHome is findConfigIn with an explicit home directory,
// split out for tests.
func findConfigInWithHome(dir, home string) string {
	p := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if home != "" {
		p := filepath.Join(home, ".config", configDirName, defaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return defaultConfigFile
}
