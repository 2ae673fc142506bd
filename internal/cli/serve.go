// Package cli implements the cobra command surface: a single `serve`
// subcommand that wires config, the observation store, the orchestrator,
// and the HTTP server together and runs until interrupted.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kingoliang/anthropic-proxy/internal/config"
	"github.com/kingoliang/anthropic-proxy/internal/observability"
	"github.com/kingoliang/anthropic-proxy/internal/proxy"
	"github.com/kingoliang/anthropic-proxy/internal/server"
)

// ServeCommand builds the `serve` subcommand.
func ServeCommand() *cobra.Command {
	var configPath string
	var bindOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Anthropic-to-OpenAI reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, bindOverride)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to the JSON config file")
	cmd.Flags().StringVar(&bindOverride, "bind", "", "override the configured bind address")

	return cmd
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/anthropic-proxy/config.json"
	}
	return "anthropic-proxy.config.json"
}

func runServe(configPath, bindOverride string) error {
	configureLogging()

	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	watcher, err := config.NewWatcher(cfgMgr)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	watcher.OnChange(func(c config.Config) {
		logrus.WithField("mode", c.Mode).Info("cli: configuration reloaded")
	})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Stop()

	cfg := cfgMgr.Get()

	env := config.LoadEnvOverrides()
	cfg = env.Apply(cfg)

	store := observability.NewStore(cfg.Store.Capacity)
	orch := proxy.NewOrchestrator(cfgMgr, store)
	srv := server.New(cfgMgr, store, orch)

	bind := cfg.BindAddress
	if bindOverride != "" {
		bind = bindOverride
	}

	httpServer := &http.Server{
		Addr:    bind,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", bind).Info("cli: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logrus.Info("cli: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// configureLogging sets the log level from LOG_LEVEL and, when LOG_FILE is
// set, tees output to a size-rotated file alongside stderr.
func configureLogging() {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path := os.Getenv("LOG_FILE"); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}
}
