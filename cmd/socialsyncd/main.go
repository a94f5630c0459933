// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// socialsyncd is the resource sync server: it stores one JSON document per
// resource, tracks which resources changed for which client, and serves the
// media blob endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/KingAli2wq/socialsync/syncserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "socialsyncd",
		Short:         "Resource sync server for socialsync clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "listen address")
	flags.String("server-token", "", "shared bearer token; empty disables auth (open deployment)")
	flags.String("data-dir", "./data", "directory for resource JSON files")
	flags.String("media-dir", "", "media root (default <data-dir>/media)")
	flags.Duration("client-ttl", syncserver.DefaultClientTTL, "evict per-client sync state idle longer than this")
	flags.String("log-file", "", "rotate logs to this file instead of stderr")
	flags.String("log-level", "info", "debug, info, warn or error")

	// Flags double as env vars: --server-token becomes SOCIAL_SERVER_TOKEN.
	v.SetEnvPrefix("SOCIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return cmd
}

func runServe(v *viper.Viper) error {
	logger := newLogger(v.GetString("log-file"), v.GetString("log-level"))
	slog.SetDefault(logger)

	dataDir := v.GetString("data-dir")
	mediaDir := v.GetString("media-dir")
	if mediaDir == "" {
		mediaDir = filepath.Join(dataDir, "media")
	}

	storage, err := syncserver.NewFileStorage(dataDir)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	service, err := syncserver.NewSyncService(storage, &syncserver.ServiceConfig{
		ClientTTL: v.GetDuration("client-ttl"),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to init sync service: %w", err)
	}
	media, err := syncserver.NewMediaStore(mediaDir)
	if err != nil {
		return fmt.Errorf("failed to init media store: %w", err)
	}

	token := v.GetString("server-token")
	if token == "" {
		logger.Warn("no server token configured, running in open deployment mode")
	}
	handlers := syncserver.NewHTTPSyncHandlers(service, media, token, logger)

	httpServer := &http.Server{
		Addr:         v.GetString("listen"),
		Handler:      handlers.Mux(),
		ReadTimeout:  120 * time.Second, // media stream uploads can be slow
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync server listening", "addr", httpServer.Addr, "data_dir", dataDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newLogger(logFile, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}
