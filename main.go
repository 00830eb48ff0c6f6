package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mapi-to-maildir/backend"
	"github.com/dhcgn/mapi-to-maildir/cmd"
	"github.com/dhcgn/mapi-to-maildir/config"
	"github.com/dhcgn/mapi-to-maildir/progress"
	"github.com/dhcgn/mapi-to-maildir/runner"
	"github.com/dhcgn/mapi-to-maildir/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "mapi-to-maildir",
		Short:        "Export a MAPI message store into Maildir++ mailboxes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mapi-to-maildir", "sourceType", cfg.SourceType, "source", cfg.Source, "out", cfg.OutDir, "dryRun", cfg.DryRun)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewStoreStatsCommand())
	rootCmd.AddCommand(cmd.NewConvertStoreCommand())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.SourceType, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing store failed", "err", err)
		}
	}()

	r, err := runner.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	var bar *progress.Bar
	if cfg.Progress {
		total, err := r.Count(ctx)
		if err != nil {
			logger.Warn("counting messages failed, progress bar disabled", "err", err)
		}
		bar = progress.New(total, err == nil, cfg.LogLevel)
		progress.NewProgressReporter(r, bar, logger)
	}
	stats.NewReporter(r, logger)

	err = r.Start()
	if bar != nil {
		bar.Stop()
	}
	return err
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mapi-to-maildir-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
