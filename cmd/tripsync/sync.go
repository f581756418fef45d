package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vonshlovens/tripsync/internal/db"
	"github.com/vonshlovens/tripsync/internal/sync"
	"github.com/vonshlovens/tripsync/internal/watcher"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long:  `Pushes local changes to the diary service and applies what changed remotely since the last sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireLogin(); err != nil {
				return err
			}

			report, err := a.engine().RunWithRetry(ctx)
			if report != nil {
				fmt.Println(report.Summary())
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, describeError(err))
				return err
			}
			return nil
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep syncing in the background",
		Long:  `Syncs on a fixed interval and whenever another process writes to the local store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Log.File != "" {
				logFile := &lumberjack.Logger{
					Filename:   a.cfg.Log.File,
					MaxSize:    a.cfg.Log.MaxSizeMB,
					MaxBackups: a.cfg.Log.MaxBackups,
					MaxAge:     a.cfg.Log.MaxAgeDays,
				}
				defer logFile.Close()
				setupLogging(io.MultiWriter(os.Stderr, logFile))
			}

			if err := a.requireLogin(); err != nil {
				return err
			}

			engine := a.engine()

			slog.Info("starting tripsync daemon",
				"remote", a.cfg.Remote.BaseURL,
				"store", a.store.Driver(),
				"interval", a.cfg.Sync.Interval())

			// Handle shutdown signals
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			runCycle(ctx, engine, "startup")

			var batches <-chan watcher.Batch
			if a.store.Driver() == db.DriverSQLite {
				w, err := watcher.NewWatcher(
					filepath.Dir(a.cfg.SQLitePath()),
					time.Duration(a.cfg.Sync.DebounceMs)*time.Millisecond,
					a.cfg.WatchPatterns,
					a.cfg.IgnorePatterns,
				)
				if err != nil {
					return fmt.Errorf("failed to create watcher: %w", err)
				}
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer w.Stop()
				batches = w.Batches()
			}

			var tick <-chan time.Time
			if interval := a.cfg.Sync.Interval(); interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down")
					return nil

				case <-tick:
					runCycle(ctx, engine, "interval")

				case batch, ok := <-batches:
					if !ok {
						batches = nil
						continue
					}
					changed, err := engine.HasLocalChanges(ctx)
					if err != nil {
						slog.Error("failed to check local changes", "error", err)
						continue
					}
					// our own reconciliation writes also touch the store
					if !changed {
						slog.Debug("store change without local edits", "paths", batch.Paths())
						continue
					}
					runCycle(ctx, engine, "local change")
				}
			}
		},
	}
}

// runCycle runs a sync and logs the outcome; the daemon keeps going on
// failure and tries again on the next trigger
func runCycle(ctx context.Context, engine *sync.Engine, trigger string) {
	report, err := engine.RunWithRetry(ctx)
	switch {
	case errors.Is(err, sync.ErrBusy):
		slog.Debug("sync already running", "trigger", trigger)
	case err != nil:
		slog.Error("sync failed", "trigger", trigger, "error", err)
	default:
		slog.Info("sync complete", "trigger", trigger, "summary", report.Summary())
	}
}
