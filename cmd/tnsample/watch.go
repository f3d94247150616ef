package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/archive"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/sample"
	"github.com/sptensor/tnsample/internal/watch"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir> <resolution> <out-dir>",
		Short: "Sample tensor files as they arrive in a directory",
		Long: `Watch a directory tree and sample every .tns file that is created or
rewritten. Events are debounced into batches; each batch is written to
<out-dir>/batch-<time>-<run>.npz with the usual layout, where indices
count rows within that batch.

Paths matching .gitignore or .tnsignore in the watched directory are
skipped, as are partial downloads (*.tmp, *.part).

Examples:
  tnsample watch ./incoming 128 ./archives
  tnsample watch ./incoming 64 ./archives --detach
  tnsample watch status
  tnsample watch stop --all`,
		Args:          cobra.ExactArgs(3),
		RunE:          runWatch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolP("detach", "d", false, "run the watcher in the background")
	cmd.Flags().Duration("delay", 500*time.Millisecond, "quiet period before a batch is sampled")
	cmd.Flags().Bool("no-initial-sync", false, "only sample files that change after startup")
	cmd.Flags().Int("workers", 0, "parallel tensors (default: config or NumCPU)")
	cmd.Flags().Duration("timeout", 0, "per-tensor timeout, 0 disables (default: config)")
	cmd.Flags().String("cache", "", "result cache: none, memory or redis (default: config)")
	cmd.Flags().String("bus", "", "event bus: memory or kafka (default: config)")
	cmd.Flags().String("qdrant-collection", "", "export feature vectors to this Qdrant collection")
	cmd.Flags().Bool("qdrant-reset", false, "drop the Qdrant collection before exporting")
	cmd.Flags().String("remote", "", "sample on a tnsample-server at this address instead of locally")

	cmd.AddCommand(watchStatusCmd(), watchStopCmd())
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir, outDir := args[0], args[2]

	resolution, err := strconv.Atoi(args[1])
	if err != nil || resolution < 1 {
		return errors.ValidationError(fmt.Sprintf("resolution must be a positive integer, got %q", args[1]))
	}

	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		return detachWatcher(cmd, os.Args[1:])
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Sample.Resolution = resolution
	if err := applyBatchFlags(cmd, cfg); err != nil {
		return err
	}
	remote, _ := cmd.Flags().GetString("remote")
	delay, _ := cmd.Flags().GetDuration("delay")
	noInitial, _ := cmd.Flags().GetBool("no-initial-sync")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.IOError(outDir, err)
	}

	log := newLogger(cfg)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, _, cleanup, err := newDriver(ctx, cfg, remote, m, log)
	if err != nil {
		return err
	}
	defer cleanup()

	absDir, _ := filepath.Abs(dir)
	absOut, _ := filepath.Abs(outDir)
	state := &watch.WatcherState{
		PID:        os.Getpid(),
		Path:       absDir,
		Resolution: resolution,
		OutDir:     absOut,
		StartedAt:  time.Now(),
	}

	w, err := watch.NewWatcher(watch.Config{
		Path:        dir,
		Resolution:  resolution,
		BatchDelay:  delay,
		InitialSync: !noInitial,
	}, driver, archiveHandler(outDir, state, log), log)
	if err != nil {
		return err
	}

	if err := watch.SaveState(state); err != nil {
		log.WithError(err).Warn("Failed to save watcher state")
	}
	defer watch.RemoveState(state.PID)

	log.Info("tnsample watching",
		"version", version,
		"dir", absDir,
		"resolution", resolution,
		"out_dir", absOut,
		"remote", remote,
	)

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	tensors, batches, _ := w.Stats()
	log.Info("Watcher stopped", "tensors", tensors, "batches", batches)
	return nil
}

// archiveHandler writes every non-empty batch to outDir and records the
// progress in state.
func archiveHandler(outDir string, state *watch.WatcherState, log *logger.Logger) watch.BatchHandler {
	var mu sync.Mutex
	return func(_ context.Context, b *sample.Batch) error {
		mu.Lock()
		defer mu.Unlock()

		for _, f := range b.Failures {
			log.Warn("Skipped tensor", "path", f.Path, "code", f.Code, "reason", f.Message)
		}

		if b.Len() > 0 {
			path := filepath.Join(outDir, archiveName(time.Now(), b.RunID))
			if err := archive.WriteNPZ(path, b); err != nil {
				return err
			}
			state.LastArchive = path
			log.Info("Wrote archive", "path", path, "rows", b.Len(), "skipped", len(b.Failures))
		}

		state.TensorCount += b.Len()
		state.Batches++
		state.LastSync = time.Now()
		if err := watch.SaveState(state); err != nil {
			log.WithError(err).Warn("Failed to save watcher state")
		}
		return nil
	}
}

func archiveName(t time.Time, runID string) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("batch-%s-%s.npz", t.UTC().Format("20060102T150405"), runID)
}

// detachWatcher re-runs the current command line without --detach in a
// background process.
func detachWatcher(cmd *cobra.Command, argv []string) error {
	args := make([]string, 0, len(argv))
	for _, a := range argv {
		if a == "--detach" || a == "-d" || a == "--detach=true" {
			continue
		}
		args = append(args, a)
	}

	pid, err := watch.StartDaemon(args)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "cannot start watcher", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watcher started (pid %d)\n", pid)
	fmt.Fprintf(out, "  log: %s\n", filepath.Join(watch.StateDir(), watch.StartupLogName))
	return nil
}

func watchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List running watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := watch.ListStates()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if states == nil {
					states = []*watch.WatcherState{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(states)
			}

			if len(states) == 0 {
				fmt.Fprintln(out, "No watchers running")
				return nil
			}
			for _, s := range states {
				fmt.Fprintf(out, "%d  %s  res=%d  tensors=%d  batches=%d  out=%s\n",
					s.PID, s.Path, s.Resolution, s.TensorCount, s.Batches, s.OutDir)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func watchStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop [pid]",
		Short: "Stop a running watcher",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if all, _ := cmd.Flags().GetBool("all"); all {
				n, err := watch.StopAllDaemons()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Stopped %d watcher(s)\n", n)
				return nil
			}

			if len(args) != 1 {
				return errors.ValidationError("pass a pid or --all")
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid < 1 {
				return errors.ValidationError(fmt.Sprintf("invalid pid %q", args[0]))
			}
			if _, err := watch.LoadState(pid); err != nil {
				return err
			}
			if err := watch.StopDaemon(pid); err != nil {
				return errors.Wrap(errors.CodeInternal, fmt.Sprintf("cannot stop watcher %d", pid), err)
			}
			fmt.Fprintf(out, "Stopped watcher %d\n", pid)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "stop every running watcher")
	return cmd
}
