package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/archive"
	"github.com/sptensor/tnsample/internal/bus"
	"github.com/sptensor/tnsample/internal/cache"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/grpcclient"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/pkg/security"
	"github.com/sptensor/tnsample/internal/qdrant"
	"github.com/sptensor/tnsample/internal/sample"
)

func runBatch(cmd *cobra.Command, args []string) error {
	listPath, outPath := args[0], args[2]

	resolution, err := strconv.Atoi(args[1])
	if err != nil || resolution < 1 {
		return errors.ValidationError(fmt.Sprintf("resolution must be a positive integer, got %q", args[1]))
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

	log := newLogger(cfg)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, opts, cleanup, err := newDriver(ctx, cfg, remote, m, log)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info("tnsample starting",
		"version", version,
		"list", listPath,
		"resolution", resolution,
		"workers", opts.Workers,
		"on_error", string(opts.OnError),
		"remote", remote,
	)

	batch, err := driver.Run(ctx, sample.Request{ListPath: listPath, Resolution: resolution})
	if err != nil {
		return err
	}

	if err := archive.WriteNPZ(outPath, batch); err != nil {
		return err
	}

	for _, f := range batch.Failures {
		log.Warn("Skipped tensor", "index", f.Index, "path", f.Path, "code", f.Code, "reason", f.Message)
	}
	log.Info("Wrote archive",
		"path", outPath,
		"rows", batch.Len(),
		"skipped", len(batch.Failures),
		"total", batch.Total,
		"duration_ms", batch.Duration.Milliseconds(),
	)

	if cfg.Metrics.OutPath != "" {
		if err := m.WriteFile(cfg.Metrics.OutPath); err != nil {
			log.WithError(err).Warn("Failed to write metrics", "path", cfg.Metrics.OutPath)
		}
	}
	return nil
}

// newDriver wires a sampler, the event bus and the optional Qdrant export
// into a driver. cleanup releases them in reverse order.
func newDriver(ctx context.Context, cfg *config.Config, remote string, m *metrics.Metrics, log *logger.Logger) (*sample.Driver, sample.Options, func(), error) {
	opts, err := sample.OptionsFromConfig(cfg.Sample)
	if err != nil {
		return nil, opts, nil, err
	}

	sampler, closeSampler, err := newSampler(ctx, cfg, remote, m, log)
	if err != nil {
		return nil, opts, nil, err
	}
	closers := []func(){closeSampler}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		cleanup()
		return nil, opts, nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	closers = append(closers, func() { _ = b.Close() })

	driver := sample.NewDriver(sampler, opts, log)
	driver.SetBus(bus.NewInstrumentedBus(b, m))
	driver.SetMetrics(m)

	if cfg.Qdrant.Enabled {
		store, err := qdrant.Open(ctx, cfg.Qdrant)
		if err != nil {
			log.WithError(err).Warn("Qdrant unavailable, feature export disabled", "url", cfg.Qdrant.URL)
		} else {
			closers = append(closers, func() { _ = store.Close() })
			driver.SetFeatureSink(store)
		}
	}

	return driver, opts, cleanup, nil
}

// applyBatchFlags overrides config values with the flags that were set and
// validates the result against the config and sample.max_resolution.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Sample.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("timeout") {
		cfg.Sample.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("on-error") {
		cfg.Sample.OnError, _ = flags.GetString("on-error")
	}
	if strict, _ := flags.GetBool("strict"); strict {
		cfg.Sample.OnError = string(sample.OnErrorAbort)
	}
	if flags.Changed("cache") {
		cfg.Cache.Type, _ = flags.GetString("cache")
	}
	if flags.Changed("bus") {
		cfg.Bus.Type, _ = flags.GetString("bus")
	}
	if flags.Changed("event-log") {
		cfg.Bus.EventLogPath, _ = flags.GetString("event-log")
		cfg.Bus.EventLogEnabled = cfg.Bus.EventLogPath != ""
	}
	if flags.Changed("qdrant-collection") {
		cfg.Qdrant.Collection, _ = flags.GetString("qdrant-collection")
		cfg.Qdrant.Enabled = cfg.Qdrant.Collection != ""
	}
	if reset, _ := flags.GetBool("qdrant-reset"); reset {
		cfg.Qdrant.Recreate = true
	}
	if flags.Changed("metrics-out") {
		cfg.Metrics.OutPath, _ = flags.GetString("metrics-out")
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(errors.CodeValidation, "invalid options", err)
	}
	return security.ValidateResolution(cfg.Sample.Resolution, cfg.Sample.MaxResolution)
}

// newSampler returns the local engine, or a gRPC client when remote is set.
// A remote server is pinged first so a bad address fails the run up front
// instead of failing every tensor.
func newSampler(ctx context.Context, cfg *config.Config, remote string, m *metrics.Metrics, log *logger.Logger) (engine.Sampler, func(), error) {
	if remote != "" {
		client, err := grpcclient.New(grpcclient.Config{
			ServerAddress: remote,
			Timeout:       cfg.Sample.Timeout,
		})
		if err != nil {
			return nil, nil, errors.Wrap(errors.CodeUnavailable, "cannot reach sampler server", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		serverTime, err := client.Ping(pingCtx)
		if err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(errors.CodeUnavailable, "sampler server did not answer", err)
		}
		log.Debug("Connected to sampler server", "addr", remote, "server_time", serverTime)
		return client, func() { _ = client.Close() }, nil
	}

	c, err := cache.New(cfg.Cache, m)
	if err != nil {
		return nil, nil, err
	}
	engCfg, err := engine.ConfigFromSample(cfg.Sample)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return engine.New(engCfg, c, log), func() { _ = c.Close() }, nil
}
