// Package main provides the tnsample gRPC server binary. It exposes the
// sampler over gRPC for tensor files kept under one data root.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/cache"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/grpcserver"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tnsample-server",
		Short: "tnsample gRPC server - remote tensor sampling",
		Long: `tnsample-server exposes the sampler over gRPC. Clients name tensor files
relative to the data root; paths that escape it are rejected.

Examples:
  tnsample-server                                # Start with defaults
  tnsample-server --addr :50061 --data-root /srv/tensors
  tnsample-server --cache redis --rate-limit 50`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().String("addr", "", "gRPC listen address (overrides config)")
	rootCmd.Flags().String("data-root", "", "directory request paths resolve under (overrides config)")
	rootCmd.Flags().Int("rate-limit", 0, "requests per second per peer, 0 disables (overrides config)")
	rootCmd.Flags().String("cache", "", "result cache: none, memory or redis (overrides config)")
	rootCmd.Flags().String("metrics-out", "", "write Prometheus text metrics to this file on shutdown")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tnsample-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	flags := cmd.Flags()
	if verbose {
		appCfg.Log.Level = "debug"
	}
	if flags.Changed("addr") {
		appCfg.GRPC.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("data-root") {
		appCfg.GRPC.DataRoot, _ = flags.GetString("data-root")
	}
	if flags.Changed("rate-limit") {
		appCfg.GRPC.RateLimit, _ = flags.GetInt("rate-limit")
	}
	if flags.Changed("cache") {
		appCfg.Cache.Type, _ = flags.GetString("cache")
	}
	if flags.Changed("metrics-out") {
		appCfg.Metrics.OutPath, _ = flags.GetString("metrics-out")
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	log := logger.New(appCfg.Log.Level, appCfg.Log.Format)
	log.Info("Starting tnsample server",
		"version", version,
		"addr", appCfg.GRPC.Addr,
		"data_root", appCfg.GRPC.DataRoot,
		"cache", appCfg.Cache.Type,
	)

	if fi, err := os.Stat(appCfg.GRPC.DataRoot); err != nil || !fi.IsDir() {
		return fmt.Errorf("data root %s is not a directory", appCfg.GRPC.DataRoot)
	}

	m := metrics.New()

	resultCache, err := cache.New(appCfg.Cache, m)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer resultCache.Close()

	engCfg, err := engine.ConfigFromSample(appCfg.Sample)
	if err != nil {
		return err
	}
	eng := engine.New(engCfg, resultCache, log)

	grpcSrv := grpcserver.New(grpcserver.ConfigFrom(appCfg.GRPC), eng, m, log)
	if err := grpcSrv.Start(); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutdown signal received")

	grpcSrv.Stop()

	if appCfg.Metrics.OutPath != "" {
		if err := m.WriteFile(appCfg.Metrics.OutPath); err != nil {
			log.Warn("Failed to write metrics", "path", appCfg.Metrics.OutPath, "error", err)
		}
	}

	s := m.Summary()
	log.Info("Server stopped",
		"uptime", m.Uptime().Round(time.Second),
		"sampled", s.Sampled,
		"failed", s.Failed,
		"cache_hits", s.CacheHits,
	)
	return nil
}
