// Package main provides the tnsample batch driver. It samples every tensor
// named in a list file and writes the features and projections to one npz
// archive.
package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usageLine = "usage: tnsample <tensor.list> <resolution> <out.npz>"

// errUsage marks argument errors that should print the usage line.
var errUsage = stderrors.New("wrong number of arguments")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if stderrors.Is(err, errUsage) {
			fmt.Fprintln(stderr, usageLine)
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tnsample <tensor.list> <resolution> <out.npz>",
		Short: "Sample sparse 3-D tensors into features and projection images",
		Long: `tnsample reads a list of sparse tensor files, computes a 37-value
structural feature vector and two families of mode projections for each,
and writes them to a single npz archive:

  map_imgs      (batch, 3, res, res)  structural masks
  flatten_imgs  (batch, 3, res, res)  occupancy counts
  features      (batch, 37)           CSF + base features
  indices       (batch)               list line of each row

Tensors that fail to load are skipped and reported unless --strict is set.

Examples:
  tnsample tensors.list 128 out.npz
  tnsample tensors.list 64 out.npz --workers 8 --strict
  tnsample tensors.list 128 out.npz --remote sampler:50061
  tnsample inspect nell-2.tns
  tnsample similar nell-2.tns --limit 5
  tnsample watch ./incoming 128 ./archives`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return errUsage
			}
			return nil
		},
		RunE:          runBatch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	// Batch flags
	rootCmd.Flags().Int("workers", 0, "parallel tensors (default: config or NumCPU)")
	rootCmd.Flags().Duration("timeout", 0, "per-tensor timeout, 0 disables (default: config)")
	rootCmd.Flags().String("on-error", "", "failure policy: skip or abort (default: config)")
	rootCmd.Flags().Bool("strict", false, "abort on the first failing tensor (same as --on-error abort)")
	rootCmd.Flags().String("cache", "", "result cache: none, memory or redis (default: config)")
	rootCmd.Flags().String("bus", "", "event bus: memory or kafka (default: config)")
	rootCmd.Flags().String("event-log", "", "append every bus event to this JSONL file")
	rootCmd.Flags().String("qdrant-collection", "", "export feature vectors to this Qdrant collection")
	rootCmd.Flags().Bool("qdrant-reset", false, "drop the Qdrant collection before exporting")
	rootCmd.Flags().String("metrics-out", "", "write Prometheus text metrics to this file")
	rootCmd.Flags().String("remote", "", "sample on a tnsample-server at this address instead of locally")

	rootCmd.AddCommand(
		inspectCmd(),
		convertCmd(),
		watchCmd(),
		similarCmd(),
		replayCmd(),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig reads the config file named by --config and applies --verbose.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Format)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tnsample %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
