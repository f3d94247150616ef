package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/bus"
	"github.com/sptensor/tnsample/internal/pkg/errors"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Republish the events of an event log on the configured bus",
		Long: `Read an event log written with --event-log and publish every event
logged after --since, in log order, on the configured bus. Use it to feed a
Kafka consumer that missed a run.

Examples:
  tnsample replay run.events.jsonl --bus kafka
  tnsample replay run.events.jsonl --since 2026-01-02T15:04:05Z`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}

	cmd.Flags().String("since", "", "only replay events logged after this RFC 3339 time")
	cmd.Flags().String("bus", "", "event bus: memory or kafka (default: config)")

	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundError("event log " + path).WithDetail("path", path)
		}
		return errors.IOError(path, err)
	}

	var since time.Time
	if raw, _ := cmd.Flags().GetString("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("since must be an RFC 3339 time, got %q", raw))
		}
		since = t
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("bus") {
		cfg.Bus.Type, _ = cmd.Flags().GetString("bus")
	}
	// Replayed events must not be appended to the log being read.
	cfg.Bus.EventLogEnabled = false
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(errors.CodeValidation, "invalid options", err)
	}
	log := newLogger(cfg)

	events, err := bus.NewEventLogger(path, true)
	if err != nil {
		return errors.IOError(path, err)
	}
	defer events.Close()

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer b.Close()

	n, err := events.Replay(cmd.Context(), b, since)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, fmt.Sprintf("replay stopped after %d events", n), err)
	}

	log.Info("Replayed event log", "path", path, "events", n, "bus", cfg.Bus.Type)
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events from %s\n", n, path)
	return nil
}
