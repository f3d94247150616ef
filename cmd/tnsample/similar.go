package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/qdrant"
)

// similarReport is the similar output.
type similarReport struct {
	Query      string       `json:"query"`
	Hash       string       `json:"hash"`
	Collection string       `json:"collection"`
	Status     string       `json:"status"`
	Points     uint64       `json:"points"`
	Matches    []similarHit `json:"matches"`
}

type similarHit struct {
	Score float32 `json:"score"`
	Path  string  `json:"path"`
	Hash  string  `json:"hash"`
	Shape [3]int  `json:"shape"`
	NNZ   int     `json:"nnz"`
	RunID string  `json:"run_id"`
}

func similarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <tensor>",
		Short: "Find exported tensors with the closest feature vectors",
		Long: `Compute the 37-value feature vector of one tensor and search the Qdrant
collection that batch runs export to (--qdrant-collection) for the nearest
stored vectors by cosine similarity.

The tensor itself is among the matches if an earlier run exported it.

Examples:
  tnsample similar nell-2.tns
  tnsample similar nell-2.tns --limit 3 --qdrant-collection frostt`,
		Args: cobra.ExactArgs(1),
		RunE: runSimilar,
	}

	cmd.Flags().Uint64("limit", 10, "number of matches to return")
	cmd.Flags().String("qdrant-collection", "", "collection to search (default: config)")

	return cmd
}

func runSimilar(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetUint64("limit")
	if limit == 0 {
		return errors.ValidationError("limit must be positive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("qdrant-collection") {
		cfg.Qdrant.Collection, _ = cmd.Flags().GetString("qdrant-collection")
	}
	if cfg.Qdrant.Collection == "" {
		return errors.ValidationError("no qdrant collection configured")
	}
	// Never drop the collection being searched.
	cfg.Qdrant.Recreate = false
	log := newLogger(cfg)

	engCfg, err := engine.ConfigFromSample(cfg.Sample)
	if err != nil {
		return err
	}
	query, err := inspectTensor(cmd, engine.New(engCfg, nil, log), args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := qdrant.Open(ctx, cfg.Qdrant)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "qdrant unavailable at "+cfg.Qdrant.URL, err)
	}
	defer store.Close()

	info, err := store.Info(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "cannot describe collection "+store.Collection(), err)
	}
	points, err := store.Count(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "cannot count collection "+store.Collection(), err)
	}
	matches, err := store.Similar(ctx, query.Features[:], limit)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "similarity search failed", err)
	}

	log.Debug("Similarity search",
		"tensor", args[0],
		"collection", store.Collection(),
		"points", points,
		"matches", len(matches),
	)

	report := similarReport{
		Query:      args[0],
		Hash:       query.Hash,
		Collection: info.Name,
		Status:     info.Status,
		Points:     points,
		Matches:    make([]similarHit, 0, len(matches)),
	}
	for _, m := range matches {
		report.Matches = append(report.Matches, similarHit{
			Score: m.Score,
			Path:  m.Payload.Path,
			Hash:  m.Payload.Hash,
			Shape: m.Payload.Shape,
			NNZ:   m.Payload.NNZ,
			RunID: m.Payload.RunID,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
