package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/archive"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/features"
	"github.com/sptensor/tnsample/internal/tensor"
)

// tensorReport is the inspect output for a tensor file.
type tensorReport struct {
	Path     string                `json:"path"`
	Hash     string                `json:"hash"`
	Shape    tensor.Shape          `json:"shape"`
	NNZ      int                   `json:"nnz"`
	Base     features.BaseFeatures `json:"base"`
	CSF      features.CSFFeatures  `json:"csf"`
	Features [features.Len]float32 `json:"features"`
}

// archiveReport is the inspect output for an npz archive.
type archiveReport struct {
	Path       string `json:"path"`
	Rows       int    `json:"rows"`
	Resolution int    `json:"resolution"`
	Indices    []int  `json:"indices"`
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <tensor|archive.npz>",
		Short: "Print the named features of one tensor, or summarize an archive",
		Long: `Print the base and CSF features of a tensor file as JSON on stdout.

Given an .npz archive written by tnsample, print its row count, resolution
and the list line of every row instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var report any
			if strings.HasSuffix(strings.ToLower(args[0]), ".npz") {
				report, err = inspectArchive(args[0])
			} else {
				engCfg, cerr := engine.ConfigFromSample(cfg.Sample)
				if cerr != nil {
					return cerr
				}
				report, err = inspectTensor(cmd, engine.New(engCfg, nil, newLogger(cfg)), args[0])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func inspectTensor(cmd *cobra.Command, eng *engine.Engine, path string) (*tensorReport, error) {
	t, sum, err := eng.LoadHash(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	base, err := features.Base(t)
	if err != nil {
		return nil, err
	}
	csf, err := features.CSF(t)
	if err != nil {
		return nil, err
	}
	return &tensorReport{
		Path:     path,
		Hash:     sum,
		Shape:    t.Shape,
		NNZ:      t.NNZ(),
		Base:     base,
		CSF:      csf,
		Features: features.Combine(csf, base),
	}, nil
}

func inspectArchive(path string) (*archiveReport, error) {
	a, err := archive.ReadNPZ(path)
	if err != nil {
		return nil, err
	}
	return &archiveReport{
		Path:       path,
		Rows:       a.Len(),
		Resolution: a.Resolution,
		Indices:    a.Indices,
	}, nil
}
