package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/tensor"
)

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <in.tns> <out.tns>",
		Short: "Re-serialize a tensor file",
		Long: `Load a tensor with the configured index base and duplicate policy and
write it back in canonical form: a header carrying the nonzero count, one
entry per coordinate (duplicates already merged), and exact values.

Use --out-base to rebase indices, e.g. to turn a 1-based FROSTT file into a
0-based one.

Examples:
  tnsample convert raw.tns clean.tns
  tnsample convert nell-2.tns nell-2.zero.tns --out-base 0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			outBase := cfg.Sample.IndexBase
			if cmd.Flags().Changed("out-base") {
				outBase, _ = cmd.Flags().GetInt("out-base")
			}
			if outBase != 0 && outBase != 1 {
				return errors.ValidationError(fmt.Sprintf("out-base must be 0 or 1, got %d", outBase))
			}

			engCfg, err := engine.ConfigFromSample(cfg.Sample)
			if err != nil {
				return err
			}
			t, err := engine.New(engCfg, nil, log).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if err := tensor.Save(args[1], t, outBase); err != nil {
				return errors.Wrap(errors.CodeIO, "cannot write "+args[1], err)
			}

			log.Info("Converted tensor",
				"in", args[0],
				"out", args[1],
				"tensor", describe(t),
				"out_base", outBase,
			)
			return nil
		},
	}

	cmd.Flags().Int("out-base", 1, "index base of the written file, 0 or 1 (default: config index_base)")

	return cmd
}

func describe(t *tensor.Sparse3D) string {
	return fmt.Sprintf("%dx%dx%d, %d nonzeros", t.Shape[0], t.Shape[1], t.Shape[2], t.NNZ())
}
