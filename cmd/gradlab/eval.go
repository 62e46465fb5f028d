package main

import (
	"fmt"
	"strings"

	"github.com/example/gradlab/internal/classifier"
	"github.com/example/gradlab/internal/dataset"
	"github.com/example/gradlab/internal/safetensors"
	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	var (
		dataPath    string
		weightsPath string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate saved classifier weights on a labeled pixel CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			in := dataPath
			if in == "" {
				in = cfg.Paths.DataPath
			}
			weights := weightsPath
			if weights == "" {
				weights = cfg.Paths.WeightsPath
			}
			if strings.TrimSpace(in) == "" || strings.TrimSpace(weights) == "" {
				return fmt.Errorf("eval needs both a dataset and a weights file")
			}

			x, labels, err := dataset.LoadFile(in)
			if err != nil {
				return err
			}

			tensors, err := safetensors.ReadFile(weights)
			if err != nil {
				return err
			}

			w, err := safetensors.Matrix(tensors, "W")
			if err != nil {
				return err
			}

			b, err := safetensors.Matrix(tensors, "b")
			if err != nil {
				return err
			}

			if w.Rows() != x.Cols() {
				return fmt.Errorf("weights expect %d features, dataset has %d", w.Rows(), x.Cols())
			}

			model := &classifier.Model{W: w, B: b}

			metrics, err := model.Evaluate(x, labels)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d examples: %d correct, accuracy %.4f, mean loss %.4f\n",
				metrics.Examples, metrics.Correct, metrics.Accuracy, metrics.MeanLoss)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Labeled pixel CSV (overrides --paths-data-path)")
	cmd.Flags().StringVar(&weightsPath, "weights", "", "Weights path (overrides --paths-weights-path)")

	return cmd
}
