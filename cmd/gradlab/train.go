package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/gradlab/internal/classifier"
	"github.com/example/gradlab/internal/dataset"
	"github.com/example/gradlab/internal/safetensors"
	"github.com/example/gradlab/internal/tensor"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	var (
		dataPath   string
		weightsOut string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the softmax classifier example on a labeled pixel CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			in := dataPath
			if in == "" {
				in = cfg.Paths.DataPath
			}
			out := weightsOut
			if out == "" {
				out = cfg.Paths.WeightsPath
			}
			if strings.TrimSpace(in) == "" {
				return fmt.Errorf("--data is required for train")
			}

			x, labels, err := dataset.LoadFile(in)
			if err != nil {
				return err
			}

			slog.Info("dataset loaded", "path", in, "examples", x.Rows(), "features", x.Cols())

			model, err := classifier.Train(x, labels, classifier.Config{
				Classes:      cfg.Train.Classes,
				Epochs:       cfg.Train.Epochs,
				BatchSize:    cfg.Train.BatchSize,
				LearningRate: cfg.Train.LearningRate,
				L2:           cfg.Train.L2,
				Seed:         cfg.Train.Seed,
			})
			if err != nil {
				return err
			}

			if err := safetensors.WriteFile(out, map[string]*tensor.Tensor{
				"W": model.W,
				"b": model.B,
			}); err != nil {
				return err
			}

			metrics, err := model.Evaluate(x, labels)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trained on %d examples: accuracy %.4f, mean loss %.4f\nweights written to %s\n",
				metrics.Examples, metrics.Accuracy, metrics.MeanLoss, out)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Labeled pixel CSV (overrides --paths-data-path)")
	cmd.Flags().StringVar(&weightsOut, "out", "", "Weights output path (overrides --paths-weights-path)")

	return cmd
}
