package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/gradlab/internal/recommender"
	"github.com/example/gradlab/internal/safetensors"
	"github.com/example/gradlab/internal/tensor"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

// factorTensorName is the tensor each factor safetensors file must contain.
const factorTensorName = "factors"

func newRecommendCmd() *cobra.Command {
	var (
		userPath string
		itemPath string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Reconstruct predicted ratings from two factor matrices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			uPath := userPath
			if uPath == "" {
				uPath = cfg.Paths.UserFactorsPath
			}
			vPath := itemPath
			if vPath == "" {
				vPath = cfg.Paths.ItemFactorsPath
			}

			format := strings.ToLower(cfg.Recommend.Format)
			if format != "csv" && format != "json" {
				return fmt.Errorf("--recommend-format must be 'csv' or 'json', got %q", cfg.Recommend.Format)
			}

			u, err := loadFactors("U", uPath)
			if err != nil {
				return err
			}

			v, err := loadFactors("V", vPath)
			if err != nil {
				return err
			}

			scores, err := recommender.Score(u, v)
			if err != nil {
				return err
			}

			if cfg.Recommend.TopK > 0 {
				ranked, err := recommender.TopK(scores, cfg.Recommend.TopK)
				if err != nil {
					return err
				}

				return writeTopK(cmd, ranked, format)
			}

			return writeScores(cmd, scores, format)
		},
	}

	cmd.Flags().StringVar(&userPath, "user-factors", "", "User factor safetensors (overrides --paths-user-factors-path)")
	cmd.Flags().StringVar(&itemPath, "item-factors", "", "Item factor safetensors (overrides --paths-item-factors-path)")

	return cmd
}

// loadFactors reads one factor matrix and converts it to gonum form.
func loadFactors(name, path string) (recommender.Factors, error) {
	tensors, err := safetensors.ReadFile(path)
	if err != nil {
		return recommender.Factors{}, err
	}

	t, err := safetensors.Matrix(tensors, factorTensorName)
	if err != nil {
		return recommender.Factors{}, fmt.Errorf("%s: %w", path, err)
	}

	return recommender.Factors{Name: name, M: toDense(t)}, nil
}

func toDense(t *tensor.Tensor) *mat.Dense {
	return mat.NewDense(t.Rows(), t.Cols(), t.Data())
}

func writeScores(cmd *cobra.Command, scores *mat.Dense, format string) error {
	users, items := scores.Dims()

	if format == "json" {
		rows := make([][]float64, users)
		for u := 0; u < users; u++ {
			row := make([]float64, items)
			mat.Row(row, u, scores)
			rows[u] = row
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(rows)
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	record := make([]string, items)

	for u := 0; u < users; u++ {
		for i := 0; i < items; i++ {
			record[i] = strconv.FormatFloat(scores.At(u, i), 'g', -1, 64)
		}

		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func writeTopK(cmd *cobra.Command, ranked [][]recommender.Ranked, format string) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(ranked)
	}

	w := csv.NewWriter(cmd.OutOrStdout())

	for u, items := range ranked {
		for _, r := range items {
			record := []string{
				strconv.Itoa(u),
				strconv.Itoa(r.Item),
				strconv.FormatFloat(r.Score, 'g', -1, 64),
			}

			if err := w.Write(record); err != nil {
				return err
			}
		}
	}

	w.Flush()

	return w.Error()
}
