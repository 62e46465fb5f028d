package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/example/gradlab/internal/gradcheck"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		layerNames []string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run finite-difference gradient checks over the layer suite",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			cases, err := gradcheck.Registry()
			if err != nil {
				return err
			}

			if list {
				names, err := gradcheck.RegistryNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			selected, err := selectCases(cases, layerNames)
			if err != nil {
				return err
			}

			opts := gradcheck.Options{
				Step:    cfg.Check.Step,
				Epsilon: cfg.Check.Epsilon,
				WarnAt:  cfg.Check.WarnAt,
				ErrorAt: cfg.Check.ErrorAt,
				Logger:  slog.Default(),
			}

			rng := rand.New(rand.NewSource(cfg.Check.Seed))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LAYER\tENTRIES\tWARNINGS\tERRORS\tMAX REL ERROR")

			totalErrors := 0

			for _, layer := range selected {
				res, err := gradcheck.Check(layer, rng, opts)
				if err != nil {
					return err
				}

				totalErrors += res.Errors
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3g\n",
					res.Layer, res.Entries, res.Warnings, res.Errors, res.MaxRelError)
			}

			if err := tw.Flush(); err != nil {
				return err
			}

			if totalErrors > 0 {
				return fmt.Errorf("gradient check found %d error-band entries", totalErrors)
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&layerNames, "layers", nil, "Layer names to check (default: all)")
	cmd.Flags().BoolVar(&list, "list", false, "List available layer names and exit")

	return cmd
}

// selectCases resolves the requested layer names against the registry,
// returning all cases in name order when none are requested.
func selectCases(cases map[string]gradcheck.Layer, names []string) ([]gradcheck.Layer, error) {
	if len(names) == 0 {
		keys := make([]string, 0, len(cases))
		for name := range cases {
			keys = append(keys, name)
		}

		sort.Strings(keys)

		out := make([]gradcheck.Layer, 0, len(keys))
		for _, name := range keys {
			out = append(out, cases[name])
		}
		return out, nil
	}

	out := make([]gradcheck.Layer, 0, len(names))
	for _, name := range names {
		layer, ok := cases[strings.TrimSpace(name)]
		if !ok {
			available, _ := gradcheck.RegistryNames()
			return nil, fmt.Errorf("unknown layer %q (available: %s)", name, strings.Join(available, ", "))
		}
		out = append(out, layer)
	}

	return out, nil
}
