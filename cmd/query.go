package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/davidTeng2025/water-info-crawler/internal/query"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

var (
	queryPlace  string
	queryTop    int
	queryScheme string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find the nearest monitoring sites to a place name",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if queryPlace == "" {
			return eris.Wrap(query.ErrUsage, "--place is required")
		}
		scheme, err := schemeFlag(queryScheme)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		matches, err := e.Query.Nearest(ctx, queryPlace, queryTop, scheme)
		if err != nil {
			if errors.Is(err, geocode.ErrNotFound) {
				return eris.Wrapf(err, "place %q could not be resolved", queryPlace)
			}
			return err
		}
		if len(matches) == 0 {
			return eris.Errorf("no records near %q (store may be empty)", queryPlace)
		}

		for i, m := range matches {
			fmt.Printf("%d. [%.2f km] %s\n", i+1, m.DistanceKM, m.Record.Address)
			keys := make([]string, 0, len(m.Record.Attrs))
			for k := range m.Record.Attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if v := m.Record.Attrs[k]; v != "" {
					fmt.Printf("    %s: %s\n", k, v)
				}
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryPlace, "place", "", "place name to search near (required)")
	queryCmd.Flags().IntVar(&queryTop, "top", 10, "number of nearest records to return")
	queryCmd.Flags().StringVar(&queryScheme, "scheme", "", "geocoding scheme: online|offline (default from config)")
	rootCmd.AddCommand(queryCmd)
}
