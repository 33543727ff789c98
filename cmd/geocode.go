package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

var geocodeScheme string

var geocodeCmd = &cobra.Command{
	Use:   "geocode ADDRESS",
	Short: "Resolve a single address to coordinates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scheme, err := schemeFlag(geocodeScheme)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Resolver.Resolve(ctx, args[0], scheme)
		if err != nil {
			return err
		}

		fmt.Printf("address: %s\n", geocode.Normalize(args[0]))
		fmt.Printf("coordinates: lat=%.6f, lon=%.6f (%s)\n", result.Lat, result.Lon, result.Source)
		return nil
	},
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeScheme, "scheme", "", "geocoding scheme: online|offline (default from config)")
	rootCmd.AddCommand(geocodeCmd)
}
