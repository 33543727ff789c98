package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var distanceScheme string

var distanceCmd = &cobra.Command{
	Use:   "distance PLACE_A PLACE_B",
	Short: "Resolve two places and print the great-circle distance between them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scheme, err := schemeFlag(distanceScheme)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		km, a, b, err := e.Query.Distance(ctx, args[0], args[1], scheme)
		if err != nil {
			return err
		}

		fmt.Printf("place A: %s -> lat=%.6f, lon=%.6f\n", args[0], a.Lat, a.Lon)
		fmt.Printf("place B: %s -> lat=%.6f, lon=%.6f\n", args[1], b.Lat, b.Lon)
		fmt.Printf("distance: %.2f km\n", km)
		return nil
	},
}

func init() {
	distanceCmd.Flags().StringVar(&distanceScheme, "scheme", "", "geocoding scheme: online|offline (default from config)")
	rootCmd.AddCommand(distanceCmd)
}
