package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/ingest"
	"github.com/davidTeng2025/water-info-crawler/internal/model"
)

var (
	updateScheme    string
	updateFromStore bool
	updateRefresh   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Geocode the current raw records and atomically swap in a new generation",
	Long: "Loads the crawler's exported spreadsheets (or, with --from-store, re-reads the " +
		"active generation), geocodes every record, writes a staging generation and swaps " +
		"it in atomically. Queries keep reading the previous generation until the swap lands.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scheme, err := schemeFlag(updateScheme)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, updateRefresh)
		if err != nil {
			return err
		}
		defer e.Close()

		var raws []model.RawRecord
		if updateFromStore {
			raws, err = rawsFromActiveGeneration(cmd, e)
		} else {
			raws, err = ingest.NewLoader(cfg.Data.Dir, cfg.Data.Glob).Load()
		}
		if err != nil {
			return err
		}
		if len(raws) == 0 {
			return eris.New("update: no records to ingest")
		}

		geocoder := ingest.NewBatchGeocoder(e.Resolver, cfg.Geocode.Concurrency)
		recs := geocoder.GeocodeAll(ctx, raws, scheme)

		builder, err := e.Store.BeginUpdate(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := builder.Add(ctx, rec); err != nil {
				_ = builder.Rollback(ctx)
				return err
			}
		}
		gen, err := builder.Commit(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("update complete",
			zap.Int64("generation", gen),
			zap.Int("records", len(recs)),
			zap.String("scheme", string(scheme)),
		)
		return nil
	},
}

// rawsFromActiveGeneration rebuilds raw records from the active generation so
// an already-ingested batch can be re-geocoded without re-reading the
// spreadsheets.
func rawsFromActiveGeneration(cmd *cobra.Command, e *env) ([]model.RawRecord, error) {
	ctx := cmd.Context()
	gen, err := e.Store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return nil, eris.New("update: store has no generation to re-geocode")
	}
	recs, err := e.Store.ReadAll(ctx, gen)
	if err != nil {
		return nil, err
	}
	raws := make([]model.RawRecord, len(recs))
	for i, rec := range recs {
		raws[i] = model.RawRecord{
			Province: rec.Province,
			SiteName: rec.SiteName,
			Attrs:    rec.Attrs,
		}
	}
	return raws, nil
}

func init() {
	updateCmd.Flags().StringVar(&updateScheme, "scheme", "", "geocoding scheme: online|offline (default from config)")
	updateCmd.Flags().BoolVar(&updateFromStore, "from-store", false, "re-geocode the active generation instead of loading spreadsheets")
	updateCmd.Flags().BoolVar(&updateRefresh, "refresh", false, "bypass cache reads for this pass (results are still written back)")
	rootCmd.AddCommand(updateCmd)
}
