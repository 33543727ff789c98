package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidTeng2025/water-info-crawler/internal/ingest"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Build, export, or import the geocode cache",
}

var (
	cacheBuildScheme  string
	cacheBuildRefresh bool
)

var cacheBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Geocode every unique spreadsheet address into the cache",
	Long: "Loads the crawler's exported spreadsheets and resolves each distinct address, " +
		"warming the geocode cache without committing a new generation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scheme, err := schemeFlag(cacheBuildScheme)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, cacheBuildRefresh)
		if err != nil {
			return err
		}
		defer e.Close()

		raws, err := ingest.NewLoader(cfg.Data.Dir, cfg.Data.Glob).Load()
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(raws))
		addresses := make([]string, 0, len(raws))
		for _, raw := range raws {
			addr := geocode.Normalize(raw.Address())
			if addr == "" {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			addresses = append(addresses, addr)
		}

		concurrency := cfg.Geocode.Concurrency
		if concurrency <= 0 {
			concurrency = 4
		}

		var failed atomic.Int64
		eg, gCtx := errgroup.WithContext(ctx)
		eg.SetLimit(concurrency)
		for _, addr := range addresses {
			eg.Go(func() error {
				if _, err := e.Resolver.Resolve(gCtx, addr, scheme); err != nil {
					failed.Add(1)
					zap.L().Debug("cache build: resolve failed",
						zap.String("address", addr), zap.Error(err))
				}
				return nil
			})
		}
		_ = eg.Wait()

		zap.L().Info("cache built",
			zap.Int("addresses", len(addresses)),
			zap.Int64("failed", failed.Load()),
			zap.String("scheme", string(scheme)),
		)
		return nil
	},
}

var cacheExportOut string

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the geocode cache as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		entries, err := e.Store.CacheExport(ctx)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if cacheExportOut != "" {
			f, err := os.Create(cacheExportOut)
			if err != nil {
				return eris.Wrap(err, "cache export: create file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		enc := json.NewEncoder(w)
		for _, entry := range entries {
			if err := enc.Encode(entry); err != nil {
				return eris.Wrap(err, "cache export: encode entry")
			}
		}
		zap.L().Info("cache exported", zap.Int("entries", len(entries)))
		return nil
	},
}

var cacheImportIn string

var cacheImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load geocode cache entries from JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cacheImportIn == "" {
			return eris.New("cache import: --in is required")
		}
		f, err := os.Open(cacheImportIn)
		if err != nil {
			return eris.Wrap(err, "cache import: open file")
		}
		defer f.Close() //nolint:errcheck

		var entries []geocode.CacheEntry
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var entry geocode.CacheEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return eris.Wrap(err, "cache import: parse entry")
			}
			entry.Address = geocode.Normalize(entry.Address)
			if entry.Address == "" {
				continue
			}
			entries = append(entries, entry)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "cache import: read file")
		}

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.CacheImport(ctx, entries); err != nil {
			return err
		}
		zap.L().Info("cache imported", zap.Int("entries", len(entries)))
		return nil
	},
}

func init() {
	cacheBuildCmd.Flags().StringVar(&cacheBuildScheme, "scheme", "", "geocoding scheme: online|offline (default from config)")
	cacheBuildCmd.Flags().BoolVar(&cacheBuildRefresh, "refresh", false, "bypass cache reads so every address is re-resolved")
	cacheExportCmd.Flags().StringVar(&cacheExportOut, "out", "", "output file (default stdout)")
	cacheImportCmd.Flags().StringVar(&cacheImportIn, "in", "", "input file of JSON lines (required)")
	cacheCmd.AddCommand(cacheBuildCmd, cacheExportCmd, cacheImportCmd)
	rootCmd.AddCommand(cacheCmd)
}
