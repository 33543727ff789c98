package main

import (
	"context"
	"time"

	"github.com/davidTeng2025/water-info-crawler/internal/query"
	"github.com/davidTeng2025/water-info-crawler/internal/resilience"
	"github.com/davidTeng2025/water-info-crawler/internal/store"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// env bundles the wired components shared by the subcommands.
type env struct {
	Store    store.Store
	Resolver *geocode.Resolver
	Query    *query.Service
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and builds the resolver and query service from
// config. refresh forces cache-bypassing resolution for this process.
func initEnv(ctx context.Context, refresh bool) (*env, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Amap.MaxRetries
	retry.OnRetry = resilience.RetryLogger("amap", "geocode")

	online := geocode.NewAmapProvider(cfg.Amap.Key,
		geocode.WithAmapBaseURL(cfg.Amap.BaseURL),
		geocode.WithAmapRateLimit(cfg.Amap.RPS),
		geocode.WithAmapTimeout(time.Duration(cfg.Amap.TimeoutSecs)*time.Second),
		geocode.WithAmapRetry(retry),
	)
	offline := geocode.NewOfflineTable(cfg.Geocode.OfflineTable)

	resolver := geocode.NewResolver(st, online, offline,
		geocode.WithRefresh(refresh || cfg.Geocode.Refresh),
	)

	return &env{
		Store:    st,
		Resolver: resolver,
		Query:    query.NewService(st, resolver, cfg.Query.DefaultTop),
	}, nil
}

// schemeFlag parses the shared --scheme flag, defaulting to config.
func schemeFlag(raw string) (geocode.Scheme, error) {
	if raw == "" {
		raw = cfg.Geocode.Scheme
	}
	return geocode.ParseScheme(raw)
}
