// Package geocode resolves free-text place names to coordinates through a
// write-through cache backed by one of two interchangeable backends: the Amap
// web service (online) or a local address table (offline).
package geocode

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/width"
)

// Sentinel errors forming the resolution taxonomy. ErrBackendUnavailable is
// transient and must never be written to the cache; ErrNotFound means the
// backend answered and had nothing.
var (
	ErrNotFound           = eris.New("geocode: address not found")
	ErrBackendUnavailable = eris.New("geocode: backend unavailable")
)

// Scheme selects which backend resolves cache misses.
type Scheme string

const (
	SchemeOnline  Scheme = "online"
	SchemeOffline Scheme = "offline"
)

// ParseScheme validates a scheme string, defaulting empty to SchemeOnline.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case "", SchemeOnline:
		return SchemeOnline, nil
	case SchemeOffline:
		return SchemeOffline, nil
	default:
		return "", eris.Errorf("geocode: unknown scheme %q", s)
	}
}

// Result holds resolved coordinates and their origin.
type Result struct {
	Lat    float64
	Lon    float64
	Source string // "online", "offline", or "cached"
}

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, address string) (lat, lon float64, err error)
}

// CacheEntry is one durable address → coordinate mapping.
type CacheEntry struct {
	Address    string    `json:"address"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Cache is the durable key-value store consulted before any backend call.
// Get returns (nil, nil) on a miss.
type Cache interface {
	CacheGet(ctx context.Context, address string) (*CacheEntry, error)
	CachePut(ctx context.Context, entry CacheEntry) error
}

// Normalize canonicalizes an address for cache keying and backend lookup:
// full-width characters are folded to their narrow forms, surrounding
// whitespace is trimmed, and internal runs of whitespace collapse away
// entirely (the crawler concatenates province and site name with no
// separator, so spaces carry no meaning).
func Normalize(addr string) string {
	folded := width.Narrow.String(addr)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Resolver answers address → coordinate lookups, cache first.
type Resolver struct {
	cache   Cache
	online  Provider
	offline Provider
	refresh bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRefresh makes the resolver skip cache reads (while still writing
// results back), forcing a full re-resolution pass.
func WithRefresh(refresh bool) ResolverOption {
	return func(r *Resolver) { r.refresh = refresh }
}

// NewResolver builds a Resolver over the given cache and backends. Either
// provider may be nil, in which case the corresponding scheme fails with
// ErrBackendUnavailable.
func NewResolver(cache Cache, online, offline Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{cache: cache, online: online, offline: offline}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve turns an address into coordinates. Cache hits return immediately
// with Source "cached"; misses go to the scheme's backend and successful
// resolutions are written through before returning.
func (r *Resolver) Resolve(ctx context.Context, address string, scheme Scheme) (*Result, error) {
	addr := Normalize(address)
	if addr == "" {
		return nil, eris.Wrap(ErrNotFound, "empty address")
	}

	if !r.refresh && r.cache != nil {
		entry, err := r.cache.CacheGet(ctx, addr)
		if err != nil {
			zap.L().Warn("geocode: cache read failed", zap.Error(err))
		} else if entry != nil {
			return &Result{Lat: entry.Lat, Lon: entry.Lon, Source: "cached"}, nil
		}
	}

	p := r.provider(scheme)
	if p == nil {
		return nil, eris.Wrapf(ErrBackendUnavailable, "no %s backend configured", scheme)
	}

	lat, lon, err := p.Geocode(ctx, addr)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		put := CacheEntry{Address: addr, Lat: lat, Lon: lon, Source: p.Name(), ResolvedAt: time.Now().UTC()}
		if err := r.cache.CachePut(ctx, put); err != nil {
			zap.L().Warn("geocode: cache write failed", zap.String("address", addr), zap.Error(err))
		}
	}

	return &Result{Lat: lat, Lon: lon, Source: p.Name()}, nil
}

func (r *Resolver) provider(scheme Scheme) Provider {
	switch scheme {
	case SchemeOffline:
		return r.offline
	default:
		return r.online
	}
}
