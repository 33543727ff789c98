// Package server exposes the query service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/query"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// Server routes /nearest and /distance to the query service.
type Server struct {
	svc          *query.Service
	queryTimeout time.Duration
}

// New creates a Server. queryTimeout bounds each request independently of
// any ingestion activity.
func New(svc *query.Service, queryTimeout time.Duration) *Server {
	if queryTimeout <= 0 {
		queryTimeout = 15 * time.Second
	}
	return &Server{svc: svc, queryTimeout: queryTimeout}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/nearest", s.handleNearest)
	r.Get("/distance", s.handleDistance)
	return r
}

// nearestResult is one record in the /nearest response, the record's
// attribute map flattened alongside distance_km.
type nearestResult map[string]any

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	place := strings.TrimSpace(r.URL.Query().Get("place"))
	if place == "" {
		writeError(w, http.StatusBadRequest, "missing place parameter")
		return
	}

	top := s.svc.DefaultTop()
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = n
	}

	scheme, err := geocode.ParseScheme(r.URL.Query().Get("scheme"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheme must be online or offline")
		return
	}

	matches, err := s.svc.Nearest(ctx, place, top, scheme)
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}

	results := make([]nearestResult, 0, len(matches))
	for _, m := range matches {
		res := nearestResult{}
		for k, v := range m.Record.Attrs {
			res[k] = v
		}
		res["province"] = m.Record.Province
		res["site_name"] = m.Record.SiteName
		res["lat"] = m.Record.Lat
		res["lon"] = m.Record.Lon
		res["distance_km"] = m.DistanceKM
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"place":   place,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	placeA := strings.TrimSpace(r.URL.Query().Get("place_a"))
	placeB := strings.TrimSpace(r.URL.Query().Get("place_b"))
	if placeA == "" || placeB == "" {
		writeError(w, http.StatusBadRequest, "missing place_a or place_b parameter")
		return
	}

	scheme, err := geocode.ParseScheme(r.URL.Query().Get("scheme"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheme must be online or offline")
		return
	}

	km, coordA, coordB, err := s.svc.Distance(ctx, placeA, placeB, scheme)
	if err != nil {
		s.writeTaxonomyError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"place_a":     placeA,
		"place_b":     placeB,
		"coord_a":     []float64{coordA.Lat, coordA.Lon},
		"coord_b":     []float64{coordB.Lat, coordB.Lon},
		"distance_km": km,
	})
}

// writeTaxonomyError maps resolution errors to HTTP statuses: NotFound →
// 404, usage → 400, backend unavailable → 503. Anything else is a 500 with
// the detail kept in logs only.
func (s *Server) writeTaxonomyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		writeError(w, http.StatusNotFound, "place could not be resolved")
	case errors.Is(err, query.ErrUsage):
		writeError(w, http.StatusBadRequest, "invalid query parameters")
	case errors.Is(err, geocode.ErrBackendUnavailable):
		writeError(w, http.StatusServiceUnavailable, "geocoding backend unavailable")
	default:
		zap.L().Error("query failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
