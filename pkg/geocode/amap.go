package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidTeng2025/water-info-crawler/internal/resilience"
)

const defaultAmapURL = "https://restapi.amap.com/v3/geocode/geo"

// amapResponse is the subset of the Amap geocoding response we parse.
// location is "lon,lat".
type amapResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Infocode string `json:"infocode"`
	Geocodes []struct {
		Location string `json:"location"`
	} `json:"geocodes"`
}

// AmapProvider geocodes via the Amap (高德) web service API. Requests are
// sequenced through a rate limiter to respect the provider's budget and
// retried with backoff on transient faults.
type AmapProvider struct {
	key        string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// AmapOption configures the AmapProvider.
type AmapOption func(*AmapProvider)

// WithAmapBaseURL overrides the API endpoint (tests point this at a local server).
func WithAmapBaseURL(u string) AmapOption {
	return func(p *AmapProvider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithAmapHTTPClient sets a custom HTTP client.
func WithAmapHTTPClient(hc *http.Client) AmapOption {
	return func(p *AmapProvider) { p.httpClient = hc }
}

// WithAmapRateLimit sets the requests-per-second budget.
func WithAmapRateLimit(rps float64) AmapOption {
	return func(p *AmapProvider) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithAmapTimeout bounds each request.
func WithAmapTimeout(d time.Duration) AmapOption {
	return func(p *AmapProvider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithAmapRetry overrides the retry policy.
func WithAmapRetry(cfg resilience.RetryConfig) AmapOption {
	return func(p *AmapProvider) { p.retry = cfg }
}

// NewAmapProvider creates an online provider with the given API key.
func NewAmapProvider(key string, opts ...AmapOption) *AmapProvider {
	p := &AmapProvider{
		key:        key,
		baseURL:    defaultAmapURL,
		httpClient: &http.Client{Timeout: 8 * time.Second},
		limiter:    rate.NewLimiter(3, 3),
		retry:      resilience.DefaultRetryConfig(),
	}
	p.retry.OnRetry = resilience.RetryLogger("amap", "geocode")
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *AmapProvider) Name() string { return "online" }

// Geocode implements Provider. Transport faults, timeouts, and missing
// credentials map to ErrBackendUnavailable; an answered request with zero
// geocodes maps to ErrNotFound.
func (p *AmapProvider) Geocode(ctx context.Context, address string) (float64, float64, error) {
	if p.key == "" {
		return 0, 0, eris.Wrap(ErrBackendUnavailable, "amap: missing api key")
	}

	type coord struct{ lat, lon float64 }
	c, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (coord, error) {
		lat, lon, err := p.geocodeOnce(ctx, address)
		return coord{lat, lon}, err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, 0, err
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			err = eris.Wrap(ErrBackendUnavailable, err.Error())
		}
		return 0, 0, err
	}
	return c.lat, c.lon, nil
}

func (p *AmapProvider) geocodeOnce(ctx context.Context, address string) (float64, float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, 0, eris.Wrap(ErrBackendUnavailable, "amap: rate limit wait")
	}

	q := url.Values{}
	q.Set("key", p.key)
	q.Set("address", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "amap: build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient; the retry layer
		// sees them via the wrapped cause before taxonomy translation.
		return 0, 0, resilience.NewTransientError(eris.Wrap(err, "amap: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("amap: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, 0, resilience.NewTransientError(err, resp.StatusCode)
		}
		return 0, 0, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, eris.Wrap(err, "amap: read body")
	}

	var ar amapResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return 0, 0, eris.Wrap(err, "amap: parse response")
	}

	if ar.Status != "1" {
		zap.L().Debug("amap: error response",
			zap.String("info", ar.Info),
			zap.String("infocode", ar.Infocode),
		)
		return 0, 0, eris.Wrapf(ErrBackendUnavailable, "amap: %s (%s)", ar.Info, ar.Infocode)
	}
	if len(ar.Geocodes) == 0 {
		return 0, 0, eris.Wrapf(ErrNotFound, "amap: no geocodes for %q", address)
	}

	return parseAmapLocation(ar.Geocodes[0].Location)
}

// parseAmapLocation parses Amap's "lon,lat" location string.
func parseAmapLocation(loc string) (lat, lon float64, err error) {
	parts := strings.SplitN(loc, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("amap: invalid location %q", loc)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "amap: parse lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "amap: parse lat")
	}
	return lat, lon, nil
}
