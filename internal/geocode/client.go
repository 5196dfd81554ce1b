// Package geocode turns free-text places ("bairro Setor Pauzanes") into a
// drawable zone anchor using a Nominatim-compatible search service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
)

// DefaultScope is the city the service was built for. Only this scope gets
// a bounded viewbox; any other scope searches unbounded.
const DefaultScope = "Rio Verde, GO"

// defaultViewbox is lon1,lat1,lon2,lat2 around DefaultScope.
const defaultViewbox = "-51.10,-17.65,-50.75,-17.95"

// CollaboratorError reports that the search service could not be reached or
// answered badly. Callers show it as a notice; it is never fatal.
type CollaboratorError struct {
	Op     string
	Status int
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("geocoder %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("geocoder %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Candidate is one search hit as returned by Nominatim with
// polygon_geojson=1 and addressdetails=1.
type Candidate struct {
	PlaceID     int64             `json:"place_id"`
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	BoundingBox []string          `json:"boundingbox,omitempty"`
	Class       string            `json:"class"`
	Type        string            `json:"type"`
	AddressType string            `json:"addresstype,omitempty"`
	Importance  float64           `json:"importance"`
	GeoJSON     map[string]any    `json:"geojson,omitempty"`
	Address     map[string]string `json:"address,omitempty"`
}

// SearchRequest is one text search.
type SearchRequest struct {
	Query string
	Scope string
	Limit int
}

// Searcher is what Resolver needs from a search backend.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Candidate, error)
}

// Cache stores raw search results by key. Implementations swallow their own
// failures; a miss is always safe.
type Cache interface {
	Get(ctx context.Context, key string) ([]Candidate, bool)
	Set(ctx context.Context, key string, v []Candidate)
}

type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Limiter   *rate.Limiter
	Cache     Cache
}

// NewClient builds a client allowing rps requests per second with a burst of
// one. A non-positive rps disables limiting.
func NewClient(baseURL, userAgent string, rps float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: timeout},
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	if req.Limit <= 0 {
		req.Limit = 8
	}
	key := cacheKey(req)
	if c.Cache != nil {
		if v, ok := c.Cache.Get(ctx, key); ok {
			metrics.GeocodeRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &CollaboratorError{Op: "search", Err: err}
		}
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("format", "json")
	q.Set("polygon_geojson", "1")
	q.Set("addressdetails", "1")
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.Scope == DefaultScope {
		q.Set("viewbox", defaultViewbox)
		q.Set("bounded", "1")
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, &CollaboratorError{Op: "search", Err: err}
	}
	hreq.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		hreq.Header.Set("User-Agent", c.UserAgent)
	}

	t0 := time.Now()
	logger.L().Debug("geocode_req", "q", req.Query, "limit", req.Limit)
	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		logger.L().Error("geocode_http_error", "err", err)
		return nil, &CollaboratorError{Op: "search", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		logger.L().Warn("geocode_bad_status", "status", resp.StatusCode)
		return nil, &CollaboratorError{Op: "search", Status: resp.StatusCode}
	}
	var out []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		logger.L().Error("geocode_decode_error", "err", err)
		return nil, &CollaboratorError{Op: "decode", Err: err}
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDuration.Observe(float64(dur))
	metrics.GeocodeRequests.WithLabelValues("ok").Inc()
	logger.L().Debug("geocode_resp", "q", req.Query, "results", len(out), "duration_ms", dur)
	if c.Cache != nil {
		c.Cache.Set(ctx, key, out)
	}
	return out, nil
}

func cacheKey(req SearchRequest) string {
	return "geocode:" + Fold(req.Query) + "|" + Fold(req.Scope) + "|" + strconv.Itoa(req.Limit)
}
