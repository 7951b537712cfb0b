// Package geocode resolves free-text delivery addresses to coordinates via an
// external geocoding collaborator. Lookups are rate limited and cached. A
// failed lookup is not fatal: callers skip the stop and move on.
package geocode

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "fooddispatch/internal/model"
)

// ErrNotFound is returned when the collaborator cannot resolve the address.
var ErrNotFound = errors.New("address not found")

// ErrDisabled is returned when no geocoder is configured.
var ErrDisabled = errors.New("geocoding disabled")

type entry struct {
    point   model.GeoPoint
    fetched time.Time
}

// Client is a read-through geocoding cache. Entries stay valid for TTL; the
// staleness window is acceptable because delivery addresses do not move.
type Client struct {
    BaseURL string
    HTTP    *http.Client
    TTL     time.Duration

    limiter *rate.Limiter
    mu      sync.Mutex
    cache   map[string]entry
}

// New builds a client for a Nominatim-style collaborator exposing
// GET {base}/search?q={address}. An empty baseURL disables geocoding.
func New(baseURL string) *Client {
    return &Client{
        BaseURL: strings.TrimRight(baseURL, "/"),
        HTTP:    &http.Client{Timeout: 10 * time.Second},
        TTL:     15 * time.Minute,
        limiter: rate.NewLimiter(rate.Limit(2), 1), // collaborator etiquette: ~2 req/s
        cache:   map[string]entry{},
    }
}

// Lookup resolves an address, serving from cache when fresh.
func (c *Client) Lookup(ctx context.Context, address string) (model.GeoPoint, error) {
    key := cacheKey(address)
    c.mu.Lock()
    if e, ok := c.cache[key]; ok && time.Since(e.fetched) < c.TTL {
        c.mu.Unlock()
        return e.point, nil
    }
    c.mu.Unlock()
    return c.Refresh(ctx, address)
}

// Refresh bypasses the cache and stores the fresh result.
func (c *Client) Refresh(ctx context.Context, address string) (model.GeoPoint, error) {
    if c.BaseURL == "" {
        return model.GeoPoint{}, ErrDisabled
    }
    if err := c.limiter.Wait(ctx); err != nil {
        return model.GeoPoint{}, err
    }
    u := c.BaseURL + "/search?q=" + url.QueryEscape(address)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil {
        return model.GeoPoint{}, err
    }
    resp, err := c.HTTP.Do(req)
    if err != nil {
        return model.GeoPoint{}, err
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode == http.StatusNotFound {
        return model.GeoPoint{}, ErrNotFound
    }
    if resp.StatusCode != http.StatusOK {
        return model.GeoPoint{}, errors.New("geocoder status " + resp.Status)
    }
    var p model.GeoPoint
    if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
        return model.GeoPoint{}, err
    }
    if p.Latitude == 0 && p.Longitude == 0 {
        return model.GeoPoint{}, ErrNotFound
    }
    c.mu.Lock()
    c.cache[cacheKey(address)] = entry{point: p, fetched: time.Now()}
    c.mu.Unlock()
    return p, nil
}

// Invalidate drops a cached address.
func (c *Client) Invalidate(address string) {
    c.mu.Lock()
    delete(c.cache, cacheKey(address))
    c.mu.Unlock()
}

func cacheKey(address string) string {
    return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
