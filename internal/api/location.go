package api

import (
	"sync"
)

// LatestLocation holds the latest known position for a driver.
type LatestLocation struct {
	Tenant   string  `json:"tenantId"`
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       string  `json:"ts"`
}

// LocationCache stores latest driver positions per tenant. It is the fast
// read path for map views; the store keeps the durable copy.
type LocationCache struct {
	mu sync.Mutex
	// key: tenant|driverId
	m map[string]LatestLocation
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

func (c *LocationCache) key(tenant, driverID string) string {
	return tenant + "|" + driverID
}

// Upsert stores or updates the latest position for a driver.
func (c *LocationCache) Upsert(tenant, driverID string, lat, lng float64, ts string) {
	if tenant == "" || driverID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(tenant, driverID)] = LatestLocation{Tenant: tenant, DriverID: driverID, Lat: lat, Lng: lng, TS: ts}
}

// Get returns the latest position for one driver.
func (c *LocationCache) Get(tenant, driverID string) (LatestLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[c.key(tenant, driverID)]
	return v, ok
}

// ListByTenant returns the latest positions for all of a tenant's drivers.
func (c *LocationCache) ListByTenant(tenant string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []LatestLocation{}
	prefix := tenant + "|"
	for k, v := range c.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
		}
	}
	return out
}
