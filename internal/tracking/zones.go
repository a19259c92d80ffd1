package tracking

import (
	"sync"

	"backend-walkguard/internal/geofence"
)

// zoneCache holds safe zones of active sessions. Zones are immutable once
// a session is confirmed so entries never go stale, only unused.
type zoneCache struct {
	mu    sync.RWMutex
	zones map[string]geofence.Zone
}

func newZoneCache() *zoneCache {
	return &zoneCache{zones: map[string]geofence.Zone{}}
}

func (c *zoneCache) get(sessionID string) (geofence.Zone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.zones[sessionID]
	return z, ok
}

func (c *zoneCache) put(sessionID string, z geofence.Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[sessionID] = z
}

func (c *zoneCache) drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zones, sessionID)
}
