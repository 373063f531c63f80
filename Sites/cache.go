package Sites

import (
	"strconv"
	"strings"
	"sync"

	"AcesFuel/Models"
)

// Coordinate is a resolved site position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SiteID    string  `json:"site_id"`
	SiteName  string  `json:"site_name"`
}

// Cache memoizes site coordinates under both the normalized site id and the
// normalized site name. Ids and names are kept apart, so a site named "12"
// never answers for site id 12. It holds acceleration state only and lives
// as long as its owner.
type Cache struct {
	mu     sync.RWMutex
	byID   map[string]Coordinate
	byName map[string]Coordinate
}

func NewCache() *Cache {
	return &Cache{byID: make(map[string]Coordinate), byName: make(map[string]Coordinate)}
}

// NormalizeKey trims and lower-cases an id or a name.
func NormalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Lookup tries the id key first, then the name key. Empty keys are skipped.
func (c *Cache) Lookup(idKey, nameKey string) (Coordinate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idKey != "" {
		if coord, ok := c.byID[idKey]; ok {
			return coord, true
		}
	}
	if nameKey != "" {
		if coord, ok := c.byName[nameKey]; ok {
			return coord, true
		}
	}
	return Coordinate{}, false
}

// Put stores a site under its id and name keys. Sites without a full
// coordinate pair are ignored.
func (c *Cache) Put(site Models.Site) bool {
	if site.Latitude == nil || site.Longitude == nil {
		return false
	}
	coord := Coordinate{
		Latitude:  *site.Latitude,
		Longitude: *site.Longitude,
		SiteID:    strconv.FormatUint(uint64(site.ID), 10),
		SiteName:  site.SiteName,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if site.ID != 0 {
		c.byID[NormalizeKey(coord.SiteID)] = coord
	}
	if key := NormalizeKey(site.SiteName); key != "" {
		c.byName[key] = coord
	}
	return true
}

// Len counts id and name keys together.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID) + len(c.byName)
}
