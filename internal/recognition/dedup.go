package recognition

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sightingDedup is the in-session advisory set. A subject seen once is not
// retried against the ledger for the TTL window, whatever the outcome of the
// first attempt. The ledger stays authoritative.
type sightingDedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func newSightingDedup(maxKeys int, ttl time.Duration) *sightingDedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &sightingDedup{cache: c, ttl: ttl}
}

// Seen records the sighting and reports whether it was already recorded
// within the TTL window.
func (d *sightingDedup) Seen(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
		// Expired but still in LRU? Update it.
	}
	d.cache.Add(key, time.Now())
	return false
}

// Record marks a key as seen without reporting prior state. Used to seed the
// set from the ledger at session start.
func (d *sightingDedup) Record(key string) {
	d.cache.Add(key, time.Now())
}

// sightingKey scopes the advisory set to a calendar day so a session running
// across midnight can mark the same subject again.
func sightingKey(name string, day time.Time) string {
	return fmt.Sprintf("%s|%s", name, day.Format("2006-01-02"))
}
