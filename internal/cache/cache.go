package cache

import (
	"strings"
	"time"

	"fleetwatch/internal/domain"

	gocache "github.com/patrickmn/go-cache"
)

const rulesKey = "rules/enabled"

// Cache view-key prefixes invalidated after sweeps and alert mutations.
const (
	// PrefixDashboard covers dashboard aggregation views.
	PrefixDashboard = "dashboard/"
	// PrefixAlertList covers paginated alert-list views.
	PrefixAlertList = "alerts/"
	// PrefixRules covers the cached enabled-rule set.
	PrefixRules = "rules/"
)

// RuleCache holds the enabled rule set for its configured TTL.
// Params: TTL-bounded go-cache store.
// Returns: short-lived cache avoiding rule store round trips.
type RuleCache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// NewRuleCache creates rule cache with the given TTL.
// Params: entry TTL (zero disables expiry).
// Returns: initialized rule cache.
func NewRuleCache(ttl time.Duration) *RuleCache {
	return &RuleCache{
		store: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns the cached enabled rule set.
// Params: none.
// Returns: rules and true on warm hit.
func (c *RuleCache) Get() ([]domain.Rule, bool) {
	value, ok := c.store.Get(rulesKey)
	if !ok {
		return nil, false
	}
	rules, ok := value.([]domain.Rule)
	return rules, ok
}

// Set stores the enabled rule set for one TTL period.
// Params: rules snapshot in priority order.
// Returns: cache warmed in place.
func (c *RuleCache) Set(rules []domain.Rule) {
	c.store.Set(rulesKey, rules, c.ttl)
}

// Invalidate drops the cached rule set.
// Params: none.
// Returns: next Get misses until re-warmed.
func (c *RuleCache) Invalidate() {
	c.store.Delete(rulesKey)
}

// ViewCache caches dashboard and alert-list view payloads.
// Params: go-cache store with default TTL.
// Returns: prefix-invalidated read-side cache.
type ViewCache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// NewViewCache creates view cache with the given default TTL.
// Params: entry TTL.
// Returns: initialized view cache.
func NewViewCache(ttl time.Duration) *ViewCache {
	return &ViewCache{
		store: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns one cached view payload.
// Params: view key.
// Returns: payload and hit flag.
func (c *ViewCache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores one view payload under key.
// Params: view key and payload.
// Returns: entry cached for default TTL.
func (c *ViewCache) Set(key string, value any) {
	c.store.Set(key, value, c.ttl)
}

// InvalidateByPrefix drops all entries whose key starts with prefix.
// Params: key prefix (for example "dashboard/").
// Returns: number of dropped entries.
func (c *ViewCache) InvalidateByPrefix(prefix string) int {
	dropped := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			dropped++
		}
	}
	return dropped
}
