package netutil

import (
	"context"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arnegard/netbase/internal/errors"
)

// dnsCacheEntry is one resolved hostname, expiring ttl after it was
// looked up.
type dnsCacheEntry struct {
	addrs     []net.IP
	expiresAt time.Time
}

// DNSCache is a bounded, TTL-expiring cache of hostname resolutions.
// Unlike the size-bounded blob caches elsewhere in this codebase, a
// stale DNS entry is wrong rather than just evicted-early, so entries
// also carry their own expiry and are re-resolved once it passes even
// if they haven't been evicted for space.
type DNSCache struct {
	cache    *lru.Cache[string, dnsCacheEntry]
	ttl      time.Duration
	resolver *net.Resolver
}

// NewDNSCache builds a cache holding up to capacity hostnames, each
// entry valid for ttl after it was resolved. A nil resolver uses
// net.DefaultResolver.
func NewDNSCache(capacity int, ttl time.Duration, resolver *net.Resolver) (*DNSCache, error) {
	c, err := lru.New[string, dnsCacheEntry](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "netutil: create DNS cache")
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSCache{cache: c, ttl: ttl, resolver: resolver}, nil
}

// cacheKey hashes host down to a fixed-size key so the LRU's internal
// bookkeeping doesn't retain arbitrarily long hostnames.
func cacheKey(host string) string {
	h := xxhash.Sum64String(host)
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(h >> (8 * i))
	}
	return string(buf)
}

// Lookup returns host's resolved addresses, serving a cached entry
// when one exists and hasn't expired, and otherwise resolving via the
// configured resolver and caching the result.
func (c *DNSCache) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	key := cacheKey(host)
	if entry, ok := c.cache.Get(key); ok && time.Now().Before(entry.expiresAt) {
		return entry.addrs, nil
	}

	addrs, err := c.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, errors.Wrapf(err, "netutil: resolve %q", host)
	}
	c.cache.Add(key, dnsCacheEntry{addrs: addrs, expiresAt: time.Now().Add(c.ttl)})
	return addrs, nil
}

// Purge discards every cached entry, forcing the next Lookup for any
// host to re-resolve.
func (c *DNSCache) Purge() { c.cache.Purge() }

// Len reports how many hostnames are currently cached, expired or not.
func (c *DNSCache) Len() int { return c.cache.Len() }

// Remove drops host's cached entry, if any, forcing its next Lookup to
// re-resolve regardless of TTL.
func (c *DNSCache) Remove(host string) { c.cache.Remove(cacheKey(host)) }
