package netutil_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arnegard/netbase/internal/netutil"
)

func TestDNSCacheLiteralIPBypassesResolver(t *testing.T) {
	c, err := netutil.NewDNSCache(8, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewDNSCache() = %v", err)
	}
	addrs, err := c.Lookup(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Lookup() = %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("Lookup() = %v", addrs)
	}
	if c.Len() != 0 {
		t.Fatal("a literal IP lookup should not populate the cache")
	}
}

func TestDNSCachePurgeAndRemove(t *testing.T) {
	c, err := netutil.NewDNSCache(8, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewDNSCache() = %v", err)
	}
	// Exercise Purge/Remove/Len on an empty cache; real resolution needs
	// network access, which a unit test can't rely on.
	c.Remove("example.com")
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("Len() after Purge = %d, want 0", c.Len())
	}
}
