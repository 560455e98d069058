package netutil_test

import (
	"testing"

	"github.com/arnegard/netbase/internal/netutil"
)

func TestParseURLBasic(t *testing.T) {
	u := netutil.ParseURL("http://user@example.com:8080/a/b?x=1&y=2#frag")
	if !u.IsValid() {
		t.Fatal("expected valid URL")
	}
	if u.Scheme() != "http" {
		t.Fatalf("Scheme() = %q", u.Scheme())
	}
	if u.User() != "user" {
		t.Fatalf("User() = %q", u.User())
	}
	if u.Host() != "example.com" {
		t.Fatalf("Host() = %q", u.Host())
	}
	if u.IntPort() != 8080 {
		t.Fatalf("IntPort() = %d", u.IntPort())
	}
	if u.Path() != "/a/b" {
		t.Fatalf("Path() = %q", u.Path())
	}
	if u.Query() != "x=1&y=2" {
		t.Fatalf("Query() = %q", u.Query())
	}
	if u.Ref() != "frag" {
		t.Fatalf("Ref() = %q", u.Ref())
	}
}

func TestParseURLNoScheme(t *testing.T) {
	u := netutil.ParseURL("not-a-url")
	if u.IsValid() {
		t.Fatal("expected invalid URL for missing scheme")
	}
}

func TestParseURLNoPath(t *testing.T) {
	u := netutil.ParseURL("http://example.com")
	if u.IsValid() {
		t.Fatal("expected invalid URL when there's no path separator")
	}
}

func TestParseURLIPv6Host(t *testing.T) {
	u := netutil.ParseURL("https://[::1]:9443/status")
	if !u.IsValid() {
		t.Fatal("expected valid URL")
	}
	if u.Host() != "[::1]" {
		t.Fatalf("Host() = %q, want [::1]", u.Host())
	}
	if u.IntPort() != 9443 {
		t.Fatalf("IntPort() = %d, want 9443", u.IntPort())
	}
	if !u.HostIsIPAddress() {
		t.Fatal("expected HostIsIPAddress true for a bracketed IPv6 literal")
	}
}

func TestSchemeIsSecure(t *testing.T) {
	if !netutil.ParseURL("https://example.com/").SchemeIsSecure() {
		t.Fatal("https should be secure")
	}
	if netutil.ParseURL("http://example.com/").SchemeIsSecure() {
		t.Fatal("http should not be secure")
	}
}

func TestPathForRequest(t *testing.T) {
	u := netutil.ParseURL("http://example.com/search?q=go")
	if got, want := u.PathForRequest(), "/search?q=go"; got != want {
		t.Fatalf("PathForRequest() = %q, want %q", got, want)
	}

	bare := netutil.ParseURL("http://example.com/")
	if got, want := bare.PathForRequest(), "/"; got != want {
		t.Fatalf("PathForRequest() = %q, want %q", got, want)
	}
}

func TestResolveRelativePath(t *testing.T) {
	base := netutil.ParseURL("http://example.com/a/b/page.html")
	resolved := base.Resolve("c/d.html")
	if got, want := resolved.Path(), "/a/b/c/d.html"; got != want {
		t.Fatalf("Resolve() path = %q, want %q", got, want)
	}

	abs := base.Resolve("/other")
	if got, want := abs.Path(), "/other"; got != want {
		t.Fatalf("Resolve() absolute path = %q, want %q", got, want)
	}

	dotdot := base.Resolve("../x.html")
	if got, want := dotdot.Path(), "/a/x.html"; got != want {
		t.Fatalf("Resolve() with .. = %q, want %q", got, want)
	}
}

func TestEscapeUnescapeRoundtrip(t *testing.T) {
	raw := "a b/c?d=e&f"
	escaped := netutil.Escape(raw)
	if escaped != "a%20b%2Fc%3Fd%3De%26f" {
		t.Fatalf("Escape() = %q", escaped)
	}
	if got := netutil.Unescape(escaped); got != raw {
		t.Fatalf("Unescape(Escape(x)) = %q, want %q", got, raw)
	}
}

func TestUnescapePlusAndMalformed(t *testing.T) {
	if got, want := netutil.Unescape("a+b"), "a b"; got != want {
		t.Fatalf("Unescape(%q) = %q, want %q", "a+b", got, want)
	}
	if got, want := netutil.Unescape("100%"), "100%"; got != want {
		t.Fatalf("Unescape(%q) = %q, want %q", "100%", got, want)
	}
}

func TestQueryParams(t *testing.T) {
	u := netutil.ParseURL("http://example.com/search?q=go+lang&tag=a%26b")
	params := u.QueryParams()
	if len(params) != 2 {
		t.Fatalf("len(params) = %d, want 2", len(params))
	}
	if params[0].Key != "q" || params[0].Value != "go lang" {
		t.Fatalf("params[0] = %+v", params[0])
	}
	if params[1].Key != "tag" || params[1].Value != "a&b" {
		t.Fatalf("params[1] = %+v", params[1])
	}
}
