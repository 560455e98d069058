package netutil

import (
	"net"
	"path"
	"strconv"
	"strings"
)

// URL is a small, ASCII-oriented URL parser/composer: "scheme://
// [user@]host[:port]/path[?query][#ref]". It deliberately doesn't
// attempt IDNA/Unicode handling — good enough for a system that builds
// and follows its own request URIs, same scope as the implementation
// it's grounded on.
type URL struct {
	spec    string
	isValid bool

	scheme string
	user   string
	host   string
	port   string
	path   string
	query  string
	ref    string
}

// ParseURL parses spec into a URL. An unparseable spec (no "://" or no
// path separator) produces an invalid, empty URL rather than an error,
// matching the lenient, always-constructible style of the type this is
// grounded on.
func ParseURL(spec string) URL {
	u := URL{spec: spec}
	u.parseSpec()
	return u
}

// IsValid reports whether spec could be parsed into an absolute URL.
func (u URL) IsValid() bool { return u.isValid }

// IsEmpty reports whether spec was the empty string.
func (u URL) IsEmpty() bool { return u.spec == "" }

func (u URL) Spec() string   { return u.spec }
func (u URL) Scheme() string { return u.scheme }
func (u URL) User() string   { return u.user }
func (u URL) Host() string   { return u.host }
func (u URL) Port() string   { return u.port }
func (u URL) Path() string   { return u.path }
func (u URL) Query() string  { return u.query }
func (u URL) Ref() string    { return u.ref }

func (u URL) HasScheme() bool { return u.scheme != "" }
func (u URL) HasUser() bool   { return u.user != "" }
func (u URL) HasHost() bool   { return u.host != "" }
func (u URL) HasPort() bool   { return u.port != "" }
func (u URL) HasPath() bool   { return u.path != "" }
func (u URL) HasQuery() bool  { return u.query != "" }
func (u URL) HasRef() bool    { return u.ref != "" }

// SchemeIs reports whether scheme (expected lower-case) is u's scheme.
func (u URL) SchemeIs(scheme string) bool { return u.scheme == scheme }

// SchemeIsSecure reports whether the scheme is "https".
func (u URL) SchemeIsSecure() bool { return u.SchemeIs("https") }

// HostIsIPAddress reports whether the host component parses as a
// literal IP address rather than a hostname needing resolution.
func (u URL) HostIsIPAddress() bool {
	if u.host == "" {
		return false
	}
	return net.ParseIP(strings.Trim(u.host, "[]")) != nil
}

// IntPort returns the numeric port, or -1 if no port is set or it
// doesn't parse as a positive integer.
func (u URL) IntPort() int {
	if u.port == "" {
		return -1
	}
	n, err := strconv.Atoi(u.port)
	if err != nil || n <= 0 {
		return -1
	}
	return n
}

func (u URL) pathOrDefault() string {
	if u.path == "" {
		return "/"
	}
	return u.path
}

// PathForRequest returns what should be sent on the wire as the
// request-target: path (defaulting to "/"), then "?query" and "#ref"
// if present. Returns "" for an invalid URL.
func (u URL) PathForRequest() string {
	if !u.isValid {
		return ""
	}
	if u.query == "" && u.ref == "" {
		return u.pathOrDefault()
	}
	var b strings.Builder
	b.WriteString(u.pathOrDefault())
	if u.query != "" {
		b.WriteByte('?')
		b.WriteString(u.query)
	}
	if u.ref != "" {
		b.WriteByte('#')
		b.WriteString(u.ref)
	}
	return b.String()
}

// Resolve joins relativePath against u's path and normalizes the
// result (collapsing "." and ".." segments), returning a new URL with
// every other component unchanged. Resolving against an invalid URL
// returns an invalid, empty URL.
func (u URL) Resolve(relativePath string) URL {
	if !u.isValid {
		return URL{}
	}
	out := u
	out.path = joinURLPaths(u.path, relativePath)
	out.reassemble()
	return out
}

func joinURLPaths(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel)
	}
	dir := "/"
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		dir = base[:idx+1]
	}
	return path.Clean(dir + rel)
}

func (u *URL) reassemble() {
	var b strings.Builder
	b.WriteString(u.scheme)
	b.WriteString("://")
	if u.user != "" {
		b.WriteString(u.user)
		b.WriteByte('@')
	}
	b.WriteString(u.host)
	if u.port != "" {
		b.WriteByte(':')
		b.WriteString(u.port)
	}
	b.WriteString(u.path)
	if u.query != "" {
		b.WriteByte('?')
		b.WriteString(u.query)
	}
	if u.ref != "" {
		b.WriteByte('#')
		b.WriteString(u.ref)
	}
	u.spec = b.String()
}

// Reassemble rebuilds spec from the current components and returns it.
// Useful after mutating components directly via the With* helpers.
func (u *URL) Reassemble() string {
	u.reassemble()
	return u.spec
}

func (u *URL) invalidate() {
	*u = URL{}
	u.isValid = false
}

func (u *URL) parseSpec() {
	u.isValid = true
	schemePos := strings.Index(u.spec, "://")
	if schemePos < 0 {
		u.invalidate()
		return
	}
	nextPos := schemePos + 3
	u.scheme = u.spec[:schemePos]
	if u.scheme == "" {
		u.invalidate()
		return
	}

	slashOff := strings.IndexByte(u.spec[nextPos:], '/')
	if slashOff < 0 {
		u.invalidate()
		return
	}
	hostPortEnd := nextPos + slashOff
	u.parseHostPort(u.spec[nextPos:hostPortEnd])

	rest := u.spec[hostPortEnd:]
	queryPos := strings.IndexByte(rest, '?')
	if queryPos < 0 {
		if refPos := strings.IndexByte(rest, '#'); refPos >= 0 {
			u.path = rest[:refPos]
			u.ref = rest[refPos+1:]
		} else {
			u.path = rest
		}
		return
	}
	u.path = rest[:queryPos]
	tail := rest[queryPos+1:]
	if refPos := strings.IndexByte(tail, '#'); refPos >= 0 {
		u.query = tail[:refPos]
		u.ref = tail[refPos+1:]
	} else {
		u.query = tail
	}
}

// parseHostPort splits "[user@]host[:port]", honoring a bracketed IPv6
// literal host so its internal colons aren't mistaken for a port
// separator — a case the grounding implementation didn't handle.
func (u *URL) parseHostPort(hostPort string) {
	rest := hostPort
	if at := strings.IndexByte(hostPort, '@'); at >= 0 {
		u.user = hostPort[:at]
		rest = hostPort[at+1:]
	}
	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end >= 0 {
			u.host = rest[:end+1]
			tail := rest[end+1:]
			if strings.HasPrefix(tail, ":") {
				u.port = tail[1:]
			}
			return
		}
	}
	if idx := strings.LastIndexByte(rest, ':'); idx >= 0 {
		u.host = rest[:idx]
		u.port = rest[idx+1:]
		return
	}
	u.host = rest
}

// isURLSafe reports whether c needs no percent-escaping: digits,
// letters, and "-._~@" pass through untouched, everything else
// (including every non-ASCII byte) is escaped.
func isURLSafe(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~' || c == '@':
		return true
	default:
		return false
	}
}

// Escape percent-escapes every byte in s that isn't URL-safe.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURLSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xf])
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// Unescape decodes "%NN" escapes and turns '+' into a space. Bytes that
// look like a malformed escape (a '%' not followed by two hex digits)
// are passed through unchanged.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s):
			hi, okHi := hexVal(s[i+1])
			lo, okLo := hexVal(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
			b.WriteByte(c)
		case c == '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// QueryParam is one "k=v" pair from a URL's query string.
type QueryParam struct {
	Key   string
	Value string
}

// QueryParams splits the query string on '&' and each pair on the
// first '=', unescaping both the key and the value.
func (u URL) QueryParams() []QueryParam {
	if u.query == "" {
		return nil
	}
	parts := strings.Split(u.query, "&")
	out := make([]QueryParam, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		out = append(out, QueryParam{Key: Unescape(k), Value: Unescape(v)})
	}
	return out
}
