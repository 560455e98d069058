package httpmsg_test

import (
	"testing"
	"time"

	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/httpmsg"
)

func TestNormalizeFieldName(t *testing.T) {
	cases := map[string]string{
		"content-lengTH":  "Content-Length",
		"HOST":            "Host",
		"x-request-id":    "X-Request-Id",
		"  Accept ":       "Accept",
		"Accept-Encoding": "Accept-Encoding",
	}
	for in, want := range cases {
		if got := httpmsg.NormalizeFieldName(in); got != want {
			t.Errorf("NormalizeFieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddFieldMergesRepeats(t *testing.T) {
	h := httpmsg.New(false)
	if !h.AddField("X-Tag", "a", false) {
		t.Fatal("AddField(a) refused")
	}
	if !h.AddField("x-tag", "b", false) {
		t.Fatal("AddField(b) refused")
	}
	v, ok := h.FindField("X-Tag")
	if !ok || v != "a, b" {
		t.Fatalf("FindField = %q, %v, want \"a, b\", true", v, ok)
	}
	if !h.AddField("X-Tag", "c", true) {
		t.Fatal("AddField(c, replace) refused")
	}
	if v, _ := h.FindField("X-Tag"); v != "c" {
		t.Fatalf("FindField after replace = %q, want c", v)
	}
}

func TestAddFieldRejectsInvalid(t *testing.T) {
	h := httpmsg.New(false)
	if h.AddField("", "x", false) {
		t.Fatal("AddField accepted an empty name")
	}
	if h.AddField("Bad Name:", "x", false) {
		t.Fatal("AddField accepted a name containing ':'")
	}
	if h.AddField("X", "bad\x01value", false) {
		t.Fatal("AddField accepted a control byte in the value")
	}
}

func TestClearFieldAndHasField(t *testing.T) {
	h := httpmsg.New(false)
	h.AddField("Host", "example.com", true)
	if !h.HasField("host") {
		t.Fatal("HasField(host) false after AddField(Host)")
	}
	if !h.ClearField("HOST") {
		t.Fatal("ClearField(HOST) reported field missing")
	}
	if h.HasField("Host") {
		t.Fatal("HasField(Host) true after ClearField")
	}
	if h.ClearField("Host") {
		t.Fatal("ClearField reported success on an already-missing field")
	}
}

func TestCopyHeaderFields(t *testing.T) {
	src := httpmsg.New(false)
	src.AddField("Host", "example.com", true)
	src.AddField("Accept", "*/*", true)

	dst := httpmsg.New(false)
	dst.AddField("Accept", "text/html", true)

	n := dst.CopyHeaders(src, false)
	if n != 2 {
		t.Fatalf("CopyHeaders returned %d, want 2", n)
	}
	if v, _ := dst.FindField("Accept"); v != "text/html, */*" {
		t.Fatalf("Accept after merge copy = %q", v)
	}
	if v, _ := dst.FindField("Host"); v != "example.com" {
		t.Fatalf("Host after copy = %q", v)
	}
}

func TestAppendToStreamOrderAndRoundtrip(t *testing.T) {
	h := httpmsg.New(false)
	h.PrepareRequestLine("/widgets", httpmsg.MethodGet, httpmsg.Version1_1)
	h.AddField("Host", "example.com", true)
	h.AddField("Accept", "*/*", true)

	out := buf.New(64)
	h.AppendToStream(out)
	wire := out.ReadAllString()

	want := "GET /widgets HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"
	if wire != want {
		t.Fatalf("AppendToStream = %q, want %q", wire, want)
	}

	in := buf.New(64)
	in.WriteString(wire)
	parsed := httpmsg.New(false)
	if !parsed.ParseHTTPRequest(in) {
		t.Fatal("ParseHTTPRequest did not complete on a full message")
	}
	if parsed.Method() != httpmsg.MethodGet || parsed.URI() != "/widgets" || parsed.HTTPVersion() != httpmsg.Version1_1 {
		t.Fatalf("parsed start-line = %v %q %v", parsed.Method(), parsed.URI(), parsed.HTTPVersion())
	}
	if v, _ := parsed.FindField("Host"); v != "example.com" {
		t.Fatalf("parsed Host = %q", v)
	}
	if parsed.ParseError() != httpmsg.ReadOK {
		t.Fatalf("ParseError() = %v, want ReadOK", parsed.ParseError())
	}
}

func TestParseHTTPRequestIncremental(t *testing.T) {
	wire := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\n"
	h := httpmsg.New(false)

	in := buf.New(8)
	in.WriteString(wire[:10])
	if h.ParseHTTPRequest(in) {
		t.Fatal("ParseHTTPRequest completed on a partial start-line")
	}

	in.WriteString(wire[10:])
	if !h.ParseHTTPRequest(in) {
		t.Fatal("ParseHTTPRequest did not complete once the rest arrived")
	}
	if h.Method() != httpmsg.MethodPost || h.URI() != "/submit" {
		t.Fatalf("parsed = %v %q", h.Method(), h.URI())
	}
	if v, _ := h.FindField("Content-Length"); v != "5" {
		t.Fatalf("Content-Length = %q", v)
	}
}

func TestParseHeaderFieldsContinuationLine(t *testing.T) {
	wire := "HTTP/1.1 200 OK\r\nX-Long: first\r\n part two\r\n\r\n"
	in := buf.New(64)
	in.WriteString(wire)

	h := httpmsg.New(false)
	if !h.ParseHTTPReply(in) {
		t.Fatal("ParseHTTPReply did not complete")
	}
	if v, _ := h.FindField("X-Long"); v != "first part two" {
		t.Fatalf("X-Long = %q, want \"first part two\"", v)
	}
}

func TestParseHTTPReplyMissingReasonTracksError(t *testing.T) {
	wire := "HTTP/1.1 204\r\n\r\n"
	in := buf.New(64)
	in.WriteString(wire)

	h := httpmsg.New(false)
	if !h.ParseHTTPReply(in) {
		t.Fatal("ParseHTTPReply did not complete")
	}
	if h.StatusCode() != httpmsg.StatusNoContent {
		t.Fatalf("StatusCode = %v, want 204", h.StatusCode())
	}
	if h.ParseError() != httpmsg.ReadNoStatusReason {
		t.Fatalf("ParseError = %v, want ReadNoStatusReason", h.ParseError())
	}
}

func TestIsChunkedAndContentEncodingHelpers(t *testing.T) {
	h := httpmsg.New(false)
	if h.IsChunkedTransfer() {
		t.Fatal("IsChunkedTransfer true with no Transfer-Encoding set")
	}
	h.SetChunkedTransfer(true)
	if !h.IsChunkedTransfer() {
		t.Fatal("IsChunkedTransfer false after SetChunkedTransfer(true)")
	}
	h.SetChunkedTransfer(false)
	if h.IsChunkedTransfer() {
		t.Fatal("IsChunkedTransfer true after SetChunkedTransfer(false)")
	}

	h.SetContentEncoding("gzip")
	if !h.IsGzipContentEncoding() || h.IsDeflateContentEncoding() {
		t.Fatal("gzip content-encoding not detected correctly")
	}
}

func TestIsKeepAliveConnection(t *testing.T) {
	h11 := httpmsg.New(false)
	h11.SetHTTPVersion(httpmsg.Version1_1)
	if !h11.IsKeepAliveConnection() {
		t.Fatal("HTTP/1.1 with no Connection field should default to keep-alive")
	}
	h11.AddField("Connection", "close", true)
	if h11.IsKeepAliveConnection() {
		t.Fatal("Connection: close should override the HTTP/1.1 default")
	}

	h10 := httpmsg.New(false)
	h10.SetHTTPVersion(httpmsg.Version1_0)
	if h10.IsKeepAliveConnection() {
		t.Fatal("HTTP/1.0 with no Connection field should default to close")
	}
	h10.AddField("Connection", "keep-alive", true)
	if !h10.IsKeepAliveConnection() {
		t.Fatal("Connection: keep-alive should override the HTTP/1.0 default")
	}
}

func TestDateFieldRoundtrip(t *testing.T) {
	h := httpmsg.New(false)
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	h.SetDateField(httpmsg.HeaderDate, now)
	got, ok := h.GetDateField(httpmsg.HeaderDate)
	if !ok {
		t.Fatal("GetDateField failed to parse a field it wrote itself")
	}
	if !got.Equal(now) {
		t.Fatalf("GetDateField = %v, want %v", got, now)
	}
}

func TestAuthorizationFieldRoundtrip(t *testing.T) {
	h := httpmsg.New(false)
	if !h.SetAuthorizationField("alice", "s3cret") {
		t.Fatal("SetAuthorizationField refused a valid user/password")
	}
	user, pass, ok := h.GetAuthorizationField()
	if !ok || user != "alice" || pass != "s3cret" {
		t.Fatalf("GetAuthorizationField = %q, %q, %v", user, pass, ok)
	}
	if h.SetAuthorizationField("ali:ce", "x") {
		t.Fatal("SetAuthorizationField accepted a user containing ':'")
	}
}

func TestGetHeaderAcceptance(t *testing.T) {
	h := httpmsg.New(false)
	h.AddField("Accept-Encoding", "gzip;q=0.8, deflate;q=0.5, *;q=0.1", true)

	if q := h.GetHeaderAcceptance("Accept-Encoding", "gzip", "", "*"); q != 0.8 {
		t.Fatalf("acceptance(gzip) = %v, want 0.8", q)
	}
	if q := h.GetHeaderAcceptance("Accept-Encoding", "br", "", "*"); q != 0.1 {
		t.Fatalf("acceptance(br) via wildcard = %v, want 0.1", q)
	}

	empty := httpmsg.New(false)
	if q := empty.GetHeaderAcceptance("Accept-Encoding", "gzip", "", "*"); q != 1 {
		t.Fatalf("acceptance with no field present = %v, want 1", q)
	}
}

func TestIsZippableContentType(t *testing.T) {
	h := httpmsg.New(false)
	h.AddField("Content-Type", "text/plain; charset=utf-8", true)
	if !h.IsZippableContentType() {
		t.Fatal("text/plain should be zippable")
	}
	h.AddField("Content-Type", "image/png", true)
	if h.IsZippableContentType() {
		t.Fatal("image/png should not be zippable")
	}
}

func TestStatusLineComposition(t *testing.T) {
	h := httpmsg.New(false)
	h.PrepareStatusLine(httpmsg.StatusNotFound, httpmsg.Version1_1)
	out := buf.New(32)
	h.AppendToStream(out)
	want := "HTTP/1.1 404 Not Found\r\n\r\n"
	if got := out.ReadAllString(); got != want {
		t.Fatalf("status line = %q, want %q", got, want)
	}
}
