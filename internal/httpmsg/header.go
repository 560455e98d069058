package httpmsg

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arnegard/netbase/internal/buf"
)

// ParseError ranks how badly a header parse went; later constants are
// more severe. The cumulative error tracked on a Header is always the
// worst one seen so far, never downgraded by a later, milder mistake.
type ParseError int

const (
	ReadInit ParseError = iota
	ReadOK
	ReadNoData
	ReadBadFieldSpec
	ReadNoField
	ReadNoStatusReason
	ReadNoRequestVersion
	ReadInvalidStatusCode
	ReadNoStatusCode
	ReadNoRequestURI
)

var parseErrorNames = [...]string{
	"READ_INIT", "READ_OK", "READ_NO_DATA", "READ_BAD_FIELD_SPEC",
	"READ_NO_FIELD", "READ_NO_STATUS_REASON", "READ_NO_REQUEST_VERSION",
	"READ_INVALID_STATUS_CODE", "READ_NO_STATUS_CODE", "READ_NO_REQUEST_URI",
}

func (e ParseError) String() string {
	if int(e) < len(parseErrorNames) {
		return parseErrorNames[e]
	}
	return "READ_UNKNOWN"
}

// FirstLineType records what kind of start-line a Header holds.
type FirstLineType int

const (
	UnknownLine FirstLineType = iota
	RequestLine
	StatusLine
	ErrorLine
)

// Header parses and composes an HTTP message header directly against a
// buf.Buffer, incrementally: a partial header can be fed across several
// Parse* calls as more bytes arrive, resuming exactly where the last
// call left off.
type Header struct {
	IsStrict bool

	bytesParsed    int
	parseError     ParseError
	lastParseError ParseError

	pendingName  string
	pendingValue string
	hasPending   bool

	httpVersion   Version
	method        Method
	statusCode    StatusCode
	uri           string
	reason        string
	firstLineType FirstLineType

	fieldOrder []string
	fields     map[string]string
	verbatim   string
}

// New returns an empty Header. isStrict makes field validation refuse
// more marginal input; non-strict headers still flag the same errors but
// carry on appending the offending field.
func New(isStrict bool) *Header {
	h := &Header{IsStrict: isStrict}
	h.Clear()
	return h
}

// Clear puts h back into its zero state, ready to parse a fresh message.
func (h *Header) Clear() {
	h.bytesParsed = 0
	h.parseError = ReadInit
	h.lastParseError = ReadInit
	h.pendingName = ""
	h.pendingValue = ""
	h.hasPending = false
	h.httpVersion = VersionUnknown
	h.method = MethodUnknown
	h.statusCode = StatusUnknown
	h.uri = ""
	h.reason = ""
	h.firstLineType = UnknownLine
	h.fieldOrder = nil
	h.fields = make(map[string]string)
	h.verbatim = ""
}

func (h *Header) setParseError(e ParseError) {
	h.lastParseError = e
	if e > h.parseError {
		h.parseError = e
	}
}

// BytesParsed returns how many header bytes have been consumed so far.
func (h *Header) BytesParsed() int { return h.bytesParsed }

// ParseError returns the worst error encountered across every Parse*
// call made on h since the last Clear.
func (h *Header) ParseError() ParseError { return h.parseError }

// LastParseError returns the error (possibly ReadOK) from the most
// recent Parse* call.
func (h *Header) LastParseError() ParseError { return h.lastParseError }

func (h *Header) HTTPVersion() Version       { return h.httpVersion }
func (h *Header) Method() Method             { return h.method }
func (h *Header) URI() string                { return h.uri }
func (h *Header) StatusCode() StatusCode     { return h.statusCode }
func (h *Header) Reason() string             { return h.reason }
func (h *Header) FirstLineType() FirstLineType { return h.firstLineType }

func (h *Header) SetHTTPVersion(v Version) { h.httpVersion = v }
func (h *Header) SetMethod(m Method)       { h.method = m }
func (h *Header) SetURI(uri string)        { h.uri = uri }
func (h *Header) SetStatusCode(c StatusCode) { h.statusCode = c }
func (h *Header) SetReason(r string)       { h.reason = r }

// SetVerbatim stores text appended as-is right before the terminating
// CRLF, for callers that need to inject fields AppendToStream doesn't
// know how to compose (e.g. already-framed multi-value cookies).
func (h *Header) SetVerbatim(v string) { h.verbatim = v }

// PrepareRequestLine sets up h to compose a request start-line.
func (h *Header) PrepareRequestLine(uri string, method Method, version Version) {
	h.uri = uri
	h.method = method
	h.httpVersion = version
	h.firstLineType = RequestLine
}

// PrepareStatusLine sets up h to compose a status start-line, filling in
// the standard reason phrase for code.
func (h *Header) PrepareStatusLine(code StatusCode, version Version) {
	h.statusCode = code
	h.reason = code.Reason()
	h.httpVersion = version
	h.firstLineType = StatusLine
}

// isCTLByte reports whether c is an HTTP control character (RFC 2616's
// CTL, octets 0-31 plus DEL).
func isCTLByte(c byte) bool { return c <= 31 || c == 127 }

const httpSeparatorBytes = "()<>@,;:\\\"/[]?={} \t"

func isSeparatorByte(c byte) bool { return strings.IndexByte(httpSeparatorBytes, c) >= 0 }
func isBlankByte(c byte) bool     { return c == ' ' || c == '\t' }

// IsValidFieldName reports whether name is a non-empty ASCII token
// (no CTL, no separator other than internal LWS).
func IsValidFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c > 127 || isCTLByte(c) {
			return false
		}
		if isSeparatorByte(c) && !isBlankByte(c) {
			return false
		}
	}
	return true
}

// IsValidFieldContent reports whether value has no CTL bytes other than
// LWS (space, tab).
func IsValidFieldContent(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isCTLByte(c) && !isBlankByte(c) {
			return false
		}
	}
	return true
}

// NormalizeFieldName lowercases name, maps internal whitespace to '-',
// then uppercases the first letter of each '-'-separated token:
// "content-lengTH" becomes "Content-Length".
func NormalizeFieldName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isBlankByte(c) {
			b.WriteByte('-')
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	parts := strings.Split(b.String(), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// AddField adds name/value to h. If the field content or field name is
// invalid it refuses the field and returns false. If replace is false
// and the field already exists, value is appended to the prior content
// with ", " rather than overwriting it, per RFC 2616 §4.2's rule for
// combining repeated header fields into one comma-separated value.
func (h *Header) AddField(name, value string, replace bool) bool {
	if !IsValidFieldName(name) || !IsValidFieldContent(value) {
		return false
	}
	norm := NormalizeFieldName(name)
	if existing, ok := h.fields[norm]; ok {
		if replace {
			h.fields[norm] = value
		} else if existing == "" {
			h.fields[norm] = value
		} else {
			h.fields[norm] = existing + ", " + value
		}
		return true
	}
	h.fieldOrder = append(h.fieldOrder, norm)
	h.fields[norm] = value
	return true
}

// ClearField removes name from h entirely, reporting whether it had
// been present.
func (h *Header) ClearField(name string) bool {
	norm := NormalizeFieldName(name)
	if _, ok := h.fields[norm]; !ok {
		return false
	}
	delete(h.fields, norm)
	for i, n := range h.fieldOrder {
		if n == norm {
			h.fieldOrder = append(h.fieldOrder[:i], h.fieldOrder[i+1:]...)
			break
		}
	}
	return true
}

// FindField returns name's value, if set.
func (h *Header) FindField(name string) (string, bool) {
	v, ok := h.fields[NormalizeFieldName(name)]
	return v, ok
}

// HasField reports whether name is set.
func (h *Header) HasField(name string) bool {
	_, ok := h.fields[NormalizeFieldName(name)]
	return ok
}

// CopyHeaderFields copies every field from src into h (skipping ones
// AddField would refuse), returning how many were copied.
func (h *Header) CopyHeaderFields(src *Header, replace bool) int {
	n := 0
	for _, name := range src.fieldOrder {
		if h.AddField(name, src.fields[name], replace) {
			n++
		}
	}
	return n
}

// CopyHeaders copies src's fields into h, same as CopyHeaderFields.
func (h *Header) CopyHeaders(src *Header, replace bool) int {
	return h.CopyHeaderFields(src, replace)
}

// ComposeFirstLine renders h's start-line, including its trailing CRLF.
// Returns a bare CRLF for UnknownLine/ErrorLine.
func (h *Header) ComposeFirstLine() string {
	switch h.firstLineType {
	case RequestLine:
		return h.method.String() + " " + h.uri + " " + h.httpVersion.String() + "\r\n"
	case StatusLine:
		return h.httpVersion.String() + " " + strconv.Itoa(int(h.statusCode)) + " " + h.reason + "\r\n"
	default:
		return "\r\n"
	}
}

// AppendToStream writes h's start-line, every field in insertion order,
// any verbatim trailer, and the terminating blank line to out.
func (h *Header) AppendToStream(out *buf.Buffer) {
	out.WriteString(h.ComposeFirstLine())
	for _, name := range h.fieldOrder {
		out.WriteString(name)
		out.WriteString(": ")
		out.WriteString(h.fields[name])
		out.WriteString("\r\n")
	}
	if h.verbatim != "" {
		out.WriteString(h.verbatim)
	}
	out.WriteString("\r\n")
}

// ToString renders h the same as AppendToStream, as a plain string.
func (h *Header) ToString() string {
	out := buf.New(0)
	h.AppendToStream(out)
	return out.ReadAllString()
}

// ParseHTTPRequest feeds in into the incremental parser, expecting a
// request start-line. Call repeatedly as more data becomes available
// until it returns done=true.
func (h *Header) ParseHTTPRequest(in *buf.Buffer) (done bool) {
	return h.parseHeader(in, RequestLine)
}

// ParseHTTPReply is ParseHTTPRequest for a status start-line.
func (h *Header) ParseHTTPReply(in *buf.Buffer) (done bool) {
	return h.parseHeader(in, StatusLine)
}

func (h *Header) parseHeader(in *buf.Buffer, expected FirstLineType) bool {
	if h.firstLineType == UnknownLine {
		if !h.readFirstLine(in, expected) {
			return false
		}
	}
	return h.ReadHeaderFields(in)
}

func (h *Header) readFirstLine(in *buf.Buffer, expected FirstLineType) bool {
	line, ok := in.ReadLine()
	if !ok {
		return false
	}
	h.bytesParsed += len(line) + 2

	parts := strings.SplitN(line, " ", 3)
	switch expected {
	case RequestLine:
		h.method = MethodUnknown
		if len(parts) > 0 {
			h.method = ParseMethod(parts[0])
		}
		if len(parts) < 2 || parts[1] == "" {
			h.setParseError(ReadNoRequestURI)
		} else {
			h.uri = parts[1]
		}
		if len(parts) < 3 {
			h.setParseError(ReadNoRequestVersion)
			h.httpVersion = Version0_9
		} else {
			h.httpVersion = ParseVersion(parts[2])
		}
		h.firstLineType = RequestLine
	case StatusLine:
		if len(parts) > 0 {
			h.httpVersion = ParseVersion(parts[0])
		}
		if len(parts) < 2 {
			h.setParseError(ReadNoStatusCode)
		} else {
			h.parseStatusCode(parts[1])
		}
		if len(parts) < 3 {
			h.setParseError(ReadNoStatusReason)
			h.reason = ""
		} else {
			h.reason = parts[2]
		}
		h.firstLineType = StatusLine
	}
	return true
}

func (h *Header) parseStatusCode(s string) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		h.setParseError(ReadInvalidStatusCode)
		h.statusCode = StatusUnknown
		return
	}
	h.statusCode = StatusCode(n)
}

// ReadHeaderFields reads fields (no start-line) until a blank line
// terminates them, for use without a leading start-line — trailer
// fields after a chunked body, for instance. It returns true once the
// blank line has been consumed.
func (h *Header) ReadHeaderFields(in *buf.Buffer) bool {
	for {
		line, ok := in.ReadLine()
		if !ok {
			return false
		}
		h.bytesParsed += len(line) + 2

		if line == "" {
			h.finalizePending()
			h.setParseError(ReadOK)
			return true
		}

		if len(line) > 0 && isBlankByte(line[0]) {
			if h.hasPending {
				h.pendingValue += " " + strings.TrimSpace(line)
			} else {
				h.setParseError(ReadBadFieldSpec)
			}
			continue
		}

		h.finalizePending()

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			h.setParseError(ReadNoField)
			continue
		}
		h.pendingName = line[:idx]
		h.pendingValue = strings.TrimLeft(line[idx+1:], " \t")
		h.hasPending = true
	}
}

func (h *Header) finalizePending() {
	if !h.hasPending {
		return
	}
	if !h.AddField(h.pendingName, h.pendingValue, false) {
		h.setParseError(ReadBadFieldSpec)
	}
	h.pendingName = ""
	h.pendingValue = ""
	h.hasPending = false
}

// IsChunkedTransfer reports whether Transfer-Encoding names "chunked".
func (h *Header) IsChunkedTransfer() bool {
	return fieldHasToken(h.fields[HeaderTransferEncoding], "chunked")
}

// SetChunkedTransfer sets or clears a "chunked" Transfer-Encoding.
func (h *Header) SetChunkedTransfer(chunked bool) {
	if chunked {
		h.AddField(HeaderTransferEncoding, "chunked", true)
	} else {
		h.ClearField(HeaderTransferEncoding)
	}
}

// IsGzipContentEncoding reports whether Content-Encoding names "gzip".
func (h *Header) IsGzipContentEncoding() bool {
	return fieldHasToken(h.fields[HeaderContentEncoding], "gzip")
}

// IsDeflateContentEncoding reports whether Content-Encoding names
// "deflate".
func (h *Header) IsDeflateContentEncoding() bool {
	return fieldHasToken(h.fields[HeaderContentEncoding], "deflate")
}

// SetContentEncoding sets the Content-Encoding field to encoding.
func (h *Header) SetContentEncoding(encoding string) {
	h.AddField(HeaderContentEncoding, encoding, true)
}

func fieldHasToken(field, token string) bool {
	for _, part := range strings.Split(field, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// IsKeepAliveConnection reports whether the connection should be kept
// open after this message, honoring each version's default and any
// explicit Connection override.
func (h *Header) IsKeepAliveConnection() bool {
	conn := strings.ToLower(h.fields[HeaderConnection])
	switch {
	case fieldHasToken(conn, "close"):
		return false
	case fieldHasToken(conn, "keep-alive"):
		return true
	default:
		return h.httpVersion >= Version1_1
	}
}

// IsZippableContentType reports whether Content-Type is a text/* or
// application/* type, the two families worth gzip/deflate-compressing.
func (h *Header) IsZippableContentType() bool {
	ct := h.fields[HeaderContentType]
	return strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "application/")
}

// GetDateField parses name's value as an HTTP date, trying RFC 1123,
// RFC 850, and asctime formats in turn (net/http.ParseTime already
// implements exactly this three-format fallback).
func (h *Header) GetDateField(name string) (time.Time, bool) {
	v, ok := h.fields[NormalizeFieldName(name)]
	if !ok {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetDateField formats t in RFC 1123 GMT form and stores it under name.
func (h *Header) SetDateField(name string, t time.Time) {
	h.AddField(name, t.UTC().Format(http.TimeFormat), true)
}

// GetAuthorizationField decodes a Basic Authorization field into a
// user/password pair.
func (h *Header) GetAuthorizationField() (user, passwd string, ok bool) {
	v, present := h.fields[HeaderAuthorization]
	if !present {
		return "", "", false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), true
}

// SetAuthorizationField sets a Basic Authorization field for user and
// passwd. It refuses (returning false) a user containing ':', since
// that would make the encoded credential ambiguous to decode.
func (h *Header) SetAuthorizationField(user, passwd string) bool {
	if strings.Contains(user, ":") {
		return false
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + passwd))
	h.AddField(HeaderAuthorization, "Basic "+encoded, true)
	return true
}

// GetHeaderAcceptance returns the quality (0..1) the field's value
// assigns to the given candidate value, per RFC 2616 §14's accept-header
// grammar: "token[;q=0.x]" entries separated by commas, falling back
// from an exact match to localWildcard ("type/*") to globalWildcard
// ("*/*" or bare "*"), in that order. A field that isn't present at all
// is treated as accepting anything, quality 1.
func (h *Header) GetHeaderAcceptance(field, value, localWildcard, globalWildcard string) float64 {
	raw, ok := h.fields[NormalizeFieldName(field)]
	if !ok || raw == "" {
		return 1
	}
	best := -1.0
	for _, entry := range strings.Split(raw, ",") {
		name, quality := parseAcceptEntry(entry)
		var match bool
		switch name {
		case value:
			match = true
		case localWildcard:
			match = localWildcard != ""
		case globalWildcard:
			match = globalWildcard != ""
		}
		if match && quality > best {
			best = quality
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func parseAcceptEntry(entry string) (name string, quality float64) {
	quality = 1
	parts := strings.Split(entry, ";")
	name = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if !strings.HasPrefix(p, "q=") {
			continue
		}
		if q, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
			quality = q
		}
	}
	return name, quality
}
