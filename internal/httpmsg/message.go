package httpmsg

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/errors"
)

// ReadState is a bitmask describing what a RequestParser call produced.
type ReadState uint32

const (
	HeaderRead ReadState = 1 << iota
	BodyReading
	ChunkedBodyReading
	ChunkedTrailerReading
	BodyFinished
	ChunksFinished
	RequestFinished
	Continue
)

// ParseState is the state of a RequestParser's internal state machine.
// Values at or above FirstFinalState mean parsing stopped producing new
// output; values at or above FirstErrorState mean it stopped because of
// a protocol violation.
type ParseState int

const (
	StateInitialized ParseState = 0

	FirstFinalState ParseState = 100
	FirstErrorState ParseState = 200

	StateHeaderReading      ParseState = 1
	StateEndOfHeaderFinal   ParseState = 100
	StateBodyReading        ParseState = 10
	StateBodyEnd            ParseState = 110
	StateChunkHeadReading   ParseState = 21
	StateChunkReading       ParseState = 22
	StateEndOfChunk         ParseState = 23
	StateLastChunkRead      ParseState = 24
	StateEndOfTrailHeader   ParseState = 120

	ErrorHeaderBad            ParseState = 200
	ErrorHeaderBadContentLen  ParseState = 201
	ErrorHeaderTooLong        ParseState = 202
	ErrorContentTooLong       ParseState = 210
	ErrorContentGzipError     ParseState = 214
	ErrorChunkTooLong         ParseState = 221
	ErrorChunkTooMany         ParseState = 222
	ErrorChunkBadChunkLength  ParseState = 224
	ErrorChunkBadTermination  ParseState = 225
)

type compressOption int

const (
	compressNone compressOption = iota
	compressGzip
	compressDeflate
)

func contentEncodingOption(header *Header) compressOption {
	switch {
	case header.IsGzipContentEncoding():
		return compressGzip
	case header.IsDeflateContentEncoding():
		return compressDeflate
	default:
		return compressNone
	}
}

// compressInto writes src compressed under opt to dst, leaving src
// drained. opt == compressNone copies src to dst verbatim.
func compressInto(dst, src *buf.Buffer, opt compressOption) error {
	switch opt {
	case compressGzip:
		w := gzip.NewWriter(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	case compressDeflate:
		w, err := flate.NewWriter(dst, flate.DefaultCompression)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	default:
		_, err := io.Copy(dst, src)
		return err
	}
}

// decompressFrom decodes raw under opt into dst. opt == compressNone
// copies raw verbatim.
func decompressFrom(dst *buf.Buffer, raw []byte, opt compressOption) error {
	switch opt {
	case compressGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, zr); err != nil {
			return err
		}
		return zr.Close()
	case compressDeflate:
		zr := flate.NewReader(bytes.NewReader(raw))
		if _, err := io.Copy(dst, zr); err != nil {
			return err
		}
		return zr.Close()
	default:
		_, err := dst.Write(raw)
		return err
	}
}

// RequestStats tallies byte counts across a Request's lifetime, the way
// the original's connection layer reported per-request transfer sizes.
type RequestStats struct {
	ClientSize    int64
	ServerSize    int64
	ClientRawSize int64
	ServerRawSize int64
}

// Clear resets every counter to zero.
func (s *RequestStats) Clear() { *s = RequestStats{} }

// Request bundles a client side (request headers + body) and a server
// side (reply headers + body) of one HTTP exchange, plus the knobs that
// control gzip negotiation on encode.
type Request struct {
	ClientData   *buf.Buffer
	ClientHeader *Header
	ServerData   *buf.Buffer
	ServerHeader *Header

	// ServerUseGzipEncoding enables negotiating gzip/deflate on the
	// reply body when the client's Accept-Encoding and the reply's
	// Content-Type allow it.
	ServerUseGzipEncoding bool

	Stats RequestStats
}

// NewRequest returns an empty Request with fresh client/server headers
// and data buffers.
func NewRequest(strictHeaders bool, clientBlockSize, serverBlockSize int) *Request {
	return &Request{
		ClientData:   buf.New(clientBlockSize),
		ClientHeader: New(strictHeaders),
		ServerData:   buf.New(serverBlockSize),
		ServerHeader: New(strictHeaders),
	}
}

// NoServerBodyTransmitted reports whether the current server_header_/
// client_header_ pair calls for a bodyless reply: a HEAD request, or a
// status code that never carries a body (1xx, 204, 304).
func (r *Request) NoServerBodyTransmitted() bool {
	if r.ClientHeader.Method() == MethodHead {
		return true
	}
	return r.ServerHeader.StatusCode().SuppressesBody()
}

func (r *Request) selectClientCompression() compressOption {
	switch {
	case r.ClientHeader.IsGzipContentEncoding():
		return compressGzip
	case r.ClientHeader.IsDeflateContentEncoding():
		return compressDeflate
	default:
		return compressNone
	}
}

func (r *Request) selectServerCompression() compressOption {
	if !r.ServerUseGzipEncoding {
		return compressNone
	}
	if r.ServerHeader.HTTPVersion() < Version1_0 {
		return compressNone
	}
	if !r.ServerHeader.IsZippableContentType() {
		return compressNone
	}
	if q := r.ClientHeader.GetHeaderAcceptance(HeaderAcceptEncoding, "gzip", "", "*"); q > 0 {
		r.ServerHeader.SetContentEncoding("gzip")
		return compressGzip
	}
	if q := r.ClientHeader.GetHeaderAcceptance(HeaderAcceptEncoding, "deflate", "", "*"); q > 0 {
		r.ServerHeader.SetContentEncoding("deflate")
		return compressDeflate
	}
	return compressNone
}

// appendChunkHelper writes data (up to maxChunkSize bytes, or all of it
// if maxChunkSize <= 0) to out as one HTTP chunk, draining data.
// It reports whether this was the final (empty) chunk.
func appendChunkHelper(data, out *buf.Buffer, maxChunkSize int64) bool {
	size := data.Size()
	if maxChunkSize > 0 && int64(size) > maxChunkSize {
		size = int(maxChunkSize)
	}
	out.WriteString(strconv.FormatInt(int64(size), 16))
	out.WriteString("\r\n")
	out.AppendStream(data, size)
	out.WriteString("\r\n")
	return size == 0
}

// AppendClientRequest writes the client header and body (compressed,
// chunked, or both, as the header and maxChunkSize call for) to out,
// draining ClientData. If the header is set to chunked transfer this
// writes only the first chunk; call AppendClientChunk for the rest.
func (r *Request) AppendClientRequest(out *buf.Buffer, maxChunkSize int64) error {
	compress := r.selectClientCompression()
	body := r.ClientData
	if compress != compressNone {
		body = buf.New(r.ClientData.BlockSize())
		if err := compressInto(body, r.ClientData, compress); err != nil {
			return errors.Wrap(err, "httpmsg: compress client body")
		}
	}
	before := out.Size()
	if r.ClientHeader.IsChunkedTransfer() {
		r.ClientHeader.ClearField(HeaderContentLength)
		r.ClientHeader.AppendToStream(out)
		appendChunkHelper(body, out, maxChunkSize)
	} else {
		if r.ClientHeader.Method().HasRequestBody() || body.Size() > 0 {
			r.ClientHeader.AddField(HeaderContentLength, strconv.Itoa(body.Size()), true)
		}
		r.ClientHeader.AppendToStream(out)
		out.AppendStream(body, body.Size())
	}
	r.Stats.ClientSize += int64(out.Size() - before)
	r.ClientData.Clear()
	return nil
}

// AppendClientChunk appends the current contents of ClientData as one
// more chunk, draining it. Call with an empty ClientData to close the
// chunk stream. Reports whether this was the closing (empty) chunk.
func (r *Request) AppendClientChunk(out *buf.Buffer, maxChunkSize int64) bool {
	finished := appendChunkHelper(r.ClientData, out, maxChunkSize)
	r.ClientData.Clear()
	return finished
}

// AppendServerReply writes the server header and body to out, the same
// way AppendClientRequest does for the client side, additionally
// suppressing the body entirely when NoServerBodyTransmitted holds.
// streaming && doChunks (and HTTP/1.1+) selects chunked transfer.
func (r *Request) AppendServerReply(out *buf.Buffer, streaming, doChunks bool, maxChunkSize int64) error {
	before := out.Size()
	if r.NoServerBodyTransmitted() {
		r.ServerHeader.ClearField(HeaderContentLength)
		r.ServerHeader.SetChunkedTransfer(false)
		r.ServerHeader.AppendToStream(out)
		r.ServerData.Clear()
		r.Stats.ServerSize += int64(out.Size() - before)
		return nil
	}

	compress := r.selectServerCompression()
	body := r.ServerData
	if compress != compressNone {
		body = buf.New(r.ServerData.BlockSize())
		if err := compressInto(body, r.ServerData, compress); err != nil {
			return errors.Wrap(err, "httpmsg: compress server body")
		}
	}

	chunked := streaming && doChunks && r.ServerHeader.HTTPVersion() >= Version1_1
	if chunked {
		r.ServerHeader.SetChunkedTransfer(true)
		r.ServerHeader.ClearField(HeaderContentLength)
		r.ServerHeader.AppendToStream(out)
		appendChunkHelper(body, out, maxChunkSize)
	} else {
		r.ServerHeader.SetChunkedTransfer(false)
		r.ServerHeader.AddField(HeaderContentLength, strconv.Itoa(body.Size()), true)
		r.ServerHeader.AppendToStream(out)
		out.AppendStream(body, body.Size())
	}
	r.Stats.ServerSize += int64(out.Size() - before)
	r.ServerData.Clear()
	return nil
}

// AppendServerChunk is AppendClientChunk for the server side. It
// refuses (returning an error) unless the server header is already set
// to chunked transfer.
func (r *Request) AppendServerChunk(out *buf.Buffer, maxChunkSize int64) (bool, error) {
	if !r.ServerHeader.IsChunkedTransfer() {
		return false, errors.New("httpmsg: AppendServerChunk called without chunked transfer enabled")
	}
	finished := appendChunkHelper(r.ServerData, out, maxChunkSize)
	r.ServerData.Clear()
	return finished, nil
}

// ParserConfig bounds a RequestParser's tolerance for oversized or
// malformed input.
type ParserConfig struct {
	MaxHeaderSize            int
	MaxBodySize              int64
	MaxChunkSize             int64
	MaxNumChunks             int64
	AcceptNoContentLength    bool
	WorstAcceptedHeaderError ParseError

	// CompatGzipFallback retries a failed gzip body decode as deflate,
	// for servers that mislabel a raw deflate stream as gzip. This was
	// unconditional upstream; DefaultParserConfig keeps it on so the
	// default behavior is unchanged, but callers that would rather see
	// the real gzip error can turn it off.
	CompatGzipFallback bool
}

// DefaultParserConfig returns the limits used when a caller doesn't
// need anything unusual.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		MaxHeaderSize:            16384,
		MaxBodySize:              4 << 20,
		MaxChunkSize:             1 << 20,
		MaxNumChunks:             -1,
		WorstAcceptedHeaderError: ReadNoStatusReason,
		CompatGzipFallback:       true,
	}
}

// RequestParser incrementally parses a client request or server reply
// from a buf.Buffer, resuming across however many Parse* calls it takes
// for the rest of the message to arrive. Reuse one parser instance, one
// message at a time, calling Clear between messages.
type RequestParser struct {
	name string
	cfg  ParserConfig

	state           ParseState
	bodySizeToRead  int64
	chunkSizeToRead int64
	chunkBytesRead  int64
	numChunksRead   int64

	raw         *buf.Buffer
	trailHeader *Header
}

// NewRequestParser returns a parser named name (for logging) configured
// per cfg.
func NewRequestParser(name string, cfg ParserConfig) *RequestParser {
	p := &RequestParser{name: name, cfg: cfg}
	p.Clear()
	return p
}

// Clear resets p to parse a fresh message. Call before reusing a parser
// for a new request/reply.
func (p *RequestParser) Clear() {
	p.state = StateInitialized
	p.bodySizeToRead = 0
	p.chunkSizeToRead = 0
	p.chunkBytesRead = 0
	p.numChunksRead = 0
	p.raw = buf.New(4096)
	p.trailHeader = New(true)
}

func (p *RequestParser) State() ParseState   { return p.state }
func (p *RequestParser) InFinalState() bool  { return p.state >= FirstFinalState }
func (p *RequestParser) InErrorState() bool  { return p.state >= FirstErrorState }

// ParseClientRequest feeds in into p against req's client side.
func (p *RequestParser) ParseClientRequest(in *buf.Buffer, req *Request) ReadState {
	return p.parse(in, req, true)
}

// ParseServerReply feeds in into p against req's server side.
func (p *RequestParser) ParseServerReply(in *buf.Buffer, req *Request) ReadState {
	return p.parse(in, req, false)
}

var (
	errBadContentLength = errors.New("httpmsg: bad or missing Content-Length")
	errContentTooLong   = errors.New("httpmsg: body exceeds the configured size limit")
)

func (p *RequestParser) parse(in *buf.Buffer, req *Request, isRequest bool) ReadState {
	header, out := req.ClientHeader, req.ClientData
	if !isRequest {
		header, out = req.ServerHeader, req.ServerData
	}

	var result ReadState
	for {
		switch p.state {
		case StateInitialized:
			p.state = StateHeaderReading

		case StateHeaderReading:
			var done bool
			if isRequest {
				done = header.ParseHTTPRequest(in)
			} else {
				done = header.ParseHTTPReply(in)
			}
			if !done {
				if p.cfg.MaxHeaderSize > 0 && header.BytesParsed() > p.cfg.MaxHeaderSize {
					p.state = ErrorHeaderTooLong
					return result | RequestFinished
				}
				return result
			}
			if header.ParseError() > p.cfg.WorstAcceptedHeaderError {
				p.state = ErrorHeaderBad
				return result | HeaderRead | RequestFinished
			}
			result |= HeaderRead
			if noBodyExpected(req, header, isRequest) {
				p.state = StateEndOfHeaderFinal
				return result | RequestFinished
			}
			if err := p.beginBody(header); err != nil {
				p.state = stateForBodyError(err)
				return result | RequestFinished
			}

		case StateBodyReading:
			n, done, err := p.readIdentityBody(in)
			_ = n
			if err != nil {
				p.state = ErrorContentTooLong
				return result | BodyReading | RequestFinished
			}
			result |= BodyReading
			if !done {
				return result
			}
			if err := p.finishBody(header, out); err != nil {
				p.state = ErrorContentGzipError
				return result | BodyFinished | RequestFinished
			}
			p.state = StateBodyEnd
			return result | BodyFinished | RequestFinished

		case StateChunkHeadReading:
			line, ok := in.ReadLine()
			if !ok {
				return result
			}
			sizeField := line
			if idx := strings.IndexByte(line, ';'); idx >= 0 {
				sizeField = line[:idx]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
			if err != nil || size < 0 {
				p.state = ErrorChunkBadChunkLength
				return result | RequestFinished
			}
			if p.cfg.MaxChunkSize > 0 && size > p.cfg.MaxChunkSize {
				p.state = ErrorChunkTooLong
				return result | RequestFinished
			}
			if size == 0 {
				p.state = StateLastChunkRead
				continue
			}
			p.numChunksRead++
			if p.cfg.MaxNumChunks > 0 && p.numChunksRead > p.cfg.MaxNumChunks {
				p.state = ErrorChunkTooMany
				return result | RequestFinished
			}
			if p.cfg.MaxBodySize > 0 && int64(p.raw.Size())+size > p.cfg.MaxBodySize {
				p.state = ErrorContentTooLong
				return result | RequestFinished
			}
			p.chunkSizeToRead = size
			p.chunkBytesRead = 0
			p.state = StateChunkReading

		case StateChunkReading:
			remaining := p.chunkSizeToRead - p.chunkBytesRead
			avail := int64(in.Size())
			toRead := remaining
			if avail < toRead {
				toRead = avail
			}
			if toRead > 0 {
				n := p.raw.AppendStream(in, int(toRead))
				p.chunkBytesRead += int64(n)
				result |= ChunkedBodyReading
			}
			if p.chunkBytesRead < p.chunkSizeToRead {
				return result
			}
			p.state = StateEndOfChunk

		case StateEndOfChunk:
			line, ok := in.ReadLine()
			if !ok {
				return result
			}
			if line != "" {
				p.state = ErrorChunkBadTermination
				return result | RequestFinished
			}
			p.state = StateChunkHeadReading

		case StateLastChunkRead:
			result |= ChunkedTrailerReading
			if !p.trailHeader.ReadHeaderFields(in) {
				return result
			}
			header.CopyHeaders(p.trailHeader, true)
			if err := p.finishBody(header, out); err != nil {
				p.state = ErrorContentGzipError
				return result | ChunksFinished | RequestFinished
			}
			p.state = StateEndOfTrailHeader
			return result | ChunksFinished | RequestFinished

		default:
			return result
		}
	}
}

func noBodyExpected(req *Request, header *Header, isRequest bool) bool {
	if isRequest {
		return !header.Method().HasRequestBody() && !header.HasField(HeaderContentLength) && !header.IsChunkedTransfer()
	}
	return req.NoServerBodyTransmitted()
}

func stateForBodyError(err error) ParseState {
	if err == errContentTooLong {
		return ErrorContentTooLong
	}
	return ErrorHeaderBadContentLen
}

func (p *RequestParser) beginBody(header *Header) error {
	p.raw.Clear()
	p.chunkBytesRead = 0
	if header.IsChunkedTransfer() {
		p.numChunksRead = 0
		p.state = StateChunkHeadReading
		return nil
	}
	clStr, hasCL := header.FindField(HeaderContentLength)
	if !hasCL {
		if !p.cfg.AcceptNoContentLength {
			return errBadContentLength
		}
		p.bodySizeToRead = 0
		p.state = StateBodyReading
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(clStr), 10, 64)
	if err != nil || n < 0 {
		return errBadContentLength
	}
	if p.cfg.MaxBodySize > 0 && n > p.cfg.MaxBodySize {
		return errContentTooLong
	}
	p.bodySizeToRead = n
	p.state = StateBodyReading
	return nil
}

func (p *RequestParser) readIdentityBody(in *buf.Buffer) (n int, done bool, err error) {
	remaining := p.bodySizeToRead - int64(p.raw.Size())
	if remaining <= 0 {
		return 0, true, nil
	}
	avail := int64(in.Size())
	toRead := remaining
	if avail < toRead {
		toRead = avail
	}
	if toRead == 0 {
		return 0, false, nil
	}
	got := p.raw.AppendStream(in, int(toRead))
	if int64(p.raw.Size()) >= p.bodySizeToRead {
		return got, true, nil
	}
	return got, false, nil
}

// finishBody decodes the accumulated raw bytes per header's
// Content-Encoding into out. When CompatGzipFallback is set, a gzip
// decode failure is retried once as deflate: some servers mislabel
// deflate streams as gzip.
func (p *RequestParser) finishBody(header *Header, out *buf.Buffer) error {
	opt := contentEncodingOption(header)
	raw := []byte(p.raw.ReadAllString())
	if err := decompressFrom(out, raw, opt); err != nil {
		if p.cfg.CompatGzipFallback && opt == compressGzip {
			if err2 := decompressFrom(out, raw, compressDeflate); err2 == nil {
				return nil
			}
		}
		return err
	}
	return nil
}
