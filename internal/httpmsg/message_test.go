package httpmsg_test

import (
	"testing"

	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/httpmsg"
)

func TestAppendAndParseIdentityRequest(t *testing.T) {
	req := httpmsg.NewRequest(false, 64, 64)
	req.ClientHeader.PrepareRequestLine("/widgets", httpmsg.MethodPost, httpmsg.Version1_1)
	req.ClientHeader.AddField("Host", "example.com", true)
	req.ClientData.WriteString("hello world")

	wire := buf.New(64)
	if err := req.AppendClientRequest(wire, -1); err != nil {
		t.Fatalf("AppendClientRequest() = %v", err)
	}
	if req.ClientData.Size() != 0 {
		t.Fatal("AppendClientRequest did not drain ClientData")
	}

	parsed := httpmsg.NewRequest(false, 64, 64)
	parser := httpmsg.NewRequestParser("test", httpmsg.DefaultParserConfig())
	rs := parser.ParseClientRequest(wire, parsed)

	if rs&httpmsg.HeaderRead == 0 {
		t.Fatal("ParseClientRequest did not report HeaderRead")
	}
	if rs&httpmsg.RequestFinished == 0 {
		t.Fatal("ParseClientRequest did not report RequestFinished")
	}
	if rs&httpmsg.BodyFinished == 0 {
		t.Fatal("ParseClientRequest did not report BodyFinished")
	}
	if parsed.ClientHeader.Method() != httpmsg.MethodPost || parsed.ClientHeader.URI() != "/widgets" {
		t.Fatalf("parsed start-line = %v %q", parsed.ClientHeader.Method(), parsed.ClientHeader.URI())
	}
	if got := parsed.ClientData.ReadAllString(); got != "hello world" {
		t.Fatalf("parsed body = %q, want %q", got, "hello world")
	}
}

func TestAppendAndParseChunkedRequest(t *testing.T) {
	req := httpmsg.NewRequest(false, 64, 64)
	req.ClientHeader.PrepareRequestLine("/upload", httpmsg.MethodPost, httpmsg.Version1_1)
	req.ClientHeader.AddField("Host", "example.com", true)
	req.ClientHeader.SetChunkedTransfer(true)

	wire := buf.New(64)
	req.ClientData.WriteString("first-")
	if err := req.AppendClientRequest(wire, -1); err != nil {
		t.Fatalf("AppendClientRequest() = %v", err)
	}
	req.ClientData.WriteString("second")
	if req.AppendClientChunk(wire, -1) {
		t.Fatal("AppendClientChunk reported finished on a non-empty chunk")
	}
	if !req.AppendClientChunk(wire, -1) {
		t.Fatal("AppendClientChunk on empty data should close the chunk stream")
	}

	parsed := httpmsg.NewRequest(false, 64, 64)
	parser := httpmsg.NewRequestParser("test", httpmsg.DefaultParserConfig())
	rs := parser.ParseClientRequest(wire, parsed)

	if rs&httpmsg.ChunksFinished == 0 {
		t.Fatal("ParseClientRequest did not report ChunksFinished")
	}
	if rs&httpmsg.RequestFinished == 0 {
		t.Fatal("ParseClientRequest did not report RequestFinished")
	}
	if got := parsed.ClientData.ReadAllString(); got != "first-second" {
		t.Fatalf("parsed chunked body = %q, want %q", got, "first-second")
	}
}

func TestParseClientRequestIncrementalAcrossCalls(t *testing.T) {
	wire := buf.New(8)
	wire.WriteString("GET /a HTTP/1.1\r\nHost: example.com\r\n")

	parsed := httpmsg.NewRequest(false, 64, 64)
	parser := httpmsg.NewRequestParser("test", httpmsg.DefaultParserConfig())

	if rs := parser.ParseClientRequest(wire, parsed); rs&httpmsg.RequestFinished != 0 {
		t.Fatal("parse completed before the blank line arrived")
	}

	wire.WriteString("\r\n")
	rs := parser.ParseClientRequest(wire, parsed)
	if rs&httpmsg.RequestFinished == 0 {
		t.Fatal("parse did not complete once the blank line arrived")
	}
	if parsed.ClientHeader.Method() != httpmsg.MethodGet {
		t.Fatalf("Method = %v, want GET", parsed.ClientHeader.Method())
	}
}

func TestNoBodyReplyForHeadRequest(t *testing.T) {
	req := httpmsg.NewRequest(false, 64, 64)
	req.ClientHeader.PrepareRequestLine("/page", httpmsg.MethodHead, httpmsg.Version1_1)
	req.ServerHeader.PrepareStatusLine(httpmsg.StatusOK, httpmsg.Version1_1)
	req.ServerHeader.AddField("Content-Type", "text/html", true)
	req.ServerData.WriteString("should not be sent")

	wire := buf.New(64)
	if err := req.AppendServerReply(wire, false, false, -1); err != nil {
		t.Fatalf("AppendServerReply() = %v", err)
	}
	if req.ServerHeader.HasField("Content-Length") {
		t.Fatal("a suppressed-body reply should not carry Content-Length")
	}

	wireStr := wire.ReadAllString()
	if wireStr != "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n" {
		t.Fatalf("wire = %q", wireStr)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	req := httpmsg.NewRequest(false, 64, 64)
	req.ClientHeader.PrepareRequestLine("/compressed", httpmsg.MethodPost, httpmsg.Version1_1)
	req.ClientHeader.AddField("Host", "example.com", true)
	req.ClientHeader.SetContentEncoding("gzip")
	body := "repeat repeat repeat repeat repeat"
	req.ClientData.WriteString(body)

	wire := buf.New(128)
	if err := req.AppendClientRequest(wire, -1); err != nil {
		t.Fatalf("AppendClientRequest() = %v", err)
	}

	parsed := httpmsg.NewRequest(false, 128, 128)
	parser := httpmsg.NewRequestParser("test", httpmsg.DefaultParserConfig())
	rs := parser.ParseClientRequest(wire, parsed)
	if rs&httpmsg.BodyFinished == 0 {
		t.Fatal("gzip body did not finish parsing")
	}
	if got := parsed.ClientData.ReadAllString(); got != body {
		t.Fatalf("decoded gzip body = %q, want %q", got, body)
	}
}

func TestParserRejectsOversizedContentLength(t *testing.T) {
	wire := buf.New(64)
	wire.WriteString("POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 999999999\r\n\r\n")

	parsed := httpmsg.NewRequest(false, 64, 64)
	cfg := httpmsg.DefaultParserConfig()
	cfg.MaxBodySize = 10
	parser := httpmsg.NewRequestParser("test", cfg)

	rs := parser.ParseClientRequest(wire, parsed)
	if rs&httpmsg.RequestFinished == 0 {
		t.Fatal("oversized Content-Length should terminate parsing")
	}
	if !parser.InErrorState() {
		t.Fatal("parser should be in an error state after an oversized Content-Length")
	}
	if parser.State() != httpmsg.ErrorContentTooLong {
		t.Fatalf("State() = %v, want ErrorContentTooLong", parser.State())
	}
}

func TestParserHandlesMalformedChunkSize(t *testing.T) {
	wire := buf.New(64)
	wire.WriteString("POST /x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n")
	wire.WriteString("zzz\r\n")

	parsed := httpmsg.NewRequest(false, 64, 64)
	parser := httpmsg.NewRequestParser("test", httpmsg.DefaultParserConfig())
	rs := parser.ParseClientRequest(wire, parsed)

	if rs&httpmsg.RequestFinished == 0 {
		t.Fatal("a malformed chunk size should terminate parsing")
	}
	if parser.State() != httpmsg.ErrorChunkBadChunkLength {
		t.Fatalf("State() = %v, want ErrorChunkBadChunkLength", parser.State())
	}
}
