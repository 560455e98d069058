package buf

import (
	"bytes"
	"strings"
)

// ReadCRLFLine reads up to and including the first CRLF. It returns false,
// leaving the buffer untouched, if no CRLF is present yet. On success the
// returned string includes the trailing CRLF.
func (b *Buffer) ReadCRLFLine() (string, bool) {
	line, ok := b.readDelimited([]byte("\r\n"))
	if !ok {
		return "", false
	}
	return string(line), true
}

// ReadLFLine is like ReadCRLFLine but looks only for a bare "\n".
func (b *Buffer) ReadLFLine() (string, bool) {
	line, ok := b.readDelimited([]byte("\n"))
	if !ok {
		return "", false
	}
	return string(line), true
}

// ReadLine reads a CRLF-terminated line and strips the trailing run of CR
// and LF bytes.
func (b *Buffer) ReadLine() (string, bool) {
	s, ok := b.ReadCRLFLine()
	if !ok {
		return "", false
	}
	return strings.TrimRight(s, "\r\n"), true
}

// readDelimited scans forward for delim without losing data on a miss: it
// marks the current position, accumulates bytes block by block, and
// restores the mark if delim is never found. While the mark is held,
// maybeDispose never retires a block, so pushing unconsumed bytes back by
// rewinding frontOff is always safe.
func (b *Buffer) readDelimited(delim []byte) ([]byte, bool) {
	b.MarkerSet()
	var acc []byte
	for {
		chunk, ok := b.ReadNext(0)
		if !ok {
			b.MarkerRestore()
			return nil, false
		}
		acc = append(acc, chunk...)
		if idx := bytes.Index(acc, delim); idx >= 0 {
			cut := idx + len(delim)
			if extra := len(acc) - cut; extra > 0 {
				b.frontOff -= extra
				b.size += extra
			}
			b.MarkerClear()
			return acc[:cut], true
		}
	}
}

// TokenReadError reports why ReadNextASCIIToken stopped.
type TokenReadError int

const (
	// TokenOK means a token was read successfully.
	TokenOK TokenReadError = iota
	// TokenNoData means the buffer had no (more) data to read.
	TokenNoData
	// TokenInvalidChar means an unexpected control character was seen.
	TokenInvalidChar
)

// httpSeparators are the RFC 2616 tspecials: characters that delimit HTTP
// tokens by themselves.
const httpSeparators = "()<>@,;:\\\"/[]?={} \t"

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func isSeparator(c byte) bool {
	return strings.IndexByte(httpSeparators, c) >= 0
}

// ReadNextASCIIToken reads the next token: a lone separator character, a
// run of non-blank non-separator characters, or a quoted string (beginning
// with ' or "), honoring backslash escapes inside the quotes. Leading
// blanks are skipped.
func (b *Buffer) ReadNextASCIIToken() (string, TokenReadError) {
	for {
		c, err := b.ReadUint8()
		if err != nil {
			return "", TokenNoData
		}
		if isBlank(c) {
			continue
		}

		if c == '\'' || c == '"' {
			return b.readQuotedToken(c)
		}

		if isSeparator(c) {
			return string(c), TokenOK
		}

		var sb strings.Builder
		sb.WriteByte(c)
		for {
			b.MarkerSet()
			c, err := b.ReadUint8()
			if err != nil {
				b.MarkerClear()
				break
			}
			if isBlank(c) || isSeparator(c) {
				b.MarkerRestore()
				break
			}
			b.MarkerClear()
			sb.WriteByte(c)
		}
		return sb.String(), TokenOK
	}
}

func (b *Buffer) readQuotedToken(quote byte) (string, TokenReadError) {
	var sb strings.Builder
	for {
		c, err := b.ReadUint8()
		if err != nil {
			return sb.String(), TokenNoData
		}
		if c == '\\' {
			esc, err := b.ReadUint8()
			if err != nil {
				return sb.String(), TokenNoData
			}
			sb.WriteByte(esc)
			continue
		}
		if c == quote {
			return sb.String(), TokenOK
		}
		sb.WriteByte(c)
	}
}
