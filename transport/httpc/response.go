// File: transport/httpc/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental HTTP/1.1 response parsing: status line and ordered headers,
// body framing (length, chunked, close-delimited) and gzip inflation.

package httpc

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/momentics/hioload-dispatch/api"
)

const (
	maxHeadBytes      = 1 << 20
	maxChunkLineBytes = 4096
)

var (
	headEnd = []byte("\r\n\r\n")

	errHeadTooLarge  = errors.New("httpc: response header too large")
	errMalformedHead = errors.New("httpc: malformed response header")
	errMalformedBody = errors.New("httpc: malformed chunked body")
)

type framing int

const (
	frameNone framing = iota
	frameLength
	frameChunked
	frameClose
)

// head is a parsed status line and header block.
type head struct {
	code    int
	headers []api.Pair
	framing framing
	length  int64
	gzip    bool
}

// interim reports a 1xx response other than 101, which precedes the final one.
func (h head) interim() bool {
	return h.code >= 100 && h.code < 200 && h.code != 101
}

// parseHead parses b, the header block without its terminating blank line.
func parseHead(b []byte, method string) (head, error) {
	lines := strings.Split(string(b), "\r\n")

	proto, rest, ok := strings.Cut(lines[0], " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") || len(rest) < 3 {
		return head{}, fmt.Errorf("%w: status line %q", errMalformedHead, lines[0])
	}
	code, err := strconv.Atoi(rest[:3])
	if err != nil || code < 100 {
		return head{}, fmt.Errorf("%w: status line %q", errMalformedHead, lines[0])
	}

	h := head{code: code, headers: make([]api.Pair, 0, len(lines)-1), length: -1}
	chunked := false
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !isToken(name) {
			return head{}, fmt.Errorf("%w: header line %q", errMalformedHead, line)
		}
		value = strings.TrimSpace(value)
		h.headers = append(h.headers, api.Pair{Key: name, Value: value})

		switch strings.ToLower(name) {
		case "transfer-encoding":
			codings := strings.Split(value, ",")
			chunked = strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
		case "content-length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 || (h.length >= 0 && h.length != n) {
				return head{}, fmt.Errorf("%w: content-length %q", errMalformedHead, value)
			}
			h.length = n
		case "content-encoding":
			h.gzip = strings.EqualFold(value, "gzip")
		}
	}

	switch {
	case method == "HEAD", code < 200, code == 204, code == 304:
		h.framing = frameNone
	case chunked:
		h.framing = frameChunked
	case h.length == 0:
		h.framing = frameNone
	case h.length > 0:
		h.framing = frameLength
	default:
		h.framing = frameClose
	}
	return h, nil
}

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataEnd
	chunkTrailer
	chunkDone
)

// chunkDecoder decodes a chunked body fed in arbitrary slices.
type chunkDecoder struct {
	state     chunkState
	remaining int64
	line      []byte
}

// takeLine accumulates p up to the next LF. It returns the rest of p and
// whether a full line is buffered in d.line.
func (d *chunkDecoder) takeLine(p []byte) ([]byte, bool, error) {
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		d.line = append(d.line, p...)
		if len(d.line) > maxChunkLineBytes {
			return nil, false, errMalformedBody
		}
		return nil, false, nil
	}
	d.line = append(d.line, p[:i]...)
	return p[i+1:], true, nil
}

func (d *chunkDecoder) feed(p []byte, out []byte) ([]byte, error) {
	for len(p) > 0 && d.state != chunkDone {
		switch d.state {
		case chunkSize:
			rest, full, err := d.takeLine(p)
			if err != nil || !full {
				return out, err
			}
			p = rest
			line := strings.TrimSpace(string(d.line))
			d.line = d.line[:0]
			if i := strings.IndexByte(line, ';'); i >= 0 {
				line = strings.TrimSpace(line[:i])
			}
			n, err := strconv.ParseInt(line, 16, 64)
			if err != nil || n < 0 {
				return out, fmt.Errorf("%w: chunk size %q", errMalformedBody, line)
			}
			if n == 0 {
				d.state = chunkTrailer
			} else {
				d.remaining = n
				d.state = chunkData
			}
		case chunkData:
			k := int64(len(p))
			if k > d.remaining {
				k = d.remaining
			}
			out = append(out, p[:k]...)
			p = p[k:]
			d.remaining -= k
			if d.remaining == 0 {
				d.state = chunkDataEnd
			}
		case chunkDataEnd:
			rest, full, err := d.takeLine(p)
			if err != nil || !full {
				return out, err
			}
			p = rest
			if len(bytes.TrimSpace(d.line)) != 0 {
				return out, errMalformedBody
			}
			d.line = d.line[:0]
			d.state = chunkSize
		case chunkTrailer:
			rest, full, err := d.takeLine(p)
			if err != nil || !full {
				return out, err
			}
			p = rest
			if len(bytes.TrimSpace(d.line)) == 0 {
				d.state = chunkDone
			}
			d.line = d.line[:0]
		}
	}
	return out, nil
}

// bodyState tracks how much of a framed body is still due.
type bodyState struct {
	framing   framing
	remaining int64
	chunks    chunkDecoder
	done      bool
}

func newBodyState(h head) bodyState {
	return bodyState{
		framing:   h.framing,
		remaining: h.length,
		done:      h.framing == frameNone,
	}
}

// feed appends the body bytes of p to body. Bytes past the end of a framed
// body are discarded.
func (b *bodyState) feed(p []byte, body *[]byte) error {
	if b.done {
		return nil
	}
	switch b.framing {
	case frameLength:
		k := int64(len(p))
		if k > b.remaining {
			k = b.remaining
		}
		*body = append(*body, p[:k]...)
		b.remaining -= k
		b.done = b.remaining == 0
	case frameChunked:
		out, err := b.chunks.feed(p, *body)
		*body = out
		if err != nil {
			return err
		}
		b.done = b.chunks.state == chunkDone
	case frameClose:
		*body = append(*body, p...)
	}
	return nil
}

// eof marks the end of the connection.
func (b *bodyState) eof() error {
	if b.done {
		return nil
	}
	if b.framing == frameClose {
		b.done = true
		return nil
	}
	return io.ErrUnexpectedEOF
}

// inflate decodes a gzip-encoded body.
func inflate(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}
