package httpc

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"testing"

	"github.com/momentics/hioload-dispatch/api"
)

func TestParseHead(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\nContent-Length: 5"
	h, err := parseHead([]byte(raw), "GET")
	if err != nil {
		t.Fatalf("parseHead: %v", err)
	}
	if h.code != 200 || h.framing != frameLength || h.length != 5 {
		t.Errorf("head = %+v", h)
	}
	want := []api.Pair{
		{Key: "Content-Type", Value: "text/plain"},
		{Key: "Set-Cookie", Value: "a=1"},
		{Key: "Set-Cookie", Value: "b=2"},
		{Key: "Content-Length", Value: "5"},
	}
	if len(h.headers) != len(want) {
		t.Fatalf("headers = %v", h.headers)
	}
	for i := range want {
		if h.headers[i] != want[i] {
			t.Errorf("header[%d] = %v, want %v", i, h.headers[i], want[i])
		}
	}
}

func TestParseHead_Framing(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		method string
		want   framing
	}{
		{"no content", "HTTP/1.1 204 No Content", "GET", frameNone},
		{"not modified", "HTTP/1.1 304 Not Modified\r\nContent-Length: 10", "GET", frameNone},
		{"head request", "HTTP/1.1 200 OK\r\nContent-Length: 10", "HEAD", frameNone},
		{"zero length", "HTTP/1.1 200 OK\r\nContent-Length: 0", "GET", frameNone},
		{"chunked wins", "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\nContent-Length: 3", "GET", frameChunked},
		{"close delimited", "HTTP/1.0 200 OK", "GET", frameClose},
		{"interim", "HTTP/1.1 100 Continue", "POST", frameNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseHead([]byte(tt.raw), tt.method)
			if err != nil {
				t.Fatalf("parseHead: %v", err)
			}
			if h.framing != tt.want {
				t.Errorf("framing = %v, want %v", h.framing, tt.want)
			}
		})
	}
}

func TestParseHead_Malformed(t *testing.T) {
	for _, raw := range []string{
		"SPDY/3 200 OK",
		"HTTP/1.1 abc",
		"HTTP/1.1 200 OK\r\nno colon here",
		"HTTP/1.1 200 OK\r\nContent-Length: -1",
		"HTTP/1.1 200 OK\r\nContent-Length: 1\r\nContent-Length: 2",
	} {
		if _, err := parseHead([]byte(raw), "GET"); !errors.Is(err, errMalformedHead) {
			t.Errorf("parseHead(%q) = %v, want errMalformedHead", raw, err)
		}
	}
}

func TestChunkDecoder_ByteAtATime(t *testing.T) {
	raw := []byte("5;ext=1\r\nhello\r\n7\r\n, world\r\n0\r\nTrailer: x\r\n\r\n")
	var d chunkDecoder
	var out []byte
	var err error
	for i := range raw {
		out, err = d.feed(raw[i:i+1], out)
		if err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	if d.state != chunkDone {
		t.Fatalf("state = %v, want done", d.state)
	}
	if string(out) != "hello, world" {
		t.Errorf("decoded = %q", out)
	}
}

func TestChunkDecoder_Malformed(t *testing.T) {
	var d chunkDecoder
	if _, err := d.feed([]byte("zz\r\n"), nil); !errors.Is(err, errMalformedBody) {
		t.Errorf("bad size: %v", err)
	}
	d = chunkDecoder{}
	if _, err := d.feed([]byte("2\r\nabXX\r\n"), nil); !errors.Is(err, errMalformedBody) {
		t.Errorf("missing CRLF: %v", err)
	}
}

func TestBodyState(t *testing.T) {
	b := newBodyState(head{framing: frameLength, length: 4})
	var body []byte
	_ = b.feed([]byte("ab"), &body)
	if b.done {
		t.Fatal("done after partial body")
	}
	_ = b.feed([]byte("cdEXTRA"), &body)
	if !b.done || string(body) != "abcd" {
		t.Errorf("done=%v body=%q", b.done, body)
	}

	closed := newBodyState(head{framing: frameClose})
	body = body[:0]
	_ = closed.feed([]byte("tail"), &body)
	if closed.done {
		t.Fatal("close-delimited body done before EOF")
	}
	if err := closed.eof(); err != nil || !closed.done {
		t.Errorf("eof() = %v", err)
	}

	short := newBodyState(head{framing: frameLength, length: 10})
	if err := short.eof(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("eof() on short body = %v", err)
	}
}

func TestInflate(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("compressed payload"))
	_ = zw.Close()

	out, err := inflate(buf.Bytes())
	if err != nil || string(out) != "compressed payload" {
		t.Errorf("inflate() = %q, %v", out, err)
	}
	if _, err := inflate([]byte("not gzip")); err == nil {
		t.Error("inflate accepted garbage")
	}
}
