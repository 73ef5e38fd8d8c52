// File: transport/httpc/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP/1.1 request serialization.

package httpc

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/momentics/hioload-dispatch/api"
)

// headers the client manages itself; caller-supplied values are dropped.
var managedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"transfer-encoding": true,
}

// isToken reports whether s is a non-empty RFC 7230 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func validHost(h string) bool {
	if h == "" || len(h) > 253 {
		return false
	}
	if net.ParseIP(h) != nil {
		return true
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-' || c == '.' || c == '_':
		default:
			return false
		}
	}
	return true
}

func validHeaderValue(v string) bool {
	return strings.IndexAny(v, "\r\n\x00") < 0
}

// requestTarget renders the origin-form target: escaped path segments
// joined by "/" followed by the ordered query pairs.
func requestTarget(segments []string, params []api.Pair) string {
	var b strings.Builder
	if len(segments) == 0 {
		b.WriteByte('/')
	}
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

func hostHeader(host string, port uint16, useTLS bool) string {
	if strings.IndexByte(host, ':') >= 0 {
		host = "[" + host + "]"
	}
	if (!useTLS && port == 80) || (useTLS && port == 443) {
		return host
	}
	return host + ":" + strconv.Itoa(int(port))
}

func bodyExpected(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// buildRequest validates sub and serializes it as an HTTP/1.1 request.
func buildRequest(sub *api.Submission, policy api.CallPolicy) ([]byte, error) {
	method := strings.ToUpper(sub.Method)
	if !isToken(method) {
		return nil, fmt.Errorf("%w: method %q", api.ErrInvalidArgument, sub.Method)
	}
	if !validHost(sub.Host) {
		return nil, fmt.Errorf("%w: host %q", api.ErrInvalidArgument, sub.Host)
	}
	if sub.Port == 0 {
		return nil, fmt.Errorf("%w: port 0", api.ErrInvalidArgument)
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(sub.Body))
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, requestTarget(sub.PathSegments, sub.Params))
	fmt.Fprintf(&buf, "Host: %s\r\n", hostHeader(sub.Host, sub.Port, sub.UseTLS))

	hasAcceptEncoding := false
	for _, h := range sub.Headers {
		if !isToken(h.Key) || !validHeaderValue(h.Value) {
			return nil, fmt.Errorf("%w: header %q", api.ErrInvalidArgument, h.Key)
		}
		lower := strings.ToLower(h.Key)
		if managedHeaders[lower] {
			continue
		}
		if lower == "accept-encoding" {
			hasAcceptEncoding = true
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Key, h.Value)
	}
	if policy.AcceptGzip && !hasAcceptEncoding {
		buf.WriteString("Accept-Encoding: gzip\r\n")
	}
	if len(sub.Body) > 0 || bodyExpected(method) {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(sub.Body))
	}
	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(sub.Body)
	return buf.Bytes(), nil
}
