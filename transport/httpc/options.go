// File: transport/httpc/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpc

import (
	"log/slog"
	"net"
	"time"
)

const (
	defaultMaxRetries     = 1
	defaultReadBufferSize = 64 * 1024
	defaultResolveTimeout = 10 * time.Second
)

type settings struct {
	maxRetries     int
	readBufferSize int
	resolver       *net.Resolver
	log            *slog.Logger
}

func defaultSettings() settings {
	return settings{
		maxRetries:     defaultMaxRetries,
		readBufferSize: defaultReadBufferSize,
		resolver:       net.DefaultResolver,
		log:            slog.Default(),
	}
}

// Option customizes a Client.
type Option func(*settings)

// WithMaxRetries bounds transparent reconnects of a call whose connection
// closed before any response byte arrived.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithReadBufferSize sets the size of the shared socket read buffer.
func WithReadBufferSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.readBufferSize = n
		}
	}
}

// WithResolver overrides the resolver used for non-literal hosts.
func WithResolver(r *net.Resolver) Option {
	return func(s *settings) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
