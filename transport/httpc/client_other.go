//go:build !linux
// +build !linux

// File: transport/httpc/client_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub client for platforms without epoll and timerfd.

package httpc

import (
	"errors"

	"github.com/momentics/hioload-dispatch/api"
)

var errUnsupported = errors.New("httpc: this platform is not supported")

// Client fails every call on unsupported platforms.
type Client struct {
	settings
}

var _ api.Transport = (*Client)(nil)

// New constructs a Client.
func New(opts ...Option) *Client {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Client{settings: s}
}

func (c *Client) Open(*api.Submission, api.CallPolicy, api.Registry) (api.CallRef, error) {
	return 0, errUnsupported
}

func (c *Client) Resolve(api.Event) (api.CallRef, bool) { return 0, false }

func (c *Client) Send(api.Registry, api.CallRef) api.SendResult {
	return api.SendResult{State: api.SendError, Err: errUnsupported}
}

func (c *Client) Recv(api.Registry, api.CallRef, *[]byte) api.RecvResult {
	return api.RecvResult{State: api.RecvError, Err: errUnsupported}
}

func (c *Client) Release(api.Registry, api.CallRef) {}

func (c *Client) Close() error { return nil }

// Pending returns the number of live calls.
func (c *Client) Pending() int { return 0 }
