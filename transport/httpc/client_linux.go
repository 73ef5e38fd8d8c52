//go:build linux
// +build linux

// File: transport/httpc/client_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux client: raw non-blocking sockets and timerfd deadlines via
// golang.org/x/sys/unix. Host names are resolved on a helper goroutine
// whose result is signalled through an eventfd, so the loop goroutine only
// ever blocks in the poller.

package httpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"golang.org/x/sys/unix"
)

// token kinds, stored in the low bit of a registration token.
const (
	kindSocket uint64 = 0
	kindTimer  uint64 = 1
)

func token(ref api.CallRef, kind uint64) uint64 {
	return uint64(ref)<<1 | kind
}

// call is the client-side state of one in-flight request.
type call struct {
	ref     api.CallRef
	method  string
	addr    unix.Sockaddr
	lookup  *lookup // non-nil until the host is resolved
	req     []byte
	gzip    bool
	fd      int
	timerFd int

	out       []byte // unsent request bytes
	connected bool
	timedOut  bool
	retries   int
	gotBytes  bool // any response byte on the current connection

	head     []byte
	headDone bool
	hd       head
	body     bodyState
}

// lookup is a host resolution running off the loop goroutine. Its eventfd
// stands in for the socket under the call's token until the result is in.
type lookup struct {
	efd    int
	cancel context.CancelFunc

	mu     sync.Mutex
	done   bool
	closed bool
	addr   unix.Sockaddr
	err    error
}

func (lk *lookup) finish(addr unix.Sockaddr, err error) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.closed {
		return
	}
	lk.addr, lk.err, lk.done = addr, err, true
	var b [8]byte
	b[0] = 1
	_, _ = unix.Write(lk.efd, b[:])
}

func (lk *lookup) result() (addr unix.Sockaddr, done bool, err error) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return lk.addr, lk.done, lk.err
}

// Client implements api.Transport. It is confined to one goroutine.
type Client struct {
	settings
	calls   map[api.CallRef]*call
	nextRef api.CallRef
	scratch []byte
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
	return &Client{
		settings: s,
		calls:    make(map[api.CallRef]*call),
		scratch:  make([]byte, s.readBufferSize),
	}
}

// Open places the call: it resolves the target, starts a non-blocking
// connect and arms the call's deadline timer.
func (c *Client) Open(sub *api.Submission, policy api.CallPolicy, reg api.Registry) (api.CallRef, error) {
	if sub.UseTLS {
		return 0, api.ErrTLSUnsupported
	}
	req, err := buildRequest(sub, policy)
	if err != nil {
		return 0, err
	}

	c.nextRef++
	cl := &call{
		ref:     c.nextRef,
		method:  methodOf(sub),
		req:     req,
		gzip:    policy.AcceptGzip,
		fd:      -1,
		timerFd: -1,
	}
	if ip := net.ParseIP(sub.Host); ip != nil {
		cl.addr = sockaddr(ip, sub.Port)
		err = c.connect(cl, reg)
	} else {
		err = c.startLookup(cl, reg, sub.Host, sub.Port, sub.Timeout)
	}
	if err != nil {
		return 0, err
	}
	if sub.Timeout > 0 {
		if err := c.armTimer(cl, reg, sub.Timeout); err != nil {
			c.drop(cl, reg)
			return 0, err
		}
	}
	c.calls[cl.ref] = cl
	return cl.ref, nil
}

func methodOf(sub *api.Submission) string {
	return strings.ToUpper(sub.Method)
}

// startLookup registers an eventfd under the call's socket token and
// resolves host on a helper goroutine. Send picks up the result.
func (c *Client) startLookup(cl *call, reg api.Registry, host string, port uint16, timeout time.Duration) error {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("eventfd", err)
	}
	if err := reg.Register(efd, api.InterestRead, token(cl.ref, kindSocket)); err != nil {
		unix.Close(efd)
		return err
	}
	if timeout <= 0 || timeout > defaultResolveTimeout {
		timeout = defaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	lk := &lookup{efd: efd, cancel: cancel}
	cl.lookup = lk

	resolver := c.resolver
	go func() {
		addr, err := resolve(ctx, resolver, host, port)
		cancel()
		lk.finish(addr, err)
	}()
	return nil
}

// stopLookup abandons cl's lookup, if any, and closes its eventfd.
func (c *Client) stopLookup(cl *call, reg api.Registry) {
	lk := cl.lookup
	if lk == nil {
		return
	}
	cl.lookup = nil
	lk.cancel()

	lk.mu.Lock()
	defer lk.mu.Unlock()
	lk.closed = true
	if reg != nil {
		_ = reg.Unregister(lk.efd)
	}
	unix.Close(lk.efd)
}

func resolve(ctx context.Context, resolver *net.Resolver, host string, port uint16) (unix.Sockaddr, error) {
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("resolve %s: %w", host, api.ErrTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return sockaddr(a.IP, port), nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	return sockaddr(addrs[0].IP, port), nil
}

func sockaddr(ip net.IP, port uint16) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	return sa
}

// connect opens a fresh socket for cl and resets its per-connection state.
func (c *Client) connect(cl *call, reg api.Registry) error {
	family := unix.AF_INET
	if _, ok := cl.addr.(*unix.SockaddrInet6); ok {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	if err := unix.Connect(fd, cl.addr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return os.NewSyscallError("connect", err)
	}
	if err := reg.Register(fd, api.InterestWrite, token(cl.ref, kindSocket)); err != nil {
		unix.Close(fd)
		return err
	}

	cl.fd = fd
	cl.out = cl.req
	cl.connected = false
	cl.gotBytes = false
	cl.head = nil
	cl.headDone = false
	cl.hd = head{}
	cl.body = bodyState{}
	return nil
}

func (c *Client) armTimer(cl *call, reg api.Registry, d time.Duration) error {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("timerfd_create", err)
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(tfd, 0, &spec, nil); err != nil {
		unix.Close(tfd)
		return os.NewSyscallError("timerfd_settime", err)
	}
	if err := reg.Register(tfd, api.InterestRead, token(cl.ref, kindTimer)); err != nil {
		unix.Close(tfd)
		return err
	}
	cl.timerFd = tfd
	return nil
}

// Resolve maps an event to its call. A timer event marks the call as
// timed out; the next Send or Recv reports api.ErrTimeout.
func (c *Client) Resolve(ev api.Event) (api.CallRef, bool) {
	ref := api.CallRef(ev.Token >> 1)
	cl, ok := c.calls[ref]
	if !ok {
		return 0, false
	}
	if ev.Token&1 == kindTimer {
		var b [8]byte
		_, _ = unix.Read(cl.timerFd, b[:])
		cl.timedOut = true
	}
	return ref, true
}

// Send writes as much of the pending request as the socket accepts.
func (c *Client) Send(reg api.Registry, ref api.CallRef) api.SendResult {
	cl, ok := c.calls[ref]
	if !ok {
		return api.SendResult{State: api.SendError, Err: api.ErrUnknownCall}
	}
	if cl.timedOut {
		return api.SendResult{State: api.SendError, Err: api.ErrTimeout}
	}
	if cl.lookup != nil {
		addr, done, err := cl.lookup.result()
		if !done {
			return api.SendResult{State: api.SendWait}
		}
		c.stopLookup(cl, reg)
		if err != nil {
			return api.SendResult{State: api.SendError, Err: err}
		}
		cl.addr = addr
		if err := c.connect(cl, reg); err != nil {
			return api.SendResult{State: api.SendError, Err: err}
		}
		return api.SendResult{State: api.SendWait}
	}
	if !cl.connected {
		soerr, err := unix.GetsockoptInt(cl.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return api.SendResult{State: api.SendError, Err: os.NewSyscallError("getsockopt", err)}
		}
		if soerr != 0 {
			return api.SendResult{State: api.SendError, Err: os.NewSyscallError("connect", syscall.Errno(soerr))}
		}
		cl.connected = true
	}

	for len(cl.out) > 0 {
		n, err := unix.SendmsgN(cl.fd, cl.out, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return api.SendResult{State: api.SendWait}
		case err != nil:
			return api.SendResult{State: api.SendError, Err: os.NewSyscallError("sendmsg", err)}
		}
		cl.out = cl.out[n:]
	}

	if err := reg.Modify(cl.fd, api.InterestRead, token(cl.ref, kindSocket)); err != nil {
		return api.SendResult{State: api.SendError, Err: err}
	}
	return api.SendResult{State: api.SendReceiving}
}

// Recv performs one read and advances response parsing. Body bytes are
// appended to body.
func (c *Client) Recv(reg api.Registry, ref api.CallRef, body *[]byte) api.RecvResult {
	cl, ok := c.calls[ref]
	if !ok {
		return recvError(api.ErrUnknownCall)
	}
	if cl.timedOut {
		return recvError(api.ErrTimeout)
	}

	n, err := unix.Read(cl.fd, c.scratch)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return api.RecvResult{State: api.RecvWait}
	case err != nil:
		if c.canRetry(cl) && (err == unix.ECONNRESET || err == unix.EPIPE) {
			return c.resend(cl, reg)
		}
		return recvError(os.NewSyscallError("read", err))
	case n == 0:
		if c.canRetry(cl) {
			return c.resend(cl, reg)
		}
		return c.finishEOF(cl, body)
	}
	cl.gotBytes = true
	return c.consume(cl, c.scratch[:n], body)
}

func recvError(err error) api.RecvResult {
	return api.RecvResult{State: api.RecvError, Err: err}
}

func (c *Client) canRetry(cl *call) bool {
	return !cl.gotBytes && cl.retries < c.maxRetries
}

func (c *Client) consume(cl *call, p []byte, body *[]byte) api.RecvResult {
	if cl.headDone {
		if err := cl.body.feed(p, body); err != nil {
			return recvError(err)
		}
		if !cl.body.done {
			return api.RecvResult{State: api.RecvWait}
		}
		if err := c.finishBody(cl, body); err != nil {
			return recvError(err)
		}
		return api.RecvResult{State: api.RecvBodyDone}
	}

	cl.head = append(cl.head, p...)
	for {
		i := bytes.Index(cl.head, headEnd)
		if i < 0 {
			if len(cl.head) > maxHeadBytes {
				return recvError(errHeadTooLarge)
			}
			return api.RecvResult{State: api.RecvWait}
		}
		h, err := parseHead(cl.head[:i], cl.method)
		if err != nil {
			return recvError(err)
		}
		rest := cl.head[i+len(headEnd):]
		if h.interim() {
			cl.head = append([]byte(nil), rest...)
			continue
		}

		cl.headDone = true
		cl.hd = h
		cl.head = nil
		cl.body = newBodyState(h)
		if err := cl.body.feed(rest, body); err != nil {
			return recvError(err)
		}
		res := api.RecvResult{State: api.RecvHeaders, Code: h.code, Headers: h.headers}
		if cl.body.done {
			if err := c.finishBody(cl, body); err != nil {
				return recvError(err)
			}
			res.BodyDone = true
		}
		return res
	}
}

func (c *Client) finishEOF(cl *call, body *[]byte) api.RecvResult {
	if !cl.headDone {
		return recvError(io.ErrUnexpectedEOF)
	}
	if err := cl.body.eof(); err != nil {
		return recvError(err)
	}
	if err := c.finishBody(cl, body); err != nil {
		return recvError(err)
	}
	return api.RecvResult{State: api.RecvBodyDone}
}

func (c *Client) finishBody(cl *call, body *[]byte) error {
	if !cl.gzip || !cl.hd.gzip || len(*body) == 0 {
		return nil
	}
	out, err := inflate(*body)
	if err != nil {
		return err
	}
	*body = out
	return nil
}

// resend reconnects cl on a fresh socket under a new ref.
func (c *Client) resend(cl *call, reg api.Registry) api.RecvResult {
	old := cl.ref
	c.closeSocket(cl, reg)
	delete(c.calls, old)

	c.nextRef++
	cl.ref = c.nextRef
	cl.retries++
	c.log.Debug("reconnecting call", slog.Uint64("old_ref", uint64(old)), slog.Uint64("ref", uint64(cl.ref)), slog.Int("attempt", cl.retries))

	if err := c.connect(cl, reg); err != nil {
		c.drop(cl, reg)
		return recvError(err)
	}
	if cl.timerFd >= 0 {
		if err := reg.Modify(cl.timerFd, api.InterestRead, token(cl.ref, kindTimer)); err != nil {
			c.drop(cl, reg)
			return recvError(err)
		}
	}
	c.calls[cl.ref] = cl
	return api.RecvResult{State: api.RecvResend, Ref: cl.ref}
}

// Release unregisters and closes the call's descriptors.
func (c *Client) Release(reg api.Registry, ref api.CallRef) {
	if cl, ok := c.calls[ref]; ok {
		c.drop(cl, reg)
	}
}

// Close releases every remaining call. Descriptors are closed without
// unregistering; the kernel drops them from any epoll set on close.
func (c *Client) Close() error {
	for _, cl := range c.calls {
		c.drop(cl, nil)
	}
	return nil
}

// Pending returns the number of live calls.
func (c *Client) Pending() int { return len(c.calls) }

func (c *Client) closeSocket(cl *call, reg api.Registry) {
	if cl.fd < 0 {
		return
	}
	if reg != nil {
		_ = reg.Unregister(cl.fd)
	}
	unix.Close(cl.fd)
	cl.fd = -1
}

func (c *Client) drop(cl *call, reg api.Registry) {
	c.stopLookup(cl, reg)
	c.closeSocket(cl, reg)
	if cl.timerFd >= 0 {
		if reg != nil {
			_ = reg.Unregister(cl.timerFd)
		}
		unix.Close(cl.timerFd)
		cl.timerFd = -1
	}
	delete(c.calls, cl.ref)
}
