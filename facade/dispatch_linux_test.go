//go:build linux

package facade_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/facade"
)

func TestDispatcher_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Timeout") == "" || r.Header.Get("Cache-Control") != "no-cache" {
			http.Error(w, "missing dispatcher headers", http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Client-Seen", r.Header.Get("X-Client"))
		io.WriteString(w, r.URL.Path)
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	d := facade.New(testConfig(), facade.WithFaultSink(io.Discard))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Close()
	d.SetClient("e2e")

	const n = 20
	ids := make([]api.CallID, 0, n)
	for i := 0; i < n; i++ {
		id, err := d.Submit(api.Request{
			Timeout:      5 * time.Second,
			Method:       "GET",
			Host:         host,
			Port:         uint16(port),
			PathSegments: []string{"items", strconv.Itoa(i)},
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
	}

	remaining := append([]api.CallID(nil), ids...)
	for len(remaining) > 0 {
		got, err := d.BlockOnIDs(remaining)
		if err != nil {
			t.Fatalf("BlockOnIDs: %v", err)
		}
		for i, id := range remaining {
			if id == got {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}

	for i, id := range ids {
		comp, ok, err := d.PollReady(id)
		if !ok || err != nil {
			t.Fatalf("PollReady(%d) = %v, %v", id, ok, err)
		}
		resp, err := comp.Result()
		if err != nil {
			t.Fatalf("call %d failed: %v", id, err)
		}
		if want := "/items/" + strconv.Itoa(i); resp.Code != 200 || string(resp.Body) != want {
			t.Errorf("call %d = %d %q, want %q", id, resp.Code, resp.Body, want)
		}
		if v, _ := resp.Header("X-Client-Seen"); v != "e2e" {
			t.Errorf("X-Client not forwarded: %q", v)
		}
	}

	if got := d.Control().Stats()["calls.completed"]; got != int64(n) {
		t.Errorf("calls.completed = %v", got)
	}
}

func TestDispatcher_CloseAbandonsHungCall(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	d := facade.New(testConfig(), facade.WithFaultSink(io.Discard))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := d.Submit(api.Request{Timeout: time.Minute, Method: "GET", Host: host, Port: uint16(port)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}

	start := time.Now()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v with a call in flight", elapsed)
	}
	if _, err := d.BlockOnIDs([]api.CallID{id}); !errors.Is(err, api.ErrTransportUnavailable) {
		t.Errorf("BlockOnIDs after Close = %v", err)
	}
}
