package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coldbyte/cacheproxy/internal/cache"
	"github.com/coldbyte/cacheproxy/internal/logging"
	"github.com/coldbyte/cacheproxy/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// originFixed is a test origin that, for every accepted connection,
// reads one request and writes back a fixed response body, tracking
// how many requests it actually handled.
type originFixed struct {
	body string

	mu    sync.Mutex
	count int
}

func startOrigin(t *testing.T, o *originFixed) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\r\n" || line == "\n" {
						break
					}
				}
				o.mu.Lock()
				o.count++
				o.mu.Unlock()
				conn.Write([]byte(o.body))
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestHandler(t *testing.T, dial func(ctx context.Context, addr string) (net.Conn, error)) (*Handler, *cache.Cache) {
	t.Helper()
	logger := logging.New(io.Discard, "test")
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(8, time.Hour, logger, m)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Destroy(context.Background()) })

	return &Handler{Cache: c, Dial: dial, Logger: logger, Metrics: m}, c
}

func clientRequest(t *testing.T, h *Handler, req string) string {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Handle(context.Background(), server)
	}()

	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	out, _ := io.ReadAll(client)
	<-done
	return string(out)
}

func TestColdMissFetchesFromOrigin(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	origin := &originFixed{body: "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok"}
	addr := startOrigin(t, origin)

	h, _ := newTestHandler(t, func(ctx context.Context, _ string) (net.Conn, error) {
		return net.Dial("tcp", addr)
	})

	out := clientRequest(t, h, fmt.Sprintf("GET /a HTTP/1.0\r\nHost: %s\r\n\r\n", addr))
	require.Equal(t, origin.body, out)

	origin.mu.Lock()
	require.Equal(t, 1, origin.count)
	origin.mu.Unlock()
}

func TestWarmHitDoesNotRefetch(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	origin := &originFixed{body: "HTTP/1.0 200 OK\r\nContent-Length: 3\r\n\r\nhit"}
	addr := startOrigin(t, origin)

	h, _ := newTestHandler(t, func(ctx context.Context, _ string) (net.Conn, error) {
		return net.Dial("tcp", addr)
	})

	req := fmt.Sprintf("GET /b HTTP/1.0\r\nHost: %s\r\n\r\n", addr)

	first := clientRequest(t, h, req)
	second := clientRequest(t, h, req)

	require.Equal(t, origin.body, first)
	require.Equal(t, origin.body, second)

	origin.mu.Lock()
	require.Equal(t, 1, origin.count)
	origin.mu.Unlock()
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	release := make(chan struct{})
	var accepted int
	var acceptedMu sync.Mutex

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			acceptedMu.Lock()
			accepted++
			acceptedMu.Unlock()
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\r\n" || line == "\n" {
						break
					}
				}
				<-release
				conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 4\r\n\r\nbusy"))
			}()
		}
	}()

	h, _ := newTestHandler(t, func(ctx context.Context, _ string) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	})

	req := fmt.Sprintf("GET /c HTTP/1.0\r\nHost: %s\r\n\r\n", ln.Addr().String())

	const n = 5
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = clientRequest(t, h, req)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		require.Equal(t, "HTTP/1.0 200 OK\r\nContent-Length: 4\r\n\r\nbusy", r, "result %d", i)
	}

	acceptedMu.Lock()
	require.Equal(t, 1, accepted)
	acceptedMu.Unlock()
}

func TestUpstreamFailureEvictsEntry(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h, c := newTestHandler(t, func(ctx context.Context, _ string) (net.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	})

	req := "GET /d HTTP/1.0\r\nHost: unreachable.test\r\n\r\n"
	out := clientRequest(t, h, req)
	require.Empty(t, out)

	_, ok := c.Get([]byte("GET /d HTTP/1.0\nHost: unreachable.test\n"))
	require.False(t, ok)
}

func TestNonCacheablePassesThrough(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	origin := &originFixed{body: "HTTP/1.0 200 OK\r\nContent-Length: 7\r\n\r\ncreated"}
	addr := startOrigin(t, origin)

	h, _ := newTestHandler(t, func(ctx context.Context, _ string) (net.Conn, error) {
		return net.Dial("tcp", addr)
	})

	out := clientRequest(t, h, fmt.Sprintf("POST /e HTTP/1.1\r\nHost: %s\r\n\r\n", addr))
	require.Equal(t, origin.body, out)
}
