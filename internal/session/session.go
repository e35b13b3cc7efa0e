// Package session implements the per-connection task body described in
// spec.md §4.5: parse the request, route it to the cache or the origin,
// and stream bytes to the client - this is the task the pool's worker
// goroutines run.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/coldbyte/cacheproxy/internal/cache"
	"github.com/coldbyte/cacheproxy/internal/cacheerr"
	"github.com/coldbyte/cacheproxy/internal/httpreq"
	"github.com/coldbyte/cacheproxy/internal/metrics"
	"github.com/coldbyte/cacheproxy/internal/msgbuffer"
	"github.com/coldbyte/cacheproxy/internal/upstream"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const copyBufferSize = 32 * 1024

// Handler wires a Cache and a Dialer into the per-connection routine
// that internal/pool's workers invoke for every accepted client socket.
type Handler struct {
	Cache   *cache.Cache
	Dial    upstream.Dialer
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Handle implements one accepted connection's lifetime: parse, route,
// stream, close. It never returns an error to the pool - all failures
// are logged and reflected by closing the client connection, matching
// spec.md §7's "never abort the process mid-request" policy.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := httpreq.Parse(br)
	if err != nil {
		level.Warn(h.Logger).Log("msg", "failed to parse request", "err", err)
		return
	}

	if !req.Cacheable() {
		if err := h.forwardRaw(ctx, conn, br, req); err != nil {
			level.Info(h.Logger).Log("msg", "non-cacheable forward ended", "err", err)
		}
		return
	}

	fp := req.Fingerprint()

	if entry, ok := h.Cache.Get(fp); ok {
		h.recordHit()
		h.streamFromBuffer(conn, entry.Buffer())
		return
	}

	entry, installed := h.Cache.Add(fp)
	if !installed {
		// A concurrent producer won the race; fall back to the hit path,
		// per spec.md §4.5.
		h.recordHit()
		h.streamFromBuffer(conn, entry.Buffer())
		return
	}

	h.recordMiss()
	h.produce(ctx, conn, entry, req)
}

func (h *Handler) recordHit() {
	if h.Metrics != nil {
		h.Metrics.CacheHits.Inc()
	}
}

func (h *Handler) recordMiss() {
	if h.Metrics != nil {
		h.Metrics.CacheMisses.Inc()
	}
}

// streamFromBuffer is the consumer loop from spec.md §4.1's rationale:
// read the available slice, write it to the client, advance the
// offset, and let Buffer.ReadFrom block internally until there is more
// to read or a terminal state. A write failure here is a
// ClientDisconnect: this consumer simply stops, leaving the producer
// and any other consumers unaffected.
func (h *Handler) streamFromBuffer(conn net.Conn, buf *msgbuffer.Buffer) {
	offset := 0
	for {
		data, state, ferr := buf.ReadFrom(offset)
		if len(data) > 0 {
			if _, err := conn.Write(data); err != nil {
				return // ErrClientDisconnect: this consumer leaves quietly
			}
			offset += len(data)
		}

		switch state {
		case msgbuffer.StateComplete:
			return
		case msgbuffer.StateError:
			if ferr != nil {
				level.Info(h.Logger).Log("msg", "consumer observed upstream failure", "err", ferr)
			}
			return
		}
	}
}

// produce is the cache-miss path: dial the origin, relay the request,
// then read the response, appending every chunk to entry's buffer while
// simultaneously writing it to this session's own client - the
// producer is also its own first consumer, per spec.md §4.5.
func (h *Handler) produce(ctx context.Context, client net.Conn, entry *cache.Entry, req *httpreq.Request) {
	buf := entry.Buffer()

	upConn, err := h.Dial(ctx, req.HostPort())
	if err != nil {
		h.abortProduction(entry, buf, fmt.Errorf("%w: %v", cacheerr.ErrUpstreamFailure, err))
		return
	}
	defer upConn.Close()

	if _, err := upConn.Write(req.Raw); err != nil {
		h.abortProduction(entry, buf, fmt.Errorf("%w: %v", cacheerr.ErrUpstreamFailure, err))
		return
	}

	chunk := make([]byte, copyBufferSize)
	clientAlive := true

	for {
		n, rerr := upConn.Read(chunk)
		if n > 0 {
			if appendErr := buf.Append(chunk[:n]); appendErr != nil {
				level.Warn(h.Logger).Log("msg", "append to finalized buffer", "err", appendErr)
			}
			if clientAlive {
				if _, werr := client.Write(chunk[:n]); werr != nil {
					clientAlive = false
				}
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				buf.Finalize()
			} else {
				h.abortProduction(entry, buf, fmt.Errorf("%w: %v", cacheerr.ErrUpstreamFailure, rerr))
			}
			return
		}
	}
}

func (h *Handler) abortProduction(entry *cache.Entry, buf *msgbuffer.Buffer, reason error) {
	buf.Fail(reason)
	if err := h.Cache.Delete(entry.Fingerprint()); err != nil {
		level.Warn(h.Logger).Log("msg", "failed to evict failed entry", "err", err)
	}
	if h.Metrics != nil {
		h.Metrics.CacheEvictions.Inc()
	}
	level.Warn(h.Logger).Log("msg", "upstream production aborted", "err", reason)
}

// forwardRaw handles the non-cacheable path: open the origin connection
// and relay bytes in both directions verbatim, with no cache
// involvement.
func (h *Handler) forwardRaw(ctx context.Context, client net.Conn, br *bufio.Reader, req *httpreq.Request) error {
	upConn, err := h.Dial(ctx, req.HostPort())
	if err != nil {
		return fmt.Errorf("%w: %v", cacheerr.ErrUpstreamFailure, err)
	}
	defer upConn.Close()

	if _, err := upConn.Write(req.Raw); err != nil {
		return fmt.Errorf("%w: %v", cacheerr.ErrUpstreamFailure, err)
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(upConn, br)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(client, upConn)
		errCh <- err
	}()

	return <-errCh
}
