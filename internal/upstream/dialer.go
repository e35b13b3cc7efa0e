// Package upstream is the proxy's DNS+TCP connector, the "upstream
// connector" external collaborator named in spec.md §1/§6: opaque
// HTTP/1.x byte forwarding, request-line-aware only as far as the
// caller already determined (method, Host).
//
// The combinator shape - a Dialer func type plus WithTimeout wrapping -
// is adapted from the teacher pack's grpc-proxy/proxy.ContextDialer /
// DialWithTimeout, generalized from dialing a gRPC backend to dialing a
// raw origin TCP connection.
package upstream

import (
	"context"
	"net"
	"time"
)

// Dialer opens a connection to addr ("host:port"), honoring ctx.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

var defaultDialer net.Dialer

// DialTCP is the proxy's default Dialer: a plain context-aware TCP dial.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	return defaultDialer.DialContext(ctx, "tcp", addr)
}

// WithTimeout wraps a Dialer so every dial is bounded by timeout,
// regardless of what deadline (if any) ctx already carries.
func WithTimeout(timeout time.Duration, d Dialer) Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d(ctx, addr)
	}
}
