// Command proxy runs the forwarding HTTP caching proxy described in
// spec.md: it accepts client connections, serves cache hits from memory,
// and forwards cache misses (and non-cacheable requests) to the origin
// named by the Host header.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coldbyte/cacheproxy/internal/cache"
	"github.com/coldbyte/cacheproxy/internal/config"
	"github.com/coldbyte/cacheproxy/internal/logging"
	"github.com/coldbyte/cacheproxy/internal/metrics"
	"github.com/coldbyte/cacheproxy/internal/pool"
	"github.com/coldbyte/cacheproxy/internal/session"
	"github.com/coldbyte/cacheproxy/internal/upstream"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// cli is the command's full argument surface, parsed by kong the way
// the teacher's CLI tools (tempo-cli, tempo-vulture) use it.
var cli struct {
	Addr          string        `help:"Address to listen on." default:":8080"`
	DialTimeout   time.Duration `help:"Per-connection dial timeout to the origin." default:"10s"`
	ShutdownGrace time.Duration `help:"How long to wait for in-flight work during shutdown." default:"15s"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("proxy"),
		kong.Description("Forwarding HTTP caching proxy."),
	)

	logging.Init(os.Stdout, "main")
	logger := logging.Logger

	cfg, warnings := config.FromEnvironment()
	for _, w := range warnings {
		level.Warn(logger).Log("msg", w.Message, "explain", w.Explain)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cacheLogger := logging.WithThread(logger, "cache-evictor")
	c := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cacheLogger, m)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStart()
	if err := c.Start(startCtx); err != nil {
		level.Error(logger).Log("msg", "cache evictor failed to start", "err", err)
		os.Exit(1)
	}

	p := pool.New(pool.Config{
		WorkerCount:     cfg.WorkerCount,
		QueueCapacity:   cfg.QueueCapacity,
		DrainOnShutdown: cfg.DrainOnShutdown,
	}, logging.WithThread(logger, "pool"), m)

	handler := &session.Handler{
		Cache:   c,
		Dial:    upstream.WithTimeout(cli.DialTimeout, upstream.DialTCP),
		Logger:  logging.WithThread(logger, "session"),
		Metrics: m,
	}

	ln, err := net.Listen("tcp", cli.Addr)
	if err != nil {
		level.Error(logger).Log("msg", "failed to listen", "addr", cli.Addr, "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "listening", "addr", ln.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		return acceptLoop(ctx, ln, p, handler, logger)
	})

	<-ctx.Done()
	level.Info(logger).Log("msg", "shutdown signal received")

	ln.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cli.ShutdownGrace)
	defer cancelShutdown()

	if err := p.Shutdown(shutdownCtx); err != nil {
		level.Warn(logger).Log("msg", "pool shutdown did not complete cleanly", "err", err)
	}
	if err := c.Destroy(shutdownCtx); err != nil {
		level.Warn(logger).Log("msg", "cache evictor did not stop cleanly", "err", err)
	}

	if err := g.Wait(); err != nil {
		level.Info(logger).Log("msg", "accept loop exited", "err", err)
	}
}

// acceptLoop accepts connections until ctx is cancelled or the listener
// fails, submitting each one as a pool task running the session handler.
func acceptLoop(ctx context.Context, ln net.Listener, p *pool.Pool, h *session.Handler, logger log.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		c := conn
		if err := p.Submit(func(taskCtx context.Context) {
			h.Handle(taskCtx, c)
		}); err != nil {
			level.Warn(logger).Log("msg", "dropping connection: pool shutting down", "err", err)
			c.Close()
		}
	}
}
