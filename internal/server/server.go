// Package server runs the ShareKeeper TCP listener and hands every accepted
// connection to a connection handler on its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// acceptBackoff is the pause after a transient Accept failure.
	acceptBackoff = 50 * time.Millisecond
	// limiterTTL is how long an idle remote IP keeps its rate bucket.
	limiterTTL = 10 * time.Minute
)

// ConnHandler serves a single accepted connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, rw io.ReadWriteCloser) error
}

// Config holds listener settings.
type Config struct {
	// Address is the TCP address to listen on, e.g. "127.0.0.1:7001".
	Address string
	// RateLimit caps accepted connections per second per remote IP.
	// Zero disables the limit.
	RateLimit float64
	// RateBurst is the per-IP burst allowed above RateLimit.
	RateBurst int
}

// Stats are connection counters since start.
type Stats struct {
	Active   int64 `json:"active"`
	Total    int64 `json:"total"`
	Failed   int64 `json:"failed"`
	Rejected int64 `json:"rejected"`
}

// Server accepts connections until its context ends or Stop is called.
type Server struct {
	cfg     Config
	handler ConnHandler
	log     *zap.Logger
	limiter *ipLimiter

	ln       net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	ready    atomic.Bool
	active   atomic.Int64
	total    atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

// New returns a Server that is not yet listening.
func New(cfg Config, handler ConnHandler, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst, limiterTTL)
	}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	s.Serve(ctx, ln)
	return nil
}

// Serve accepts connections from an already bound listener in the
// background. The server takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	s.ln = ln
	s.ready.Store(true)
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	s.wg.Add(1)
	go s.acceptLoop(ctx)
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}

		s.total.Inc()
		if s.limiter != nil && !s.limiter.allow(c.RemoteAddr()) {
			s.rejected.Inc()
			s.log.Warn("connection rate limited", zap.String("remote", c.RemoteAddr().String()))
			_ = c.Close()
			continue
		}
		s.active.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Dec()
			if err := s.handler.ServeConn(ctx, c); err != nil {
				s.failed.Inc()
				s.log.Warn("connection failed",
					zap.String("remote", c.RemoteAddr().String()),
					zap.Error(err))
			}
		}()
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready reports whether the server is accepting connections.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Stats returns a snapshot of the connection counters.
func (s *Server) Stats() Stats {
	return Stats{
		Active:   s.active.Load(),
		Total:    s.total.Load(),
		Failed:   s.failed.Load(),
		Rejected: s.rejected.Load(),
	}
}

// Stop closes the listener and waits for in-flight connections to finish.
// It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.ready.Store(false)
		close(s.done)
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
	s.wg.Wait()
}
