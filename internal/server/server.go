// Package server implements the relay control plane: it accepts client
// connections on the control port, runs one session per tenant, parks
// public-side sockets until the client claims them, and splices the pairs.
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/subwaynet/subway/internal/bridge"
	"github.com/subwaynet/subway/internal/httpproxy"
	"github.com/subwaynet/subway/internal/metrics"
	"github.com/subwaynet/subway/internal/ratelimit"
	"github.com/subwaynet/subway/internal/registry"
	"github.com/subwaynet/subway/internal/wire"
	"github.com/subwaynet/subway/pkg/logger"
)

// Config holds relay server configuration
type Config struct {
	Control struct {
		Listen  string `json:"listen"`
		ReadBuf int    `json:"read_buf"`
	} `json:"control"`
	Domain string           `json:"domain"`
	Proxy  httpproxy.Config `json:"proxy"`
	Tunnel struct {
		RequestBind        string `json:"request_bind"`
		ExpireTimeS        int    `json:"expire_time_s"`
		CleanupIntervalS   int    `json:"cleanup_interval_s"`
		MaxTenants         int    `json:"max_tenants"`
		MaxParkedPerTenant int    `json:"max_parked_per_tenant"`
	} `json:"tunnel"`
	HTTP struct {
		Listen string `json:"listen"`
	} `json:"http"`
	RateLimit ratelimit.Config `json:"ratelimit"`
}

// Server is the relay engine: registry, sessions, parked requests and the
// public proxy share one instance.
type Server struct {
	cfg *Config
	reg *registry.Registry
	mx  *metrics.Collector
	rl  *ratelimit.Limiter
	px  *httpproxy.Proxy

	maxParked atomic.Int64

	seMu     sync.RWMutex
	sessions map[string]*session

	pkMu   sync.Mutex
	parked map[string]*parkedRequest

	ln net.Listener
}

// parkedRequest is a public-side socket waiting for its accept frame.
type parkedRequest struct {
	conn  net.Conn
	owner *session
}

// New creates a relay server from cfg.
func New(cfg *Config) *Server {
	scheme := "http"
	if cfg.Proxy.TLS.Enabled {
		scheme = "https"
	}
	s := &Server{
		cfg:      cfg,
		mx:       metrics.NewCollector(),
		sessions: make(map[string]*session),
		parked:   make(map[string]*parkedRequest),
	}
	s.maxParked.Store(int64(cfg.Tunnel.MaxParkedPerTenant))
	s.reg = registry.New(&registry.Config{
		Domain:          cfg.Domain,
		Scheme:          scheme,
		TTL:             time.Duration(cfg.Tunnel.ExpireTimeS) * time.Second,
		CleanupInterval: time.Duration(cfg.Tunnel.CleanupIntervalS) * time.Second,
	}, func(subdomain string) {
		s.endSession(subdomain, true)
	})
	s.rl = ratelimit.NewLimiter(&cfg.RateLimit)
	s.px = httpproxy.New(&cfg.Proxy, cfg.Domain, s.reg, s.mx)
	return s
}

// EnablePrometheus registers the server's metrics under namespace.
func (s *Server) EnablePrometheus(namespace string) {
	s.mx.EnablePrometheus(namespace)
}

// Registry exposes the subdomain registry (tests, status).
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Reload updates the reloadable configuration subset at runtime.
func (s *Server) Reload(newCfg *Config) {
	logger.Info("reloading configuration...")
	s.reg.SetTTL(time.Duration(newCfg.Tunnel.ExpireTimeS) * time.Second)
	s.rl.UpdateConfig(&newCfg.RateLimit)
	s.maxParked.Store(int64(newCfg.Tunnel.MaxParkedPerTenant))
	logger.Info("configuration reloaded")
}

// ProxyServe runs the public HTTP proxy until ctx is done.
func (s *Server) ProxyServe(ctx context.Context) error {
	return s.px.Serve(ctx)
}

// Housekeeping runs the registry cleanup sweep and the rate limiter cleanup
// until ctx is done.
func (s *Server) Housekeeping(ctx context.Context) {
	go s.rl.Run(ctx)
	s.reg.Run(ctx)
}

// Listen binds the control port. Calling it before AcceptLoop lets the
// caller learn the bound address when the configured port is 0.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Control.Listen)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	return ln.Addr(), nil
}

// AcceptLoop accepts control-port connections until ctx is done. Every
// connection is classified by its first frame: hello starts a session,
// accept claims a parked request as its data channel.
func (s *Server) AcceptLoop(ctx context.Context) error {
	if s.ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	ln := s.ln
	logger.Info("control: listening on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				return nil
			}
			logger.Error("control accept: %v", err)
			continue
		}
		if !s.rl.Allow(conn.RemoteAddr()) {
			logger.Error("rejecting %s: rate limit exceeded", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads the first frame and routes the connection accordingly.
// The first frame is read with exact-length reads: on an accept connection
// every byte after the frame already belongs to the bridged stream, so no
// read-ahead buffering is allowed here.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.rl.Release(conn.RemoteAddr())

	first, err := wire.NewReader(conn).Next()
	if err != nil {
		if err != io.EOF {
			logger.Debug("control %s: %v", conn.RemoteAddr(), err)
		}
		_ = conn.Close()
		return
	}

	switch first.Type {
	case wire.TypeHello:
		readBuf := s.cfg.Control.ReadBuf
		if readBuf <= 0 {
			readBuf = 4096
		}
		s.runSession(ctx, conn, wire.NewReader(bufio.NewReaderSize(conn, readBuf)), first)
	case wire.TypeAccept:
		s.dispatchAccept(first.ID, conn)
	default:
		logger.Debug("control %s: unexpected first frame %s", conn.RemoteAddr(), first.Type)
		_ = conn.Close()
	}
}

// dispatchAccept splices the data connection that delivered accept{id} to
// the parked public-side socket. Blocks until the bridge finishes.
func (s *Server) dispatchAccept(id string, conn net.Conn) {
	parked, ok := s.unpark(id)
	if !ok {
		logger.Debug("accept %s: no parked request", id)
		_ = conn.Close()
		return
	}
	s.mx.RequestBridged()
	bridge.Splice(parked, conn)
}

// park stores a freshly accepted public-side socket under id on behalf of
// sess.
func (s *Server) park(id string, sess *session, conn net.Conn) {
	s.pkMu.Lock()
	s.parked[id] = &parkedRequest{conn: conn, owner: sess}
	sess.ids[id] = struct{}{}
	s.pkMu.Unlock()
	s.mx.RequestParked()
}

// unpark removes and returns the socket parked under id.
func (s *Server) unpark(id string) (net.Conn, bool) {
	s.pkMu.Lock()
	defer s.pkMu.Unlock()
	pr, ok := s.parked[id]
	if !ok {
		return nil, false
	}
	delete(s.parked, id)
	delete(pr.owner.ids, id)
	return pr.conn, true
}

// CloseTenant ends a tenant session by subdomain (admin operation).
func (s *Server) CloseTenant(subdomain string) {
	s.endSession(subdomain, false)
}

// endSession tears one tenant down: listener, control socket, parked
// sockets, registration. Idempotent.
func (s *Server) endSession(subdomain string, evicted bool) {
	s.seMu.Lock()
	sess := s.sessions[subdomain]
	delete(s.sessions, subdomain)
	s.seMu.Unlock()
	if sess == nil {
		return
	}

	sess.closeOnce.Do(func() {
		s.reg.Remove(subdomain)
		_ = sess.ln.Close()
		// Best effort: tell the client the session is over. A stalled peer
		// must not hold up teardown.
		_ = sess.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = sess.write(wire.Message{Type: wire.TypeClose})
		_ = sess.conn.Close()

		s.pkMu.Lock()
		dropped := 0
		for id := range sess.ids {
			if pr, ok := s.parked[id]; ok {
				_ = pr.conn.Close()
				delete(s.parked, id)
				dropped++
			}
		}
		sess.ids = map[string]struct{}{}
		s.pkMu.Unlock()
		for i := 0; i < dropped; i++ {
			s.mx.RequestDropped(true)
		}

		s.mx.TenantClosed()
		logger.Info("tenant %s: session closed (evicted=%v)", subdomain, evicted)
	})
}

// closeAll tears down every live session (server shutdown).
func (s *Server) closeAll() {
	s.seMu.RLock()
	subs := make([]string, 0, len(s.sessions))
	for sub := range s.sessions {
		subs = append(subs, sub)
	}
	s.seMu.RUnlock()
	for _, sub := range subs {
		s.endSession(sub, false)
	}
}
