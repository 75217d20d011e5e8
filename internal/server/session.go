package server

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/subwaynet/subway/internal/wire"
	"github.com/subwaynet/subway/pkg/logger"
)

// session is one tenant's control channel plus its request listener.
type session struct {
	srv       *Server
	conn      net.Conn
	subdomain string
	endpoint  string
	ln        net.Listener

	// writeMu serializes control-channel frames; the request listener and
	// the teardown path both write.
	writeMu sync.Mutex

	// ids holds the parked request ids this session owns, guarded by
	// srv.pkMu.
	ids map[string]struct{}

	closeOnce sync.Once
	lnWG      sync.WaitGroup
}

// write sends one frame on the control channel.
func (c *session) write(msg wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.Write(c.conn, msg)
}

// runSession owns a control connection from hello to teardown.
func (s *Server) runSession(ctx context.Context, conn net.Conn, rd *wire.Reader, hello wire.Message) {
	if max := s.cfg.Tunnel.MaxTenants; max > 0 && s.reg.Len() >= max {
		logger.Error("control %s: tenant limit reached", conn.RemoteAddr())
		_ = wire.Write(conn, wire.Message{Type: wire.TypeClose})
		_ = conn.Close()
		return
	}

	bind := s.cfg.Tunnel.RequestBind
	if bind == "" {
		bind = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(bind, "0"))
	if err != nil {
		logger.Error("request listener: %v", err)
		_ = conn.Close()
		return
	}
	port := ln.Addr().(*net.TCPAddr).Port

	sub, endpoint := s.reg.Register(hello.Subdomain, bind, port)
	sess := &session{
		srv:       s,
		conn:      conn,
		subdomain: sub,
		endpoint:  endpoint,
		ln:        ln,
		ids:       make(map[string]struct{}),
	}
	s.seMu.Lock()
	s.sessions[sub] = sess
	s.seMu.Unlock()
	s.mx.TenantConnected()
	logger.Info("tenant %s: connected from %s, requests on %s", sub, conn.RemoteAddr(), ln.Addr())

	if err := sess.write(wire.Message{Type: wire.TypeHello, Endpoint: endpoint}); err != nil {
		logger.Debug("tenant %s: hello reply: %v", sub, err)
		s.endSession(sub, false)
		return
	}

	sess.lnWG.Add(1)
	go sess.acceptRequests()

	// The client is not expected to send anything more on the control
	// channel; keep reading to notice EOF and protocol violations.
loop:
	for {
		msg, err := rd.Next()
		if err != nil {
			if err != io.EOF {
				logger.Debug("tenant %s: control read: %v", sub, err)
			}
			break
		}
		switch msg.Type {
		case wire.TypeClose:
			logger.Info("tenant %s: client requested close", sub)
			break loop
		case wire.TypeAccept:
			// Accept frames belong on fresh data connections, never on
			// the control channel.
			logger.Debug("tenant %s: dropping accept %s on control channel", sub, msg.ID)
		default:
			logger.Debug("tenant %s: unexpected %s frame on control channel", sub, msg.Type)
			break loop
		}
	}

	s.endSession(sub, false)
	sess.lnWG.Wait()
}

// acceptRequests parks every public-side connection for this tenant and
// asks the client to open a data channel for it.
func (c *session) acceptRequests() {
	defer c.lnWG.Done()
	for {
		reqConn, err := c.ln.Accept()
		if err != nil {
			return
		}
		if max := c.srv.maxParked.Load(); max > 0 && int64(c.parkedCount()) >= max {
			logger.Error("tenant %s: parked request limit reached, dropping", c.subdomain)
			c.srv.mx.RequestDropped(false)
			_ = reqConn.Close()
			continue
		}
		id := uuid.NewString()
		c.srv.park(id, c, reqConn)
		logger.Debug("tenant %s: parked request %s from %s", c.subdomain, id, reqConn.RemoteAddr())
		if err := c.write(wire.Message{Type: wire.TypeOpen, ID: id}); err != nil {
			// Control channel gone; drop the socket and let the session
			// loop tear everything down.
			if conn, ok := c.srv.unpark(id); ok {
				_ = conn.Close()
				c.srv.mx.RequestDropped(true)
			}
			return
		}
	}
}

func (c *session) parkedCount() int {
	c.srv.pkMu.Lock()
	defer c.srv.pkMu.Unlock()
	return len(c.ids)
}
