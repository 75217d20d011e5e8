// Package client implements the agent that exposes a local TCP service
// through the relay: it holds the control channel open and answers every
// open frame with a fresh data channel bridged to the local service.
package client

import (
	"bufio"
	"context"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/subwaynet/subway/internal/bridge"
	"github.com/subwaynet/subway/internal/socks"
	"github.com/subwaynet/subway/internal/wire"
	"github.com/subwaynet/subway/pkg/errors"
	"github.com/subwaynet/subway/pkg/logger"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Config holds agent configuration
type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
	Local struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"local"`
	// Subdomain is the requested name; empty lets the server pick.
	Subdomain string `json:"subdomain"`
	// Reconnect re-dials the control channel after it drops.
	Reconnect bool         `json:"reconnect"`
	Socks     socks.Config `json:"socks"`
}

// Agent is one tunnel: a control channel plus data channels on demand.
type Agent struct {
	cfg    *Config
	dialer *socks.Dialer

	mu       sync.Mutex
	endpoint string
}

// New creates an agent from cfg.
func New(cfg *Config) (*Agent, error) {
	dialer, err := socks.NewDialer(&cfg.Socks)
	if err != nil {
		return nil, err
	}
	return &Agent{cfg: cfg, dialer: dialer}, nil
}

// Endpoint returns the public URL assigned by the server, or "" before the
// handshake completes.
func (a *Agent) Endpoint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoint
}

func (a *Agent) setEndpoint(endpoint string) {
	a.mu.Lock()
	a.endpoint = endpoint
	a.mu.Unlock()
}

func (a *Agent) serverAddr() string {
	return net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
}

func (a *Agent) localAddr() string {
	host := a.cfg.Local.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(a.cfg.Local.Port))
}

// Run holds the tunnel open until ctx is done. Without Reconnect it returns
// when the session ends; with it, it re-dials with jittered backoff.
func (a *Agent) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := a.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !a.cfg.Reconnect {
			return err
		}
		attempt++
		delay := backoff(attempt)
		logger.Error("session ended: %v, reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one control-channel lifetime.
func (a *Agent) session(ctx context.Context) error {
	conn, err := a.dialer.DialContext(ctx, "tcp", a.serverAddr())
	if err != nil {
		return errors.Wrap(errors.CodeTransport, "control dial", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := wire.Write(conn, wire.Message{Type: wire.TypeHello, Subdomain: a.cfg.Subdomain}); err != nil {
		return err
	}

	rd := wire.NewReader(bufio.NewReader(conn))
	for {
		msg, err := rd.Next()
		if err != nil {
			if err == io.EOF {
				return errors.New(errors.CodeTransport, "server closed the control channel")
			}
			return err
		}
		switch msg.Type {
		case wire.TypeHello:
			a.setEndpoint(msg.Endpoint)
			logger.Info("tunnel ready: %s -> %s", msg.Endpoint, a.localAddr())
		case wire.TypeOpen:
			logger.Debug("open %s", msg.ID)
			go a.handleOpen(ctx, msg.ID)
		case wire.TypeClose:
			logger.Info("server ended the session")
			return nil
		default:
			logger.Debug("unexpected %s frame on control channel", msg.Type)
		}
	}
}

// handleOpen claims the parked request id over a fresh data channel and
// bridges it to the local service. Failures only cost this one request.
func (a *Agent) handleOpen(ctx context.Context, id string) {
	data, err := a.dialer.DialContext(ctx, "tcp", a.serverAddr())
	if err != nil {
		logger.Error("data channel dial: %v", err)
		return
	}
	if err := wire.Write(data, wire.Message{Type: wire.TypeAccept, ID: id}); err != nil {
		logger.Error("accept %s: %v", id, err)
		_ = data.Close()
		return
	}
	local, err := net.Dial("tcp", a.localAddr())
	if err != nil {
		// The claim went through; closing the data channel releases the
		// public side promptly.
		logger.Error("local service dial: %v", err)
		_ = data.Close()
		return
	}
	bridge.Splice(local, data)
}

// backoff grows exponentially from reconnectBase to reconnectMax with up to
// half a second of jitter.
func backoff(attempt int) time.Duration {
	d := reconnectBase << uint(attempt-1)
	if d > reconnectMax || d <= 0 {
		d = reconnectMax
	}
	return d + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}
