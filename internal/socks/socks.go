// Package socks provides the outbound dialer for the client agent, with
// optional SOCKS5 proxying for both control and data connections.
package socks

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/subwaynet/subway/pkg/errors"
)

// Config holds SOCKS proxy configuration
type Config struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"` // optional authentication
	Password string `json:"password"` // optional authentication
}

const dialTimeout = 10 * time.Second

// Dialer dials either directly or through the configured SOCKS5 proxy.
type Dialer struct {
	cfg    *Config
	dialer proxy.Dialer
}

// NewDialer builds a dialer from cfg. A nil or disabled config yields a
// direct TCP dialer.
func NewDialer(cfg *Config) (*Dialer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if !cfg.Enabled {
		return &Dialer{
			cfg:    cfg,
			dialer: &net.Dialer{Timeout: dialTimeout},
		}, nil
	}

	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New(errors.CodeConfig, "socks host and port are required when enabled")
	}

	u := &url.URL{
		Scheme: "socks5",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfig, "building socks dialer", err)
	}
	return &Dialer{cfg: cfg, dialer: d}, nil
}

// Dial creates a network connection through the configured path.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.dialer.Dial(network, address)
}

// DialContext creates a network connection honoring ctx cancellation.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := d.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	// The SOCKS dialer from proxy.FromURL supports context; this fallback
	// covers custom dialers that do not.
	done := make(chan struct{})
	var conn net.Conn
	var err error
	go func() {
		conn, err = d.dialer.Dial(network, address)
		close(done)
	}()
	select {
	case <-done:
		return conn, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enabled reports whether dials go through a SOCKS proxy.
func (d *Dialer) Enabled() bool {
	return d.cfg.Enabled
}
