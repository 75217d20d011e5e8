// Package httpproxy implements the public-facing HTTP reverse proxy that
// routes requests by Host to a tenant's loopback upstream.
package httpproxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/subwaynet/subway/internal/metrics"
	"github.com/subwaynet/subway/internal/registry"
	"github.com/subwaynet/subway/pkg/errors"
	"github.com/subwaynet/subway/pkg/logger"
)

// Config holds public proxy configuration
type Config struct {
	Bind        string `json:"bind"`
	Port        int    `json:"port"`
	BehindProxy bool   `json:"behind_proxy"`
	// MaxConns caps concurrent public connections; 0 means unlimited.
	MaxConns int `json:"max_conns"`
	TLS      struct {
		Enabled bool   `json:"enabled"`
		Port    int    `json:"port"`
		Cert    string `json:"cert_file"`
		Key     string `json:"key_file"`
	} `json:"tls"`
}

// Resolver looks up the upstream registered for a subdomain.
type Resolver interface {
	Lookup(subdomain string) (registry.Upstream, bool)
}

// ambiguousHost matches <label>.<domain-with-at-least-two-labels> and is the
// fallback extraction when a forwarded host does not carry the configured
// base domain verbatim.
var ambiguousHost = regexp.MustCompile(`^([^.]+)\.[^.]+\.[^.]+(?:/.*)?$`)

// Proxy is the public HTTP listener.
type Proxy struct {
	cfg      *Config
	domain   string
	resolver Resolver
	mx       *metrics.Collector
	client   *http.Client
}

// New creates a proxy routing by subdomains of domain via resolver.
func New(cfg *Config, domain string, resolver Resolver, mx *metrics.Collector) *Proxy {
	return &Proxy{
		cfg:      cfg,
		domain:   domain,
		resolver: resolver,
		mx:       mx,
		client: &http.Client{
			// Redirects from the tenant's service pass through untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Serve runs the public listener until ctx is done.
func (p *Proxy) Serve(ctx context.Context) error {
	port := p.cfg.Port
	scheme := "http"
	if p.cfg.TLS.Enabled {
		port = p.cfg.TLS.Port
		scheme = "https"
	}
	addr := net.JoinHostPort(p.cfg.Bind, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.CodeConfig, "proxy listen", err)
	}
	if p.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, p.cfg.MaxConns)
	}
	if p.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(p.cfg.TLS.Cert, p.cfg.TLS.Key)
		if err != nil {
			_ = ln.Close()
			return errors.Wrap(errors.CodeConfig, "loading tls keys", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	srv := &http.Server{Handler: p}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()
	logger.Info("proxy: listening on %s://%s", scheme, addr)
	logger.Info("proxy: serving tenants on %s://<subdomain>.%s", scheme, p.domain)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ServeHTTP routes one public request to its tenant upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mx.ProxyServed()

	host := p.originHost(r)
	if host == "" {
		p.notFound(w)
		return
	}
	sub := p.extractSubdomain(host)
	if sub == "" {
		p.notFound(w)
		return
	}

	up, ok := p.resolver.Lookup(sub)
	if !ok {
		logger.Debug("proxy: %v", errors.Newf(errors.CodeNotFound, "no upstream for subdomain %q (host %s)", sub, host))
		p.notFound(w)
		return
	}

	target := fmt.Sprintf("http://%s%s", net.JoinHostPort(up.Host, strconv.Itoa(up.Port)), r.URL.RequestURI())
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		p.badGateway(w, err)
		return
	}
	copyHeaders(out.Header, r.Header)
	// The original Host travels unchanged to the tenant's service.
	out.Host = host

	resp, err := p.client.Do(out)
	if err != nil {
		p.badGateway(w, err)
		return
	}
	defer resp.Body.Close()

	hdr := w.Header()
	for k, vv := range resp.Header {
		// The transport already decoded the body.
		if k == "Content-Encoding" || k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("proxy: response copy: %v", err)
	}
}

// originHost returns the host the public client addressed.
func (p *Proxy) originHost(r *http.Request) string {
	if p.cfg.BehindProxy {
		return r.Header.Get("X-Forwarded-Host")
	}
	return r.Host
}

// extractSubdomain returns the tenant label of host, or "".
func (p *Proxy) extractSubdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	// First DNS label, provided the host sits under the base domain.
	if _, ok := strings.CutSuffix(host, "."+p.domain); ok {
		if label, _, found := strings.Cut(host, "."); found && label != "" {
			return label
		}
	}
	// A forwarded host may carry some other public suffix; fall back to the
	// shape-based match only in behind-proxy mode.
	if p.cfg.BehindProxy {
		if m := ambiguousHost.FindStringSubmatch(host); m != nil {
			return m[1]
		}
	}
	return ""
}

func (p *Proxy) notFound(w http.ResponseWriter) {
	p.mx.ProxyMiss()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 Not Found"))
}

func (p *Proxy) badGateway(w http.ResponseWriter, err error) {
	p.mx.ProxyUpstreamError()
	logger.Debug("proxy: %v", errors.Wrap(errors.CodeUpstream, "forwarding to upstream", err))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte("502 Bad Gateway"))
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		// Let the outbound transport negotiate encodings it can decode.
		if k == "Accept-Encoding" || k == "Content-Encoding" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
