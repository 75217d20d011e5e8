package httpproxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/subwaynet/subway/internal/metrics"
	"github.com/subwaynet/subway/internal/registry"
)

type stubResolver map[string]registry.Upstream

func (s stubResolver) Lookup(sub string) (registry.Upstream, bool) {
	up, ok := s[sub]
	return up, ok
}

func upstreamFor(t *testing.T, handler http.HandlerFunc) registry.Upstream {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return registry.Upstream{Host: u.Hostname(), Port: port, ExpiresAt: time.Now().Add(time.Hour)}
}

func newTestProxy(cfg *Config, res Resolver) *Proxy {
	if cfg == nil {
		cfg = &Config{}
	}
	return New(cfg, "test.local", res, metrics.NewCollector())
}

func TestRouteBySubdomain(t *testing.T) {
	up := upstreamFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("hi"))
	})
	p := newTestProxy(nil, stubResolver{"abc": up})

	req := httptest.NewRequest("GET", "http://abc.test.local/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "hi" {
		t.Errorf("body = %q, want hi", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUnknownSubdomain(t *testing.T) {
	p := newTestProxy(nil, stubResolver{})
	req := httptest.NewRequest("GET", "http://ghost.test.local/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := rec.Body.String(); body != "404 Not Found" {
		t.Errorf("body = %q, want \"404 Not Found\"", body)
	}
}

func TestForeignDomainRejected(t *testing.T) {
	p := newTestProxy(nil, stubResolver{"abc": {Host: "127.0.0.1", Port: 1}})
	req := httptest.NewRequest("GET", "http://abc.other.example/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestForwardsMethodQueryAndBody(t *testing.T) {
	var gotMethod, gotURI, gotBody, gotHeader, gotHost string
	up := upstreamFor(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURI = r.URL.RequestURI()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Custom")
		gotHost = r.Host
		w.WriteHeader(201)
	})
	p := newTestProxy(nil, stubResolver{"abc": up})

	req := httptest.NewRequest("POST", "http://abc.test.local/api/v1?q=42", strings.NewReader("payload"))
	req.Header.Set("X-Custom", "yes")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 201 {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if gotMethod != "POST" {
		t.Errorf("method = %q", gotMethod)
	}
	if gotURI != "/api/v1?q=42" {
		t.Errorf("uri = %q", gotURI)
	}
	if gotBody != "payload" {
		t.Errorf("body = %q", gotBody)
	}
	if gotHeader != "yes" {
		t.Errorf("X-Custom = %q", gotHeader)
	}
	if gotHost != "abc.test.local" {
		t.Errorf("Host = %q, want original host", gotHost)
	}
}

func TestUpstreamDownIs502(t *testing.T) {
	// Grab a port that is certainly closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	p := newTestProxy(nil, stubResolver{"abc": {Host: "127.0.0.1", Port: port}})
	req := httptest.NewRequest("GET", "http://abc.test.local/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 502 {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestBehindProxyUsesForwardedHost(t *testing.T) {
	up := upstreamFor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	p := newTestProxy(&Config{BehindProxy: true}, stubResolver{"abc": up})

	// Forwarded host under a foreign domain: regex fallback applies.
	req := httptest.NewRequest("GET", "http://edge.internal/", nil)
	req.Header.Set("X-Forwarded-Host", "abc.tunnel.example")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	// No forwarded host at all: 404.
	req = httptest.NewRequest("GET", "http://abc.test.local/", nil)
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Errorf("status without X-Forwarded-Host = %d, want 404", rec.Code)
	}
}

func TestExtractSubdomain(t *testing.T) {
	direct := newTestProxy(nil, nil)
	forwarded := newTestProxy(&Config{BehindProxy: true}, nil)

	tests := []struct {
		name string
		p    *Proxy
		host string
		want string
	}{
		{"plain", direct, "abc.test.local", "abc"},
		{"with port", direct, "abc.test.local:8080", "abc"},
		{"nested label", direct, "a.b.test.local", "a"},
		{"bare domain", direct, "test.local", ""},
		{"foreign domain", direct, "abc.other.example", ""},
		{"no dots", direct, "localhost", ""},
		{"behind proxy foreign", forwarded, "abc.other.example", "abc"},
		{"behind proxy two labels", forwarded, "other.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.extractSubdomain(tt.host); got != tt.want {
				t.Errorf("extractSubdomain(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}
