// Package registry maps tenant subdomains to their loopback upstreams and
// expires idle entries on a fixed sweep interval.
package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/subwaynet/subway/pkg/logger"
)

const (
	subdomainAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789-"
	subdomainLen      = 12

	// DefaultTTL is how long a tenant stays registered without a touch.
	DefaultTTL = time.Hour
	// DefaultCleanupInterval is the sweep period.
	DefaultCleanupInterval = time.Minute
)

// Upstream is the proxy-side view of a tenant: the loopback address of its
// request listener plus the registration deadline.
type Upstream struct {
	Host      string
	Port      int
	ExpiresAt time.Time
}

// Config holds registry configuration.
type Config struct {
	// Domain is the shared base domain, e.g. "subway.local".
	Domain string
	// Scheme is "http" or "https" and only affects endpoint URLs.
	Scheme string
	// TTL is the registration lifetime; DefaultTTL when zero.
	TTL time.Duration
	// CleanupInterval is the sweep period; DefaultCleanupInterval when zero.
	CleanupInterval time.Duration
}

// Registry is the subdomain map. All operations are atomic with respect to
// the cleanup sweep.
type Registry struct {
	domain   string
	scheme   string
	interval time.Duration
	onEvict  func(subdomain string)

	mu        sync.Mutex
	ttl       time.Duration
	upstreams map[string]Upstream
}

// New creates a registry. onEvict is invoked, outside the registry lock, for
// every entry removed by the cleanup sweep; it may be nil.
func New(cfg *Config, onEvict func(subdomain string)) *Registry {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &Registry{
		domain:    cfg.Domain,
		scheme:    scheme,
		ttl:       ttl,
		interval:  interval,
		onEvict:   onEvict,
		upstreams: make(map[string]Upstream),
	}
}

// Register records an upstream under the requested subdomain. A requested
// name that is empty or already taken falls back to a fresh random one. It
// returns the canonical subdomain and the public endpoint URL.
func (r *Registry) Register(requested, host string, port int) (string, string) {
	r.mu.Lock()
	sub := requested
	if sub == "" || r.has(sub) {
		for {
			sub = genSubdomain()
			if !r.has(sub) {
				break
			}
		}
	}
	r.upstreams[sub] = Upstream{Host: host, Port: port, ExpiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return sub, r.Endpoint(sub)
}

// Lookup returns the upstream for a subdomain.
func (r *Registry) Lookup(subdomain string) (Upstream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.upstreams[subdomain]
	return up, ok
}

// Touch extends the registration deadline by one TTL.
func (r *Registry) Touch(subdomain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.upstreams[subdomain]
	if !ok {
		return false
	}
	up.ExpiresAt = time.Now().Add(r.ttl)
	r.upstreams[subdomain] = up
	return true
}

// Remove deletes and returns the prior entry.
func (r *Registry) Remove(subdomain string) (Upstream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.upstreams[subdomain]
	if ok {
		delete(r.upstreams, subdomain)
	}
	return up, ok
}

// Len returns the number of registered tenants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upstreams)
}

// Entry is a point-in-time view of one registration.
type Entry struct {
	Subdomain string    `json:"subdomain"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Snapshot lists current registrations for status reporting.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.upstreams))
	for sub, up := range r.upstreams {
		out = append(out, Entry{Subdomain: sub, Host: up.Host, Port: up.Port, ExpiresAt: up.ExpiresAt})
	}
	return out
}

// Endpoint builds the public URL a subdomain is reachable at.
func (r *Registry) Endpoint(subdomain string) string {
	return fmt.Sprintf("%s://%s.%s", r.scheme, subdomain, r.domain)
}

// SetTTL updates the registration lifetime for future registrations and
// touches. Used by config reload.
func (r *Registry) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.ttl = ttl
	r.mu.Unlock()
}

// Run drives the cleanup sweep until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep removes expired entries and fires onEvict for each outside the lock.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	var expired []string
	for sub, up := range r.upstreams {
		if up.ExpiresAt.Before(now) {
			expired = append(expired, sub)
		}
	}
	for _, sub := range expired {
		delete(r.upstreams, sub)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		logger.Debug("registry sweep: evicting %d tenant(s)", len(expired))
	}
	if r.onEvict != nil {
		for _, sub := range expired {
			r.onEvict(sub)
		}
	}
}

// has must be called with the lock held.
func (r *Registry) has(subdomain string) bool {
	_, ok := r.upstreams[subdomain]
	return ok
}

// genSubdomain draws a random 12-character name from the CSPRNG.
func genSubdomain() string {
	max := big.NewInt(int64(len(subdomainAlphabet)))
	b := make([]byte, subdomainLen)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		b[i] = subdomainAlphabet[n.Int64()]
	}
	return string(b)
}
