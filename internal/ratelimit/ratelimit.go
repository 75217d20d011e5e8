// Package ratelimit implements per-IP limiting of control-plane connections
package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"
)

// Config holds rate limiting configuration
type Config struct {
	// Enabled indicates if rate limiting is active
	Enabled bool `json:"enabled"`
	// MaxConnectionsPerIP limits concurrent connections from a single IP
	MaxConnectionsPerIP int `json:"max_connections_per_ip"`
	// MaxConnectionsPerMinute limits new connections per minute from a single IP
	MaxConnectionsPerMinute int `json:"max_connections_per_minute"`
	// BanDurationSeconds how long to ban an IP that exceeds limits
	BanDurationSeconds int `json:"ban_duration_seconds"`
	// CleanupIntervalSeconds how often to drop idle entries
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds"`
}

type ipState struct {
	mu          sync.Mutex
	active      int
	recentDials []time.Time
	bannedUntil time.Time
}

// Limiter tracks per-IP connection pressure on the control port.
type Limiter struct {
	mu    sync.RWMutex
	cfg   Config
	state map[string]*ipState
}

// NewLimiter creates a limiter. A nil config disables limiting.
func NewLimiter(cfg *Config) *Limiter {
	l := &Limiter{state: make(map[string]*ipState)}
	if cfg != nil {
		l.cfg = *cfg
	}
	return l
}

// UpdateConfig swaps limits at runtime (config reload).
func (l *Limiter) UpdateConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	l.mu.Lock()
	l.cfg = *cfg
	l.mu.Unlock()
}

func (l *Limiter) config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Allow decides whether a connection from addr may proceed and, when it may,
// counts it as active until Release.
func (l *Limiter) Allow(addr net.Addr) bool {
	cfg := l.config()
	if !cfg.Enabled {
		return true
	}
	ip := extractIP(addr)
	if ip == "" {
		return false
	}

	st := l.stateFor(ip, cfg)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if now.Before(st.bannedUntil) {
		return false
	}
	if cfg.MaxConnectionsPerIP > 0 && st.active >= cfg.MaxConnectionsPerIP {
		return false
	}
	if cfg.MaxConnectionsPerMinute > 0 {
		cutoff := now.Add(-time.Minute)
		kept := st.recentDials[:0]
		for _, t := range st.recentDials {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		st.recentDials = kept
		if len(st.recentDials) >= cfg.MaxConnectionsPerMinute {
			st.bannedUntil = now.Add(time.Duration(cfg.BanDurationSeconds) * time.Second)
			return false
		}
		st.recentDials = append(st.recentDials, now)
	}

	st.active++
	return true
}

// Release decrements the active count for addr.
func (l *Limiter) Release(addr net.Addr) {
	if !l.config().Enabled {
		return
	}
	ip := extractIP(addr)
	if ip == "" {
		return
	}
	l.mu.RLock()
	st := l.state[ip]
	l.mu.RUnlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.active > 0 {
		st.active--
	}
	st.mu.Unlock()
}

// Stats is a global view for status reporting.
type Stats struct {
	TrackedIPs int `json:"tracked_ips"`
	Active     int `json:"active"`
	BannedIPs  int `json:"banned_ips"`
}

// GlobalStats summarizes limiter state.
func (l *Limiter) GlobalStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := Stats{TrackedIPs: len(l.state)}
	now := time.Now()
	for _, st := range l.state {
		st.mu.Lock()
		out.Active += st.active
		if now.Before(st.bannedUntil) {
			out.BannedIPs++
		}
		st.mu.Unlock()
	}
	return out
}

// Run drops idle entries on the configured interval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	cfg := l.config()
	if !cfg.Enabled || cfg.CleanupIntervalSeconds <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(cfg.CleanupIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

// cleanup removes entries with no active connections and no recent activity.
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-5 * time.Minute)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, st := range l.state {
		st.mu.Lock()
		idle := st.active == 0 &&
			now.After(st.bannedUntil) &&
			(len(st.recentDials) == 0 || st.recentDials[len(st.recentDials)-1].Before(cutoff))
		st.mu.Unlock()
		if idle {
			delete(l.state, ip)
		}
	}
}

func (l *Limiter) stateFor(ip string, cfg Config) *ipState {
	l.mu.RLock()
	st := l.state[ip]
	l.mu.RUnlock()
	if st != nil {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st = l.state[ip]; st == nil {
		st = &ipState{recentDials: make([]time.Time, 0, cfg.MaxConnectionsPerMinute)}
		l.state[ip] = st
	}
	return st
}

func extractIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
