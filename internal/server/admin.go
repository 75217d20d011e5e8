package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subwaynet/subway/pkg/logger"
)

// tenantStatus is the /status view of one live tenant.
type tenantStatus struct {
	Subdomain string    `json:"subdomain"`
	Endpoint  string    `json:"endpoint"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"expires_at"`
	Parked    int       `json:"parked"`
}

// AdminServe runs the operational HTTP endpoint (/healthz, /status,
// /metrics) until ctx is done. A missing listen address disables it.
func (s *Server) AdminServe(ctx context.Context) {
	if s.cfg.HTTP.Listen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tenants/", s.handleTenant)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: s.cfg.HTTP.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("admin: listening on http://%s", s.cfg.HTTP.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.Snapshot()
	tenants := make([]tenantStatus, 0, len(entries))
	for _, e := range entries {
		ts := tenantStatus{
			Subdomain: e.Subdomain,
			Endpoint:  s.reg.Endpoint(e.Subdomain),
			Host:      e.Host,
			Port:      e.Port,
			ExpiresAt: e.ExpiresAt,
		}
		s.seMu.RLock()
		sess := s.sessions[e.Subdomain]
		s.seMu.RUnlock()
		if sess != nil {
			ts.Parked = sess.parkedCount()
		}
		tenants = append(tenants, ts)
	}

	out := map[string]any{
		"tenants":   tenants,
		"metrics":   s.mx.Snapshot(),
		"ratelimit": s.rl.GlobalStats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Error("status encode: %v", err)
	}
}

// handleTenant serves DELETE /tenants/{subdomain}: force-close a session.
func (s *Server) handleTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub := strings.TrimPrefix(r.URL.Path, "/tenants/")
	if sub == "" {
		http.Error(w, "missing subdomain", http.StatusBadRequest)
		return
	}
	if _, ok := s.reg.Lookup(sub); !ok {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}
	s.CloseTenant(sub)
	w.WriteHeader(http.StatusNoContent)
}

// ReportLoop logs a one-line activity summary on the given interval until
// ctx is done.
func (s *Server) ReportLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.mx.Snapshot()
			logger.Info("report: tenants=%d parked=%d bridged=%d dropped=%d proxied=%d not_found=%d",
				snap.TenantsActive, snap.RequestsParked, snap.RequestsBridged,
				snap.RequestsDropped, snap.ProxyRequests, snap.ProxyNotFound)
		}
	}
}
