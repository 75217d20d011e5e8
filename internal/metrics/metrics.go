// Package metrics provides collection and reporting of relay metrics
package metrics

import (
	"sync/atomic"
)

// Collector holds all relay metrics. Prometheus collectors, when enabled,
// are updated in place by the increment methods.
type Collector struct {
	// Tenant metrics
	TenantsActive atomic.Int64
	TenantsTotal  atomic.Uint64

	// Request lifecycle metrics
	RequestsParked  atomic.Int64
	RequestsOpened  atomic.Uint64
	RequestsBridged atomic.Uint64
	RequestsDropped atomic.Uint64

	// Public proxy metrics
	ProxyRequests       atomic.Uint64
	ProxyNotFound       atomic.Uint64
	ProxyUpstreamErrors atomic.Uint64

	prom *promCollectors
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// TenantConnected records a new active tenant session.
func (m *Collector) TenantConnected() {
	m.TenantsActive.Add(1)
	m.TenantsTotal.Add(1)
	if m.prom != nil {
		m.prom.tenantsActive.Inc()
		m.prom.tenantsTotal.Inc()
	}
}

// TenantClosed records a session teardown.
func (m *Collector) TenantClosed() {
	m.TenantsActive.Add(-1)
	if m.prom != nil {
		m.prom.tenantsActive.Dec()
	}
}

// RequestParked records a public-side socket parked pending its accept.
func (m *Collector) RequestParked() {
	m.RequestsParked.Add(1)
	m.RequestsOpened.Add(1)
	if m.prom != nil {
		m.prom.requestsParked.Inc()
		m.prom.requestsOpened.Inc()
	}
}

// RequestBridged records a parked socket claimed by its data channel.
func (m *Collector) RequestBridged() {
	m.RequestsParked.Add(-1)
	m.RequestsBridged.Add(1)
	if m.prom != nil {
		m.prom.requestsParked.Dec()
		m.prom.requestsBridged.Inc()
	}
}

// RequestDropped records a public-side socket discarded without a bridge,
// either at session teardown or by the per-tenant cap. parked says whether
// the socket had been counted as parked.
func (m *Collector) RequestDropped(parked bool) {
	if parked {
		m.RequestsParked.Add(-1)
		if m.prom != nil {
			m.prom.requestsParked.Dec()
		}
	}
	m.RequestsDropped.Add(1)
	if m.prom != nil {
		m.prom.requestsDropped.Inc()
	}
}

// ProxyServed records one public HTTP request entering the proxy.
func (m *Collector) ProxyServed() {
	m.ProxyRequests.Add(1)
	if m.prom != nil {
		m.prom.proxyRequests.Inc()
	}
}

// ProxyMiss records a 404 for an unknown host or subdomain.
func (m *Collector) ProxyMiss() {
	m.ProxyNotFound.Add(1)
	if m.prom != nil {
		m.prom.proxyNotFound.Inc()
	}
}

// ProxyUpstreamError records a 502 returned to the origin.
func (m *Collector) ProxyUpstreamError() {
	m.ProxyUpstreamErrors.Add(1)
	if m.prom != nil {
		m.prom.proxyUpstreamErrors.Inc()
	}
}

// Snapshot returns a point-in-time view of all metrics.
func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		TenantsActive:       m.TenantsActive.Load(),
		TenantsTotal:        m.TenantsTotal.Load(),
		RequestsParked:      m.RequestsParked.Load(),
		RequestsOpened:      m.RequestsOpened.Load(),
		RequestsBridged:     m.RequestsBridged.Load(),
		RequestsDropped:     m.RequestsDropped.Load(),
		ProxyRequests:       m.ProxyRequests.Load(),
		ProxyNotFound:       m.ProxyNotFound.Load(),
		ProxyUpstreamErrors: m.ProxyUpstreamErrors.Load(),
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TenantsActive       int64  `json:"tenants_active"`
	TenantsTotal        uint64 `json:"tenants_total"`
	RequestsParked      int64  `json:"requests_parked"`
	RequestsOpened      uint64 `json:"requests_opened"`
	RequestsBridged     uint64 `json:"requests_bridged"`
	RequestsDropped     uint64 `json:"requests_dropped"`
	ProxyRequests       uint64 `json:"proxy_requests"`
	ProxyNotFound       uint64 `json:"proxy_not_found"`
	ProxyUpstreamErrors uint64 `json:"proxy_upstream_errors"`
}
