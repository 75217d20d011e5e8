package metrics

import (
	"testing"
)

func TestTenantCounters(t *testing.T) {
	m := NewCollector()
	m.TenantConnected()
	m.TenantConnected()
	m.TenantClosed()

	s := m.Snapshot()
	if s.TenantsActive != 1 {
		t.Errorf("TenantsActive = %d, want 1", s.TenantsActive)
	}
	if s.TenantsTotal != 2 {
		t.Errorf("TenantsTotal = %d, want 2", s.TenantsTotal)
	}
}

func TestRequestLifecycle(t *testing.T) {
	m := NewCollector()
	m.RequestParked()
	m.RequestParked()
	m.RequestParked()
	m.RequestBridged()
	m.RequestDropped(true)

	s := m.Snapshot()
	if s.RequestsParked != 1 {
		t.Errorf("RequestsParked = %d, want 1", s.RequestsParked)
	}
	if s.RequestsOpened != 3 {
		t.Errorf("RequestsOpened = %d, want 3", s.RequestsOpened)
	}
	if s.RequestsBridged != 1 {
		t.Errorf("RequestsBridged = %d, want 1", s.RequestsBridged)
	}
	if s.RequestsDropped != 1 {
		t.Errorf("RequestsDropped = %d, want 1", s.RequestsDropped)
	}

	// A drop of a socket never parked must not touch the parked gauge.
	m.RequestDropped(false)
	if got := m.Snapshot().RequestsParked; got != 1 {
		t.Errorf("RequestsParked after unparked drop = %d, want 1", got)
	}
}

func TestPrometheusEnableIsIdempotent(t *testing.T) {
	m := NewCollector()
	m.EnablePrometheus("subway_test")
	m.EnablePrometheus("subway_test")

	// Increments must not panic with collectors wired.
	m.TenantConnected()
	m.RequestParked()
	m.RequestBridged()
	m.ProxyServed()
	m.ProxyMiss()
	m.ProxyUpstreamError()
	m.TenantClosed()
}
