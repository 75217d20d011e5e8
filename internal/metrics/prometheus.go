package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type promCollectors struct {
	tenantsActive       prometheus.Gauge
	tenantsTotal        prometheus.Counter
	requestsParked      prometheus.Gauge
	requestsOpened      prometheus.Counter
	requestsBridged     prometheus.Counter
	requestsDropped     prometheus.Counter
	proxyRequests       prometheus.Counter
	proxyNotFound       prometheus.Counter
	proxyUpstreamErrors prometheus.Counter
}

// EnablePrometheus registers prometheus collectors under the given namespace
// and wires them into the increment methods.
func (m *Collector) EnablePrometheus(namespace string) {
	// Tolerate duplicate registration so tests can build multiple engines.
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			return c
		}
		return c
	}

	pc := &promCollectors{}

	pc.tenantsActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenants_active",
		Help:      "Number of currently connected tenant sessions",
	})).(prometheus.Gauge)

	pc.tenantsTotal = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenants_connected_total",
		Help:      "Total number of tenant sessions established",
	})).(prometheus.Counter)

	pc.requestsParked = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "requests_parked",
		Help:      "Public-side sockets parked awaiting their data channel",
	})).(prometheus.Gauge)

	pc.requestsOpened = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_opened_total",
		Help:      "Total open notifications emitted to clients",
	})).(prometheus.Counter)

	pc.requestsBridged = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_bridged_total",
		Help:      "Total parked sockets spliced to a data channel",
	})).(prometheus.Counter)

	pc.requestsDropped = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_dropped_total",
		Help:      "Total public-side sockets discarded without a bridge",
	})).(prometheus.Counter)

	pc.proxyRequests = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_requests_total",
		Help:      "Total public HTTP requests routed by the proxy",
	})).(prometheus.Counter)

	pc.proxyNotFound = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_not_found_total",
		Help:      "Public HTTP requests answered 404",
	})).(prometheus.Counter)

	pc.proxyUpstreamErrors = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_upstream_errors_total",
		Help:      "Public HTTP requests answered 502",
	})).(prometheus.Counter)

	m.prom = pc
}
