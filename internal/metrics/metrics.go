// Package metrics exposes forwarder counters as Prometheus metrics.
// Grounded on the teacher's direct github.com/prometheus/client_golang
// dependency; this project has no authoritative/DNSSEC surface to
// instrument, so the counter set is narrowed to what the forwarder's
// own pipeline produces.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter the forwarder updates.
type Metrics struct {
	QueriesTotal     prometheus.Counter
	BlockedTotal     prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	ForwardErrors    prometheus.Counter
	MalformedTotal   prometheus.Counter
	OrphanedReplies  prometheus.Counter
}

// New registers and returns a fresh Metrics set on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_queries_total",
			Help: "Total client queries accepted.",
		}),
		BlockedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_blocked_total",
			Help: "Queries answered with NXDOMAIN due to the blocklist.",
		}),
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_cache_hits_total",
			Help: "Queries answered from the reply cache.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_cache_misses_total",
			Help: "Queries that missed the reply cache.",
		}),
		ForwardErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_forward_errors_total",
			Help: "Upstream send/receive failures.",
		}),
		MalformedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_malformed_packets_total",
			Help: "Datagrams dropped for failing to parse.",
		}),
		OrphanedReplies: f.NewCounter(prometheus.CounterOpts{
			Name: "dnsrelay_orphaned_replies_total",
			Help: "Upstream replies with no matching association-map entry.",
		}),
	}
}

// Handler returns the promhttp handler for reg, which must be the same
// registry New registered its counters on — promhttp.Handler() always
// serves prometheus.DefaultGatherer, which is the wrong registry for a
// caller-supplied reg and would silently expose zero counters.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
