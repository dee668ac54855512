// Package metrics defines the opaque counters/gauges sink the queue layer
// (spec §4.8) publishes operational metrics through.
// Aggregation and retention are explicitly out of scope (spec §1); this
// package only gets numbers onto a Prometheus registry, never decides how
// long they live or how they're rolled up.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink records counters and gauges under hierarchical keys
// (e.g. "queue:priority:jobs:size"). Implementations must be safe for
// concurrent use.
type Sink interface {
	Inc(key string, delta float64)
	Set(key string, value float64)
}

// PrometheusSink lazily registers a prometheus.Gauge per distinct key the
// first time it's touched; a Gauge doubles as a monotonic counter when only
// Inc is ever called on it, which is all the queue layer needs.
type PrometheusSink struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

// NewPrometheusSink wraps reg (pass prometheus.NewRegistry() for an
// isolated registry, or nil to use the default global one).
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{registry: reg, gauges: make(map[string]prometheus.Gauge)}
}

func (s *PrometheusSink) gauge(key string) prometheus.Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gauges[key]
	if ok {
		return g
	}
	g = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atom_" + sanitize(key),
		Help: "atom runtime metric " + key,
	})
	if s.registry != nil {
		s.registry.MustRegister(g)
	} else {
		prometheus.MustRegister(g)
	}
	s.gauges[key] = g
	return g
}

func sanitize(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

func (s *PrometheusSink) Inc(key string, delta float64) { s.gauge(key).Add(delta) }
func (s *PrometheusSink) Set(key string, value float64) { s.gauge(key).Set(value) }

// NoopSink discards everything; it is what tests use so they don't have to
// spin up a registry.
type NoopSink struct{}

func (NoopSink) Inc(string, float64) {}
func (NoopSink) Set(string, float64) {}

var _ Sink = (*PrometheusSink)(nil)
var _ Sink = NoopSink{}
