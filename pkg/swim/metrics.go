package swim

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors in a registry isolated
// from prometheus.DefaultRegisterer, so multiple Engines (e.g. in a single
// test binary running several simulated nodes) don't collide on metric
// names the way they would if each registered into the global default.
type Metrics struct {
	Registry *prometheus.Registry

	JoinsObserved         prometheus.Counter
	ProbesSucceeded       prometheus.Counter
	ProbeTimeouts         prometheus.Counter
	IndirectProbeTimeouts prometheus.Counter
	ConfirmsEmitted       prometheus.Counter
	ConsensusDecisions    prometheus.Counter
}

// NewMetrics builds and registers a fresh set of collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		JoinsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "joins_observed_total",
			Help:      "Number of distinct peer joins recorded (via bootstrap, handle_join, or gossip).",
		}),
		ProbesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "probes_succeeded_total",
			Help:      "Number of direct pings acked within the round-trip timeout.",
		}),
		ProbeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "probe_timeouts_total",
			Help:      "Number of direct pings that timed out and escalated to an indirect probe.",
		}),
		IndirectProbeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "indirect_probe_timeouts_total",
			Help:      "Number of proxied pings that timed out and armed a suspect timeout.",
		}),
		ConfirmsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "confirms_emitted_total",
			Help:      "Number of peers confirmed dead and removed after a suspect timeout expired.",
		}),
		ConsensusDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "consensus_decisions_total",
			Help:      "Number of times the local consensus state reached a sticky decision.",
		}),
	}
	reg.MustRegister(
		m.JoinsObserved,
		m.ProbesSucceeded,
		m.ProbeTimeouts,
		m.IndirectProbeTimeouts,
		m.ConfirmsEmitted,
		m.ConsensusDecisions,
	)
	return m
}
