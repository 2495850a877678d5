package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbocsi/e4stream/client"
)

// Metrics records session events as Prometheus collectors. It implements client.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	samples         *prometheus.CounterVec
	malformed       prometheus.Counter
	ackMismatches   *prometheus.CounterVec
	timeouts        prometheus.Counter
	connectionsLost prometheus.Counter
	reconnects      prometheus.Counter
	state           prometheus.Gauge
}

// New registers the collectors on a fresh registry. Pass nil to create one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e4_samples_decoded_total",
			Help: "Data samples decoded from the stream, by stream code.",
		}, []string{"stream"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e4_samples_malformed_total",
			Help: "Data lines that failed to decode.",
		}),
		ackMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e4_ack_mismatches_total",
			Help: "Server replies that differed from the expected acknowledgement, by command.",
		}, []string{"command"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e4_receive_timeouts_total",
			Help: "Reads that timed out while waiting for stream data.",
		}),
		connectionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e4_connections_lost_total",
			Help: "Times the link or the device was reported lost.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e4_reconnects_total",
			Help: "Successful reconnects of the session.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e4_session_state",
			Help: "Current session state (0 disconnected, 1 connected, 2 device bound, 3 paused, 4 streaming).",
		}),
	}
	reg.MustRegister(m.samples, m.malformed, m.ackMismatches, m.timeouts, m.connectionsLost, m.reconnects, m.state)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(state client.State) { m.state.Set(float64(state)) }
func (m *Metrics) SampleDecoded(stream string)     { m.samples.WithLabelValues(stream).Inc() }
func (m *Metrics) MalformedSample()                { m.malformed.Inc() }
func (m *Metrics) AckMismatch(command string)      { m.ackMismatches.WithLabelValues(command).Inc() }
func (m *Metrics) Timeout()                        { m.timeouts.Inc() }
func (m *Metrics) ConnectionLost()                 { m.connectionsLost.Inc() }
func (m *Metrics) Reconnected()                    { m.reconnects.Inc() }

var _ client.Recorder = (*Metrics)(nil)
