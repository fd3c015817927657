// ABOUTME: Prometheus collectors for bridge throughput, buffer fill and transitions
// ABOUTME: Each bridge owns a registry so several bridges can run in one process
package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
)

const metricsNamespace = "resonate_bridge"

// Metrics exposes bridge counters to Prometheus
type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	warmupBuffers prometheus.Gauge
	silence       prometheus.Counter
}

func newMetrics(b *Bridge) *Metrics {
	labels := prometheus.Labels{"bridge": b.ID()}
	counterFunc := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}
	gaugeFunc := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "transitions_total",
			Help:        "Format transitions by action.",
			ConstLabels: labels,
		}, []string{"action"}),
		warmupBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "warmup_buffers",
			Help:        "Warmup pull cycles scheduled by the last transition.",
			ConstLabels: labels,
		}),
		silence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "silence_buffers_total",
			Help:        "Silence buffers flushed ahead of transitions.",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.warmupBuffers,
		m.silence,
		counterFunc("frames_pushed_total", "Frames accepted from the producer.",
			func() float64 { return float64(b.framesPushed.Load()) }),
		counterFunc("bytes_pulled_total", "Wire bytes handed to the transport.",
			func() float64 { return float64(b.bytesPulled.Load()) }),
		counterFunc("pulls_total", "Transport pull cycles.",
			func() float64 { return float64(b.pulls.Load()) }),
		counterFunc("underruns_total", "Pulls that returned less than requested.",
			func() float64 { return float64(b.underruns.Load()) }),
		gaugeFunc("buffered_bytes", "Bytes waiting in the ring.",
			func() float64 { return float64(b.ring.Available()) }),
		gaugeFunc("capacity_bytes", "Ring capacity.",
			func() float64 { return float64(b.ring.Capacity()) }),
		gaugeFunc("state", "Transition state, 6 while streaming.",
			func() float64 { return float64(b.controller.State()) }),
		gaugeFunc("sample_rate_hz", "Rate of the streaming format, bits per second per channel for DSD.",
			func() float64 { return float64(b.controller.Format().SampleRate) }),
	)
	return m
}

func (m *Metrics) observeTransition(p transition.Plan) {
	m.transitions.WithLabelValues(p.Action.String()).Inc()
	m.warmupBuffers.Set(float64(p.WarmupBuffers))
	m.silence.Add(float64(p.SilenceBuffers))
}

// Registry returns the bridge's registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
