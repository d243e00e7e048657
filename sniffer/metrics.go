package sniffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetcap/go-sniff/dissect"
)

// Metrics counters of one or more capture runs.
type Metrics struct {
	frames       prometheus.Counter
	bytes        prometheus.Counter
	layers       *prometheus.CounterVec
	stops        *prometheus.CounterVec
	sourceErrors prometheus.Counter
}

// NewMetrics registers the sniffer counters on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "sniff_frames_total",
			Help: "Total number of frames dissected",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sniff_frame_bytes_total",
			Help: "Total number of captured bytes dissected",
		}),
		layers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sniff_layers_total",
			Help: "Total number of decoded layers by kind",
		}, []string{"layer"}),
		stops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sniff_dissect_stops_total",
			Help: "Total number of frames by the reason their dissection ended",
		}, []string{"reason"}),
		sourceErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sniff_source_errors_total",
			Help: "Total number of capture source failures",
		}),
	}
}

func (m *Metrics) observe(d dissect.DissectedFrame) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.bytes.Add(float64(len(d.Frame.Data)))
	for _, l := range d.Layers {
		m.layers.WithLabelValues(l.Kind().String()).Inc()
	}
	m.stops.WithLabelValues(dissect.Reason(d.Stop)).Inc()
}

func (m *Metrics) sourceError() {
	if m == nil {
		return
	}
	m.sourceErrors.Inc()
}
