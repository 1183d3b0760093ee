package funding

import (
	"errors"

	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/protofsm"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "lnchan"

// managerMetrics counts what happens to the channels of a Manager.
type managerMetrics struct {
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	faults      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	channels    prometheus.GaugeFunc
}

// newManagerMetrics creates the collectors of a manager. numChannels is
// sampled on every scrape.
func newManagerMetrics(numChannels func() float64) *managerMetrics {
	return &managerMetrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "funding",
				Name:      "transitions_total",
				Help:      "Channel state changes.",
			},
			[]string{"from", "to"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "funding",
				Name:      "dropped_events_total",
				Help:      "Events dropped by their channel.",
			},
			[]string{"state", "event"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "funding",
				Name:      "faults_total",
				Help:      "Faults that stalled a channel.",
			},
			[]string{"state", "event"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "funding",
				Name:      "rejected_messages_total",
				Help:      "Rejected peer messages.",
			},
			[]string{"event", "kind"},
		),
		channels: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "funding",
				Name:      "channels",
				Help:      "Tracked channels.",
			},
			numChannels,
		),
	}
}

// register adds every collector to reg.
func (m *managerMetrics) register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.transitions, m.dropped, m.faults, m.rejections, m.channels,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

func (m *managerMetrics) observe(result protofsm.DispatchResult,
	eventType protofsm.EventType) {

	switch {
	case !result.Handled:
		m.dropped.WithLabelValues(
			result.From.Name(), string(eventType),
		).Inc()

	case result.Changed():
		m.transitions.WithLabelValues(
			result.From.Name(), result.Next.Name(),
		).Inc()
	}
}

func (m *managerMetrics) fault(state protofsm.StateID,
	eventType protofsm.EventType) {

	m.faults.WithLabelValues(state.Name(), string(eventType)).Inc()
}

func (m *managerMetrics) reject(eventType protofsm.EventType, reason error) {
	kind := "unknown"

	var openErr *lnwallet.OpeningError
	if errors.As(reason, &openErr) {
		kind = openErr.Kind.String()
	}

	m.rejections.WithLabelValues(string(eventType), kind).Inc()
}
