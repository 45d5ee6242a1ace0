// Package metrics implements Prometheus metrics for capture and checks.
//
// Every Metrics owns its registry, so tests and repeated runs never collide
// on the default registerer. All methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/netprobe/internal/violation"
)

type Metrics struct {
	registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	framesSkipped    *prometheus.CounterVec
	dispatch         *prometheus.CounterVec
	receiverFailures *prometheus.CounterVec
	replies          *prometheus.CounterVec
	violations       *prometheus.CounterVec
	checkStatus      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// framesReceived counts frames read from the capture socket
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_frames_received_total",
				Help: "Total number of frames read from the capture socket",
			},
			[]string{"interface"},
		),

		// framesSkipped counts frames not dispatched (outgoing, not for host, malformed)
		framesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_frames_skipped_total",
				Help: "Total number of frames not dispatched to any receiver",
			},
			[]string{"interface", "reason"},
		),

		dispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_dispatch_total",
				Help: "Total number of receiver invocations",
			},
			[]string{"protocol"},
		),

		receiverFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_receiver_failures_total",
				Help: "Total number of receiver errors and panics",
			},
			[]string{"protocol"},
		),

		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_replies_total",
				Help: "Total number of replies validated by a handler",
			},
			[]string{"protocol"},
		),

		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netprobe_violations_total",
				Help: "Total number of validation failures",
			},
			[]string{"protocol", "kind"},
		),

		// checkStatus is the outcome of the last check (0=pass, 1=fail)
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netprobe_check_status",
				Help: "Outcome of the last check per protocol (0=pass, 1=fail)",
			},
			[]string{"protocol"},
		),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.framesSkipped,
		m.dispatch,
		m.receiverFailures,
		m.replies,
		m.violations,
		m.checkStatus,
	)
	return m
}

// Registry exposes the underlying registry for custom export.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameReceived(iface string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(iface).Inc()
}

func (m *Metrics) FrameSkipped(iface, reason string) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(iface, reason).Inc()
}

func (m *Metrics) Dispatched(protocol string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ReceiverFailed(protocol string) {
	if m == nil {
		return
	}
	m.receiverFailures.WithLabelValues(protocol).Inc()
}

// ReplyValidated records one emitted result list.
func (m *Metrics) ReplyValidated(protocol string, list violation.List) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(protocol).Inc()
	for _, v := range list {
		m.violations.WithLabelValues(protocol, v.Kind.Label()).Inc()
	}
}

func (m *Metrics) SetCheckStatus(protocol string, failed bool) {
	if m == nil {
		return
	}
	status := 0.0
	if failed {
		status = 1
	}
	m.checkStatus.WithLabelValues(protocol).Set(status)
}

// WriteTextfile writes all metrics in the text exposition format, atomically,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
