// Package metrics exposes Prometheus counters and histograms for LeadPipe.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Inbound outcomes.
const (
	OutcomeReplied   = "replied"
	OutcomeSilent    = "silent"
	OutcomeHandoff   = "handoff"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// LeadPipeMetrics exposes counters/histograms for the conversation flow.
type LeadPipeMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	leadsTotal     *prometheus.CounterVec
	agentActions   *prometheus.CounterVec
	inboundLatency *prometheus.HistogramVec
}

// New registers the LeadPipe metrics with reg, or with the default registerer when reg is nil.
func New(reg prometheus.Registerer) *LeadPipeMetrics {
	m := &LeadPipeMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpipe",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Total inbound messages by outcome",
		}, []string{"outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpipe",
			Subsystem: "conversation",
			Name:      "outbound_total",
			Help:      "Total outbound sends by status",
		}, []string{"status"}),
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpipe",
			Subsystem: "crm",
			Name:      "leads_total",
			Help:      "Total lead creation attempts by result",
		}, []string{"result"}),
		agentActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpipe",
			Subsystem: "conversation",
			Name:      "agent_actions_total",
			Help:      "Total human agent actions",
		}, []string{"action"}),
		inboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadpipe",
			Subsystem: "conversation",
			Name:      "inbound_latency_seconds",
			Help:      "Latency of inbound message handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.leadsTotal, m.agentActions, m.inboundLatency)
	return m
}

func (m *LeadPipeMetrics) ObserveInbound(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
	m.inboundLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *LeadPipeMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *LeadPipeMetrics) ObserveLead(result string) {
	if m == nil {
		return
	}
	m.leadsTotal.WithLabelValues(result).Inc()
}

func (m *LeadPipeMetrics) ObserveAgentAction(action string) {
	if m == nil {
		return
	}
	m.agentActions.WithLabelValues(action).Inc()
}
