package session

import (
	"time"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors a session reports to. A nil
// *Metrics records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	retransmissions prometheus.Counter
	timeouts        prometheus.Counter
	sendErrors      prometheus.Counter
	unmatched       prometheus.Counter
	parseErrors     prometheus.Counter
	inFlight        prometheus.Gauge
	rtt             prometheus.Histogram
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snmp_requests_total",
			Help: "Total requests sent, by PDU type.",
		}, []string{"type"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snmp_retransmissions_total",
			Help: "Total request retransmissions.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snmp_timeouts_total",
			Help: "Total requests that exhausted their timeout schedule.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snmp_send_errors_total",
			Help: "Total requests failed by a socket send error.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snmp_unmatched_replies_total",
			Help: "Total replies with no matching request.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snmp_parse_errors_total",
			Help: "Total inbound datagrams that failed to decode.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snmp_requests_in_flight",
			Help: "Requests awaiting a reply.",
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snmp_response_seconds",
			Help:    "Time from the last transmission of a request to its reply.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	reg.MustRegister(
		m.requests,
		m.retransmissions,
		m.timeouts,
		m.sendErrors,
		m.unmatched,
		m.parseErrors,
		m.inFlight,
		m.rtt,
	)
	return m
}

func (m *Metrics) requestStarted(t protocol.PDUType) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(t.String()).Inc()
	m.inFlight.Inc()
}

func (m *Metrics) requestDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) retransmission() {
	if m == nil {
		return
	}
	m.retransmissions.Inc()
}

func (m *Metrics) timeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) sendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) unmatchedReply() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

func (m *Metrics) parseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) observeRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.rtt.Observe(d.Seconds())
}
