// Package metrics provides Prometheus metrics for the starbeam agent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starbeam-relay/agent/internal/controlclient"
)

const namespace = "starbeam"

// Metrics holds every Prometheus metric the agent exposes. The zero value
// is not usable; construct with [New]. Every method is safe to call on a
// nil *Metrics, so components can take a possibly-nil *Metrics and skip
// instrumentation entirely when none was configured.
type Metrics struct {
	Registry *prometheus.Registry

	controlChannelUp   prometheus.Gauge
	registrationState  prometheus.Gauge
	reconnectsTotal    prometheus.Counter
	httpRequestsTotal  *prometheus.CounterVec
	rtspRequestsTotal  *prometheus.CounterVec
	httpRequestSeconds prometheus.Histogram
	rtspRequestSeconds prometheus.Histogram
	udpChannelsActive  *prometheus.GaugeVec
	udpBytesTotal      *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		controlChannelUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_channel_up",
			Help:      "Whether the control channel is registered with the relay (1) or not (0).",
		}),

		registrationState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registration_state",
			Help:      "Current connection state ordinal (see controlclient.State).",
		}),

		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of control-channel connection attempts, including the first.",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total forwarded HTTP requests, by response status.",
		}, []string{"status"}),

		rtspRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtsp_requests_total",
			Help:      "Total forwarded RTSP requests, by response status.",
		}, []string{"status"}),

		httpRequestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of forwarded HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		rtspRequestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtsp_request_duration_seconds",
			Help:      "Duration of forwarded RTSP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		udpChannelsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "udp_channels_active",
			Help:      "Number of currently open UDP relay channels, by channel type.",
		}, []string{"channel"}),

		udpBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_bytes_total",
			Help:      "Total UDP bytes relayed, by channel type and direction.",
		}, []string{"channel", "direction"}),
	}

	reg.MustRegister(
		m.controlChannelUp,
		m.registrationState,
		m.reconnectsTotal,
		m.httpRequestsTotal,
		m.rtspRequestsTotal,
		m.httpRequestSeconds,
		m.rtspRequestSeconds,
		m.udpChannelsActive,
		m.udpBytesTotal,
	)

	return m
}

// ObserveState records a control-channel state transition, setting both
// the up/down gauge and the state ordinal.
func (m *Metrics) ObserveState(old, new controlclient.State) {
	if m == nil {
		return
	}
	m.registrationState.Set(float64(new))
	if new == controlclient.StateRegistered {
		m.controlChannelUp.Set(1)
	} else {
		m.controlChannelUp.Set(0)
	}
	if new == controlclient.StateConnecting {
		m.reconnectsTotal.Inc()
	}
}

// ObserveHTTP records one forwarded HTTP request's status and latency.
func (m *Metrics) ObserveHTTP(status uint16, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(strconv.Itoa(int(status))).Inc()
	m.httpRequestSeconds.Observe(d.Seconds())
}

// ObserveRTSP records one forwarded RTSP request's status and latency.
func (m *Metrics) ObserveRTSP(status uint16, d time.Duration) {
	if m == nil {
		return
	}
	m.rtspRequestsTotal.WithLabelValues(strconv.Itoa(int(status))).Inc()
	m.rtspRequestSeconds.Observe(d.Seconds())
}

// SetUDPChannelActive records whether channel is currently open.
func (m *Metrics) SetUDPChannelActive(channel string, active bool) {
	if m == nil {
		return
	}
	if active {
		m.udpChannelsActive.WithLabelValues(channel).Set(1)
	} else {
		m.udpChannelsActive.WithLabelValues(channel).Set(0)
	}
}

// AddUDPBytes records bytes relayed for channel in the given direction
// ("to_relay" or "to_host").
func (m *Metrics) AddUDPBytes(channel, direction string, n int) {
	if m == nil {
		return
	}
	m.udpBytesTotal.WithLabelValues(channel, direction).Add(float64(n))
}
