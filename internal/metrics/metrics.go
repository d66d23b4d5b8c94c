package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "vendorsync_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	vendorRequests       *prometheus.CounterVec
	vendorRequestLatency *prometheus.HistogramVec
	capabilityPushes     *prometheus.CounterVec
	logins               *prometheus.CounterVec

	pushChannelState      *prometheus.GaugeVec
	pushChannelReconnects *prometheus.CounterVec
	pushChannelFrames     *prometheus.CounterVec
	pushChannelGaveUp     *prometheus.CounterVec

	measurementsWritten *prometheus.CounterVec
	changeEvents        prometheus.Counter
	changeRequests      *prometheus.CounterVec

	gatewaysOnline *prometheus.GaugeVec
)

// Init creates and registers every collector with reg, or with the default
// registerer when reg is nil. Only the first call has any effect; recorders
// called before Init are no-ops.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		vendorRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vendor_requests_total",
				Help: "Signed vendor API requests by server, endpoint and result",
			},
			[]string{"server", "endpoint", "result"},
		)
		vendorRequestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "vendor_request_latency_seconds",
				Help:    "Vendor API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server", "endpoint"},
		)
		capabilityPushes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "capability_push_total",
				Help: "Requests rejected with the capability-push error and retried",
			},
			[]string{"server"},
		)
		logins = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vendor_logins_total",
				Help: "Vendor logins by server and result",
			},
			[]string{"server", "result"},
		)

		pushChannelState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pushchannel_state",
				Help: "Push channel phase: 0 disconnected, 1 connecting, 2 connected",
			},
			[]string{"server"},
		)
		pushChannelReconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pushchannel_reconnects_total",
				Help: "Push channel reconnect attempts",
			},
			[]string{"server"},
		)
		pushChannelFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pushchannel_frames_total",
				Help: "Push channel frames by result",
			},
			[]string{"server", "result"},
		)
		pushChannelGaveUp = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pushchannel_gave_up_total",
				Help: "Push channels stopped after running out of reconnect attempts",
			},
			[]string{"server"},
		)

		measurementsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "measurements_written_total",
				Help: "Measurements written by series",
			},
			[]string{"series"},
		)
		changeEvents = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "change_events_total",
				Help: "change_record events published",
			},
		)
		changeRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "change_requests_total",
				Help: "Outbound change requests by result",
			},
			[]string{"result"},
		)

		gatewaysOnline = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "gateways_online",
				Help: "Gateways reported online at the last check",
			},
			[]string{"server"},
		)

		reg.MustRegister(
			vendorRequests,
			vendorRequestLatency,
			capabilityPushes,
			logins,
			pushChannelState,
			pushChannelReconnects,
			pushChannelFrames,
			pushChannelGaveUp,
			measurementsWritten,
			changeEvents,
			changeRequests,
			gatewaysOnline,
		)
	})
}

// ObserveVendorRequest records one signed request.
func ObserveVendorRequest(server, endpoint, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if vendorRequests != nil {
		vendorRequests.WithLabelValues(server, endpoint, result).Inc()
	}
	if vendorRequestLatency != nil {
		vendorRequestLatency.WithLabelValues(server, endpoint).Observe(duration.Seconds())
	}
}

// IncCapabilityPush counts a capability-push rejection.
func IncCapabilityPush(server string) {
	if capabilityPushes != nil {
		capabilityPushes.WithLabelValues(server).Inc()
	}
}

// IncLogin counts a login attempt.
func IncLogin(server, result string) {
	if logins != nil {
		logins.WithLabelValues(server, result).Inc()
	}
}

// SetPushChannelState records the numeric phase of a server's push channel.
func SetPushChannelState(server string, phase int) {
	if pushChannelState != nil {
		pushChannelState.WithLabelValues(server).Set(float64(phase))
	}
}

// IncPushChannelReconnect counts a reconnect attempt.
func IncPushChannelReconnect(server string) {
	if pushChannelReconnects != nil {
		pushChannelReconnects.WithLabelValues(server).Inc()
	}
}

// IncPushChannelFrame counts a frame delivered to the message callback.
func IncPushChannelFrame(server string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	if pushChannelFrames != nil {
		pushChannelFrames.WithLabelValues(server, result).Inc()
	}
}

// IncPushChannelGaveUp counts a push channel that stopped reconnecting.
func IncPushChannelGaveUp(server string) {
	if pushChannelGaveUp != nil {
		pushChannelGaveUp.WithLabelValues(server).Inc()
	}
}

// MeasurementWritten counts one stored point.
func MeasurementWritten(series string) {
	if measurementsWritten != nil {
		measurementsWritten.WithLabelValues(series).Inc()
	}
}

// ChangePublished counts one change_record event.
func ChangePublished() {
	if changeEvents != nil {
		changeEvents.Inc()
	}
}

// IncChangeRequest counts an outbound change request.
func IncChangeRequest(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if changeRequests != nil {
		changeRequests.WithLabelValues(result).Inc()
	}
}

// SetGatewaysOnline records how many gateways were online at the last check.
func SetGatewaysOnline(server string, n int) {
	if gatewaysOnline != nil {
		gatewaysOnline.WithLabelValues(server).Set(float64(n))
	}
}
