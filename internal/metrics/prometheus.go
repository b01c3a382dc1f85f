package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice session engine
type Metrics struct {
	// Capture pipeline metrics
	FramesCaptured   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesSuppressed prometheus.Counter

	// VAD metrics
	SpeechStarts prometheus.Counter
	SpeechEnds   prometheus.Counter

	// Playback metrics
	ChunksQueued  prometheus.Counter
	ChunksPlayed  prometheus.Counter
	ChunksDropped prometheus.Counter

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsEnded    prometheus.Counter
	Interrupts       prometheus.Counter
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec
	CurrentState     prometheus.Gauge

	// Negotiation metrics
	NegotiationRequests prometheus.Counter
	NegotiationFailures prometheus.Counter
	NegotiationRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture pipeline metrics
		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_captured_total",
			Help: "Total number of microphone frames captured",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_sent_total",
			Help: "Total number of frames transmitted to the agent",
		}),
		FramesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_suppressed_total",
			Help: "Total number of frames withheld by the half-duplex guard or mute",
		}),

		// VAD metrics
		SpeechStarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_speech_starts_total",
			Help: "Total number of speech onset detections",
		}),
		SpeechEnds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_speech_ends_total",
			Help: "Total number of end-of-utterance detections",
		}),

		// Playback metrics
		ChunksQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_queued_total",
			Help: "Total number of agent audio chunks queued for playback",
		}),
		ChunksPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_played_total",
			Help: "Total number of agent audio chunks rendered",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_dropped_total",
			Help: "Total number of agent audio chunks dropped by interruption or overflow",
		}),

		// Protocol metrics
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_messages_received_total",
			Help: "Total number of inbound wire messages",
		}, []string{"type"}),
		MessagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_messages_sent_total",
			Help: "Total number of outbound wire messages",
		}, []string{"type"}),
		ProtocolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_protocol_errors_total",
			Help: "Total number of protocol violations by error code",
		}, []string{"code"}),

		// Session metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_ended_total",
			Help: "Total number of sessions ended",
		}),
		Interrupts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_interrupts_total",
			Help: "Total number of user interruptions of agent speech",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_session_duration_seconds",
			Help:    "Duration of completed sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"from", "to"}),
		CurrentState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_session_state",
			Help: "Current session state as its numeric code",
		}),

		// Negotiation metrics
		NegotiationRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_negotiation_requests_total",
			Help: "Total number of session negotiation attempts",
		}),
		NegotiationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_negotiation_failures_total",
			Help: "Total number of failed session negotiations",
		}),
		NegotiationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_negotiation_retries_total",
			Help: "Total number of negotiation request retries",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameCaptured increments the frames captured counter
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordFrameSent increments the frames sent counter
func (m *Metrics) RecordFrameSent() {
	m.FramesSent.Inc()
}

// RecordFrameSuppressed increments the frames suppressed counter
func (m *Metrics) RecordFrameSuppressed() {
	m.FramesSuppressed.Inc()
}

// RecordSpeechStart increments the speech onset counter
func (m *Metrics) RecordSpeechStart() {
	m.SpeechStarts.Inc()
}

// RecordSpeechEnd increments the end-of-utterance counter
func (m *Metrics) RecordSpeechEnd() {
	m.SpeechEnds.Inc()
}

// RecordChunkQueued increments the chunks queued counter
func (m *Metrics) RecordChunkQueued() {
	m.ChunksQueued.Inc()
}

// RecordChunkPlayed increments the chunks played counter
func (m *Metrics) RecordChunkPlayed() {
	m.ChunksPlayed.Inc()
}

// RecordChunkDropped increments the chunks dropped counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordMessageReceived records an inbound message by type
func (m *Metrics) RecordMessageReceived(msgType string) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent records an outbound message by type
func (m *Metrics) RecordMessageSent(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordProtocolError records a protocol violation by error code
func (m *Metrics) RecordProtocolError(code string) {
	m.ProtocolErrors.WithLabelValues(code).Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a completed session and its duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordInterrupt increments the interrupt counter
func (m *Metrics) RecordInterrupt() {
	m.Interrupts.Inc()
}

// RecordStateTransition records a state transition and updates the state gauge
func (m *Metrics) RecordStateTransition(from, to string, toCode int) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.CurrentState.Set(float64(toCode))
}

// RecordNegotiationRequest increments the negotiation requests counter
func (m *Metrics) RecordNegotiationRequest() {
	m.NegotiationRequests.Inc()
}

// RecordNegotiationFailure increments the negotiation failures counter
func (m *Metrics) RecordNegotiationFailure() {
	m.NegotiationFailures.Inc()
}

// RecordNegotiationRetry increments the negotiation retries counter
func (m *Metrics) RecordNegotiationRetry() {
	m.NegotiationRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
