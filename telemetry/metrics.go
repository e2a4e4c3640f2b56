// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers for the bot.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	InviteAttempts    prometheus.Counter
	InviteRetries     prometheus.Counter
	InvitationOutcome *prometheus.CounterVec // outcome=accepted|abandoned|interrupted
	MessagesTotal     *prometheus.CounterVec // outcome=replied|rejected|failed
	MessageFailures   *prometheus.CounterVec // stage=completing|replying
	CompletionTokens  *prometheus.CounterVec // kind=prompt|completion
	HandlerPanics     prometheus.Counter

	// Histograms (seconds)
	CompletionDuration prometheus.Observer
	DeliveryDuration   prometheus.Observer

	// Gauges
	InFlightHandlers prometheus.Gauge
	SyncHealthy      prometheus.Gauge // 1=last sync ok, 0=failing
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		InviteAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_invite_accept_attempts_total", Help: "Number of room join attempts for invitations"})
		InviteRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_invite_retries_total", Help: "Number of scheduled invitation join retries"})
		InvitationOutcome = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_invitations_total", Help: "Invitations handled, by final outcome"}, []string{"outcome"})
		MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_messages_total", Help: "Room messages handled, by outcome"}, []string{"outcome"})
		MessageFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_message_failures_total", Help: "Message pipeline failures, by stage"}, []string{"stage"})
		CompletionTokens = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_completion_tokens_total", Help: "Tokens reported by the completion service"}, []string{"kind"})
		HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_handler_panics_total", Help: "Recovered panics in event handlers"})
		CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_completion_duration_seconds", Help: "Completion request duration seconds", Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80}})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_delivery_duration_seconds", Help: "Reply send duration seconds", Buckets: prometheus.DefBuckets})
		InFlightHandlers = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_inflight_handlers", Help: "Event handlers currently running"})
		SyncHealthy = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_sync_healthy", Help: "Transport sync health ok=1 failing=0"})
	})
}

// CountInvitation records the final outcome of one invitation.
func CountInvitation(outcome string) {
	if InvitationOutcome != nil {
		InvitationOutcome.WithLabelValues(outcome).Inc()
	}
}

// CountMessage records how one message left the pipeline.
func CountMessage(outcome string) {
	if MessagesTotal != nil {
		MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

// CountFailure records a pipeline failure at the given stage.
func CountFailure(stage string) {
	if MessageFailures != nil {
		MessageFailures.WithLabelValues(stage).Inc()
	}
}

// AddTokens records token usage reported by the completion service.
func AddTokens(prompt, completion int64) {
	if CompletionTokens == nil {
		return
	}
	if prompt > 0 {
		CompletionTokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		CompletionTokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// Inc increments c when it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetSyncHealthy sets gauge to 1 if ok else 0.
func SetSyncHealthy(ok bool) {
	if SyncHealthy != nil {
		if ok {
			SyncHealthy.Set(1)
		} else {
			SyncHealthy.Set(0)
		}
	}
}

// TrackInFlight adjusts the in-flight handler gauge by delta.
func TrackInFlight(delta float64) {
	if InFlightHandlers != nil {
		InFlightHandlers.Add(delta)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
