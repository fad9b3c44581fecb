package metrics

import (
	"time"

	"github.com/gifmotion/gifmotion/internal/observability"
)

// Generation and gate metric names.
const (
	GenerationSubmissionsTotal = "generation_submissions_total"
	GenerationPollsTotal       = "generation_polls_total"
	GenerationOutcomesTotal    = "generation_outcomes_total"
	GenerationDuration         = "generation_duration_ms"

	RateLimitRejectionsTotal = "ratelimit_rejections_total"
	RateLimitTrackedClients  = "ratelimit_tracked_clients"
	GateUnauthorizedTotal    = "gate_unauthorized_total"

	ServerStartTime = "app_server_start_time_seconds"
)

// RecordSubmission counts one create-task call by result ("accepted", "rejected", "malformed").
func RecordSubmission(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GenerationSubmissionsTotal,
			1,
			map[string]string{"status": status},
		)
	}
}

// RecordPoll counts one status check by the remote status it observed
// ("error" when the check itself failed).
func RecordPoll(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GenerationPollsTotal,
			1,
			map[string]string{"status": status},
		)
	}
}

// RecordOutcome records how a generation ended and how long it took.
func RecordOutcome(outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"outcome": outcome}
	_ = observability.TelemetrySystem.Counter(GenerationOutcomesTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(GenerationDuration, duration, labels)
}

// RecordRateLimitRejection counts one 429 issued by the gate.
func RecordRateLimitRejection() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitRejectionsTotal, 1, nil)
	}
}

// SetTrackedClients reports how many identifiers the limiter currently holds.
func SetTrackedClients(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RateLimitTrackedClients, float64(count), nil)
	}
}

// RecordUnauthorized counts one 401 issued by the referer check.
func RecordUnauthorized() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(GateUnauthorizedTotal, 1, nil)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
