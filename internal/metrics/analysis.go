package metrics

import (
	"strconv"
	"time"
)

// QuotaDecided records one usage policy evaluation.
func QuotaDecided(allowed bool, reason string) {
	QuotaDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
}

// ReservationLost records a request that passed the policy but lost the race
// for the last unit of quota.
func ReservationLost() {
	QuotaReservationsLost.Inc()
}

// ReservationReleased records a compensation after a failed model call.
func ReservationReleased(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	QuotaReleasesTotal.WithLabelValues(status).Inc()
}

// AICallSucceeded records token usage and cost of a successful model call.
func AICallSucceeded(inputTokens, outputTokens, costCents int, duration time.Duration) {
	AIAPICalls.WithLabelValues("success").Inc()
	AIRequestDuration.Observe(duration.Seconds())
	AITokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	AITokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	AICostCentsTotal.Add(float64(costCents))
}

// AICallFailed records a failed model call under a coarse error kind.
func AICallFailed(kind string, duration time.Duration) {
	AIAPICalls.WithLabelValues(kind).Inc()
	AIRequestDuration.Observe(duration.Seconds())
}

// AnalysisCompleted records a delivered analysis.
func AnalysisCompleted(style, parseQuality string) {
	AnalysesTotal.WithLabelValues(style, parseQuality).Inc()
}

// StepFailed records a non-fatal post-model failure.
func StepFailed(step string) {
	PostModelStepFailures.WithLabelValues(step).Inc()
}

// RateLimited records a rejection by the named limiter.
func RateLimited(limiter string) {
	RateLimitRejections.WithLabelValues(limiter).Inc()
}
