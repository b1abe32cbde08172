package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "rate_limit_allowed_total", Help: "Number of allowed admin API requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "rate_limit_rejected_total", Help: "Number of rejected admin API requests by limiter type."},
		[]string{"limiter"},
	)
	HabboRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "habbo_requests_total", Help: "External profile API calls by endpoint and outcome."},
		[]string{"endpoint", "outcome"},
	)
	RoleChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "role_changes_total", Help: "Role add/remove calls by action and outcome."},
		[]string{"action", "outcome"},
	)
	ReconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "reconcile_passes_total", Help: "Per-user reconciliation passes by trigger and outcome."},
		[]string{"trigger", "outcome"},
	)
	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rolesync", Name: "verifications_total", Help: "Verification attempts by outcome."},
		[]string{"outcome"},
	)
	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "rolesync", Name: "sync_pass_duration_seconds", Help: "Duration of full periodic sync passes.", Buckets: prometheus.ExponentialBuckets(1, 2, 12)},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(HabboRequests)
	reg.MustRegister(RoleChanges)
	reg.MustRegister(ReconcilePasses)
	reg.MustRegister(Verifications)
	reg.MustRegister(SyncPassDuration)
}
