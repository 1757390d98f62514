package session

import (
	"github.com/bissquit/deepvisas/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Sign-in, sign-up and sign-out attempts by result",
		},
		[]string{"operation", "result"},
	)

	authenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while an identity is signed in, 0 otherwise",
		},
	)
)

func recordAttempt(operation, result string) {
	authAttempts.WithLabelValues(operation, result).Inc()
}

func recordAuthenticated(signedIn bool) {
	if signedIn {
		authenticated.Set(1)
		return
	}
	authenticated.Set(0)
}
