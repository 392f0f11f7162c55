package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Grader calls by route and outcome (ok, degraded).
	evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textchamp_evaluations_total",
			Help: "Total number of answer evaluations",
		},
		[]string{"route", "outcome"},
	)

	evaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textchamp_evaluation_duration_seconds",
			Help:    "Time spent grading answers, including the LLM call",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"route"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textchamp_submissions_total",
			Help: "Total number of attempt submissions",
		},
		[]string{"section", "status"},
	)

	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textchamp_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)
)

func outcomeLabel(degraded bool) string {
	if degraded {
		return "degraded"
	}
	return "ok"
}
