package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_sessions_started_total",
			Help: "Total number of scan sessions started",
		},
		[]string{"mode"},
	)

	sessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_sessions_finished_total",
			Help: "Total number of scan sessions finished",
		},
		[]string{"mode", "outcome"}, // outcome: success, stopped, replaced, failed
	)

	timeToSuccess = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nativescan_time_to_success_seconds",
			Help:    "Time from scan start to confirmed success",
			Buckets: []float64{.5, 1, 1.5, 2, 2.5, 3, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	// Frame metrics
	framesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_frames_analyzed_total",
			Help: "Total number of frames run through a detector",
		},
		[]string{"mode"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_frames_dropped_total",
			Help: "Total number of frames replaced by a newer frame before analysis",
		},
		[]string{"mode"},
	)

	detectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_detector_errors_total",
			Help: "Total number of per-frame detector failures",
		},
		[]string{"mode"},
	)
)
