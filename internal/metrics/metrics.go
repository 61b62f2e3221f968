// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry so tests can run many
// instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	TasksProcessed    *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	SegmentsRendered  prometheus.Counter
	UploadsAccepted   prometheus.Counter
	UploadBytes       prometheus.Counter
}

// New returns a fresh metrics set with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "opusmix_sessions_started_total",
			Help: "Sessions submitted to the pipeline.",
		}),
		SessionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opusmix_sessions_completed_total",
			Help: "Sessions reaching a terminal state.",
		}, []string{"status"}),
		TasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opusmix_tasks_processed_total",
			Help: "Pipeline tasks processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opusmix_task_duration_seconds",
			Help:    "Task processing time by kind.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		}, []string{"kind"}),
		SegmentsRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "opusmix_segments_rendered_total",
			Help: "Audio segments rendered successfully.",
		}),
		UploadsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "opusmix_uploads_accepted_total",
			Help: "Track uploads accepted.",
		}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "opusmix_upload_bytes_total",
			Help: "Total bytes of accepted uploads.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
