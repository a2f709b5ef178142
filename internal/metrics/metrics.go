package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksPlanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "era5_downloader_tasks_planned_total",
		Help: "Total number of tasks planned",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "era5_downloader_tasks_completed_total",
		Help: "Total number of tasks completed",
	})

	TasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "era5_downloader_tasks_skipped_total",
		Help: "Total number of tasks already completed and verified",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "era5_downloader_tasks_failed_total",
		Help: "Total number of tasks failed after all attempts",
	})

	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "era5_downloader_fetch_attempts_total",
		Help: "Fetch attempts by result",
	}, []string{"result"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "era5_downloader_fetch_duration_seconds",
		Help:    "Fetch duration in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})

	FetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "era5_downloader_fetch_bytes_total",
		Help: "Total bytes fetched from the archive",
	})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "era5_downloader_verifications_total",
		Help: "File verifications by result",
	}, []string{"result"})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "era5_downloader_merges_total",
		Help: "Merge operations by result",
	}, []string{"result"})
)
