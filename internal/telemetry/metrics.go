package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_submitted_total", Help: "Total submitted analysis jobs"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	CompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_completed_total", Help: "Jobs that reached completed"})
	FailedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs that reached failed, cancellations included"})
	CancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_cancelled_total", Help: "Jobs cancelled by callers"})
	PausedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_paused_total", Help: "Running jobs returned to the queue"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Jobs waiting for admission across priorities"})
	RunningGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_jobs_running", Help: "Jobs currently occupying a runner slot"})
	ExecSeconds      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_job_duration_seconds",
		Help:    "Execution time of completed jobs, start to finish",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			RateLimitRejects,
			CompletedCounter,
			FailedCounter,
			CancelledCounter,
			PausedCounter,
			QueueDepthGauge,
			RunningGauge,
			ExecSeconds,
		)
	})
	return promhttp.Handler()
}
