package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photocron_job_runs_total",
			Help: "Total number of job invocations by outcome status",
		},
		[]string{"job", "trigger", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photocron_job_duration_seconds",
			Help:    "Job body execution time in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"job"},
	)

	jobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photocron_jobs_running",
			Help: "Number of job bodies currently executing",
		},
	)

	jobsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photocron_jobs_registered",
			Help: "Number of jobs in the scheduler registry",
		},
	)

	retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photocron_retry_attempts_total",
			Help: "Attempts made under a retry policy by result",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photocron_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordJobRun(job, trigger, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, trigger, status).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func JobStarted()  { jobsRunning.Inc() }
func JobFinished() { jobsRunning.Dec() }

func SetRegisteredJobs(n int) {
	jobsRegistered.Set(float64(n))
}

func RecordRetryAttempt(result string) {
	retryAttempts.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
