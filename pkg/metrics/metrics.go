package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	PublishedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_published_jobs_total", Help: "Jobs published to queue"},
	)
	InlineSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_inline_sends_total", Help: "Inline sends by outcome"},
		[]string{"outcome"},
	)
	SessionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_sessions_accepted_total", Help: "Accepted send requests by mode"},
		[]string{"mode"},
	)
	TriggersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_triggers_created_total", Help: "Periodic triggers created by granularity"},
		[]string{"granularity"},
	)

	BeatTriggersFired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "beat_triggers_fired_total", Help: "Triggers fired"},
	)
	BeatTriggersExpired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "beat_triggers_expired_total", Help: "Triggers disabled after expiry"},
	)
	BeatFireErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "beat_fire_errors_total", Help: "Trigger fires that failed"},
	)

	WorkerJobsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_consumed_total", Help: "Jobs consumed"},
	)
	WorkerJobsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_sent_total", Help: "Jobs sent successfully"},
	)
	WorkerJobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_failed_total", Help: "Jobs failed"},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_process_duration_seconds",
			Help:    "Time spent processing a job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, PublishedJobsTotal, InlineSendsTotal,
		SessionsAccepted, TriggersCreated,
		BeatTriggersFired, BeatTriggersExpired, BeatFireErrors,
		WorkerJobsConsumed, WorkerJobsSent, WorkerJobsFailed, WorkerProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
