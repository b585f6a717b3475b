package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_tasks_processed_total",
			Help: "Total number of tasks processed by platform and final status",
		},
		[]string{"platform", "status"},
	)

	TasksPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_tasks_pending",
			Help: "Number of pending tasks by platform",
		},
		[]string{"platform"},
	)

	// Post metrics
	PostsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_posts_found_total",
			Help: "Total number of posts returned by platform adapters",
		},
		[]string{"platform"},
	)

	PostsAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_posts_added_total",
			Help: "Total number of posts stored after deduplication",
		},
		[]string{"platform"},
	)

	// Quota metrics
	QuotaHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_quota_halts_total",
			Help: "Total number of quota halts by platform",
		},
		[]string{"platform"},
	)

	QuotaHalted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_quota_halted",
			Help: "Whether a platform is currently quota halted (1 = halted)",
		},
		[]string{"platform"},
	)

	// Collection metrics
	CollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magpie_collection_duration_seconds",
			Help:    "Task collection duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	CollectPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_collect_passes_total",
			Help: "Total number of collection passes across all platforms",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(TasksProcessed)
	prometheus.MustRegister(TasksPending)
	prometheus.MustRegister(PostsFound)
	prometheus.MustRegister(PostsAdded)
	prometheus.MustRegister(QuotaHalts)
	prometheus.MustRegister(QuotaHalted)
	prometheus.MustRegister(CollectionDuration)
	prometheus.MustRegister(CollectPasses)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on the observer
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
