package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	jobsClaimed   *prom.CounterVec
	jobsCompleted *prom.CounterVec
	jobsFailed    *prom.CounterVec
	jobsRecovered *prom.CounterVec
	jobDuration   *prom.HistogramVec
	stageDuration *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.jobsClaimed = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docforge",
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by workers, by job type",
		}, []string{"type"})
		pr.jobsCompleted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docforge",
			Name:      "jobs_completed_total",
			Help:      "Jobs completed successfully, by job type",
		}, []string{"type"})
		pr.jobsFailed = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docforge",
			Name:      "jobs_failed_total",
			Help:      "Jobs that ended in failure, by job type",
		}, []string{"type"})
		pr.jobsRecovered = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docforge",
			Name:      "jobs_recovered_total",
			Help:      "Stuck jobs reset back to pending, by job type",
		}, []string{"type"})
		pr.jobDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docforge",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of job handler execution",
			Buckets:   prom.DefBuckets,
		}, []string{"type"})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docforge",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of individual generation pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		reg.MustRegister(pr.jobsClaimed, pr.jobsCompleted, pr.jobsFailed,
			pr.jobsRecovered, pr.jobDuration, pr.stageDuration)
	})
	return pr
}

func (pr *PrometheusRecorder) IncJobClaimed(jobType string) {
	pr.jobsClaimed.WithLabelValues(jobType).Inc()
}

func (pr *PrometheusRecorder) IncJobCompleted(jobType string) {
	pr.jobsCompleted.WithLabelValues(jobType).Inc()
}

func (pr *PrometheusRecorder) IncJobFailed(jobType string) {
	pr.jobsFailed.WithLabelValues(jobType).Inc()
}

func (pr *PrometheusRecorder) IncJobRecovered(jobType string) {
	pr.jobsRecovered.WithLabelValues(jobType).Inc()
}

func (pr *PrometheusRecorder) ObserveJobDuration(jobType string, d time.Duration) {
	pr.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (pr *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	pr.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
