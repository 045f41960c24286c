// Package metrics defines the observability hooks for the job queue and the
// generation pipeline. Implementations may forward to Prometheus or stay
// no-op when metrics are not configured.
package metrics

import "time"

// Recorder defines the hooks recorded by workers and the pipeline handler.
type Recorder interface {
	IncJobClaimed(jobType string)
	IncJobCompleted(jobType string)
	IncJobFailed(jobType string)
	IncJobRecovered(jobType string)
	ObserveJobDuration(jobType string, d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncJobClaimed(string)                       {}
func (NoopRecorder) IncJobCompleted(string)                     {}
func (NoopRecorder) IncJobFailed(string)                        {}
func (NoopRecorder) IncJobRecovered(string)                     {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration)   {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
