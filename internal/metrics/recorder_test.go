package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncJobClaimed("GENERATE")
	r.IncJobCompleted("GENERATE")
	r.IncJobFailed("PARSE")
	r.IncJobRecovered("CLASSIFY")
	r.ObserveJobDuration("GENERATE", time.Second)
	r.ObserveStageDuration("DOCUMENT_ASSEMBLY", time.Millisecond)
}

func TestPrometheusRecorderRegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncJobClaimed("GENERATE")
	r.IncJobClaimed("GENERATE")
	r.IncJobCompleted("GENERATE")
	r.ObserveJobDuration("GENERATE", 2*time.Second)
	r.ObserveStageDuration("VERSIONING", 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, fam := range families {
		byName[fam.GetName()] = true
		if fam.GetName() == "docforge_jobs_claimed_total" {
			require.Len(t, fam.GetMetric(), 1)
			assert.InDelta(t, 2.0, fam.GetMetric()[0].GetCounter().GetValue(), 1e-9)
		}
	}
	assert.True(t, byName["docforge_jobs_claimed_total"])
	assert.True(t, byName["docforge_jobs_completed_total"])
	assert.True(t, byName["docforge_job_duration_seconds"])
	assert.True(t, byName["docforge_pipeline_stage_duration_seconds"])
}
