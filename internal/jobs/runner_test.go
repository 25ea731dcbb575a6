package jobs

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	schedule string
	runs     atomic.Int32
	block    chan struct{}
}

func (j *countingJob) Name() string     { return "counting" }
func (j *countingJob) Schedule() string { return j.schedule }
func (j *countingJob) Run() {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
}

func TestRunner_RunsOnSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	job := &countingJob{schedule: "@every 1s"}
	r := NewRunner(logger, job)

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunner_SkipsOverlappingRuns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	job := &countingJob{schedule: "@every 1s", block: make(chan struct{})}
	r := NewRunner(logger, job)

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Job is still running, skipping tick" {
				return true
			}
		}
		return false
	}, 4*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())
	close(job.block)
}

func TestRunner_InvalidSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRunner(logger, &countingJob{schedule: "every tuesday"})

	assert.Error(t, r.Start())
}

func TestParseSchedule_StandardFields(t *testing.T) {
	from := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	daily, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	first := daily.Next(from)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), first)
	assert.Equal(t, 24*time.Hour, daily.Next(first).Sub(first))

	every, err := ParseSchedule("@every 6h")
	require.NoError(t, err)
	assert.Equal(t, from.Add(6*time.Hour), every.Next(from))

	// the seconds-first dialect is rejected instead of silently running hourly
	_, err = ParseSchedule("0 0 3 * * *")
	assert.Error(t, err)
}
