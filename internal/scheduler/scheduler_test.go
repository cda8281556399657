package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

type stubJob struct {
	name     string
	schedule string
	runs     atomic.Int64
	err      error
	block    chan struct{}
	done     chan struct{}
}

func newStubJob(name string) *stubJob {
	return &stubJob{
		name:     name,
		schedule: "0 0 5 * * *",
		done:     make(chan struct{}, 16),
	}
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	j.done <- struct{}{}
	return j.err
}

func waitForRun(t *testing.T, j *stubJob) {
	t.Helper()
	select {
	case <-j.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not run", j.name)
	}
}

// waitForHistory waits until the scheduler has recorded n results for the
// job. The result is written after Run returns, so tests cannot rely on
// the done channel alone.
func waitForHistory(t *testing.T, s *Scheduler, name string, n int) *JobHistory {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		history, err := s.GetJobHistory(name)
		require.NoError(t, err)
		if len(history.Results) >= n {
			return history
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %d recorded runs", name, n)
	return nil
}

func TestAddJobRejectsDuplicates(t *testing.T) {
	s := New(logger.NewNop())

	require.NoError(t, s.AddJob(newStubJob("sync")))
	err := s.AddJob(newStubJob("sync"))
	assert.ErrorContains(t, err, "already exists")
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(logger.NewNop())

	job := newStubJob("sync")
	job.schedule = "not a schedule"
	err := s.AddJob(job)
	assert.ErrorContains(t, err, "failed to schedule")
}

func TestRunJobRecordsHistory(t *testing.T) {
	s := New(logger.NewNop())
	job := newStubJob("sync")
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("sync"))
	waitForRun(t, job)
	history := waitForHistory(t, s, "sync", 1)

	result := history.Results[0]
	assert.Equal(t, "sync", result.JobName)
	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.False(t, result.EndTime.Before(result.StartTime))
}

func TestRunJobRecordsFailure(t *testing.T) {
	s := New(logger.NewNop())
	job := newStubJob("sync")
	job.err = errors.New("portal unreachable")
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("sync"))
	waitForRun(t, job)
	history := waitForHistory(t, s, "sync", 1)

	result := history.Results[0]
	assert.False(t, result.Success)
	assert.Equal(t, "portal unreachable", result.Error)
}

func TestRunJobUnknownName(t *testing.T) {
	s := New(logger.NewNop())
	assert.ErrorContains(t, s.RunJob("nope"), "not found")
}

func TestOverlappingRunIsDropped(t *testing.T) {
	s := New(logger.NewNop())
	job := newStubJob("sync")
	job.block = make(chan struct{})
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("sync"))
	// Let the first run take the running slot before triggering again.
	deadline := time.Now().Add(2 * time.Second)
	for job.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, int64(1), job.runs.Load())

	require.NoError(t, s.RunJob("sync"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), job.runs.Load(), "second trigger should be dropped")

	close(job.block)
	waitForRun(t, job)
	waitForHistory(t, s, "sync", 1)

	// With the first run finished the job can be triggered again.
	require.NoError(t, s.RunJob("sync"))
	waitForRun(t, job)
	waitForHistory(t, s, "sync", 2)
	assert.Equal(t, int64(2), job.runs.Load())
}

func TestGetJobStats(t *testing.T) {
	s := New(logger.NewNop())
	good := newStubJob("sync")
	bad := newStubJob("generate")
	bad.err = errors.New("no api key")
	require.NoError(t, s.AddJob(good))
	require.NoError(t, s.AddJob(bad))

	require.NoError(t, s.RunJob("sync"))
	require.NoError(t, s.RunJob("sync"))
	require.NoError(t, s.RunJob("generate"))
	waitForRun(t, good)
	waitForRun(t, good)
	waitForRun(t, bad)
	waitForHistory(t, s, "sync", 2)
	waitForHistory(t, s, "generate", 1)

	stats := s.GetJobStats()
	require.Len(t, stats, 2)

	syncStats := stats["sync"]
	assert.Equal(t, "0 0 5 * * *", syncStats.Schedule)
	assert.Equal(t, 2, syncStats.TotalRuns)
	assert.Equal(t, 2, syncStats.SuccessCount)
	assert.Equal(t, 0, syncStats.FailureCount)
	assert.Equal(t, 1.0, syncStats.SuccessRate)
	require.NotNil(t, syncStats.LastRun)

	genStats := stats["generate"]
	assert.Equal(t, 1, genStats.FailureCount)
	assert.Equal(t, "no api key", genStats.LastError)
	assert.Equal(t, 0.0, genStats.SuccessRate)
}

func TestJobHistoryCap(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < 150; i++ {
		h.AddResult(JobResult{JobName: fmt.Sprintf("run-%d", i), Success: true})
	}

	assert.Len(t, h.Results, 100)
	assert.Equal(t, "run-50", h.Results[0].JobName)
	assert.Equal(t, "run-149", h.Results[99].JobName)
}

func TestJobHistoryLatestResults(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < 5; i++ {
		h.AddResult(JobResult{JobName: fmt.Sprintf("run-%d", i)})
	}

	latest := h.GetLatestResults(2)
	require.Len(t, latest, 2)
	assert.Equal(t, "run-3", latest[0].JobName)
	assert.Equal(t, "run-4", latest[1].JobName)

	assert.Len(t, h.GetLatestResults(10), 5)
	assert.Empty(t, (&JobHistory{}).GetLatestResults(3))
}

func TestJobHistorySuccessRate(t *testing.T) {
	h := &JobHistory{}
	assert.Equal(t, 0.0, h.GetSuccessRate())

	h.AddResult(JobResult{Success: true})
	h.AddResult(JobResult{Success: true})
	h.AddResult(JobResult{Success: false})
	assert.InDelta(t, 2.0/3.0, h.GetSuccessRate(), 1e-9)
}
