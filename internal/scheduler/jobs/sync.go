// Package jobs holds the concrete scheduled pipeline jobs.
package jobs

import (
	"context"
	"fmt"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/internal/sync"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// SyncJob synchronizes all active datasets.
type SyncJob struct {
	runner   *sync.Runner
	schedule string
	logger   *logger.Logger
}

// NewSyncJob creates the dataset synchronization job.
func NewSyncJob(runner *sync.Runner, schedule string, log *logger.Logger) *SyncJob {
	return &SyncJob{runner: runner, schedule: schedule, logger: log}
}

func (j *SyncJob) Name() string { return "dataset_sync" }

func (j *SyncJob) Schedule() string { return j.schedule }

// Run synchronizes every active dataset. Per-dataset failures are already
// folded into the batch result, so only a batch with hard failures counts
// as a failed run.
func (j *SyncJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled dataset sync")
	result, err := j.runner.Run(ctx, 0)
	if err != nil {
		return err
	}
	if !result.OK() {
		return batchError("dataset sync", result)
	}
	return nil
}

// batchError turns a batch with hard failures into a job error so the
// run shows up as failed in the scheduler history.
func batchError(what string, result *contracts.BatchResult) error {
	return fmt.Errorf("%s: %d of %d items failed", what, result.Failed, result.Total)
}
