package jobs

import (
	"context"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/story"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// GenerateJob evaluates all active story templates for the current day
// and generates the ones that are due.
type GenerateJob struct {
	runner   *story.Runner
	schedule string
	logger   *logger.Logger
}

// NewGenerateJob creates the story generation job.
func NewGenerateJob(runner *story.Runner, schedule string, log *logger.Logger) *GenerateJob {
	return &GenerateJob{runner: runner, schedule: schedule, logger: log}
}

func (j *GenerateJob) Name() string { return "story_generation" }

func (j *GenerateJob) Schedule() string { return j.schedule }

// Run generates due stories for today. Templates that are not due are
// skipped, so the job is safe to run any number of times per day.
func (j *GenerateJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled story generation")
	result, err := j.runner.Run(ctx, story.Options{RunDate: time.Now()})
	if err != nil {
		return err
	}
	if !result.OK() {
		return batchError("story generation", result)
	}
	return nil
}
