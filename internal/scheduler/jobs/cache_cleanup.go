package jobs

import (
	"context"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/external/ods"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// CacheCleanupJob removes downloaded extracts older than the retention
// window so stale data cannot be replayed after a portal outage.
type CacheCleanupJob struct {
	client   *ods.Client
	maxAge   time.Duration
	schedule string
	logger   *logger.Logger
}

// NewCacheCleanupJob creates the extract cache cleanup job.
func NewCacheCleanupJob(client *ods.Client, maxAge time.Duration, schedule string, log *logger.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{client: client, maxAge: maxAge, schedule: schedule, logger: log}
}

func (j *CacheCleanupJob) Name() string { return "cache_cleanup" }

func (j *CacheCleanupJob) Schedule() string { return j.schedule }

func (j *CacheCleanupJob) Run(ctx context.Context) error {
	removed, err := j.client.CleanCache(j.maxAge)
	if err != nil {
		return err
	}
	j.logger.WithField("removed", removed).Info("Extract cache cleaned")
	return nil
}
