package sync

import (
	"context"

	"github.com/google/uuid"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// Runner synchronizes a batch of datasets sequentially. One dataset's
// failure is recorded and the batch moves on.
type Runner struct {
	engine *Engine
	cfg    contracts.ConfigStore
	log    *logger.Logger
}

// NewRunner creates a batch runner around a sync engine.
func NewRunner(engine *Engine, cfg contracts.ConfigStore, log *logger.Logger) *Runner {
	return &Runner{engine: engine, cfg: cfg, log: log}
}

// Run synchronizes all active datasets, or the single dataset with
// datasetID when it is positive.
func (r *Runner) Run(ctx context.Context, datasetID int64) (*contracts.BatchResult, error) {
	datasets, err := r.cfg.Datasets(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	// One id per batch run so log lines of concurrent invocations can
	// be told apart.
	log := r.log.WithField("run_id", uuid.NewString())

	result := &contracts.BatchResult{}
	for _, ds := range datasets {
		item := contracts.ItemResult{ID: ds.ID, Name: ds.Name}

		outcome, err := r.engine.SyncDataset(ctx, ds)
		switch {
		case err != nil:
			item.Error = err.Error()
			log.WithError(err).WithFields(map[string]interface{}{
				"dataset": ds.ID,
				"name":    ds.Name,
			}).Error("Dataset synchronization failed")
		case outcome.UpToDate:
			item.Success = true
			item.Skipped = true
		default:
			item.Success = true
		}
		result.Add(item)
	}

	log.WithField("summary", result.Summary()).Info("Dataset synchronization finished")
	return result, nil
}
