package story

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// Runner walks every active template and its focuses for a run date. One
// focus failing is recorded and the batch continues.
type Runner struct {
	assembler *Assembler
	cfg       contracts.ConfigStore
	log       *logger.Logger
}

// NewRunner creates a generation batch runner.
func NewRunner(assembler *Assembler, cfg contracts.ConfigStore, log *logger.Logger) *Runner {
	return &Runner{assembler: assembler, cfg: cfg, log: log}
}

// Options control one generation batch.
type Options struct {
	// TemplateID restricts the batch to one template when positive.
	TemplateID int64
	// RunDate is the publish date stories are generated for.
	RunDate time.Time
	// Force regenerates past the existence and publish-condition checks.
	Force bool
	// DryRun reports what would be generated without writing anything.
	DryRun bool
}

// Run generates stories for every due template focus.
func (r *Runner) Run(ctx context.Context, opts Options) (*contracts.BatchResult, error) {
	templates, err := r.cfg.Templates(ctx, opts.TemplateID)
	if err != nil {
		return nil, err
	}

	// One id per batch run so log lines of concurrent invocations can
	// be told apart.
	log := r.log.WithField("run_id", uuid.NewString())

	result := &contracts.BatchResult{}
	for _, tpl := range templates {
		focuses, err := r.cfg.Focuses(ctx, tpl.ID)
		if err != nil {
			result.Add(contracts.ItemResult{
				ID:    tpl.ID,
				Name:  tpl.Title,
				Error: fmt.Sprintf("loading focuses: %v", err),
			})
			continue
		}
		if len(focuses) == 0 {
			// The store backfills a default focus row for templates
			// without explicit focuses, so an empty result means the
			// backfill failed.
			result.Add(contracts.ItemResult{
				ID:    tpl.ID,
				Name:  tpl.Title,
				Error: "no focus rows and no default focus",
			})
			continue
		}

		for _, focus := range focuses {
			result.Add(r.processFocus(ctx, log, tpl, focus, opts))
		}
	}

	log.WithField("summary", result.Summary()).Info("Story generation finished")
	return result, nil
}

func (r *Runner) processFocus(ctx context.Context, log *logger.Logger, tpl *contracts.StoryTemplate, focus *contracts.TemplateFocus, opts Options) contracts.ItemResult {
	item := contracts.ItemResult{ID: focus.ID, Name: focusName(tpl, focus)}

	if opts.DryRun {
		outcome, err := r.assembler.Preview(ctx, tpl, focus, opts.RunDate, opts.Force)
		if err != nil {
			item.Error = err.Error()
			return item
		}
		item.Success = true
		item.Skipped = outcome.Skipped
		log.WithFields(map[string]interface{}{
			"focus":  item.Name,
			"due":    !outcome.Skipped,
			"reason": outcome.Reason,
		}).Info("Dry run")
		return item
	}

	outcome, err := r.assembler.Generate(ctx, tpl, focus, opts.RunDate, opts.Force)
	if err != nil {
		item.Error = err.Error()
		log.WithError(err).WithField("focus", item.Name).Error("Story generation failed")
		return item
	}
	item.Success = true
	item.Skipped = outcome.Skipped
	return item
}

func focusName(tpl *contracts.StoryTemplate, focus *contracts.TemplateFocus) string {
	if focus.FocusSubject != "" {
		return fmt.Sprintf("%s / %s", tpl.Title, focus.FocusSubject)
	}
	return tpl.Title
}
