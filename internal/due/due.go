// Package due decides whether a story must be generated for a focus and a
// computed reference period. No state is persisted: every check is derived
// from durable story and audit rows, so re-running the check is idempotent
// and crash-safe. The storage layer's unique constraint on
// (focus, period start, period end) is the backstop against two truly
// simultaneous runs racing between check and write.
package due

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/internal/sqltmpl"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// State is the derived position of a focus/period pair.
type State string

const (
	// NotDue means generation must not run now.
	NotDue State = "not_due"
	// Due means generation should run now.
	Due State = "due"
	// Generated means a story for this period already exists.
	Generated State = "generated"
)

// Verdict is the outcome of one due check.
type Verdict struct {
	State  State
	Reason string
}

// ShouldGenerate reports whether the caller may proceed.
func (v Verdict) ShouldGenerate() bool { return v.State == Due }

// Checker derives the due state for template focuses.
type Checker struct {
	stories contracts.StoryStore
	wh      contracts.Warehouse
	log     *logger.Logger
}

// NewChecker creates a due checker.
func NewChecker(stories contracts.StoryStore, wh contracts.Warehouse, log *logger.Logger) *Checker {
	return &Checker{stories: stories, wh: wh, log: log}
}

// Check resolves the state for one focus and period.
//
// The optional has-data guard runs first and gates generation even under
// force: a yearly report for 2024 cannot exist without 2024 rows in the
// warehouse. force then bypasses the existence and publish-condition
// checks, for manual regeneration. Otherwise the pair is due iff no story
// row exists for the period and the focus publish condition (missing means
// always true) evaluates to true.
func (c *Checker) Check(
	ctx context.Context,
	tpl *contracts.StoryTemplate,
	focus *contracts.TemplateFocus,
	sqlCtx *sqltmpl.Context,
	force bool,
) (Verdict, error) {
	if tpl.HasDataSQL != "" {
		ok, err := c.queryTrue(ctx, tpl.HasDataSQL, sqlCtx)
		if err != nil {
			return Verdict{}, fmt.Errorf("has-data guard for template %d: %w", tpl.ID, err)
		}
		if !ok {
			return Verdict{State: NotDue, Reason: "no qualifying data for period"}, nil
		}
	}

	if force {
		return Verdict{State: Due, Reason: "forced"}, nil
	}

	exists, err := c.stories.StoryExists(ctx, focus.ID, sqlCtx.Period.Start, sqlCtx.Period.End)
	if err != nil {
		return Verdict{}, fmt.Errorf("story existence check for focus %d: %w", focus.ID, err)
	}
	if exists {
		return Verdict{State: Generated, Reason: "story already generated for period"}, nil
	}

	if focus.PublishConditions != "" {
		ok, err := c.queryTrue(ctx, focus.PublishConditions, sqlCtx)
		if err != nil {
			return Verdict{}, fmt.Errorf("publish condition for focus %d: %w", focus.ID, err)
		}
		if !ok {
			return Verdict{State: NotDue, Reason: "publish condition not met"}, nil
		}
	}

	c.log.WithFields(map[string]interface{}{
		"template": tpl.ID,
		"focus":    focus.ID,
		"start":    sqlCtx.Period.Start.Format("2006-01-02"),
	}).Debug("Focus is due for generation")

	return Verdict{State: Due, Reason: "period open and conditions met"}, nil
}

// queryTrue renders a guard query and evaluates its first cell as boolean.
// An empty result set counts as false.
func (c *Checker) queryTrue(ctx context.Context, tmpl string, sqlCtx *sqltmpl.Context) (bool, error) {
	sql, args, err := sqltmpl.Render(tmpl, sqlCtx)
	if err != nil {
		return false, err
	}
	rows, err := c.wh.RunQuery(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	for _, v := range rows[0] {
		return truthy(v), nil
	}
	return false, nil
}

// truthy interprets the scalar result of a 1/0 or boolean guard query.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x > 0
	case int32:
		return x > 0
	case int64:
		return x > 0
	case float64:
		return x > 0
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		if s == "true" || s == "t" {
			return true
		}
		n, err := strconv.ParseFloat(s, 64)
		return err == nil && n > 0
	}
	return false
}
