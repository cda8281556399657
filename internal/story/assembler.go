// Package story assembles insight stories: it pins the reference period,
// consults the due checker, collects context data, calls the text
// generator and persists the story with its audit log, tables and
// graphics.
package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/internal/due"
	"github.com/lcalmbach/open-data-insights-sub000/internal/period"
	"github.com/lcalmbach/open-data-insights-sub000/internal/sqltmpl"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// formattingInstructions is appended to every content system prompt so the
// generator returns clean paragraph-only Markdown.
const formattingInstructions = `Format the output as plain Markdown.
Do not use bold or italic text for emphasis.
Avoid using bullet points, numbered lists, or subheadings.
Write in concise, complete sentences.
Ensure that the structure is clean and easy to read using only paragraphs.`

const (
	contentMaxTokens = 3000
	titleMaxTokens   = 60
	leadMaxTokens    = 200
)

// Assembler produces one story per due template focus.
type Assembler struct {
	cfg     contracts.ConfigStore
	stories contracts.StoryStore
	wh      contracts.Warehouse
	gen     contracts.TextGenerator
	checker *due.Checker
	log     *logger.Logger
}

// NewAssembler creates a story assembler.
func NewAssembler(
	cfg contracts.ConfigStore,
	stories contracts.StoryStore,
	wh contracts.Warehouse,
	gen contracts.TextGenerator,
	checker *due.Checker,
	log *logger.Logger,
) *Assembler {
	return &Assembler{cfg: cfg, stories: stories, wh: wh, gen: gen, checker: checker, log: log}
}

// Outcome reports what one template focus produced.
type Outcome struct {
	Skipped bool
	Reason  string
	StoryID int64
}

// Generate runs the full assembly for one template focus at a run date.
// force regenerates past the existence and publish-condition checks; the
// has-data guard still applies.
func (a *Assembler) Generate(
	ctx context.Context,
	tpl *contracts.StoryTemplate,
	focus *contracts.TemplateFocus,
	runDate time.Time,
	force bool,
) (Outcome, error) {
	runDate = dateOf(runDate)

	anchor, err := a.anchorDate(ctx, tpl, runDate)
	if err != nil {
		return Outcome{}, err
	}

	refPeriod, err := period.Compute(anchor, tpl.ReferencePeriod, tpl.Direction)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: template %d: %v", contracts.ErrConfig, tpl.ID, err)
	}

	sqlCtx := &sqltmpl.Context{
		Period:        refPeriod,
		Unit:          tpl.ReferencePeriod,
		PublishedDate: runDate,
		FilterValue:   focus.FilterValue,
		FilterFields:  tpl.FilterFields,
	}

	verdict, err := a.checker.Check(ctx, tpl, focus, sqlCtx, force)
	if err != nil {
		return Outcome{}, err
	}
	if !verdict.ShouldGenerate() {
		return Outcome{Skipped: true, Reason: verdict.Reason}, nil
	}

	contexts, err := a.cfg.Contexts(ctx, tpl.ID)
	if err != nil {
		return Outcome{}, err
	}
	contextJSON, err := a.collectContext(ctx, contexts, sqlCtx)
	if err != nil {
		return Outcome{}, err
	}

	content, err := a.generateContent(ctx, tpl, contextJSON, sqlCtx)
	if err != nil {
		return Outcome{}, err
	}

	title, lead, err := a.generateTitleAndLead(ctx, tpl, content)
	if err != nil {
		return Outcome{}, err
	}

	st := &contracts.Story{
		Slug:                 storySlug(tpl, focus, refPeriod),
		FocusID:              focus.ID,
		Title:                title,
		Summary:              lead,
		Content:              content,
		PromptText:           tpl.PromptText,
		ContextValues:        contextJSON,
		AIModel:              tpl.AIModel,
		PublishedDate:        runDate,
		ReferencePeriodStart: refPeriod.Start,
		ReferencePeriodEnd:   refPeriod.End,
	}
	slog := &contracts.StoryLog{
		PublishDate:          runDate,
		ReferencePeriodStart: refPeriod.Start,
		ReferencePeriodEnd:   refPeriod.End,
	}

	if err := a.stories.CreateStory(ctx, st, slog); err != nil {
		if errors.Is(err, contracts.ErrDuplicateStory) {
			// lost the race to a concurrent run; the story exists, so
			// converge instead of failing
			return Outcome{Skipped: true, Reason: "story already generated for period"}, nil
		}
		return Outcome{}, err
	}

	a.attachTables(ctx, tpl, st, sqlCtx)
	a.attachGraphics(ctx, tpl, st, sqlCtx)

	if tpl.PostPublishSQL != "" {
		if err := a.wh.RunAction(ctx, tpl.PostPublishSQL); err != nil {
			a.log.WithError(err).WithField("template", tpl.ID).Error("Post-publish command failed")
		}
	}

	a.log.WithFields(map[string]interface{}{
		"template": tpl.ID,
		"focus":    focus.ID,
		"story":    st.ID,
		"period":   period.Label(refPeriod, tpl.ReferencePeriod),
	}).Info("Story generated")

	return Outcome{StoryID: st.ID}, nil
}

// Preview resolves the period and due verdict for one template focus
// without generating or writing anything.
func (a *Assembler) Preview(
	ctx context.Context,
	tpl *contracts.StoryTemplate,
	focus *contracts.TemplateFocus,
	runDate time.Time,
	force bool,
) (Outcome, error) {
	runDate = dateOf(runDate)

	anchor, err := a.anchorDate(ctx, tpl, runDate)
	if err != nil {
		return Outcome{}, err
	}
	refPeriod, err := period.Compute(anchor, tpl.ReferencePeriod, tpl.Direction)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: template %d: %v", contracts.ErrConfig, tpl.ID, err)
	}

	sqlCtx := &sqltmpl.Context{
		Period:        refPeriod,
		Unit:          tpl.ReferencePeriod,
		PublishedDate: runDate,
		FilterValue:   focus.FilterValue,
		FilterFields:  tpl.FilterFields,
	}
	verdict, err := a.checker.Check(ctx, tpl, focus, sqlCtx, force)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Skipped: !verdict.ShouldGenerate(), Reason: verdict.Reason}, nil
}

// anchorDate resolves the date the reference period is computed from: the
// template's most-recent-day query when configured, otherwise the run date
// (minus one day for daily cadences, which describe a completed day).
func (a *Assembler) anchorDate(ctx context.Context, tpl *contracts.StoryTemplate, runDate time.Time) (time.Time, error) {
	if tpl.MostRecentDaySQL != "" {
		sqlCtx := &sqltmpl.Context{PublishedDate: runDate, Unit: tpl.ReferencePeriod}
		sql, args, err := sqltmpl.Render(tpl.MostRecentDaySQL, sqlCtx)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: template %d most-recent-day query: %v", contracts.ErrConfig, tpl.ID, err)
		}
		rows, err := a.wh.RunQuery(ctx, sql, args...)
		if err != nil {
			return time.Time{}, fmt.Errorf("most-recent-day query for template %d: %w", tpl.ID, err)
		}
		if len(rows) > 0 {
			for _, v := range rows[0] {
				if t, ok := asTime(v); ok {
					return dateOf(t), nil
				}
			}
		}
		a.log.WithField("template", tpl.ID).Warn("Most-recent-day query returned no usable date, falling back to run date")
	}

	if tpl.ReferencePeriod == period.Day {
		return runDate.AddDate(0, 0, -1), nil
	}
	return runDate, nil
}

// collectContext runs every context query and folds the results into the
// JSON document fed to the text generator. Keys get the text tokens
// substituted, then are lowercased with spaces as underscores.
func (a *Assembler) collectContext(ctx context.Context, contexts []*contracts.ContextTemplate, sqlCtx *sqltmpl.Context) (string, error) {
	if len(contexts) == 0 {
		return "", nil
	}

	data := map[string]any{}
	withData := 0
	for _, item := range contexts {
		key := sqltmpl.ReplaceTextTokens(item.Key, sqlCtx)
		key = strings.ToLower(strings.ReplaceAll(key, " ", "_"))

		entry := map[string]any{"description": item.Description}

		sql, args, err := sqltmpl.Render(item.SQLCommand, sqlCtx)
		if err != nil {
			return "", fmt.Errorf("%w: context %q: %v", contracts.ErrConfig, item.Key, err)
		}
		rows, err := a.wh.RunQuery(ctx, sql, args...)
		if err != nil {
			return "", fmt.Errorf("context query %q: %w", item.Key, err)
		}
		if len(rows) == 0 {
			a.log.WithField("key", item.Key).Warn("No data found for context key")
		} else {
			entry["data"] = jsonableRows(rows)
			withData++
		}
		data[key] = entry
	}

	if withData == 0 {
		return "", fmt.Errorf("%w: no context query returned data", contracts.ErrNoData)
	}

	doc, err := json.MarshalIndent(map[string]any{"context_data": data}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// generateContent produces the story body. With context data the template's
// prompt becomes the system prompt and the data travels as the user
// message; without data the template is a pure narrative prompt.
func (a *Assembler) generateContent(ctx context.Context, tpl *contracts.StoryTemplate, contextJSON string, sqlCtx *sqltmpl.Context) (string, error) {
	req := contracts.CompletionRequest{
		Model:       tpl.AIModel,
		Temperature: tpl.Temperature,
		MaxTokens:   contentMaxTokens,
	}
	if contextJSON != "" {
		req.System = tpl.PromptText + "\n\n" + formattingInstructions
		req.User = "Below is the statistical data in JSON format.\n\n```json\n" + contextJSON + "\n```"
	} else {
		req.System = tpl.SystemPrompt
		req.User = sqltmpl.ReplaceTextTokens(tpl.PromptText, sqlCtx)
	}

	content, err := a.gen.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("content for template %d: %w", tpl.ID, err)
	}
	return content, nil
}

// generateTitleAndLead produces the optional headline and summary from the
// generated content, falling back to the template defaults.
func (a *Assembler) generateTitleAndLead(ctx context.Context, tpl *contracts.StoryTemplate, content string) (string, string, error) {
	title := tpl.DefaultTitle
	if title == "" {
		title = tpl.Title
	}
	lead := tpl.DefaultLead

	if tpl.CreateTitle {
		prompt := tpl.TitlePrompt
		if prompt == "" {
			prompt = "Write a single-line analytical headline (max 10-12 words). Prefer compact forms over wordiness. Keep a neutral, factual tone. Return only the title."
		}
		got, err := a.gen.Complete(ctx, contracts.CompletionRequest{
			System:      "You are a concise editorial assistant producing sharp, data-driven titles.\n\n" + formattingInstructions,
			User:        prompt + "\n\n" + content,
			Model:       tpl.AIModel,
			Temperature: clamp(tpl.Temperature, 0.2, 1.0),
			MaxTokens:   titleMaxTokens,
		})
		if err != nil {
			return "", "", fmt.Errorf("title for template %d: %w", tpl.ID, err)
		}
		title = strings.Trim(got, `"`)
	}

	if tpl.CreateLead {
		prompt := tpl.LeadPrompt
		if prompt == "" {
			prompt = "Summarize the following insight text in one or two clear sentences."
		}
		got, err := a.gen.Complete(ctx, contracts.CompletionRequest{
			System:      "Generate a concise one- or two-sentence summary of the provided insight text.\n\n" + formattingInstructions,
			User:        prompt + "\n\n" + content,
			Model:       tpl.AIModel,
			Temperature: tpl.Temperature,
			MaxTokens:   leadMaxTokens,
		})
		if err != nil {
			return "", "", fmt.Errorf("lead for template %d: %w", tpl.ID, err)
		}
		lead = got
	}

	return title, lead, nil
}

// attachTables renders every table template. A failing table is logged and
// skipped; the story itself stays published.
func (a *Assembler) attachTables(ctx context.Context, tpl *contracts.StoryTemplate, st *contracts.Story, sqlCtx *sqltmpl.Context) {
	tables, err := a.cfg.Tables(ctx, tpl.ID)
	if err != nil {
		a.log.WithError(err).WithField("template", tpl.ID).Error("Loading table templates failed")
		return
	}
	for _, tt := range tables {
		doc, err := a.queryJSON(ctx, tt.SQLCommand, sqlCtx)
		if err != nil {
			a.log.WithError(err).WithField("table", tt.ID).Error("Table query failed")
			continue
		}
		if doc == "" {
			a.log.WithField("table", tt.ID).Warn("No data for story table")
			continue
		}
		err = a.stories.SaveTable(ctx, &contracts.StoryTable{
			StoryID:         st.ID,
			TableTemplateID: tt.ID,
			Title:           sqltmpl.ReplaceTextTokens(tt.Title, sqlCtx),
			Data:            doc,
			SortOrder:       tt.SortOrder,
		})
		if err != nil {
			a.log.WithError(err).WithField("table", tt.ID).Error("Saving story table failed")
		}
	}
}

// attachGraphics stores the queried data rows behind every graphic
// template; rendering happens downstream.
func (a *Assembler) attachGraphics(ctx context.Context, tpl *contracts.StoryTemplate, st *contracts.Story, sqlCtx *sqltmpl.Context) {
	graphics, err := a.cfg.Graphics(ctx, tpl.ID)
	if err != nil {
		a.log.WithError(err).WithField("template", tpl.ID).Error("Loading graphic templates failed")
		return
	}
	for _, gt := range graphics {
		doc, err := a.queryJSON(ctx, gt.SQLCommand, sqlCtx)
		if err != nil {
			a.log.WithError(err).WithField("graphic", gt.ID).Error("Graphic query failed")
			continue
		}
		if doc == "" {
			a.log.WithField("graphic", gt.ID).Warn("No data for story graphic")
			continue
		}
		err = a.stories.SaveGraphic(ctx, &contracts.StoryGraphic{
			StoryID:           st.ID,
			GraphicTemplateID: gt.ID,
			Title:             sqltmpl.ReplaceTextTokens(gt.Title, sqlCtx),
			Data:              doc,
			SortOrder:         gt.SortOrder,
		})
		if err != nil {
			a.log.WithError(err).WithField("graphic", gt.ID).Error("Saving story graphic failed")
		}
	}
}

func (a *Assembler) queryJSON(ctx context.Context, tmpl string, sqlCtx *sqltmpl.Context) (string, error) {
	sql, args, err := sqltmpl.Render(tmpl, sqlCtx)
	if err != nil {
		return "", err
	}
	rows, err := a.wh.RunQuery(ctx, sql, args...)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	doc, err := json.MarshalIndent(jsonableRows(rows), "", "  ")
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// storySlug folds the focus into the slug so two focuses of one template
// never collide within the same reference period.
func storySlug(tpl *contracts.StoryTemplate, focus *contracts.TemplateFocus, p period.Period) string {
	base := tpl.Slug
	if base == "" {
		base = fmt.Sprintf("template-%d", tpl.ID)
	}
	if !focus.IsDefault() {
		part := slugify(focus.FilterValue)
		if part == "" {
			part = fmt.Sprintf("focus-%d", focus.ID)
		}
		base = base + "-" + part
	}
	return fmt.Sprintf("%s-%s", base, p.Start.Format("2006-01-02"))
}

// slugify lowercases s and collapses runs of other characters to a dash.
func slugify(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// jsonableRows converts query results into JSON-friendly values.
func jsonableRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		conv := make(map[string]any, len(row))
		for k, v := range row {
			conv[k] = jsonable(v)
		}
		out[i] = conv
	}
	return out
}

func jsonable(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	default:
		return v
	}
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
