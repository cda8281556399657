package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
)

// uniqueViolation is the Postgres error code the story uniqueness backstop
// raises when two runs race between check and write.
const uniqueViolation = "23505"

// StoryRepository implements contracts.StoryStore.
type StoryRepository struct {
	db *database.DB
}

// NewStoryRepository creates a story repository.
func NewStoryRepository(db *database.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// StoryExists checks the uniqueness key (focus, period start, period end).
func (r *StoryRepository) StoryExists(ctx context.Context, focusID int64, start, end time.Time) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s.stories
			WHERE focus_id = $1
			  AND reference_period_start = $2
			  AND reference_period_end = $3
		)`, insightsSchema)

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, focusID, start, end).Scan(&exists)
	return exists, err
}

// LastPublishDate returns the newest audit-log publish date for a template
// across all its focuses, ok=false when no story was ever produced.
func (r *StoryRepository) LastPublishDate(ctx context.Context, templateID int64) (time.Time, bool, error) {
	query := fmt.Sprintf(`
		SELECT max(l.publish_date)
		FROM %s.story_logs l
		JOIN %s.stories s ON s.id = l.story_id
		JOIN %s.template_focuses f ON f.id = s.focus_id
		WHERE f.template_id = $1`, insightsSchema, insightsSchema, insightsSchema)

	var last *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, templateID).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// CreateStory writes the story and its audit log record in one transaction.
// The unique constraint on (focus_id, reference_period_start,
// reference_period_end) turns a lost race into ErrDuplicateStory instead of
// a second story.
func (r *StoryRepository) CreateStory(ctx context.Context, story *contracts.Story, log *contracts.StoryLog) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insertStory := fmt.Sprintf(`
		INSERT INTO %s.stories (
			slug, focus_id, title, summary, content, prompt_text,
			context_values, ai_model, published_date,
			reference_period_start, reference_period_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`, insightsSchema)

	err = tx.QueryRow(ctx, insertStory,
		story.Slug, story.FocusID, story.Title, story.Summary, story.Content,
		story.PromptText, story.ContextValues, story.AIModel,
		story.PublishedDate, story.ReferencePeriodStart, story.ReferencePeriodEnd,
	).Scan(&story.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: focus %d period %s..%s", contracts.ErrDuplicateStory,
				story.FocusID,
				story.ReferencePeriodStart.Format("2006-01-02"),
				story.ReferencePeriodEnd.Format("2006-01-02"))
		}
		return err
	}

	insertLog := fmt.Sprintf(`
		INSERT INTO %s.story_logs (
			story_id, publish_date, reference_period_start, reference_period_end
		)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, insightsSchema)

	log.StoryID = story.ID
	err = tx.QueryRow(ctx, insertLog,
		log.StoryID, log.PublishDate, log.ReferencePeriodStart, log.ReferencePeriodEnd,
	).Scan(&log.ID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SaveTable attaches a rendered table to a story.
func (r *StoryRepository) SaveTable(ctx context.Context, table *contracts.StoryTable) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.story_tables (story_id, table_template_id, title, data, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, insightsSchema)

	return r.db.Pool.QueryRow(ctx, query,
		table.StoryID, table.TableTemplateID, table.Title, table.Data, table.SortOrder,
	).Scan(&table.ID)
}

// SaveGraphic attaches the queried data behind one graphic to a story.
func (r *StoryRepository) SaveGraphic(ctx context.Context, graphic *contracts.StoryGraphic) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.story_graphics (story_id, graphic_template_id, title, data, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, insightsSchema)

	return r.db.Pool.QueryRow(ctx, query,
		graphic.StoryID, graphic.GraphicTemplateID, graphic.Title, graphic.Data, graphic.SortOrder,
	).Scan(&graphic.ID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
