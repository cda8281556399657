package contracts

import (
	"context"
	"time"
)

// Warehouse is the relational storage surface the pipeline core needs:
// parameterized query execution, bulk append and a table-existence check.
type Warehouse interface {
	// RunQuery executes a parameterized SELECT and returns the rows as
	// column-name keyed maps.
	RunQuery(ctx context.Context, sql string, args ...any) ([]map[string]any, error)

	// RunAction executes a statement without a result set.
	RunAction(ctx context.Context, sql string, args ...any) error

	// TableExists checks for a table in the warehouse schema.
	TableExists(ctx context.Context, table string) (bool, error)

	// Append bulk-inserts rows into a table, additive-only.
	Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// LastTimestamp returns the most recent value of a timestamp column,
	// ok=false when the table is empty.
	LastTimestamp(ctx context.Context, table, column string) (time.Time, bool, error)

	// Identifiers lists all values of the record identifier column.
	Identifiers(ctx context.Context, table, column string) ([]string, error)
}

// SourceClient fetches tabular extracts from the remote dataset source.
type SourceClient interface {
	// LastRecord probes the most recent record ordered by a field, along
	// with the remote record count.
	LastRecord(ctx context.Context, ds *Dataset, orderField string) (int, map[string]any, error)

	// Identifiers lists every record identifier present remotely.
	Identifiers(ctx context.Context, ds *Dataset) ([]string, error)

	// Download fetches the filtered CSV extract to a local cache file and
	// returns its path. An existing cache file is reused when the request
	// fails.
	Download(ctx context.Context, ds *Dataset, where string, fields []string) (string, error)
}

// CompletionRequest is one call to the external text generator.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// TextGenerator is the opaque external text-completion collaborator.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ConfigStore reads the operator-maintained configuration records.
type ConfigStore interface {
	// Datasets returns active datasets, or the single dataset with id when
	// id > 0 (active or not, for manual reruns).
	Datasets(ctx context.Context, id int64) ([]*Dataset, error)

	// TouchDataset records a successful import timestamp.
	TouchDataset(ctx context.Context, id int64, at time.Time) error

	// Templates returns active story templates, or the single template
	// with id when id > 0.
	Templates(ctx context.Context, id int64) ([]*StoryTemplate, error)

	// Focuses returns the focus rows of a template. A template without
	// explicit rows gets a persisted default focus with an empty filter
	// value, so the result always carries real row ids.
	Focuses(ctx context.Context, templateID int64) ([]*TemplateFocus, error)

	Contexts(ctx context.Context, templateID int64) ([]*ContextTemplate, error)
	Tables(ctx context.Context, templateID int64) ([]*TableTemplate, error)
	Graphics(ctx context.Context, templateID int64) ([]*GraphicTemplate, error)
}

// StoryStore persists produced stories and their audit log.
type StoryStore interface {
	// StoryExists checks the uniqueness key (focus, period start, period
	// end).
	StoryExists(ctx context.Context, focusID int64, start, end time.Time) (bool, error)

	// LastPublishDate returns the newest audit-log publish date for a
	// template across all its focuses, ok=false when none exists.
	LastPublishDate(ctx context.Context, templateID int64) (time.Time, bool, error)

	// CreateStory writes the story and its log record in one transaction.
	// ErrDuplicateStory is returned when the unique backstop rejects the
	// insert.
	CreateStory(ctx context.Context, story *Story, log *StoryLog) error

	SaveTable(ctx context.Context, table *StoryTable) error
	SaveGraphic(ctx context.Context, graphic *StoryGraphic) error
}
