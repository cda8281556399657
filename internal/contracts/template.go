package contracts

import (
	"github.com/lcalmbach/open-data-insights-sub000/internal/period"
)

// StoryTemplate is the configuration record for one recurring insight.
// Authored out-of-band, immutable at run time.
type StoryTemplate struct {
	ID     int64
	Slug   string
	Title  string
	Active bool

	Description  string
	DefaultTitle string
	DefaultLead  string

	ReferencePeriod period.Unit
	Direction       period.Direction

	// Guard and anchor queries; any of them may be empty.
	HasDataSQL       string
	MostRecentDaySQL string
	PostPublishSQL   string

	PromptText   string
	SystemPrompt string
	TitlePrompt  string
	LeadPrompt   string
	Temperature  float64
	AIModel      string

	CreateTitle bool
	CreateLead  bool

	// FilterFields is the whitelist of warehouse columns the :focus_filter
	// token may compare against.
	FilterFields []string
}

// TemplateFocus narrows a template to one scoped variant (e.g. one row per
// station). A template without explicit focus rows gets a single default
// focus row with an empty filter value, backfilled by the config store.
type TemplateFocus struct {
	ID         int64
	TemplateID int64

	// FilterValue is bound as a query parameter, never interpolated.
	FilterValue string

	FocusSubject      string
	PublishConditions string

	// Optional publish-date overrides; zero means "use the template cadence".
	PublishDay   int
	PublishMonth int
}

// IsDefault reports whether the focus carries no narrowing filter.
func (f *TemplateFocus) IsDefault() bool {
	return f.FilterValue == ""
}

// ContextTemplate holds one parameterized query whose result feeds the
// prompt context of a story.
type ContextTemplate struct {
	ID          int64
	TemplateID  int64
	Key         string
	Description string
	SQLCommand  string
	SortOrder   int
}

// TableTemplate holds one parameterized query rendered into a story table.
type TableTemplate struct {
	ID         int64
	TemplateID int64
	Title      string
	SQLCommand string
	SortOrder  int
}

// GraphicTemplate holds the query and display settings for one story
// graphic. Only the queried data and title are persisted here; chart
// rendering happens downstream.
type GraphicTemplate struct {
	ID          int64
	TemplateID  int64
	Title       string
	SQLCommand  string
	GraphicType string
	Settings    map[string]any
	SortOrder   int
}
