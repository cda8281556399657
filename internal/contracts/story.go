package contracts

import "time"

// Story is one produced insight document. Created at most once per
// (focus, reference_period_start, reference_period_end); immutable once
// generated except for attached tables and graphics.
type Story struct {
	ID      int64
	Slug    string
	FocusID int64

	Title   string
	Summary string
	Content string

	PromptText    string
	ContextValues string // JSON document fed to the text generator
	AIModel       string

	PublishedDate        time.Time
	ReferencePeriodStart time.Time
	ReferencePeriodEnd   time.Time
}

// StoryLog is the append-only audit record written together with a story.
// The due check treats it as the authoritative "already produced" signal.
type StoryLog struct {
	ID                   int64
	StoryID              int64
	PublishDate          time.Time
	ReferencePeriodStart time.Time
	ReferencePeriodEnd   time.Time
}

// StoryTable is a rendered table attached to a story, data as JSON records.
type StoryTable struct {
	ID              int64
	StoryID         int64
	TableTemplateID int64
	Title           string
	Data            string
	SortOrder       int
}

// StoryGraphic is the queried data behind one story graphic, data as JSON
// records. Rendering is out of scope for the pipeline.
type StoryGraphic struct {
	ID                int64
	StoryID           int64
	GraphicTemplateID int64
	Title             string
	Data              string
	SortOrder         int
}
