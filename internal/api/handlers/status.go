package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// StatusHandler serves pipeline state read from the database.
type StatusHandler struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(db *database.DB, log *logger.Logger) *StatusHandler {
	return &StatusHandler{db: db, logger: log}
}

// DatasetItem is the sync state of one configured dataset.
type DatasetItem struct {
	ID              int64   `json:"id"`
	Slug            string  `json:"slug"`
	Name            string  `json:"name"`
	TargetTableName string  `json:"targetTableName"`
	Active          bool    `json:"active"`
	LastImportDate  *string `json:"lastImportDate"`
}

// StoryItem is one published story, without its content body.
type StoryItem struct {
	ID                   int64  `json:"id"`
	Slug                 string `json:"slug"`
	Title                string `json:"title"`
	PublishedDate        string `json:"publishedDate"`
	ReferencePeriodStart string `json:"referencePeriodStart"`
	ReferencePeriodEnd   string `json:"referencePeriodEnd"`
}

// GetStatus returns database connectivity and pool statistics.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "unreachable"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"database": dbStatus,
			"pool":     h.db.Stat(),
			"time":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// GetDatasets returns the sync state of all configured datasets.
// GET /api/datasets
func (h *StatusHandler) GetDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.db.Pool.Query(ctx, `
		SELECT id, slug, name, target_table_name, active, last_import_date
		FROM insights.datasets
		ORDER BY id
	`)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query datasets")
		respondError(w, http.StatusInternalServerError, "Query error")
		return
	}
	defer rows.Close()

	items := make([]DatasetItem, 0)
	for rows.Next() {
		var item DatasetItem
		var lastImport *time.Time
		err := rows.Scan(
			&item.ID,
			&item.Slug,
			&item.Name,
			&item.TargetTableName,
			&item.Active,
			&lastImport,
		)
		if err != nil {
			h.logger.WithError(err).Error("Failed to scan dataset item")
			continue
		}
		if lastImport != nil {
			s := lastImport.Format(time.RFC3339)
			item.LastImportDate = &s
		}
		items = append(items, item)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"count": len(items),
			"items": items,
		},
	})
}

// GetStories returns the most recently published stories.
// GET /api/stories?limit=20
func (h *StatusHandler) GetStories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.db.Pool.Query(ctx, `
		SELECT id, slug, title, published_date, reference_period_start, reference_period_end
		FROM insights.stories
		ORDER BY published_date DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query stories")
		respondError(w, http.StatusInternalServerError, "Query error")
		return
	}
	defer rows.Close()

	items := make([]StoryItem, 0)
	for rows.Next() {
		var item StoryItem
		var published, periodStart, periodEnd time.Time
		err := rows.Scan(
			&item.ID,
			&item.Slug,
			&item.Title,
			&published,
			&periodStart,
			&periodEnd,
		)
		if err != nil {
			h.logger.WithError(err).Error("Failed to scan story item")
			continue
		}
		item.PublishedDate = published.Format("2006-01-02")
		item.ReferencePeriodStart = periodStart.Format("2006-01-02")
		item.ReferencePeriodEnd = periodEnd.Format("2006-01-02")
		items = append(items, item)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"count": len(items),
			"items": items,
		},
	})
}
