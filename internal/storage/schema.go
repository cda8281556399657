package storage

import (
	"context"
	"fmt"

	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// schemaStatements creates the insights configuration and story tables plus
// the warehouse schema. Every statement is idempotent so init-db can be
// re-run safely.
func schemaStatements(warehouseSchema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, warehouseSchema),
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.datasets (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			slug text NOT NULL UNIQUE,
			name text NOT NULL,
			source text NOT NULL DEFAULT 'ods',
			source_identifier text NOT NULL,
			base_url text NOT NULL,
			target_table_name text NOT NULL,
			active boolean NOT NULL DEFAULT true,
			fields_selection jsonb,
			import_filter text NOT NULL DEFAULT '',
			aggregations jsonb,
			constants jsonb,
			calculated_fields jsonb,
			source_timestamp_field text NOT NULL DEFAULT '',
			record_identifier_field text NOT NULL DEFAULT '',
			db_timestamp_field text NOT NULL DEFAULT '',
			add_time_aggregation_fields boolean NOT NULL DEFAULT false,
			delete_records_with_missing_values jsonb,
			post_import_sql text NOT NULL DEFAULT '',
			last_import_date timestamptz
		)`, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.story_templates (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			slug text NOT NULL UNIQUE,
			title text NOT NULL,
			active boolean NOT NULL DEFAULT true,
			description text NOT NULL DEFAULT '',
			default_title text NOT NULL DEFAULT '',
			default_lead text NOT NULL DEFAULT '',
			reference_period text NOT NULL,
			direction text NOT NULL DEFAULT 'backward',
			has_data_sql text NOT NULL DEFAULT '',
			most_recent_day_sql text NOT NULL DEFAULT '',
			post_publish_sql text NOT NULL DEFAULT '',
			prompt_text text NOT NULL DEFAULT '',
			system_prompt text NOT NULL DEFAULT '',
			title_prompt text NOT NULL DEFAULT '',
			lead_prompt text NOT NULL DEFAULT '',
			temperature double precision NOT NULL DEFAULT 0.3,
			ai_model text NOT NULL DEFAULT '',
			create_title boolean NOT NULL DEFAULT false,
			create_lead boolean NOT NULL DEFAULT false,
			filter_fields jsonb
		)`, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.template_focuses (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			template_id bigint NOT NULL REFERENCES %s.story_templates(id) ON DELETE CASCADE,
			filter_value text NOT NULL DEFAULT '',
			focus_subject text NOT NULL DEFAULT '',
			publish_conditions text NOT NULL DEFAULT '',
			publish_day int NOT NULL DEFAULT 0,
			publish_month int NOT NULL DEFAULT 0,
			UNIQUE (template_id, filter_value)
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.context_templates (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			template_id bigint NOT NULL REFERENCES %s.story_templates(id) ON DELETE CASCADE,
			key text NOT NULL,
			description text NOT NULL DEFAULT '',
			sql_command text NOT NULL,
			sort_order int NOT NULL DEFAULT 0,
			UNIQUE (template_id, key)
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.table_templates (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			template_id bigint NOT NULL REFERENCES %s.story_templates(id) ON DELETE CASCADE,
			title text NOT NULL DEFAULT '',
			sql_command text NOT NULL,
			sort_order int NOT NULL DEFAULT 0
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.graphic_templates (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			template_id bigint NOT NULL REFERENCES %s.story_templates(id) ON DELETE CASCADE,
			title text NOT NULL DEFAULT '',
			sql_command text NOT NULL,
			graphic_type text NOT NULL DEFAULT 'line',
			settings jsonb,
			sort_order int NOT NULL DEFAULT 0
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.stories (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			slug text NOT NULL DEFAULT '',
			focus_id bigint NOT NULL REFERENCES %s.template_focuses(id),
			title text NOT NULL DEFAULT '',
			summary text NOT NULL DEFAULT '',
			content text NOT NULL,
			prompt_text text NOT NULL DEFAULT '',
			context_values text NOT NULL DEFAULT '',
			ai_model text NOT NULL DEFAULT '',
			published_date timestamptz NOT NULL,
			reference_period_start date NOT NULL,
			reference_period_end date NOT NULL,
			UNIQUE (focus_id, reference_period_start, reference_period_end)
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.story_logs (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			story_id bigint NOT NULL REFERENCES %s.stories(id) ON DELETE CASCADE,
			publish_date timestamptz NOT NULL,
			reference_period_start date NOT NULL,
			reference_period_end date NOT NULL
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.story_tables (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			story_id bigint NOT NULL REFERENCES %s.stories(id) ON DELETE CASCADE,
			table_template_id bigint NOT NULL,
			title text NOT NULL DEFAULT '',
			data text NOT NULL,
			sort_order int NOT NULL DEFAULT 0
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.story_graphics (
			id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			story_id bigint NOT NULL REFERENCES %s.stories(id) ON DELETE CASCADE,
			graphic_template_id bigint NOT NULL,
			title text NOT NULL DEFAULT '',
			data text NOT NULL,
			sort_order int NOT NULL DEFAULT 0
		)`, insightsSchema, insightsSchema),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_story_logs_publish
			ON %s.story_logs (publish_date DESC)`, insightsSchema),
	}
}

// Bootstrap creates all configuration and story tables.
func Bootstrap(ctx context.Context, db *database.DB, log *logger.Logger) error {
	for _, stmt := range schemaStatements(db.Schema) {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	log.WithField("schema", insightsSchema).Info("Database schema initialized")
	return nil
}
