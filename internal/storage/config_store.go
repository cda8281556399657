package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/internal/period"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
)

// insightsSchema holds the operator configuration and produced stories,
// separate from the warehouse schema the sync engine writes into.
const insightsSchema = "insights"

// ConfigRepository implements contracts.ConfigStore.
type ConfigRepository struct {
	db *database.DB
}

// NewConfigRepository creates a configuration repository.
func NewConfigRepository(db *database.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const datasetColumns = `
	id, slug, name, source, source_identifier, base_url, target_table_name,
	active, fields_selection, import_filter, aggregations, constants,
	calculated_fields, source_timestamp_field, record_identifier_field,
	db_timestamp_field, add_time_aggregation_fields,
	delete_records_with_missing_values, post_import_sql, last_import_date
`

// Datasets returns active datasets ordered by id, or the single dataset
// with id regardless of its active flag so operators can rerun one by hand.
func (r *ConfigRepository) Datasets(ctx context.Context, id int64) ([]*contracts.Dataset, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.datasets WHERE active ORDER BY id", datasetColumns, insightsSchema)
	args := []any{}
	if id > 0 {
		query = fmt.Sprintf("SELECT %s FROM %s.datasets WHERE id = $1", datasetColumns, insightsSchema)
		args = append(args, id)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []*contracts.Dataset
	for rows.Next() {
		var (
			ds            contracts.Dataset
			fieldsJSON    []byte
			aggJSON       []byte
			constantsJSON []byte
			calcJSON      []byte
			pruneJSON     []byte
		)
		err := rows.Scan(
			&ds.ID, &ds.Slug, &ds.Name, &ds.Source, &ds.SourceIdentifier,
			&ds.BaseURL, &ds.TargetTableName, &ds.Active, &fieldsJSON,
			&ds.ImportFilter, &aggJSON, &constantsJSON, &calcJSON,
			&ds.SourceTimestampField, &ds.RecordIdentifierField,
			&ds.DBTimestampField, &ds.AddTimeAggregationFields,
			&pruneJSON, &ds.PostImportSQL, &ds.LastImportDate,
		)
		if err != nil {
			return nil, err
		}
		if err := unmarshalInto(fieldsJSON, &ds.FieldsSelection); err != nil {
			return nil, fmt.Errorf("%w: dataset %d fields_selection: %v", contracts.ErrConfig, ds.ID, err)
		}
		if err := unmarshalInto(aggJSON, &ds.Aggregations); err != nil {
			return nil, fmt.Errorf("%w: dataset %d aggregations: %v", contracts.ErrConfig, ds.ID, err)
		}
		if err := unmarshalInto(constantsJSON, &ds.Constants); err != nil {
			return nil, fmt.Errorf("%w: dataset %d constants: %v", contracts.ErrConfig, ds.ID, err)
		}
		if err := unmarshalInto(calcJSON, &ds.CalculatedFields); err != nil {
			return nil, fmt.Errorf("%w: dataset %d calculated_fields: %v", contracts.ErrConfig, ds.ID, err)
		}
		if err := unmarshalInto(pruneJSON, &ds.DeleteRecordsWithMissingValues); err != nil {
			return nil, fmt.Errorf("%w: dataset %d delete_records_with_missing_values: %v", contracts.ErrConfig, ds.ID, err)
		}
		datasets = append(datasets, &ds)
	}
	return datasets, rows.Err()
}

// TouchDataset records a successful import timestamp.
func (r *ConfigRepository) TouchDataset(ctx context.Context, id int64, at time.Time) error {
	query := fmt.Sprintf("UPDATE %s.datasets SET last_import_date = $1 WHERE id = $2", insightsSchema)
	_, err := r.db.Pool.Exec(ctx, query, at, id)
	return err
}

const templateColumns = `
	id, slug, title, active, description, default_title, default_lead,
	reference_period, direction, has_data_sql, most_recent_day_sql,
	post_publish_sql, prompt_text, system_prompt, title_prompt, lead_prompt,
	temperature, ai_model, create_title, create_lead, filter_fields
`

// Templates returns active story templates ordered by id, or the single
// template with id regardless of its active flag.
func (r *ConfigRepository) Templates(ctx context.Context, id int64) ([]*contracts.StoryTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.story_templates WHERE active ORDER BY id", templateColumns, insightsSchema)
	args := []any{}
	if id > 0 {
		query = fmt.Sprintf("SELECT %s FROM %s.story_templates WHERE id = $1", templateColumns, insightsSchema)
		args = append(args, id)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*contracts.StoryTemplate
	for rows.Next() {
		var (
			tpl         contracts.StoryTemplate
			unit, dir   string
			filtersJSON []byte
		)
		err := rows.Scan(
			&tpl.ID, &tpl.Slug, &tpl.Title, &tpl.Active, &tpl.Description,
			&tpl.DefaultTitle, &tpl.DefaultLead, &unit, &dir,
			&tpl.HasDataSQL, &tpl.MostRecentDaySQL, &tpl.PostPublishSQL,
			&tpl.PromptText, &tpl.SystemPrompt, &tpl.TitlePrompt,
			&tpl.LeadPrompt, &tpl.Temperature, &tpl.AIModel,
			&tpl.CreateTitle, &tpl.CreateLead, &filtersJSON,
		)
		if err != nil {
			return nil, err
		}
		tpl.ReferencePeriod = period.Unit(unit)
		tpl.Direction = period.Direction(dir)
		if err := unmarshalInto(filtersJSON, &tpl.FilterFields); err != nil {
			return nil, fmt.Errorf("%w: template %d filter_fields: %v", contracts.ErrConfig, tpl.ID, err)
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}

// Focuses returns the focus rows of a template ordered by id. A template
// without explicit rows gets a default focus with an empty filter value,
// backfilled on first read so every story references a real focus id.
func (r *ConfigRepository) Focuses(ctx context.Context, templateID int64) ([]*contracts.TemplateFocus, error) {
	focuses, err := r.selectFocuses(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if len(focuses) > 0 {
		return focuses, nil
	}

	ensure := fmt.Sprintf(`
		INSERT INTO %s.template_focuses (template_id, filter_value)
		VALUES ($1, '')
		ON CONFLICT (template_id, filter_value) DO NOTHING`, insightsSchema)
	if _, err := r.db.Pool.Exec(ctx, ensure, templateID); err != nil {
		return nil, err
	}
	return r.selectFocuses(ctx, templateID)
}

func (r *ConfigRepository) selectFocuses(ctx context.Context, templateID int64) ([]*contracts.TemplateFocus, error) {
	query := fmt.Sprintf(`
		SELECT id, template_id, filter_value, focus_subject,
		       publish_conditions, publish_day, publish_month
		FROM %s.template_focuses
		WHERE template_id = $1
		ORDER BY id`, insightsSchema)

	rows, err := r.db.Pool.Query(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var focuses []*contracts.TemplateFocus
	for rows.Next() {
		var f contracts.TemplateFocus
		err := rows.Scan(&f.ID, &f.TemplateID, &f.FilterValue, &f.FocusSubject,
			&f.PublishConditions, &f.PublishDay, &f.PublishMonth)
		if err != nil {
			return nil, err
		}
		focuses = append(focuses, &f)
	}
	return focuses, rows.Err()
}

// Contexts returns the prompt context queries of a template in sort order.
func (r *ConfigRepository) Contexts(ctx context.Context, templateID int64) ([]*contracts.ContextTemplate, error) {
	query := fmt.Sprintf(`
		SELECT id, template_id, key, description, sql_command, sort_order
		FROM %s.context_templates
		WHERE template_id = $1
		ORDER BY sort_order, id`, insightsSchema)

	rows, err := r.db.Pool.Query(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contexts []*contracts.ContextTemplate
	for rows.Next() {
		var c contracts.ContextTemplate
		err := rows.Scan(&c.ID, &c.TemplateID, &c.Key, &c.Description, &c.SQLCommand, &c.SortOrder)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, &c)
	}
	return contexts, rows.Err()
}

// Tables returns the table queries of a template in sort order.
func (r *ConfigRepository) Tables(ctx context.Context, templateID int64) ([]*contracts.TableTemplate, error) {
	query := fmt.Sprintf(`
		SELECT id, template_id, title, sql_command, sort_order
		FROM %s.table_templates
		WHERE template_id = $1
		ORDER BY sort_order, id`, insightsSchema)

	rows, err := r.db.Pool.Query(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*contracts.TableTemplate
	for rows.Next() {
		var t contracts.TableTemplate
		if err := rows.Scan(&t.ID, &t.TemplateID, &t.Title, &t.SQLCommand, &t.SortOrder); err != nil {
			return nil, err
		}
		tables = append(tables, &t)
	}
	return tables, rows.Err()
}

// Graphics returns the graphic queries of a template in sort order.
func (r *ConfigRepository) Graphics(ctx context.Context, templateID int64) ([]*contracts.GraphicTemplate, error) {
	query := fmt.Sprintf(`
		SELECT id, template_id, title, sql_command, graphic_type, settings, sort_order
		FROM %s.graphic_templates
		WHERE template_id = $1
		ORDER BY sort_order, id`, insightsSchema)

	rows, err := r.db.Pool.Query(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var graphics []*contracts.GraphicTemplate
	for rows.Next() {
		var (
			g            contracts.GraphicTemplate
			settingsJSON []byte
		)
		err := rows.Scan(&g.ID, &g.TemplateID, &g.Title, &g.SQLCommand,
			&g.GraphicType, &settingsJSON, &g.SortOrder)
		if err != nil {
			return nil, err
		}
		if err := unmarshalInto(settingsJSON, &g.Settings); err != nil {
			return nil, fmt.Errorf("%w: graphic %d settings: %v", contracts.ErrConfig, g.ID, err)
		}
		graphics = append(graphics, &g)
	}
	return graphics, rows.Err()
}

// unmarshalInto decodes a nullable jsonb column, leaving the target zero
// when the column is NULL.
func unmarshalInto(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
