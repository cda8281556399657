// Package sync implements incremental dataset synchronization: freshness
// detection against the remote source, delta download, in-memory transform
// and an additive-only bulk load into the warehouse.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// Outcome reports what one dataset sync did.
type Outcome struct {
	Inserted int64
	UpToDate bool
}

// Engine drives the per-dataset sync state machine. Datasets are processed
// one at a time; the engine holds no state between runs.
type Engine struct {
	source contracts.SourceClient
	wh     contracts.Warehouse
	cfg    contracts.ConfigStore
	log    *logger.Logger
	tz     *time.Location
	now    func() time.Time
}

// NewEngine creates a sync engine. tz is the timezone timestamps are
// normalized to before loading.
func NewEngine(source contracts.SourceClient, wh contracts.Warehouse, cfg contracts.ConfigStore, tz *time.Location, log *logger.Logger) *Engine {
	if tz == nil {
		tz = time.UTC
	}
	return &Engine{source: source, wh: wh, cfg: cfg, log: log, tz: tz, now: time.Now}
}

// SyncDataset brings one dataset's target table up to date with the remote
// source. A missing target table triggers a full initial load; otherwise the
// configured cursor strategy decides whether and what to fetch.
func (e *Engine) SyncDataset(ctx context.Context, ds *contracts.Dataset) (Outcome, error) {
	if err := ds.Validate(); err != nil {
		return Outcome{}, err
	}

	log := e.log.WithFields(map[string]interface{}{
		"dataset": ds.ID,
		"table":   ds.TargetTableName,
	})

	exists, err := e.wh.TableExists(ctx, ds.TargetTableName)
	if err != nil {
		return Outcome{}, fmt.Errorf("table existence check: %w", err)
	}
	if !exists {
		log.Warn("Target table does not exist, loading full dataset")
		return e.fetchAndLoad(ctx, ds, e.fullLoadWhere(ds))
	}

	switch {
	case ds.HasTimestampCursor():
		return e.syncByTimestamp(ctx, ds, log)
	case ds.HasIdentifierCursor():
		return e.syncByIdentifier(ctx, ds, log)
	default:
		log.Info("No freshness cursor configured, nothing to do")
		return Outcome{UpToDate: true}, nil
	}
}

// syncByTimestamp compares the most recent remote timestamp against the
// most recent loaded one and fetches the gap. A gap below one full day is
// treated as up to date so a partially populated current day is never
// pulled.
func (e *Engine) syncByTimestamp(ctx context.Context, ds *contracts.Dataset, log *logger.Logger) (Outcome, error) {
	_, record, err := e.source.LastRecord(ctx, ds, ds.SourceTimestampField)
	if err != nil {
		return Outcome{}, fmt.Errorf("remote last record: %w", err)
	}
	remoteTS, ok := cellTime(record[ds.SourceTimestampField])
	if !ok {
		return Outcome{}, fmt.Errorf("remote last record has no readable %s", ds.SourceTimestampField)
	}

	localTS, hasRows, err := e.wh.LastTimestamp(ctx, ds.TargetTableName, ds.DBTimestampField)
	if err != nil {
		return Outcome{}, fmt.Errorf("local last timestamp: %w", err)
	}
	if !hasRows {
		log.Warn("Target table is empty, loading full dataset")
		return e.fetchAndLoad(ctx, ds, e.fullLoadWhere(ds))
	}

	remoteDate := dateOf(remoteTS.UTC())
	localDate := dateOf(localTS.UTC())
	if remoteDate.Sub(localDate) < 24*time.Hour {
		log.Info("No new remote data")
		return Outcome{UpToDate: true}, nil
	}

	log.WithField("remote_last", remoteDate.Format("2006-01-02")).Info("New data available")
	where := fmt.Sprintf("%s > '%s' and %s < '%s'",
		ds.SourceTimestampField, localDate.Format("2006-01-02"),
		ds.SourceTimestampField, dateOf(e.now().UTC()).Format("2006-01-02"))
	return e.fetchAndLoad(ctx, ds, where)
}

// syncByIdentifier computes the remote-minus-local identifier set and
// fetches exactly those records.
func (e *Engine) syncByIdentifier(ctx context.Context, ds *contracts.Dataset, log *logger.Logger) (Outcome, error) {
	remote, err := e.source.Identifiers(ctx, ds)
	if err != nil {
		return Outcome{}, fmt.Errorf("remote identifiers: %w", err)
	}
	local, err := e.wh.Identifiers(ctx, ds.TargetTableName, ds.RecordIdentifierField)
	if err != nil {
		return Outcome{}, fmt.Errorf("local identifiers: %w", err)
	}

	have := make(map[string]bool, len(local))
	for _, id := range local {
		have[id] = true
	}
	seen := make(map[string]bool, len(remote))
	var delta []string
	for _, id := range remote {
		if !have[id] && !seen[id] {
			seen[id] = true
			delta = append(delta, id)
		}
	}
	if len(delta) == 0 {
		log.Info("No new remote records")
		return Outcome{UpToDate: true}, nil
	}
	sort.Strings(delta)

	log.WithField("new_records", len(delta)).Info("New data available")
	where := fmt.Sprintf("%s IN (%s)", ds.RecordIdentifierField, quoteList(delta))
	return e.fetchAndLoad(ctx, ds, where)
}

// fetchAndLoad downloads the filtered extract, transforms it and appends
// the rows to the target table. An empty extract is a successful no-op.
func (e *Engine) fetchAndLoad(ctx context.Context, ds *contracts.Dataset, where string) (Outcome, error) {
	path, err := e.source.Download(ctx, ds, where, ds.FieldsSelection)
	if err != nil {
		return Outcome{}, fmt.Errorf("download extract: %w", err)
	}

	frame, err := ReadCSV(path)
	if err != nil {
		return Outcome{}, err
	}
	if frame.Len() == 0 {
		e.log.WithField("dataset", ds.ID).Info("Extract is empty, nothing to load")
		return Outcome{}, nil
	}

	if err := e.transform(ds, frame); err != nil {
		return Outcome{}, err
	}
	if frame.Len() == 0 {
		e.log.WithField("dataset", ds.ID).Info("All rows pruned during transform, nothing to load")
		return Outcome{}, nil
	}

	columns, rows := frame.Records()
	inserted, err := e.wh.Append(ctx, ds.TargetTableName, columns, rows)
	if err != nil {
		return Outcome{}, fmt.Errorf("load into %s: %w", ds.TargetTableName, err)
	}
	e.log.WithFields(map[string]interface{}{
		"dataset":  ds.ID,
		"table":    ds.TargetTableName,
		"inserted": inserted,
	}).Info("Records added to target table")

	if err := e.cfg.TouchDataset(ctx, ds.ID, e.now()); err != nil {
		e.log.WithError(err).WithField("dataset", ds.ID).Error("Failed to record import timestamp")
	}

	e.postProcess(ctx, ds)
	return Outcome{Inserted: inserted}, nil
}

// transform applies the configured reshaping steps in a fixed order so
// later steps always see the earlier ones' output.
func (e *Engine) transform(ds *contracts.Dataset, frame *Frame) error {
	if ds.HasTimestampCursor() {
		frame.NormalizeTimestamp(ds.SourceTimestampField, e.tz)
	}
	frame.Project(ds.FieldsSelection)
	for _, c := range ds.Constants {
		frame.SetConstant(c.FieldName, c.Value)
	}
	if err := frame.Aggregate(ds.Aggregations, ds.SourceTimestampField, ds.DBTimestampField); err != nil {
		return err
	}
	frame.PruneMissing(ds.DeleteRecordsWithMissingValues)
	if ds.AddTimeAggregationFields && ds.DBTimestampField != "" {
		frame.AddCalendarFields(ds.DBTimestampField)
	}
	return nil
}

// postProcess runs the operator-declared fixup statements after a load.
// Failures are logged and skipped; the loaded rows stay committed.
func (e *Engine) postProcess(ctx context.Context, ds *contracts.Dataset) {
	for _, cf := range ds.CalculatedFields {
		if strings.TrimSpace(cf.Command) == "" {
			continue
		}
		if err := e.wh.RunAction(ctx, cf.Command); err != nil {
			e.log.WithError(err).WithFields(map[string]interface{}{
				"dataset": ds.ID,
				"field":   cf.FieldName,
			}).Error("Calculated field command failed")
			continue
		}
		e.log.WithField("field", cf.FieldName).Info("Calculated field command executed")
	}

	for _, stmt := range strings.Split(ds.PostImportSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := e.wh.RunAction(ctx, stmt); err != nil {
			e.log.WithError(err).WithField("dataset", ds.ID).Error("Post-import statement failed")
		}
	}
}

// fullLoadWhere limits an initial load to fully populated days when a
// timestamp cursor exists, combined with the dataset's static import
// filter.
func (e *Engine) fullLoadWhere(ds *contracts.Dataset) string {
	clauses := []string{}
	if ds.ImportFilter != "" {
		clauses = append(clauses, ds.ImportFilter)
	}
	if ds.HasTimestampCursor() {
		today := dateOf(e.now().UTC()).Format("2006-01-02")
		clauses = append(clauses, fmt.Sprintf("%s < '%s'", ds.SourceTimestampField, today))
	}
	return strings.Join(clauses, " and ")
}

func quoteList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
