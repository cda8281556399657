package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

type fakeSource struct {
	csv         string
	lastRecord  map[string]any
	identifiers []string
	downloadErr error

	wheres []string
	dir    string
}

func (f *fakeSource) LastRecord(_ context.Context, _ *contracts.Dataset, _ string) (int, map[string]any, error) {
	return 1, f.lastRecord, nil
}

func (f *fakeSource) Identifiers(context.Context, *contracts.Dataset) ([]string, error) {
	return f.identifiers, nil
}

func (f *fakeSource) Download(_ context.Context, ds *contracts.Dataset, where string, _ []string) (string, error) {
	f.wheres = append(f.wheres, where)
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	path := filepath.Join(f.dir, ds.SourceIdentifier+".csv")
	if err := os.WriteFile(path, []byte(f.csv), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeWarehouse struct {
	tables      map[string]bool
	lastTS      time.Time
	hasRows     bool
	identifiers []string

	appended  [][][]any
	columns   []string
	actions   []string
	appendErr error
}

func (f *fakeWarehouse) RunQuery(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeWarehouse) RunAction(_ context.Context, sql string, _ ...any) error {
	f.actions = append(f.actions, sql)
	return nil
}

func (f *fakeWarehouse) TableExists(_ context.Context, table string) (bool, error) {
	return f.tables[table], nil
}

func (f *fakeWarehouse) Append(_ context.Context, _ string, columns []string, rows [][]any) (int64, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	f.columns = columns
	f.appended = append(f.appended, rows)
	return int64(len(rows)), nil
}

func (f *fakeWarehouse) LastTimestamp(context.Context, string, string) (time.Time, bool, error) {
	return f.lastTS, f.hasRows, nil
}

func (f *fakeWarehouse) Identifiers(context.Context, string, string) ([]string, error) {
	return f.identifiers, nil
}

type fakeConfigStore struct {
	datasets []*contracts.Dataset
	touched  []int64
}

func (f *fakeConfigStore) Datasets(_ context.Context, id int64) ([]*contracts.Dataset, error) {
	if id <= 0 {
		return f.datasets, nil
	}
	for _, ds := range f.datasets {
		if ds.ID == id {
			return []*contracts.Dataset{ds}, nil
		}
	}
	return nil, nil
}

func (f *fakeConfigStore) TouchDataset(_ context.Context, id int64, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeConfigStore) Templates(context.Context, int64) ([]*contracts.StoryTemplate, error) {
	return nil, nil
}
func (f *fakeConfigStore) Focuses(context.Context, int64) ([]*contracts.TemplateFocus, error) {
	return nil, nil
}
func (f *fakeConfigStore) Contexts(context.Context, int64) ([]*contracts.ContextTemplate, error) {
	return nil, nil
}
func (f *fakeConfigStore) Tables(context.Context, int64) ([]*contracts.TableTemplate, error) {
	return nil, nil
}
func (f *fakeConfigStore) Graphics(context.Context, int64) ([]*contracts.GraphicTemplate, error) {
	return nil, nil
}

func identifierDataset() *contracts.Dataset {
	return &contracts.Dataset{
		ID:                    1,
		Name:                  "measurements",
		Source:                "ods",
		SourceIdentifier:      "100051",
		BaseURL:               "data.example.org",
		TargetTableName:       "measurements",
		Active:                true,
		RecordIdentifierField: "record_id",
	}
}

func timestampDataset() *contracts.Dataset {
	return &contracts.Dataset{
		ID:                   2,
		Name:                 "air-temperature",
		Source:               "ods",
		SourceIdentifier:     "100254",
		BaseURL:              "data.example.org",
		TargetTableName:      "air_temperature",
		Active:               true,
		SourceTimestampField: "timestamp",
		DBTimestampField:     "date",
	}
}

func newTestEngine(t *testing.T, src *fakeSource, wh *fakeWarehouse, cfg *fakeConfigStore) *Engine {
	t.Helper()
	src.dir = t.TempDir()
	e := NewEngine(src, wh, cfg, time.UTC, logger.NewNop())
	e.now = func() time.Time {
		return time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)
	}
	return e
}

func TestSyncFetchesOnlyMissingIdentifiers(t *testing.T) {
	src := &fakeSource{
		identifiers: []string{"1", "2", "3", "4", "5"},
		csv:         "record_id;value\n4;10\n5;20\n",
	}
	wh := &fakeWarehouse{
		tables:      map[string]bool{"measurements": true},
		identifiers: []string{"1", "2", "3"},
	}
	cfg := &fakeConfigStore{}
	e := newTestEngine(t, src, wh, cfg)

	outcome, err := e.SyncDataset(context.Background(), identifierDataset())
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.Inserted)
	require.Len(t, src.wheres, 1)
	assert.Equal(t, "record_id IN ('4', '5')", src.wheres[0])
	assert.Equal(t, []int64{1}, cfg.touched)
}

func TestSyncNoNewIdentifiersPerformsZeroInserts(t *testing.T) {
	src := &fakeSource{identifiers: []string{"1", "2", "3"}}
	wh := &fakeWarehouse{
		tables:      map[string]bool{"measurements": true},
		identifiers: []string{"1", "2", "3"},
	}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	outcome, err := e.SyncDataset(context.Background(), identifierDataset())
	require.NoError(t, err)
	assert.True(t, outcome.UpToDate)
	assert.Empty(t, src.wheres, "no download should happen when nothing is new")
	assert.Empty(t, wh.appended)
}

func TestSyncRerunWithNoNewDataIsAdditiveNoop(t *testing.T) {
	src := &fakeSource{
		identifiers: []string{"1", "2", "3", "4"},
		csv:         "record_id;value\n4;10\n",
	}
	wh := &fakeWarehouse{
		tables:      map[string]bool{"measurements": true},
		identifiers: []string{"1", "2", "3"},
	}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})
	ds := identifierDataset()

	first, err := e.SyncDataset(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Inserted)

	// the first load landed, so the local set now matches the remote set
	wh.identifiers = []string{"1", "2", "3", "4"}

	second, err := e.SyncDataset(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, second.UpToDate)
	assert.Len(t, wh.appended, 1, "second run must insert nothing")
}

func TestSyncTimestampGapBelowOneDayIsUpToDate(t *testing.T) {
	src := &fakeSource{
		lastRecord: map[string]any{"timestamp": "2026-06-14T23:50:00"},
	}
	wh := &fakeWarehouse{
		tables:  map[string]bool{"air_temperature": true},
		lastTS:  time.Date(2026, time.June, 14, 0, 0, 0, 0, time.UTC),
		hasRows: true,
	}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	outcome, err := e.SyncDataset(context.Background(), timestampDataset())
	require.NoError(t, err)
	assert.True(t, outcome.UpToDate)
	assert.Empty(t, src.wheres)
}

func TestSyncTimestampDeltaWindowExcludesToday(t *testing.T) {
	src := &fakeSource{
		lastRecord: map[string]any{"timestamp": "2026-06-14T12:00:00"},
		csv:        "timestamp;value\n2026-06-13T00:00:00;1.5\n",
	}
	wh := &fakeWarehouse{
		tables:  map[string]bool{"air_temperature": true},
		lastTS:  time.Date(2026, time.June, 12, 0, 0, 0, 0, time.UTC),
		hasRows: true,
	}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	outcome, err := e.SyncDataset(context.Background(), timestampDataset())
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.Inserted)
	require.Len(t, src.wheres, 1)
	assert.Equal(t, "timestamp > '2026-06-12' and timestamp < '2026-06-15'", src.wheres[0])
}

func TestSyncMissingTableTriggersFullLoad(t *testing.T) {
	src := &fakeSource{
		lastRecord: map[string]any{"timestamp": "2026-06-14T12:00:00"},
		csv:        "timestamp;value\n2026-06-10T00:00:00;3.2\n2026-06-11T00:00:00;4.1\n",
	}
	wh := &fakeWarehouse{tables: map[string]bool{}}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	outcome, err := e.SyncDataset(context.Background(), timestampDataset())
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.Inserted)
	require.Len(t, src.wheres, 1)
	assert.Equal(t, "timestamp < '2026-06-15'", src.wheres[0])
}

func TestSyncRejectsConflictingCursors(t *testing.T) {
	ds := identifierDataset()
	ds.SourceTimestampField = "timestamp"
	ds.DBTimestampField = "date"
	e := newTestEngine(t, &fakeSource{}, &fakeWarehouse{}, &fakeConfigStore{})

	_, err := e.SyncDataset(context.Background(), ds)
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrConfig)
}

func TestSyncRunsPostImportStatements(t *testing.T) {
	src := &fakeSource{
		identifiers: []string{"1"},
		csv:         "record_id;value\n1;10\n",
	}
	wh := &fakeWarehouse{tables: map[string]bool{"measurements": true}}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	ds := identifierDataset()
	ds.CalculatedFields = []contracts.CalculatedField{
		{FieldName: "value_f", Command: "UPDATE measurements SET value_f = value * 1.8 + 32"},
	}
	ds.PostImportSQL = "ANALYZE measurements; DELETE FROM measurements WHERE value IS NULL"

	_, err := e.SyncDataset(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, wh.actions, 3)
	assert.Equal(t, "UPDATE measurements SET value_f = value * 1.8 + 32", wh.actions[0])
	assert.Equal(t, "ANALYZE measurements", wh.actions[1])
	assert.Equal(t, "DELETE FROM measurements WHERE value IS NULL", wh.actions[2])
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		identifiers: []string{"1"},
		csv:         "record_id;value\n1;10\n",
	}
	wh := &fakeWarehouse{tables: map[string]bool{}}

	datasets := make([]*contracts.Dataset, 0, 5)
	for i := int64(1); i <= 5; i++ {
		ds := identifierDataset()
		ds.ID = i
		ds.Name = "dataset-" + string(rune('a'+i-1))
		datasets = append(datasets, ds)
	}
	// dataset 3 is misconfigured and must fail alone
	datasets[2].BaseURL = ""

	cfg := &fakeConfigStore{datasets: datasets}
	e := newTestEngine(t, src, wh, cfg)
	runner := NewRunner(e, cfg, logger.NewNop())

	result, err := runner.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.OK())

	for _, item := range result.Details {
		if item.ID == 3 {
			assert.False(t, item.Success)
			assert.Contains(t, item.Error, "base URL")
		} else {
			assert.True(t, item.Success)
		}
	}
}

func TestRunSingleDatasetFilter(t *testing.T) {
	src := &fakeSource{identifiers: []string{"1"}, csv: "record_id\n1\n"}
	wh := &fakeWarehouse{tables: map[string]bool{}}
	ds := identifierDataset()
	cfg := &fakeConfigStore{datasets: []*contracts.Dataset{ds}}
	e := newTestEngine(t, src, wh, cfg)
	runner := NewRunner(e, cfg, logger.NewNop())

	result, err := runner.Run(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Successful)
}

func TestSyncDownloadFailureFailsDataset(t *testing.T) {
	src := &fakeSource{
		identifiers: []string{"1", "2"},
		downloadErr: errors.New("remote unavailable"),
	}
	wh := &fakeWarehouse{tables: map[string]bool{"measurements": true}, identifiers: []string{"1"}}
	e := newTestEngine(t, src, wh, &fakeConfigStore{})

	_, err := e.SyncDataset(context.Background(), identifierDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unavailable")
}
