package sync

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/internal/period"
)

// Frame is an in-memory tabular extract. Rows hold typed cells keyed by
// column name; Columns preserves the source column order so loads stay
// deterministic.
type Frame struct {
	Columns []string
	Rows    []map[string]any
}

// timestampLayouts are tried in order when coercing a cell to a time.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadCSV parses a semicolon-delimited extract file into a Frame. Cell
// values are inferred as int64, float64, time.Time or string; empty cells
// become nil.
func ReadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return &Frame{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read extract header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	fr := &Frame{Columns: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read extract row %d: %w", len(fr.Rows)+2, err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = inferValue(rec[i])
			}
		}
		fr.Rows = append(fr.Rows, row)
	}
	return fr, nil
}

func inferValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return s
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// HasColumn reports whether the frame carries a column.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (f *Frame) addColumn(name string) {
	if !f.HasColumn(name) {
		f.Columns = append(f.Columns, name)
	}
}

// Project keeps only the named columns, in the given order. Columns absent
// from the frame are ignored.
func (f *Frame) Project(fields []string) {
	if len(fields) == 0 {
		return
	}
	kept := make([]string, 0, len(fields))
	for _, name := range fields {
		if f.HasColumn(name) {
			kept = append(kept, name)
		}
	}
	for i, row := range f.Rows {
		next := make(map[string]any, len(kept))
		for _, name := range kept {
			next[name] = row[name]
		}
		f.Rows[i] = next
	}
	f.Columns = kept
}

// SetConstant injects the same value into every row.
func (f *Frame) SetConstant(name, value string) {
	f.addColumn(name)
	for _, row := range f.Rows {
		row[name] = value
	}
}

// NormalizeTimestamp re-parses a timestamp column and converts it to the
// given location. Unparseable cells become nil.
func (f *Frame) NormalizeTimestamp(field string, loc *time.Location) {
	if !f.HasColumn(field) {
		return
	}
	for _, row := range f.Rows {
		t, ok := cellTime(row[field])
		if !ok {
			row[field] = nil
			continue
		}
		row[field] = t.In(loc)
	}
}

// PruneMissing drops every row that has a nil cell in any of the named
// columns.
func (f *Frame) PruneMissing(fields []string) {
	if len(fields) == 0 {
		return
	}
	kept := f.Rows[:0]
	for _, row := range f.Rows {
		complete := true
		for _, name := range fields {
			if v, ok := row[name]; !ok || v == nil {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, row)
		}
	}
	f.Rows = kept
}

// AddCalendarFields derives year, month, day_in_year, season and season_year
// from a date column. Rows whose date cell cannot be read get nil calendar
// cells.
func (f *Frame) AddCalendarFields(dateField string) {
	for _, name := range []string{"year", "month", "day_in_year", "season", "season_year"} {
		f.addColumn(name)
	}
	for _, row := range f.Rows {
		t, ok := cellTime(row[dateField])
		if !ok {
			for _, name := range []string{"year", "month", "day_in_year", "season", "season_year"} {
				row[name] = nil
			}
			continue
		}
		row["year"] = int64(t.Year())
		row["month"] = int64(t.Month())
		row["day_in_year"] = int64(t.YearDay())
		row["season"] = int64(period.SeasonOf(t.Month()))
		row["season_year"] = int64(period.SeasonYear(t))
	}
}

// Aggregate groups rows by the configured group fields and reduces every value
// field with every aggregate function. Output columns are named
// "<func>_<field>". When dbTimestampField is set and the source timestamp
// column is present, the timestamp is truncated to a date under that name
// first so it can serve as a group field.
func (f *Frame) Aggregate(spec *contracts.AggregationSpec, sourceTimestampField, dbTimestampField string) error {
	if spec == nil {
		return nil
	}
	if sourceTimestampField != "" && dbTimestampField != "" && f.HasColumn(sourceTimestampField) {
		f.addColumn(dbTimestampField)
		for _, row := range f.Rows {
			if t, ok := cellTime(row[sourceTimestampField]); ok {
				row[dbTimestampField] = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			} else {
				row[dbTimestampField] = nil
			}
		}
	}

	for _, name := range spec.GroupFields {
		if !f.HasColumn(name) {
			return fmt.Errorf("aggregation group field %q not in extract", name)
		}
	}

	type group struct {
		key    map[string]any
		values map[string][]float64
	}
	groups := map[string]*group{}
	order := []string{}

	for _, row := range f.Rows {
		var kb strings.Builder
		for _, name := range spec.GroupFields {
			kb.WriteString(cellKey(row[name]))
			kb.WriteByte('\x1f')
		}
		key := kb.String()
		g, ok := groups[key]
		if !ok {
			g = &group{key: map[string]any{}, values: map[string][]float64{}}
			for _, name := range spec.GroupFields {
				g.key[name] = row[name]
			}
			groups[key] = g
			order = append(order, key)
		}
		for _, field := range spec.ValueFields {
			if v, ok := cellFloat(row[field]); ok {
				g.values[field] = append(g.values[field], v)
			}
		}
	}

	columns := append([]string{}, spec.GroupFields...)
	for _, field := range spec.ValueFields {
		for _, fn := range spec.AggFunctions {
			columns = append(columns, fn+"_"+field)
		}
	}

	rows := make([]map[string]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(map[string]any, len(columns))
		for _, name := range spec.GroupFields {
			row[name] = g.key[name]
		}
		for _, field := range spec.ValueFields {
			for _, fn := range spec.AggFunctions {
				v, err := reduce(fn, g.values[field])
				if err != nil {
					return err
				}
				row[fn+"_"+field] = v
			}
		}
		rows = append(rows, row)
	}

	f.Columns = columns
	f.Rows = rows

	if dbTimestampField != "" && f.HasColumn(dbTimestampField) {
		sort.SliceStable(f.Rows, func(i, j int) bool {
			ti, iok := cellTime(f.Rows[i][dbTimestampField])
			tj, jok := cellTime(f.Rows[j][dbTimestampField])
			if !iok || !jok {
				return jok
			}
			return ti.After(tj)
		})
	}
	return nil
}

// Records renders the rows as positional tuples in column order, for bulk
// loading.
func (f *Frame) Records() (columns []string, rows [][]any) {
	columns = f.Columns
	rows = make([][]any, len(f.Rows))
	for i, row := range f.Rows {
		tuple := make([]any, len(columns))
		for j, name := range columns {
			tuple[j] = row[name]
		}
		rows[i] = tuple
	}
	return columns, rows
}

func reduce(fn string, values []float64) (any, error) {
	switch strings.ToLower(fn) {
	case "count":
		return int64(len(values)), nil
	}
	if len(values) == 0 {
		return nil, nil
	}
	switch strings.ToLower(fn) {
	case "sum":
		s := 0.0
		for _, v := range values {
			s += v
		}
		return s, nil
	case "mean", "avg":
		s := 0.0
		for _, v := range values {
			s += v
		}
		return s / float64(len(values)), nil
	case "min":
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m, nil
	case "max":
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown aggregate function %q", contracts.ErrConfig, fn)
}

func cellTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func cellFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// cellKey renders a cell as a stable grouping key.
func cellKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
