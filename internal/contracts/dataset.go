package contracts

import (
	"fmt"
	"time"
)

// AggregationSpec describes an optional grouped aggregation applied during
// the transform stage. Output columns are named "<func>_<field>".
type AggregationSpec struct {
	GroupFields  []string `json:"group_fields"`
	ValueFields  []string `json:"value_fields"`
	AggFunctions []string `json:"agg_functions"`
}

// ConstantField is injected into every imported record.
type ConstantField struct {
	FieldName string `json:"field_name"`
	Value     string `json:"value"`
}

// CalculatedField is materialized by an operator-declared SQL command after
// each successful load.
type CalculatedField struct {
	FieldName string `json:"field_name"`
	Command   string `json:"command"`
}

// Dataset is the configuration record for one synchronized source table.
// It is long-lived, operator-maintained and read-only during a sync run;
// only LastImportDate is written back after a successful load.
type Dataset struct {
	ID               int64
	Slug             string
	Name             string
	Source           string
	SourceIdentifier string
	BaseURL          string
	TargetTableName  string
	Active           bool

	FieldsSelection []string
	ImportFilter    string
	Aggregations    *AggregationSpec
	Constants       []ConstantField
	CalculatedFields []CalculatedField

	// Exactly one of these drives freshness detection; neither means the
	// dataset is full-reload-only.
	SourceTimestampField  string
	RecordIdentifierField string

	DBTimestampField string

	AddTimeAggregationFields       bool
	DeleteRecordsWithMissingValues []string
	PostImportSQL                  string

	LastImportDate *time.Time
}

// HasTimestampCursor reports whether freshness is driven by a timestamp.
func (d *Dataset) HasTimestampCursor() bool {
	return d.SourceTimestampField != ""
}

// HasIdentifierCursor reports whether freshness is driven by a monotonic
// record identifier.
func (d *Dataset) HasIdentifierCursor() bool {
	return d.RecordIdentifierField != ""
}

// Validate enforces the configuration contract before a sync run starts.
// The two freshness strategies are mutually exclusive; a dataset setting
// both is rejected here instead of guessing a precedence order.
func (d *Dataset) Validate() error {
	if d.SourceIdentifier == "" {
		return fmt.Errorf("%w: dataset %d has no source identifier", ErrConfig, d.ID)
	}
	if d.BaseURL == "" {
		return fmt.Errorf("%w: dataset %d has no base URL", ErrConfig, d.ID)
	}
	if d.TargetTableName == "" {
		return fmt.Errorf("%w: dataset %d has no target table name", ErrConfig, d.ID)
	}
	if d.HasTimestampCursor() && d.HasIdentifierCursor() {
		return fmt.Errorf("%w: dataset %d sets both a timestamp and an identifier cursor", ErrConfig, d.ID)
	}
	if d.HasTimestampCursor() && d.DBTimestampField == "" {
		return fmt.Errorf("%w: dataset %d has a timestamp cursor but no db timestamp field", ErrConfig, d.ID)
	}
	if d.Aggregations != nil {
		if len(d.Aggregations.GroupFields) == 0 {
			return fmt.Errorf("%w: dataset %d aggregation spec has no group fields", ErrConfig, d.ID)
		}
		if len(d.Aggregations.ValueFields) == 0 || len(d.Aggregations.AggFunctions) == 0 {
			return fmt.Errorf("%w: dataset %d aggregation spec has no value fields or functions", ErrConfig, d.ID)
		}
	}
	return nil
}
