package contracts

import "fmt"

// ItemResult records the outcome for one dataset or one template focus.
type ItemResult struct {
	ID      int64
	Name    string
	Success bool
	Skipped bool
	Error   string
}

// BatchResult aggregates per-item outcomes of one pipeline invocation.
// A single item's failure never aborts the batch; callers inspect the
// counts to decide the process exit code.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
	Details    []ItemResult
}

// Add folds one item outcome into the batch.
func (b *BatchResult) Add(item ItemResult) {
	b.Total++
	switch {
	case item.Skipped:
		b.Skipped++
	case item.Success:
		b.Successful++
	default:
		b.Failed++
	}
	b.Details = append(b.Details, item)
}

// OK reports whether the batch completed without hard failures.
func (b *BatchResult) OK() bool {
	return b.Failed == 0
}

// Summary is the one-line operator view of the batch.
func (b *BatchResult) Summary() string {
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d skipped=%d",
		b.Total, b.Successful, b.Failed, b.Skipped)
}
