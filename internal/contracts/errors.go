package contracts

import "errors"

// Error classes used to sort per-unit failures into the batch summary.
var (
	// ErrConfig marks a configuration error: fatal for the unit being
	// processed, the batch continues.
	ErrConfig = errors.New("configuration error")

	// ErrNoData marks an empty required query result or a failed column
	// coercion; the unit is failed without a partial commit.
	ErrNoData = errors.New("data error")

	// ErrGeneration marks a text generator failure or empty content; the
	// story is not persisted and stays due for the next run.
	ErrGeneration = errors.New("generation error")

	// ErrDuplicateStory is returned when the storage layer rejects a story
	// insert on the (focus, period) unique backstop.
	ErrDuplicateStory = errors.New("story already exists for period")
)
