// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPositive is returned by setters receiving a value that is not a finite number greater than zero.
	ErrNotPositive = errors.New("must be a positive value greater than zero")

	// ErrLatencyOrdering is returned when max_acceptable_request_latency is less than desirable_operation_latency.
	ErrLatencyOrdering = errors.New("can't be less than desirable_operation_latency")

	// ErrAdaptationWindowTooSmall is returned when the adaptation window can't fit the minimum number of measurements.
	ErrAdaptationWindowTooSmall = fmt.Errorf("is too small, at least %d measurements must be possible during this window", minMeasurementsPerWindow)

	// ErrReconfigurationWindowTooSmall is returned when the reconfiguration window doesn't span enough adaptation windows.
	ErrReconfigurationWindowTooSmall = fmt.Errorf("is too small, it should be more than %d times bigger than window_for_adaptation", minMeasurementsPerWindow)
)

// ValidationError is the only error kind produced while building a Config. Err is one of the exported
// sentinels, so callers can tell which check failed with errors.Is.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid adaptive bulkhead config: %s (%v) %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(field string, value any, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}
