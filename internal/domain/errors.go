package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyResult means no scale produced a usable aggregation for a
// (dataset, region, month).
var ErrEmptyResult = errors.New("no usable result at any scale")

// QueryError is a failure reported by the raster query service. Retryable
// errors are resource-limit conditions (too many pixels, memory or time
// limits) that a coarser scale may avoid.
type QueryError struct {
	Scale     int
	Retryable bool
	Reason    string
	Err       error
}

func (e *QueryError) Error() string {
	kind := "query error"
	if e.Retryable {
		kind = "retryable query error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at scale %d: %s: %v", kind, e.Scale, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s at scale %d: %s", kind, e.Scale, e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a QueryError a coarser scale may fix.
func IsRetryable(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Retryable
}
