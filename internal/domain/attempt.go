package domain

import "time"

// Outcome tags a single extraction attempt at one scale.
type Outcome int

const (
	// OutcomeSuccess means the attempt produced a usable record.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry means the service hit a resource limit; a coarser scale
	// may succeed.
	OutcomeRetry
	// OutcomeEmpty means the query succeeded but aggregated to nothing.
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Attempt is the result of querying one (dataset, region, month) at one scale.
type Attempt struct {
	Scale    int
	Outcome  Outcome
	Reason   string
	Duration time.Duration
}
