package domain

import "fmt"

// EmptyPolicy decides what happens when no scale yields a usable record.
type EmptyPolicy string

const (
	// EmptyDrop skips the region-month; nothing is written for it.
	EmptyDrop EmptyPolicy = "drop"
	// EmptyMissing writes a placeholder record with every band blank.
	EmptyMissing EmptyPolicy = "missing"
	// EmptyAbort stops the run with ErrEmptyResult.
	EmptyAbort EmptyPolicy = "abort"
)

// ParseEmptyPolicy validates a policy name.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch p := EmptyPolicy(s); p {
	case EmptyDrop, EmptyMissing, EmptyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown empty result policy %q (want drop, missing or abort)", s)
	}
}
