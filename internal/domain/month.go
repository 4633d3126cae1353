package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in configuration and outputs.
const DateLayout = "2006-01-02"

// MonthInterval is the half-open calendar month [Start, NextStart).
type MonthInterval struct {
	Start     time.Time
	NextStart time.Time
}

// Year is the calendar year the interval belongs to.
func (m MonthInterval) Year() int {
	return m.Start.Year()
}

func (m MonthInterval) String() string {
	return m.Start.Format("01/2006")
}

// MonthStart truncates t to midnight UTC on the first of its month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthIntervals returns the contiguous month intervals covering
// [month-of(start), month-after(end)). An end before start yields nil.
func MonthIntervals(start, end time.Time) []MonthInterval {
	cur := MonthStart(start)
	last := MonthStart(end)
	if last.Before(cur) {
		return nil
	}

	var out []MonthInterval
	for !cur.After(last) {
		next := cur.AddDate(0, 1, 0)
		out = append(out, MonthInterval{Start: cur, NextStart: next})
		cur = next
	}
	return out
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
