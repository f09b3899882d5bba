// Package metrics is the evaluation metrics pipeline: bounded in-memory
// counters aggregated per (tenant, flag, period) and flushed to durable
// storage without ever blocking the evaluation path.
package metrics

import (
	"fmt"
	"time"
)

// PeriodKey identifies the fixed-width window containing t, formatted
// YYYY-MM-DD-HH-n where n = floor(minute-of-hour / width-in-minutes).
func PeriodKey(t time.Time, width time.Duration) string {
	t = t.UTC()
	n := t.Minute() / int(width.Minutes())
	return fmt.Sprintf("%04d-%02d-%02d-%02d-%d", t.Year(), t.Month(), t.Day(), t.Hour(), n)
}

// PeriodStart returns the start of the window containing t.
func PeriodStart(t time.Time, width time.Duration) time.Time {
	t = t.UTC()
	minutes := int(width.Minutes())
	slot := t.Minute() / minutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), slot*minutes, 0, 0, time.UTC)
}
