// Package cronspec validates the five-field cron expressions a
// CronWorkflow carries and computes the next scheduled run time after a
// given instant, using the same parser robfig/cron/v3 uses internally so
// validation never drifts from what the library would actually
// schedule.
package cronspec

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five-field form (minute hour
// day-of-month month day-of-week), rejecting the optional seconds
// field and predefined @-schedules CORE SPEC §3 doesn't mention.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether expr parses as a standard five-field cron
// expression, the fail-fast check CORE SPEC §7 requires before a
// CronWorkflow is ever materialized ("invalid cron" fails validation,
// no cluster mutation).
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first scheduled run time strictly after after.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}
