// Package scheduler fires named triggers on cron or interval schedules and
// hands each firing to a limiter.
//
// The scheduler never runs work itself. It is responsible only for:
//   - registering schedules
//   - computing next trigger times
//   - submitting jobs at the trigger's priority
package scheduler
