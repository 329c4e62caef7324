// Package scheduler triggers named jobs on cron or fixed-interval schedules.
//
// Every job runs with skip-if-running overlap: a trigger that fires while the
// previous run is still in flight is dropped, never queued. Runs recover from
// panics, so one failing run never stops the schedule.
package scheduler
