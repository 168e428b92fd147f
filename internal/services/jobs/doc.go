// Package jobs runs background housekeeping for the host: pruning old crash
// rows from the store and logging periodic machine stats snapshots.
//
// Schedules come from config as cron specs or @every descriptors and run on a
// robfig/cron instance owned by the service. The service is restartable:
// Apply() with a changed config stops and re-registers entries.
package jobs
