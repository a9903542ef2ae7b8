// Package schedule stores recurring device commands and fires them on their
// cron expressions.
//
// A Schedule names a device, an action with optional params and a standard
// five-field cron expression (descriptors such as "@hourly" and
// "@every 10m" are accepted too). Runner keeps one cron entry per active
// schedule; each firing reloads the schedule and hands a fresh pending
// command to a Dispatcher, which stores, records and publishes it exactly
// like a command created through the HTTP API.
//
//	runner := schedule.NewRunner(repo)
//	runner.SetLogger(log.Component("schedule"))
//	if err := runner.Start(ctx, dispatcher); err != nil {
//	    return err
//	}
//	defer runner.Stop()
//
// Call Sync after creating, changing or deleting a schedule so the cron
// entries follow the stored rows.
package schedule
