// Package jobs implements per-tenant scheduled message dispatch.
//
// Layout:
//   - Factory validates a Config and builds a OneTime or Recurring Job.
//   - Scheduler owns the registry (id -> job + cron timer) for one tenant.
//     Every timer re-reads the registry on each tick and only dispatches
//     when the timer is not paused and the job is active.
//   - Dispatcher resolves the message (static or computed) and sends it to
//     every recipient in order, recording each outcome in a DispatchReport.
//   - Manager is the tenant-facing facade used by command routers and HTTP.
//
// A OneTime job is registered as a yearly cron expression derived from its
// instant ("{min} {hour} {dom} {month} *"). With the default rearm policy it
// fires again on the same date next year unless deleted; the
// delete_after_fire policy removes it after the first execution.
//
// Timers have minute resolution: seconds in At are dropped, so a OneTime job
// fires at the start of its minute. Factory rejects an At inside the current
// minute, which would otherwise first match a year later, and an At more than
// a year ahead, which the yearly expression could not tell apart from an
// earlier year.
package jobs
