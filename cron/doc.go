// Package cron holds stored cron job definitions and the scheduler that
// fires them.
//
// A [Definition] names one kind from the closed [JobType] set, its
// kind-specific configuration, the tenant it belongs to, and counters
// that gate further runs through [Definition.CanRun]. Schedules are
// standard 5-field cron expressions or descriptors such as "@every 1h";
// one-shot definitions may instead carry an RFC 3339 timestamp.
//
// The [Scheduler] does not run definitions itself. On every tick it
// enqueues a dynamic_cron job carrying the definition id, records the
// firing and computes the next run. The dispatcher job then loads the
// definition, checks CanRun again, and writes an [Execution] record.
package cron
