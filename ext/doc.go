// Package ext is the event sink for job lifecycle notifications.
//
// Extensions implement only the hook interfaces they care about:
//
//	type auditLog struct{ w io.Writer }
//
//	func (a *auditLog) Name() string { return "audit-log" }
//
//	func (a *auditLog) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    _, werr := fmt.Fprintf(a.w, "%s failed: %v\n", j.ID, err)
//	    return werr
//	}
//
// Hooks:
//
//   - [JobEnqueued]: a job was accepted into the store
//   - [JobStarted]: a worker began an attempt
//   - [JobProgress]: a handler reported progress
//   - [JobCompleted], [JobFailed], [JobCancelled]: the attempt ended
//   - [JobRetrying]: a new attempt was scheduled
//   - [JobAborted]: a running handler observed cancellation
//   - [CronFired]: the scheduler enqueued a cron run
//   - [Shutdown]: the engine is stopping
//
// The [Registry] fans out each event to every registered extension that
// implements the matching hook. Hook errors are logged, never returned.
package ext
