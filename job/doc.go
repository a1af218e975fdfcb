// Package job defines the job entity, its state machine, the closed set
// of job types, and the store contract.
//
// # State machine
//
//	pending → running → completed
//	pending → running → failed ⇒ new pending row (retry_count+1)
//	pending → running → cancelling → cancelled
//	pending → cancelled
//
// A retry never resurrects a failed row; [Store.ScheduleRetry] inserts a
// fresh attempt linked through ParentID.
//
// Jobs built with [NewSystem] carry a synthetic ID. They run directly
// through a handler without touching the store and write no history.
package job
