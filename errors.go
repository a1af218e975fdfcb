package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("jobs: no store configured")
	ErrStoreClosed     = errors.New("jobs: store closed")
	ErrMigrationFailed = errors.New("jobs: migration failed")

	// Not found errors.
	ErrJobNotFound    = errors.New("jobs: job not found")
	ErrCronNotFound   = errors.New("jobs: cron definition not found")
	ErrScriptNotFound = errors.New("jobs: script not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobs: job already exists")
	ErrDuplicateCron    = errors.New("jobs: duplicate cron definition")

	// State errors.
	ErrInvalidState = errors.New("jobs: invalid state transition")
)

// Kind classifies a handler-level failure.
type Kind string

const (
	KindMissingPayloadField   Kind = "missing_payload_field"
	KindInvalidPayload        Kind = "invalid_payload"
	KindDependencyUnsatisfied Kind = "dependency_unsatisfied"
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindDownstream            Kind = "downstream"
	KindConfiguration         Kind = "configuration"
)

// Error is the tagged error returned by handlers and framework helpers.
// Runners classify failures with errors.As on this type, never by
// inspecting message text.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "dispatch webhook".
	Op string
	// Field is the payload field or dependency name, when relevant.
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch e.Kind {
	case KindMissingPayloadField:
		fmt.Fprintf(&b, "missing required payload field %q", e.Field)
	case KindDependencyUnsatisfied:
		fmt.Fprintf(&b, "dependency %q unsatisfied", e.Field)
	case KindCancelled:
		b.WriteString("job cancelled")
	case KindTimeout:
		b.WriteString("operation timed out")
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsCancelled reports whether err carries KindCancelled.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// Retriable reports whether a job that failed with err may be attempted
// again. Untagged errors are retriable.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindCancelled, KindMissingPayloadField, KindInvalidPayload,
		KindDependencyUnsatisfied, KindConfiguration:
		return false
	default:
		return true
	}
}

// MissingField reports an absent required payload field.
func MissingField(field string) error {
	return &Error{Kind: KindMissingPayloadField, Field: field}
}

// InvalidPayload reports a payload that could not be decoded or validated.
func InvalidPayload(msg string, err error) error {
	return &Error{Kind: KindInvalidPayload, Msg: msg, Err: err}
}

// Unsatisfied reports a failed precondition.
func Unsatisfied(name, msg string) error {
	return &Error{Kind: KindDependencyUnsatisfied, Field: name, Msg: msg}
}

// TimedOut reports an operation that exceeded its deadline.
func TimedOut(op string) error {
	return &Error{Kind: KindTimeout, Op: op}
}

// Cancelled reports cooperative cancellation with the given reason.
func Cancelled(reason string) error {
	return &Error{Kind: KindCancelled, Msg: reason}
}

// Downstream wraps an error from a delegated operation.
func Downstream(op string, err error) error {
	return &Error{Kind: KindDownstream, Op: op, Err: err}
}

// Misconfigured reports a non-retriable configuration problem.
func Misconfigured(op, msg string) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: msg}
}
