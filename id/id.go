// Package id defines prefix-qualified identifiers for all job entities.
//
// An ID is a UUIDv7 rendered as "prefix_uuid". IDs sort by creation time
// within a prefix and are safe to use in URLs and database columns.
package id

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for all entity types.
const (
	PrefixJob       Prefix = "job"
	PrefixCron      Prefix = "cron"
	PrefixExecution Prefix = "cexec"
	PrefixHistory   Prefix = "jhist"
	PrefixWorker    Prefix = "wkr"
	PrefixScript    Prefix = "scr"
	PrefixStats     Prefix = "istat"
	// PrefixSystem marks synthetic job IDs for directly invoked system
	// jobs that never pass through the store.
	PrefixSystem Prefix = "sys"
)

var prefixRE = regexp.MustCompile(`^[a-z]{1,16}$`)

// ID is a prefix-qualified UUIDv7.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	uid    uuid.UUID
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix.
// It panics if prefix is malformed (programming error).
func New(prefix Prefix) ID {
	if !prefixRE.MatchString(string(prefix)) {
		panic(fmt.Sprintf("id: invalid prefix %q", prefix))
	}
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate: %v", err))
	}
	return ID{prefix: prefix, uid: u}
}

// Parse parses "prefix_uuid" into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	p, rest, ok := strings.Cut(s, "_")
	if !ok || !prefixRE.MatchString(p) {
		return Nil, fmt.Errorf("id: parse %q: missing or invalid prefix", s)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(p), uid: u}, nil
}

// ParseWithPrefix parses s and checks that its prefix matches expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.prefix)
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// JobID identifies a job (prefix "job", or "sys" for synthetic jobs).
type JobID = ID

// CronID identifies a cron definition.
type CronID = ID

// ExecutionID identifies a cron execution record.
type ExecutionID = ID

// HistoryID identifies a job history entry.
type HistoryID = ID

// WorkerID identifies a worker process.
type WorkerID = ID

// ScriptID identifies a stored tenant script.
type ScriptID = ID

// NewJobID generates a new job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewSystemJobID generates a synthetic ID for a job invoked outside the
// queue.
func NewSystemJobID() ID { return New(PrefixSystem) }

// NewCronID generates a new cron definition ID.
func NewCronID() ID { return New(PrefixCron) }

// NewExecutionID generates a new cron execution ID.
func NewExecutionID() ID { return New(PrefixExecution) }

// NewHistoryID generates a new history entry ID.
func NewHistoryID() ID { return New(PrefixHistory) }

// NewWorkerID generates a new worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// NewScriptID generates a new script ID.
func NewScriptID() ID { return New(PrefixScript) }

// NewStatsID generates a new import statistics ID.
func NewStatsID() ID { return New(PrefixStats) }

// ParseJobID parses a job ID. Synthetic "sys" IDs are accepted.
func ParseJobID(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != PrefixJob && parsed.prefix != PrefixSystem {
		return Nil, fmt.Errorf("id: expected job id, got prefix %q", parsed.prefix)
	}
	return parsed, nil
}

// ParseCronID parses a string and validates the "cron" prefix.
func ParseCronID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCron) }

// ParseScriptID parses a string and validates the "scr" prefix.
func ParseScriptID(s string) (ID, error) { return ParseWithPrefix(s, PrefixScript) }

// String returns "prefix_uuid", or "" for Nil.
func (i ID) String() string {
	if i.IsNil() {
		return ""
	}
	return string(i.prefix) + "_" + i.uid.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix { return i.prefix }

// UUID returns the underlying UUID.
func (i ID) UUID() uuid.UUID { return i.uid }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return i.prefix == "" }

// IsSynthetic reports whether this ID was minted for a directly invoked
// system job. Synthetic jobs have no store row.
func (i ID) IsSynthetic() bool { return i.prefix == PrefixSystem }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
