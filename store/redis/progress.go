package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/job"
)

// Event kinds carried on the progress stream.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventAborted   = "aborted"
	EventCancelled = "cancelled"
)

// DefaultStreamMaxLen caps each tenant stream (approximate trimming).
const DefaultStreamMaxLen = 10000

const fieldEvent = "e"

// Compile-time hook checks.
var (
	_ ext.Extension    = (*ProgressStream)(nil)
	_ ext.JobStarted   = (*ProgressStream)(nil)
	_ ext.JobProgress  = (*ProgressStream)(nil)
	_ ext.JobCompleted = (*ProgressStream)(nil)
	_ ext.JobFailed    = (*ProgressStream)(nil)
	_ ext.JobAborted   = (*ProgressStream)(nil)
	_ ext.JobCancelled = (*ProgressStream)(nil)
)

// ProgressEvent is one entry of a tenant progress stream.
type ProgressEvent struct {
	StreamID string    `msgpack:"-"`
	Kind     string    `msgpack:"k"`
	JobID    string    `msgpack:"j"`
	JobType  string    `msgpack:"t"`
	StoreID  string    `msgpack:"s,omitempty"`
	Progress float64   `msgpack:"p"`
	Message  string    `msgpack:"m,omitempty"`
	Error    string    `msgpack:"x,omitempty"`
	Elapsed  int64     `msgpack:"d,omitempty"`
	At       time.Time `msgpack:"a"`
}

// EncodeEvent serializes an event for the stream.
func EncodeEvent(ev ProgressEvent) ([]byte, error) {
	return msgpack.Marshal(&ev)
}

// DecodeEvent parses a stream entry payload.
func DecodeEvent(b []byte) (ProgressEvent, error) {
	var ev ProgressEvent
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return ProgressEvent{}, fmt.Errorf("jobs/redis: decode progress event: %w", err)
	}
	return ev, nil
}

// ProgressStream publishes job lifecycle events to per-tenant Redis
// Streams. Register it with the extension registry.
type ProgressStream struct {
	client goredis.Cmdable
	maxLen int64
	now    func() time.Time
}

// StreamOption configures a ProgressStream.
type StreamOption func(*ProgressStream)

// WithMaxLen sets the approximate per-stream length cap.
func WithMaxLen(n int64) StreamOption {
	return func(s *ProgressStream) { s.maxLen = n }
}

// NewProgressStream creates a stream publisher.
func NewProgressStream(client goredis.Cmdable, opts ...StreamOption) *ProgressStream {
	s := &ProgressStream{client: client, maxLen: DefaultStreamMaxLen, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements ext.Extension.
func (s *ProgressStream) Name() string { return "redis-progress-stream" }

// OnJobStarted implements ext.JobStarted.
func (s *ProgressStream) OnJobStarted(ctx context.Context, j *job.Job) error {
	return s.publish(ctx, s.event(EventStarted, j))
}

// OnJobProgress implements ext.JobProgress.
func (s *ProgressStream) OnJobProgress(ctx context.Context, j *job.Job, percent float64, message string) error {
	ev := s.event(EventProgress, j)
	ev.Progress = percent
	ev.Message = message
	return s.publish(ctx, ev)
}

// OnJobCompleted implements ext.JobCompleted.
func (s *ProgressStream) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	ev := s.event(EventCompleted, j)
	ev.Progress = 100
	ev.Elapsed = elapsed.Milliseconds()
	return s.publish(ctx, ev)
}

// OnJobFailed implements ext.JobFailed.
func (s *ProgressStream) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	ev := s.event(EventFailed, j)
	if err != nil {
		ev.Error = err.Error()
	}
	return s.publish(ctx, ev)
}

// OnJobAborted implements ext.JobAborted.
func (s *ProgressStream) OnJobAborted(ctx context.Context, j *job.Job, reason string) error {
	ev := s.event(EventAborted, j)
	ev.Message = reason
	return s.publish(ctx, ev)
}

// OnJobCancelled implements ext.JobCancelled.
func (s *ProgressStream) OnJobCancelled(ctx context.Context, j *job.Job, reason string) error {
	ev := s.event(EventCancelled, j)
	ev.Message = reason
	return s.publish(ctx, ev)
}

// Read returns up to count events of a tenant after lastID ("0" reads
// from the start). A positive block waits for new entries.
func (s *ProgressStream) Read(ctx context.Context, storeID, lastID string, count int64, block time.Duration) ([]ProgressEvent, error) {
	if lastID == "" {
		lastID = "0"
	}
	if block <= 0 {
		block = -1
	}
	streams, err := s.client.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{progressStreamKey(storeID), lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: read progress: %w", err)
	}

	var out []ProgressEvent
	for _, st := range streams {
		for _, msg := range st.Messages {
			raw, ok := msg.Values[fieldEvent].(string)
			if !ok {
				continue
			}
			ev, err := DecodeEvent([]byte(raw))
			if err != nil {
				return nil, err
			}
			ev.StreamID = msg.ID
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *ProgressStream) event(kind string, j *job.Job) ProgressEvent {
	return ProgressEvent{
		Kind:     kind,
		JobID:    j.ID.String(),
		JobType:  string(j.Type),
		StoreID:  j.StoreID,
		Progress: j.Progress,
		Message:  j.Message,
		At:       s.now().UTC(),
	}
}

func (s *ProgressStream) publish(ctx context.Context, ev ProgressEvent) error {
	b, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("jobs/redis: encode progress event: %w", err)
	}
	err = s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: progressStreamKey(ev.StoreID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{fieldEvent: b},
	}).Err()
	if err != nil {
		return fmt.Errorf("jobs/redis: publish progress: %w", err)
	}
	return nil
}
