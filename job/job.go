package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delayed is a job held back until DueAt. It is stored as its canonical
// JSON record inside the bucket of its due second, so DueAt itself is not
// part of the record.
type Delayed struct {
	DueAt time.Time `json:"-"`

	Class string `json:"class"`
	// Queue overrides the queue declared by the class, if set.
	Queue string `json:"queue,omitempty"`
	Args  Args   `json:"args"`
}

// Encode returns the canonical record bytes.
func (d Delayed) Encode() ([]byte, error) {
	return marshal(d)
}

// Matches reports whether the job has the given class and canonical args.
func (d Delayed) Matches(class string, args Args) bool {
	return d.Class == class && d.Args.Equal(args)
}

// DecodeDelayed parses a record read from the bucket of timestamp ts.
func DecodeDelayed(ts int64, raw []byte) (Delayed, error) {
	var d Delayed
	if err := json.Unmarshal(raw, &d); err != nil {
		return Delayed{}, fmt.Errorf("decode delayed job: %w", err)
	}
	d.DueAt = time.Unix(ts, 0)
	return d, nil
}

// Payload is the message pushed onto a work queue.
type Payload struct {
	// Unique Id of this execution request.
	Id    string `json:"id"`
	Class string `json:"class"`
	Queue string `json:"queue"`
	Args  Args   `json:"args"`

	EnqueuedAt int64 `json:"enqueued_at"`
	// ScheduledAt is the due second of the delayed job this came from.
	ScheduledAt int64 `json:"scheduled_at,omitempty"`
	// Schedule is the name of the schedule entry that fired it.
	Schedule string `json:"schedule,omitempty"`
}

type FuncOption func(p *Payload)

// WithSchedule records the schedule entry that produced the payload.
func WithSchedule(name string) FuncOption {
	return func(p *Payload) {
		p.Schedule = name
	}
}

// WithScheduledAt records the due time of the delayed job that produced the payload.
func WithScheduledAt(t time.Time) FuncOption {
	return func(p *Payload) {
		if !t.IsZero() {
			p.ScheduledAt = t.Unix()
		}
	}
}

// WithEnqueuedAt overrides the enqueue time, which defaults to now.
func WithEnqueuedAt(t time.Time) FuncOption {
	return func(p *Payload) {
		p.EnqueuedAt = t.Unix()
	}
}

// NewPayload creates a payload with a fresh id.
func NewPayload(queue, class string, args Args, options ...FuncOption) Payload {
	p := &Payload{
		Id:         "job-" + uuid.New().String(),
		Class:      class,
		Queue:      queue,
		Args:       args,
		EnqueuedAt: time.Now().Unix(),
	}
	for _, option := range options {
		option(p)
	}
	return *p
}

// Encode returns the payload bytes.
func (p Payload) Encode() ([]byte, error) {
	return marshal(p)
}

// DecodePayload parses a queued payload.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
