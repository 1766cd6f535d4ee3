package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dsched/job"
	"dsched/registry"
)

var ErrUnknownClass = errors.New("unknown job class")

// Error reports a transport failure while pushing a job. It is the only
// dispatch failure worth trying again.
type Error struct {
	Queue string
	Class string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s to queue %s: %s", e.Class, e.Queue, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// Request asks for one job execution. Queue may be empty when the class
// declares one.
type Request struct {
	Queue string
	Class string
	Args  job.Args

	// Schedule and ScheduledAt record where the request came from.
	Schedule    string
	ScheduledAt time.Time
}

// Receipt describes a job that was handed to the transport.
type Receipt struct {
	Id         string
	Queue      string
	Class      string
	Args       job.Args
	EnqueuedAt time.Time
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Receipt, error)
}

// ForEntry builds the request that fires a schedule entry.
func ForEntry(e registry.Entry) Request {
	return Request{
		Queue:    e.Queue,
		Class:    e.Class,
		Args:     e.Args,
		Schedule: e.Name,
	}
}
