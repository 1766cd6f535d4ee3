// Package dispatchtest provides a recording Dispatcher for tests.
package dispatchtest

import (
	"context"
	"sync"
	"time"

	"dsched/dispatch"

	"github.com/google/uuid"
)

// Recorder records every request. Requests for classes listed in Fail return
// a *dispatch.Error.
type Recorder struct {
	mu       sync.Mutex
	requests []dispatch.Request
	Fail     map[string]error
}

func (r *Recorder) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.Fail[req.Class]; ok {
		return dispatch.Receipt{}, &dispatch.Error{Queue: req.Queue, Class: req.Class, Err: err}
	}
	r.requests = append(r.requests, req)
	return dispatch.Receipt{
		Id:         uuid.NewString(),
		Queue:      req.Queue,
		Class:      req.Class,
		Args:       req.Args,
		EnqueuedAt: time.Now(),
	}, nil
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []dispatch.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Classes returns the class of every recorded request, in order.
func (r *Recorder) Classes() []string {
	var out []string
	for _, req := range r.Requests() {
		out = append(out, req.Class)
	}
	return out
}
