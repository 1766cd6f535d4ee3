package dispatch

import (
	"context"
	"fmt"
	"time"

	"dsched/job"
	"dsched/mq"

	"go.uber.org/zap"
)

type options struct {
	timeout time.Duration
	now     func() time.Time
}

type FuncOption func(o *options)

// WithTimeout bounds every transport call. Defaults to 5s.
func WithTimeout(d time.Duration) FuncOption {
	return func(o *options) {
		o.timeout = d
	}
}

func WithClock(now func() time.Time) FuncOption {
	return func(o *options) {
		o.now = now
	}
}

// QueueDispatcher pushes job payloads through a mq.Producer. It never retries.
type QueueDispatcher struct {
	producer mq.Producer
	handlers *Handlers
	options  *options
	logger   *zap.Logger
}

func New(producer mq.Producer, handlers *Handlers, logger *zap.Logger, funcOptions ...FuncOption) *QueueDispatcher {
	op := &options{
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, f := range funcOptions {
		f(op)
	}
	if handlers == nil {
		handlers = NewHandlers()
	}
	return &QueueDispatcher{
		producer: producer,
		handlers: handlers,
		options:  op,
		logger:   logger,
	}
}

// Handlers returns the class registry requests are resolved against.
func (d *QueueDispatcher) Handlers() *Handlers { return d.handlers }

func (d *QueueDispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	queue := req.Queue
	if queue == "" {
		handler, ok := d.handlers.Lookup(req.Class)
		if !ok || handler.Queue == "" {
			return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownClass, req.Class)
		}
		queue = handler.Queue
	}

	now := d.options.now()
	payload := job.NewPayload(queue, req.Class, req.Args,
		job.WithEnqueuedAt(now),
		job.WithSchedule(req.Schedule),
		job.WithScheduledAt(req.ScheduledAt),
	)
	value, err := payload.Encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("encode %s payload: %w", req.Class, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.options.timeout)
	defer cancel()
	if err := d.producer.Product(ctx, queue, value); err != nil {
		d.logger.Error("[Dispatcher] product failed",
			zap.String("queue", queue), zap.String("class", req.Class), zap.Error(err))
		return Receipt{}, &Error{Queue: queue, Class: req.Class, Err: err}
	}

	d.logger.Debug("[Dispatcher] job dispatched",
		zap.String("id", payload.Id), zap.String("queue", queue), zap.String("class", req.Class))
	return Receipt{
		Id:         payload.Id,
		Queue:      queue,
		Class:      req.Class,
		Args:       req.Args,
		EnqueuedAt: now,
	}, nil
}
