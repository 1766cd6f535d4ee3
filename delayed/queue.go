package delayed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dsched/delayed/bucket"
	"dsched/delayed/timingqueue"
	"dsched/dispatch"
	"dsched/job"
	"dsched/mq"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const DefaultNamespace = "{dsched}"

// page size used when walking the timestamp index
const scanPage = 100

type options struct {
	namespace   string
	reader      mq.Reader
	timeout     time.Duration
	searchLimit int64
}

type FuncOption func(o *options)

func WithNamespace(namespace string) FuncOption {
	return func(o *options) {
		o.namespace = namespace
	}
}

// WithReader makes Search include jobs already sitting in work queues.
func WithReader(reader mq.Reader) FuncOption {
	return func(o *options) {
		o.reader = reader
	}
}

// WithTimeout bounds every backend call. Defaults to 5s.
func WithTimeout(d time.Duration) FuncOption {
	return func(o *options) {
		o.timeout = d
	}
}

// WithSearchLimit caps how many queued jobs per queue Search scans.
// Defaults to 1000.
func WithSearchLimit(n int64) FuncOption {
	return func(o *options) {
		o.searchLimit = n
	}
}

// Queue stores jobs until their due second. Jobs due in the same second
// share a bucket and keep insertion order.
type Queue struct {
	index      timingqueue.TimingQueue
	backend    redis.UniversalClient
	dispatcher dispatch.Dispatcher
	options    *options
	logger     *zap.Logger
}

func New(rdb redis.UniversalClient, dispatcher dispatch.Dispatcher, logger *zap.Logger, funcOptions ...FuncOption) *Queue {
	op := &options{
		namespace:   DefaultNamespace,
		timeout:     5 * time.Second,
		searchLimit: 1000,
	}
	for _, f := range funcOptions {
		f(op)
	}
	return &Queue{
		index:      timingqueue.New(rdb, op.namespace),
		backend:    rdb,
		dispatcher: dispatcher,
		options:    op,
		logger:     logger,
	}
}

func (q *Queue) bucket(ts int64) bucket.Bucket {
	return bucket.New(q.backend, q.options.namespace, q.index.Key(), ts)
}

func (q *Queue) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.options.timeout)
}

// EnqueueAt stores a job until dueAt. Duplicates are kept as distinct jobs.
func (q *Queue) EnqueueAt(ctx context.Context, dueAt time.Time, class string, args job.Args) error {
	return q.EnqueueAtWithQueue(ctx, dueAt, "", class, args)
}

// EnqueueAtWithQueue is EnqueueAt with an explicit destination queue.
func (q *Queue) EnqueueAtWithQueue(ctx context.Context, dueAt time.Time, queue, class string, args job.Args) error {
	if class == "" {
		return errors.New("delayed job without class")
	}
	return q.push(ctx, job.Delayed{DueAt: dueAt, Class: class, Queue: queue, Args: args})
}

func (q *Queue) push(ctx context.Context, d job.Delayed) error {
	raw, err := d.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	if err := q.bucket(d.DueAt.Unix()).Add(ctx, string(raw)); err != nil {
		return fmt.Errorf("enqueue delayed %s: %w", d.Class, err)
	}
	return nil
}

// Peek returns up to limit jobs in due order after skipping offset jobs.
// Offset and limit index the global order, not single buckets.
func (q *Queue) Peek(ctx context.Context, offset, limit int64) ([]job.Delayed, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	var out []job.Delayed
	err := q.walk(ctx, func(ts int64) (bool, error) {
		b := q.bucket(ts)
		size, err := b.Len(ctx)
		if err != nil {
			return false, err
		}
		if offset >= size {
			offset -= size
			return true, nil
		}
		need := limit - int64(len(out))
		values, err := b.Range(ctx, offset, offset+need-1)
		if err != nil {
			return false, err
		}
		offset = 0
		for _, v := range values {
			d, err := job.DecodeDelayed(ts, []byte(v))
			if err != nil {
				q.logger.Warn("[DelayedQueue] skip malformed job", zap.Int64("timestamp", ts), zap.Error(err))
				continue
			}
			out = append(out, d)
		}
		return int64(len(out)) < limit, nil
	})
	return out, err
}

// Timestamps returns due seconds holding jobs, earliest first.
func (q *Queue) Timestamps(ctx context.Context, offset, limit int64) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	tss, err := q.index.Range(ctx, offset, offset+limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(tss))
	for _, ts := range tss {
		out = append(out, time.Unix(ts, 0))
	}
	return out, nil
}

// TimestampCount is the number of distinct due seconds.
func (q *Queue) TimestampCount(ctx context.Context) (int64, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	return q.index.Count(ctx)
}

// Count is the total number of delayed jobs.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	var total int64
	err := q.walk(ctx, func(ts int64) (bool, error) {
		n, err := q.bucket(ts).Len(ctx)
		total += n
		return true, err
	})
	return total, err
}

// JobsAt returns the jobs due at the second of dueAt.
func (q *Queue) JobsAt(ctx context.Context, dueAt time.Time) ([]job.Delayed, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	return q.decodeBucket(ctx, dueAt.Unix())
}

// ScheduledAt returns every due second holding a job with class and args.
func (q *Queue) ScheduledAt(ctx context.Context, class string, args job.Args) ([]time.Time, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	var out []time.Time
	err := q.walk(ctx, func(ts int64) (bool, error) {
		jobs, err := q.decodeBucket(ctx, ts)
		if err != nil {
			return false, err
		}
		for _, d := range jobs {
			if d.Matches(class, args) {
				out = append(out, d.DueAt)
				break
			}
		}
		return true, nil
	})
	return out, err
}

// Search matches text case-insensitively against class names of delayed
// jobs and, with a reader, of jobs already queued. Queued jobs come last and
// have a zero DueAt.
func (q *Queue) Search(ctx context.Context, text string) ([]job.Delayed, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	needle := strings.ToLower(text)
	matches := func(class string) bool {
		return strings.Contains(strings.ToLower(class), needle)
	}

	var out []job.Delayed
	err := q.walk(ctx, func(ts int64) (bool, error) {
		jobs, err := q.decodeBucket(ctx, ts)
		if err != nil {
			return false, err
		}
		for _, d := range jobs {
			if matches(d.Class) {
				out = append(out, d)
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if q.options.reader == nil {
		return out, nil
	}

	queues, err := q.options.reader.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	for _, name := range queues {
		values, err := q.options.reader.Range(ctx, name, 0, q.options.searchLimit-1)
		if err != nil {
			return nil, fmt.Errorf("read queue %s: %w", name, err)
		}
		for _, v := range values {
			p, err := job.DecodePayload(v)
			if err != nil {
				continue
			}
			if matches(p.Class) {
				out = append(out, job.Delayed{Class: p.Class, Queue: name, Args: p.Args})
			}
		}
	}
	return out, nil
}

// Cancel removes the first job due at dueAt whose class and canonical args
// equal the given ones. Empty args only match jobs stored without args.
func (q *Queue) Cancel(ctx context.Context, dueAt time.Time, class string, args job.Args) (bool, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	b := q.bucket(dueAt.Unix())
	// another writer may take the matched value between the read and the
	// removal; look again in that case.
	for attempt := 0; attempt < 3; attempt++ {
		values, err := b.Values(ctx)
		if err != nil {
			return false, err
		}
		raw, found := "", false
		for _, v := range values {
			d, err := job.DecodeDelayed(b.Timestamp(), []byte(v))
			if err == nil && d.Matches(class, args) {
				raw, found = v, true
				break
			}
		}
		if !found {
			return false, nil
		}
		removed, err := b.Remove(ctx, raw)
		if err != nil {
			return false, err
		}
		if removed {
			q.logger.Info("[DelayedQueue] job canceled",
				zap.Time("due_at", dueAt), zap.String("class", class), zap.String("args", args.Encode()))
			return true, nil
		}
	}
	return false, nil
}

// ForceRunNow dispatches and removes every job of the dueAt bucket. Jobs
// whose dispatch fails on the transport are put back in their order.
func (q *Queue) ForceRunNow(ctx context.Context, dueAt time.Time) (int, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	// take the whole bucket first, failed jobs go back into it
	var values []string
	_, err := q.bucket(dueAt.Unix()).Flush(ctx, func(value string) {
		values = append(values, value)
	})
	errs := []error{err}
	var failed []job.Delayed
	dispatched := 0
	for _, value := range values {
		d, err := job.DecodeDelayed(dueAt.Unix(), []byte(value))
		if err != nil {
			q.logger.Error("[DelayedQueue] drop malformed job", zap.Time("due_at", dueAt), zap.String("value", value), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		retry, err := q.dispatch(ctx, d)
		if err != nil {
			errs = append(errs, err)
			if retry {
				failed = append(failed, d)
			}
			continue
		}
		dispatched++
	}
	errs = append(errs, q.putBack(context.Background(), failed...))
	q.logger.Info("[DelayedQueue] force run", zap.Time("due_at", dueAt), zap.Int("dispatched", dispatched))
	return dispatched, errors.Join(errs...)
}

// Clear removes every delayed job.
func (q *Queue) Clear(ctx context.Context) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	n, err := q.index.Clear(ctx)
	if err != nil {
		return err
	}
	q.logger.Info("[DelayedQueue] cleared", zap.Int64("buckets", n))
	return nil
}

// ClaimDue atomically removes up to limit jobs due at or before now.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]job.Delayed, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	tss, err := q.index.Due(ctx, now.Unix(), int64(limit))
	if err != nil {
		return nil, err
	}
	var out []job.Delayed
	for _, ts := range tss {
		b := q.bucket(ts)
		for len(out) < limit {
			v, ok, err := b.Pop(ctx)
			if err != nil {
				return out, err
			}
			if !ok {
				break
			}
			d, err := job.DecodeDelayed(ts, []byte(v))
			if err != nil {
				q.logger.Error("[DelayedQueue] drop malformed job", zap.Int64("timestamp", ts), zap.String("value", v), zap.Error(err))
				continue
			}
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Next returns the earliest due second. ok is false when nothing is delayed.
func (q *Queue) Next(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	ts, ok, err := q.index.Head(ctx)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.Unix(ts, 0), true, nil
}

// Dispatch hands a claimed job to the dispatcher. A job failing on the
// transport goes back to the head of its due second. Any other failure, an
// unknown class for one, drops the job.
func (q *Queue) Dispatch(ctx context.Context, d job.Delayed) error {
	retry, err := q.dispatch(ctx, d)
	if err == nil || !retry {
		return err
	}
	if perr := q.putBack(context.Background(), d); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (q *Queue) dispatch(ctx context.Context, d job.Delayed) (retry bool, err error) {
	_, err = q.dispatcher.Dispatch(ctx, dispatch.Request{
		Queue:       d.Queue,
		Class:       d.Class,
		Args:        d.Args,
		ScheduledAt: d.DueAt,
	})
	if err == nil {
		return false, nil
	}
	var de *dispatch.Error
	if errors.As(err, &de) {
		q.logger.Warn("[DelayedQueue] dispatch failed, job put back",
			zap.Time("due_at", d.DueAt), zap.String("class", d.Class), zap.Error(err))
		return true, err
	}
	q.logger.Error("[DelayedQueue] dispatch failed, job dropped",
		zap.Time("due_at", d.DueAt), zap.String("class", d.Class), zap.String("args", d.Args.Encode()), zap.Error(err))
	return false, err
}

// putBack returns jobs to the head of their buckets, keeping their order.
func (q *Queue) putBack(ctx context.Context, jobs ...job.Delayed) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	for i := len(jobs) - 1; i >= 0; i-- {
		raw, err := jobs[i].Encode()
		if err != nil {
			return err
		}
		if err := q.bucket(jobs[i].DueAt.Unix()).PushFront(ctx, string(raw)); err != nil {
			return fmt.Errorf("put back delayed %s: %w", jobs[i].Class, err)
		}
	}
	return nil
}

func (q *Queue) decodeBucket(ctx context.Context, ts int64) ([]job.Delayed, error) {
	values, err := q.bucket(ts).Values(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]job.Delayed, 0, len(values))
	for _, v := range values {
		d, err := job.DecodeDelayed(ts, []byte(v))
		if err != nil {
			q.logger.Warn("[DelayedQueue] skip malformed job", zap.Int64("timestamp", ts), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// walk visits timestamps in due order until fn returns false.
func (q *Queue) walk(ctx context.Context, fn func(ts int64) (bool, error)) error {
	for start := int64(0); ; start += scanPage {
		tss, err := q.index.Range(ctx, start, start+scanPage-1)
		if err != nil {
			return err
		}
		for _, ts := range tss {
			more, err := fn(ts)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		if len(tss) < scanPage {
			return nil
		}
	}
}
