package delayed

import (
	"context"
	"time"

	"dsched/utils"
	"dsched/workerpool"

	"go.uber.org/zap"
)

type pollerOptions struct {
	interval time.Duration
	batch    int
	leader   func() bool
	now      func() time.Time
}

type PollerOption func(o *pollerOptions)

// WithPollInterval caps the sleep between two claims. Defaults to 5s.
func WithPollInterval(d time.Duration) PollerOption {
	return func(o *pollerOptions) {
		o.interval = d
	}
}

// WithBatch sets how many jobs one claim takes at most. Defaults to 100.
func WithBatch(n int) PollerOption {
	return func(o *pollerOptions) {
		o.batch = n
	}
}

// WithLeader restricts claiming to while leader returns true.
func WithLeader(leader func() bool) PollerOption {
	return func(o *pollerOptions) {
		o.leader = leader
	}
}

func WithPollerClock(now func() time.Time) PollerOption {
	return func(o *pollerOptions) {
		o.now = now
	}
}

// Poller moves due delayed jobs onto their work queues.
type Poller struct {
	queue   *Queue
	workers workerpool.WorkerPool
	options *pollerOptions
	logger  *zap.Logger

	timer   *time.Timer
	backoff *utils.Backoff
}

// NewPoller returns a poller dispatching through workers, or inline when
// workers is nil.
func NewPoller(queue *Queue, workers workerpool.WorkerPool, logger *zap.Logger, funcOptions ...PollerOption) *Poller {
	op := &pollerOptions{
		interval: 5 * time.Second,
		batch:    100,
		leader:   func() bool { return true },
		now:      time.Now,
	}
	for _, f := range funcOptions {
		f(op)
	}
	return &Poller{
		queue:   queue,
		workers: workers,
		options: op,
		logger:  logger,
		backoff: utils.NewBackoff(time.Second, op.interval),
	}
}

// Run claims due jobs until exit is closed. It sleeps until the earliest
// bucket is due, but never longer than the poll interval so buckets added by
// other processes are noticed.
func (p *Poller) Run(exit chan struct{}) {
	p.logger.Info("[Poller] start, waiting for delayed jobs to become due")
	// fire immediately to drain what expired while we were down
	p.timer = time.NewTimer(0)
	defer p.timer.Stop()

	for {
		select {
		case <-p.timer.C:
			p.resetTimer(p.Poll(context.Background()))
		case <-exit:
			p.logger.Info("[Poller] exit")
			return
		}
	}
}

// Poll claims and dispatches one batch and returns how long to wait before
// the next one.
func (p *Poller) Poll(ctx context.Context) time.Duration {
	if !p.options.leader() {
		return p.options.interval
	}

	now := p.options.now()
	jobs, err := p.queue.ClaimDue(ctx, now, p.options.batch)
	if err != nil {
		p.logger.Error("[Poller] claim due jobs", zap.Error(err))
	}
	for _, d := range jobs {
		d := d
		p.run(func() {
			if err := p.queue.Dispatch(context.Background(), d); err != nil {
				p.logger.Error("[Poller] dispatch", zap.String("class", d.Class), zap.Error(err))
			}
		})
	}
	if err != nil {
		return p.backoff.Next()
	}
	if len(jobs) >= p.options.batch {
		return 0
	}

	next, ok, err := p.queue.Next(ctx)
	if err != nil {
		p.logger.Error("[Poller] read next due time", zap.Error(err))
		return p.backoff.Next()
	}
	p.backoff.Reset()
	if !ok {
		return p.options.interval
	}
	wait := next.Sub(p.options.now())
	if wait < 0 {
		// a job put back after a failed dispatch; do not spin on it
		return time.Second
	}
	if wait > p.options.interval {
		return p.options.interval
	}
	return wait
}

func (p *Poller) run(task func()) {
	if p.workers == nil {
		task()
		return
	}
	p.workers.Schedule(task)
}

func (p *Poller) resetTimer(d time.Duration) {
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.timer.Reset(d)
}
