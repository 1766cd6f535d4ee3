package workerpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type options struct {
	name         string
	overflowIdle time.Duration
}

type FuncOption func(o *options)

// WithName labels the log lines of the pool. Defaults to a random id.
func WithName(name string) FuncOption {
	return func(o *options) {
		o.name = name
	}
}

// WithOverflowIdle sets how long an overflow goroutine waits for another
// task before exiting. Defaults to one minute.
func WithOverflowIdle(d time.Duration) FuncOption {
	return func(o *options) {
		o.overflowIdle = d
	}
}

// Pool keeps up to size workers that receive tasks from a shared channel.
type Pool struct {
	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup

	tasks  chan func()
	worker chan struct{}

	size     int
	workers  atomic.Int64
	overflow atomic.Int64

	options *options
	logger  *zap.Logger
}

func New(size int, logger *zap.Logger, funcOptions ...FuncOption) *Pool {
	if size < 1 {
		size = 1
	}
	op := &options{
		name:         uuid.New().String(),
		overflowIdle: time.Minute,
	}
	for _, f := range funcOptions {
		f(op)
	}
	return &Pool{
		tasks:   make(chan func()),
		worker:  make(chan struct{}, size),
		size:    size,
		options: op,
		logger:  logger.With(zap.String("pool", op.name)),
	}
}

func (p *Pool) Schedule(task func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.rejected() {
		return
	}
	select {
	case p.tasks <- task:
	case p.worker <- struct{}{}:
		p.spawn(task, false)
	}
}

func (p *Pool) ScheduleAlways(task func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.rejected() {
		return
	}
	select {
	case p.tasks <- task:
	case p.worker <- struct{}{}:
		p.spawn(task, false)
	default:
		p.spawn(task, true)
	}
}

func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("[WorkerPool] closed")
}

// Stats is read without locking, the counts may be a moment stale.
func (p *Pool) Stats() Stats {
	return Stats{Size: p.size, Workers: int(p.workers.Load()), Overflow: int(p.overflow.Load())}
}

// rejected must be called with p.mu held.
func (p *Pool) rejected() bool {
	if p.closed {
		p.logger.Warn("[WorkerPool] task dropped, pool is closed")
		return true
	}
	return false
}

// spawn must be called with p.mu read-locked.
func (p *Pool) spawn(task func(), overflow bool) {
	p.wg.Add(1)
	if overflow {
		p.overflow.Add(1)
		go p.runOverflow(task)
		return
	}
	p.workers.Add(1)
	go p.run(task)
}

// run executes task, then keeps serving the task channel until Close.
func (p *Pool) run(task func()) {
	defer func() {
		<-p.worker
		p.workers.Add(-1)
		p.wg.Done()
	}()

	p.safely(task)
	for t := range p.tasks {
		p.safely(t)
	}
}

// runOverflow executes task, then serves the task channel until it stays
// idle for overflowIdle.
func (p *Pool) runOverflow(task func()) {
	defer func() {
		p.overflow.Add(-1)
		p.wg.Done()
	}()

	p.safely(task)
	timer := time.NewTimer(p.options.overflowIdle)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.safely(t)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.options.overflowIdle)
		}
	}
}

func (p *Pool) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("[WorkerPool] task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
