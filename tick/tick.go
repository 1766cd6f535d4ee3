package tick

import (
	"context"
	"sync"
	"time"

	"dsched/dispatch"
	"dsched/registry"
	"dsched/workerpool"

	"go.uber.org/zap"
)

// State of one schedule entry between ticks.
type State int

const (
	Idle State = iota
	Due
	Dispatched
)

func (s State) String() string {
	switch s {
	case Due:
		return "due"
	case Dispatched:
		return "dispatched"
	default:
		return "idle"
	}
}

type entryState struct {
	state     State
	lastFired time.Time
}

// Lister is the part of the registry the scheduler reads.
type Lister interface {
	List(env string) []registry.Entry
}

type options struct {
	interval        time.Duration
	dispatchTimeout time.Duration
	leader          func() bool
	now             func() time.Time
}

type FuncOption func(o *options)

// WithInterval sets the tick period. Defaults to one minute.
func WithInterval(d time.Duration) FuncOption {
	return func(o *options) {
		o.interval = d
	}
}

// WithDispatchTimeout bounds each fire-and-forget dispatch. Defaults to 10s.
func WithDispatchTimeout(d time.Duration) FuncOption {
	return func(o *options) {
		o.dispatchTimeout = d
	}
}

// WithLeader restricts firing to while leader returns true.
func WithLeader(leader func() bool) FuncOption {
	return func(o *options) {
		o.leader = leader
	}
}

func WithClock(now func() time.Time) FuncOption {
	return func(o *options) {
		o.now = now
	}
}

// Scheduler evaluates every visible schedule entry once per tick and fires
// the due ones.
type Scheduler struct {
	// held for a whole tick, a late tick waits for the running one
	mu     sync.Mutex
	states map[string]*entryState

	env        string
	lister     Lister
	dispatcher dispatch.Dispatcher
	workers    workerpool.WorkerPool
	options    *options
	logger     *zap.Logger
}

// New returns a scheduler dispatching through workers, or inline when
// workers is nil.
func New(env string, lister Lister, dispatcher dispatch.Dispatcher, workers workerpool.WorkerPool,
	logger *zap.Logger, funcOptions ...FuncOption) *Scheduler {
	op := &options{
		interval:        time.Minute,
		dispatchTimeout: 10 * time.Second,
		leader:          func() bool { return true },
		now:             time.Now,
	}
	for _, f := range funcOptions {
		f(op)
	}
	return &Scheduler{
		states:     make(map[string]*entryState),
		env:        env,
		lister:     lister,
		dispatcher: dispatcher,
		workers:    workers,
		options:    op,
		logger:     logger,
	}
}

// Run ticks until exit is closed. After the first tick every tick lands on
// a multiple of the interval, so minute ticks start each wall clock minute.
func (s *Scheduler) Run(exit chan struct{}) {
	s.logger.Info("[Tick] start", zap.String("env", s.env), zap.Duration("interval", s.options.interval))
	now := s.options.now()
	s.Tick(context.Background(), now)
	timer := time.NewTimer(untilNext(s.options.now(), s.options.interval))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.Tick(context.Background(), s.options.now())
			timer.Reset(untilNext(s.options.now(), s.options.interval))
		case <-exit:
			s.logger.Info("[Tick] exit")
			return
		}
	}
}

// untilNext returns the wait from now to the next multiple of interval.
func untilNext(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return time.Minute
	}
	return now.Truncate(interval).Add(interval).Sub(now)
}

// Tick evaluates the entries visible in the scheduler's environment at now
// and returns the names of the entries it fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.options.leader() {
		return nil
	}

	entries := s.lister.List(s.env)
	seen := make(map[string]struct{}, len(entries))
	var fired []string
	for _, e := range entries {
		seen[e.Name] = struct{}{}
		st, ok := s.states[e.Name]
		if !ok {
			st = &entryState{}
			s.states[e.Name] = st
		}
		if st.state == Dispatched {
			st.state = Idle
		}
		if e.Spec() == nil || !e.Spec().IsDueAt(now, st.lastFired) {
			continue
		}

		st.state = Due
		s.fire(ctx, e, now)
		st.lastFired = now
		st.state = Dispatched
		fired = append(fired, e.Name)
	}

	// entries gone from the registry lose their state
	for name := range s.states {
		if _, ok := seen[name]; !ok {
			delete(s.states, name)
		}
	}
	return fired
}

// State returns the state and last fire time of an entry.
func (s *Scheduler) State(name string) (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return Idle, time.Time{}
	}
	return st.state, st.lastFired
}

func (s *Scheduler) fire(ctx context.Context, e registry.Entry, now time.Time) {
	req := dispatch.ForEntry(e)
	req.ScheduledAt = now
	task := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.dispatchTimeout)
		defer cancel()
		receipt, err := s.dispatcher.Dispatch(ctx, req)
		if err != nil {
			s.logger.Error("[Tick] dispatch failed", zap.String("schedule", e.Name), zap.String("class", e.Class), zap.Error(err))
			return
		}
		s.logger.Info("[Tick] schedule fired",
			zap.String("schedule", e.Name), zap.String("queue", receipt.Queue), zap.String("id", receipt.Id))
	}
	if s.workers == nil {
		task()
		return
	}
	s.workers.ScheduleAlways(task)
}
