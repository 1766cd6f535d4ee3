package dsched

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dsched/delayed"
	"dsched/dispatch"
	"dsched/job"
	"dsched/manager"
	"dsched/mq"
	"dsched/node"
	"dsched/registry"
	"dsched/requeue"
	"dsched/store"
	"dsched/tick"
	"dsched/workerpool"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type options struct {
	env       string
	dynamic   bool
	namespace string
	location  *time.Location
	store     store.Store
	reader    mq.Reader

	workers         int
	tickInterval    time.Duration
	dispatchTimeout time.Duration
	pollInterval    time.Duration
	pollBatch       int

	dialOptions []grpc.DialOption
}

type FuncOption func(o *options)

// WithEnv sets the environment schedules are filtered by.
func WithEnv(env string) FuncOption {
	return func(o *options) {
		o.env = env
	}
}

// WithDynamic sets the initial dynamic mode.
func WithDynamic(dynamic bool) FuncOption {
	return func(o *options) {
		o.dynamic = dynamic
	}
}

// WithNamespace prefixes the redis keys of the delayed queue.
func WithNamespace(namespace string) FuncOption {
	return func(o *options) {
		o.namespace = namespace
	}
}

func WithLocation(loc *time.Location) FuncOption {
	return func(o *options) {
		o.location = loc
	}
}

// WithStore persists schedule definitions.
func WithStore(s store.Store) FuncOption {
	return func(o *options) {
		o.store = s
	}
}

// WithQueueReader lets delayed job search look into the work queues.
func WithQueueReader(reader mq.Reader) FuncOption {
	return func(o *options) {
		o.reader = reader
	}
}

// WithWorkers sets the size of the dispatch worker pool.
func WithWorkers(n int) FuncOption {
	return func(o *options) {
		o.workers = n
	}
}

func WithTickInterval(d time.Duration) FuncOption {
	return func(o *options) {
		o.tickInterval = d
	}
}

func WithDispatchTimeout(d time.Duration) FuncOption {
	return func(o *options) {
		o.dispatchTimeout = d
	}
}

func WithPollInterval(d time.Duration) FuncOption {
	return func(o *options) {
		o.pollInterval = d
	}
}

func WithPollBatch(n int) FuncOption {
	return func(o *options) {
		o.pollBatch = n
	}
}

// WithDialOptions are used by followers to reach the leader.
func WithDialOptions(opts ...grpc.DialOption) FuncOption {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// Scheduler fires recurring schedules and due delayed jobs onto the work
// queues. Every node serves the management API; only the leader fires.
type Scheduler struct {
	// guards leader and client
	sync.RWMutex

	exit chan struct{}
	wg   sync.WaitGroup

	options *options
	logger  *zap.Logger
	dynamic atomic.Bool

	node       node.Node
	registry   *registry.Registry
	dispatcher dispatch.Dispatcher
	delayed    *delayed.Queue
	requeue    *requeue.Service
	tick       *tick.Scheduler
	poller     *delayed.Poller
	workers    *workerpool.Pool

	// leader address and, on followers, the connection to it
	leader string
	client *grpc.ClientConn
}

// New starts a scheduler on node. It runs until exit is closed.
func New(exit chan struct{}, logger *zap.Logger, rdb redis.UniversalClient, n node.Node, dispatcher dispatch.Dispatcher,
	funcOptions ...FuncOption) *Scheduler {
	op := &options{
		namespace:       delayed.DefaultNamespace,
		location:        time.UTC,
		workers:         16,
		tickInterval:    time.Minute,
		dispatchTimeout: 10 * time.Second,
		pollInterval:    5 * time.Second,
		pollBatch:       100,
		dialOptions:     []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, f := range funcOptions {
		f(op)
	}

	s := &Scheduler{
		exit:       exit,
		options:    op,
		logger:     logger,
		node:       n,
		dispatcher: dispatcher,
	}
	s.dynamic.Store(op.dynamic)

	registryOptions := []registry.FuncOption{
		registry.WithDynamic(s.dynamic.Load),
		registry.WithLocation(op.location),
	}
	if op.store != nil {
		registryOptions = append(registryOptions, registry.WithStore(op.store))
	}
	s.registry = registry.New(logger, registryOptions...)

	delayedOptions := []delayed.FuncOption{delayed.WithNamespace(op.namespace)}
	if op.reader != nil {
		delayedOptions = append(delayedOptions, delayed.WithReader(op.reader))
	}
	s.delayed = delayed.New(rdb, dispatcher, logger, delayedOptions...)
	s.requeue = requeue.New(s.registry, dispatcher, logger)

	s.workers = workerpool.New(op.workers, logger, workerpool.WithName("dispatch"))
	s.tick = tick.New(op.env, s.registry, dispatcher, s.workers, logger,
		tick.WithInterval(op.tickInterval),
		tick.WithDispatchTimeout(op.dispatchTimeout),
		tick.WithLeader(n.IsLeader),
		tick.WithClock(func() time.Time { return time.Now().In(op.location) }))
	s.poller = delayed.NewPoller(s.delayed, s.workers, logger,
		delayed.WithPollInterval(op.pollInterval),
		delayed.WithBatch(op.pollBatch),
		delayed.WithLeader(n.IsLeader))

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.start()
	}()
	go func() {
		defer s.wg.Done()
		s.tick.Run(exit)
	}()
	go func() {
		defer s.wg.Done()
		s.poller.Run(exit)
	}()
	return s
}

// start follows leader changes.
func (s *Scheduler) start() {
	s.logger.Info("[Scheduler] start, waiting for leader change", zap.String("node", s.node.Address()))
	changes := s.node.WaitForLeaderChange()
	for {
		select {
		case leader, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.onLeaderChange(leader)
		case <-s.exit:
			s.release()
			s.logger.Info("[Scheduler] start exit")
			return
		}
	}
}

func (s *Scheduler) onLeaderChange(leader string) {
	s.release()
	s.Lock()
	s.leader = leader
	s.Unlock()

	if s.node.IsLeader() {
		s.logger.Info("[Scheduler] leading", zap.String("node", leader))
		// pick up changes made through the previous leader
		if s.IsDynamic() {
			if err := s.registry.LoadFromStore(context.Background()); err != nil {
				s.logger.Error("[Scheduler] restore schedules", zap.Error(err))
			}
		}
		return
	}

	client, err := grpc.Dial(leader, s.options.dialOptions...)
	if err != nil {
		s.logger.Error("[Scheduler] dial leader", zap.String("leader", leader), zap.Error(err))
		return
	}
	s.Lock()
	s.client = client
	s.Unlock()
	s.logger.Info("[Scheduler] following", zap.String("leader", leader))
}

func (s *Scheduler) release() {
	s.Lock()
	defer s.Unlock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

// leaderClient returns a client to the leader, nil on the leader itself.
func (s *Scheduler) leaderClient() manager.ManagerClient {
	if s.node.IsLeader() {
		return nil
	}
	s.RLock()
	defer s.RUnlock()
	if s.client == nil {
		return nil
	}
	return manager.NewManagerClient(s.client)
}

// Wait blocks until the scheduler stopped after exit was closed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.workers.Close()
}

// Serve answers management requests on lis until exit is closed.
func (s *Scheduler) Serve(lis net.Listener) error {
	server := grpc.NewServer()
	manager.RegisterManagerServer(server, &managerServer{s: s})
	go func() {
		<-s.exit
		server.GracefulStop()
	}()
	s.logger.Info("[Scheduler] serving management API", zap.String("addr", lis.Addr().String()))
	return server.Serve(lis)
}

func (s *Scheduler) Env() string { return s.options.env }

func (s *Scheduler) IsDynamic() bool { return s.dynamic.Load() }

// SetDynamic switches dynamic mode on or off for this node.
func (s *Scheduler) SetDynamic(dynamic bool) {
	s.dynamic.Store(dynamic)
	s.logger.Info("[Scheduler] dynamic mode", zap.Bool("dynamic", dynamic))
}

func (s *Scheduler) IsLeader() bool { return s.node.IsLeader() }

// WorkerStats reports the dispatch pool shared by the tick and the poller.
func (s *Scheduler) WorkerStats() workerpool.Stats { return s.workers.Stats() }

// Leader returns the address of the current leader.
func (s *Scheduler) Leader() string {
	s.RLock()
	defer s.RUnlock()
	return s.leader
}

// LoadSchedule replaces the schedule set. The previous set stays when
// entries are invalid.
func (s *Scheduler) LoadSchedule(ctx context.Context, entries []registry.Entry) error {
	return s.registry.Load(ctx, entries)
}

// ListSchedule returns the entries visible in env, in load order.
func (s *Scheduler) ListSchedule(env string) []registry.Entry {
	return s.registry.List(env)
}

// AllSchedules returns every entry regardless of environment.
func (s *Scheduler) AllSchedules() []registry.Entry {
	return s.registry.All()
}

func (s *Scheduler) FetchSchedule(name string) (registry.Entry, error) {
	return s.registry.Fetch(name)
}

// LoadedAt is when the current schedule set was loaded.
func (s *Scheduler) LoadedAt() time.Time {
	return s.registry.LoadedAt()
}

// RemoveSchedule deletes an entry. Followers forward the change to the
// leader and then mirror the store.
func (s *Scheduler) RemoveSchedule(ctx context.Context, name string) error {
	if !s.IsDynamic() {
		return registry.ErrNotDynamic
	}
	if client := s.leaderClient(); client != nil {
		if _, err := client.RemoveSchedule(ctx, manager.MustEncode(manager.NameRequest{Name: name})); err != nil {
			return err
		}
		return s.registry.Reload(ctx)
	}
	return s.registry.Remove(ctx, name)
}

// SetSchedule adds or replaces an entry, forwarded like RemoveSchedule.
func (s *Scheduler) SetSchedule(ctx context.Context, entry registry.Entry) error {
	if !s.IsDynamic() {
		return registry.ErrNotDynamic
	}
	if client := s.leaderClient(); client != nil {
		in, err := manager.Encode(entry)
		if err != nil {
			return err
		}
		if _, err := client.SetSchedule(ctx, in); err != nil {
			return err
		}
		return s.registry.Reload(ctx)
	}
	return s.registry.Set(ctx, entry)
}

// Requeue dispatches a schedule entry immediately.
func (s *Scheduler) Requeue(ctx context.Context, name string) (dispatch.Receipt, error) {
	return s.requeue.Requeue(ctx, name)
}

// RequeueWithParams dispatches an entry with its declared parameters
// filled from params.
func (s *Scheduler) RequeueWithParams(ctx context.Context, name string, params map[string]any) (dispatch.Receipt, error) {
	return s.requeue.RequeueWithParams(ctx, name, params)
}

// EnqueueAt stores a job until at. An empty queue uses the class's queue.
func (s *Scheduler) EnqueueAt(ctx context.Context, at time.Time, queue, class string, args job.Args) error {
	return s.delayed.EnqueueAtWithQueue(ctx, at, queue, class, args)
}

// PeekDelayed returns count delayed jobs in due order, skipping start.
func (s *Scheduler) PeekDelayed(ctx context.Context, start, count int64) ([]job.Delayed, error) {
	return s.delayed.Peek(ctx, start, count)
}

// DelayedCount is the number of jobs in the delayed queue.
func (s *Scheduler) DelayedCount(ctx context.Context) (int64, error) {
	return s.delayed.Count(ctx)
}

// SearchDelayed finds delayed and queued jobs by class name.
func (s *Scheduler) SearchDelayed(ctx context.Context, term string) ([]job.Delayed, error) {
	return s.delayed.Search(ctx, term)
}

// CancelDelayed removes one delayed job. It reports false when no job
// matched.
func (s *Scheduler) CancelDelayed(ctx context.Context, at time.Time, class string, args job.Args) (bool, error) {
	return s.delayed.Cancel(ctx, at, class, args)
}

func (s *Scheduler) ClearDelayed(ctx context.Context) error {
	return s.delayed.Clear(ctx)
}

// ForceRunNow dispatches every job due at the second of at and returns
// how many were dispatched.
func (s *Scheduler) ForceRunNow(ctx context.Context, at time.Time) (int, error) {
	return s.delayed.ForceRunNow(ctx, at)
}

// Delayed gives access to the read views of the delayed queue.
func (s *Scheduler) Delayed() *delayed.Queue {
	return s.delayed
}
