package tick

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dsched/cadence"
	"dsched/dispatch/dispatchtest"
	"dsched/job"
	"dsched/registry"
	"dsched/workerpool"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, entries ...registry.Entry) *registry.Registry {
	r := registry.New(zap.NewNop(), registry.WithClock(func() time.Time { return base }))
	require.Nil(t, r.Load(context.Background(), entries))
	return r
}

func TestTickFiresOncePerMinute(t *testing.T) {
	r := newRegistry(t, registry.Entry{Name: "every_minute", Cadence: cadence.Raw{Cron: "* * * * *"}, Queue: "q", Class: "A"})
	rec := &dispatchtest.Recorder{}
	s := New("production", r, rec, nil, zap.NewExample())

	require.Equal(t, []string{"every_minute"}, s.Tick(context.Background(), base.Add(5*time.Second)))
	state, last := s.State("every_minute")
	require.Equal(t, Dispatched, state)
	require.Equal(t, base.Add(5*time.Second), last)

	// a second tick inside the same minute does not fire again
	require.Len(t, s.Tick(context.Background(), base.Add(40*time.Second)), 0)
	state, _ = s.State("every_minute")
	require.Equal(t, Idle, state)

	require.Len(t, s.Tick(context.Background(), base.Add(65*time.Second)), 1)
	require.Len(t, rec.Requests(), 2)
	require.Equal(t, "every_minute", rec.Requests()[0].Schedule)
}

func TestTickRespectsEnvironment(t *testing.T) {
	r := newRegistry(t,
		registry.Entry{Name: "prod", Cadence: cadence.Raw{Cron: "* * * * *"}, Queue: "q", Class: "P", Environments: []string{"production"}},
		registry.Entry{Name: "fancy", Cadence: cadence.Raw{Cron: "* * * * *"}, Queue: "q", Class: "F", Environments: []string{"fancy"}},
		registry.Entry{Name: "all", Cadence: cadence.Raw{Cron: "* * * * *"}, Queue: "q", Class: "All"},
	)
	rec := &dispatchtest.Recorder{}
	s := New("fancy", r, rec, nil, zap.NewNop())
	require.Equal(t, []string{"fancy", "all"}, s.Tick(context.Background(), base))
}

func TestTickIsolatesDispatchFailures(t *testing.T) {
	r := newRegistry(t,
		registry.Entry{Name: "broken", Cadence: cadence.Raw{Every: "1m"}, Queue: "q", Class: "Broken"},
		registry.Entry{Name: "fine", Cadence: cadence.Raw{Every: "1m"}, Queue: "q", Class: "Fine"},
	)
	rec := &dispatchtest.Recorder{Fail: map[string]error{"Broken": errors.New("down")}}
	s := New("", r, rec, nil, zap.NewExample())

	require.Equal(t, []string{"broken", "fine"}, s.Tick(context.Background(), base))
	require.Equal(t, []string{"Fine"}, rec.Classes())
}

func TestTickPicksUpReloads(t *testing.T) {
	r := newRegistry(t, registry.Entry{Name: "a", Cadence: cadence.Raw{Every: "1m"}, Queue: "q", Class: "A"})
	rec := &dispatchtest.Recorder{}
	s := New("", r, rec, nil, zap.NewNop())
	s.Tick(context.Background(), base)

	require.Nil(t, r.Load(context.Background(), []registry.Entry{
		{Name: "b", Cadence: cadence.Raw{Every: "1m"}, Queue: "q", Class: "B"},
	}))
	require.Equal(t, []string{"b"}, s.Tick(context.Background(), base.Add(time.Minute)))
	state, last := s.State("a")
	require.Equal(t, Idle, state)
	require.True(t, last.IsZero())
}

func TestTickOffsetsGateFirstFire(t *testing.T) {
	r := newRegistry(t, registry.Entry{
		Name:    "staggered",
		Cadence: cadence.Raw{Every: "1m", Offsets: []string{"1h"}},
		Queue:   "q",
		Class:   "S",
		Args:    job.Map(map[string]any{"b": "blah"}),
	})
	rec := &dispatchtest.Recorder{}
	s := New("", r, rec, nil, zap.NewNop())

	require.Len(t, s.Tick(context.Background(), base.Add(30*time.Minute)), 0)
	require.Len(t, s.Tick(context.Background(), base.Add(time.Hour)), 1)
	require.Len(t, s.Tick(context.Background(), base.Add(time.Hour+30*time.Second)), 0)
	require.Len(t, s.Tick(context.Background(), base.Add(time.Hour+time.Minute)), 1)
}

func TestTickOnlyWhileLeader(t *testing.T) {
	r := newRegistry(t, registry.Entry{Name: "a", Cadence: cadence.Raw{Every: "1m"}, Queue: "q", Class: "A"})
	rec := &dispatchtest.Recorder{}
	var leader atomic.Bool
	s := New("", r, rec, nil, zap.NewNop(), WithLeader(leader.Load))

	require.Len(t, s.Tick(context.Background(), base), 0)
	leader.Store(true)
	require.Len(t, s.Tick(context.Background(), base), 1)
}

func TestRunDispatchesThroughPool(t *testing.T) {
	r := newRegistry(t, registry.Entry{Name: "a", Cadence: cadence.Raw{Every: "1s"}, Queue: "q", Class: "A"})
	rec := &dispatchtest.Recorder{}
	pool := workerpool.New(2, zap.NewNop())
	s := New("", r, rec, pool, zap.NewNop(), WithInterval(20*time.Millisecond))

	exit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(exit)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(rec.Requests()) >= 1 }, time.Second, 10*time.Millisecond)
	close(exit)
	<-done
	pool.Close()
}

func TestUntilNextAlignsToInterval(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 30, 59, 800*int(time.Millisecond), time.UTC)
	require.Equal(t, 200*time.Millisecond, untilNext(at, time.Minute))
	require.Equal(t, time.Minute, untilNext(at.Truncate(time.Minute), time.Minute))
	require.Equal(t, 30*time.Second, untilNext(time.Date(2024, 1, 1, 12, 30, 30, 0, time.UTC), time.Minute))
	require.Equal(t, 200*time.Millisecond, untilNext(at, time.Second))
}
