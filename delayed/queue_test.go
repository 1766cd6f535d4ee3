package delayed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dsched/dispatch"
	"dsched/dispatch/dispatchtest"
	"dsched/job"
	"dsched/mq"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Unix(1700000000, 0)

type fixture struct {
	queue    *Queue
	recorder *dispatchtest.Recorder
	work     *mq.RedisQueue
	rdb      redis.UniversalClient
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	recorder := &dispatchtest.Recorder{}
	work := mq.NewRedisQueue(rdb)
	return &fixture{
		queue:    New(rdb, recorder, zap.NewExample(), WithReader(work)),
		recorder: recorder,
		work:     work,
		rdb:      rdb,
		mr:       mr,
	}
}

func classes(jobs []job.Delayed) []string {
	out := make([]string, 0, len(jobs))
	for _, d := range jobs {
		out = append(out, d.Class)
	}
	return out
}

func TestEnqueueAtThenPeekInDueOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(3600*time.Second), "SomeIvarJob", job.List("foo", "bar")))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(30*time.Second), "SomeFancyJob", job.List()))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(36000*time.Second), "FakePHPClass", job.List("1", "10", "100")))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(30*time.Second), "SecondInBucket", job.List()))

	jobs, err := f.queue.Peek(ctx, 0, 10)
	require.Nil(t, err)
	require.Equal(t, []string{"SomeFancyJob", "SecondInBucket", "SomeIvarJob", "FakePHPClass"}, classes(jobs))
	require.Equal(t, now.Add(3600*time.Second), jobs[2].DueAt)
	require.Equal(t, `["foo","bar"]`, jobs[2].Args.Encode())

	// offset and limit span buckets
	jobs, err = f.queue.Peek(ctx, 1, 2)
	require.Nil(t, err)
	require.Equal(t, []string{"SecondInBucket", "SomeIvarJob"}, classes(jobs))

	jobs, err = f.queue.Peek(ctx, 10, 5)
	require.Nil(t, err)
	require.Len(t, jobs, 0)

	count, err := f.queue.Count(ctx)
	require.Nil(t, err)
	require.Equal(t, int64(4), count)
	tsCount, err := f.queue.TimestampCount(ctx)
	require.Nil(t, err)
	require.Equal(t, int64(3), tsCount)

	timestamps, err := f.queue.Timestamps(ctx, 0, 2)
	require.Nil(t, err)
	require.Equal(t, []time.Time{now.Add(30 * time.Second), now.Add(3600 * time.Second)}, timestamps)

	// persisted layout
	members, err := f.mr.ZMembers("{dsched}:delayed_queue_schedule")
	require.Nil(t, err)
	require.Len(t, members, 3)
	values, err := f.mr.List("{dsched}:delayed:1700003600")
	require.Nil(t, err)
	require.Equal(t, []string{`{"class":"SomeIvarJob","args":["foo","bar"]}`}, values)
}

func TestCancelExactMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := now.Add(10 * time.Second)
	require.Nil(t, f.queue.EnqueueAt(ctx, first, "SomeIvarJob", job.List("arg")))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(100*time.Second), "SomeQuickJob", job.List()))

	ok, err := f.queue.Cancel(ctx, first, "SomeIvarJob", job.List("arg"))
	require.Nil(t, err)
	require.True(t, ok)

	jobs, err := f.queue.Peek(ctx, 0, 10)
	require.Nil(t, err)
	require.Equal(t, []string{"SomeQuickJob"}, classes(jobs))

	ok, err = f.queue.Cancel(ctx, first, "SomeIvarJob", job.List("arg"))
	require.Nil(t, err)
	require.False(t, ok)

	// bucket emptied by cancel is dropped from the index
	tsCount, err := f.queue.TimestampCount(ctx)
	require.Nil(t, err)
	require.Equal(t, int64(1), tsCount)
}

func TestCancelMismatchedArgsIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := now.Add(10 * time.Second)
	require.Nil(t, f.queue.EnqueueAt(ctx, first, "SomeIvarJob", job.List("arg")))
	before, err := f.queue.Peek(ctx, 0, 10)
	require.Nil(t, err)

	for _, args := range []job.Args{{}, job.List("other"), job.Map(map[string]any{"arg": true})} {
		ok, err := f.queue.Cancel(ctx, first, "SomeIvarJob", args)
		require.Nil(t, err)
		require.False(t, ok)
	}
	ok, err := f.queue.Cancel(ctx, first, "OtherJob", job.List("arg"))
	require.Nil(t, err)
	require.False(t, ok)
	ok, err = f.queue.Cancel(ctx, first.Add(time.Second), "SomeIvarJob", job.List("arg"))
	require.Nil(t, err)
	require.False(t, ok)

	after, err := f.queue.Peek(ctx, 0, 10)
	require.Nil(t, err)
	require.Equal(t, before, after)
}

func TestCancelOmittedArgsMatchesJobWithoutArgs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := now.Add(100 * time.Second)
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "SomeQuickJob", job.Args{}))
	ok, err := f.queue.Cancel(ctx, due, "SomeQuickJob", job.Args{})
	require.Nil(t, err)
	require.True(t, ok)
}

func TestCancelRemovesOneOfDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := now.Add(10 * time.Second)
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "Dup", job.List(1)))
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "Dup", job.List(1)))

	ok, err := f.queue.Cancel(ctx, due, "Dup", job.List(1))
	require.Nil(t, err)
	require.True(t, ok)
	jobs, err := f.queue.JobsAt(ctx, due)
	require.Nil(t, err)
	require.Len(t, jobs, 1)
}

func TestSearchDelayedAndQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(60*time.Second), "SomeIvarJob", job.List("string arg")))
	payload := job.NewPayload("quick", "SomeQuickJob", job.List())
	raw, err := payload.Encode()
	require.Nil(t, err)
	require.Nil(t, f.work.Product(ctx, "quick", raw))

	found, err := f.queue.Search(ctx, "ivar")
	require.Nil(t, err)
	require.Equal(t, []string{"SomeIvarJob"}, classes(found))
	require.Equal(t, `["string arg"]`, found[0].Args.Encode())

	found, err = f.queue.Search(ctx, "QUICK")
	require.Nil(t, err)
	require.Equal(t, []string{"SomeQuickJob"}, classes(found))
	require.True(t, found[0].DueAt.IsZero())
	require.Equal(t, "quick", found[0].Queue)

	found, err = f.queue.Search(ctx, "some")
	require.Nil(t, err)
	require.Equal(t, []string{"SomeIvarJob", "SomeQuickJob"}, classes(found))

	found, err = f.queue.Search(ctx, `"><script>alert(document.cookie);</script>"`)
	require.Nil(t, err)
	require.Len(t, found, 0)
}

func TestRawValuesReturnedUnmodified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	markup := `<script>alert(document.cookie);</script>`
	require.Nil(t, f.queue.EnqueueAt(ctx, now, "SomeIvarJob", job.List(markup)))
	found, err := f.queue.Search(ctx, "ivar")
	require.Nil(t, err)
	require.Len(t, found, 1)
	require.Equal(t, []any{markup}, found[0].Args.Positional())
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(time.Duration(i)*time.Minute), "Job", job.List(i)))
	}
	require.Nil(t, f.queue.Clear(ctx))

	for _, limit := range []int64{1, 10, 1000} {
		jobs, err := f.queue.Peek(ctx, 0, limit)
		require.Nil(t, err)
		require.Len(t, jobs, 0)
	}
	require.Len(t, f.mr.Keys(), 0)
}

func TestForceRunNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := now.Add(time.Hour)
	require.Nil(t, f.queue.EnqueueAtWithQueue(ctx, due, "high", "A", job.List(1)))
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "B", job.List(2)))
	require.Nil(t, f.queue.EnqueueAt(ctx, due.Add(time.Second), "C", job.List(3)))

	n, err := f.queue.ForceRunNow(ctx, due)
	require.Nil(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"A", "B"}, f.recorder.Classes())
	requests := f.recorder.Requests()
	require.Equal(t, "high", requests[0].Queue)
	require.Equal(t, due, requests[0].ScheduledAt)

	jobs, err := f.queue.Peek(ctx, 0, 10)
	require.Nil(t, err)
	require.Equal(t, []string{"C"}, classes(jobs))

	n, err = f.queue.ForceRunNow(ctx, time.Unix(0, 0))
	require.Nil(t, err)
	require.Equal(t, 0, n)
}

func TestForceRunNowPutsBackFailedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recorder.Fail = map[string]error{"Broken": errors.New("down")}

	due := now.Add(time.Hour)
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "Broken", job.List()))
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "Fine", job.List()))

	n, err := f.queue.ForceRunNow(ctx, due)
	require.Equal(t, 1, n)
	var de *dispatch.Error
	require.True(t, errors.As(err, &de))

	jobs, err := f.queue.JobsAt(ctx, due)
	require.Nil(t, err)
	require.Equal(t, []string{"Broken"}, classes(jobs))
}

func TestScheduledAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(time.Hour), "SomeIvarJob", job.List("foo", "bar")))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(2*time.Hour), "SomeIvarJob", job.List("foo", "bar")))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(3*time.Hour), "SomeIvarJob", job.List("baz")))

	at, err := f.queue.ScheduledAt(ctx, "SomeIvarJob", job.List("foo", "bar"))
	require.Nil(t, err)
	require.Equal(t, []time.Time{now.Add(time.Hour), now.Add(2 * time.Hour)}, at)
}

func TestClaimDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(-time.Minute), "Late", job.List()))
	require.Nil(t, f.queue.EnqueueAt(ctx, now, "OnTime", job.List()))
	require.Nil(t, f.queue.EnqueueAt(ctx, now, "OnTime2", job.List()))
	require.Nil(t, f.queue.EnqueueAt(ctx, now.Add(time.Second), "Future", job.List()))

	jobs, err := f.queue.ClaimDue(ctx, now, 2)
	require.Nil(t, err)
	require.Equal(t, []string{"Late", "OnTime"}, classes(jobs))

	jobs, err = f.queue.ClaimDue(ctx, now, 10)
	require.Nil(t, err)
	require.Equal(t, []string{"OnTime2"}, classes(jobs))

	next, ok, err := f.queue.Next(ctx)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Second), next)
}

func TestForceRunNowPutBackKeepsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recorder.Fail = map[string]error{"A": errors.New("down"), "C": errors.New("down")}

	due := now.Add(time.Hour)
	for _, class := range []string{"A", "B", "C"} {
		require.Nil(t, f.queue.EnqueueAt(ctx, due, class, job.List()))
	}
	n, err := f.queue.ForceRunNow(ctx, due)
	require.NotNil(t, err)
	require.Equal(t, 1, n)

	jobs, err := f.queue.JobsAt(ctx, due)
	require.Nil(t, err)
	require.Equal(t, []string{"A", "C"}, classes(jobs))
}

func TestForceRunNowDropsUnknownClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.dispatcher = dispatch.New(f.work, dispatch.NewHandlers(), zap.NewNop())

	due := now.Add(time.Hour)
	require.Nil(t, f.queue.EnqueueAt(ctx, due, "NoSuchClass", job.List()))
	n, err := f.queue.ForceRunNow(ctx, due)
	require.ErrorIs(t, err, dispatch.ErrUnknownClass)
	require.Equal(t, 0, n)

	count, err := f.queue.Count(ctx)
	require.Nil(t, err)
	require.Equal(t, int64(0), count)
}

func TestConcurrentCancelHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := now.Add(time.Hour)

	for round := 0; round < 20; round++ {
		require.Nil(t, f.queue.EnqueueAt(ctx, due, "SomeIvarJob", job.List("foo", round)))

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				removed, err := f.queue.Cancel(ctx, due, "SomeIvarJob", job.List("foo", round))
				require.Nil(t, err)
				if removed {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), winners.Load(), "round %d", round)
	}
	count, err := f.queue.Count(ctx)
	require.Nil(t, err)
	require.Equal(t, int64(0), count)
}

func TestClaimDueAndCancelRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		require.Nil(t, f.queue.EnqueueAt(ctx, now, "SomeIvarJob", job.List(round)))

		var (
			wg       sync.WaitGroup
			claimed  []job.Delayed
			canceled bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			jobs, err := f.queue.ClaimDue(ctx, now, 10)
			require.Nil(t, err)
			claimed = jobs
		}()
		go func() {
			defer wg.Done()
			removed, err := f.queue.Cancel(ctx, now, "SomeIvarJob", job.List(round))
			require.Nil(t, err)
			canceled = removed
		}()
		wg.Wait()

		if canceled {
			require.Len(t, claimed, 0, "round %d", round)
		} else {
			require.Len(t, claimed, 1, "round %d", round)
		}
		_, ok, err := f.queue.Next(ctx)
		require.Nil(t, err)
		require.False(t, ok)
	}
}
