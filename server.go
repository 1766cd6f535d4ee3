package dsched

import (
	"context"
	"fmt"
	"time"

	"dsched/dispatch"
	"dsched/job"
	"dsched/manager"
	"dsched/registry"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// managerServer serves the management API of a Scheduler.
type managerServer struct {
	manager.UnimplementedManagerServer
	s *Scheduler
}

func decode(in *structpb.Struct, v any) error {
	if err := manager.Decode(in, v); err != nil {
		return manager.ToStatus(fmt.Errorf("%w: %v", manager.ErrInvalidRequest, err))
	}
	return nil
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	out, err := manager.Encode(v)
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	return out, nil
}

func empty(err error) (*emptypb.Empty, error) {
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func required(field, value string) error {
	if value == "" {
		return manager.ToStatus(fmt.Errorf("%w: %s is required", manager.ErrInvalidRequest, field))
	}
	return nil
}

func delayedJobs(jobs []job.Delayed) []manager.DelayedJob {
	out := make([]manager.DelayedJob, 0, len(jobs))
	for _, d := range jobs {
		dj := manager.DelayedJob{Queue: d.Queue, Class: d.Class, Args: d.Args}
		if !d.DueAt.IsZero() {
			dj.At = d.DueAt.Unix()
		}
		out = append(out, dj)
	}
	return out
}

func (m *managerServer) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	count, err := m.s.DelayedCount(ctx)
	if err != nil {
		m.s.logger.Warn("[Manager] count delayed jobs", zap.Error(err))
	}
	st := manager.StatusReply{
		Env:      m.s.Env(),
		Dynamic:  m.s.IsDynamic(),
		Leader:   m.s.Leader(),
		IsLeader: m.s.IsLeader(),
		Delayed:  count,
	}
	stats := m.s.WorkerStats()
	st.PoolSize, st.Workers, st.Overflow = stats.Size, stats.Workers, stats.Overflow
	if at := m.s.LoadedAt(); !at.IsZero() {
		st.LoadedAt = at.Unix()
	}
	return reply(st, nil)
}

func (m *managerServer) ListSchedules(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.ListSchedulesRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.All {
		return reply(manager.ScheduleList{Schedules: m.s.AllSchedules()}, nil)
	}
	env := req.Env
	if env == "" {
		env = m.s.Env()
	}
	return reply(manager.ScheduleList{Schedules: m.s.ListSchedule(env)}, nil)
}

func (m *managerServer) FetchSchedule(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.NameRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	return reply(m.s.FetchSchedule(req.Name))
}

func (m *managerServer) SetSchedule(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var entry registry.Entry
	if err := decode(in, &entry); err != nil {
		return nil, err
	}
	if err := required("name", entry.Name); err != nil {
		return nil, err
	}
	return empty(m.s.SetSchedule(ctx, entry))
}

func (m *managerServer) RemoveSchedule(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req manager.NameRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	return empty(m.s.RemoveSchedule(ctx, req.Name))
}

func (m *managerServer) SetDynamic(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req manager.SetDynamicRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	m.s.SetDynamic(req.Dynamic)
	return &emptypb.Empty{}, nil
}

func (m *managerServer) Requeue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.RequeueRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := required("name", req.Name); err != nil {
		return nil, err
	}

	var (
		receipt dispatch.Receipt
		err     error
	)
	if req.Params != nil {
		receipt, err = m.s.RequeueWithParams(ctx, req.Name, req.Params)
	} else {
		receipt, err = m.s.Requeue(ctx, req.Name)
	}
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	return reply(manager.Receipt{
		Id:         receipt.Id,
		Queue:      receipt.Queue,
		Class:      receipt.Class,
		Args:       receipt.Args,
		EnqueuedAt: receipt.EnqueuedAt.Unix(),
	}, nil)
}

func (m *managerServer) PeekDelayed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := manager.PeekRequest{Count: 10}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	jobs, err := m.s.PeekDelayed(ctx, req.Start, req.Count)
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	total, err := m.s.DelayedCount(ctx)
	return reply(manager.DelayedList{Total: total, Jobs: delayedJobs(jobs)}, err)
}

func (m *managerServer) SearchDelayed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	jobs, err := m.s.SearchDelayed(ctx, req.Term)
	if err != nil {
		return nil, manager.ToStatus(err)
	}
	return reply(manager.DelayedList{Total: int64(len(jobs)), Jobs: delayedJobs(jobs)}, nil)
}

func (m *managerServer) EnqueueAt(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req manager.JobRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := required("class", req.Class); err != nil {
		return nil, err
	}
	return empty(m.s.EnqueueAt(ctx, time.Unix(req.At, 0), req.Queue, req.Class, req.Args))
}

func (m *managerServer) CancelDelayed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.JobRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	removed, err := m.s.CancelDelayed(ctx, time.Unix(req.At, 0), req.Class, req.Args)
	return reply(manager.CancelReply{Removed: removed}, err)
}

func (m *managerServer) ForceRunNow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req manager.ForceRunRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	n, err := m.s.ForceRunNow(ctx, time.Unix(req.At, 0))
	return reply(manager.ForceRunReply{Dispatched: n}, err)
}

func (m *managerServer) ClearDelayed(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return empty(m.s.ClearDelayed(ctx))
}
