package requeue

import (
	"context"
	"errors"
	"testing"

	"dsched/cadence"
	"dsched/dispatch/dispatchtest"
	"dsched/job"
	"dsched/registry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (*Service, *dispatchtest.Recorder) {
	r := registry.New(zap.NewNop())
	require.Nil(t, r.Load(context.Background(), []registry.Entry{
		{
			Name:         "job_without_params",
			Cadence:      cadence.Raw{Cron: "* * * * *"},
			Queue:        "default",
			Class:        "JobWithoutParams",
			Args:         job.Map(map[string]any{"host": "localhost"}),
			Environments: []string{"production"},
		},
		{
			Name:    "job_with_params",
			Cadence: cadence.Raw{Every: "1m"},
			Queue:   "default",
			Class:   "JobWithParams",
			Args:    job.Map(map[string]any{"host": "localhost"}),
			Parameters: []registry.Parameter{
				{Name: "log_level", Description: "The level of logging", Default: "warn"},
			},
		},
		{
			Name:    "positional_with_params",
			Cadence: cadence.Raw{Every: "1h"},
			Queue:   "default",
			Class:   "Positional",
			Args:    job.List("/tmp"),
			Parameters: []registry.Parameter{
				{Name: "dry_run"},
				{Name: "limit", Default: 10},
			},
		},
	}))
	rec := &dispatchtest.Recorder{}
	return New(r, rec, zap.NewExample()), rec
}

func TestRequeueWithoutParams(t *testing.T) {
	s, rec := newService(t)
	receipt, err := s.Requeue(context.Background(), "job_without_params")
	require.Nil(t, err)
	require.Equal(t, "JobWithoutParams", receipt.Class)

	requests := rec.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, "job_without_params", requests[0].Schedule)
	require.Equal(t, `{"host":"localhost"}`, requests[0].Args.Encode())
}

func TestRequeueRequiresParameters(t *testing.T) {
	s, rec := newService(t)
	_, err := s.Requeue(context.Background(), "job_with_params")

	var pe *ParameterRequiredError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "job_with_params", pe.Name)
	require.Equal(t, "log_level", pe.Parameters[0].Name)
	require.Equal(t, "warn", pe.Parameters[0].Default)
	require.Len(t, rec.Requests(), 0)
}

func TestRequeueNotFound(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Requeue(context.Background(), "missing")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = s.RequeueWithParams(context.Background(), "missing", nil)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRequeueWithParamsOverridesDefault(t *testing.T) {
	s, rec := newService(t)
	_, err := s.RequeueWithParams(context.Background(), "job_with_params", map[string]any{"log_level": "error"})
	require.Nil(t, err)
	require.Equal(t, `{"host":"localhost","log_level":"error"}`, rec.Requests()[0].Args.Encode())
}

func TestRequeueWithParamsFallsBackToDefault(t *testing.T) {
	s, rec := newService(t)
	_, err := s.RequeueWithParams(context.Background(), "job_with_params", map[string]any{"ignored": 1})
	require.Nil(t, err)
	require.Equal(t, `{"host":"localhost","log_level":"warn"}`, rec.Requests()[0].Args.Encode())
}

func TestRequeueWithParamsPositionalGetsNamedSlot(t *testing.T) {
	s, rec := newService(t)
	_, err := s.RequeueWithParams(context.Background(), "positional_with_params", map[string]any{})
	require.Nil(t, err)
	require.Equal(t, `["/tmp",{"dry_run":"","limit":10}]`, rec.Requests()[0].Args.Encode())
}
