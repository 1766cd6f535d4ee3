package requeue

import (
	"context"
	"fmt"
	"strings"

	"dsched/dispatch"
	"dsched/registry"

	"go.uber.org/zap"
)

// ParameterRequiredError is returned when an entry needs operator input
// before it can be triggered by hand.
type ParameterRequiredError struct {
	Name       string
	Parameters []registry.Parameter
}

func (e *ParameterRequiredError) Error() string {
	names := make([]string, 0, len(e.Parameters))
	for _, p := range e.Parameters {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("schedule %q requires parameters: %s", e.Name, strings.Join(names, ", "))
}

// Fetcher is the part of the registry requeue reads.
type Fetcher interface {
	Fetch(name string) (registry.Entry, error)
}

// Service triggers schedule entries on demand.
type Service struct {
	registry   Fetcher
	dispatcher dispatch.Dispatcher
	logger     *zap.Logger
}

func New(registry Fetcher, dispatcher dispatch.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Requeue dispatches the entry as configured. Entries that declare
// parameters yield a *ParameterRequiredError and dispatch nothing.
func (s *Service) Requeue(ctx context.Context, name string) (dispatch.Receipt, error) {
	e, err := s.registry.Fetch(name)
	if err != nil {
		return dispatch.Receipt{}, err
	}
	if e.RequiresParameters() {
		return dispatch.Receipt{}, &ParameterRequiredError{Name: e.Name, Parameters: e.Parameters}
	}
	return s.dispatch(ctx, e)
}

// RequeueWithParams overlays the declared parameters onto the entry args and
// dispatches. A parameter takes the supplied value, else its default, else
// the empty string. Values for undeclared names are ignored.
func (s *Service) RequeueWithParams(ctx context.Context, name string, values map[string]any) (dispatch.Receipt, error) {
	e, err := s.registry.Fetch(name)
	if err != nil {
		return dispatch.Receipt{}, err
	}
	if len(e.Parameters) > 0 {
		overlay := make(map[string]any, len(e.Parameters))
		for _, p := range e.Parameters {
			v, ok := values[p.Name]
			switch {
			case ok:
			case p.Default != nil:
				v = p.Default
			default:
				v = ""
			}
			overlay[p.Name] = v
		}
		e.Args = e.Args.Merge(overlay)
	}
	return s.dispatch(ctx, e)
}

func (s *Service) dispatch(ctx context.Context, e registry.Entry) (dispatch.Receipt, error) {
	receipt, err := s.dispatcher.Dispatch(ctx, dispatch.ForEntry(e))
	if err != nil {
		s.logger.Error("[Requeue] dispatch failed", zap.String("schedule", e.Name), zap.Error(err))
		return dispatch.Receipt{}, err
	}
	s.logger.Info("[Requeue] schedule requeued",
		zap.String("schedule", e.Name), zap.String("queue", receipt.Queue), zap.String("args", receipt.Args.Encode()))
	return receipt, nil
}
