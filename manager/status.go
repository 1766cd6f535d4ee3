package manager

import (
	"context"
	"errors"

	"dsched/cadence"
	"dsched/dispatch"
	"dsched/registry"
	"dsched/requeue"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest marks requests missing required fields.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatus maps a scheduler error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		paramErr    *requeue.ParameterRequiredError
		configErr   *cadence.ConfigError
		dispatchErr *dispatch.Error
	)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, registry.ErrNotDynamic):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &paramErr):
		st := status.New(codes.FailedPrecondition, err.Error())
		detail, derr := Encode(ParametersRequired{Name: paramErr.Name, Parameters: paramErr.Parameters})
		if derr != nil {
			return st.Err()
		}
		if withDetails, derr := st.WithDetails(detail); derr == nil {
			st = withDetails
		}
		return st.Err()
	case errors.As(err, &configErr), errors.Is(err, ErrInvalidRequest), errors.Is(err, dispatch.ErrUnknownClass):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &dispatchErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RequiredParameters extracts the parameters a Requeue was refused for.
func RequiredParameters(err error) (ParametersRequired, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		return ParametersRequired{}, false
	}
	for _, detail := range st.Details() {
		s, ok := detail.(*structpb.Struct)
		if !ok {
			continue
		}
		var pr ParametersRequired
		if err := Decode(s, &pr); err == nil && pr.Name != "" {
			return pr, true
		}
	}
	return ParametersRequired{}, false
}
