// Package manager is the operator RPC surface of dsched. The service is
// described by hand; requests and replies travel as protobuf Struct values
// carrying the JSON form of the message types in messages.go.
package manager

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "dsched.Manager"

// ManagerServer is the server API for the Manager service.
// Implementations must embed UnimplementedManagerServer.
type ManagerServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)

	ListSchedules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FetchSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSchedule(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RemoveSchedule(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetDynamic(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Requeue(context.Context, *structpb.Struct) (*structpb.Struct, error)

	PeekDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnqueueAt(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	CancelDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceRunNow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearDelayed(context.Context, *emptypb.Empty) (*emptypb.Empty, error)

	mustEmbedUnimplementedManagerServer()
}

// UnimplementedManagerServer answers codes.Unimplemented to everything.
type UnimplementedManagerServer struct{}

func (UnimplementedManagerServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}
func (UnimplementedManagerServer) ListSchedules(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSchedules not implemented")
}
func (UnimplementedManagerServer) FetchSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method FetchSchedule not implemented")
}
func (UnimplementedManagerServer) SetSchedule(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetSchedule not implemented")
}
func (UnimplementedManagerServer) RemoveSchedule(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveSchedule not implemented")
}
func (UnimplementedManagerServer) SetDynamic(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetDynamic not implemented")
}
func (UnimplementedManagerServer) Requeue(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Requeue not implemented")
}
func (UnimplementedManagerServer) PeekDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method PeekDelayed not implemented")
}
func (UnimplementedManagerServer) SearchDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SearchDelayed not implemented")
}
func (UnimplementedManagerServer) EnqueueAt(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method EnqueueAt not implemented")
}
func (UnimplementedManagerServer) CancelDelayed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelDelayed not implemented")
}
func (UnimplementedManagerServer) ForceRunNow(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ForceRunNow not implemented")
}
func (UnimplementedManagerServer) ClearDelayed(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ClearDelayed not implemented")
}
func (UnimplementedManagerServer) mustEmbedUnimplementedManagerServer() {}

func RegisterManagerServer(s grpc.ServiceRegistrar, srv ManagerServer) {
	s.RegisterService(&Manager_ServiceDesc, srv)
}

// Manager_ServiceDesc is the grpc.ServiceDesc for the Manager service.
var Manager_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ManagerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ManagerServer.Status),
		unary("ListSchedules", ManagerServer.ListSchedules),
		unary("FetchSchedule", ManagerServer.FetchSchedule),
		unary("SetSchedule", ManagerServer.SetSchedule),
		unary("RemoveSchedule", ManagerServer.RemoveSchedule),
		unary("SetDynamic", ManagerServer.SetDynamic),
		unary("Requeue", ManagerServer.Requeue),
		unary("PeekDelayed", ManagerServer.PeekDelayed),
		unary("SearchDelayed", ManagerServer.SearchDelayed),
		unary("EnqueueAt", ManagerServer.EnqueueAt),
		unary("CancelDelayed", ManagerServer.CancelDelayed),
		unary("ForceRunNow", ManagerServer.ForceRunNow),
		unary("ClearDelayed", ManagerServer.ClearDelayed),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dsched/manager",
}

func unary[In any, PIn interface {
	*In
	proto.Message
}, Out proto.Message](name string, call func(ManagerServer, context.Context, PIn) (Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := PIn(new(In))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ManagerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ManagerServer), ctx, req.(PIn))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ManagerClient is the client API for the Manager service.
type ManagerClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)

	ListSchedules(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	FetchSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	RemoveSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	SetDynamic(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Requeue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

	PeekDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SearchDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	EnqueueAt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	CancelDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ForceRunNow(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ClearDelayed(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type managerClient struct {
	cc grpc.ClientConnInterface
}

func NewManagerClient(cc grpc.ClientConnInterface) ManagerClient {
	return &managerClient{cc}
}

func invoke[Out any, POut interface {
	*Out
	proto.Message
}](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, opts []grpc.CallOption) (POut, error) {
	out := POut(new(Out))
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *managerClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Status", in, opts)
}

func (c *managerClient) ListSchedules(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "ListSchedules", in, opts)
}

func (c *managerClient) FetchSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "FetchSchedule", in, opts)
}

func (c *managerClient) SetSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "SetSchedule", in, opts)
}

func (c *managerClient) RemoveSchedule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "RemoveSchedule", in, opts)
}

func (c *managerClient) SetDynamic(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "SetDynamic", in, opts)
}

func (c *managerClient) Requeue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Requeue", in, opts)
}

func (c *managerClient) PeekDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "PeekDelayed", in, opts)
}

func (c *managerClient) SearchDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "SearchDelayed", in, opts)
}

func (c *managerClient) EnqueueAt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "EnqueueAt", in, opts)
}

func (c *managerClient) CancelDelayed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "CancelDelayed", in, opts)
}

func (c *managerClient) ForceRunNow(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "ForceRunNow", in, opts)
}

func (c *managerClient) ClearDelayed(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "ClearDelayed", in, opts)
}
