// Package api exposes the engine over gRPC. Requests and responses are
// google.protobuf.Struct values, so the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.ChatSync"

// Full method names.
const (
	MethodSend         = "/" + ServiceName + "/Send"
	MethodSync         = "/" + ServiceName + "/Sync"
	MethodListMessages = "/" + ServiceName + "/ListMessages"
	MethodRetry        = "/" + ServiceName + "/Retry"
	MethodOpen         = "/" + ServiceName + "/Open"
	MethodClose        = "/" + ServiceName + "/Close"
	MethodStatus       = "/" + ServiceName + "/Status"
	MethodObserve      = "/" + ServiceName + "/Observe"
)

// ChatSyncServer is the server API of the ChatSync service.
type ChatSyncServer interface {
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Observe(*structpb.Struct, grpc.ServerStream) error
}

// RegisterChatSyncServer registers srv on s.
func RegisterChatSyncServer(s grpc.ServiceRegistrar, srv ChatSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(ChatSyncServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChatSyncServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func observeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatSyncServer).Observe(in, stream)
}

// ServiceDesc describes the ChatSync service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: unaryHandler(MethodSend, ChatSyncServer.Send)},
		{MethodName: "Sync", Handler: unaryHandler(MethodSync, ChatSyncServer.Sync)},
		{MethodName: "ListMessages", Handler: unaryHandler(MethodListMessages, ChatSyncServer.ListMessages)},
		{MethodName: "Retry", Handler: unaryHandler(MethodRetry, ChatSyncServer.Retry)},
		{MethodName: "Open", Handler: unaryHandler(MethodOpen, ChatSyncServer.Open)},
		{MethodName: "Close", Handler: unaryHandler(MethodClose, ChatSyncServer.Close)},
		{MethodName: "Status", Handler: unaryHandler(MethodStatus, ChatSyncServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Observe", Handler: observeHandler, ServerStreams: true},
	},
	Metadata: "chatsync/v1/chatsync.proto",
}
