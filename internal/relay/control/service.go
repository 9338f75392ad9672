// Package control exposes the relay over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relayengine.v1.RelayControl"

const (
	methodPing  = "/" + ServiceName + "/Ping"
	methodOffer = "/" + ServiceName + "/Offer"
	methodEnd   = "/" + ServiceName + "/End"
	methodStats = "/" + ServiceName + "/Stats"
)

// RelayControlServer is the server side of the service.
type RelayControlServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Offer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	End(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv RelayControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryMethod func(RelayControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(full string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RelayControlServer), ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: handler(methodPing, RelayControlServer.Ping)},
		{MethodName: "Offer", Handler: handler(methodOffer, RelayControlServer.Offer)},
		{MethodName: "End", Handler: handler(methodEnd, RelayControlServer.End)},
		{MethodName: "Stats", Handler: handler(methodStats, RelayControlServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relayengine/v1/control.proto",
}
