package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dosensor.v1.SensorService"

// Full method names, usable with grpc.ClientConn.Invoke.
const (
	MethodGetData   = "/" + ServiceName + "/GetData"
	MethodGetSerial = "/" + ServiceName + "/GetSerial"
)

// SensorServiceServer is the server API for SensorService. Messages are
// protobuf well-known types so no generated code is required.
type SensorServiceServer interface {
	GetData(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSerial(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterSensorServiceServer registers srv on s.
func RegisterSensorServiceServer(s grpc.ServiceRegistrar, srv SensorServiceServer) {
	s.RegisterService(&sensorServiceDesc, srv)
}

var sensorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetData", Handler: getDataHandler},
		{MethodName: "GetSerial", Handler: getSerialHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dosensor/v1/sensor.proto",
}

func getDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorServiceServer).GetData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetData}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorServiceServer).GetData(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getSerialHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorServiceServer).GetSerial(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetSerial}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorServiceServer).GetSerial(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
