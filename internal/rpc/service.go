// Package rpc exposes price estimates over gRPC. Messages are protobuf well-known types,
// so the service descriptor is declared here instead of being generated.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "homeprice.v1.PriceEstimator"

	PredictMethod       = "/" + ServiceName + "/Predict"
	ListLocationsMethod = "/" + ServiceName + "/ListLocations"
)

// PriceEstimatorServer is the server API for the PriceEstimator service.
type PriceEstimatorServer interface {
	// Predict takes {location, sqft, bath, bhk} and answers {estimated_price, location, matched}.
	Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListLocations(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PriceEstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "ListLocations", Handler: listLocationsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "homeprice/v1/estimator.proto",
}

func RegisterPriceEstimatorServer(s grpc.ServiceRegistrar, srv PriceEstimatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceEstimatorServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PriceEstimatorServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listLocationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceEstimatorServer).ListLocations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListLocationsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PriceEstimatorServer).ListLocations(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
