package grpcbundle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// BundlesServer is the server API for the Bundles gRPC service.
//
// We intentionally use protobuf well-known wrapper types so this package does
// not require a protoc/codegen toolchain. Requests carry the record
// reference; replies carry the raw bundle bytes.
//
// Proto definition: bundles.proto.
type BundlesServer interface {
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedBundlesServer can be embedded to have forward compatible implementations.
type UnimplementedBundlesServer struct{}

func (UnimplementedBundlesServer) Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Fetch not implemented")
}
func (UnimplementedBundlesServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Has not implemented")
}

// RegisterBundlesServer registers the Bundles service on a gRPC server.
func RegisterBundlesServer(s grpc.ServiceRegistrar, srv BundlesServer) {
	s.RegisterService(&Bundles_ServiceDesc, srv)
}

// BundlesClient is the client API for the Bundles gRPC service.
type BundlesClient interface {
	Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type bundlesClient struct{ cc grpc.ClientConnInterface }

func NewBundlesClient(cc grpc.ClientConnInterface) BundlesClient { return &bundlesClient{cc: cc} }

func (c *bundlesClient) Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/everstone.anchor.storage.grpcbundle.v1.Bundles/Fetch", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bundlesClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	err := c.cc.Invoke(ctx, "/everstone.anchor.storage.grpcbundle.v1.Bundles/Has", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _Bundles_Fetch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BundlesServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/everstone.anchor.storage.grpcbundle.v1.Bundles/Fetch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BundlesServer).Fetch(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bundles_Has_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BundlesServer).Has(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/everstone.anchor.storage.grpcbundle.v1.Bundles/Has"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BundlesServer).Has(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Bundles_ServiceDesc is the grpc.ServiceDesc for the Bundles service.
var Bundles_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "everstone.anchor.storage.grpcbundle.v1.Bundles",
	HandlerType: (*BundlesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: _Bundles_Fetch_Handler},
		{MethodName: "Has", Handler: _Bundles_Has_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bundles.proto",
}
