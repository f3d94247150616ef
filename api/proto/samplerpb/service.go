// Package samplerpb holds the gRPC service definition for the remote
// sampler. Messages are well-known protobuf types, so the descriptor is
// declared here rather than generated.
package samplerpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ServiceName is the fully qualified service name.
const ServiceName = "tensorsample.v1.Sampler"

// Full method names.
const (
	MethodGetBaseFeatures = "/" + ServiceName + "/GetBaseFeatures"
	MethodGetCsfFeatures  = "/" + ServiceName + "/GetCsfFeatures"
	MethodGetFlattenInput = "/" + ServiceName + "/GetFlattenInput"
	MethodGetMapInput     = "/" + ServiceName + "/GetMapInput"
	MethodSample          = "/" + ServiceName + "/Sample"
	MethodPing            = "/" + ServiceName + "/Ping"
)

// SamplerServer is the server API for the Sampler service.
type SamplerServer interface {
	GetBaseFeatures(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCsfFeatures(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFlattenInput(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMapInput(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
}

// ServiceDesc is the grpc.ServiceDesc for the Sampler service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SamplerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBaseFeatures", Handler: structHandler(MethodGetBaseFeatures, SamplerServer.GetBaseFeatures)},
		{MethodName: "GetCsfFeatures", Handler: structHandler(MethodGetCsfFeatures, SamplerServer.GetCsfFeatures)},
		{MethodName: "GetFlattenInput", Handler: structHandler(MethodGetFlattenInput, SamplerServer.GetFlattenInput)},
		{MethodName: "GetMapInput", Handler: structHandler(MethodGetMapInput, SamplerServer.GetMapInput)},
		{MethodName: "Sample", Handler: structHandler(MethodSample, SamplerServer.Sample)},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sampler.proto",
}

// RegisterSamplerServer registers srv on s.
func RegisterSamplerServer(s grpc.ServiceRegistrar, srv SamplerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type structMethod func(SamplerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SamplerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SamplerServer), ctx, req.(*structpb.Struct))
		})
	}
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SamplerServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPing}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SamplerServer).Ping(ctx, req.(*emptypb.Empty))
	})
}

// SamplerClient is the client API for the Sampler service.
type SamplerClient struct {
	cc grpc.ClientConnInterface
}

// NewSamplerClient wraps cc.
func NewSamplerClient(cc grpc.ClientConnInterface) *SamplerClient {
	return &SamplerClient{cc: cc}
}

func (c *SamplerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBaseFeatures calls Sampler.GetBaseFeatures.
func (c *SamplerClient) GetBaseFeatures(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetBaseFeatures, in, opts)
}

// GetCsfFeatures calls Sampler.GetCsfFeatures.
func (c *SamplerClient) GetCsfFeatures(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetCsfFeatures, in, opts)
}

// GetFlattenInput calls Sampler.GetFlattenInput.
func (c *SamplerClient) GetFlattenInput(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetFlattenInput, in, opts)
}

// GetMapInput calls Sampler.GetMapInput.
func (c *SamplerClient) GetMapInput(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetMapInput, in, opts)
}

// Sample calls Sampler.Sample.
func (c *SamplerClient) Sample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSample, in, opts)
}

// Ping calls Sampler.Ping.
func (c *SamplerClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*timestamppb.Timestamp, error) {
	out := new(timestamppb.Timestamp)
	if err := c.cc.Invoke(ctx, MethodPing, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
