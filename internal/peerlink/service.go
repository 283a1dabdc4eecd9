package peerlink

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The Link service has a single bidirectional stream of BytesValue
// envelopes, so no protoc toolchain is needed.
//
//	service Link {
//	  rpc Stream(stream google.protobuf.BytesValue) returns (stream google.protobuf.BytesValue);
//	}

const linkStreamMethod = "/refspace.peerlink.v1.Link/Stream"

// LinkServer is the server API for the Link service.
type LinkServer interface {
	Stream(Link_StreamServer) error
}

// Link_StreamServer is the server side of one peer stream
type Link_StreamServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type linkStreamServer struct {
	grpc.ServerStream
}

func (x *linkStreamServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *linkStreamServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Link_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LinkServer).Stream(&linkStreamServer{stream})
}

// Link_ServiceDesc is the grpc.ServiceDesc for the Link service.
var Link_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "refspace.peerlink.v1.Link",
	HandlerType: (*LinkServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _Link_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "link.proto",
}

// RegisterLinkServer registers the Link service on a gRPC server.
func RegisterLinkServer(s grpc.ServiceRegistrar, srv LinkServer) {
	s.RegisterService(&Link_ServiceDesc, srv)
}

// LinkClient is the client API for the Link service.
type LinkClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (Link_StreamClient, error)
}

// Link_StreamClient is the client side of one peer stream
type Link_StreamClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type linkClient struct{ cc grpc.ClientConnInterface }

func NewLinkClient(cc grpc.ClientConnInterface) LinkClient { return &linkClient{cc: cc} }

func (c *linkClient) Stream(ctx context.Context, opts ...grpc.CallOption) (Link_StreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &Link_ServiceDesc.Streams[0], linkStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &linkStreamClient{stream}, nil
}

type linkStreamClient struct {
	grpc.ClientStream
}

func (x *linkStreamClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *linkStreamClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
