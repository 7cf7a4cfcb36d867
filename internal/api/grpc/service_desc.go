package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "paper.v1.PaperTrading"

// PaperTradingServer is the server side of paper.v1.PaperTrading. Every
// message is a google.protobuf.Struct carrying the JSON shapes of package dto.
type PaperTradingServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessBar(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckRisk(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPositions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFills(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PrunePositions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamFills(*structpb.Struct, grpc.ServerStream) error
}

type unaryMethod func(PaperTradingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PaperTradingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PaperTradingServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamFillsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PaperTradingServer).StreamFills(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaperTradingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("SubmitOrder", PaperTradingServer.SubmitOrder),
		unaryHandler("CancelOrder", PaperTradingServer.CancelOrder),
		unaryHandler("ProcessBar", PaperTradingServer.ProcessBar),
		unaryHandler("CheckRisk", PaperTradingServer.CheckRisk),
		unaryHandler("GetAccount", PaperTradingServer.GetAccount),
		unaryHandler("GetPositions", PaperTradingServer.GetPositions),
		unaryHandler("GetOrders", PaperTradingServer.GetOrders),
		unaryHandler("GetOrder", PaperTradingServer.GetOrder),
		unaryHandler("GetFills", PaperTradingServer.GetFills),
		unaryHandler("PrunePositions", PaperTradingServer.PrunePositions),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFills",
			Handler:       streamFillsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "paper/v1/paper.proto",
}

func RegisterPaperTradingServer(s grpc.ServiceRegistrar, srv PaperTradingServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }
