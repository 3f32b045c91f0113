package grpcserver

import (
	"context"

	"perpx/api"

	"google.golang.org/grpc"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VenueServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
		{MethodName: "CancelOrder", Handler: cancelOrderHandler},
		{MethodName: "GetBook", Handler: getBookHandler},
		{MethodName: "GetAccount", Handler: getAccountHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "perpx/v1/venue",
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func placeOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.OrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VenueServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("PlaceOrder")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VenueServer).PlaceOrder(ctx, req.(*api.OrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VenueServer).CancelOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("CancelOrder")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VenueServer).CancelOrder(ctx, req.(*api.CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getBookHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.BookRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VenueServer).GetBook(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetBook")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VenueServer).GetBook(ctx, req.(*api.BookRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getAccountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.AccountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VenueServer).GetAccount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetAccount")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VenueServer).GetAccount(ctx, req.(*api.AccountRequest))
	}
	return interceptor(ctx, in, info, handler)
}
