package grpcserver

import (
	"context"

	"perpx/api"
	"perpx/service"

	"google.golang.org/grpc"
)

// Client calls perpx.v1.Venue with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *Client) PlaceOrder(ctx context.Context, in *api.OrderRequest, opts ...grpc.CallOption) (*service.OrderResult, error) {
	out := new(service.OrderResult)
	if err := c.invoke(ctx, "PlaceOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, in *api.CancelRequest, opts ...grpc.CallOption) (*api.CancelReply, error) {
	out := new(api.CancelReply)
	if err := c.invoke(ctx, "CancelOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBook(ctx context.Context, in *api.BookRequest, opts ...grpc.CallOption) (*service.BookView, error) {
	out := new(service.BookView)
	if err := c.invoke(ctx, "GetBook", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAccount(ctx context.Context, in *api.AccountRequest, opts ...grpc.CallOption) (*service.AccountView, error) {
	out := new(service.AccountView)
	if err := c.invoke(ctx, "GetAccount", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
