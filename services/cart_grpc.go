// gostore-cart/services/cart_grpc.go

package services

import (
	"context"

	"google.golang.org/grpc"

	"github.com/norun9/gostore-cart/cart"
)

const (
	cartServiceName = "gostore.cart.v1.CartService"

	addToCartMethod = "/" + cartServiceName + "/AddToCart"
	incrementMethod = "/" + cartServiceName + "/Increment"
	decrementMethod = "/" + cartServiceName + "/Decrement"
	getCartMethod   = "/" + cartServiceName + "/GetCart"
	watchCartMethod = "/" + cartServiceName + "/WatchCart"
)

type AddToCartRequest struct {
	Product cart.Product `json:"product"`
}

// ItemRequest addresses one cart line by product id.
type ItemRequest struct {
	ID string `json:"id"`
}

type GetCartRequest struct{}

type WatchCartRequest struct{}

// Cart is the cart as seen by RPC clients.
type Cart struct {
	Items         []cart.Item `json:"items"`
	TotalQuantity int         `json:"total_quantity"`
	TotalPrice    float64     `json:"total_price"`
	// Loaded is false until the persisted cart has been read.
	Loaded bool `json:"loaded"`
}

// CartService is the server API of gostore.cart.v1.CartService.
type CartService interface {
	AddToCart(context.Context, *AddToCartRequest) (*Cart, error)
	Increment(context.Context, *ItemRequest) (*Cart, error)
	Decrement(context.Context, *ItemRequest) (*Cart, error)
	GetCart(context.Context, *GetCartRequest) (*Cart, error)
	WatchCart(*WatchCartRequest, CartWatchServer) error
}

// CartWatchServer is the server side of a WatchCart stream.
type CartWatchServer interface {
	Send(*Cart) error
	grpc.ServerStream
}

// CartServiceDesc describes the service for grpc.Server.RegisterService.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: cartServiceName,
	HandlerType: (*CartService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AddToCart",
			Handler: unaryHandler(addToCartMethod, func(s CartService, ctx context.Context, in *AddToCartRequest) (*Cart, error) {
				return s.AddToCart(ctx, in)
			}),
		},
		{
			MethodName: "Increment",
			Handler: unaryHandler(incrementMethod, func(s CartService, ctx context.Context, in *ItemRequest) (*Cart, error) {
				return s.Increment(ctx, in)
			}),
		},
		{
			MethodName: "Decrement",
			Handler: unaryHandler(decrementMethod, func(s CartService, ctx context.Context, in *ItemRequest) (*Cart, error) {
				return s.Decrement(ctx, in)
			}),
		},
		{
			MethodName: "GetCart",
			Handler: unaryHandler(getCartMethod, func(s CartService, ctx context.Context, in *GetCartRequest) (*Cart, error) {
				return s.GetCart(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchCart",
			Handler:       watchCartHandler,
			ServerStreams: true,
		},
	},
	Metadata: "gostore/cart/v1/cart.json",
}

// RegisterCartService registers srv on s.
func RegisterCartService(s grpc.ServiceRegistrar, srv CartService) {
	s.RegisterService(&CartServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(CartService, context.Context, *Req) (*Cart, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartService), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchCartHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchCartRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CartService).WatchCart(in, &cartWatchServer{stream})
}

type cartWatchServer struct {
	grpc.ServerStream
}

func (x *cartWatchServer) Send(m *Cart) error {
	return x.ServerStream.SendMsg(m)
}

// CartServiceClient calls gostore.cart.v1.CartService using the JSON codec.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

func (c *CartServiceClient) AddToCart(ctx context.Context, in *AddToCartRequest, opts ...grpc.CallOption) (*Cart, error) {
	return c.invoke(ctx, addToCartMethod, in, opts)
}

func (c *CartServiceClient) Increment(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*Cart, error) {
	return c.invoke(ctx, incrementMethod, in, opts)
}

func (c *CartServiceClient) Decrement(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*Cart, error) {
	return c.invoke(ctx, decrementMethod, in, opts)
}

func (c *CartServiceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*Cart, error) {
	return c.invoke(ctx, getCartMethod, in, opts)
}

// CartWatchClient receives cart snapshots from a WatchCart stream.
type CartWatchClient interface {
	Recv() (*Cart, error)
	grpc.ClientStream
}

func (c *CartServiceClient) WatchCart(ctx context.Context, in *WatchCartRequest, opts ...grpc.CallOption) (CartWatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &CartServiceDesc.Streams[0], watchCartMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &cartWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type cartWatchClient struct {
	grpc.ClientStream
}

func (x *cartWatchClient) Recv() (*Cart, error) {
	m := new(Cart)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *CartServiceClient) invoke(ctx context.Context, method string, in any, opts []grpc.CallOption) (*Cart, error) {
	out := new(Cart)
	if err := c.cc.Invoke(ctx, method, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
