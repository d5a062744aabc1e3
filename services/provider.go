// gostore-cart/services/provider.go

package services

import (
	"context"

	"google.golang.org/grpc"

	"github.com/norun9/gostore-cart/cart"
)

// UnaryProvider makes store the active cart of every unary call.
func UnaryProvider(store *cart.Store) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(cart.Provide(ctx, store), req)
	}
}

// StreamProvider makes store the active cart of every streaming call.
func StreamProvider(store *cart.Store) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &providedStream{ServerStream: ss, ctx: cart.Provide(ss.Context(), store)})
	}
}

type providedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *providedStream) Context() context.Context {
	return s.ctx
}

// ProviderOptions returns the server options installing store as the cart of every call.
func ProviderOptions(store *cart.Store) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryProvider(store)),
		grpc.ChainStreamInterceptor(StreamProvider(store)),
	}
}
