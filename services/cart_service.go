// gostore-cart/services/cart_service.go

package services

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/norun9/gostore-cart/cart"
)

var log = logrus.WithField("component", "services")

// MutationObserver is told about every cart mutation served over RPC.
type MutationObserver interface {
	ObserveMutation(op string)
}

// CartServiceServer serves the cart provided to each call's context.
// Calls made without a provided cart, or after it is closed, fail with Unavailable.
type CartServiceServer struct {
	observer MutationObserver
	tracer   trace.Tracer
}

var _ CartService = (*CartServiceServer)(nil)

// NewCartServiceServer creates the server. observer may be nil.
// Install the cart with ProviderOptions.
func NewCartServiceServer(observer MutationObserver) *CartServiceServer {
	return &CartServiceServer{
		observer: observer,
		tracer:   otel.Tracer("gostore-cart/services"),
	}
}

func (s *CartServiceServer) AddToCart(ctx context.Context, req *AddToCartRequest) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "AddToCart")
	defer span.End()
	span.SetAttributes(attribute.String("app.product_id", req.Product.ID))

	if strings.TrimSpace(req.Product.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "product id is required")
	}
	return s.mutate(ctx, "add_to_cart", func(c *cart.Store) []cart.Item { return c.AddToCart(req.Product) })
}

func (s *CartServiceServer) Increment(ctx context.Context, req *ItemRequest) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "Increment")
	defer span.End()
	span.SetAttributes(attribute.String("app.product_id", req.ID))

	if strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	return s.mutate(ctx, "increment", func(c *cart.Store) []cart.Item { return c.Increment(req.ID) })
}

func (s *CartServiceServer) Decrement(ctx context.Context, req *ItemRequest) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "Decrement")
	defer span.End()
	span.SetAttributes(attribute.String("app.product_id", req.ID))

	if strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	return s.mutate(ctx, "decrement", func(c *cart.Store) []cart.Item { return c.Decrement(req.ID) })
}

func (s *CartServiceServer) GetCart(ctx context.Context, req *GetCartRequest) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "GetCart")
	defer span.End()

	var out *Cart
	if err := guard(func() {
		c := cart.Use(ctx)
		out = toCart(c, c.Products())
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchCart streams the cart, starting with its current content, until the client goes away.
func (s *CartServiceServer) WatchCart(req *WatchCartRequest, stream CartWatchServer) error {
	ctx := stream.Context()
	var (
		c       *cart.Store
		updates <-chan []cart.Item
		cancel  func()
	)
	if err := guard(func() {
		c = cart.Use(ctx)
		updates, cancel = c.Subscribe()
	}); err != nil {
		return err
	}
	defer cancel()

	log.Debug("[WatchCart] subscriber attached")
	defer log.Debug("[WatchCart] subscriber detached")

	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case items, ok := <-updates:
			if !ok {
				return status.Error(codes.Unavailable, "cart closed")
			}
			if err := stream.Send(toCart(c, items)); err != nil {
				return err
			}
		}
	}
}

// mutate responds with the cart produced by fn itself, not with later changes made by
// concurrent calls.
func (s *CartServiceServer) mutate(ctx context.Context, op string, fn func(*cart.Store) []cart.Item) (*Cart, error) {
	var out *Cart
	if err := guard(func() {
		c := cart.Use(ctx)
		out = toCart(c, fn(c))
	}); err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveMutation(op)
	}
	return out, nil
}

func toCart(c *cart.Store, items []cart.Item) *Cart {
	units, amount := cart.Total(items)
	return &Cart{
		Items:         items,
		TotalQuantity: units,
		TotalPrice:    amount,
		Loaded:        c.State() == cart.Loaded,
	}
}

// guard turns the panic of a cart used outside its provider scope into Unavailable.
// Any other panic is propagated.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, cart.ErrNoProvider) {
				err = status.Error(codes.Unavailable, "cart is not available")
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}
