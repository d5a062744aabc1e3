package services

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/norun9/gostore-cart/cart"
	"github.com/norun9/gostore-cart/cartstore"
)

const bufSize = 1024 * 1024

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingObserver) ObserveMutation(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingObserver) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type CartServiceTestSuite struct {
	suite.Suite

	listener *bufconn.Listener
	server   *grpc.Server
	conn     *grpc.ClientConn

	engine   *cartstore.LocalCartStore
	store    *cart.Store
	observer *recordingObserver

	client *CartServiceClient
	health healthpb.HealthClient
}

func TestCartServiceTestSuite(t *testing.T) {
	suite.Run(t, new(CartServiceTestSuite))
}

func (s *CartServiceTestSuite) SetupTest() {
	ctx := context.Background()

	s.engine = cartstore.NewLocalCartStore()
	s.Require().NoError(s.engine.Initialize(ctx))
	s.store = cart.NewStore(ctx, s.engine)
	s.Require().NoError(s.store.Wait(ctx))
	s.observer = &recordingObserver{}

	s.listener = bufconn.Listen(bufSize)
	s.server = grpc.NewServer(ProviderOptions(s.store)...)
	RegisterCartService(s.server, NewCartServiceServer(s.observer))
	healthpb.RegisterHealthServer(s.server, NewHealthCheckService(s.engine, s.store))
	go func() { _ = s.server.Serve(s.listener) }()

	var err error
	s.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)

	s.client = NewCartServiceClient(s.conn)
	s.health = healthpb.NewHealthClient(s.conn)
}

func (s *CartServiceTestSuite) TearDownTest() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.server != nil {
		s.server.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		_ = s.store.Close(context.Background())
	}
	if s.engine != nil {
		_ = s.engine.Close()
	}
}

func (s *CartServiceTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

var (
	shirt = cart.Product{ID: "shirt", Title: "Shirt", ImageURL: "https://img/shirt.png", Price: 20}
	mug   = cart.Product{ID: "mug", Title: "Mug", ImageURL: "https://img/mug.png", Price: 7.5}
)

func (s *CartServiceTestSuite) TestAddToCartMerges() {
	ctx := s.ctx()

	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Require().NoError(err)
	_, err = s.client.AddToCart(ctx, &AddToCartRequest{Product: mug})
	s.Require().NoError(err)
	got, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Require().NoError(err)

	s.Equal([]cart.Item{{Product: shirt, Quantity: 2}, {Product: mug, Quantity: 1}}, got.Items)
	s.Equal(3, got.TotalQuantity)
	s.InDelta(47.5, got.TotalPrice, 1e-9)
	s.True(got.Loaded)
	s.Equal([]string{"add_to_cart", "add_to_cart", "add_to_cart"}, s.observer.seen())
}

func (s *CartServiceTestSuite) TestIncrementDecrement() {
	ctx := s.ctx()
	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Require().NoError(err)
	_, err = s.client.AddToCart(ctx, &AddToCartRequest{Product: mug})
	s.Require().NoError(err)

	got, err := s.client.Increment(ctx, &ItemRequest{ID: "shirt"})
	s.Require().NoError(err)
	s.Equal([]cart.Item{{Product: shirt, Quantity: 2}, {Product: mug, Quantity: 1}}, got.Items)

	got, err = s.client.Decrement(ctx, &ItemRequest{ID: "mug"})
	s.Require().NoError(err)
	s.Equal([]cart.Item{{Product: shirt, Quantity: 2}}, got.Items)

	got, err = s.client.Decrement(ctx, &ItemRequest{ID: "unknown"})
	s.Require().NoError(err)
	s.Equal([]cart.Item{{Product: shirt, Quantity: 2}}, got.Items)
}

func (s *CartServiceTestSuite) TestConcurrentIncrementsSeeTheirOwnResult() {
	ctx := s.ctx()
	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Require().NoError(err)

	const calls = 20
	quantities := make(chan int, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.client.Increment(ctx, &ItemRequest{ID: "shirt"})
			if err != nil || len(got.Items) != 1 {
				quantities <- -1
				return
			}
			quantities <- got.Items[0].Quantity
		}()
	}
	wg.Wait()
	close(quantities)

	seen := map[int]bool{}
	for q := range quantities {
		s.False(seen[q], "quantity %d returned twice", q)
		seen[q] = true
	}
	for q := 2; q <= calls+1; q++ {
		s.True(seen[q], "no call returned quantity %d", q)
	}
}

func (s *CartServiceTestSuite) TestGetCartAndPersistence() {
	ctx := s.ctx()
	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: mug})
	s.Require().NoError(err)

	got, err := s.client.GetCart(ctx, &GetCartRequest{})
	s.Require().NoError(err)
	s.Equal([]cart.Item{{Product: mug, Quantity: 1}}, got.Items)

	s.Require().NoError(s.store.Flush(ctx))
	raw, ok, err := s.engine.Get(ctx, cart.StorageKey)
	s.Require().NoError(err)
	s.True(ok)
	s.JSONEq(`[{"id":"mug","title":"Mug","image_url":"https://img/mug.png","price":7.5,"quantity":1}]`, raw)
}

func (s *CartServiceTestSuite) TestInvalidArgument() {
	ctx := s.ctx()

	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: cart.Product{Title: "no id"}})
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.client.Increment(ctx, &ItemRequest{})
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.client.Decrement(ctx, &ItemRequest{ID: "  "})
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Empty(s.observer.seen())
}

func (s *CartServiceTestSuite) TestClosedCartIsUnavailable() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Close(ctx))

	_, err := s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Equal(codes.Unavailable, status.Code(err))
	_, err = s.client.GetCart(ctx, &GetCartRequest{})
	s.Equal(codes.Unavailable, status.Code(err))
}

func (s *CartServiceTestSuite) TestWatchCart() {
	ctx, cancel := context.WithCancel(s.ctx())
	defer cancel()

	stream, err := s.client.WatchCart(ctx, &WatchCartRequest{})
	s.Require().NoError(err)

	first, err := stream.Recv()
	s.Require().NoError(err)
	s.Empty(first.Items)

	_, err = s.client.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	s.Require().NoError(err)
	_, err = s.client.Increment(ctx, &ItemRequest{ID: "shirt"})
	s.Require().NoError(err)

	// Intermediate snapshots may be skipped; wait for the final one.
	for {
		got, err := stream.Recv()
		s.Require().NoError(err)
		if len(got.Items) == 1 && got.Items[0].Quantity == 2 {
			s.Equal(2, got.TotalQuantity)
			break
		}
	}

	cancel()
	_, err = stream.Recv()
	s.Equal(codes.Canceled, status.Code(err))
}

func (s *CartServiceTestSuite) TestWatchCartEndsWhenCartCloses() {
	ctx := s.ctx()
	stream, err := s.client.WatchCart(ctx, &WatchCartRequest{})
	s.Require().NoError(err)
	_, err = stream.Recv()
	s.Require().NoError(err)

	s.Require().NoError(s.store.Close(ctx))

	_, err = stream.Recv()
	s.Equal(codes.Unavailable, status.Code(err))
}

func (s *CartServiceTestSuite) TestHealthCheck() {
	ctx := s.ctx()

	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	s.Require().NoError(s.engine.Close())
	resp, err = s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestCartServiceWithoutProvider(t *testing.T) {
	srv := NewCartServiceServer(nil)
	ctx := context.Background()

	_, err := srv.GetCart(ctx, &GetCartRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
	_, err = srv.AddToCart(ctx, &AddToCartRequest{Product: shirt})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestUnaryProvider(t *testing.T) {
	ctx := context.Background()
	store := cart.NewStore(ctx, cartstore.NewLocalCartStore())
	defer store.Close(ctx)

	var got *cart.Store
	_, err := UnaryProvider(store)(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		got = cart.Use(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, store, got)
}
