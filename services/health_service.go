// gostore-cart/services/health_service.go

package services

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/norun9/gostore-cart/cart"
	"github.com/norun9/gostore-cart/cartstore"
)

// HealthCheckService implements the gRPC Health check.
// The service is SERVING once the cart is loaded and the storage engine answers Ping.
type HealthCheckService struct {
	healthpb.UnimplementedHealthServer

	storage cartstore.ICartStore
	cart    *cart.Store
}

func NewHealthCheckService(storage cartstore.ICartStore, store *cart.Store) *HealthCheckService {
	return &HealthCheckService{storage: storage, cart: store}
}

// Check RPC: calls ICartStore.Ping and reports SERVING / NOT_SERVING.
func (h *HealthCheckService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	log.WithField("service", req.GetService()).Debug("HealthCheckService: Check called")

	if h.cart != nil && h.cart.State() != cart.Loaded {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	if !h.storage.Ping(ctx) {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
