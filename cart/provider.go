// gostore-cart/cart/provider.go

package cart

import (
	"context"
	"errors"
)

// ErrNoProvider is the panic value of any cart operation made outside a provider scope:
// through a nil Store, a closed Store, or Use on a context without a Store.
var ErrNoProvider = errors.New("cart: must be used within a cart provider scope")

type providerKey struct{}

// Provide returns a copy of ctx carrying s as the active cart.
func Provide(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, providerKey{}, s)
}

// FromContext returns the Store carried by ctx, if there is one and it is still open.
func FromContext(ctx context.Context) (*Store, bool) {
	s, _ := ctx.Value(providerKey{}).(*Store)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s, true
}

// Use returns the Store carried by ctx and panics with ErrNoProvider when there is none.
func Use(ctx context.Context) *Store {
	s, ok := FromContext(ctx)
	if !ok {
		panic(ErrNoProvider)
	}
	return s
}
