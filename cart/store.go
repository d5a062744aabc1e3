// gostore-cart/cart/store.go

// Package cart holds the shopping cart state and keeps it in sync with a key-value store.
//
// A Store is created with NewStore, which starts loading the persisted cart in the
// background. Every mutation updates memory synchronously, notifies subscribers and
// schedules a write of the full item list. Writes are issued in mutation order by a single
// writer goroutine, so the last completed write always matches the last mutation.
//
//	store := cart.NewStore(ctx, storage)
//	defer store.Close(ctx)
//
//	store.AddToCart(cart.Product{ID: "p1", Title: "Shirt", Price: 19.9})
//	store.Increment("p1")
//	items := store.Products()
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Storage is the part of the key-value engine the cart needs.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LoadState tells whether the persisted cart has been loaded.
type LoadState int

const (
	Uninitialized LoadState = iota
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key. Default: StorageKey.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithLogger sets the logger used for load and persistence failures.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer sets the tracer used for load and persist spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMeterProvider sets the provider of the persist duration histogram.
// Default: the global MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// WithPersistHook registers fn to be called after every completed write with its result.
// fn runs on the writer goroutine and must not call back into the Store.
func WithPersistHook(fn func(err error)) Option {
	return func(s *Store) {
		s.onPersist = fn
	}
}

// Store owns the in-memory cart and its persisted copy.
type Store struct {
	storage   Storage
	key       string
	log       *logrus.Entry
	tracer    trace.Tracer
	onPersist func(error)

	meterProvider   metric.MeterProvider
	persistDuration metric.Float64Histogram

	mu      sync.Mutex
	items   []Item
	state   LoadState
	closed  bool
	subs    map[uint64]chan []Item
	nextSub uint64

	// issued counts mutations; written is the issued value covered by the last completed write.
	issued   uint64
	written  uint64
	writeErr error
	progress chan struct{}

	wake       chan struct{}
	stop       chan struct{}
	writerDone chan struct{}

	ready      chan struct{}
	loadDone   chan struct{}
	loadErr    error
	cancelLoad context.CancelFunc

	// abandoned is set when the load ended without reading the cart because the store
	// was closed or its context cancelled. It is read only after loadDone is closed.
	abandoned bool
}

// NewStore creates an empty Store and starts loading the cart persisted in storage.
// The load runs with ctx; cancelling ctx abandons it. The returned Store is the provider
// scope: it stays usable until Close.
func NewStore(ctx context.Context, storage Storage, opts ...Option) *Store {
	s := &Store{
		storage:       storage,
		key:           StorageKey,
		log:           logrus.WithField("component", "cart"),
		tracer:        otel.Tracer("gostore-cart/cart"),
		meterProvider: otel.GetMeterProvider(),
		items:         []Item{},
		subs:          make(map[uint64]chan []Item),
		progress:      make(chan struct{}),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		writerDone:    make(chan struct{}),
		ready:         make(chan struct{}),
		loadDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initInstruments()

	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	go s.load(loadCtx)
	go s.writeLoop()
	return s
}

// AddToCart puts one unit of p in the cart. Items with the same id get their quantity
// incremented; otherwise p is appended with quantity 1. It returns the resulting cart.
func (s *Store) AddToCart(p Product) []Item {
	return s.mutate("add_to_cart", p.ID, func(items []Item) []Item {
		if adjust(items, p.ID, 1) > 0 {
			return items
		}
		return append(items, Item{Product: p, Quantity: 1})
	})
}

// Increment adds one unit to the items with id and returns the resulting cart.
// Unknown ids leave the cart unchanged, but the cart is still written back.
func (s *Store) Increment(id string) []Item {
	return s.mutate("increment", id, func(items []Item) []Item {
		adjust(items, id, 1)
		return items
	})
}

// Decrement removes one unit from the items with id and drops them when one has no unit
// left. It returns the resulting cart. Unknown ids leave the cart unchanged, but the cart
// is still written back.
func (s *Store) Decrement(id string) []Item {
	return s.mutate("decrement", id, func(items []Item) []Item {
		if adjust(items, id, -1) == 0 {
			return items
		}
		return dropDepleted(items, id)
	})
}

// Products returns a copy of the current items in cart order.
func (s *Store) Products() []Item {
	s.mustBeActive()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	return cloneItems(s.items)
}

// Subscribe returns a channel that receives the cart after every change, starting with
// the current cart. Only the latest undelivered snapshot is kept. cancel unsubscribes and
// closes the channel; Close does the same for every subscriber.
func (s *Store) Subscribe() (<-chan []Item, func()) {
	s.mustBeActive()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	ch := make(chan []Item, 1)
	ch <- cloneItems(s.items)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// State reports whether the persisted cart has been loaded.
func (s *Store) State() LoadState {
	s.mustBeActive()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the persisted cart has been loaded. It stays open if loading failed.
func (s *Store) Ready() <-chan struct{} {
	s.mustBeActive()
	return s.ready
}

// Wait blocks until the load attempt finishes and returns its error.
func (s *Store) Wait(ctx context.Context) error {
	s.mustBeActive()
	select {
	case <-s.loadDone:
		return s.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every mutation made before the call has been written and returns
// the errors of writes completed since the previous Flush.
func (s *Store) Flush(ctx context.Context) error {
	s.mustBeActive()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		panic(ErrNoProvider)
	}
	return s.flush(ctx)
}

// Close ends the provider scope. Pending writes are flushed first; afterwards the
// mutations, Products, Subscribe and Flush panic with ErrNoProvider. Closing twice is a no-op.
// A load still in progress is abandoned, and changes made before it finished are never
// written, so they cannot replace a persisted cart that was not read. Close then reports
// them as unwritten.
func (s *Store) Close(ctx context.Context) error {
	s.mustBeActive()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// The writer waits for the load, so the load has to end before flushing.
	select {
	case <-s.loadDone:
	default:
		s.cancelLoad()
	}
	err := s.flush(ctx)

	s.cancelLoad()
	close(s.stop)
	<-s.writerDone
	<-s.loadDone

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	return err
}

// mutate applies fn under the lock and returns a copy of the cart it produced.
func (s *Store) mutate(op, id string, fn func([]Item) []Item) []Item {
	s.mustBeActive()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	s.items = fn(s.items)
	s.issued++
	s.notifyLocked()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.log.WithFields(logrus.Fields{
		"op":    op,
		"id":    id,
		"lines": len(s.items),
	}).Debug("cart updated")
	return cloneItems(s.items)
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		snap := cloneItems(s.items)
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot the subscriber has not read yet.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Store) load(ctx context.Context) {
	defer close(s.loadDone)

	ctx, span := s.tracer.Start(ctx, "cart.load", trace.WithAttributes(
		attribute.String("app.storage_key", s.key),
	))
	defer span.End()

	raw, found, err := s.storage.Get(ctx, s.key)
	if err != nil {
		s.abandoned = ctx.Err() != nil
		s.failLoad(span, fmt.Errorf("cart: read %s: %w", s.key, err))
		return
	}

	var items []Item
	if found {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			s.failLoad(span, fmt.Errorf("cart: decode %s: %w", s.key, err))
			return
		}
	}
	if items == nil {
		items = []Item{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.abandoned = true
		return
	}
	if found {
		s.items = items
	}
	s.state = Loaded
	s.notifyLocked()
	close(s.ready)

	span.SetAttributes(attribute.Bool("app.cart.found", found), attribute.Int("app.cart.lines", len(s.items)))
	s.log.WithFields(logrus.Fields{"found": found, "lines": len(s.items)}).Info("cart loaded")
}

func (s *Store) failLoad(span trace.Span, err error) {
	recordError(span, err)
	s.loadErr = err
	s.log.WithError(err).Error("failed to load cart")
}

func (s *Store) initInstruments() {
	h, err := s.meterProvider.Meter("gostore-cart/cart").Float64Histogram(
		"gostore.cart.persist.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of cart writes to storage."),
	)
	if err != nil {
		s.log.WithError(err).Warn("failed to create persist duration histogram")
		h = noop.Float64Histogram{}
	}
	s.persistDuration = h
}

func (s *Store) mustBeActive() {
	if s == nil {
		panic(ErrNoProvider)
	}
}

func (s *Store) checkOpenLocked() {
	if s.closed {
		panic(ErrNoProvider)
	}
}
