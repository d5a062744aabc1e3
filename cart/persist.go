// gostore-cart/cart/persist.go

package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var errWriterStopped = errors.New("cart: writer stopped before pending writes completed")

// writeLoop is the only goroutine writing to storage. It waits for the initial load so a
// mutation made before the load cannot overwrite the persisted cart before it is read,
// and it never writes when the load was abandoned.
func (s *Store) writeLoop() {
	defer close(s.writerDone)

	select {
	case <-s.loadDone:
		if s.abandoned {
			s.log.Warn("cart load abandoned, changes will not be written")
			return
		}
	case <-s.stop:
		return
	}

	for {
		select {
		case <-s.wake:
			s.writeLatest()
		case <-s.stop:
			return
		}
	}
}

// writeLatest writes the current cart if any mutation has not been covered yet.
// Snapshots taken while a write is in flight are coalesced into the next write.
func (s *Store) writeLatest() {
	s.mu.Lock()
	seq := s.issued
	if seq == s.written {
		s.mu.Unlock()
		return
	}
	items := cloneItems(s.items)
	s.mu.Unlock()

	err := s.persist(items)
	if s.onPersist != nil {
		s.onPersist(err)
	}

	s.mu.Lock()
	s.written = seq
	if err != nil {
		s.writeErr = errors.Join(s.writeErr, err)
	}
	close(s.progress)
	s.progress = make(chan struct{})
	s.mu.Unlock()
}

func (s *Store) persist(items []Item) (err error) {
	ctx, span := s.tracer.Start(context.Background(), "cart.persist", trace.WithAttributes(
		attribute.String("app.storage_key", s.key),
		attribute.Int("app.cart.lines", len(items)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		s.persistDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Bool("error", err != nil)))
	}()

	b, err := json.Marshal(items)
	if err != nil {
		err = fmt.Errorf("cart: encode: %w", err)
		recordError(span, err)
		return err
	}
	if err := s.storage.Set(ctx, s.key, string(b)); err != nil {
		err = fmt.Errorf("cart: write %s: %w", s.key, err)
		recordError(span, err)
		s.log.WithError(err).Error("failed to persist cart")
		return err
	}
	return nil
}

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	target := s.issued
	for s.written < target {
		ch := s.progress
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.writerDone:
			return errWriterStopped
		}
		s.mu.Lock()
	}
	err := s.writeErr
	s.writeErr = nil
	s.mu.Unlock()
	return err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
