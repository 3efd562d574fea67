package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store is the append-only event store. It persists versioned domain events
// per aggregate with optimistic concurrency and optional uniqueness claims,
// mirroring every appended event into the pending staging area in the same
// atomic write.
type Store struct {
	log     *slog.Logger
	driver  Driver
	codec   Codec
	newID   IDGenerator
	now     func() time.Time
	metrics ESMetrics
}

func NewStore(driver Driver, opts ...Option) *Store {
	options := newOptions(opts...)
	return &Store{
		log:     options.log.With(slog.String("component", "store")),
		driver:  driver,
		codec:   options.codec,
		newID:   options.newID,
		now:     options.now,
		metrics: options.metrics,
	}
}

// Append atomically persists events with versions expected+1..expected+n,
// one pending mirror row per event, and the given uniqueness claims. It
// returns the new persisted version. On ErrConcurrencyConflict or
// ErrDuplicateUniqueValue no partial write is observable.
func (s *Store) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected Version,
	events []DomainEvent,
	claims ...UniqueClaim,
) (Version, error) {
	if aggType == "" {
		return 0, validationf("aggregate type is empty")
	}
	if aggID == "" {
		return 0, validationf("aggregate id is empty")
	}
	if len(events) == 0 {
		return 0, ErrNoEvents
	}
	for _, c := range claims {
		if err := c.Validate(); err != nil {
			return 0, err
		}
	}

	defer s.metrics.StoreAppendDuration(aggType).ObserveDuration()

	write := AppendWrite{
		AggregateType:   aggType,
		AggregateID:     aggID,
		ExpectedVersion: expected,
		Events:          make([]Event, 0, len(events)),
		Pending:         make([]PendingEvent, 0, len(events)),
		Claims:          make([]UniqueClaim, 0, len(claims)),
	}

	v := expected
	for _, ev := range events {
		eventType, err := eventTypeOf(ev)
		if err != nil {
			return 0, err
		}
		data, err := s.codec.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event %T: %w", ev, err)
		}

		v++
		record := Event{
			ID:            s.newID(),
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       v,
			Type:          eventType,
			RaisedAt:      s.now(),
			Data:          data,
		}
		if err := record.Validate(); err != nil {
			return 0, err
		}

		mirror, err := s.codec.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("failed to encode pending mirror: %w", err)
		}

		write.Events = append(write.Events, record)
		write.Pending = append(write.Pending, PendingEvent{
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       v,
			Data:          mirror,
		})
	}

	for _, c := range claims {
		c.AggregateID = aggID
		c.Version = v
		write.Claims = append(write.Claims, c)
	}

	if err := s.driver.AppendTx(ctx, write); err != nil {
		switch {
		case errors.Is(err, ErrConcurrencyConflict):
			s.metrics.ConcurrencyConflict(aggType)
		case errors.Is(err, ErrDuplicateUniqueValue):
			s.metrics.DuplicateUniqueValue(aggType)
		}
		return 0, fmt.Errorf("failed to append agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}

	s.metrics.EventsAppended(aggType, len(write.Events))
	s.log.Debug(
		"appended",
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
			v.SlogAttr(),
		),
		slog.Int("num_events", len(write.Events)),
		slog.Int("num_claims", len(write.Claims)),
	)
	return v, nil
}

// Load returns the aggregate's events with version strictly greater than
// after, ascending. An aggregate with no such events yields an empty slice.
func (s *Store) Load(ctx context.Context, aggType, aggID string, after Version) ([]Event, error) {
	if aggType == "" {
		return nil, validationf("aggregate type is empty")
	}
	if aggID == "" {
		return nil, validationf("aggregate id is empty")
	}

	defer s.metrics.StoreLoadDuration(aggType).ObserveDuration()

	events, err := s.driver.ReadEvents(ctx, aggType, aggID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to load agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	return events, nil
}

// Driver exposes the underlying storage driver so sibling components built
// around the same store share one handle.
func (s *Store) Driver() Driver { return s.driver }
