package es

import (
	"context"
	"fmt"
	"log/slog"
)

// Repository orchestrates the store, publisher, corrector and memento store
// for one aggregate type. Save appends, attempts publish, then snapshots if
// the type has the capability. Find corrects, loads the latest memento plus
// any newer events, and replays them onto a freshly constructed aggregate.
type Repository[S any] struct {
	log       *slog.Logger
	typ       *Type[S]
	store     *Store
	publisher *Publisher
	corrector *Corrector
	mementos  *MementoStore
	codec     Codec
	metrics   ESMetrics
}

func NewRepository[S any](typ *Type[S], driver Driver, bus Bus, opts ...Option) *Repository[S] {
	options := newOptions(opts...)
	log := options.log.With(
		slog.String("component", "repository"),
		slog.String("agg_type", typ.Name()),
	)
	return &Repository[S]{
		log:       log,
		typ:       typ,
		store:     NewStore(driver, opts...),
		publisher: NewPublisher(driver, bus, opts...),
		corrector: NewCorrector(driver, opts...),
		mementos:  NewMementoStore(driver, opts...),
		codec:     options.codec,
		metrics:   options.metrics,
	}
}

// Store returns the repository's event store.
func (r *Repository[S]) Store() *Store { return r.store }

// Publisher returns the repository's outbox publisher, e.g. for out-of-band
// sweeps of staged rows.
func (r *Repository[S]) Publisher() *Publisher { return r.publisher }

// Mementos returns the repository's memento store.
func (r *Repository[S]) Mementos() *MementoStore { return r.mementos }

// Save persists the aggregate's buffered events with optimistic concurrency,
// attempts to publish them, and snapshots the state if the aggregate type
// has the capability. The buffer is cleared once the append has committed.
//
// A publish failure is logged and recovered on a later Save or Find for the
// same aggregate; it never fails the Save (the events are already durable).
// On ErrConcurrencyConflict the caller must reload and retry; the buffer is
// kept so the aggregate can be inspected, but it must not be re-saved as-is.
func (r *Repository[S]) Save(ctx context.Context, agg *Aggregate[S], claims ...UniqueClaim) error {
	if agg == nil {
		return validationf("aggregate is nil")
	}
	if agg.ID == "" {
		return validationf("aggregate id is empty")
	}
	pending := agg.Pending()
	if len(pending) == 0 {
		return nil
	}
	if agg.Version < Version(len(pending)) {
		return validationf("aggregate version %d below pending count %d", agg.Version, len(pending))
	}

	defer r.metrics.RepoSaveDuration(r.typ.Name()).ObserveDuration()

	expected := agg.Version - Version(len(pending))
	newVersion, err := r.store.Append(ctx, r.typ.Name(), agg.ID, expected, pending, claims...)
	if err != nil {
		return err
	}
	agg.clearPending()
	agg.Version = newVersion

	if err := r.publisher.PublishPending(ctx, r.typ.Name(), agg.ID); err != nil {
		r.log.Warn(
			"publish failed, staged rows kept for retry",
			slog.String("agg_id", agg.ID),
			slog.Any("error", err),
		)
	}

	if r.typ.Snapshots() {
		data, err := r.typ.take(agg.State)
		if err != nil {
			return fmt.Errorf("failed to snapshot agg_id=%s: %w", agg.ID, err)
		}
		if err := r.mementos.Save(ctx, Memento{
			AggregateType: r.typ.Name(),
			AggregateID:   agg.ID,
			Version:       agg.Version,
			Data:          data,
		}); err != nil {
			return err
		}
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", agg.ID),
			agg.Version.SlogAttr(),
		),
		slog.Int("num_events", len(pending)),
	)
	return nil
}

// Find reconstructs the aggregate: run correction, drain any staged rows,
// load the latest memento (if the type has the capability), then load and
// replay all newer events. Returns ok=false when the aggregate has never
// been persisted; absence is not an error.
func (r *Repository[S]) Find(ctx context.Context, aggID string) (*Aggregate[S], bool, error) {
	if aggID == "" {
		return nil, false, validationf("aggregate id is empty")
	}

	defer r.metrics.RepoFindDuration(r.typ.Name()).ObserveDuration()

	if err := r.corrector.Correct(ctx, r.typ.Name(), aggID); err != nil {
		return nil, false, err
	}
	if err := r.publisher.PublishPending(ctx, r.typ.Name(), aggID); err != nil {
		r.log.Warn(
			"publish failed, staged rows kept for retry",
			slog.String("agg_id", aggID),
			slog.Any("error", err),
		)
	}

	agg := r.typ.New(aggID)

	if r.typ.Snapshots() {
		memento, ok, err := r.mementos.Find(ctx, r.typ.Name(), aggID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			state, err := r.typ.restore(memento.Data)
			if err != nil {
				return nil, false, fmt.Errorf("failed to restore memento agg_id=%s: %w", aggID, err)
			}
			agg.State = state
			agg.Version = memento.Version
		}
	}

	events, err := r.store.Load(ctx, r.typ.Name(), aggID, agg.Version)
	if err != nil {
		return nil, false, err
	}
	if agg.Version == 0 && len(events) == 0 {
		return nil, false, nil
	}

	for _, record := range events {
		if expect := agg.Version + 1; record.Version != expect {
			return nil, false, fmt.Errorf(
				"stream %s/%s has a gap: expect version %d, got %d",
				r.typ.Name(), aggID, expect, record.Version,
			)
		}
		ev, err := r.typ.decode(r.codec, record)
		if err != nil {
			return nil, false, err
		}
		state, err := r.typ.apply(agg.State, record.Type, ev)
		if err != nil {
			return nil, false, err
		}
		agg.State = state
		agg.Version = record.Version
	}

	return agg, true, nil
}

// Exists reports whether the aggregate has any persisted representation,
// without replaying it.
func (r *Repository[S]) Exists(ctx context.Context, aggID string) (bool, error) {
	if aggID == "" {
		return false, validationf("aggregate id is empty")
	}
	if r.typ.Snapshots() {
		if _, ok, err := r.mementos.Find(ctx, r.typ.Name(), aggID); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	events, err := r.store.Load(ctx, r.typ.Name(), aggID, 0)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}
