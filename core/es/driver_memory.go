package es

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// InMemoryDriver is a simple, correct (optimistic) Driver for tests/dev.
type InMemoryDriver struct {
	mu        sync.Mutex
	log       *slog.Logger
	streams   map[string][]Event
	pending   map[string]map[Version]PendingEvent
	published map[string]Version
	claims    map[string]map[string]UniqueClaim // aggType -> (scope,value) -> claim
	mementos  map[string]Memento
}

func NewInMemoryDriver() *InMemoryDriver {
	return &InMemoryDriver{
		log:       slog.Default().With(slog.String("driver", "memory")),
		streams:   map[string][]Event{},
		pending:   map[string]map[Version]PendingEvent{},
		published: map[string]Version{},
		claims:    map[string]map[string]UniqueClaim{},
		mementos:  map[string]Memento{},
	}
}

func (d *InMemoryDriver) streamKey(aggType, aggID string) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (d *InMemoryDriver) AppendTx(_ context.Context, w AppendWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		sk         = d.streamKey(w.AggregateType, w.AggregateID)
		curStream  = d.streams[sk]
		curVersion = Version(0)
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != w.ExpectedVersion {
		return ErrConcurrencyConflict
	}

	// verify claims before touching anything; the write is all-or-nothing
	typeClaims, ok := d.claims[w.AggregateType]
	if !ok {
		typeClaims = map[string]UniqueClaim{}
		d.claims[w.AggregateType] = typeClaims
	}
	for _, c := range w.Claims {
		if owned, exists := typeClaims[c.key()]; exists && owned.AggregateID != c.AggregateID {
			return ErrDuplicateUniqueValue
		}
	}

	d.streams[sk] = append(curStream, w.Events...)

	rows, ok := d.pending[sk]
	if !ok {
		rows = map[Version]PendingEvent{}
		d.pending[sk] = rows
	}
	for _, p := range w.Pending {
		rows[p.Version] = p
	}
	for _, c := range w.Claims {
		typeClaims[c.key()] = c
	}

	d.log.Debug(
		"append",
		slog.Group(
			"agg",
			slog.String("type", w.AggregateType),
			slog.String("id", w.AggregateID),
		),
		slog.Int("num_events", len(w.Events)),
		slog.Int("num_claims", len(w.Claims)),
	)
	return nil
}

func (d *InMemoryDriver) ReadEvents(_ context.Context, aggType, aggID string, after Version) ([]Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Event, 0)
	for _, e := range d.streams[d.streamKey(aggType, aggID)] {
		if e.Version > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *InMemoryDriver) ReadPending(_ context.Context, aggType, aggID string) ([]PendingEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := d.pending[d.streamKey(aggType, aggID)]
	out := make([]PendingEvent, 0, len(rows))
	for _, p := range rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (d *InMemoryDriver) InsertPending(_ context.Context, p PendingEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sk := d.streamKey(p.AggregateType, p.AggregateID)
	rows, ok := d.pending[sk]
	if !ok {
		rows = map[Version]PendingEvent{}
		d.pending[sk] = rows
	}
	if _, exists := rows[p.Version]; exists {
		return nil
	}
	rows[p.Version] = p
	return nil
}

func (d *InMemoryDriver) DeletePending(_ context.Context, aggType, aggID string, versions []Version) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sk := d.streamKey(aggType, aggID)
	rows := d.pending[sk]
	for _, v := range versions {
		delete(rows, v)
		if v > d.published[sk] {
			d.published[sk] = v
		}
	}
	return nil
}

func (d *InMemoryDriver) LastPublished(_ context.Context, aggType, aggID string) (Version, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.published[d.streamKey(aggType, aggID)], nil
}

func (d *InMemoryDriver) ListPendingAggregates(_ context.Context, aggType string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, rows := range d.pending {
		// all rows of a stream share the same aggregate, any row will do
		for _, p := range rows {
			if p.AggregateType == aggType {
				if _, ok := seen[p.AggregateID]; !ok {
					seen[p.AggregateID] = struct{}{}
					out = append(out, p.AggregateID)
				}
			}
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *InMemoryDriver) ReadClaims(_ context.Context, aggType, aggID string) ([]UniqueClaim, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]UniqueClaim, 0)
	for _, c := range d.claims[aggType] {
		if c.AggregateID == aggID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out, nil
}

func (d *InMemoryDriver) DeleteClaim(_ context.Context, aggType string, c UniqueClaim) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	typeClaims := d.claims[aggType]
	owned, ok := typeClaims[c.key()]
	if !ok || owned.AggregateID != c.AggregateID || owned.Version != c.Version {
		return nil
	}
	delete(typeClaims, c.key())
	return nil
}

func (d *InMemoryDriver) PutMemento(_ context.Context, m Memento) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mementos[d.streamKey(m.AggregateType, m.AggregateID)] = m
	return nil
}

func (d *InMemoryDriver) GetMemento(_ context.Context, aggType, aggID string) (Memento, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mementos[d.streamKey(aggType, aggID)]
	return m, ok, nil
}

func (d *InMemoryDriver) DeleteMemento(_ context.Context, aggType, aggID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mementos, d.streamKey(aggType, aggID))
	return nil
}

// DropPending removes a pending row without advancing the delivery
// confirmation, emulating a partial append for tests.
func (d *InMemoryDriver) DropPending(aggType, aggID string, v Version) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending[d.streamKey(aggType, aggID)], v)
}

// InjectClaim writes a claim row directly, emulating an orphaned claim left
// behind by a driver without full atomicity. For tests.
func (d *InMemoryDriver) InjectClaim(aggType string, c UniqueClaim) {
	d.mu.Lock()
	defer d.mu.Unlock()
	typeClaims, ok := d.claims[aggType]
	if !ok {
		typeClaims = map[string]UniqueClaim{}
		d.claims[aggType] = typeClaims
	}
	typeClaims[c.key()] = c
}

var _ Driver = (*InMemoryDriver)(nil)
