package es

import "fmt"

// Aggregate is the in-memory representation of an event-sourced aggregate:
// an identity, the version of the last applied event, the derived state, and
// an ordered buffer of events raised but not yet persisted. The buffer is
// cleared by the repository after a successful save.
type Aggregate[S any] struct {
	ID      string
	Version Version
	State   S

	pending []DomainEvent
}

// Pending returns a copy of the events raised but not yet persisted, in
// insertion order.
func (a *Aggregate[S]) Pending() []DomainEvent {
	out := make([]DomainEvent, len(a.pending))
	copy(out, a.pending)
	return out
}

func (a *Aggregate[S]) clearPending() { a.pending = nil }

// EventDef binds one event type tag to its decoder and its state transition.
type EventDef[S any] struct {
	tag   string
	newEv func() DomainEvent
	apply func(S, DomainEvent) (S, error)
}

// On builds the dispatch table entry for event type E: newEvent constructs a
// blank payload for decoding, apply is the state transition.
func On[S any, E DomainEvent](newEvent func() E, apply func(S, E) (S, error)) EventDef[S] {
	return EventDef[S]{
		tag:   newEvent().EventType(),
		newEv: func() DomainEvent { return newEvent() },
		apply: func(s S, ev DomainEvent) (S, error) {
			e, ok := ev.(E)
			if !ok {
				return s, fmt.Errorf("event %T dispatched to handler for %q", ev, newEvent().EventType())
			}
			return apply(s, e)
		},
	}
}

// Type describes one aggregate variant: its stream name, how to construct a
// fresh state, the event dispatch table, and the optional snapshot
// capability. The table is built once at initialization; dispatch is a map
// lookup on the event's type tag, never runtime type inspection.
type Type[S any] struct {
	name      string
	newState  func(id string) S
	handlers  map[string]EventDef[S]
	snapshots bool
	take      func(S) ([]byte, error)
	restore   func(data []byte) (S, error)
}

// TypeOption configures a Type.
type TypeOption[S any] interface {
	applyToType(*Type[S])
}

type snapshotCapability[S any] struct {
	take    func(S) ([]byte, error)
	restore func(data []byte) (S, error)
}

func (o snapshotCapability[S]) applyToType(t *Type[S]) {
	t.snapshots = true
	t.take = o.take
	t.restore = o.restore
}

// WithSnapshots grants the aggregate type the snapshot capability. The
// repository checks the capability once per operation; types without it are
// always rebuilt by full replay.
func WithSnapshots[S any](take func(S) ([]byte, error), restore func(data []byte) (S, error)) TypeOption[S] {
	return snapshotCapability[S]{take: take, restore: restore}
}

// NewType builds the aggregate type descriptor. Every event the aggregate
// can raise or replay must have exactly one EventDef.
func NewType[S any](name string, newState func(id string) S, defs []EventDef[S], opts ...TypeOption[S]) (*Type[S], error) {
	if name == "" {
		return nil, validationf("aggregate type name is empty")
	}
	if newState == nil {
		return nil, validationf("aggregate type %q has no state constructor", name)
	}
	if len(defs) == 0 {
		return nil, validationf("aggregate type %q has no event definitions", name)
	}

	handlers := make(map[string]EventDef[S], len(defs))
	for _, def := range defs {
		if def.tag == "" {
			return nil, validationf("aggregate type %q has an event definition with an empty tag", name)
		}
		if _, dup := handlers[def.tag]; dup {
			return nil, validationf("aggregate type %q registers event %q twice", name, def.tag)
		}
		handlers[def.tag] = def
	}

	t := &Type[S]{
		name:     name,
		newState: newState,
		handlers: handlers,
	}
	for _, opt := range opts {
		opt.applyToType(t)
	}
	if t.snapshots && (t.take == nil || t.restore == nil) {
		return nil, validationf("aggregate type %q declares snapshots without take/restore", name)
	}
	return t, nil
}

// MustType is NewType that panics on a malformed descriptor. Intended for
// package-level table construction.
func MustType[S any](name string, newState func(id string) S, defs []EventDef[S], opts ...TypeOption[S]) *Type[S] {
	t, err := NewType(name, newState, defs, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the stream name of the aggregate type.
func (t *Type[S]) Name() string { return t.name }

// Snapshots reports whether the type carries the snapshot capability.
func (t *Type[S]) Snapshots() bool { return t.snapshots }

// New constructs an empty aggregate with a fresh state.
func (t *Type[S]) New(id string) *Aggregate[S] {
	return &Aggregate[S]{ID: id, State: t.newState(id)}
}

func (t *Type[S]) apply(s S, tag string, ev DomainEvent) (S, error) {
	def, ok := t.handlers[tag]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownEventType, tag)
	}
	return def.apply(s, ev)
}

func (t *Type[S]) decode(codec Codec, record Event) (DomainEvent, error) {
	def, ok := t.handlers[record.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, record.Type)
	}
	ev := def.newEv()
	if record.Data != nil {
		if err := codec.Unmarshal(record.Data, ev); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", record.Type, err)
		}
	}
	return ev, nil
}

// Raise applies each event to the aggregate's state through the dispatch
// table, advances the version, and buffers the event for the next save. An
// apply error leaves the aggregate unchanged.
func Raise[S any](t *Type[S], agg *Aggregate[S], events ...DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	state := agg.State
	for _, ev := range events {
		tag, err := eventTypeOf(ev)
		if err != nil {
			return err
		}
		state, err = t.apply(state, tag, ev)
		if err != nil {
			return err
		}
	}

	agg.State = state
	agg.Version += Version(len(events))
	agg.pending = append(agg.pending, events...)
	return nil
}
