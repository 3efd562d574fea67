package es

import (
	"fmt"
	"time"
)

// DomainEvent is implemented by every event payload. The type tag returned
// by EventType is stored alongside the payload and selects the handler in
// the aggregate type's dispatch table. No runtime type inspection is used.
type DomainEvent interface {
	EventType() string
}

// Event is the persisted record of a domain event. It is immutable once
// written; the corrector is the only component allowed to reconcile records
// left behind by a partial write, and even it never rewrites event rows.
type Event struct {
	ID            string    `json:"id"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Version       Version   `json:"version"` // 1..N, contiguous per aggregate stream
	Type          string    `json:"type"`
	RaisedAt      time.Time `json:"raised_at"`
	Data          []byte    `json:"data"`
}

func (e Event) Validate() error {
	if e.ID == "" {
		return validationf("event id is empty")
	}
	if e.AggregateType == "" {
		return validationf("aggregate type is empty")
	}
	if e.AggregateID == "" {
		return validationf("aggregate id is empty")
	}
	if e.Version == 0 {
		return validationf("event version is zero")
	}
	if e.Type == "" {
		return validationf("event type is empty")
	}
	if e.RaisedAt.IsZero() {
		return validationf("raised at time is zero")
	}
	return nil
}

// PendingEvent is the staging mirror of an Event, written atomically with it
// and deleted by the publisher after a confirmed send. Its presence signals
// that delivery of the mirrored event has not been confirmed yet.
type PendingEvent struct {
	AggregateType string  `json:"aggregate_type"`
	AggregateID   string  `json:"aggregate_id"`
	Version       Version `json:"version"`
	Data          []byte  `json:"data"` // encoded Event envelope
}

// UniqueClaim records that Value within Scope (e.g. scope "username",
// value "alice") is held by AggregateID. At most one live claim exists per
// (scope, value). Version is the stream version of the append that wrote the
// claim; the corrector uses it for version-conditioned cleanup.
type UniqueClaim struct {
	Scope       string  `json:"scope"`
	Value       string  `json:"value"`
	AggregateID string  `json:"aggregate_id"`
	Version     Version `json:"version"`
}

func (c UniqueClaim) Validate() error {
	if c.Scope == "" {
		return validationf("claim scope is empty")
	}
	if c.Value == "" {
		return validationf("claim value is empty")
	}
	return nil
}

func (c UniqueClaim) key() string { return c.Scope + "\x00" + c.Value }

func eventTypeOf(ev DomainEvent) (string, error) {
	t := ev.EventType()
	if t == "" {
		return "", fmt.Errorf("%w: empty event type tag for %T", ErrValidation, ev)
	}
	return t, nil
}
