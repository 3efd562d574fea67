package es

import "context"

// Memento is the snapshot of an aggregate's state as of Version. At most one
// live memento exists per aggregate; saving replaces any prior one.
type Memento struct {
	AggregateType string  `json:"aggregate_type"`
	AggregateID   string  `json:"aggregate_id"`
	Version       Version `json:"version"`
	Data          []byte  `json:"data"`
}

// AppendWrite is the full write set of one Append call. The driver must
// apply it atomically: either every row is persisted or none is.
type AppendWrite struct {
	AggregateType   string
	AggregateID     string
	ExpectedVersion Version
	Events          []Event        // versions ExpectedVersion+1 .. ExpectedVersion+len(Events)
	Pending         []PendingEvent // one mirror row per event
	Claims          []UniqueClaim
}

// Driver is the minimal storage capability set the core is written against.
// Implementations must provide atomic conditional writes; the core holds no
// in-process locks and relies entirely on the driver for correctness across
// concurrent writers.
//
// Error contract: version races surface as ErrConcurrencyConflict, claim
// collisions as ErrDuplicateUniqueValue, and retryable faults wrapped via
// Transient. Absence is never an error.
type Driver interface {
	// AppendTx atomically verifies that the stream's current version equals
	// w.ExpectedVersion, then inserts all event, pending and claim rows.
	AppendTx(ctx context.Context, w AppendWrite) error

	// ReadEvents returns events with version strictly greater than after,
	// ordered by version ascending. An unknown aggregate yields an empty
	// slice, not an error.
	ReadEvents(ctx context.Context, aggType, aggID string, after Version) ([]Event, error)

	// ReadPending returns the aggregate's pending rows ordered by version.
	ReadPending(ctx context.Context, aggType, aggID string) ([]PendingEvent, error)

	// InsertPending inserts p unless a pending row for its version already
	// exists. Re-inserting an existing row is a no-op, which keeps
	// concurrent correctors from double-applying a fix.
	InsertPending(ctx context.Context, p PendingEvent) error

	// DeletePending removes the given pending rows in one batch and advances
	// the aggregate's delivery confirmation to the highest removed version.
	DeletePending(ctx context.Context, aggType, aggID string, versions []Version) error

	// LastPublished returns the highest version whose delivery has been
	// confirmed for the aggregate, or 0 if nothing has been published.
	LastPublished(ctx context.Context, aggType, aggID string) (Version, error)

	// ListPendingAggregates returns the ids of aggregates of the given type
	// that currently have pending rows.
	ListPendingAggregates(ctx context.Context, aggType string) ([]string, error)

	// ReadClaims returns the unique claims owned by the aggregate.
	ReadClaims(ctx context.Context, aggType, aggID string) ([]UniqueClaim, error)

	// DeleteClaim removes the claim only while it is still owned by
	// c.AggregateID at c.Version. A claim that is already gone or has been
	// re-claimed is left untouched and no error is returned.
	DeleteClaim(ctx context.Context, aggType string, c UniqueClaim) error

	// PutMemento upserts the single memento row for the aggregate.
	PutMemento(ctx context.Context, m Memento) error

	// GetMemento returns the aggregate's memento, or ok=false if absent.
	GetMemento(ctx context.Context, aggType, aggID string) (m Memento, ok bool, err error)

	// DeleteMemento removes the memento, forcing a full replay on the next
	// read. Deleting an absent memento is a no-op.
	DeleteMemento(ctx context.Context, aggType, aggID string) error
}
