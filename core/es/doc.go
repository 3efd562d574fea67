// Package es persists and reliably delivers the event history of
// event-sourced aggregates. Clients append immutable domain events, may
// snapshot aggregate state, and reconstruct an aggregate by replaying its
// history.
//
// # Core Components
//
// Store: append-only storage of versioned events per aggregate. Append is a
// compare-and-swap on the aggregate's version ([ErrConcurrencyConflict] on a
// race) and may claim uniqueness constraints on designated string properties
// ([ErrDuplicateUniqueValue] when the value is held by another aggregate).
// Every appended event is mirrored into a pending staging row in the same
// atomic write.
//
// Publisher: drains the pending rows to the message [Bus] as an ordered
// batch and deletes them after a confirmed send. A crash between send and
// delete resends the batch next time; delivery is at-least-once and
// consumers must de-duplicate.
//
// MementoStore: keeps the latest snapshot per aggregate, overwritten on each
// save.
//
// Corrector: reconciles partial writes (event rows without pending mirrors,
// orphaned uniqueness claims) before a read proceeds. All corrective writes
// are conditioned so redundant runs converge.
//
// Repository: orchestrates the above. Save appends, attempts publish, then
// snapshots when the aggregate type has the capability; Find corrects,
// loads the memento plus newer events, and replays.
//
// # Aggregates
//
// An aggregate variant is described by a [Type]: a stream name, a state
// constructor, and an explicit dispatch table built once from [On] entries,
// one per event type tag. There is no base class and no runtime type
// inspection; state lives in a plain [Aggregate] record and transitions are
// pure functions:
//
//	type Account struct {
//	    Owner   string `json:"owner"`
//	    Balance int64  `json:"balance"`
//	}
//
//	var AccountType = es.MustType("account",
//	    func(id string) Account { return Account{} },
//	    []es.EventDef[Account]{
//	        es.On(func() *Opened { return &Opened{} },
//	            func(s Account, e *Opened) (Account, error) {
//	                s.Owner = e.Owner
//	                return s, nil
//	            }),
//	    },
//	)
//
//	repo := es.NewRepository(AccountType, driver, bus)
//	agg := AccountType.New("acc-1")
//	es.Raise(AccountType, agg, &Opened{Owner: "alice"})
//	err := repo.Save(ctx, agg)
//
// # Collaborators
//
// Storage ([Driver]), transport ([Bus]) and payload serialization ([Codec])
// are external collaborators. [InMemoryDriver] and [InMemoryBus] serve
// tests and development; the adapters tree provides Postgres and NATS
// implementations.
//
// # Concurrency
//
// There is no in-process locking; correctness across concurrent writers
// relies entirely on the driver's atomic conditional writes. Publisher and
// Corrector are idempotent and safe to run redundantly. A cancelled Save is
// indeterminate: committed sub-steps stay committed, so callers must re-Find
// to observe actual state.
package es
