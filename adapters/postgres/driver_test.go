package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/youngsunkr/khala-go/core/es"
)

func openTestDriver(t *testing.T) *Driver {
	t.Helper()
	sut, err := Open(t.Context(), Config{URL: NewTestContainer(t)})
	require.NoError(t, err)
	t.Cleanup(sut.Close)
	require.NoError(t, sut.Migrate(t.Context()))
	return sut
}

func writeFor(aggID string, expected es.Version, n int) es.AppendWrite {
	w := es.AppendWrite{
		AggregateType:   "account",
		AggregateID:     aggID,
		ExpectedVersion: expected,
	}
	for i := 1; i <= n; i++ {
		v := expected + es.Version(i)
		data := []byte(fmt.Sprintf(`{"v":%d}`, v))
		w.Events = append(w.Events, es.Event{
			ID:            fmt.Sprintf("%s-ev-%d", aggID, v),
			AggregateType: "account",
			AggregateID:   aggID,
			Version:       v,
			Type:          "account.deposited",
			RaisedAt:      time.Now().UTC(),
			Data:          data,
		})
		w.Pending = append(w.Pending, es.PendingEvent{
			AggregateType: "account",
			AggregateID:   aggID,
			Version:       v,
			Data:          data,
		})
	}
	return w
}

func TestDriver_AppendAndRead(t *testing.T) {
	sut := openTestDriver(t)
	ctx := t.Context()

	w := writeFor("acc-1", 0, 3)
	require.NoError(t, sut.AppendTx(ctx, w))

	events, err := sut.ReadEvents(ctx, "account", "acc-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, w.Events[i].ID, e.ID)
		require.Equal(t, w.Events[i].Version, e.Version)
		require.Equal(t, w.Events[i].Type, e.Type)
		require.Equal(t, w.Events[i].Data, e.Data)
		require.WithinDuration(t, w.Events[i].RaisedAt, e.RaisedAt, time.Second)
	}

	tail, err := sut.ReadEvents(ctx, "account", "acc-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, es.Version(3), tail[0].Version)

	none, err := sut.ReadEvents(ctx, "account", "nope", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDriver_ConcurrencyConflict(t *testing.T) {
	sut := openTestDriver(t)
	ctx := t.Context()

	require.NoError(t, sut.AppendTx(ctx, writeFor("acc-1", 0, 2)))

	// stale expected version
	err := sut.AppendTx(ctx, writeFor("acc-1", 1, 1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// version ahead of the head is just as much a conflict as one behind it
	err = sut.AppendTx(ctx, writeFor("acc-1", 5, 1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// the failed writes must leave no trace
	events, err := sut.ReadEvents(ctx, "account", "acc-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	pending, err := sut.ReadPending(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestDriver_UniqueClaims(t *testing.T) {
	sut := openTestDriver(t)
	ctx := t.Context()

	wa := writeFor("acc-a", 0, 1)
	wa.Claims = []es.UniqueClaim{{Scope: "owner", Value: "alice", AggregateID: "acc-a", Version: 1}}
	require.NoError(t, sut.AppendTx(ctx, wa))

	// a second aggregate claiming the same value is refused and its whole
	// write rolls back
	wb := writeFor("acc-b", 0, 1)
	wb.Claims = []es.UniqueClaim{{Scope: "owner", Value: "alice", AggregateID: "acc-b", Version: 1}}
	require.ErrorIs(t, sut.AppendTx(ctx, wb), es.ErrDuplicateUniqueValue)

	events, err := sut.ReadEvents(ctx, "account", "acc-b", 0)
	require.NoError(t, err)
	require.Empty(t, events)

	// the owner may restate its claim, which bumps the claim version
	wa2 := writeFor("acc-a", 1, 1)
	wa2.Claims = []es.UniqueClaim{{Scope: "owner", Value: "alice", AggregateID: "acc-a", Version: 2}}
	require.NoError(t, sut.AppendTx(ctx, wa2))

	claims, err := sut.ReadClaims(ctx, "account", "acc-a")
	require.NoError(t, err)
	require.Equal(t, []es.UniqueClaim{{Scope: "owner", Value: "alice", AggregateID: "acc-a", Version: 2}}, claims)

	// delete is conditional on owner and version
	require.NoError(t, sut.DeleteClaim(ctx, "account", es.UniqueClaim{Scope: "owner", Value: "alice", AggregateID: "acc-a", Version: 1}))
	claims, err = sut.ReadClaims(ctx, "account", "acc-a")
	require.NoError(t, err)
	require.Len(t, claims, 1)

	require.NoError(t, sut.DeleteClaim(ctx, "account", es.UniqueClaim{Scope: "owner", Value: "alice", AggregateID: "acc-a", Version: 2}))

	// once released, another aggregate may take the value
	wb2 := writeFor("acc-b", 0, 1)
	wb2.Claims = []es.UniqueClaim{{Scope: "owner", Value: "alice", AggregateID: "acc-b", Version: 1}}
	require.NoError(t, sut.AppendTx(ctx, wb2))
}

func TestDriver_PendingLifecycle(t *testing.T) {
	sut := openTestDriver(t)
	ctx := t.Context()

	require.NoError(t, sut.AppendTx(ctx, writeFor("acc-1", 0, 3)))
	require.NoError(t, sut.AppendTx(ctx, writeFor("acc-2", 0, 1)))

	aggs, err := sut.ListPendingAggregates(ctx, "account")
	require.NoError(t, err)
	require.Equal(t, []string{"acc-1", "acc-2"}, aggs)

	last, err := sut.LastPublished(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(0), last)

	require.NoError(t, sut.DeletePending(ctx, "account", "acc-1", []es.Version{1, 2}))

	pending, err := sut.ReadPending(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, es.Version(3), pending[0].Version)

	last, err = sut.LastPublished(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), last)

	// the cursor never moves backwards
	require.NoError(t, sut.DeletePending(ctx, "account", "acc-1", []es.Version{1}))
	last, err = sut.LastPublished(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), last)

	// re-staging a row that already exists is a no-op
	require.NoError(t, sut.InsertPending(ctx, es.PendingEvent{
		AggregateType: "account", AggregateID: "acc-1", Version: 3, Data: []byte(`{"other":true}`),
	}))
	pending, err = sut.ReadPending(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.JSONEq(t, `{"v":3}`, string(pending[0].Data))

	require.NoError(t, sut.InsertPending(ctx, es.PendingEvent{
		AggregateType: "account", AggregateID: "acc-1", Version: 4, Data: []byte(`{"v":4}`),
	}))
	pending, err = sut.ReadPending(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestDriver_Mementos(t *testing.T) {
	sut := openTestDriver(t)
	ctx := t.Context()

	_, ok, err := sut.GetMemento(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, sut.PutMemento(ctx, es.Memento{
		AggregateType: "account", AggregateID: "acc-1", Version: 3, Data: []byte(`{"balance":30}`),
	}))
	require.NoError(t, sut.PutMemento(ctx, es.Memento{
		AggregateType: "account", AggregateID: "acc-1", Version: 5, Data: []byte(`{"balance":50}`),
	}))

	m, ok, err := sut.GetMemento(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, es.Version(5), m.Version)
	require.JSONEq(t, `{"balance":50}`, string(m.Data))

	require.NoError(t, sut.DeleteMemento(ctx, "account", "acc-1"))
	_, ok, err = sut.GetMemento(ctx, "account", "acc-1")
	require.NoError(t, err)
	require.False(t, ok)

	// deleting an absent memento is a no-op
	require.NoError(t, sut.DeleteMemento(ctx, "account", "acc-1"))
}
