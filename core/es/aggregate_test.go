package es_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/youngsunkr/khala-go/core/es"
)

func TestRaise_AppliesAndBuffers(t *testing.T) {
	agg := accountType.New("acc-1")

	require.NoError(t, es.Raise(accountType, agg,
		&Opened{Owner: "alice"},
		&Deposited{Amount: 100},
	))

	require.Equal(t, es.Version(2), agg.Version)
	require.Equal(t, "alice", agg.State.Owner)
	require.Equal(t, int64(100), agg.State.Balance)
	require.Len(t, agg.Pending(), 2)
}

func TestRaise_RejectedEventLeavesAggregateUnchanged(t *testing.T) {
	agg := accountType.New("acc-1")
	require.NoError(t, es.Raise(accountType, agg, &Opened{Owner: "alice"}, &Deposited{Amount: 10}))

	err := es.Raise(accountType, agg, &Withdrawn{Amount: 999})
	require.Error(t, err)

	require.Equal(t, es.Version(2), agg.Version)
	require.Equal(t, int64(10), agg.State.Balance)
	require.Len(t, agg.Pending(), 2)
}

func TestRaise_BatchIsAllOrNothing(t *testing.T) {
	agg := accountType.New("acc-1")
	require.NoError(t, es.Raise(accountType, agg, &Opened{Owner: "alice"}))

	err := es.Raise(accountType, agg, &Deposited{Amount: 5}, &Withdrawn{Amount: 50})
	require.Error(t, err)

	require.Equal(t, es.Version(1), agg.Version)
	require.Equal(t, int64(0), agg.State.Balance)
	require.Len(t, agg.Pending(), 1)
}

func TestNewType_Validation(t *testing.T) {
	newState := func(string) Account { return Account{} }

	_, err := es.NewType("", newState, accountDefs())
	require.ErrorIs(t, err, es.ErrValidation)

	_, err = es.NewType[Account]("account", nil, accountDefs())
	require.ErrorIs(t, err, es.ErrValidation)

	_, err = es.NewType("account", newState, []es.EventDef[Account]{})
	require.ErrorIs(t, err, es.ErrValidation)

	dup := append(accountDefs(), es.On(func() *Opened { return &Opened{} },
		func(s Account, _ *Opened) (Account, error) { return s, nil }))
	_, err = es.NewType("account", newState, dup)
	require.ErrorIs(t, err, es.ErrValidation)
}

func TestType_Capabilities(t *testing.T) {
	require.True(t, accountType.Snapshots())
	require.False(t, ledgerType.Snapshots())
	require.Equal(t, "account", accountType.Name())
}
