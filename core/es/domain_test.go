package es_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/youngsunkr/khala-go/core/es"
)

// Account is the aggregate state used across the package tests.
type Account struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
	Closed  bool   `json:"closed"`
}

type (
	Opened struct {
		Owner string `json:"owner"`
	}
	Deposited struct {
		Amount int64 `json:"amount"`
	}
	Withdrawn struct {
		Amount int64 `json:"amount"`
	}
	Closed struct{}
)

func (*Opened) EventType() string    { return "account.opened" }
func (*Deposited) EventType() string { return "account.deposited" }
func (*Withdrawn) EventType() string { return "account.withdrawn" }
func (*Closed) EventType() string    { return "account.closed" }

func accountDefs() []es.EventDef[Account] {
	return []es.EventDef[Account]{
		es.On(func() *Opened { return &Opened{} },
			func(s Account, e *Opened) (Account, error) {
				s.Owner = e.Owner
				return s, nil
			}),
		es.On(func() *Deposited { return &Deposited{} },
			func(s Account, e *Deposited) (Account, error) {
				s.Balance += e.Amount
				return s, nil
			}),
		es.On(func() *Withdrawn { return &Withdrawn{} },
			func(s Account, e *Withdrawn) (Account, error) {
				if e.Amount > s.Balance {
					return s, errors.New("insufficient balance")
				}
				s.Balance -= e.Amount
				return s, nil
			}),
		es.On(func() *Closed { return &Closed{} },
			func(s Account, _ *Closed) (Account, error) {
				s.Closed = true
				return s, nil
			}),
	}
}

// accountType snapshots its state; ledgerType replays in full every time.
var (
	accountType = es.MustType("account",
		func(string) Account { return Account{} },
		accountDefs(),
		es.WithSnapshots(
			func(s Account) ([]byte, error) { return json.Marshal(s) },
			func(data []byte) (s Account, err error) { err = json.Unmarshal(data, &s); return },
		),
	)

	ledgerType = es.MustType("ledger",
		func(string) Account { return Account{} },
		accountDefs(),
	)
)

// flakyBus fails the first failures sends, then delegates to the inner bus.
type flakyBus struct {
	mu       sync.Mutex
	failures int
	inner    *es.InMemoryBus
}

func (b *flakyBus) Send(ctx context.Context, msg es.Message) error {
	return b.SendBatch(ctx, []es.Message{msg})
}

func (b *flakyBus) SendBatch(ctx context.Context, msgs []es.Message) error {
	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		b.mu.Unlock()
		return errors.New("bus unavailable")
	}
	b.mu.Unlock()
	return b.inner.SendBatch(ctx, msgs)
}
