package es

import (
	"context"
	"fmt"
	"log/slog"
)

// MementoStore keeps the latest snapshot of an aggregate's state, keyed by
// aggregate identity. Saving overwrites any prior memento; no history is
// retained.
type MementoStore struct {
	log    *slog.Logger
	driver Driver
}

func NewMementoStore(driver Driver, opts ...Option) *MementoStore {
	options := newOptions(opts...)
	return &MementoStore{
		log:    options.log.With(slog.String("component", "mementos")),
		driver: driver,
	}
}

// Save upserts the single memento row for the aggregate (last-write-wins).
func (m *MementoStore) Save(ctx context.Context, memento Memento) error {
	if memento.AggregateType == "" {
		return validationf("aggregate type is empty")
	}
	if memento.AggregateID == "" {
		return validationf("aggregate id is empty")
	}
	if memento.Version == 0 {
		return validationf("memento version is zero")
	}
	if err := m.driver.PutMemento(ctx, memento); err != nil {
		return fmt.Errorf("failed to save memento agg_id=%s: %w", memento.AggregateID, err)
	}
	m.log.Debug(
		"memento saved",
		slog.Group(
			"agg",
			slog.String("type", memento.AggregateType),
			slog.String("id", memento.AggregateID),
			memento.Version.SlogAttr(),
		),
		slog.Int("size", len(memento.Data)),
	)
	return nil
}

// Find returns the current memento, or ok=false if none exists. Absence is
// not an error.
func (m *MementoStore) Find(ctx context.Context, aggType, aggID string) (Memento, bool, error) {
	if aggType == "" {
		return Memento{}, false, validationf("aggregate type is empty")
	}
	if aggID == "" {
		return Memento{}, false, validationf("aggregate id is empty")
	}
	memento, ok, err := m.driver.GetMemento(ctx, aggType, aggID)
	if err != nil {
		return Memento{}, false, fmt.Errorf("failed to find memento agg_id=%s: %w", aggID, err)
	}
	return memento, ok, nil
}

// Delete removes the memento, forcing a full replay on the next Find.
func (m *MementoStore) Delete(ctx context.Context, aggType, aggID string) error {
	if aggType == "" {
		return validationf("aggregate type is empty")
	}
	if aggID == "" {
		return validationf("aggregate id is empty")
	}
	if err := m.driver.DeleteMemento(ctx, aggType, aggID); err != nil {
		return fmt.Errorf("failed to delete memento agg_id=%s: %w", aggID, err)
	}
	return nil
}
