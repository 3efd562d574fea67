package es

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher drains the pending staging area to the message bus. Pending rows
// are written atomically with their event rows on append and deleted here
// only after a confirmed send, which gives at-least-once delivery across
// process crashes: a crash between send and delete resends the same batch on
// the next invocation. Publisher never mutates event rows.
type Publisher struct {
	log     *slog.Logger
	driver  Driver
	bus     Bus
	codec   Codec
	metrics ESMetrics
}

func NewPublisher(driver Driver, bus Bus, opts ...Option) *Publisher {
	options := newOptions(opts...)
	return &Publisher{
		log:     options.log.With(slog.String("component", "publisher")),
		driver:  driver,
		bus:     bus,
		codec:   options.codec,
		metrics: options.metrics,
	}
}

// PublishPending sends the aggregate's pending events as a single ordered
// batch and deletes the staged rows after the send is confirmed. Calling it
// with an empty pending set is a no-op. Safe to run concurrently or
// redundantly for the same aggregate.
func (p *Publisher) PublishPending(ctx context.Context, aggType, aggID string) error {
	if aggType == "" {
		return validationf("aggregate type is empty")
	}
	if aggID == "" {
		return validationf("aggregate id is empty")
	}

	defer p.metrics.PublishDuration(aggType).ObserveDuration()

	rows, err := p.driver.ReadPending(ctx, aggType, aggID)
	if err != nil {
		return fmt.Errorf("failed to read pending agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if len(rows) == 0 {
		return nil
	}

	msgs := make([]Message, 0, len(rows))
	versions := make([]Version, 0, len(rows))
	for _, row := range rows {
		var record Event
		if err := p.codec.Unmarshal(row.Data, &record); err != nil {
			return fmt.Errorf("failed to decode pending row version=%d: %w", row.Version, err)
		}
		msgs = append(msgs, Message{
			ID:            record.ID,
			AggregateType: record.AggregateType,
			AggregateID:   record.AggregateID,
			Type:          record.Type,
			Version:       record.Version,
			Data:          row.Data,
		})
		versions = append(versions, row.Version)
	}

	if err := p.bus.SendBatch(ctx, msgs); err != nil {
		p.metrics.PublishFailure(aggType)
		return fmt.Errorf("failed to send batch agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	p.metrics.EventsPublished(aggType, len(msgs))

	// A failed delete leaves the rows for the next invocation, which resends
	// them. That is the at-least-once contract, never a silent drop.
	if err := p.driver.DeletePending(ctx, aggType, aggID, versions); err != nil {
		return fmt.Errorf("failed to delete pending agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}

	p.log.Debug(
		"published",
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
		slog.Int("num_events", len(msgs)),
	)
	return nil
}

// PublishAllPending drains every aggregate of the given type that still has
// staged rows. Intended for out-of-band sweeps after crashes or bus outages.
func (p *Publisher) PublishAllPending(ctx context.Context, aggType string) error {
	if aggType == "" {
		return validationf("aggregate type is empty")
	}

	ids, err := p.driver.ListPendingAggregates(ctx, aggType)
	if err != nil {
		return fmt.Errorf("failed to list pending aggregates agg_type=%s: %w", aggType, err)
	}
	for _, id := range ids {
		if err := p.PublishPending(ctx, aggType, id); err != nil {
			return err
		}
	}
	return nil
}
