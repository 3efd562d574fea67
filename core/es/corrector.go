package es

import (
	"context"
	"fmt"
	"log/slog"
)

// Corrector reconciles storage left inconsistent by a crash or a lost race,
// before a read proceeds. Two cases exist:
//
//   - An event row has no pending mirror and no delivery confirmation: the
//     append wrote the event but the pending insert never committed (only
//     possible under a driver without full atomicity). The mirror is
//     re-derived and re-inserted so at-least-once delivery is not silently
//     broken.
//   - A uniqueness claim references a stream version that does not exist:
//     the claim committed but the event insert did not. The orphaned claim
//     is removed so the value becomes claimable again.
//
// Every corrective write is conditioned on the state it fixes (insert only
// if absent, delete only if still owned at the recorded version), so
// concurrent correctors never double-apply a fix and any number of runs
// converges to the same state.
type Corrector struct {
	log     *slog.Logger
	driver  Driver
	codec   Codec
	metrics ESMetrics
}

func NewCorrector(driver Driver, opts ...Option) *Corrector {
	options := newOptions(opts...)
	return &Corrector{
		log:     options.log.With(slog.String("component", "corrector")),
		driver:  driver,
		codec:   options.codec,
		metrics: options.metrics,
	}
}

// Correct runs the reconciliation for one aggregate. It is idempotent and
// safe to run concurrently or redundantly.
func (c *Corrector) Correct(ctx context.Context, aggType, aggID string) error {
	if aggType == "" {
		return validationf("aggregate type is empty")
	}
	if aggID == "" {
		return validationf("aggregate id is empty")
	}

	events, err := c.driver.ReadEvents(ctx, aggType, aggID, 0)
	if err != nil {
		return fmt.Errorf("failed to read events agg_id=%s: %w", aggID, err)
	}

	if err := c.restorePending(ctx, aggType, aggID, events); err != nil {
		return err
	}
	return c.dropOrphanedClaims(ctx, aggType, aggID, events)
}

func (c *Corrector) restorePending(ctx context.Context, aggType, aggID string, events []Event) error {
	published, err := c.driver.LastPublished(ctx, aggType, aggID)
	if err != nil {
		return fmt.Errorf("failed to read publish confirmation agg_id=%s: %w", aggID, err)
	}
	rows, err := c.driver.ReadPending(ctx, aggType, aggID)
	if err != nil {
		return fmt.Errorf("failed to read pending agg_id=%s: %w", aggID, err)
	}

	staged := make(map[Version]struct{}, len(rows))
	for _, p := range rows {
		staged[p.Version] = struct{}{}
	}

	for _, e := range events {
		if e.Version <= published {
			continue // delivery already confirmed
		}
		if _, ok := staged[e.Version]; ok {
			continue
		}
		mirror, err := c.codec.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode pending mirror version=%d: %w", e.Version, err)
		}
		if err := c.driver.InsertPending(ctx, PendingEvent{
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       e.Version,
			Data:          mirror,
		}); err != nil {
			return fmt.Errorf("failed to restore pending version=%d: %w", e.Version, err)
		}
		c.metrics.CorrectionApplied(aggType, "pending_restored")
		c.log.Debug(
			"restored pending row",
			slog.Group(
				"agg",
				slog.String("type", aggType),
				slog.String("id", aggID),
			),
			e.Version.SlogAttr(),
		)
	}
	return nil
}

func (c *Corrector) dropOrphanedClaims(ctx context.Context, aggType, aggID string, events []Event) error {
	claims, err := c.driver.ReadClaims(ctx, aggType, aggID)
	if err != nil {
		return fmt.Errorf("failed to read claims agg_id=%s: %w", aggID, err)
	}
	if len(claims) == 0 {
		return nil
	}

	var head Version
	if len(events) > 0 {
		head = events[len(events)-1].Version
	}

	for _, claim := range claims {
		if claim.Version <= head {
			continue // the append that wrote this claim is fully committed
		}
		if err := c.driver.DeleteClaim(ctx, aggType, claim); err != nil {
			return fmt.Errorf("failed to drop orphaned claim scope=%s: %w", claim.Scope, err)
		}
		c.metrics.CorrectionApplied(aggType, "claim_dropped")
		c.log.Debug(
			"dropped orphaned claim",
			slog.Group(
				"agg",
				slog.String("type", aggType),
				slog.String("id", aggID),
			),
			slog.String("scope", claim.Scope),
			claim.Version.SlogAttrWithKey("claim_version"),
		)
	}
	return nil
}
