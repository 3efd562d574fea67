// Package postgres implements the storage driver on PostgreSQL via pgx.
// Version contiguity and uniqueness claims map onto primary keys, so the
// conditional writes the core relies on are enforced by the database even
// when two processes race past the optimistic pre-checks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youngsunkr/khala-go/core/es"
)

const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS khala_events (
	aggregate_type text        NOT NULL,
	aggregate_id   text        NOT NULL,
	version        bigint      NOT NULL,
	event_id       text        NOT NULL,
	event_type     text        NOT NULL,
	raised_at      timestamptz NOT NULL,
	data           bytea       NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS khala_pending (
	aggregate_type text   NOT NULL,
	aggregate_id   text   NOT NULL,
	version        bigint NOT NULL,
	data           bytea  NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS khala_publish_cursor (
	aggregate_type text   NOT NULL,
	aggregate_id   text   NOT NULL,
	version        bigint NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id)
);

CREATE TABLE IF NOT EXISTS khala_claims (
	aggregate_type text   NOT NULL,
	scope          text   NOT NULL,
	value          text   NOT NULL,
	aggregate_id   text   NOT NULL,
	version        bigint NOT NULL,
	PRIMARY KEY (aggregate_type, scope, value)
);

CREATE TABLE IF NOT EXISTS khala_mementos (
	aggregate_type text   NOT NULL,
	aggregate_id   text   NOT NULL,
	version        bigint NOT NULL,
	data           bytea  NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id)
);
`

type Config struct {
	URL string       // URL is the postgres connection string
	Log *slog.Logger // Log for diagnostics (optional)
}

// Driver implements es.Driver on a pgx connection pool.
type Driver struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func Open(ctx context.Context, cfg Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, es.Transient(err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Driver{
		pool: pool,
		log:  log.With(slog.String("driver", "postgres")),
	}, nil
}

func (d *Driver) Close() { d.pool.Close() }

// Migrate creates the driver's tables if they do not exist.
func (d *Driver) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return wrapErr(err)
	}
	d.log.Debug("migrated schema")
	return nil
}

func (d *Driver) AppendTx(ctx context.Context, w es.AppendWrite) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(
			ctx,
			`SELECT COALESCE(MAX(version), 0) FROM khala_events
			 WHERE aggregate_type = $1 AND aggregate_id = $2`,
			w.AggregateType, w.AggregateID,
		).Scan(&current)
		if err != nil {
			return wrapErr(err)
		}
		if es.Version(current) != w.ExpectedVersion {
			return es.ErrConcurrencyConflict
		}

		for _, e := range w.Events {
			_, err := tx.Exec(
				ctx,
				`INSERT INTO khala_events
				   (aggregate_type, aggregate_id, version, event_id, event_type, raised_at, data)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.AggregateType, e.AggregateID, int64(e.Version), e.ID, e.Type, e.RaisedAt, e.Data,
			)
			if err != nil {
				// two writers passed the version check; the primary key
				// decides the race
				if isUniqueViolation(err) {
					return es.ErrConcurrencyConflict
				}
				return wrapErr(err)
			}
		}

		for _, p := range w.Pending {
			_, err := tx.Exec(
				ctx,
				`INSERT INTO khala_pending (aggregate_type, aggregate_id, version, data)
				 VALUES ($1, $2, $3, $4)`,
				p.AggregateType, p.AggregateID, int64(p.Version), p.Data,
			)
			if err != nil {
				return wrapErr(err)
			}
		}

		for _, c := range w.Claims {
			tag, err := tx.Exec(
				ctx,
				`INSERT INTO khala_claims (aggregate_type, scope, value, aggregate_id, version)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (aggregate_type, scope, value) DO UPDATE
				   SET version = EXCLUDED.version
				   WHERE khala_claims.aggregate_id = EXCLUDED.aggregate_id`,
				w.AggregateType, c.Scope, c.Value, c.AggregateID, int64(c.Version),
			)
			if err != nil {
				return wrapErr(err)
			}
			// zero rows means the conflict row belongs to another aggregate
			if tag.RowsAffected() == 0 {
				return es.ErrDuplicateUniqueValue
			}
		}

		return nil
	})
}

func (d *Driver) ReadEvents(ctx context.Context, aggType, aggID string, after es.Version) ([]es.Event, error) {
	rows, err := d.pool.Query(
		ctx,
		`SELECT event_id, version, event_type, raised_at, data FROM khala_events
		 WHERE aggregate_type = $1 AND aggregate_id = $2 AND version > $3
		 ORDER BY version ASC`,
		aggType, aggID, int64(after),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := make([]es.Event, 0)
	for rows.Next() {
		var (
			e es.Event
			v int64
		)
		if err := rows.Scan(&e.ID, &v, &e.Type, &e.RaisedAt, &e.Data); err != nil {
			return nil, wrapErr(err)
		}
		e.AggregateType = aggType
		e.AggregateID = aggID
		e.Version = es.Version(v)
		out = append(out, e)
	}
	return out, wrapErr(rows.Err())
}

func (d *Driver) ReadPending(ctx context.Context, aggType, aggID string) ([]es.PendingEvent, error) {
	rows, err := d.pool.Query(
		ctx,
		`SELECT version, data FROM khala_pending
		 WHERE aggregate_type = $1 AND aggregate_id = $2
		 ORDER BY version ASC`,
		aggType, aggID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := make([]es.PendingEvent, 0)
	for rows.Next() {
		var (
			p es.PendingEvent
			v int64
		)
		if err := rows.Scan(&v, &p.Data); err != nil {
			return nil, wrapErr(err)
		}
		p.AggregateType = aggType
		p.AggregateID = aggID
		p.Version = es.Version(v)
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

func (d *Driver) InsertPending(ctx context.Context, p es.PendingEvent) error {
	_, err := d.pool.Exec(
		ctx,
		`INSERT INTO khala_pending (aggregate_type, aggregate_id, version, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (aggregate_type, aggregate_id, version) DO NOTHING`,
		p.AggregateType, p.AggregateID, int64(p.Version), p.Data,
	)
	return wrapErr(err)
}

func (d *Driver) DeletePending(ctx context.Context, aggType, aggID string, versions []es.Version) error {
	if len(versions) == 0 {
		return nil
	}
	vs := make([]int64, 0, len(versions))
	confirmed := int64(0)
	for _, v := range versions {
		vs = append(vs, int64(v))
		if int64(v) > confirmed {
			confirmed = int64(v)
		}
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(
			ctx,
			`DELETE FROM khala_pending
			 WHERE aggregate_type = $1 AND aggregate_id = $2 AND version = ANY($3)`,
			aggType, aggID, vs,
		)
		if err != nil {
			return wrapErr(err)
		}
		_, err = tx.Exec(
			ctx,
			`INSERT INTO khala_publish_cursor (aggregate_type, aggregate_id, version)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE
			   SET version = GREATEST(khala_publish_cursor.version, EXCLUDED.version)`,
			aggType, aggID, confirmed,
		)
		return wrapErr(err)
	})
}

func (d *Driver) LastPublished(ctx context.Context, aggType, aggID string) (es.Version, error) {
	var v int64
	err := d.pool.QueryRow(
		ctx,
		`SELECT version FROM khala_publish_cursor
		 WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr(err)
	}
	return es.Version(v), nil
}

func (d *Driver) ListPendingAggregates(ctx context.Context, aggType string) ([]string, error) {
	rows, err := d.pool.Query(
		ctx,
		`SELECT DISTINCT aggregate_id FROM khala_pending
		 WHERE aggregate_type = $1
		 ORDER BY aggregate_id`,
		aggType,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, id)
	}
	return out, wrapErr(rows.Err())
}

func (d *Driver) ReadClaims(ctx context.Context, aggType, aggID string) ([]es.UniqueClaim, error) {
	rows, err := d.pool.Query(
		ctx,
		`SELECT scope, value, version FROM khala_claims
		 WHERE aggregate_type = $1 AND aggregate_id = $2
		 ORDER BY scope, value`,
		aggType, aggID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := make([]es.UniqueClaim, 0)
	for rows.Next() {
		var (
			c es.UniqueClaim
			v int64
		)
		if err := rows.Scan(&c.Scope, &c.Value, &v); err != nil {
			return nil, wrapErr(err)
		}
		c.AggregateID = aggID
		c.Version = es.Version(v)
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

func (d *Driver) DeleteClaim(ctx context.Context, aggType string, c es.UniqueClaim) error {
	_, err := d.pool.Exec(
		ctx,
		`DELETE FROM khala_claims
		 WHERE aggregate_type = $1 AND scope = $2 AND value = $3
		   AND aggregate_id = $4 AND version = $5`,
		aggType, c.Scope, c.Value, c.AggregateID, int64(c.Version),
	)
	return wrapErr(err)
}

func (d *Driver) PutMemento(ctx context.Context, m es.Memento) error {
	_, err := d.pool.Exec(
		ctx,
		`INSERT INTO khala_mementos (aggregate_type, aggregate_id, version, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE
		   SET version = EXCLUDED.version, data = EXCLUDED.data`,
		m.AggregateType, m.AggregateID, int64(m.Version), m.Data,
	)
	return wrapErr(err)
}

func (d *Driver) GetMemento(ctx context.Context, aggType, aggID string) (es.Memento, bool, error) {
	var (
		m es.Memento
		v int64
	)
	err := d.pool.QueryRow(
		ctx,
		`SELECT version, data FROM khala_mementos
		 WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	).Scan(&v, &m.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return es.Memento{}, false, nil
	}
	if err != nil {
		return es.Memento{}, false, wrapErr(err)
	}
	m.AggregateType = aggType
	m.AggregateID = aggID
	m.Version = es.Version(v)
	return m, true, nil
}

func (d *Driver) DeleteMemento(ctx context.Context, aggType, aggID string) error {
	_, err := d.pool.Exec(
		ctx,
		`DELETE FROM khala_mementos WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	)
	return wrapErr(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// wrapErr marks network-level faults as transient so callers can retry.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return es.Transient(err)
	}
	return fmt.Errorf("postgres: %w", err)
}

var _ es.Driver = (*Driver)(nil)
