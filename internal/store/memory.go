package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/pkg/uicp"
)

// PGTelemetrySink persists every telemetry event to a Postgres table,
// for hosts that want queryable history instead of (or alongside) log
// lines and webhooks. Grounded on internal/vectorstore/pgvector.go's
// pool-plus-migrate constructor shape, narrowed from "store embeddings
// with a vector index" to "append-only event rows." Implements
// telemetry.Sink without importing internal/telemetry, avoiding an
// import cycle (telemetry registers sinks, it doesn't define them).
type PGTelemetrySink struct {
	pool *pgxpool.Pool
}

// NewPGTelemetrySink connects to dsn and ensures the events table
// exists.
func NewPGTelemetrySink(ctx context.Context, dsn string) (*PGTelemetrySink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry store connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry store ping: %w", err)
	}

	s := &PGTelemetrySink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry store migrate: %w", err)
	}

	log.Info().Msg("postgres telemetry sink initialized")
	return s, nil
}

func (s *PGTelemetrySink) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS uicp_telemetry_events (
			id         BIGSERIAL PRIMARY KEY,
			kind       TEXT NOT NULL,
			txn_id     TEXT NOT NULL DEFAULT '',
			payload    JSONB NOT NULL DEFAULT '{}',
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_uicp_telemetry_kind ON uicp_telemetry_events (kind);
		CREATE INDEX IF NOT EXISTS idx_uicp_telemetry_txn ON uicp_telemetry_events (txn_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Name identifies this sink in telemetry delivery logs.
func (s *PGTelemetrySink) Name() string { return "postgres" }

// Send inserts one event row.
func (s *PGTelemetrySink) Send(ctx context.Context, ev uicp.TelemetryEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO uicp_telemetry_events (kind, txn_id, payload, occurred_at) VALUES ($1, $2, $3, $4)`,
		string(ev.Kind), ev.TxnID, ev.Payload, ts,
	)
	return err
}

// Close releases the connection pool.
func (s *PGTelemetrySink) Close() {
	s.pool.Close()
}
