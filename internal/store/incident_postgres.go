package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/ratelimit-gateway/internal/incident"
)

// IncidentSchema creates the table rate limit incidents are written to.
const IncidentSchema = `
	CREATE TABLE IF NOT EXISTS ratelimit_incidents (
		id          TEXT PRIMARY KEY,
		policy      TEXT        NOT NULL,
		bucket_key  TEXT        NOT NULL,
		client_ip   TEXT,
		method      TEXT,
		path        TEXT,
		count       BIGINT      NOT NULL,
		max         BIGINT      NOT NULL,
		degraded    BOOLEAN     NOT NULL DEFAULT FALSE,
		occurred_at TIMESTAMPTZ NOT NULL
	)
`

// IncidentPostgresStore is a PostgreSQL implementation of incident.Store.
type IncidentPostgresStore struct {
	pool *pgxpool.Pool
}

// NewIncidentPostgresStore creates a new PostgreSQL-backed incident store.
func NewIncidentPostgresStore(pool *pgxpool.Pool) *IncidentPostgresStore {
	return &IncidentPostgresStore{pool: pool}
}

// EnsureSchema creates the incidents table if it does not exist.
func (p *IncidentPostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, IncidentSchema)

	return err
}

// SaveDenied inserts an incident. Redelivered incidents are ignored.
func (p *IncidentPostgresStore) SaveDenied(ctx context.Context, event *incident.DeniedEvent) error {
	query := `
		INSERT INTO ratelimit_incidents
			(id, policy, bucket_key, client_ip, method, path, count, max, degraded, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.Policy,
		event.BucketKey,
		nullableString(event.ClientIP),
		nullableString(event.Method),
		nullableString(event.Path),
		event.Count,
		event.Limit,
		event.Degraded,
		event.OccurredAt,
	)

	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// Compile-time check.
var _ incident.Store = (*IncidentPostgresStore)(nil)
