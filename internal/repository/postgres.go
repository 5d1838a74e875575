package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecore/internal/domain"
)

// Postgres is the Repository backend for deployments with a Postgres
// cluster, using session-scoped pg_try_advisory_lock for L2
// deduplication.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, poolSize int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = poolSize
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS metrics (
	service      TEXT NOT NULL,
	metric_kind  TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (service, metric_kind, window_start)
);

CREATE TABLE IF NOT EXISTS alerts (
	id          UUID PRIMARY KEY,
	service     TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	resolved    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts (service, alert_type, created_at) WHERE NOT resolved;

CREATE TABLE IF NOT EXISTS service_activity (
	service   TEXT PRIMARY KEY,
	last_seen TIMESTAMPTZ NOT NULL
);
`)
	return err
}

func (p *Postgres) InsertMetricsBatch(ctx context.Context, metrics []domain.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
INSERT INTO metrics (service, metric_kind, value, window_start, window_end)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (service, metric_kind, window_start) DO NOTHING`,
			m.Service, string(m.Kind), m.Value, m.WindowStart, m.WindowEnd)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range metrics {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting metric batch: %w", err)
		}
	}
	return nil
}

// pgLease holds the checked-out connection an advisory lock is scoped
// to; advisory locks are per-session, so the connection must stay
// checked out of the pool until Release.
type pgLease struct {
	conn *pgxpool.Conn
	key  int64
}

func (l *pgLease) Release(ctx context.Context) error {
	defer l.conn.Release()
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	return err
}

func (p *Postgres) AcquireAdvisoryLock(ctx context.Context, key int64) (Lease, bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return &pgLease{conn: conn, key: key}, true, nil
}

func (p *Postgres) CountUnresolvedAlertsSince(ctx context.Context, service string, alertType domain.AlertType, window time.Duration) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM alerts
WHERE service = $1 AND alert_type = $2 AND NOT resolved
  AND created_at > now() - ($3 * interval '1 second')`,
		service, string(alertType), window.Seconds(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved alerts: %w", err)
	}
	return count, nil
}

func (p *Postgres) InsertAlert(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, error) {
	id := uuid.New()
	var createdAt time.Time
	err := p.pool.QueryRow(ctx, `
INSERT INTO alerts (id, service, alert_type, severity, message)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`,
		id, candidate.Service, string(candidate.AlertType), string(candidate.Severity), candidate.Message,
	).Scan(&createdAt)
	if err != nil {
		return domain.PersistedAlert{}, fmt.Errorf("inserting alert: %w", err)
	}
	return domain.PersistedAlert{
		ID:        id.String(),
		Candidate: candidate,
		CreatedAt: createdAt,
	}, nil
}

func (p *Postgres) ResolveAlert(ctx context.Context, service string, alertType domain.AlertType) error {
	_, err := p.pool.Exec(ctx, `
UPDATE alerts SET resolved = TRUE, resolved_at = now()
WHERE id = (
	SELECT id FROM alerts
	WHERE service = $1 AND alert_type = $2 AND NOT resolved
	ORDER BY created_at DESC LIMIT 1
)`, service, string(alertType))
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	return nil
}

func (p *Postgres) MarkServiceActivity(ctx context.Context, service string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO service_activity (service, last_seen) VALUES ($1, $2)
ON CONFLICT (service) DO UPDATE SET last_seen = GREATEST(service_activity.last_seen, EXCLUDED.last_seen)`,
		service, at)
	if err != nil {
		return fmt.Errorf("marking service activity: %w", err)
	}
	return nil
}

func (p *Postgres) ListStaleServices(ctx context.Context, threshold time.Duration) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
SELECT service FROM service_activity WHERE last_seen < now() - ($1 * interval '1 second')`,
		threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("listing stale services: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() { p.pool.Close() }
