package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pulsecore/internal/domain"
)

// SQLite is the Repository backend for single-node or development
// deployments without a Postgres cluster. SQLite has no advisory lock
// primitive, so the L2 dedup lock is emulated with a conditional insert
// on a dedup_leases(key, expires_at) table. AcquireAdvisoryLock issues a
// raw BEGIN IMMEDIATE on a dedicated connection to take SQLite's
// write lock up front, which is what makes the check-then-insert
// exclusive across separate OS processes sharing the same database
// file; database/sql's Tx has no option to request that lock mode, so
// BeginTx can't be used here.
//
// All other writes go through a single *sql.DB with MaxOpenConns(1):
// SQLite allows only one writer at a time regardless, and serializing
// through one connection avoids "database is locked" errors under
// contention without needing a separate write-serialization goroutine.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the SQLite database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS metrics (
	service      TEXT NOT NULL,
	metric_kind  TEXT NOT NULL,
	value        REAL NOT NULL,
	window_start DATETIME NOT NULL,
	window_end   DATETIME NOT NULL,
	PRIMARY KEY (service, metric_kind, window_start)
);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	service     TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	resolved    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts (service, alert_type, created_at);

CREATE TABLE IF NOT EXISTS service_activity (
	service   TEXT PRIMARY KEY,
	last_seen DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup_leases (
	key        INTEGER PRIMARY KEY,
	expires_at DATETIME NOT NULL
);
`)
	return err
}

func (s *SQLite) InsertMetricsBatch(ctx context.Context, metrics []domain.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning metrics batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO metrics (service, metric_kind, value, window_start, window_end)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx, m.Service, string(m.Kind), m.Value, m.WindowStart, m.WindowEnd); err != nil {
			return fmt.Errorf("inserting metric: %w", err)
		}
	}
	return tx.Commit()
}

type sqliteLease struct {
	db  *sql.DB
	key int64
}

func (l *sqliteLease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM dedup_leases WHERE key = ?`, l.key)
	return err
}

func (s *SQLite) AcquireAdvisoryLock(ctx context.Context, key int64) (Lease, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring sqlite connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, false, fmt.Errorf("beginning immediate lease tx: %w", err)
	}
	rollback := func() {
		conn.ExecContext(context.Background(), `ROLLBACK`)
	}

	now := time.Now()
	var expiresAt time.Time
	err = conn.QueryRowContext(ctx, `SELECT expires_at FROM dedup_leases WHERE key = ?`, key).Scan(&expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no lease held, fall through to acquire
	case err != nil:
		rollback()
		return nil, false, fmt.Errorf("checking dedup lease: %w", err)
	default:
		if expiresAt.After(now) {
			rollback()
			return nil, false, nil // held and not expired
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM dedup_leases WHERE key = ?`, key); err != nil {
			rollback()
			return nil, false, fmt.Errorf("clearing expired lease: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, `INSERT INTO dedup_leases (key, expires_at) VALUES (?, ?)`, key, now.Add(30*time.Second)); err != nil {
		rollback()
		return nil, false, fmt.Errorf("inserting dedup lease: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		rollback()
		return nil, false, fmt.Errorf("committing dedup lease: %w", err)
	}
	return &sqliteLease{db: s.db, key: key}, true, nil
}

func (s *SQLite) CountUnresolvedAlertsSince(ctx context.Context, service string, alertType domain.AlertType, window time.Duration) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT count(*) FROM alerts
WHERE service = ? AND alert_type = ? AND resolved = 0
  AND created_at > datetime('now', '-' || ? || ' seconds')`,
		service, string(alertType), int(window.Seconds()),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved alerts: %w", err)
	}
	return count, nil
}

func (s *SQLite) InsertAlert(ctx context.Context, candidate domain.CandidateAlert) (domain.PersistedAlert, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, service, alert_type, severity, message)
VALUES (?, ?, ?, ?, ?)`,
		id, candidate.Service, string(candidate.AlertType), string(candidate.Severity), candidate.Message)
	if err != nil {
		return domain.PersistedAlert{}, fmt.Errorf("inserting alert: %w", err)
	}

	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM alerts WHERE id = ?`, id).Scan(&createdAt); err != nil {
		return domain.PersistedAlert{}, fmt.Errorf("reading back created_at: %w", err)
	}

	return domain.PersistedAlert{
		ID:        id,
		Candidate: candidate,
		CreatedAt: createdAt,
	}, nil
}

func (s *SQLite) ResolveAlert(ctx context.Context, service string, alertType domain.AlertType) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE alerts SET resolved = 1, resolved_at = CURRENT_TIMESTAMP
WHERE id = (
	SELECT id FROM alerts
	WHERE service = ? AND alert_type = ? AND resolved = 0
	ORDER BY created_at DESC LIMIT 1
)`, service, string(alertType))
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	return nil
}

func (s *SQLite) MarkServiceActivity(ctx context.Context, service string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO service_activity (service, last_seen) VALUES (?, ?)
ON CONFLICT(service) DO UPDATE SET last_seen = MAX(last_seen, excluded.last_seen)`,
		service, at)
	if err != nil {
		return fmt.Errorf("marking service activity: %w", err)
	}
	return nil
}

func (s *SQLite) ListStaleServices(ctx context.Context, threshold time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT service FROM service_activity WHERE last_seen < datetime('now', '-' || ? || ' seconds')`,
		int(threshold.Seconds()))
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

func (s *SQLite) Close() { s.db.Close() }
