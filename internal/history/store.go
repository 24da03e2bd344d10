package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"
)

// =============================================================================
// SCHEMA SQL
// =============================================================================

// Three independent append-only logs, each indexed by timestamp. No foreign
// keys: rows are correlated only by timestamp proximity or by caller-chosen
// session_key / job_id values.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS metrics (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  ts          REAL    NOT NULL,
  metric      TEXT    NOT NULL,
  value       REAL,
  value_text  TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_ts     ON metrics(ts);
CREATE INDEX IF NOT EXISTS idx_metrics_metric ON metrics(metric);

CREATE TABLE IF NOT EXISTS sessions (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  ts          REAL    NOT NULL,
  session_key TEXT    NOT NULL,
  data        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_ts ON sessions(ts);

CREATE TABLE IF NOT EXISTS crons (
  id      INTEGER PRIMARY KEY AUTOINCREMENT,
  ts      REAL    NOT NULL,
  job_id  TEXT    NOT NULL,
  data    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crons_ts ON crons(ts);
`

// =============================================================================
// STORE IMPLEMENTATION
// =============================================================================

// Store is the repository over the three history tables. Inserts are
// serialized by an internal mutex; range queries run unserialized and rely
// on SQLite WAL isolation, so readers see either fully pre- or fully
// post-commit state.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewStore creates a store over an open database client.
func NewStore(client DatabaseClient) *Store {
	return &Store{
		db:   client.DB(),
		path: client.Path(),
	}
}

// Migrate creates tables and indexes. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection. Subsequent operations fail with
// the driver's closed-database error.
func (s *Store) Close() error {
	return s.db.Close()
}

// now is swapped in tests that pin RecordTextMetric timestamps.
var now = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// =============================================================================
// METRICS
// =============================================================================

// RecordMetricsBatch inserts one metric row per entry at the given
// timestamp. Numeric values are stored in the value column; anything else
// is stored as its string representation.
func (s *Store) RecordMetricsBatch(ctx context.Context, ts float64, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for metric, value := range values {
		if f, ok := asFloat(value); ok {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO metrics (ts, metric, value, value_text) VALUES (?, ?, ?, NULL)`,
				ts, metric, f,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO metrics (ts, metric, value, value_text) VALUES (?, ?, NULL, ?)`,
				ts, metric, fmt.Sprint(value),
			)
		}
		if err != nil {
			return fmt.Errorf("insert metric %q: %w", metric, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics batch: %w", err)
	}
	return nil
}

// RecordTextMetric inserts a single text-valued metric row timestamped
// "now". Used for the snapshot metric and other opaque string payloads.
func (s *Store) RecordTextMetric(ctx context.Context, metric, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (ts, metric, value, value_text) VALUES (?, ?, NULL, ?)`,
		now(), metric, text,
	)
	if err != nil {
		return fmt.Errorf("insert text metric %q: %w", metric, err)
	}
	return nil
}

// QueryMetrics returns time-bucketed average values for a metric over
// [fromTS, toTS]. Bucket key = floor(ts / interval) * interval; rows with a
// NULL numeric value are excluded and empty buckets are omitted, so the
// returned series may be sparse.
func (s *Store) QueryMetrics(ctx context.Context, metric string, fromTS, toTS float64, intervalSeconds int) ([]BucketPoint, error) {
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}

	// Timestamps are non-negative, so integer truncation equals floor.
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CAST(CAST(ts / ?1 AS INTEGER) * ?1 AS REAL) AS bucket,
			AVG(value) AS avg_val
		FROM metrics
		WHERE metric = ?2
		  AND ts >= ?3
		  AND ts <= ?4
		  AND value IS NOT NULL
		GROUP BY bucket
		ORDER BY bucket ASC
	`, intervalSeconds, metric, fromTS, toTS)
	if err != nil {
		return nil, fmt.Errorf("query metrics failed: %w", err)
	}
	defer rows.Close()

	points := []BucketPoint{} // Initialize as empty slice, not nil
	for rows.Next() {
		var bucket float64
		var avg sql.NullFloat64
		if err := rows.Scan(&bucket, &avg); err != nil {
			return nil, fmt.Errorf("scan bucket failed: %w", err)
		}
		if !avg.Valid {
			continue
		}
		points = append(points, BucketPoint{Bucket: bucket, Average: avg.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return points, nil
}

// ListMetricNames returns the distinct metric names present, sorted
// ascending.
func (s *Store) ListMetricNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric FROM metrics ORDER BY metric ASC`)
	if err != nil {
		return nil, fmt.Errorf("list metric names failed: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan metric name failed: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return names, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

// RecordSession appends one session observation.
func (s *Store) RecordSession(ctx context.Context, ts float64, sessionKey string, payload map[string]any) error {
	data, err := encodeJSON(payload)
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (ts, session_key, data) VALUES (?, ?, ?)`,
		ts, sessionKey, data,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// QuerySessions returns session observations in [fromTS, toTS] ascending by
// timestamp, optionally filtered to one session key.
func (s *Store) QuerySessions(ctx context.Context, fromTS, toTS float64, sessionKey string) ([]SessionRecord, error) {
	query := `SELECT ts, session_key, data FROM sessions WHERE ts >= ? AND ts <= ?`
	args := []any{fromTS, toTS}
	if sessionKey != "" {
		query += ` AND session_key = ?`
		args = append(args, sessionKey)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions failed: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var data string
		if err := rows.Scan(&rec.Timestamp, &rec.SessionKey, &data); err != nil {
			return nil, fmt.Errorf("scan session failed: %w", err)
		}
		rec.Payload = decodePayload(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

// =============================================================================
// CRONS
// =============================================================================

// RecordCron appends one cron run observation.
func (s *Store) RecordCron(ctx context.Context, ts float64, jobID string, payload map[string]any) error {
	data, err := encodeJSON(payload)
	if err != nil {
		return fmt.Errorf("encode cron payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crons (ts, job_id, data) VALUES (?, ?, ?)`,
		ts, jobID, data,
	); err != nil {
		return fmt.Errorf("insert cron: %w", err)
	}
	return nil
}

// QueryCrons returns cron observations in [fromTS, toTS] ascending by
// timestamp, optionally filtered to one job id.
func (s *Store) QueryCrons(ctx context.Context, fromTS, toTS float64, jobID string) ([]CronRecord, error) {
	query := `SELECT ts, job_id, data FROM crons WHERE ts >= ? AND ts <= ?`
	args := []any{fromTS, toTS}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crons failed: %w", err)
	}
	defer rows.Close()

	records := []CronRecord{}
	for rows.Next() {
		var rec CronRecord
		var data string
		if err := rows.Scan(&rec.Timestamp, &rec.JobID, &data); err != nil {
			return nil, fmt.Errorf("scan cron failed: %w", err)
		}
		rec.Payload = decodePayload(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// QuerySnapshotNear returns the snapshot payload whose timestamp is closest
// to the given timestamp, and whether one exists. Equidistant snapshots
// resolve to the earlier timestamp.
func (s *Store) QuerySnapshotNear(ctx context.Context, ts float64) (Payload, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_text FROM metrics
		WHERE metric = ? AND value_text IS NOT NULL
		ORDER BY ABS(ts - ?) ASC, ts ASC
		LIMIT 1
	`, MetricSnapshot, ts).Scan(&text)
	if err == sql.ErrNoRows {
		return Payload{}, false, nil
	}
	if err != nil {
		return Payload{}, false, fmt.Errorf("query snapshot failed: %w", err)
	}
	return decodePayload(text), true, nil
}

// =============================================================================
// STATS
// =============================================================================

// Stats returns overall metric-table statistics plus the database file size
// (0 if the file cannot be stat'ed, e.g. in-memory databases).
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats
	var oldest, newest sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(ts), MAX(ts) FROM metrics`,
	).Scan(&stats.TotalPoints, &oldest, &newest)
	if err != nil {
		return StoreStats{}, fmt.Errorf("query stats failed: %w", err)
	}
	stats.OldestTS = oldest.Float64
	stats.NewestTS = newest.Float64

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = info.Size()
		}
	}
	return stats, nil
}
