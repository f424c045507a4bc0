package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_results (
    scan_id      TEXT NOT NULL,
    task_id      TEXT NOT NULL,
    target       TEXT NOT NULL,
    verdict      TEXT NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scan_id, task_id)
);
CREATE TABLE IF NOT EXISTS detections (
    id           UUID PRIMARY KEY,
    scan_id      TEXT NOT NULL,
    task_id      TEXT NOT NULL,
    target       TEXT NOT NULL,
    name         TEXT NOT NULL,
    code         TEXT NOT NULL,
    severity     INTEGER NOT NULL,
    reason       TEXT NOT NULL,
    snippet      TEXT NOT NULL,
    features     JSONB NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS detections_scan_id_idx ON detections (scan_id);
`

const sqlInsertResult = `
        INSERT INTO scan_results (scan_id, task_id, target, verdict, observed_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (scan_id, task_id) DO UPDATE SET
            target = EXCLUDED.target,
            verdict = EXCLUDED.verdict,
            observed_at = EXCLUDED.observed_at;
    `

var detectionColumns = []string{"id", "scan_id", "task_id", "target", "name", "code", "severity", "reason", "snippet", "features", "observed_at"}

// Store persists result envelopes to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PersistData writes one envelope and its detections in a single transaction.
func (s *Store) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	if envelope == nil {
		return errors.New("envelope must not be nil")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	observedAt := envelope.Timestamp.UTC()
	if envelope.Timestamp.IsZero() {
		observedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, sqlInsertResult,
		envelope.ScanID, envelope.TaskID, envelope.Target, string(envelope.Verdict), observedAt); err != nil {
		return fmt.Errorf("failed to insert scan result: %w", err)
	}

	if len(envelope.Detections) > 0 {
		if err := s.persistDetections(ctx, tx, envelope, observedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Result persisted.",
		zap.String("scan_id", envelope.ScanID),
		zap.String("task_id", envelope.TaskID),
		zap.Int("detections", len(envelope.Detections)))
	return nil
}

func (s *Store) persistDetections(ctx context.Context, tx pgx.Tx, env *schemas.ResultEnvelope, observedAt time.Time) error {
	rows := make([][]interface{}, len(env.Detections))
	for i, d := range env.Detections {
		features := []byte("{}")
		if len(d.Features) > 0 {
			encoded, err := json.Marshal(d.Features)
			if err != nil {
				return fmt.Errorf("failed to encode features for %s: %w", d.Name, err)
			}
			features = encoded
		}
		rows[i] = []interface{}{
			uuid.New(), env.ScanID, env.TaskID, env.Target,
			d.Name, d.Code, d.Severity, d.Reason, d.Snippet,
			features, observedAt,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"detections"}, detectionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy detections: %w", err)
	}
	if int(copyCount) != len(env.Detections) {
		return fmt.Errorf("mismatch in copied detections count: expected %d, got %d", len(env.Detections), copyCount)
	}
	return nil
}

// GetDetectionsByScanID returns every stored detection of a scan, strongest first.
func (s *Store) GetDetectionsByScanID(ctx context.Context, scanID string) ([]schemas.Detection, error) {
	query := `
        SELECT name, code, severity, reason, snippet, features
        FROM detections
        WHERE scan_id = $1
        ORDER BY severity DESC, name ASC;
    `
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []schemas.Detection
	for rows.Next() {
		var d schemas.Detection
		var features []byte
		if err := rows.Scan(&d.Name, &d.Code, &d.Severity, &d.Reason, &d.Snippet, &features); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		if len(features) > 0 && string(features) != "{}" {
			if err := json.Unmarshal(features, &d.Features); err != nil {
				return nil, fmt.Errorf("failed to decode features for %s: %w", d.Name, err)
			}
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return detections, nil
}
