package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultListLimit = 50

	foreignKeyViolation = "23503"
)

// PostgresStore persists runs in the runs and device_results tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func parseRunID(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid run ID: %w", err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *PostgresStore) CreateRun(ctx context.Context, id string, startedAt time.Time, deviceCount int) error {
	runID, err := parseRunID(id)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at, device_count) VALUES ($1, $2, $3)`,
		runID, startedAt, int32(deviceCount))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordDevice(ctx context.Context, runID string, r DeviceResult) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO device_results (
			run_id, host, hostname, serial_number, stage, status, error,
			cert_fingerprint, cert_not_after, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, r.Host, r.Hostname, r.SerialNumber, r.Stage, r.Status, r.Error,
		r.CertFingerprint, timestamptz(r.CertNotAfter), r.StartedAt, r.FinishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrRunNotFound
		}
		return fmt.Errorf("failed to record device result: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `UPDATE runs SET finished_at = $2 WHERE id = $1`, id, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `
	r.id, r.started_at, r.finished_at, r.device_count,
	COUNT(d.id) FILTER (WHERE d.status = 'succeeded'),
	COUNT(d.id) FILTER (WHERE d.status = 'failed')`

func scanRun(row pgx.Row) (*Run, error) {
	var (
		id                pgtype.UUID
		finishedAt        pgtype.Timestamptz
		deviceCount       int32
		succeeded, failed int64
		run               Run
	)
	if err := row.Scan(&id, &run.StartedAt, &finishedAt, &deviceCount, &succeeded, &failed); err != nil {
		return nil, err
	}
	run.ID = uuid.UUID(id.Bytes).String()
	run.FinishedAt = timePtr(finishedAt)
	run.DeviceCount = int(deviceCount)
	run.Succeeded = int(succeeded)
	run.Failed = int(failed)
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRunNotFound
	}
	pgID := pgtype.UUID{Bytes: runID, Valid: true}

	run, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT`+runColumns+`
		FROM runs r LEFT JOIN device_results d ON d.run_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`, pgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT host, hostname, serial_number, stage, status, error,
			cert_fingerprint, cert_not_after, started_at, finished_at
		FROM device_results
		WHERE run_id = $1
		ORDER BY id`, pgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d            DeviceResult
			certNotAfter pgtype.Timestamptz
		)
		if err := rows.Scan(&d.Host, &d.Hostname, &d.SerialNumber, &d.Stage, &d.Status, &d.Error,
			&d.CertFingerprint, &certNotAfter, &d.StartedAt, &d.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device result: %w", err)
		}
		d.CertNotAfter = timePtr(certNotAfter)
		run.Devices = append(run.Devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list device results: %w", err)
	}

	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT`+runColumns+`
		FROM runs r LEFT JOIN device_results d ON d.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $1`, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return result, nil
}
