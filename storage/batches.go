package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"metricboard/metric"
)

const selectBatch = `
SELECT id, ref, actor, metric_type_id, original_filename, status, report, created_at
FROM import_batches`

func scanBatch(row rowScanner) (metric.Batch, error) {
	var (
		batch      metric.Batch
		status     string
		reportRaw  string
		createdRaw string
	)
	if err := row.Scan(&batch.ID, &batch.Ref, &batch.Actor, &batch.TypeID, &batch.OriginalFilename, &status, &reportRaw, &createdRaw); err != nil {
		return metric.Batch{}, err
	}
	batch.Status = metric.BatchStatus(status)

	if err := json.Unmarshal([]byte(reportRaw), &batch.Report); err != nil {
		return metric.Batch{}, fmt.Errorf("decode report of batch %d: %w", batch.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339, createdRaw)
	if err != nil {
		return metric.Batch{}, fmt.Errorf("parse created_at %q: %w", createdRaw, err)
	}
	batch.CreatedAt = createdAt
	return batch, nil
}

// CreateBatch stores a new batch. Ref and CreatedAt are filled in when empty.
func (s *SQLiteStore) CreateBatch(ctx context.Context, batch metric.Batch) (metric.Batch, error) {
	if batch.Ref == "" {
		batch.Ref = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if batch.Status == "" {
		batch.Status = metric.BatchPending
	}
	if batch.Report.Errors == nil {
		batch.Report.Errors = make([]metric.RowError, 0)
	}

	report, err := json.Marshal(batch.Report)
	if err != nil {
		return metric.Batch{}, fmt.Errorf("encode batch report: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO import_batches (ref, actor, metric_type_id, original_filename, status, report, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		batch.Ref,
		batch.Actor,
		batch.TypeID,
		batch.OriginalFilename,
		string(batch.Status),
		string(report),
		batch.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return metric.Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	if batch.ID, err = res.LastInsertId(); err != nil {
		return metric.Batch{}, fmt.Errorf("read inserted batch id: %w", err)
	}
	return batch, nil
}

// FinalizeBatch writes the final status and report of a pending batch.
// Finalized batches are never changed again.
func (s *SQLiteStore) FinalizeBatch(ctx context.Context, id int64, status metric.BatchStatus, report metric.Report) error {
	if status == metric.BatchPending {
		return fmt.Errorf("batch %d: final status must not be %q", id, status)
	}
	if report.Errors == nil {
		report.Errors = make([]metric.RowError, 0)
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode batch report: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET status = ?, report = ? WHERE id = ? AND status = ?;`,
		string(status), string(encoded), id, string(metric.BatchPending),
	)
	if err != nil {
		return fmt.Errorf("finalize batch %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read updated row count: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetBatch(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("batch %d is already finalized", id)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id int64) (metric.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, selectBatch+` WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return metric.Batch{}, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return metric.Batch{}, fmt.Errorf("query batch %d: %w", id, err)
	}
	return batch, nil
}

// ListBatches returns the newest batches first. limit <= 0 returns all.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]metric.Batch, error) {
	query := selectBatch + ` ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query+`;`, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := make([]metric.Batch, 0, 32)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// CountBatchRecords returns how many records were last written by batch id.
func (s *SQLiteStore) CountBatchRecords(ctx context.Context, id int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metric_records WHERE batch_id = ?;`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records of batch %d: %w", id, err)
	}
	return count, nil
}

// DeleteBatch removes a batch that owns no records. Batches that still own
// records fail with ErrInUse; records are never deleted through their batch.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owned int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM metric_records WHERE batch_id = ?;`, id).Scan(&owned); err != nil {
		return fmt.Errorf("count records of batch %d: %w", id, err)
	}
	if owned > 0 {
		return fmt.Errorf("batch %d owns %d records: %w", id, owned, ErrInUse)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM import_batches WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete batch %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read deleted row count: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}
