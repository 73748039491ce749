package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"metricboard/metric"
)

const (
	selectMetricType          = `SELECT id, name, code, unit, target, better_when FROM metric_types`
	selectSubject             = `SELECT id, external_id, name, team, manager, active FROM subjects`
	selectSubjectByExternalID = selectSubject + ` WHERE external_id = ?;`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetricType(row rowScanner) (metric.Type, error) {
	var (
		t          metric.Type
		target     sql.NullFloat64
		betterWhen string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Code, &t.Unit, &target, &betterWhen); err != nil {
		return metric.Type{}, err
	}
	t.Target = nullableFloat(target)
	t.BetterWhen = metric.BetterWhen(betterWhen)
	return t, nil
}

func scanSubject(row rowScanner) (metric.Subject, error) {
	var subject metric.Subject
	if err := row.Scan(&subject.ID, &subject.ExternalID, &subject.Name, &subject.Team, &subject.Manager, &subject.Active); err != nil {
		return metric.Subject{}, err
	}
	return subject, nil
}

func nullableFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

// CreateMetricType stores t and returns it with its new ID. Codes are unique.
func (s *SQLiteStore) CreateMetricType(ctx context.Context, t metric.Type) (metric.Type, error) {
	t.Code = strings.TrimSpace(t.Code)
	t.Name = strings.TrimSpace(t.Name)
	if t.Code == "" || t.Name == "" {
		return metric.Type{}, fmt.Errorf("metric type name and code are required")
	}
	if t.BetterWhen == "" {
		t.BetterWhen = metric.HigherIsBetter
	}

	if _, err := s.GetMetricTypeByCode(ctx, t.Code); err == nil {
		return metric.Type{}, fmt.Errorf("metric type %q: %w", t.Code, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return metric.Type{}, err
	}

	var target sql.NullFloat64
	if t.Target != nil {
		target = sql.NullFloat64{Float64: *t.Target, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_types (name, code, unit, target, better_when) VALUES (?, ?, ?, ?, ?);`,
		t.Name, t.Code, strings.TrimSpace(t.Unit), target, string(t.BetterWhen),
	)
	if err != nil {
		return metric.Type{}, fmt.Errorf("insert metric type %q: %w", t.Code, err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return metric.Type{}, fmt.Errorf("read inserted metric type id: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListMetricTypes(ctx context.Context) ([]metric.Type, error) {
	rows, err := s.db.QueryContext(ctx, selectMetricType+` ORDER BY name, code;`)
	if err != nil {
		return nil, fmt.Errorf("query metric types: %w", err)
	}
	defer rows.Close()

	types := make([]metric.Type, 0, 16)
	for rows.Next() {
		t, err := scanMetricType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric types: %w", err)
	}
	return types, nil
}

func (s *SQLiteStore) GetMetricType(ctx context.Context, id int64) (metric.Type, error) {
	t, err := scanMetricType(s.db.QueryRowContext(ctx, selectMetricType+` WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return metric.Type{}, fmt.Errorf("metric type %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return metric.Type{}, fmt.Errorf("query metric type %d: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) GetMetricTypeByCode(ctx context.Context, code string) (metric.Type, error) {
	code = strings.TrimSpace(code)
	t, err := scanMetricType(s.db.QueryRowContext(ctx, selectMetricType+` WHERE code = ?;`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return metric.Type{}, fmt.Errorf("metric type %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return metric.Type{}, fmt.Errorf("query metric type %q: %w", code, err)
	}
	return t, nil
}

// FindMetricType resolves ref as a numeric ID first and as a code otherwise.
func (s *SQLiteStore) FindMetricType(ctx context.Context, ref string) (metric.Type, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return metric.Type{}, fmt.Errorf("metric type reference is empty: %w", ErrNotFound)
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		t, err := s.GetMetricType(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return t, err
		}
	}
	return s.GetMetricTypeByCode(ctx, ref)
}

// CreateSubject stores subject and returns it with its new ID. External IDs
// are unique.
func (s *SQLiteStore) CreateSubject(ctx context.Context, subject metric.Subject) (metric.Subject, error) {
	subject.ExternalID = strings.TrimSpace(subject.ExternalID)
	if subject.ExternalID == "" {
		return metric.Subject{}, fmt.Errorf("subject external id is required")
	}

	if _, err := s.GetSubjectByExternalID(ctx, subject.ExternalID); err == nil {
		return metric.Subject{}, fmt.Errorf("subject %q: %w", subject.ExternalID, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return metric.Subject{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (external_id, name, team, manager, active) VALUES (?, ?, ?, ?, ?);`,
		subject.ExternalID,
		strings.TrimSpace(subject.Name),
		strings.TrimSpace(subject.Team),
		strings.TrimSpace(subject.Manager),
		subject.Active,
	)
	if err != nil {
		return metric.Subject{}, fmt.Errorf("insert subject %q: %w", subject.ExternalID, err)
	}
	if subject.ID, err = res.LastInsertId(); err != nil {
		return metric.Subject{}, fmt.Errorf("read inserted subject id: %w", err)
	}
	return subject, nil
}

func (s *SQLiteStore) GetSubjectByExternalID(ctx context.Context, externalID string) (metric.Subject, error) {
	externalID = strings.TrimSpace(externalID)
	subject, err := scanSubject(s.db.QueryRowContext(ctx, selectSubjectByExternalID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return metric.Subject{}, fmt.Errorf("subject %q: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return metric.Subject{}, fmt.Errorf("query subject %q: %w", externalID, err)
	}
	return subject, nil
}

func (s *SQLiteStore) ListSubjects(ctx context.Context) ([]metric.Subject, error) {
	rows, err := s.db.QueryContext(ctx, selectSubject+` ORDER BY external_id;`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	subjects := make([]metric.Subject, 0, 64)
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

// DeleteMetricType removes a metric type nothing refers to. Types with
// batches or records fail with ErrInUse.
func (s *SQLiteStore) DeleteMetricType(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var references int
	err = tx.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM import_batches WHERE metric_type_id = ?) +
	(SELECT COUNT(*) FROM metric_records WHERE metric_type_id = ?);`, id, id).Scan(&references)
	if err != nil {
		return fmt.Errorf("count references of metric type %d: %w", id, err)
	}
	if references > 0 {
		return fmt.Errorf("metric type %d: %w", id, ErrInUse)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM metric_types WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete metric type %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read deleted row count: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("metric type %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}
