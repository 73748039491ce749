package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"metricboard/internal/timeutil"
	"metricboard/metric"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrInUse is returned when deleting a row that other rows still reference.
	ErrInUse    = errors.New("still referenced")
	ErrConflict = errors.New("already exists")
)

// OpenSQLite opens (and migrates) the database at path. Transactions start
// with BEGIN IMMEDIATE so concurrent imports queue on the busy timeout instead
// of failing on the read-to-write lock upgrade.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable; used by the health endpoint.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS metric_types (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	code TEXT NOT NULL UNIQUE,
	unit TEXT NOT NULL DEFAULT '',
	target REAL,
	better_when TEXT NOT NULL DEFAULT 'higher' CHECK(better_when IN ('higher', 'lower'))
);

CREATE TABLE IF NOT EXISTS subjects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	manager TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS import_batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ref TEXT NOT NULL UNIQUE,
	actor TEXT NOT NULL DEFAULT '',
	metric_type_id INTEGER NOT NULL REFERENCES metric_types(id) ON DELETE RESTRICT,
	original_filename TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('pending', 'imported', 'failed')),
	report TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metric_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id INTEGER NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
	metric_type_id INTEGER NOT NULL REFERENCES metric_types(id) ON DELETE RESTRICT,
	date TEXT NOT NULL,
	value REAL NOT NULL,
	batch_id INTEGER NOT NULL REFERENCES import_batches(id) ON DELETE RESTRICT,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(subject_id, metric_type_id, date)
);

CREATE INDEX IF NOT EXISTS idx_metric_records_subject_date ON metric_records(subject_id, date);
CREATE INDEX IF NOT EXISTS idx_metric_records_batch ON metric_records(batch_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in one transaction. Every record written through tx is
// committed when fn returns nil and rolled back otherwise.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx metric.RecordWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	writer, err := prepareRecordTx(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer writer.close()

	if err := fn(writer); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rollbackErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type recordTx struct {
	subjectByExternalID *sql.Stmt
	selectRecord        *sql.Stmt
	insertRecord        *sql.Stmt
	updateRecord        *sql.Stmt
}

func prepareRecordTx(ctx context.Context, tx *sql.Tx) (*recordTx, error) {
	var err error
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, query)
		return stmt
	}

	writer := &recordTx{
		subjectByExternalID: prepare(selectSubjectByExternalID),
		selectRecord:        prepare(`SELECT id FROM metric_records WHERE subject_id = ? AND metric_type_id = ? AND date = ?;`),
		insertRecord:        prepare(`INSERT INTO metric_records (subject_id, metric_type_id, date, value, batch_id) VALUES (?, ?, ?, ?, ?);`),
		updateRecord:        prepare(`UPDATE metric_records SET value = ?, batch_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`),
	}
	if err != nil {
		writer.close()
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	return writer, nil
}

func (w *recordTx) close() {
	for _, stmt := range []*sql.Stmt{w.subjectByExternalID, w.selectRecord, w.insertRecord, w.updateRecord} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

func (w *recordTx) SubjectByExternalID(ctx context.Context, externalID string) (metric.Subject, bool, error) {
	subject, err := scanSubject(w.subjectByExternalID.QueryRowContext(ctx, strings.TrimSpace(externalID)))
	if errors.Is(err, sql.ErrNoRows) {
		return metric.Subject{}, false, nil
	}
	if err != nil {
		return metric.Subject{}, false, fmt.Errorf("query subject %q: %w", externalID, err)
	}
	return subject, true, nil
}

func (w *recordTx) UpsertRecord(ctx context.Context, record metric.Record) (bool, error) {
	date := timeutil.FormatDate(record.Date)
	value := roundValue(record.Value)

	var id int64
	err := w.selectRecord.QueryRowContext(ctx, record.SubjectID, record.TypeID, date).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := w.insertRecord.ExecContext(ctx, record.SubjectID, record.TypeID, date, value, record.BatchID); err != nil {
			return false, fmt.Errorf("insert record: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("query record: %w", err)
	}

	if _, err := w.updateRecord.ExecContext(ctx, value, record.BatchID, id); err != nil {
		return false, fmt.Errorf("update record %d: %w", id, err)
	}
	return false, nil
}

// roundValue keeps four decimal places, the precision records are kept at.
func roundValue(value float64) float64 {
	return math.Round(value*1e4) / 1e4
}

// RecordFilter narrows ListRecords. Zero fields do not filter.
type RecordFilter struct {
	SubjectID int64
	TypeID    int64
	From      *time.Time
	To        *time.Time
}

func (f RecordFilter) where() (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if f.SubjectID > 0 {
		clauses = append(clauses, "r.subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.TypeID > 0 {
		clauses = append(clauses, "r.metric_type_id = ?")
		args = append(args, f.TypeID)
	}
	if f.From != nil {
		clauses = append(clauses, "r.date >= ?")
		args = append(args, timeutil.FormatDate(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "r.date <= ?")
		args = append(args, timeutil.FormatDate(*f.To))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListRecords returns records ordered by metric type and date.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]metric.Record, error) {
	where, args := filter.where()
	query := `
SELECT r.id, r.subject_id, r.metric_type_id, r.date, r.value, r.batch_id
FROM metric_records r
` + where + `
ORDER BY r.metric_type_id, r.date, r.id;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]metric.Record, 0, 64)
	for rows.Next() {
		var (
			record  metric.Record
			dateRaw string
		)
		if err := rows.Scan(&record.ID, &record.SubjectID, &record.TypeID, &dateRaw, &record.Value, &record.BatchID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if record.Date, err = timeutil.ParseDate(dateRaw); err != nil {
			return nil, fmt.Errorf("parse record date %q: %w", dateRaw, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// RecordDetail is a record joined with the identifiers people recognise.
type RecordDetail struct {
	metric.Record
	SubjectExternalID string
	SubjectName       string
	Type              metric.Type
}

// ListRecordDetails returns records with subject and metric type resolved,
// ordered by date, metric code and subject.
func (s *SQLiteStore) ListRecordDetails(ctx context.Context, filter RecordFilter) ([]RecordDetail, error) {
	where, args := filter.where()
	query := `
SELECT
	r.id, r.subject_id, r.metric_type_id, r.date, r.value, r.batch_id,
	s.external_id, s.name,
	t.id, t.name, t.code, t.unit, t.target, t.better_when
FROM metric_records r
JOIN subjects s ON s.id = r.subject_id
JOIN metric_types t ON t.id = r.metric_type_id
` + where + `
ORDER BY r.date, t.code, s.external_id;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query record details: %w", err)
	}
	defer rows.Close()

	details := make([]RecordDetail, 0, 256)
	for rows.Next() {
		var (
			detail     RecordDetail
			dateRaw    string
			target     sql.NullFloat64
			betterWhen string
		)
		if err := rows.Scan(
			&detail.ID, &detail.SubjectID, &detail.TypeID, &dateRaw, &detail.Value, &detail.BatchID,
			&detail.SubjectExternalID, &detail.SubjectName,
			&detail.Type.ID, &detail.Type.Name, &detail.Type.Code, &detail.Type.Unit, &target, &betterWhen,
		); err != nil {
			return nil, fmt.Errorf("scan record detail: %w", err)
		}
		if detail.Date, err = timeutil.ParseDate(dateRaw); err != nil {
			return nil, fmt.Errorf("parse record date %q: %w", dateRaw, err)
		}
		detail.Type.Target = nullableFloat(target)
		detail.Type.BetterWhen = metric.BetterWhen(betterWhen)
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record details: %w", err)
	}
	return details, nil
}
