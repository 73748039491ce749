package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"metricboard/internal/telemetry"
	"metricboard/metric"
)

// ErrStorage wraps persistence failures. An import that fails with it has had
// all of its record writes rolled back.
var ErrStorage = errors.New("storage fault")

const (
	ReasonIncompleteRow = "incomplete row (subject_id/date/value)"
	defaultFilename     = "upload.xlsx"
)

// Store is the persistence the importer needs. WithinTx must commit every
// write made through the RecordWriter or none of them.
type Store interface {
	CreateBatch(ctx context.Context, batch metric.Batch) (metric.Batch, error)
	FinalizeBatch(ctx context.Context, id int64, status metric.BatchStatus, report metric.Report) error
	WithinTx(ctx context.Context, fn func(tx metric.RecordWriter) error) error
}

// Source is one uploaded spreadsheet. Format is inferred from Filename when
// empty.
type Source struct {
	Filename string
	Format   string
	Reader   io.Reader
}

type Result struct {
	OK      bool
	BatchID int64
	Report  metric.Report
}

type Service struct {
	store   Store
	logger  *zap.Logger
	metrics *telemetry.ImportMetrics
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics *telemetry.ImportMetrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import reads src and upserts one record per valid row for metric type t.
//
// A header without the required columns returns OK=false with the header
// diagnostics as report and creates nothing. Otherwise a batch is always
// created; rows that are incomplete or name an unknown subject are listed in
// the report and skipped. OK is true only when no row was rejected. Storage
// faults roll back every record write of the import and are returned as an
// error wrapping ErrStorage.
func (s *Service) Import(ctx context.Context, t metric.Type, src Source, actor string) (Result, error) {
	started := time.Now()
	filename := filepath.Base(strings.TrimSpace(src.Filename))
	if filename == "" || filename == "." {
		filename = defaultFilename
	}
	logger := s.logger.With(
		zap.String("metric", t.Code),
		zap.String("file", filename),
		zap.String("actor", actor),
	)

	format := strings.TrimSpace(src.Format)
	if format == "" {
		inferred, err := InferFormat(filename)
		if err != nil {
			s.metrics.ObserveImport(telemetry.OutcomeUnreadable, metric.Report{}, time.Since(started))
			return Result{}, err
		}
		format = inferred
	}

	sheet, err := OpenSheet(format, src.Reader)
	if err != nil {
		logger.Warn("import rejected: unreadable file", zap.Error(err))
		s.metrics.ObserveImport(telemetry.OutcomeUnreadable, metric.Report{}, time.Since(started))
		return Result{}, err
	}
	defer sheet.Close()

	header, err := readHeader(sheet)
	if err != nil {
		var headerErr *HeaderError
		if errors.As(err, &headerErr) {
			logger.Warn("import rejected: invalid header",
				zap.Strings("found", headerErr.Found),
				zap.Strings("missing", headerErr.Missing),
			)
			report := headerReport(headerErr)
			s.metrics.ObserveImport(telemetry.OutcomeHeaderError, report, time.Since(started))
			return Result{Report: report}, nil
		}
		s.metrics.ObserveImport(telemetry.OutcomeUnreadable, metric.Report{}, time.Since(started))
		return Result{}, fmt.Errorf("%w: %w", ErrUnreadableSheet, err)
	}

	batch, err := s.store.CreateBatch(ctx, metric.Batch{
		Actor:            actor,
		TypeID:           t.ID,
		OriginalFilename: filename,
		Status:           metric.BatchPending,
		Report:           metric.NewReport(),
	})
	if err != nil {
		logger.Error("create import batch", zap.Error(err))
		s.metrics.ObserveImport(telemetry.OutcomeStorageFault, metric.Report{}, time.Since(started))
		return Result{}, fmt.Errorf("%w: create batch: %w", ErrStorage, err)
	}
	logger = logger.With(zap.Int64("batch_id", batch.ID))

	var report metric.Report
	err = s.store.WithinTx(ctx, func(tx metric.RecordWriter) error {
		report = metric.NewReport()
		for row, err := range ExtractRows(sheet, header, t) {
			if err != nil {
				return fmt.Errorf("%w: row %d: %w", ErrUnreadableSheet, row.Number, err)
			}
			if err := s.importRow(ctx, tx, logger, t, batch.ID, row, &report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, logger, batch.ID, err, started)
	}

	report.Imported = report.Created + report.Updated
	if err := s.store.FinalizeBatch(ctx, batch.ID, metric.BatchImported, report); err != nil {
		logger.Error("finalize import batch", zap.Error(err))
		s.metrics.ObserveImport(telemetry.OutcomeStorageFault, report, time.Since(started))
		return Result{BatchID: batch.ID, Report: report}, fmt.Errorf("%w: finalize batch %d: %w", ErrStorage, batch.ID, err)
	}

	result := Result{OK: len(report.Errors) == 0, BatchID: batch.ID, Report: report}
	outcome := telemetry.OutcomeSuccess
	if !result.OK {
		outcome = telemetry.OutcomePartial
	}
	s.metrics.ObserveImport(outcome, report, time.Since(started))
	logger.Info("import completed",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("rejected", len(report.Errors)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (s *Service) importRow(ctx context.Context, tx metric.RecordWriter, logger *zap.Logger, t metric.Type, batchID int64, row Row, report *metric.Report) error {
	if !row.Complete() {
		logger.Debug("row rejected", zap.Int("row", row.Number), zap.String("reason", ReasonIncompleteRow))
		report.Errors = append(report.Errors, metric.RowError{Row: row.Number, Reason: ReasonIncompleteRow})
		return nil
	}

	subject, found, err := tx.SubjectByExternalID(ctx, row.SubjectID)
	if err != nil {
		return fmt.Errorf("%w: lookup subject %q: %w", ErrStorage, row.SubjectID, err)
	}
	if !found {
		reason := fmt.Sprintf("subject_id '%s' not found", row.SubjectID)
		logger.Debug("row rejected", zap.Int("row", row.Number), zap.String("reason", reason))
		report.Errors = append(report.Errors, metric.RowError{Row: row.Number, Reason: reason})
		return nil
	}

	created, err := tx.UpsertRecord(ctx, metric.Record{
		SubjectID: subject.ID,
		TypeID:    t.ID,
		Date:      *row.Date,
		Value:     *row.Value,
		BatchID:   batchID,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert row %d: %w", ErrStorage, row.Number, err)
	}
	if created {
		report.Created++
	} else {
		report.Updated++
	}
	return nil
}

// fail marks the batch failed after a rolled-back transaction and returns the
// cause, wrapped in ErrStorage unless the sheet itself broke.
func (s *Service) fail(ctx context.Context, logger *zap.Logger, batchID int64, cause error, started time.Time) (Result, error) {
	outcome := telemetry.OutcomeStorageFault
	if errors.Is(cause, ErrUnreadableSheet) {
		outcome = telemetry.OutcomeUnreadable
	} else if !errors.Is(cause, ErrStorage) {
		cause = fmt.Errorf("%w: %w", ErrStorage, cause)
	}
	logger.Error("import rolled back", zap.Error(cause))

	report := metric.NewReport()
	report.Error = cause.Error()
	if err := s.store.FinalizeBatch(context.WithoutCancel(ctx), batchID, metric.BatchFailed, report); err != nil {
		logger.Error("mark import batch failed", zap.Error(err))
	}
	s.metrics.ObserveImport(outcome, report, time.Since(started))
	return Result{BatchID: batchID, Report: report}, cause
}

func headerReport(err *HeaderError) metric.Report {
	report := metric.NewReport()
	report.Error = "invalid header"
	report.Found = err.Found
	report.Expected = err.Expected
	return report
}
