package importer

import (
	"context"
	"errors"
	"maps"
	"strings"
	"testing"
	"time"

	"metricboard/metric"
)

type recordKey struct {
	subject int64
	typ     int64
	date    string
}

type fakeStore struct {
	subjects  map[string]metric.Subject
	records   map[recordKey]metric.Record
	batches   map[int64]metric.Batch
	nextBatch int64

	failUpsertAfter int
	upserts         int
}

func newFakeStore(externalIDs ...string) *fakeStore {
	store := &fakeStore{
		subjects:        make(map[string]metric.Subject),
		records:         make(map[recordKey]metric.Record),
		batches:         make(map[int64]metric.Batch),
		failUpsertAfter: -1,
	}
	for i, id := range externalIDs {
		store.subjects[id] = metric.Subject{ID: int64(i + 1), ExternalID: id, Active: true}
	}
	return store
}

func (s *fakeStore) CreateBatch(_ context.Context, batch metric.Batch) (metric.Batch, error) {
	s.nextBatch++
	batch.ID = s.nextBatch
	s.batches[batch.ID] = batch
	return batch, nil
}

func (s *fakeStore) FinalizeBatch(_ context.Context, id int64, status metric.BatchStatus, report metric.Report) error {
	batch, ok := s.batches[id]
	if !ok {
		return errors.New("no such batch")
	}
	batch.Status = status
	batch.Report = report
	s.batches[id] = batch
	return nil
}

func (s *fakeStore) WithinTx(_ context.Context, fn func(tx metric.RecordWriter) error) error {
	snapshot := maps.Clone(s.records)
	if err := fn(s); err != nil {
		s.records = snapshot
		return err
	}
	return nil
}

func (s *fakeStore) SubjectByExternalID(_ context.Context, externalID string) (metric.Subject, bool, error) {
	subject, ok := s.subjects[externalID]
	return subject, ok, nil
}

func (s *fakeStore) UpsertRecord(_ context.Context, record metric.Record) (bool, error) {
	if s.failUpsertAfter >= 0 && s.upserts >= s.failUpsertAfter {
		return false, errors.New("disk full")
	}
	s.upserts++
	key := recordKey{subject: record.SubjectID, typ: record.TypeID, date: record.Date.Format("2006-01-02")}
	_, exists := s.records[key]
	s.records[key] = record
	return !exists, nil
}

func csvSource(content string) Source {
	return Source{Filename: "upload.csv", Reader: strings.NewReader(content)}
}

func TestServiceImport_CreatesThenUpdates(t *testing.T) {
	t.Parallel()

	store := newFakeStore("1001", "1002")
	service := NewService(store)
	content := "matricula,data,tempo\n1001,2024-03-05,01:30:30\n1002,2024-03-05,00:45\n"

	first, err := service.Import(context.Background(), tmaType, csvSource(content), "alice")
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if !first.OK || first.Report.Created != 2 || first.Report.Updated != 0 || first.Report.Imported != 2 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := service.Import(context.Background(), tmaType, csvSource(content), "alice")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if !second.OK || second.Report.Created != 0 || second.Report.Updated != 2 {
		t.Fatalf("re-import should only update: %+v", second.Report)
	}
	if len(store.records) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(store.records))
	}

	record := store.records[recordKey{subject: 1, typ: tmaType.ID, date: "2024-03-05"}]
	if record.Value != 90.5 || record.BatchID != second.BatchID {
		t.Fatalf("expected value 90.5 from batch %d, got %+v", second.BatchID, record)
	}
	if store.batches[second.BatchID].Status != metric.BatchImported {
		t.Fatalf("expected imported batch, got %q", store.batches[second.BatchID].Status)
	}
}

func TestServiceImport_CSVDotDecimalIsNotThousandsSeparator(t *testing.T) {
	t.Parallel()

	store := newFakeStore("1001")
	plain := metric.Type{ID: 2, Code: "prod", Name: "Produção", Unit: "un"}

	result, err := NewService(store).Import(context.Background(), plain, csvSource("id,date,value\n1001,2024-01-02,12.5\n"), "erin")
	if err != nil || !result.OK {
		t.Fatalf("import plain: %+v, %v", result, err)
	}
	if got := store.records[recordKey{subject: 1, typ: plain.ID, date: "2024-01-02"}].Value; got != 12.5 {
		t.Fatalf("expected 12.5 stored, got %v", got)
	}

	result, err = NewService(store).Import(context.Background(), tmaType, csvSource("id,date,value\n1001,2024-01-02,0.5\n"), "erin")
	if err != nil || !result.OK {
		t.Fatalf("import time: %+v, %v", result, err)
	}
	if got := store.records[recordKey{subject: 1, typ: tmaType.ID, date: "2024-01-02"}].Value; got != 720 {
		t.Fatalf("expected day fraction 0.5 stored as 720 minutes, got %v", got)
	}
}

func TestServiceImport_RowErrors(t *testing.T) {
	t.Parallel()

	store := newFakeStore("1001")
	content := "id,date,value\n" +
		"1001,2024-03-05,12\n" +
		"9999,2024-03-05,12\n" +
		"1001,,12\n"

	result, err := NewService(store).Import(context.Background(), tmaType, csvSource(content), "bob")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.OK {
		t.Fatalf("expected OK=false with rejected rows")
	}
	if result.Report.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", result.Report)
	}

	want := []metric.RowError{
		{Row: 3, Reason: "subject_id '9999' not found"},
		{Row: 4, Reason: ReasonIncompleteRow},
	}
	if len(result.Report.Errors) != len(want) {
		t.Fatalf("unexpected errors: %+v", result.Report.Errors)
	}
	for i := range want {
		if result.Report.Errors[i] != want[i] {
			t.Fatalf("error %d: want %+v, got %+v", i, want[i], result.Report.Errors[i])
		}
	}

	batch := store.batches[result.BatchID]
	if batch.Status != metric.BatchImported || batch.Actor != "bob" || batch.OriginalFilename != "upload.csv" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestServiceImport_InvalidHeaderCreatesNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore("1001")
	result, err := NewService(store).Import(context.Background(), tmaType, csvSource("matricula,valor\n1001,3\n"), "carol")
	if err != nil {
		t.Fatalf("header errors are reported, not returned: %v", err)
	}
	if result.OK || result.BatchID != 0 {
		t.Fatalf("expected no batch and OK=false, got %+v", result)
	}
	if result.Report.Error != "invalid header" {
		t.Fatalf("unexpected report error %q", result.Report.Error)
	}
	if len(result.Report.Expected[FieldDate]) == 0 || len(result.Report.Found) != 2 {
		t.Fatalf("expected header diagnostics, got %+v", result.Report)
	}
	if len(store.batches) != 0 || len(store.records) != 0 {
		t.Fatalf("nothing may be persisted for an invalid header")
	}
}

func TestServiceImport_StorageFaultRollsBack(t *testing.T) {
	t.Parallel()

	store := newFakeStore("1001", "1002")
	store.failUpsertAfter = 1
	content := "id,date,value\n1001,2024-03-05,1\n1002,2024-03-05,2\n"

	result, err := NewService(store).Import(context.Background(), tmaType, csvSource(content), "dave")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if result.OK {
		t.Fatalf("failed import must not be OK")
	}
	if len(store.records) != 0 {
		t.Fatalf("expected rollback of all record writes, got %d records", len(store.records))
	}
	if store.batches[result.BatchID].Status != metric.BatchFailed {
		t.Fatalf("expected failed batch, got %+v", store.batches[result.BatchID])
	}
}

func TestServiceImport_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, err := NewService(store).Import(context.Background(), tmaType, Source{
		Filename: "old.xls",
		Reader:   strings.NewReader("whatever"),
	}, "erin")
	if !errors.Is(err, ErrUnreadableSheet) {
		t.Fatalf("expected ErrUnreadableSheet, got %v", err)
	}
	if len(store.batches) != 0 {
		t.Fatalf("no batch expected for unreadable upload")
	}
}

func TestServiceImport_ExcelUpload(t *testing.T) {
	t.Parallel()

	buf := writeWorkbook(t, [][]any{
		{"Colaborador", "Dia", "Resultado"},
		{"A1", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 95.5},
	})
	store := newFakeStore("A1")
	production := metric.Type{ID: 7, Code: "prod", Name: "Produção"}

	result, err := NewService(store).Import(context.Background(), production, Source{Filename: "metas.xlsx", Reader: buf}, "frank")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !result.OK || result.Report.Created != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	record := store.records[recordKey{subject: 1, typ: 7, date: "2024-03-05"}]
	if record.Value != 95.5 {
		t.Fatalf("expected 95.5, got %v", record.Value)
	}
}
