package metric

import (
	"context"
	"time"
)

type BetterWhen string

const (
	HigherIsBetter BetterWhen = "higher"
	LowerIsBetter  BetterWhen = "lower"
)

// Type describes one measurable quantity. Values of time metrics are stored in
// minutes; see IsTimeMetric.
type Type struct {
	ID         int64
	Name       string
	Code       string
	Unit       string
	Target     *float64
	BetterWhen BetterWhen
}

// Subject is the person a record belongs to, identified externally by
// ExternalID (registration number, tax id, ...).
type Subject struct {
	ID         int64
	ExternalID string
	Name       string
	Team       string
	Manager    string
	Active     bool
}

// Record is the value of one metric type for one subject on one date.
type Record struct {
	ID        int64
	SubjectID int64
	TypeID    int64
	Date      time.Time
	Value     float64
	BatchID   int64
}

type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchImported BatchStatus = "imported"
	BatchFailed   BatchStatus = "failed"
)

// Batch is the audit entry written for every import attempt that got past
// header resolution.
type Batch struct {
	ID               int64
	Ref              string
	Actor            string
	TypeID           int64
	OriginalFilename string
	CreatedAt        time.Time
	Status           BatchStatus
	Report           Report
}

type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Report is the outcome of one import. Header failures only fill Error, Found
// and Expected.
type Report struct {
	Imported int        `json:"imported"`
	Created  int        `json:"created"`
	Updated  int        `json:"updated"`
	Errors   []RowError `json:"errors"`

	Error    string              `json:"error,omitempty"`
	Found    []string            `json:"found,omitempty"`
	Expected map[string][]string `json:"expected,omitempty"`
}

// NewReport returns an empty report whose Errors encode as [] instead of null.
func NewReport() Report {
	return Report{Errors: make([]RowError, 0)}
}

// RecordWriter is the write scope of a single import transaction.
type RecordWriter interface {
	SubjectByExternalID(ctx context.Context, externalID string) (Subject, bool, error)
	// UpsertRecord creates the record for (subject, type, date) or overwrites
	// value and batch of the existing one. created is false on overwrite.
	UpsertRecord(ctx context.Context, record Record) (created bool, err error)
}
