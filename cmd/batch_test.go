package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"metricboard/metric"
)

func TestConfirmPrompt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "uppercase Y confirms", input: "Y\n", want: true},
		{name: "lowercase y does not confirm", input: "y\n", want: false},
		{name: "N does not confirm", input: "N\n", want: false},
		{name: "empty does not confirm", input: "\n", want: false},
		{name: "Y without newline confirms", input: "Y", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := confirmPrompt(bytes.NewBufferString(tt.input), &out, "Delete import batch 3?")
			if err != nil {
				t.Fatalf("confirm prompt returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if !strings.HasPrefix(out.String(), "Delete import batch 3? Type Y") {
				t.Fatalf("unexpected prompt output %q", out.String())
			}
		})
	}

	if _, err := confirmPrompt(nil, nil, "?"); err == nil {
		t.Fatalf("expected error without input")
	}
}

func TestParseBatchID(t *testing.T) {
	t.Parallel()

	if id, err := parseBatchID(" 42 "); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, raw := range []string{"0", "-1", "abc", ""} {
		if _, err := parseBatchID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPrintBatch(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printBatch(&out, metric.Batch{
		ID:               3,
		Ref:              "8d0c1f4e",
		Actor:            "alice",
		OriginalFilename: "tma.xlsx",
		CreatedAt:        time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Status:           metric.BatchImported,
		Report: metric.Report{
			Imported: 2,
			Created:  1,
			Updated:  1,
			Errors:   []metric.RowError{{Row: 4, Reason: "incomplete row (subject_id/date/value)"}},
		},
	}, 2)

	text := out.String()
	for _, want := range []string{
		"Batch 3 (8d0c1f4e)",
		"imported",
		"actor:    alice",
		"created:  2024-03-05 14:30:00",
		"imported: 2 (created 1, updated 1)",
		"owns:     2 records",
		"row 4: incomplete row",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestPrintBatches(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := printBatches(&out, []metric.Batch{
		{ID: 2, Actor: "bob", TypeID: 1, OriginalFilename: "b.csv", Status: metric.BatchFailed},
		{ID: 1, Actor: "alice", TypeID: 1, OriginalFilename: "a.csv", Status: metric.BatchImported, Report: metric.Report{Imported: 5}},
	})
	if err != nil {
		t.Fatalf("print batches: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "bob") || !strings.Contains(lines[1], "failed") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
}
