package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"metricboard/config"
	"metricboard/internal/telemetry"
	"metricboard/metric"
	"metricboard/storage"
)

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "metricboard_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedStore(t *testing.T, store *storage.SQLiteStore) metric.Type {
	t.Helper()

	ctx := context.Background()
	target := 10.0
	typ, err := store.CreateMetricType(ctx, metric.Type{
		Name: "Tempo médio", Code: "tma", Unit: "min", Target: &target, BetterWhen: metric.LowerIsBetter,
	})
	if err != nil {
		t.Fatalf("create metric type: %v", err)
	}
	for _, id := range []string{"1001", "1002"} {
		if _, err := store.CreateSubject(ctx, metric.Subject{ExternalID: id, Active: true}); err != nil {
			t.Fatalf("create subject %s: %v", id, err)
		}
	}
	return typ
}

func newTestServer(t *testing.T, store *storage.SQLiteStore) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	imports, err := telemetry.NewImportMetrics(reg)
	if err != nil {
		t.Fatalf("import metrics: %v", err)
	}
	requests, err := telemetry.NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}

	cfg := config.Config{
		Import:    config.ImportConfig{MaxUploadMB: 1},
		Dashboard: config.DashboardConfig{DefaultDays: 30},
	}
	ts := httptest.NewServer(NewServer(store, cfg, WithMetrics(reg, imports, requests)))
	t.Cleanup(ts.Close)
	return ts
}

func uploadCSV(t *testing.T, url, metricType, filename, content string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("metric_type", metricType); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.WriteField("actor", "alice"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := http.Post(url+"/api/import", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post import: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestServer_ImportThenReimport(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	content := "matricula;data;tempo\n1001;05/03/2024;00:12:00\n1002;05/03/2024;00:08:00\n"

	first := uploadCSV(t, ts.URL, "tma", "tma.csv", content)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.StatusCode)
	}
	var firstReport importResponse
	decodeBody(t, first, &firstReport)
	if !firstReport.OK || firstReport.Created != 2 || firstReport.BatchID == 0 {
		t.Fatalf("unexpected first report: %+v", firstReport)
	}

	second := uploadCSV(t, ts.URL, "tma", "tma.csv", content)
	var secondReport importResponse
	decodeBody(t, second, &secondReport)
	if secondReport.Created != 0 || secondReport.Updated != 2 || len(secondReport.Errors) != 0 {
		t.Fatalf("unexpected re-import report: %+v", secondReport)
	}

	resp, err := http.Get(ts.URL + "/api/batches")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	defer resp.Body.Close()
	var batches []batchResponse
	decodeBody(t, resp, &batches)
	if len(batches) != 2 || batches[0].Actor != "alice" || batches[0].Status != metric.BatchImported {
		t.Fatalf("unexpected batches: %+v", batches)
	}
}

func TestServer_ImportReportsRowErrorsWith422(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	resp := uploadCSV(t, ts.URL, "tma", "tma.csv", "id,date,value\n1001,2024-03-05,5\n7777,2024-03-05,5\n")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var report importResponse
	decodeBody(t, resp, &report)
	if report.Created != 1 || len(report.Errors) != 1 || report.Errors[0].Reason != "subject_id '7777' not found" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestServer_ImportHeaderFailure(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	resp := uploadCSV(t, ts.URL, "tma", "tma.csv", "id,value\n1001,5\n")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var report importResponse
	decodeBody(t, resp, &report)
	if report.Error != "invalid header" || report.BatchID != 0 || len(report.Expected["date"]) == 0 {
		t.Fatalf("unexpected header report: %+v", report)
	}

	batches, err := store.ListBatches(context.Background(), 0)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batch for header failure, got %d", len(batches))
	}
}

func TestServer_ImportRejectsMismatchedContent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	resp := uploadCSV(t, ts.URL, "tma", "tma.xlsx", "id,date,value\n1001,2024-03-05,5\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for csv content named .xlsx, got %d", resp.StatusCode)
	}

	unknown := uploadCSV(t, ts.URL, "nope", "tma.csv", "id,date,value\n")
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown metric type, got %d", unknown.StatusCode)
	}
}

func TestServer_Dashboard(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	uploadCSV(t, ts.URL, "tma", "tma.csv", "id,date,value\n1001,2024-03-04,12\n1001,2024-03-05,8\n")

	resp, err := http.Get(ts.URL + "/api/dashboard/1001?start=2024-03-31&end=2024-03-01")
	if err != nil {
		t.Fatalf("get dashboard: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var view struct {
		Start      string   `json:"start"`
		End        string   `json:"end"`
		UnmetCodes []string `json:"unmet_codes"`
		Series     []struct {
			Code     string   `json:"code"`
			FailDays []string `json:"fail_days"`
		} `json:"series"`
	}
	decodeBody(t, resp, &view)
	if view.Start != "2024-03-01" || view.End != "2024-03-31" {
		t.Fatalf("expected swapped range, got %s..%s", view.Start, view.End)
	}
	if len(view.Series) != 1 || len(view.Series[0].FailDays) != 1 || view.Series[0].FailDays[0] != "2024-03-04" {
		t.Fatalf("unexpected series: %+v", view.Series)
	}
	if len(view.UnmetCodes) != 1 || view.UnmetCodes[0] != "tma" {
		t.Fatalf("unexpected unmet codes: %v", view.UnmetCodes)
	}

	missing, err := http.Get(ts.URL + "/api/dashboard/nobody")
	if err != nil {
		t.Fatalf("get dashboard: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown subject, got %d", missing.StatusCode)
	}
}

func TestServer_BatchDeleteIsRestricted(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	resp := uploadCSV(t, ts.URL, "tma", "tma.csv", "id,date,value\n1001,2024-03-05,5\n")
	var report importResponse
	decodeBody(t, resp, &report)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/batches/"+strconv.FormatInt(report.BatchID, 10), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	deleted, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	defer deleted.Body.Close()
	if deleted.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", deleted.StatusCode)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	seedStore(t, store)
	ts := newTestServer(t, store)

	uploadCSV(t, ts.URL, "tma", "tma.csv", "id,date,value\n1001,2024-03-05,5\n")

	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", health.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	if !strings.Contains(text, `metricboard_import_runs_total{outcome="success"} 1`) {
		t.Fatalf("expected import counter in metrics output:\n%s", text)
	}
	if !strings.Contains(text, `route="POST /api/import"`) {
		t.Fatalf("expected request counter by route in metrics output:\n%s", text)
	}
}
