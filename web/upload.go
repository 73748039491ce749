package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"metricboard/importer"
	"metricboard/metric"
)

const defaultMaxUploadBytes = 32 << 20

type importResponse struct {
	OK      bool  `json:"ok"`
	BatchID int64 `json:"batch_id,omitempty"`
	metric.Report
}

// handleAPIImport accepts a multipart upload with fields metric_type (id or
// code), file and actor. The actor may also come from the X-Actor header.
func (s *Server) handleAPIImport(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Import.MaxUploadBytes()
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", maxBytes), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("parse multipart form: %v", err), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	typeRef := strings.TrimSpace(r.FormValue("metric_type"))
	if typeRef == "" {
		http.Error(w, "missing metric_type", http.StatusBadRequest)
		return
	}
	metricType, err := s.store.FindMetricType(r.Context(), typeRef)
	if err != nil {
		s.writeError(w, r, storageErrorStatus(err), err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	format, err := checkUpload(file, header)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := s.importer.Import(r.Context(), metricType, importer.Source{
		Filename: header.Filename,
		Format:   format,
		Reader:   file,
	}, requestActor(r))
	switch {
	case errors.Is(err, importer.ErrStorage):
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, importResponse{OK: result.OK, BatchID: result.BatchID, Report: result.Report})
}

// checkUpload verifies that the extension is supported and that the content
// matches it: workbooks must be zip containers, CSV files plain text.
func checkUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	format, err := importer.InferFormat(header.Filename)
	if err != nil {
		return "", err
	}

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("%w: detect content type: %v", importer.ErrUnreadableSheet, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	want := "application/zip"
	if format == "csv" {
		want = "text/plain"
	}
	if !isOrDescends(detected, want) {
		return "", fmt.Errorf("%w: %s looks like %s, expected %s content",
			importer.ErrUnreadableSheet, filepath.Base(header.Filename), detected.String(), want)
	}
	return format, nil
}

func isOrDescends(detected *mimetype.MIME, want string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func requestActor(r *http.Request) string {
	if actor := strings.TrimSpace(r.FormValue("actor")); actor != "" {
		return actor
	}
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return defaultActor
}
