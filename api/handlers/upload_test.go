package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	writer.Close()

	return body, writer.FormDataContentType()
}

func TestUploadHandler_Upload_Success(t *testing.T) {
	logger := zaptest.NewLogger(t)
	uploadDir := t.TempDir()
	handler := NewUploadHandler(uploadDir, 10<<20, logger)

	content := make([]byte, 1024)
	copy(content, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	body, contentType := multipartBody(t, "photo.jpg", content)

	req := authedRequest("POST", "/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"image":"img_`) {
		t.Errorf("Expected image handle in response, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), ".jpeg") {
		t.Errorf("Expected detected type in handle, got %s", rec.Body.String())
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		t.Fatalf("Failed to read upload dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected one stored file, got %d", len(entries))
	}

	stored, err := os.ReadFile(filepath.Join(uploadDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read stored file: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Error("Stored file does not match upload")
	}
}

func TestUploadHandler_Upload_NoFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewUploadHandler(t.TempDir(), 10<<20, logger)

	req := authedRequest("POST", "/uploads", bytes.NewBufferString(""))
	req.Header.Set("Content-Type", "multipart/form-data")
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUploadHandler_Upload_InvalidType(t *testing.T) {
	logger := zaptest.NewLogger(t)
	uploadDir := t.TempDir()
	handler := NewUploadHandler(uploadDir, 10<<20, logger)

	body, contentType := multipartBody(t, "doc.gif", append([]byte("GIF89a"), make([]byte, 64)...))

	req := authedRequest("POST", "/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}

	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Error("Expected rejected upload to leave no file")
	}
}

func TestUploadHandler_Upload_TooLarge(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewUploadHandler(t.TempDir(), 512, logger)

	content := make([]byte, 2048)
	copy(content, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	body, contentType := multipartBody(t, "big.jpg", content)

	req := authedRequest("POST", "/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}
