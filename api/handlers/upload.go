package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formy/api/dto"
	"formy/api/middleware"
	"formy/api/validation"
)

// UploadHandler stores source images and hands back the handle a task
// submission references. Durable object storage is a separate concern;
// this writes to the local upload dir the workers share.
type UploadHandler struct {
	uploadDir string
	maxSize   int64
	logger    *zap.Logger
}

func NewUploadHandler(uploadDir string, maxSize int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		uploadDir: uploadDir,
		maxSize:   maxSize,
		logger:    logger,
	}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxSize {
		h.handleError(w, "File too large", validation.ErrFileTooLarge, traceID, http.StatusBadRequest)
		return
	}

	fileType, err := validation.DetectFileType(file)
	if err != nil || !validation.IsAllowedImageType(fileType) {
		h.handleError(w, "Invalid file type", err, traceID, http.StatusBadRequest)
		return
	}

	handle := fmt.Sprintf("img_%s.%s", uuid.New().String(), fileType)
	filePath := filepath.Join(h.uploadDir, handle)

	dst, err := os.Create(filePath)
	if err != nil {
		h.handleError(w, "Failed to save file", err, traceID, http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.handleError(w, "Failed to write file", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("File uploaded",
		zap.String("trace_id", traceID),
		zap.String("handle", handle),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	h.respondJSON(w, http.StatusCreated, dto.UploadResponse{Image: handle})
}

func (h *UploadHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *UploadHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
