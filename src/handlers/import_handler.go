package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/username/tradejournal/backend/src/config"
	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/models"
	"github.com/username/tradejournal/backend/src/security/validation"
	"github.com/username/tradejournal/backend/src/services"
	"github.com/username/tradejournal/backend/src/sessions"
	"github.com/username/tradejournal/backend/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{importService: service}
}

// HandleCreateSession stages an uploaded trade log behind a new import
// session. Oversized or wrong-extension uploads are rejected before
// anything is written.
func (h *ImportHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "userID", userID, "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "userID", userID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file too large", "userID", userID, "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	format, err := models.FormatFromFilename(fileHeader.Filename)
	if err != nil {
		logger.L.Warn("Unsupported upload extension", "userID", userID, "filename", fileHeader.Filename)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := validation.ValidateClientContentType(fileHeader.Header.Get("Content-Type")); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := validation.ValidateFileContentByMagicBytes(file, format); err != nil {
		logger.L.Warn("Server-side file content validation failed", "userID", userID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.importService.CreateSession(r.Context(), userID, fileHeader.Filename, file)
	if err != nil {
		h.writeImportError(w, userID, err)
		return
	}

	utils.SendJSON(w, sessionStatusResponse(sess), http.StatusCreated)
}

func (h *ImportHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	sess, err := h.importService.GetSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		h.writeImportError(w, userID, err)
		return
	}
	utils.SendJSON(w, sessionStatusResponse(sess), http.StatusOK)
}

func (h *ImportHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.importService.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"), userID); err != nil {
		h.writeImportError(w, userID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePreview runs the dry-run pass. Row-level errors still produce a
// 200 with a populated issue list so the caller can render partial results.
func (h *ImportHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	h.runPipeline(w, r, h.importService.Preview)
}

// HandleExecute runs the commit pass, same response shape as preview.
func (h *ImportHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	h.runPipeline(w, r, h.importService.Execute)
}

func (h *ImportHandler) runPipeline(
	w http.ResponseWriter,
	r *http.Request,
	run func(ctx context.Context, sessionID string, userID int64, opts models.ImportOptions) (*models.ImportSummary, error),
) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var opts models.ImportOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && err != io.EOF {
		utils.SendJSONError(w, "invalid options payload", http.StatusBadRequest)
		return
	}

	summary, err := run(r.Context(), chi.URLParam(r, "sessionID"), userID, opts)
	if err != nil {
		h.writeImportError(w, userID, err)
		return
	}
	utils.SendJSON(w, summary, http.StatusOK)
}

func (h *ImportHandler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	trades, err := h.importService.ListTrades(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error listing trades", "userID", userID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while listing trades.", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	utils.SendJSON(w, trades, http.StatusOK)
}

// writeImportError maps pipeline errors onto distinct status codes so the
// caller can tell "upload again" from "not yours" from "bad file".
func (h *ImportHandler) writeImportError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		utils.SendJSONError(w, "import session not found", http.StatusNotFound)
	case errors.Is(err, sessions.ErrSessionExpired):
		utils.SendJSONError(w, "import session expired, upload the file again", http.StatusGone)
	case errors.Is(err, sessions.ErrNotOwner):
		utils.SendJSONError(w, "import session does not belong to this user", http.StatusForbidden)
	case errors.Is(err, models.ErrUnsupportedFormat):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrParsingFailed):
		utils.SendJSONError(w, fmt.Sprintf("Error parsing trade log: %v", err), http.StatusBadRequest)
	default:
		logger.L.Error("Internal error in import pipeline", "userID", userID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the import. Please try again later.", http.StatusInternalServerError)
	}
}

type sessionStatus struct {
	SessionID     string            `json:"sessionId"`
	FileName      string            `json:"fileName"`
	FileFormat    models.FileFormat `json:"fileFormat"`
	FileSizeBytes int64             `json:"fileSizeBytes"`
	UploadedAt    string            `json:"uploadedAt"`
	ExpiresAt     string            `json:"expiresAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func sessionStatusResponse(sess *models.ImportSession) sessionStatus {
	return sessionStatus{
		SessionID:     sess.ID,
		FileName:      sess.FileName,
		FileFormat:    sess.FileFormat,
		FileSizeBytes: sess.FileSizeBytes,
		UploadedAt:    sess.UploadedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     sess.ExpiresAt.UTC().Format(time.RFC3339),
		Metadata:      sess.Metadata,
	}
}
