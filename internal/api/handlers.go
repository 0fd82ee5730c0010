package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/auth"
	"moneyrag.io/backend/internal/core"
	"moneyrag.io/backend/internal/ingest"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

const (
	defaultMaxUploadBytes = 20 << 20
	multipartMemory       = 32 << 20
	dateLayout            = "2006-01-02"
)

type APIHandler struct {
	configs        *core.ConfigService
	files          *core.FileService
	transactions   *core.TransactionService
	chat           *core.ChatService
	tracker        *ingest.Tracker
	maxUploadBytes int64
}

// Services groups what the handlers call into
type Services struct {
	Configs        *core.ConfigService
	Files          *core.FileService
	Transactions   *core.TransactionService
	Chat           *core.ChatService
	Tracker        *ingest.Tracker
	MaxUploadBytes int64
}

func NewAPIHandler(s Services) *APIHandler {
	maxUpload := s.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &APIHandler{
		configs:        s.Configs,
		files:          s.Files,
		transactions:   s.Transactions,
		chat:           s.Chat,
		tracker:        s.Tracker,
		maxUploadBytes: maxUpload,
	}
}

// identity is set by the authenticate middleware on every route that calls it
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.New(apperr.KindValidation, "limit must be a positive integer")
	}
	return n, nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identity(r))
}

// config

func (h *APIHandler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context(), identity(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// null when the tenant has not configured an engine yet
	writeJSON(w, http.StatusOK, cfg)
}

func (h *APIHandler) PutConfigHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[store.EngineConfig](r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.configs.Put(r.Context(), identity(r).TenantID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// files

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.List(r.Context(), identity(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *APIHandler) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperr.Newf(apperr.KindValidation, "upload exceeds %d MB", h.maxUploadBytes>>20))
			return
		}
		writeError(w, r, apperr.Wrap(err, apperr.KindValidation, "invalid multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]core.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, apperr.Wrapf(err, apperr.KindValidation, "failed to read %s", fh.Filename))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, r, apperr.Wrapf(err, apperr.KindValidation, "failed to read %s", fh.Filename))
			return
		}
		uploads = append(uploads, core.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	ids, err := h.files.Upload(r.Context(), identity(r).TenantID, uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Uploaded %d file(s). Ingestion is processing in the background.", len(ids)),
		"file_ids": ids,
	})
}

func (h *APIHandler) IngestionStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Status(identity(r).TenantID))
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	kind := r.URL.Query().Get("type")
	if kind == "" {
		writeError(w, r, apperr.New(apperr.KindValidation, "type query parameter is required (csv or bill)"))
		return
	}

	deleted, err := h.files.Delete(r.Context(), identity(r).TenantID, fileID, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.C(r.Context()).Info().Str("file_id", fileID).Str("filename", deleted.Filename).Msg("file deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted " + deleted.Filename})
}

// transactions

type transactionRequest struct {
	Description  string          `json:"description" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"positive_decimal"`
	TransDate    string          `json:"trans_date" validate:"required,datetime=2006-01-02"`
	Category     string          `json:"category"`
	MerchantName *string         `json:"merchant_name"`
}

type transactionResponse struct {
	ID           string      `json:"id"`
	Description  string      `json:"description"`
	Amount       json.Number `json:"amount"`
	TransDate    string      `json:"trans_date"`
	Category     string      `json:"category"`
	MerchantName string      `json:"merchant_name"`
	Source       string      `json:"source"`
	FileID       *string     `json:"file_id,omitempty"`
}

func toTransactionResponse(tx store.Transaction) transactionResponse {
	return transactionResponse{
		ID:           tx.ID,
		Description:  tx.Description,
		Amount:       json.Number(tx.Amount.String()),
		TransDate:    tx.TransDate.Format(dateLayout),
		Category:     tx.Category,
		MerchantName: tx.MerchantName,
		Source:       tx.Source,
		FileID:       tx.FileID,
	}
}

func (h *APIHandler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[transactionRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := time.Parse(dateLayout, req.TransDate)
	if err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.KindValidation, "trans_date must be YYYY-MM-DD"))
		return
	}

	in := core.NewTransaction{
		Description: req.Description,
		Amount:      req.Amount,
		TransDate:   date,
		Category:    req.Category,
	}
	if req.MerchantName != nil {
		in.MerchantName = *req.MerchantName
	}

	tx, err := h.transactions.Create(r.Context(), identity(r).TenantID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(*tx))
}

func (h *APIHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := h.transactions.List(r.Context(), identity(r).TenantID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

// chat

type chatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

func (h *APIHandler) PostChatHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[chatRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.chat.PostMessage(r.Context(), identity(r).TenantID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply":      msg.Content,
		"message_id": msg.ID,
		"created_at": msg.CreatedAt,
	})
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.chat.History(r.Context(), identity(r).TenantID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
