package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

// Records is the part of the store the API needs.
type Records interface {
	storage.RecordReader
	Insert(ctx context.Context, rec transfer.Record) error
	SetStatus(ctx context.Context, ocID string, status transfer.Status, upd storage.Update) error
}

// Forgetter removes a record together with its cached payload.
type Forgetter interface {
	Forget(ctx context.Context, rec transfer.Record) error
}

type Badge interface {
	Badge() int64
}

// SyncFunc runs one foreground pass.
type SyncFunc func(ctx context.Context) error

type TransferView struct {
	OcID         string    `json:"ocId"`
	ServerURL    string    `json:"serverUrl"`
	FileName     string    `json:"fileName"`
	Status       string    `json:"status"`
	Selector     string    `json:"sessionSelector"`
	Size         int64     `json:"size"`
	Etag         string    `json:"etag,omitempty"`
	LiveGroup    string    `json:"liveGroup,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ErrorCode    int       `json:"errorCode,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UploadRequest struct {
	LocalPath string `json:"localPath"`
	ServerURL string `json:"serverUrl"`
	FileName  string `json:"fileName"`
}

type DownloadRequest struct {
	ServerURL string `json:"serverUrl"`
	FileName  string `json:"fileName"`
	Size      int64  `json:"size"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type TransferHandler struct {
	account   string
	records   Records
	forgetter Forgetter
	badge     Badge
	sync      SyncFunc
	newID     func() string
}

// NewTransferHandler creates the handler UI collaborators talk to.
func NewTransferHandler(account string, records Records, forgetter Forgetter, badge Badge, sync SyncFunc) *TransferHandler {
	return &TransferHandler{
		account:   account,
		records:   records,
		forgetter: forgetter,
		badge:     badge,
		sync:      sync,
		newID:     uuid.NewString,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/transfers", h.ListTransfers)
	r.Post("/transfers/{ocId}/retry", h.RetryTransfer)
	r.Delete("/transfers/{ocId}", h.CancelTransfer)
	r.Post("/uploads", h.EnqueueUpload)
	r.Post("/downloads", h.EnqueueDownload)
	r.Get("/badge", h.GetBadge)
	r.Post("/sync", h.Sync)

	return r
}

// ListTransfers returns the account's records, optionally filtered by a
// comma separated status list.
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	filter := storage.Filter{Account: h.account, OrderBy: storage.OrderDiscovery}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := transfer.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, err)

				return
			}

			filter.Statuses = append(filter.Statuses, status)
		}
	}

	recs, err := h.records.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to list transfers: %w", err))

		return
	}

	views := make([]TransferView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"transfers": views})
}

func (h *TransferHandler) EnqueueUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	if req.LocalPath == "" || req.ServerURL == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("localPath and serverUrl are required"))

		return
	}

	name := req.FileName
	if name == "" {
		name = path.Base(strings.ReplaceAll(req.LocalPath, "\\", "/"))
	}

	rec := transfer.Record{
		OcID:         h.newID(),
		Account:      h.account,
		ServerURL:    req.ServerURL,
		FileName:     name,
		Status:       transfer.StatusWaitUpload,
		Selector:     transfer.SelectorManualUpload,
		LocalPath:    req.LocalPath,
		CreationDate: time.Now(),
	}

	h.enqueue(w, r, rec)
}

func (h *TransferHandler) EnqueueDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	if req.ServerURL == "" || req.FileName == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("serverUrl and fileName are required"))

		return
	}

	rec := transfer.Record{
		OcID:      h.newID(),
		Account:   h.account,
		ServerURL: req.ServerURL,
		FileName:  req.FileName,
		Size:      req.Size,
		Status:    transfer.StatusWaitDownload,
		Selector:  transfer.SelectorOfflineSync,
	}

	h.enqueue(w, r, rec)
}

func (h *TransferHandler) enqueue(w http.ResponseWriter, r *http.Request, rec transfer.Record) {
	ctx, logger := logctx.With(r.Context(), "oc_id", rec.OcID, "file_name", rec.FileName, "status", string(rec.Status))

	if err := h.records.Insert(ctx, rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to enqueue transfer: %w", err))

		return
	}

	logger.InfoContext(ctx, "transfer enqueued", "session_selector", string(rec.Selector))

	writeJSON(w, r, http.StatusAccepted, viewOf(rec))
}

// RetryTransfer puts an error record back into the wait status it failed from.
func (h *TransferHandler) RetryTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	status, ok := rec.Rearm()
	if !ok {
		writeError(w, r, http.StatusConflict, fmt.Errorf("transfer in %s cannot be retried", rec.Status))

		return
	}

	err := h.records.SetStatus(r.Context(), rec.OcID, status, storage.Update{})
	if errors.Is(err, storage.ErrInvalidTransition) {
		writeError(w, r, http.StatusConflict, err)

		return
	}

	if err != nil {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to retry transfer: %w", err))

		return
	}

	rec.Status = status
	rec.ErrorMessage = ""
	rec.ErrorCode = 0
	rec.FailedAction = ""

	writeJSON(w, r, http.StatusOK, viewOf(rec))
}

// CancelTransfer deletes a record and its payload. Active transfers cannot
// be cancelled; they finish on their own.
func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if rec.Status.IsActive() {
		writeError(w, r, http.StatusConflict, fmt.Errorf("transfer is %s", rec.Status))

		return
	}

	if err := h.forgetter.Forget(r.Context(), rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to cancel transfer: %w", err))

		return
	}

	logctx.LoggerFromContext(r.Context()).InfoContext(r.Context(), "transfer cancelled", "oc_id", rec.OcID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *TransferHandler) GetBadge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]int64{"pending": h.badge.Badge()})
}

// Sync runs a foreground pass and waits for it.
func (h *TransferHandler) Sync(w http.ResponseWriter, r *http.Request) {
	err := h.sync(r.Context())

	switch {
	case errors.Is(err, storage.ErrStoreUnavailable):
		writeError(w, r, http.StatusConflict, err)
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *TransferHandler) lookup(w http.ResponseWriter, r *http.Request) (transfer.Record, bool) {
	rec, err := h.records.Get(r.Context(), chi.URLParam(r, "ocId"))

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err)

		return transfer.Record{}, false
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err)

		return transfer.Record{}, false
	case rec.Account != h.account:
		writeError(w, r, http.StatusNotFound, storage.ErrNotFound)

		return transfer.Record{}, false
	}

	return rec, true
}

func viewOf(rec transfer.Record) TransferView {
	return TransferView{
		OcID:         rec.OcID,
		ServerURL:    rec.ServerURL,
		FileName:     rec.FileName,
		Status:       string(rec.Status),
		Selector:     string(rec.Selector),
		Size:         rec.Size,
		Etag:         rec.Etag,
		LiveGroup:    rec.LiveGroup,
		ErrorMessage: rec.ErrorMessage,
		ErrorCode:    rec.ErrorCode,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed", "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}
