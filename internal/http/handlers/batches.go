package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scenebatch/internal/batch"
	"scenebatch/internal/budget"
	"scenebatch/internal/domain"
	"scenebatch/internal/refurl"
	"scenebatch/pkg/zip"
)

type submitItem struct {
	SceneID  string `json:"scene_id"`
	Prompt   string `json:"prompt"`
	Variants int    `json:"variants"`
}

type submitBatchRequest struct {
	Items      []submitItem       `json:"items"`
	References []refurl.Reference `json:"references,omitempty"`
	DryRun     bool               `json:"dry_run,omitempty"`
}

// SubmitBatch runs the whole batch within the request: the response carries
// the final per-item outcome. Clients that want live progress open the SSE
// endpoint from a second connection; the ledger is shared.
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Items) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "items are required")
		return
	}

	items := make([]domain.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		variants := item.Variants
		if variants == 0 {
			variants = 1
		}
		items = append(items, domain.BatchItem{SceneID: item.SceneID, Prompt: item.Prompt, Variants: variants})
	}
	mode := batch.ModeLive
	if req.DryRun {
		mode = batch.ModeDryRun
	}

	res, err := a.Orchestrator.Submit(r.Context(), batch.SubmitRequest{
		UserID:     userID,
		Items:      items,
		References: req.References,
		Mode:       mode,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", "invalid submission")
		case errors.Is(err, domain.ErrStoreUnavailable):
			a.error(w, http.StatusServiceUnavailable, "store_unavailable", "admission store unavailable, not risking a duplicate run")
		default:
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: submit failed")
			a.error(w, http.StatusInternalServerError, "internal", "batch submission failed")
		}
		return
	}

	status := submitStatus(res)
	if status == http.StatusTooManyRequests && res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
	a.json(w, status, res)
}

// submitStatus maps a structured submit result to an HTTP status. Rejections
// that stopped the whole batch outrank per-item ones.
func submitStatus(res *batch.SubmitResult) int {
	for _, rejection := range res.Rejected {
		switch rejection.Code {
		case batch.CodeRateLimited:
			return http.StatusTooManyRequests
		case budget.CodeDailyLimitExceeded:
			return http.StatusForbidden
		}
	}
	if res.BatchID == "" {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func (a *App) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}
	state, err := a.Orchestrator.Status(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		a.Logger.Error().Err(err).Str("batch_id", batchID).Msg("handlers: status lookup failed")
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "ledger unavailable")
		return
	}
	a.json(w, http.StatusOK, state)
}

func (a *App) StreamProgress(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}
	a.Streamer.ServeProgress(w, r, batchID)
}

// ArchiveBatch streams a zip of every image the batch produced so far.
// Partially failed batches archive their completed items.
func (a *App) ArchiveBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}
	state, err := a.Orchestrator.Status(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "ledger unavailable")
		return
	}

	var entries []zip.Entry
	for _, item := range state.Items {
		for i, key := range item.ImageKeys {
			data, err := a.Store.Read(r.Context(), key)
			if err != nil {
				a.Logger.Warn().Err(err).Str("key", key).Msg("handlers: archive skipping unreadable image")
				continue
			}
			name := fmt.Sprintf("%s_v%d%s", item.SceneID, i, path.Ext(key))
			entries = append(entries, zip.Entry{Name: name, Data: data})
		}
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "batch has no images")
		return
	}

	archive := zip.Archive(entries)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="batch_`+batchID[:min(12, len(batchID))]+`.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
