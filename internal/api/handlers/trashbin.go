package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lbaroni/picsift/internal/trash"
)

// TrashHandler handles trash-bin API endpoints.
type TrashHandler struct {
	Trash *trash.Manager
}

type trashEntryView struct {
	ID           int64  `json:"id"`
	OriginalPath string `json:"original_path"`
	Size         int64  `json:"size"`
	TrashedAt    string `json:"trashed_at"`
	ExpiresAt    string `json:"expires_at"`
}

// List handles GET /api/trash.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Trash.List(r.Context())
	if err != nil {
		slog.Error("trash list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]trashEntryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, trashEntryView{
			ID:           e.ID,
			OriginalPath: e.OriginalPath,
			Size:         e.Size,
			TrashedAt:    e.TrashedAt.UTC().Format(time.RFC3339),
			ExpiresAt:    e.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// Restore handles POST /api/trash/{id}/restore.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid trash ID")
		return
	}

	err = h.Trash.Restore(r.Context(), id)
	var conflict *trash.ErrRestoreConflict
	switch {
	case errors.Is(err, trash.ErrNotTrashed):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Trash item not found")
		return
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "RESTORE_CONFLICT", conflict.Error())
		return
	case err != nil:
		slog.Error("trash restore", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "restored",
	})
}

// PurgeAll handles DELETE /api/trash.
func (h *TrashHandler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	count, bytesFreed, err := h.Trash.PurgeAll(r.Context())
	if err != nil {
		slog.Error("trash purge", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purged":      count,
		"bytes_freed": bytesFreed,
	})
}

// Note: restored files re-enter the catalog on the next sync; the trash
// handler does not write to the files table.
