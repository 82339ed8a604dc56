package handlers

import (
	"net/http"
	"time"

	"github.com/lbaroni/picsift/internal/library"
	"github.com/lbaroni/picsift/internal/scan"
	"github.com/lbaroni/picsift/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store   *library.Store
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version    string          `json:"version"`
	Library    libraryInfo     `json:"library"`
	ActiveSync *activeSyncInfo `json:"active_sync"`
	Schedule   scheduleInfo    `json:"schedule"`
}

type libraryInfo struct {
	Files         int64 `json:"files"`
	Directories   int64 `json:"directories"`
	TotalBytes    int64 `json:"total_bytes"`
	Hashed        int64 `json:"hashed"`
	Fingerprinted int64 `json:"fingerprinted"`
}

type activeSyncInfo struct {
	ID          int64            `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	TriggeredBy string           `json:"triggered_by"`
	Progress    syncProgressInfo `json:"progress"`
}

type syncProgressInfo struct {
	FilesSeen     int64 `json:"files_seen"`
	FilesAdded    int64 `json:"files_added"`
	FilesUpdated  int64 `json:"files_updated"`
	FilesRemoved  int64 `json:"files_removed"`
	Hashed        int64 `json:"hashed"`
	Fingerprinted int64 `json:"fingerprinted"`
	BytesRead     int64 `json:"bytes_read"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	Paused    bool       `json:"paused"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeStoreError(w, "status: library stats", err)
		return
	}

	resp := statusResponse{
		Version: h.Version,
		Library: libraryInfo{
			Files:         stats.Files,
			Directories:   stats.Directories,
			TotalBytes:    stats.TotalBytes,
			Hashed:        stats.Hashed,
			Fingerprinted: stats.Fingerprinted,
		},
		ActiveSync: h.activeSync(),
		Schedule: scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			Paused:    h.Sched.Paused(),
			NextRunAt: h.Sched.NextRunAt(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeSync() *activeSyncInfo {
	active := h.Manager.ActiveSync()
	if active == nil {
		return nil
	}
	p := active.Progress
	return &activeSyncInfo{
		ID:          active.ID,
		StartedAt:   active.StartedAt.UTC(),
		TriggeredBy: active.TriggeredBy,
		Progress: syncProgressInfo{
			FilesSeen:     p.FilesSeen.Load(),
			FilesAdded:    p.FilesAdded.Load(),
			FilesUpdated:  p.FilesUpdated.Load(),
			FilesRemoved:  p.FilesRemoved.Load(),
			Hashed:        p.Hashed.Load(),
			Fingerprinted: p.Fingerprinted.Load(),
			BytesRead:     p.BytesRead.Load(),
		},
	}
}
