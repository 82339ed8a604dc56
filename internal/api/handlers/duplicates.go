package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lbaroni/picsift/internal/dupes"
	"github.com/lbaroni/picsift/internal/library"
)

// DuplicatesHandler serves the duplicate listings and the two trash
// operations that act on them.
type DuplicatesHandler struct {
	Grouper          *dupes.Grouper
	Exec             *dupes.Executor
	DefaultThreshold int
}

type memberView struct {
	ID      int64    `json:"id"`
	Path    string   `json:"path"`
	Size    int64    `json:"size"`
	MTime   string   `json:"mtime"`
	Width   int      `json:"width,omitempty"`
	Height  int      `json:"height,omitempty"`
	Rating  int      `json:"rating,omitempty"`
	Kind    string   `json:"kind"`
	Tags    []string `json:"tags,omitempty"`
	TakenAt string   `json:"taken_at,omitempty"`
}

type groupView struct {
	Index            int          `json:"index"`
	Kind             string       `json:"type"`
	ContentHash      string       `json:"content_hash,omitempty"`
	MaxDistance      int          `json:"max_distance,omitempty"`
	Members          []memberView `json:"members"`
	SuggestedKeepID  int64        `json:"suggested_keep_id"`
	ReclaimableBytes int64        `json:"reclaimable_bytes"`
}

// Summary handles GET /api/duplicates/summary.
func (h *DuplicatesHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Grouper.Summarize(r.Context(), h.threshold(r))
	if err != nil {
		writeStoreError(w, "duplicates summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// List handles GET /api/duplicates?type&threshold&page&per_page.
func (h *DuplicatesHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := dupes.MatchKind(r.URL.Query().Get("type"))
	if kind == "" {
		kind = dupes.MatchExact
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be 'exact' or 'similar'")
		return
	}
	page, perPage := parsePage(r)

	res, err := h.Grouper.Page(r.Context(), kind, h.threshold(r), page, perPage)
	if err != nil {
		writeStoreError(w, "duplicates list", err)
		return
	}

	groups := make([]groupView, 0, len(res.Groups))
	for i := range res.Groups {
		groups = append(groups, toGroupView(&res.Groups[i]))
	}
	supers := res.SuperGroups
	if supers == nil {
		supers = []dupes.FolderSuperGroup{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups":              groups,
		"total":               res.TotalGroups,
		"page":                res.Page,
		"per_page":            res.PerPage,
		"folder_super_groups": supers,
	})
}

// Trash handles POST /api/duplicates/trash — moves the given files to trash
// and drops them from the catalog. Per-file outcomes are reported; a partial
// failure is not an HTTP error.
func (h *DuplicatesHandler) Trash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileIDs []int64 `json:"file_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.FileIDs) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file_ids is required and must be non-empty")
		return
	}

	outcomes := h.Exec.TrashFiles(r.Context(), body.FileIDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
	})
}

// FolderRule handles POST /api/duplicates/folder-rule — resolves every group
// in the super-group spanning exactly the two folders, keeping the copy in
// keep_folder.
func (h *DuplicatesHandler) FolderRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type        string `json:"type"`
		Threshold   *int   `json:"threshold"`
		KeepFolder  string `json:"keep_folder"`
		TrashFolder string `json:"trash_folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	kind := dupes.MatchKind(body.Type)
	if kind == "" {
		kind = dupes.MatchExact
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be 'exact' or 'similar'")
		return
	}
	if body.KeepFolder == "" || body.TrashFolder == "" || body.KeepFolder == body.TrashFolder {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "keep_folder and trash_folder must be distinct")
		return
	}
	threshold := h.DefaultThreshold
	if body.Threshold != nil {
		threshold = *body.Threshold
	}

	res, err := h.Exec.ExecuteFolderRule(r.Context(), kind, threshold, body.KeepFolder, body.TrashFolder)
	if err != nil {
		writeStoreError(w, "folder rule", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DuplicatesHandler) threshold(r *http.Request) int {
	if v := r.URL.Query().Get("threshold"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 64 {
			return n
		}
	}
	return h.DefaultThreshold
}

func toGroupView(g *dupes.Group) groupView {
	members := make([]memberView, 0, len(g.Members))
	for _, m := range g.Members {
		mv := memberView{
			ID:     m.ID,
			Path:   m.RelPath(),
			Size:   m.Size,
			MTime:  time.Unix(m.MTime, 0).UTC().Format(time.RFC3339),
			Width:  m.Width,
			Height: m.Height,
			Rating: m.Rating,
			Kind:   string(m.Kind),
			Tags:   m.Tags,
		}
		if m.TakenAt > 0 {
			mv.TakenAt = time.Unix(m.TakenAt, 0).UTC().Format(time.RFC3339)
		}
		members = append(members, mv)
	}
	return groupView{
		Index:            g.Index,
		Kind:             string(g.Kind),
		ContentHash:      g.ContentHash,
		MaxDistance:      g.MaxDistance,
		Members:          members,
		SuggestedKeepID:  g.SuggestedKeepID,
		ReclaimableBytes: g.ReclaimableBytes,
	}
}

// writeStoreError maps catalog failures to HTTP responses. An unavailable
// catalog is 503 — the client can retry after the next sync — everything
// else is a plain 500.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	slog.Error(op, "error", err)
	if errors.Is(err, library.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "DATA_UNAVAILABLE", "catalog is unavailable; retry after the next sync")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
