package dupes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/lbaroni/picsift/internal/library"
	"github.com/lbaroni/picsift/internal/trash"
)

// ErrNoKeeper rejects a confirmation that would trash every copy in a group.
// The UI's CanConfirm gate is expected to prevent this before it reaches us.
var ErrNoKeeper = errors.New("group has no surviving member; at least one copy must be kept")

// ErrNoActiveRule is returned by ConfirmFolderRule when no rule was applied.
var ErrNoActiveRule = errors.New("no active folder rule")

// Outcome is the per-file result of a trash batch. Err is empty on success.
type Outcome struct {
	FileID int64  `json:"file_id"`
	Path   string `json:"path"`
	Err    string `json:"error,omitempty"`
}

// OK reports whether the file was trashed.
func (o Outcome) OK() bool { return o.Err == "" }

// BatchResult aggregates one trash operation.
type BatchResult struct {
	Outcomes       []Outcome `json:"outcomes"`
	GroupsResolved int       `json:"groups_resolved"`
}

// Trashed counts the successful outcomes.
func (r BatchResult) Trashed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Executor turns session decisions into trash operations. Every batch is
// best-effort and non-transactional: files that fail to move are reported,
// never rolled back and never retried automatically; consistency comes from
// re-deriving state from the catalog afterwards, not from trusting the page.
type Executor struct {
	store   *library.Store
	trashEr *trash.Manager
	grouper *Grouper
}

// NewExecutor wires an Executor.
func NewExecutor(store *library.Store, tm *trash.Manager, grouper *Grouper) *Executor {
	return &Executor{store: store, trashEr: tm, grouper: grouper}
}

// ConfirmGroup trashes every member of the group marked Trash and removes the
// group from the session. An index no longer on the page is a silent no-op.
// A group whose members are all Keep is a skip: the group is removed without
// a delete call. Partial delete failures still resolve the group.
func (e *Executor) ConfirmGroup(ctx context.Context, s *Session, groupIndex int) (BatchResult, error) {
	if _, ok := s.group(groupIndex); !ok {
		return BatchResult{}, nil
	}
	if !s.CanConfirm(groupIndex) {
		return BatchResult{}, fmt.Errorf("group %d: %w", groupIndex, ErrNoKeeper)
	}

	ids := s.TrashIDs(groupIndex)
	if len(ids) == 0 {
		// Everything kept — nothing to delete, just move on.
		s.RemoveGroup(groupIndex)
		return BatchResult{GroupsResolved: 1}, nil
	}

	outcomes := e.TrashFiles(ctx, ids)
	s.RemoveGroup(groupIndex)
	return BatchResult{Outcomes: outcomes, GroupsResolved: 1}, nil
}

// ConfirmFolderRule executes the session's active folder rule and reconciles
// the session: the resolved counter grows by the number of groups the rule
// covered, the rule and all decisions are cleared, and the page is reloaded —
// emptying whole folders restructures the duplicate set.
func (e *Executor) ConfirmFolderRule(ctx context.Context, s *Session) (BatchResult, error) {
	rule := s.ActiveRule()
	if rule == nil {
		return BatchResult{}, ErrNoActiveRule
	}

	res, err := e.ExecuteFolderRule(ctx, s.Kind(), s.Threshold(), rule.KeepFolder, rule.TrashFolder)
	if err != nil {
		return res, err
	}

	s.resolvedCount += res.GroupsResolved
	s.rule = nil
	if err := s.reload(ctx); err != nil {
		// The trash batch already happened; surface the reload failure
		// without undoing the resolution bookkeeping.
		return res, err
	}
	return res, nil
}

// ExecuteFolderRule is the authoritative folder-rule action: it re-derives,
// from the current catalog rather than any cached page, which files live
// under trashFolder across every group of the super-group splitting
// (keepFolder, trashFolder), and submits them as one batch. A pair with no
// matching super-group resolves nothing — the rule went stale, not wrong.
func (e *Executor) ExecuteFolderRule(ctx context.Context, kind MatchKind, threshold int, keepFolder, trashFolder string) (BatchResult, error) {
	l, err := e.grouper.listingFor(ctx, kind, threshold)
	if err != nil {
		return BatchResult{}, err
	}

	var matched *FolderSuperGroup
	for i := range l.supers {
		if l.supers[i].matchesFolders(keepFolder, trashFolder) {
			matched = &l.supers[i]
			break
		}
	}
	if matched == nil {
		return BatchResult{}, nil
	}

	var ids []int64
	for _, idx := range matched.GroupIndices {
		for _, m := range l.groups[idx].Members {
			if m.DirectoryPath == trashFolder {
				ids = append(ids, m.ID)
			}
		}
	}

	outcomes := e.TrashFiles(ctx, ids)
	return BatchResult{
		Outcomes:       outcomes,
		GroupsResolved: len(matched.GroupIndices),
	}, nil
}

// TrashFiles resolves the given ids to their current paths, submits them to
// the trash primitive as one batch, removes the successfully trashed rows
// from the catalog, and invalidates cached listings. Ids no longer in the
// catalog produce a failed outcome rather than an error.
func (e *Executor) TrashFiles(ctx context.Context, ids []int64) []Outcome {
	if len(ids) == 0 {
		return nil
	}

	recs, err := e.store.RecordsByIDs(ctx, ids)
	if err != nil {
		outcomes := make([]Outcome, len(ids))
		for i, id := range ids {
			outcomes[i] = Outcome{FileID: id, Err: err.Error()}
		}
		return outcomes
	}

	byID := make(map[int64]library.MediaRecord, len(recs))
	items := make([]trash.Item, 0, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
		items = append(items, trash.Item{
			FileID:      r.ID,
			AbsPath:     e.store.AbsPath(r),
			RelDir:      r.DirectoryPath,
			Filename:    r.Filename,
			ContentHash: r.ContentHash,
		})
	}

	moved := e.trashEr.MoveBatch(ctx, items)
	movedByID := make(map[int64]trash.Outcome, len(moved))
	for _, o := range moved {
		movedByID[o.FileID] = o
	}

	var okIDs []int64
	var failures error
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if _, known := byID[id]; !known {
			outcomes = append(outcomes, Outcome{FileID: id, Err: "file not in catalog"})
			continue
		}
		o := movedByID[id]
		out := Outcome{FileID: id, Path: o.Path, Err: o.Err}
		if out.OK() {
			okIDs = append(okIDs, id)
		} else {
			failures = multierr.Append(failures, fmt.Errorf("file %d (%s): %s", id, o.Path, o.Err))
		}
		outcomes = append(outcomes, out)
	}

	if failures != nil {
		slog.Warn("trash batch completed with failures",
			"requested", len(ids), "trashed", len(okIDs), "errors", failures)
	}

	if len(okIDs) > 0 {
		if err := e.store.RemoveFiles(ctx, okIDs); err != nil {
			slog.Error("remove trashed rows from catalog", "error", err)
		}
	}

	// The duplicate set changed shape (or might have): recluster on next read.
	e.grouper.Invalidate()
	return outcomes
}
