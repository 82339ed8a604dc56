package trash

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrNotTrashed is returned when the item is not in 'trashed' state (not found,
// already purged, or already restored).
var ErrNotTrashed = errors.New("trash item not found or already purged/restored")

// ErrRestoreConflict is returned when the restore target path is already occupied.
type ErrRestoreConflict struct {
	Path string
}

func (e *ErrRestoreConflict) Error() string {
	return fmt.Sprintf("a file already exists at %q", e.Path)
}

// Item is one file submitted to MoveBatch. RelDir is the file's directory
// relative to the library root; the trash directory mirrors it so restored
// context is obvious when browsing the trash by hand.
type Item struct {
	FileID      int64
	AbsPath     string
	RelDir      string
	Filename    string
	ContentHash string
}

// Outcome is the per-file result of a batch move. Err is empty on success.
type Outcome struct {
	FileID  int64
	TrashID int64
	Path    string
	Err     string
}

// OK reports whether the file was moved to trash.
func (o Outcome) OK() bool { return o.Err == "" }

// Entry is one row of the trash listing.
type Entry struct {
	ID           int64
	OriginalPath string
	Size         int64
	TrashedAt    time.Time
	ExpiresAt    time.Time
}

// Manager is the delete primitive: it moves files into a managed trash
// directory instead of unlinking them, records each move, and supports
// restore and retention-based purge. Deletions across a batch are
// independent filesystem operations — there is no cross-file atomicity.
type Manager struct {
	db            *sql.DB
	trashDir      string
	retentionDays int
}

// New creates a trash Manager.
func New(db *sql.DB, trashDir string, retentionDays int) *Manager {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Manager{db: db, trashDir: trashDir, retentionDays: retentionDays}
}

// MoveBatch moves every item into the trash, best-effort: a failure on one
// file never rolls back or blocks the others. One Outcome is returned per
// item, in input order.
func (m *Manager) MoveBatch(ctx context.Context, items []Item) []Outcome {
	outcomes := make([]Outcome, 0, len(items))
	for _, it := range items {
		out := Outcome{FileID: it.FileID, Path: it.AbsPath}
		if ctx.Err() != nil {
			out.Err = ctx.Err().Error()
			outcomes = append(outcomes, out)
			continue
		}
		trashID, err := m.moveOne(ctx, it)
		if err != nil {
			out.Err = err.Error()
		} else {
			out.TrashID = trashID
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// moveOne moves a single file into the trash and records it.
func (m *Manager) moveOne(ctx context.Context, it Item) (int64, error) {
	info, err := os.Stat(it.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", it.AbsPath, err)
	}
	fileSize := info.Size()

	trashPath := m.buildTrashPath(it.RelDir, it.Filename)
	if err := os.MkdirAll(filepath.Dir(trashPath), 0o755); err != nil {
		return 0, fmt.Errorf("create trash subdir: %w", err)
	}
	if err := moveFile(it.AbsPath, trashPath); err != nil {
		return 0, fmt.Errorf("move to trash: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(m.retentionDays) * 24 * time.Hour)

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO trash
			(original_path, trash_path, file_size, content_hash,
			 trashed_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'trashed')`,
		it.AbsPath, trashPath, fileSize, it.ContentHash,
		now.Unix(), expiresAt.Unix())
	if err != nil {
		// Best-effort rollback.
		if rerr := moveFile(trashPath, it.AbsPath); rerr != nil {
			slog.Error("rollback move-to-trash failed", "path", it.AbsPath, "error", rerr)
		}
		return 0, fmt.Errorf("insert trash record: %w", err)
	}

	id, _ := res.LastInsertId()
	slog.Info("file trashed", "path", it.AbsPath, "trash_id", id, "expires_at", expiresAt.Format(time.RFC3339))
	return id, nil
}

// Restore moves a trashed file back to its original path.
func (m *Manager) Restore(ctx context.Context, trashID int64) error {
	var originalPath, trashPath string
	err := m.db.QueryRowContext(ctx,
		`SELECT original_path, trash_path FROM trash WHERE id = ? AND status = 'trashed'`,
		trashID,
	).Scan(&originalPath, &trashPath)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotTrashed
	}
	if err != nil {
		return fmt.Errorf("lookup trash item %d: %w", trashID, err)
	}

	// Refuse if the original path is already occupied.
	if _, err := os.Stat(originalPath); err == nil {
		return &ErrRestoreConflict{Path: originalPath}
	}

	if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
		return fmt.Errorf("recreate restore dir: %w", err)
	}
	if err := moveFile(trashPath, originalPath); err != nil {
		return fmt.Errorf("restore file: %w", err)
	}

	now := time.Now().Unix()
	if _, err := m.db.ExecContext(ctx,
		`UPDATE trash SET status='restored', restored_at=? WHERE id=?`,
		now, trashID,
	); err != nil {
		slog.Error("update trash status after restore", "trash_id", trashID, "error", err)
	}

	slog.Info("file restored", "path", originalPath, "trash_id", trashID)
	return nil
}

// List returns all active (status = 'trashed') entries, newest first.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, original_path, file_size, trashed_at, expires_at
		FROM trash WHERE status = 'trashed'
		ORDER BY trashed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query trash: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var trashedAt, expiresAt int64
		if err := rows.Scan(&e.ID, &e.OriginalPath, &e.Size, &trashedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan trash row: %w", err)
		}
		e.TrashedAt = time.Unix(trashedAt, 0).UTC()
		e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeAll immediately purges all active trash items (trigger = "user").
func (m *Manager) PurgeAll(ctx context.Context) (count int64, bytesFreed int64, err error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, trash_path, file_size FROM trash WHERE status = 'trashed'`)
	if err != nil {
		return 0, 0, fmt.Errorf("query trash: %w", err)
	}
	return m.purgeRows(ctx, rows, "user")
}

// AutoPurge purges all trash items whose expires_at is in the past
// (trigger = "auto"). Intended to be called by the scheduler.
func (m *Manager) AutoPurge(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, trash_path, file_size FROM trash
		 WHERE status = 'trashed' AND expires_at < ?`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("query expired trash: %w", err)
	}
	count, bytes, err := m.purgeRows(ctx, rows, "auto")
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("auto-purge complete", "files_purged", count, "bytes_freed", bytes)
	}
	return nil
}

// ── private helpers ────────────────────────────────────────────────────────

// buildTrashPath mirrors the file's library-relative directory under the
// trash root. Name collisions get a _2, _3, … suffix before the extension.
func (m *Manager) buildTrashPath(relDir, filename string) string {
	dir := m.trashDir
	if relDir != "" {
		dir = filepath.Join(m.trashDir, filepath.FromSlash(relDir))
	}
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 2; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

type purgeItem struct {
	id        int64
	trashPath string
	fileSize  int64
}

func (m *Manager) purgeRows(ctx context.Context, rows *sql.Rows, trigger string) (count int64, bytesFreed int64, err error) {
	defer rows.Close()

	var items []purgeItem
	for rows.Next() {
		var it purgeItem
		if err := rows.Scan(&it.id, &it.trashPath, &it.fileSize); err != nil {
			return count, bytesFreed, fmt.Errorf("scan trash row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return count, bytesFreed, err
	}

	now := time.Now().Unix()
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}

		// Remove from disk; treat "already gone" as success.
		if rerr := os.Remove(it.trashPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.Warn("purge: remove file failed", "path", it.trashPath, "error", rerr)
			continue // leave DB row in 'trashed' to retry later
		}

		if _, dbErr := m.db.ExecContext(ctx,
			`UPDATE trash SET status='purged', purged_at=?, purge_trigger=? WHERE id=?`,
			now, trigger, it.id,
		); dbErr != nil {
			slog.Error("purge: update trash status", "trash_id", it.id, "error", dbErr)
		}

		count++
		bytesFreed += it.fileSize
	}

	return count, bytesFreed, nil
}

// moveFile tries os.Rename first; falls back to copy+delete on cross-device errors.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if le, ok := err.(*os.LinkError); ok && errors.Is(le.Err, syscall.EXDEV) {
		return copyThenDelete(src, dst)
	} else {
		return err
	}
}

// copyThenDelete copies src to dst then removes src. dst is cleaned up on error.
func copyThenDelete(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
