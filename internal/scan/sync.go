package scan

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lbaroni/picsift/internal/library"
	"github.com/lbaroni/picsift/internal/media"
)

// Progress exposes live sync counters. All fields are atomically updated and
// safe to read while the sync runs.
type Progress struct {
	FilesSeen     atomic.Int64
	FilesAdded    atomic.Int64
	FilesUpdated  atomic.Int64
	FilesRemoved  atomic.Int64
	Hashed        atomic.Int64
	Fingerprinted atomic.Int64
	BytesRead     atomic.Int64
}

// Config holds concurrency tuning for the derive stage.
type Config struct {
	Hashers int
	Probers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Hashers: 4, Probers: 2}
}

// Syncer reconciles the catalog with the filesystem and computes the derived
// metadata the duplicate engine consumes: content hashes for every file and
// perceptual fingerprints plus probed dimensions for images.
type Syncer struct {
	store    *library.Store
	excludes map[string]struct{}
	cfg      Config
}

// NewSyncer creates a Syncer over the store's library root. Exclude entries
// are normalised up front: relative paths resolve against the library root,
// and trailing slashes are dropped, so they match walk paths exactly.
func NewSyncer(store *library.Store, excludePaths []string, cfg Config) *Syncer {
	excludes := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(store.Root(), p)
		}
		excludes[filepath.Clean(p)] = struct{}{}
	}
	return &Syncer{store: store, excludes: excludes, cfg: cfg}
}

// Run is the standalone entry point: records a sync_history row, executes
// the reconcile and derive stages, and finalises the row.
func (s *Syncer) Run(ctx context.Context, triggeredBy string, progress *Progress) (int64, error) {
	startedAt := time.Now()
	syncID, err := insertSyncRecord(s.store.DB(), startedAt, triggeredBy)
	if err != nil {
		return 0, fmt.Errorf("create sync record: %w", err)
	}
	return syncID, s.execute(ctx, syncID, startedAt, progress)
}

func (s *Syncer) execute(ctx context.Context, syncID int64, startedAt time.Time, progress *Progress) error {
	slog.Info("library sync started", "id", syncID, "root", s.store.Root())

	runErr := s.reconcile(ctx, progress)
	if runErr == nil {
		runErr = s.derive(ctx, progress)
	}

	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
		if runErr == nil {
			runErr = ctx.Err()
		}
	} else if runErr != nil {
		status = "failed"
	}

	if err := finaliseSyncRecord(s.store.DB(), syncID, status, progress); err != nil {
		slog.Error("finalise sync record", "id", syncID, "error", err)
	}

	slog.Info("library sync finished",
		"id", syncID,
		"status", status,
		"files_seen", progress.FilesSeen.Load(),
		"hashed", progress.Hashed.Load(),
		"bytes_read", humanize.Bytes(uint64(progress.BytesRead.Load())),
		"took", time.Since(startedAt).Round(time.Second))
	return runErr
}

// reconcile walks the library root and brings the files table in line with
// the filesystem: new files inserted, changed stamps touched (clearing their
// derived metadata), vanished files removed.
func (s *Syncer) reconcile(ctx context.Context, progress *Progress) error {
	root := s.store.Root()

	type fsEntry struct {
		size  int64
		mtime int64
	}
	onDisk := make(map[string]fsEntry)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("sync: walk error", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, excluded := s.excludes[path]; excluded {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// Hidden directories (.picsift-trash and friends) stay out of
			// the catalog.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !media.IsMedia(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("sync: stat error", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		progress.FilesSeen.Add(1)
		onDisk[filepath.ToSlash(rel)] = fsEntry{size: info.Size(), mtime: info.ModTime().Unix()}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %q: %w", root, err)
	}

	known, err := s.store.KnownFiles(ctx)
	if err != nil {
		return err
	}

	var errs error
	for rel, ent := range onDisk {
		if st, ok := known[rel]; ok {
			if st.Size != ent.size || st.MTime != ent.mtime {
				if err := s.store.TouchFile(ctx, st.ID, ent.size, ent.mtime); err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				progress.FilesUpdated.Add(1)
			}
			continue
		}

		dir := filepath.ToSlash(filepath.Dir(rel))
		if dir == "." {
			dir = ""
		}
		dirID, err := s.store.EnsureDirectory(ctx, dir)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		name := filepath.Base(rel)
		if _, err := s.store.InsertFile(ctx, dirID, name, ent.size, ent.mtime,
			string(media.Detect(name))); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		progress.FilesAdded.Add(1)
	}

	var removed []int64
	for rel, st := range known {
		if _, ok := onDisk[rel]; !ok {
			removed = append(removed, st.ID)
		}
	}
	if len(removed) > 0 {
		if err := s.store.RemoveFiles(ctx, removed); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			progress.FilesRemoved.Add(int64(len(removed)))
		}
	}
	return errs
}

// derive fills in missing derived metadata in two bounded stages: content
// hashes first (IO-bound, Hashers workers), then probe and fingerprint work
// (decode-heavy, Probers workers). Per-file failures are logged and skipped —
// a file that cannot be read simply never reaches a duplicate group.
func (s *Syncer) derive(ctx context.Context, progress *Progress) error {
	pending, err := s.store.PendingFiles(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	hashers := s.cfg.Hashers
	if hashers < 1 {
		hashers = 1
	}
	probers := s.cfg.Probers
	if probers < 1 {
		probers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hashers)
	for _, p := range pending {
		if !p.NeedsHash {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			abs := filepath.Join(s.store.Root(), filepath.FromSlash(p.RelPath))

			hash, n, err := HashFile(abs)
			progress.BytesRead.Add(n)
			if err != nil {
				slog.Warn("sync: hash failed", "path", abs, "error", err)
				return nil
			}
			if err := s.store.SetContentHash(gctx, p.ID, hash); err != nil {
				return err
			}
			progress.Hashed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(probers)
	for _, p := range pending {
		if !p.NeedsProbe && !p.NeedsFingerprint {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			abs := filepath.Join(s.store.Root(), filepath.FromSlash(p.RelPath))

			if p.NeedsProbe {
				pr := Probe(abs)
				if err := s.store.SetProbe(gctx, p.ID, pr.Width, pr.Height, pr.TakenAt); err != nil {
					return err
				}
			}

			if p.NeedsFingerprint {
				fp, err := Fingerprint(abs)
				if err != nil {
					slog.Debug("sync: fingerprint skipped", "path", abs, "error", err)
					return nil
				}
				if err := s.store.SetFingerprint(gctx, p.ID, fp); err != nil {
					return err
				}
				progress.Fingerprinted.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// ── sync_history bookkeeping ───────────────────────────────────────────────

func insertSyncRecord(db *sql.DB, startedAt time.Time, triggeredBy string) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO sync_history (started_at, status, triggered_by)
		VALUES (?, 'running', ?)`,
		startedAt.Unix(), triggeredBy)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finaliseSyncRecord(db *sql.DB, syncID int64, status string, p *Progress) error {
	_, err := db.Exec(`
		UPDATE sync_history
		SET status = ?, finished_at = ?,
		    files_seen = ?, files_added = ?, files_updated = ?, files_removed = ?,
		    files_hashed = ?, files_fingerprinted = ?, bytes_read = ?
		WHERE id = ?`,
		status, time.Now().Unix(),
		p.FilesSeen.Load(), p.FilesAdded.Load(), p.FilesUpdated.Load(), p.FilesRemoved.Load(),
		p.Hashed.Load(), p.Fingerprinted.Load(), p.BytesRead.Load(),
		syncID)
	return err
}

// MarkStaleSyncsFailed marks any sync_history rows still in 'running' state
// as 'failed'. Called once at startup in case a previous process crashed
// mid-sync.
func MarkStaleSyncsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE sync_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale syncs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale syncs as failed", "count", n)
	}
	return nil
}
