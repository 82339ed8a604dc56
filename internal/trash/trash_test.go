package trash

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/lbaroni/picsift/internal/db"
)

func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	mgr      *Manager
	db       *sql.DB
	root     string
	trashDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := mustOpenDB(t)
	root := t.TempDir()
	trashDir := t.TempDir()
	return &fixture{
		mgr:      New(db, trashDir, 30),
		db:       db,
		root:     root,
		trashDir: trashDir,
	}
}

// libFile creates a file under the library root and returns its Item.
func (f *fixture) libFile(t *testing.T, relDir, name, content string) Item {
	t.Helper()
	dir := filepath.Join(f.root, filepath.FromSlash(relDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(dir, name)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return Item{FileID: 1, AbsPath: abs, RelDir: relDir, Filename: name, ContentHash: "h"}
}

func TestMoveBatchMirrorsRelativeDir(t *testing.T) {
	f := newFixture(t)
	it := f.libFile(t, "2021/trip", "photo.jpg", "data")

	outcomes := f.mgr.MoveBatch(context.Background(), []Item{it})
	if len(outcomes) != 1 || !outcomes[0].OK() {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	// Original gone; trash copy mirrors the relative directory.
	if _, err := os.Stat(it.AbsPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("original still present")
	}
	mirrored := filepath.Join(f.trashDir, "2021", "trip", "photo.jpg")
	if _, err := os.Stat(mirrored); err != nil {
		t.Errorf("trash copy missing at %s: %v", mirrored, err)
	}

	// A row was recorded with a future expiry.
	entries, err := f.mgr.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].OriginalPath != it.AbsPath {
		t.Errorf("original path = %q", entries[0].OriginalPath)
	}
	if !entries[0].ExpiresAt.After(time.Now()) {
		t.Error("expiry not in the future")
	}
}

func TestMoveBatchNameConflictSuffix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Trash the same name twice: the second copy gets a _2 suffix.
	first := f.libFile(t, "a", "x.jpg", "one")
	f.mgr.MoveBatch(ctx, []Item{first})
	second := f.libFile(t, "a", "x.jpg", "two")
	outcomes := f.mgr.MoveBatch(ctx, []Item{second})
	if !outcomes[0].OK() {
		t.Fatalf("second move failed: %s", outcomes[0].Err)
	}

	if _, err := os.Stat(filepath.Join(f.trashDir, "a", "x.jpg")); err != nil {
		t.Errorf("first copy missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.trashDir, "a", "x_2.jpg")); err != nil {
		t.Errorf("suffixed copy missing: %v", err)
	}

	// Third time round: _3.
	third := f.libFile(t, "a", "x.jpg", "three")
	f.mgr.MoveBatch(ctx, []Item{third})
	if _, err := os.Stat(filepath.Join(f.trashDir, "a", "x_3.jpg")); err != nil {
		t.Errorf("third copy missing: %v", err)
	}
}

func TestMoveBatchBestEffort(t *testing.T) {
	f := newFixture(t)
	good := f.libFile(t, "a", "good.jpg", "data")
	bad := Item{FileID: 2, AbsPath: filepath.Join(f.root, "a", "missing.jpg"), RelDir: "a", Filename: "missing.jpg"}

	outcomes := f.mgr.MoveBatch(context.Background(), []Item{bad, good})
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].OK() {
		t.Error("missing file reported as moved")
	}
	if !outcomes[1].OK() {
		t.Errorf("good file blocked by earlier failure: %s", outcomes[1].Err)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.libFile(t, "a", "r.jpg", "data")
	outcomes := f.mgr.MoveBatch(ctx, []Item{it})

	if err := f.mgr.Restore(ctx, outcomes[0].TrashID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(it.AbsPath); err != nil {
		t.Errorf("restored file missing: %v", err)
	}

	// Restored entries leave the listing and cannot be restored twice.
	entries, err := f.mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after restore = %d, want 0", len(entries))
	}
	if err := f.mgr.Restore(ctx, outcomes[0].TrashID); !errors.Is(err, ErrNotTrashed) {
		t.Errorf("second restore = %v, want ErrNotTrashed", err)
	}
}

func TestRestoreConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.libFile(t, "a", "c.jpg", "data")
	outcomes := f.mgr.MoveBatch(ctx, []Item{it})

	// A new file reappeared at the original path.
	if err := os.WriteFile(it.AbsPath, []byte("newer"), 0o644); err != nil {
		t.Fatal(err)
	}

	var conflict *ErrRestoreConflict
	err := f.mgr.Restore(ctx, outcomes[0].TrashID)
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want ErrRestoreConflict", err)
	}
	if conflict.Path != it.AbsPath {
		t.Errorf("conflict path = %q, want %q", conflict.Path, it.AbsPath)
	}
}

func TestRestoreUnknownID(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Restore(context.Background(), 12345); !errors.Is(err, ErrNotTrashed) {
		t.Fatalf("error = %v, want ErrNotTrashed", err)
	}
}

func TestPurgeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.libFile(t, "a", "1.jpg", "aaaa")
	b := f.libFile(t, "a", "2.jpg", "bb")
	f.mgr.MoveBatch(ctx, []Item{a, b})

	count, bytesFreed, err := f.mgr.PurgeAll(ctx)
	if err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	if count != 2 || bytesFreed != 6 {
		t.Errorf("purged %d files / %d bytes, want 2/6", count, bytesFreed)
	}

	entries, err := f.mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after purge = %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(f.trashDir, "a", "1.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Error("purged file still on disk")
	}
}

func TestAutoPurgeOnlyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.libFile(t, "a", "old.jpg", "old")
	b := f.libFile(t, "a", "new.jpg", "new")
	f.mgr.MoveBatch(ctx, []Item{a, b})

	// Backdate one entry's expiry.
	if _, err := f.db.Exec(
		`UPDATE trash SET expires_at = ? WHERE original_path = ?`,
		time.Now().Add(-time.Hour).Unix(), a.AbsPath); err != nil {
		t.Fatal(err)
	}

	if err := f.mgr.AutoPurge(ctx); err != nil {
		t.Fatalf("AutoPurge: %v", err)
	}

	entries, err := f.mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].OriginalPath != b.AbsPath {
		t.Fatalf("entries after auto-purge = %+v, want only the fresh one", entries)
	}
}
