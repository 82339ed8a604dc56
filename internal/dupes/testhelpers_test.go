package dupes

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	internaldb "github.com/lbaroni/picsift/internal/db"
	"github.com/lbaroni/picsift/internal/library"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
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

// newTestStore returns a store over a fresh database and a temp library root.
func newTestStore(tb testing.TB) (*library.Store, *sql.DB) {
	tb.Helper()
	db := mustOpenDB(tb)
	return library.NewStore(db, tb.TempDir()), db
}

// fileSpec describes one catalog row to seed. phash < 0 means no fingerprint.
type fileSpec struct {
	dir    string
	name   string
	size   int64
	mtime  int64
	hash   string
	phash  int64
	width  int
	height int
	rating int
}

// mustSeedFile inserts a directory (if needed) and a file row, returning the
// file id.
func mustSeedFile(tb testing.TB, db *sql.DB, spec fileSpec) int64 {
	tb.Helper()

	var dirID int64
	err := db.QueryRow(`SELECT id FROM directories WHERE path = ?`, spec.dir).Scan(&dirID)
	if err == sql.ErrNoRows {
		res, ierr := db.Exec(`INSERT INTO directories (path) VALUES (?)`, spec.dir)
		if ierr != nil {
			tb.Fatalf("seed directory %q: %v", spec.dir, ierr)
		}
		dirID, _ = res.LastInsertId()
	} else if err != nil {
		tb.Fatalf("lookup directory %q: %v", spec.dir, err)
	}

	var hash, phash, width, height, rating interface{}
	if spec.hash != "" {
		hash = spec.hash
	}
	if spec.phash >= 0 {
		phash = spec.phash
	}
	if spec.width > 0 {
		width = spec.width
	}
	if spec.height > 0 {
		height = spec.height
	}
	if spec.rating > 0 {
		rating = spec.rating
	}

	res, err := db.Exec(`
		INSERT INTO files
			(directory_id, filename, size, mtime, width, height, rating,
			 media_kind, content_hash, perceptual_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'image', ?, ?)`,
		dirID, spec.name, spec.size, spec.mtime, width, height, rating, hash, phash)
	if err != nil {
		tb.Fatalf("seed file %s/%s: %v", spec.dir, spec.name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// mustWriteFile creates the file on disk under the library root so trash
// operations have something to move.
func mustWriteFile(tb testing.TB, root, relPath, content string) {
	tb.Helper()
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		tb.Fatalf("mkdir for %q: %v", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %q: %v", relPath, err)
	}
}
