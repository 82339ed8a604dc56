package library

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

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

func newTestStore(tb testing.TB) *Store {
	tb.Helper()
	return NewStore(mustOpenDB(tb), tb.TempDir())
}

func TestEnsureDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.EnsureDirectory(ctx, "2021/trip/day1")
	if err != nil {
		t.Fatalf("EnsureDirectory: %v", err)
	}

	// Idempotent.
	again, err := s.EnsureDirectory(ctx, "2021/trip/day1")
	if err != nil {
		t.Fatalf("EnsureDirectory again: %v", err)
	}
	if again != id {
		t.Errorf("second call returned %d, want %d", again, id)
	}

	// Ancestors were created on the way down, rooted at "".
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM directories`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4 { // "", "2021", "2021/trip", "2021/trip/day1"
		t.Errorf("directory rows = %d, want 4", n)
	}
}

func TestInsertAndKnownFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dirID, err := s.EnsureDirectory(ctx, "photos")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.InsertFile(ctx, dirID, "cat.jpg", 123, 456, "image")
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	known, err := s.KnownFiles(ctx)
	if err != nil {
		t.Fatalf("KnownFiles: %v", err)
	}
	st, ok := known["photos/cat.jpg"]
	if !ok {
		t.Fatalf("file missing from known map: %v", known)
	}
	if st.ID != id || st.Size != 123 || st.MTime != 456 {
		t.Errorf("stamp = %+v", st)
	}
}

func TestTouchFileClearsDerivedMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dirID, _ := s.EnsureDirectory(ctx, "")
	id, err := s.InsertFile(ctx, dirID, "a.jpg", 10, 20, "image")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetContentHash(ctx, id, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFingerprint(ctx, id, 42); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProbe(ctx, id, 640, 480, 1000); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("fully derived file still pending: %+v", pending)
	}

	if err := s.TouchFile(ctx, id, 11, 21); err != nil {
		t.Fatalf("TouchFile: %v", err)
	}
	pending, err = s.PendingFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("touched file not pending: %+v", pending)
	}
	p := pending[0]
	if !p.NeedsHash || !p.NeedsFingerprint || !p.NeedsProbe {
		t.Errorf("pending flags = %+v, want all true", p)
	}
}

func TestPendingFilesVideoNeedsOnlyHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dirID, _ := s.EnsureDirectory(ctx, "")
	if _, err := s.InsertFile(ctx, dirID, "clip.mp4", 10, 20, "video"); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	p := pending[0]
	if !p.NeedsHash || p.NeedsFingerprint || p.NeedsProbe {
		t.Errorf("video pending flags = %+v, want hash only", p)
	}
}

// seed inserts one fully-derived file row and returns its id.
func seed(t *testing.T, s *Store, dir, name string, size int64, hash string) int64 {
	t.Helper()
	ctx := context.Background()
	dirID, err := s.EnsureDirectory(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.InsertFile(ctx, dirID, name, size, 100, "image")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetContentHash(ctx, id, hash); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestDuplicateCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seed(t, s, "x", "a.jpg", 10, "h1")
	b := seed(t, s, "y", "b.jpg", 20, "h1")
	seed(t, s, "x", "solo.jpg", 30, "h2")

	recs, err := s.DuplicateCandidates(ctx)
	if err != nil {
		t.Fatalf("DuplicateCandidates: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d candidates, want 2 (singletons excluded)", len(recs))
	}
	if recs[0].ID != a || recs[1].ID != b {
		t.Errorf("order = %d,%d, want %d,%d", recs[0].ID, recs[1].ID, a, b)
	}
	if recs[0].RelPath() != "x/a.jpg" {
		t.Errorf("rel path = %q", recs[0].RelPath())
	}
}

func TestRecordsByIDsOrderAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seed(t, s, "x", "a.jpg", 10, "h1")
	b := seed(t, s, "x", "b.jpg", 20, "h2")

	recs, err := s.RecordsByIDs(ctx, []int64{b, 9999, a})
	if err != nil {
		t.Fatalf("RecordsByIDs: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Order follows the ids argument; the unknown id is silently absent.
	if recs[0].ID != b || recs[1].ID != a {
		t.Errorf("order = %d,%d, want %d,%d", recs[0].ID, recs[1].ID, b, a)
	}
}

func TestRecordsByIDsAttachesTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seed(t, s, "x", "a.jpg", 10, "h1")
	if _, err := s.db.Exec(`INSERT INTO tags (name) VALUES ('holiday'), ('family')`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`INSERT INTO file_tags (file_id, tag_id) SELECT ?, id FROM tags`, id); err != nil {
		t.Fatal(err)
	}

	recs, err := s.RecordsByIDs(ctx, []int64{id})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].Tags) != 2 {
		t.Fatalf("tags = %v, want 2 entries", recs[0].Tags)
	}
}

func TestRemoveFilesCascadesTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seed(t, s, "x", "a.jpg", 10, "h1")
	if _, err := s.db.Exec(`INSERT INTO tags (name) VALUES ('t')`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`INSERT INTO file_tags (file_id, tag_id) VALUES (?, 1)`, id); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveFiles(ctx, []int64{id}); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n)
	if n != 0 {
		t.Errorf("files remaining = %d", n)
	}
	s.db.QueryRow(`SELECT COUNT(*) FROM file_tags`).Scan(&n)
	if n != 0 {
		t.Errorf("file_tags remaining = %d", n)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s, "x", "a.jpg", 10, "h1")
	id := seed(t, s, "x", "b.jpg", 20, "h2")
	if err := s.SetFingerprint(ctx, id, 7); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Files != 2 || st.TotalBytes != 30 || st.Hashed != 2 || st.Fingerprinted != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Directories != 2 { // "" and "x"
		t.Errorf("directories = %d, want 2", st.Directories)
	}
}

func TestExactGroupCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s, "x", "a.jpg", 10, "h1")
	seed(t, s, "x", "b.jpg", 10, "h1")
	seed(t, s, "x", "c.jpg", 10, "h1")
	seed(t, s, "x", "d.jpg", 10, "h2")

	groups, files, err := s.ExactGroupCounts(ctx)
	if err != nil {
		t.Fatalf("ExactGroupCounts: %v", err)
	}
	if groups != 1 || files != 3 {
		t.Errorf("counts = %d groups / %d files, want 1/3", groups, files)
	}
}
