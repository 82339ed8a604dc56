package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lbaroni/picsift/internal/media"
)

// ErrUnavailable is returned when the catalog cannot be reached. Callers can
// distinguish it from "no duplicates found", which is an empty (nil) result.
var ErrUnavailable = errors.New("library catalog unavailable")

// MediaRecord is one file row as the duplicate engine sees it.
// DirectoryPath is relative to the library root ("" means the root itself).
type MediaRecord struct {
	ID             int64
	DirectoryPath  string
	Filename       string
	Size           int64
	MTime          int64 // unix seconds
	Width          int   // 0 = unknown
	Height         int
	TakenAt        int64 // unix seconds, 0 = unknown
	Rating         int   // 0 = unrated
	Kind           media.Kind
	Tags           []string
	ContentHash    string
	Fingerprint    uint64
	HasFingerprint bool
}

// PixelCount returns width*height, or 0 when dimensions are unknown.
func (r MediaRecord) PixelCount() int64 {
	return int64(r.Width) * int64(r.Height)
}

// RelPath returns the record's path relative to the library root.
func (r MediaRecord) RelPath() string {
	if r.DirectoryPath == "" {
		return r.Filename
	}
	return r.DirectoryPath + "/" + r.Filename
}

// FileFingerprint pairs a file ID with its 64-bit perceptual fingerprint.
type FileFingerprint struct {
	FileID      int64
	Fingerprint uint64
}

// Stats summarises the catalog for the status endpoint.
type Stats struct {
	Files         int64
	Directories   int64
	TotalBytes    int64
	Hashed        int64
	Fingerprinted int64
}

// Store is the read (and post-trash delete) path over the catalog database.
// The duplicate engine treats it as externally synchronized.
type Store struct {
	db   *sql.DB
	root string
}

// NewStore wraps db. root is the absolute library root used by AbsPath.
func NewStore(db *sql.DB, root string) *Store {
	return &Store{db: db, root: root}
}

// DB exposes the underlying handle for collaborators (sync writer, trash).
func (s *Store) DB() *sql.DB { return s.db }

// Root returns the absolute library root path.
func (s *Store) Root() string { return s.root }

// AbsPath resolves a record to its absolute filesystem path.
func (s *Store) AbsPath(r MediaRecord) string {
	if r.DirectoryPath == "" {
		return filepath.Join(s.root, r.Filename)
	}
	return filepath.Join(s.root, filepath.FromSlash(r.DirectoryPath), r.Filename)
}

// unavailable tags a query failure so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}

const recordColumns = `
	f.id, d.path, f.filename, f.size, f.mtime,
	COALESCE(f.width, 0), COALESCE(f.height, 0), COALESCE(f.taken_at, 0),
	COALESCE(f.rating, 0), f.media_kind,
	COALESCE(f.content_hash, ''), f.perceptual_hash`

func scanRecord(rows *sql.Rows) (MediaRecord, error) {
	var r MediaRecord
	var kind string
	var phash sql.NullInt64
	err := rows.Scan(
		&r.ID, &r.DirectoryPath, &r.Filename, &r.Size, &r.MTime,
		&r.Width, &r.Height, &r.TakenAt,
		&r.Rating, &kind,
		&r.ContentHash, &phash,
	)
	if err != nil {
		return r, err
	}
	r.Kind = media.Kind(kind)
	if phash.Valid {
		r.Fingerprint = uint64(phash.Int64)
		r.HasFingerprint = true
	}
	return r, nil
}

// DuplicateCandidates returns every record whose content hash is shared by at
// least one other file, ordered by hash then id so partitions arrive together.
func (s *Store) DuplicateCandidates(ctx context.Context) ([]MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM files f
		JOIN directories d ON d.id = f.directory_id
		WHERE f.content_hash IN (
			SELECT content_hash FROM files
			WHERE content_hash IS NOT NULL AND content_hash != ''
			GROUP BY content_hash HAVING COUNT(*) >= 2
		)
		ORDER BY f.content_hash, f.id`)
	if err != nil {
		return nil, unavailable("query duplicate candidates", err)
	}
	defer rows.Close()

	var recs []MediaRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan duplicate candidate", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate duplicate candidates", err)
	}
	if err := s.attachTags(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Fingerprints returns all (file id, perceptual fingerprint) pairs.
func (s *Store) Fingerprints(ctx context.Context) ([]FileFingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, perceptual_hash FROM files
		WHERE perceptual_hash IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, unavailable("query fingerprints", err)
	}
	defer rows.Close()

	var fps []FileFingerprint
	for rows.Next() {
		var id, h int64
		if err := rows.Scan(&id, &h); err != nil {
			return nil, unavailable("scan fingerprint", err)
		}
		fps = append(fps, FileFingerprint{FileID: id, Fingerprint: uint64(h)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate fingerprints", err)
	}
	return fps, nil
}

// ExactMemberIDs returns the ids of every file that belongs to an exact
// duplicate partition. Used to exclude byte-identical copies from
// similarity listings, and for the cheap summary counts.
func (s *Store) ExactMemberIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM files
		WHERE content_hash IN (
			SELECT content_hash FROM files
			WHERE content_hash IS NOT NULL AND content_hash != ''
			GROUP BY content_hash HAVING COUNT(*) >= 2
		)`)
	if err != nil {
		return nil, unavailable("query exact member ids", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan exact member id", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ExactGroupCounts returns the number of exact duplicate partitions and the
// total number of files they contain, without materialising any records.
func (s *Store) ExactGroupCounts(ctx context.Context) (groups, files int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(n), 0) FROM (
			SELECT COUNT(*) AS n FROM files
			WHERE content_hash IS NOT NULL AND content_hash != ''
			GROUP BY content_hash HAVING COUNT(*) >= 2
		)`).Scan(&groups, &files)
	if err != nil {
		return 0, 0, unavailable("count exact groups", err)
	}
	return groups, files, nil
}

// RecordsByIDs fetches the given files (missing ids are silently absent from
// the result). Order follows the ids argument.
func (s *Store) RecordsByIDs(ctx context.Context, ids []int64) ([]MediaRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM files f
		JOIN directories d ON d.id = f.directory_id
		WHERE f.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, unavailable("query records by id", err)
	}
	defer rows.Close()

	byID := make(map[int64]MediaRecord, len(ids))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan record", err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}

	recs := make([]MediaRecord, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			recs = append(recs, r)
		}
	}
	if err := s.attachTags(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// RemoveFiles deletes the given file rows in one transaction. Called after a
// successful move to trash; file_tags rows cascade.
func (s *Store) RemoveFiles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin remove tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM files WHERE id = ?`)
	if err != nil {
		return unavailable("prepare remove", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return unavailable(fmt.Sprintf("remove file %d", id), err)
		}
	}
	return tx.Commit()
}

// Stats returns aggregate catalog counts for the status endpoint.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0),
		       COUNT(content_hash), COUNT(perceptual_hash)
		FROM files`).Scan(&st.Files, &st.TotalBytes, &st.Hashed, &st.Fingerprinted)
	if err != nil {
		return st, unavailable("catalog stats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM directories`).Scan(&st.Directories); err != nil {
		return st, unavailable("directory stats", err)
	}
	return st, nil
}

// attachTags populates Tags for every record in recs with one batched query.
func (s *Store) attachTags(ctx context.Context, recs []MediaRecord) error {
	if len(recs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recs)), ",")
	args := make([]interface{}, len(recs))
	index := make(map[int64]int, len(recs))
	for i := range recs {
		args[i] = recs[i].ID
		index[recs[i].ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ft.file_id, t.name
		FROM file_tags ft
		JOIN tags t ON t.id = ft.tag_id
		WHERE ft.file_id IN (`+placeholders+`)
		ORDER BY t.name`, args...)
	if err != nil {
		return unavailable("query tags", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fileID int64
		var name string
		if err := rows.Scan(&fileID, &name); err != nil {
			return unavailable("scan tag", err)
		}
		if i, ok := index[fileID]; ok {
			recs[i].Tags = append(recs[i].Tags, name)
		}
	}
	return rows.Err()
}
