package library

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"time"
)

// FileStamp is the size/mtime identity of a known file, keyed by relative path.
type FileStamp struct {
	ID    int64
	Size  int64
	MTime int64
}

// PendingFile is a catalog row still missing derived metadata.
type PendingFile struct {
	ID               int64
	RelPath          string
	Kind             string
	NeedsHash        bool
	NeedsFingerprint bool
	NeedsProbe       bool
}

// EnsureDirectory returns the id of the directory row for relPath
// (slash-separated, "" = library root), creating it and any missing
// ancestors on the way down.
func (s *Store) EnsureDirectory(ctx context.Context, relPath string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM directories WHERE path = ?`, relPath).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, unavailable("lookup directory", err)
	}

	var parentID interface{}
	if relPath != "" {
		parent := path.Dir(relPath)
		if parent == "." {
			parent = ""
		}
		pid, err := s.EnsureDirectory(ctx, parent)
		if err != nil {
			return 0, err
		}
		parentID = pid
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO directories (path, parent_id, mtime) VALUES (?, ?, ?)`,
		relPath, parentID, time.Now().Unix())
	if err != nil {
		return 0, unavailable("insert directory", err)
	}
	return res.LastInsertId()
}

// KnownFiles returns every file's stamp keyed by its library-relative path.
func (s *Store) KnownFiles(ctx context.Context) (map[string]FileStamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, d.path, f.filename, f.size, f.mtime
		FROM files f JOIN directories d ON d.id = f.directory_id`)
	if err != nil {
		return nil, unavailable("query known files", err)
	}
	defer rows.Close()

	known := make(map[string]FileStamp)
	for rows.Next() {
		var st FileStamp
		var dir, name string
		if err := rows.Scan(&st.ID, &dir, &name, &st.Size, &st.MTime); err != nil {
			return nil, unavailable("scan known file", err)
		}
		rel := name
		if dir != "" {
			rel = dir + "/" + name
		}
		known[rel] = st
	}
	return known, rows.Err()
}

// InsertFile creates a file row and returns its id.
func (s *Store) InsertFile(ctx context.Context, dirID int64, filename string, size, mtime int64, kind string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO files (directory_id, filename, size, mtime, media_kind)
		VALUES (?, ?, ?, ?, ?)`,
		dirID, filename, size, mtime, kind)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("insert file %q", filename), err)
	}
	return res.LastInsertId()
}

// TouchFile updates size/mtime for a changed file and clears all derived
// metadata — a changed file must be re-hashed and re-fingerprinted.
func (s *Store) TouchFile(ctx context.Context, id, size, mtime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files
		SET size = ?, mtime = ?,
		    content_hash = NULL, perceptual_hash = NULL,
		    width = NULL, height = NULL, taken_at = NULL
		WHERE id = ?`, size, mtime, id)
	if err != nil {
		return unavailable(fmt.Sprintf("touch file %d", id), err)
	}
	return nil
}

// SetContentHash stores the full-content hash for a file.
func (s *Store) SetContentHash(ctx context.Context, id int64, hash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE files SET content_hash = ? WHERE id = ?`, hash, id); err != nil {
		return unavailable(fmt.Sprintf("set hash for file %d", id), err)
	}
	return nil
}

// SetFingerprint stores the 64-bit perceptual fingerprint for a file.
func (s *Store) SetFingerprint(ctx context.Context, id int64, fp uint64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE files SET perceptual_hash = ? WHERE id = ?`, int64(fp), id); err != nil {
		return unavailable(fmt.Sprintf("set fingerprint for file %d", id), err)
	}
	return nil
}

// SetProbe stores probed display metadata. Zero values are stored as NULL.
func (s *Store) SetProbe(ctx context.Context, id int64, width, height int, takenAt int64) error {
	var w, h, t interface{}
	if width > 0 {
		w = width
	}
	if height > 0 {
		h = height
	}
	if takenAt > 0 {
		t = takenAt
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE files SET width = ?, height = ?, taken_at = ? WHERE id = ?`,
		w, h, t, id); err != nil {
		return unavailable(fmt.Sprintf("set probe for file %d", id), err)
	}
	return nil
}

// PendingFiles lists rows missing a content hash, a fingerprint, or probed
// dimensions. Fingerprint and probe only apply to images.
func (s *Store) PendingFiles(ctx context.Context) ([]PendingFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, d.path, f.filename, f.media_kind,
		       f.content_hash IS NULL,
		       f.perceptual_hash IS NULL AND f.media_kind = 'image',
		       f.width IS NULL AND f.media_kind = 'image'
		FROM files f JOIN directories d ON d.id = f.directory_id
		WHERE f.content_hash IS NULL
		   OR (f.media_kind = 'image' AND (f.perceptual_hash IS NULL OR f.width IS NULL))
		ORDER BY f.id`)
	if err != nil {
		return nil, unavailable("query pending files", err)
	}
	defer rows.Close()

	var pending []PendingFile
	for rows.Next() {
		var p PendingFile
		var dir, name string
		if err := rows.Scan(&p.ID, &dir, &name, &p.Kind,
			&p.NeedsHash, &p.NeedsFingerprint, &p.NeedsProbe); err != nil {
			return nil, unavailable("scan pending file", err)
		}
		p.RelPath = name
		if dir != "" {
			p.RelPath = dir + "/" + name
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
