package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/franz/photor/internal/fingerprint"
)

// ErrDuplicateFingerprint is returned by Insert when a record with the same
// fingerprint is already cataloged
var ErrDuplicateFingerprint = errors.New("fingerprint already cataloged")

// NewPhoto is the payload of a catalog insert
type NewPhoto struct {
	Fingerprint   fingerprint.Fingerprint
	Filename      string
	Directory     string // date bucket, YYYY-MM-DD
	FileSizeBytes int64
	CreateDate    string // resolved capture timestamp, YYYY-MM-DD hh:mm:ss

	ImageHeight  *int64
	ImageWidth   *int64
	MIMEType     *string
	ISO          *int64
	Aperture     *float64
	ShutterSpeed *string
	FocalLength  *string
	Make         *string
	Model        *string
	LensInfo     *string
	LensMake     *string
	LensModel    *string
}

// Photo is a cataloged file
type Photo struct {
	ID int64
	NewPhoto
	FullHash   *string // reserved, never populated
	InsertedAt time.Time
}

// RelPath returns the archive-relative path of the photo
func (p *Photo) RelPath() string {
	return p.Directory + "/" + p.Filename
}

const photoColumns = `id, fingerprint, filename, directory, full_hash, file_size_bytes,
	image_height, image_width, mime_type, iso, aperture, shutter_speed, focal_length,
	make, model, lens_info, lens_make, lens_model, create_date, inserted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*Photo, error) {
	p := &Photo{}
	var fp, insertedAt string
	err := row.Scan(
		&p.ID, &fp, &p.Filename, &p.Directory, &p.FullHash, &p.FileSizeBytes,
		&p.ImageHeight, &p.ImageWidth, &p.MIMEType, &p.ISO, &p.Aperture,
		&p.ShutterSpeed, &p.FocalLength, &p.Make, &p.Model,
		&p.LensInfo, &p.LensMake, &p.LensModel, &p.CreateDate, &insertedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Fingerprint, err = fingerprint.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("photo %d has invalid fingerprint: %w", p.ID, err)
	}
	if t, err := parseSQLiteTime(insertedAt); err == nil {
		p.InsertedAt = t
	}
	return p, nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{time.DateTime, time.RFC3339Nano, "2006-01-02T15:04:05Z"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Lookup returns the photo with the given fingerprint, or nil if absent
func (s *Store) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Photo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE fingerprint = ?`, fp.String())

	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", fp.Short(), err)
	}
	return p, nil
}

// Insert catalogs a photo and returns its ID. Inserting a fingerprint that is
// already present returns ErrDuplicateFingerprint and changes nothing.
func (s *Store) Insert(ctx context.Context, p *NewPhoto) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO photos (
			fingerprint, filename, directory, file_size_bytes,
			image_height, image_width, mime_type, iso, aperture,
			shutter_speed, focal_length, make, model,
			lens_info, lens_make, lens_model, create_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
		RETURNING id
	`,
		p.Fingerprint.String(), p.Filename, p.Directory, p.FileSizeBytes,
		p.ImageHeight, p.ImageWidth, p.MIMEType, p.ISO, p.Aperture,
		p.ShutterSpeed, p.FocalLength, p.Make, p.Model,
		p.LensInfo, p.LensMake, p.LensModel, p.CreateDate,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("insert %s: %w", p.Fingerprint.Short(), ErrDuplicateFingerprint)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert photo: %w", err)
	}
	return id, nil
}

// ListPhotos returns up to limit photos ordered by capture date
func (s *Store) ListPhotos(ctx context.Context, limit int) ([]*Photo, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+photoColumns+` FROM photos ORDER BY create_date, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, p)
	}

	return photos, rows.Err()
}

// DirectoryCount is a bucket and the number of photos in it
type DirectoryCount struct {
	Directory string
	Photos    int
	Bytes     int64
}

// ListDirectories returns the distinct buckets, newest first
func (s *Store) ListDirectories(ctx context.Context) ([]DirectoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT directory, COUNT(*), COALESCE(SUM(file_size_bytes), 0)
		FROM photos
		GROUP BY directory
		ORDER BY directory DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query directories: %w", err)
	}
	defer rows.Close()

	var dirs []DirectoryCount
	for rows.Next() {
		var d DirectoryCount
		if err := rows.Scan(&d.Directory, &d.Photos, &d.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan directory: %w", err)
		}
		dirs = append(dirs, d)
	}

	return dirs, rows.Err()
}

// CountByDirectory returns the number of photos in one bucket
func (s *Store) CountByDirectory(ctx context.Context, directory string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM photos WHERE directory = ?`, directory).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count photos in %s: %w", directory, err)
	}
	return n, nil
}

// Stats summarises the catalog
type Stats struct {
	Photos      int
	Bytes       int64
	Directories int
	Undated     int // photos in the sentinel bucket
}

// Count returns catalog totals. undatedBucket names the bucket used for files
// without a usable capture date.
func (s *Store) Count(ctx context.Context, undatedBucket string) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(file_size_bytes), 0),
		       COUNT(DISTINCT directory),
		       COALESCE(SUM(CASE WHEN directory = ? THEN 1 ELSE 0 END), 0)
		FROM photos
	`, undatedBucket).Scan(&st.Photos, &st.Bytes, &st.Directories, &st.Undated)
	if err != nil {
		return nil, fmt.Errorf("failed to count photos: %w", err)
	}
	return st, nil
}
