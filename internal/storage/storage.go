// Package storage writes captured pictures to disk, indexes them in a SQLite
// media database and reports how many more pictures fit.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shutterbrainz/internal/saver"
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    title        TEXT NOT NULL,
    path         TEXT NOT NULL UNIQUE,
    mime_type    TEXT NOT NULL,
    taken_at_ns  INTEGER NOT NULL,
    latitude     REAL,
    longitude    REAL,
    orientation  INTEGER NOT NULL,
    width        INTEGER NOT NULL,
    height       INTEGER NOT NULL,
    size         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_taken_at ON images(taken_at_ns);
`

// Pictures-remaining sentinels.
const (
	Unavailable int64 = -1
	Preparing   int64 = -2
	UnknownSize int64 = -3
)

const (
	DefaultLowThreshold int64 = 50_000_000
	DefaultPictureSize  int64 = 1_500_000
)

// URIPrefix prefixes the id of every persisted picture.
const URIPrefix = "media://images/"

// Config locates the picture directory and the media index.
type Config struct {
	Dir          string
	IndexDB      string
	LowThreshold int64
	PictureSize  int64
}

// Record is one row of the media index.
type Record struct {
	ID          int64
	Title       string
	Path        string
	MimeType    string
	TakenAt     time.Time
	Latitude    sql.NullFloat64
	Longitude   sql.NullFloat64
	Orientation int
	Width       int
	Height      int
	Size        int64
}

// URI returns the media URI for the record.
func (r Record) URI() string {
	return fmt.Sprintf("%s%d", URIPrefix, r.ID)
}

// Store implements saver.Persister.
type Store struct {
	db  *sql.DB
	cfg Config

	freeSpace func(dir string) (int64, error)
}

// Open creates the picture directory and opens (or creates) the media index.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage dir is required")
	}
	if cfg.IndexDB == "" {
		cfg.IndexDB = filepath.Join(cfg.Dir, "media.db")
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = DefaultLowThreshold
	}
	if cfg.PictureSize <= 0 {
		cfg.PictureSize = DefaultPictureSize
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create picture directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.IndexDB), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.IndexDB+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open media index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, cfg: cfg, freeSpace: availableBytes}, nil
}

// Close closes the media index.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Dir returns the picture directory.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// Persist writes the picture and indexes it, returning its media URI.
func (s *Store) Persist(ctx context.Context, r saver.Request) (string, error) {
	if len(r.Data) == 0 {
		return "", errors.New("empty picture")
	}
	takenAt := r.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now()
	}

	title := Title(takenAt)
	ext, mime := extensionFor(r.PictureFormat)
	path, err := s.writeFile(title, ext, r.Data)
	if err != nil {
		return "", err
	}

	var lat, lon sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO images (title, path, mime_type, taken_at_ns, latitude, longitude, orientation, width, height, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		title, path, mime, takenAt.UnixNano(), lat, lon, r.Orientation, r.Width, r.Height, len(r.Data),
	)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("insert image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("get last insert id: %w", err)
	}
	return fmt.Sprintf("%s%d", URIPrefix, id), nil
}

// writeFile stores data as <title><ext>, adding a _N suffix when pictures
// taken within the same second collide.
func (s *Store) writeFile(title, ext string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.cfg.Dir, ".pending-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write picture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close picture: %w", err)
	}

	for i := 0; i < 1000; i++ {
		name := title + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", title, i, ext)
		}
		path := filepath.Join(s.cfg.Dir, name)
		if _, err := os.Lstat(path); err == nil {
			continue
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return "", fmt.Errorf("rename picture: %w", err)
		}
		return path, nil
	}
	os.Remove(tmpName)
	return "", fmt.Errorf("no free file name for %s", title)
}

// Get returns the record with the given id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, path, mime_type, taken_at_ns, latitude, longitude, orientation, width, height, size
		FROM images WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return r, nil
}

// Latest returns the most recently taken picture, or nil when the index is empty.
func (s *Store) Latest(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, path, mime_type, taken_at_ns, latitude, longitude, orientation, width, height, size
		FROM images ORDER BY taken_at_ns DESC, id DESC LIMIT 1`)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest image: %w", err)
	}
	return r, nil
}

// Count returns the number of indexed pictures.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	var takenAt int64
	err := row.Scan(&r.ID, &r.Title, &r.Path, &r.MimeType, &takenAt, &r.Latitude, &r.Longitude,
		&r.Orientation, &r.Width, &r.Height, &r.Size)
	if err != nil {
		return nil, err
	}
	r.TakenAt = time.Unix(0, takenAt)
	return &r, nil
}

// PicturesRemaining estimates how many more pictures fit in the picture directory.
func (s *Store) PicturesRemaining() int64 {
	avail, err := s.freeSpace(s.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Unavailable
		}
		return UnknownSize
	}
	return Remaining(avail, s.cfg.LowThreshold, s.cfg.PictureSize)
}

// Remaining converts available bytes into a picture count. Below the low-storage
// threshold nothing fits.
func Remaining(available, lowThreshold, pictureSize int64) int64 {
	if pictureSize <= 0 {
		return UnknownSize
	}
	if available <= lowThreshold {
		return 0
	}
	return (available - lowThreshold) / pictureSize
}

// Title names a picture after the time it was taken.
func Title(t time.Time) string {
	return "IMG_" + t.Format("20060102_150405")
}

func extensionFor(format string) (ext, mime string) {
	switch format {
	case "", "jpeg", "jpg":
		return ".jpg", "image/jpeg"
	case "raw":
		return ".raw", "application/octet-stream"
	default:
		return "." + format, "image/" + format
	}
}
