// Package gallery persists per-speaker, per-digit centroid vectors and the
// salted PIN digest. No raw audio and no transcripts are ever stored.
package gallery

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voicegate-labs/voicegate-core/internal/config"
	_ "modernc.org/sqlite"
)

var (
	// ErrSpeakerExists reports a commit for an already-enrolled speaker_id.
	ErrSpeakerExists = errors.New("gallery: speaker already exists")

	// ErrSpeakerNotFound reports a lookup for an unknown speaker_id.
	ErrSpeakerNotFound = errors.New("gallery: speaker not found")

	// ErrPINNotSet reports a PIN verification against a speaker without one.
	ErrPINNotSet = errors.New("gallery: pin not set")

	// ErrDimension reports a stored vector whose dimension does not match
	// the configured embedding dimension.
	ErrDimension = errors.New("gallery: embedding dimension mismatch")
)

// galleryDigits is the full digit alphabet every committed speaker covers.
var galleryDigits = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Speaker is one enrolled identity.
type Speaker struct {
	SpeakerID   string
	SpeakerName string
	HasPIN      bool
	CreatedAt   time.Time
}

// Gallery is a speaker plus their complete ten-digit centroid set.
type Gallery struct {
	Speaker   Speaker
	Centroids map[string][]float32
}

// Store is the sqlite-backed gallery.
type Store struct {
	db    *sql.DB
	dim   int
	algo  string
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the gallery store, creating the schema if needed.
func Open(ctx context.Context, cfg config.GalleryConfig, auth config.AuthConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:    db,
		dim:   auth.EmbeddingDim,
		algo:  auth.PINAlgorithm,
		log:   log,
		clock: time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS speakers (
    speaker_id TEXT PRIMARY KEY,
    speaker_name TEXT,
    pin_salt BLOB,
    pin_digest BLOB,
    pin_algo TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS voiceprints (
    speaker_id TEXT NOT NULL,
    digit TEXT NOT NULL,
    embedding BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (speaker_id, digit),
    FOREIGN KEY(speaker_id) REFERENCES speakers(speaker_id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether a speaker_id is enrolled.
func (s *Store) Exists(ctx context.Context, speakerID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM speakers WHERE speaker_id = ?`, speakerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Commit atomically creates the speaker row and all ten centroid rows.
// Either everything appears or nothing does. pin may be empty; when set it
// must already be format-validated by the caller.
func (s *Store) Commit(ctx context.Context, speakerID, speakerName, pin string, centroids map[string][]float32) error {
	if len(centroids) != len(galleryDigits) {
		return fmt.Errorf("gallery: commit needs %d centroids, got %d", len(galleryDigits), len(centroids))
	}
	for _, digit := range galleryDigits {
		v, ok := centroids[digit]
		if !ok {
			return fmt.Errorf("gallery: commit missing centroid for digit %q", digit)
		}
		if len(v) != s.dim {
			return fmt.Errorf("%w: digit %q has %d values, want %d", ErrDimension, digit, len(v), s.dim)
		}
	}

	var (
		salt   []byte
		digest []byte
		algo   string
		err    error
	)
	if pin != "" {
		salt, err = newSalt()
		if err != nil {
			return err
		}
		digest, err = digestPIN(s.algo, salt, pin)
		if err != nil {
			return err
		}
		algo = s.algo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.clock().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO speakers(speaker_id, speaker_name, pin_salt, pin_digest, pin_algo, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		speakerID, speakerName, salt, digest, algo, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSpeakerExists
		}
		return fmt.Errorf("gallery: insert speaker: %w", err)
	}

	for _, digit := range galleryDigits {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO voiceprints(speaker_id, digit, embedding, created_at) VALUES(?, ?, ?, ?)`,
			speakerID, digit, packVector(centroids[digit]), now)
		if err != nil {
			return fmt.Errorf("gallery: insert voiceprint %q: %w", digit, err)
		}
	}

	return tx.Commit()
}

// Load returns the speaker and their complete centroid set.
func (s *Store) Load(ctx context.Context, speakerID string) (Gallery, error) {
	var (
		g       Gallery
		name    sql.NullString
		digest  []byte
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT speaker_name, pin_digest, created_at FROM speakers WHERE speaker_id = ?`,
		speakerID).Scan(&name, &digest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Gallery{}, ErrSpeakerNotFound
	}
	if err != nil {
		return Gallery{}, err
	}

	g.Speaker = Speaker{
		SpeakerID:   speakerID,
		SpeakerName: name.String,
		HasPIN:      len(digest) > 0,
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		g.Speaker.CreatedAt = ts
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT digit, embedding FROM voiceprints WHERE speaker_id = ?`, speakerID)
	if err != nil {
		return Gallery{}, err
	}
	defer rows.Close()

	g.Centroids = make(map[string][]float32, len(galleryDigits))
	for rows.Next() {
		var digit string
		var blob []byte
		if err := rows.Scan(&digit, &blob); err != nil {
			return Gallery{}, err
		}
		v, err := unpackVector(blob)
		if err != nil {
			return Gallery{}, err
		}
		if len(v) != s.dim {
			return Gallery{}, fmt.Errorf("%w: digit %q has %d values, want %d", ErrDimension, digit, len(v), s.dim)
		}
		g.Centroids[digit] = v
	}
	if err := rows.Err(); err != nil {
		return Gallery{}, err
	}
	if len(g.Centroids) != len(galleryDigits) {
		return Gallery{}, fmt.Errorf("gallery: speaker %q has %d centroids, want %d", speakerID, len(g.Centroids), len(galleryDigits))
	}
	return g, nil
}

// VerifyPIN compares pin against the stored digest in constant time.
func (s *Store) VerifyPIN(ctx context.Context, speakerID, pin string) (bool, error) {
	var (
		salt   []byte
		digest []byte
		algo   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pin_salt, pin_digest, pin_algo FROM speakers WHERE speaker_id = ?`,
		speakerID).Scan(&salt, &digest, &algo)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrSpeakerNotFound
	}
	if err != nil {
		return false, err
	}
	if len(digest) == 0 {
		return false, ErrPINNotSet
	}

	candidate, err := digestPIN(algo.String, salt, pin)
	if err != nil {
		return false, err
	}
	return digestEqual(candidate, digest), nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// there is no exported errno type to match on.
	return err != nil && strings.Contains(err.Error(), "constraint")
}

// packVector encodes a float32 vector as packed little-endian bytes.
// The encoding round-trips bit-exactly.
func packVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

func unpackVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.New("gallery: embedding blob length not a multiple of 4")
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
