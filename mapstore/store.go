// Package mapstore persists finished scan documents to a local
// sqlite database so maps survive restarts and can be re-applied
// without re-probing the surface.
package mapstore

import (
	"bytes"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fluidcnc/autolevel/heightmap"
)

// ErrNotFound is returned by Load when no scan with the given session
// exists.
var ErrNotFound = errors.New("mapstore: scan not found")

//go:embed schema.sql
var schemaSQL string

// Store is a sqlite-backed archive of scan documents. Documents are
// stored in their JSON export form, with a few columns lifted out for
// listing.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save archives a document. Saving the same session again replaces
// the stored copy.
func (s *Store) Save(d *heightmap.Document) error {
	if d.HeightMap == nil {
		return heightmap.ErrNoMap
	}
	if d.SessionID == "" {
		return errors.New("mapstore: document has no session id")
	}

	var buf bytes.Buffer
	if err := d.Export(&buf); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scans (session_id, created, cols, rows, min_z, max_z, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.SessionID, d.Created, d.HeightMap.Cols, d.HeightMap.Rows, d.HeightMap.MinZ, d.HeightMap.MaxZ, buf.String())
	if err != nil {
		return fmt.Errorf("save scan %s: %w", d.SessionID, err)
	}
	return nil
}

// Load returns the stored document for a session.
func (s *Store) Load(sessionID string) (*heightmap.Document, error) {
	var doc string
	err := s.db.QueryRow("SELECT document FROM scans WHERE session_id = ?", sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return heightmap.Import(bytes.NewReader([]byte(doc)))
}

// LoadLatest returns the most recently saved document.
func (s *Store) LoadLatest() (*heightmap.Document, error) {
	var doc string
	err := s.db.QueryRow("SELECT document FROM scans ORDER BY created DESC LIMIT 1").Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return heightmap.Import(bytes.NewReader([]byte(doc)))
}

// ScanInfo is one row of the scan archive listing.
type ScanInfo struct {
	SessionID string    `json:"sessionId"`
	Created   time.Time `json:"created"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	MinZ      float64   `json:"minZ"`
	MaxZ      float64   `json:"maxZ"`
}

// List returns archived scans, newest first.
func (s *Store) List() ([]ScanInfo, error) {
	rows, err := s.db.Query(`
		SELECT session_id, created, cols, rows, min_z, max_z
		FROM scans ORDER BY created DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []ScanInfo
	for rows.Next() {
		var info ScanInfo
		err = rows.Scan(&info.SessionID, &info.Created, &info.Cols, &info.Rows, &info.MinZ, &info.MaxZ)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes an archived scan. Deleting a missing session is not
// an error.
func (s *Store) Delete(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM scans WHERE session_id = ?", sessionID)
	return err
}
