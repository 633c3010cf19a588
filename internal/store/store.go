// Package store persists decoded EDM downloads in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"example.com/edmgate/internal/bitfield"
	"example.com/edmgate/internal/edm"
)

var ErrNotFound = errors.New("store: not found")

// File is one imported download.
type File struct {
	ID           int64
	Name         string
	SHA256       string
	Registration string
	Model        int
	Protocol     string
	Size         int64
	Downloaded   time.Time
	Imported     time.Time
}

// Flight is the stored summary of one decoded flight. Entry is the position
// of its $D line, so a flight id listed twice is stored twice.
type Flight struct {
	FileID   int64
	Entry    int
	FlightID int
	Start    time.Time
	Interval int
	Records  int
	Valid    bool
	HasNA    bool
	Error    string
	Header   edm.FlightHeader
}

// DB wraps a SQLite database connection for decoded flights.
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sha256 TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		registration TEXT,
		model INTEGER,
		protocol TEXT,
		size INTEGER,
		downloaded TEXT,
		imported TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flights (
		file_id INTEGER NOT NULL,
		entry INTEGER NOT NULL,
		flight_id INTEGER NOT NULL,
		start TEXT,
		interval INTEGER,
		records INTEGER,
		valid INTEGER,
		has_na INTEGER,
		error TEXT,
		header_json TEXT NOT NULL,
		PRIMARY KEY (file_id, entry)
	);

	CREATE TABLE IF NOT EXISTS records (
		file_id INTEGER NOT NULL,
		entry INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		time TEXT NOT NULL,
		na INTEGER NOT NULL,
		data_json TEXT NOT NULL,
		PRIMARY KEY (file_id, entry, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_files_registration ON files(registration);
	CREATE INDEX IF NOT EXISTS idx_flights_start ON flights(start);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveFile stores a download with its decoded flights in one transaction.
// Saving a file whose digest is already stored replaces the earlier import.
// Flights are keyed by their index entry. Nil flights are skipped.
func (d *DB) SaveFile(ctx context.Context, f File, flights []*edm.FlightData) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM records WHERE file_id IN (SELECT id FROM files WHERE sha256 = ?)`,
		`DELETE FROM flights WHERE file_id IN (SELECT id FROM files WHERE sha256 = ?)`,
		`DELETE FROM files WHERE sha256 = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, f.SHA256); err != nil {
			return 0, fmt.Errorf("replace file: %w", err)
		}
	}
	if f.Imported.IsZero() {
		f.Imported = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (sha256, name, registration, model, protocol, size, downloaded, imported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SHA256, f.Name, f.Registration, f.Model, f.Protocol, f.Size,
		formatTime(f.Downloaded), formatTime(f.Imported))
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	flightStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flights (file_id, entry, flight_id, start, interval, records, valid, has_na, error, header_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer flightStmt.Close()
	recordStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (file_id, entry, idx, time, na, data_json)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer recordStmt.Close()

	for _, fd := range flights {
		if fd == nil {
			continue
		}
		header, err := json.Marshal(fd.Header)
		if err != nil {
			return 0, fmt.Errorf("flight %d header: %w", fd.Header.ID, err)
		}
		var errText string
		if fd.Err != nil {
			errText = fd.Err.Error()
		}
		if _, err := flightStmt.ExecContext(ctx, fileID, fd.Index, fd.Header.ID, formatTime(fd.Header.Date),
			fd.Header.Interval, len(fd.Records), fd.Valid, fd.HasNA, errText, string(header)); err != nil {
			return 0, fmt.Errorf("insert flight %d: %w", fd.Header.ID, err)
		}
		for i, rec := range fd.Records {
			data, err := json.Marshal(rec)
			if err != nil {
				return 0, fmt.Errorf("flight %d record %d: %w", fd.Header.ID, i, err)
			}
			// NAMask covers the 48 sensor slots and fits an int64 column.
			if _, err := recordStmt.ExecContext(ctx, fileID, fd.Index, i, formatTime(rec.Time),
				int64(rec.NAMask()), string(data)); err != nil {
				return 0, fmt.Errorf("insert flight %d record %d: %w", fd.Header.ID, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return fileID, nil
}

// FileByDigest returns the stored file with the given SHA-256 digest.
func (d *DB) FileByDigest(ctx context.Context, digest string) (*File, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, sha256, name, registration, model, protocol, size, downloaded, imported
		FROM files WHERE sha256 = ?`, digest)
	return scanFile(row)
}

// FileByID returns the stored file with the given row id.
func (d *DB) FileByID(ctx context.Context, id int64) (*File, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, sha256, name, registration, model, protocol, size, downloaded, imported
		FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// Files lists stored downloads, newest import first. An empty registration
// lists all of them.
func (d *DB) Files(ctx context.Context, registration string) ([]File, error) {
	query := `SELECT id, sha256, name, registration, model, protocol, size, downloaded, imported FROM files`
	var args []any
	if registration != "" {
		query += ` WHERE registration = ?`
		args = append(args, registration)
	}
	query += ` ORDER BY imported DESC, id DESC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Flights lists the flights of a stored file in index order.
func (d *DB) Flights(ctx context.Context, fileID int64) ([]Flight, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT file_id, entry, flight_id, start, interval, records, valid, has_na, error, header_json
		FROM flights WHERE file_id = ? ORDER BY entry`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flight
	for rows.Next() {
		var (
			fl            Flight
			start, header string
			errText       sql.NullString
		)
		if err := rows.Scan(&fl.FileID, &fl.Entry, &fl.FlightID, &start, &fl.Interval, &fl.Records,
			&fl.Valid, &fl.HasNA, &errText, &header); err != nil {
			return nil, err
		}
		if fl.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		fl.Error = errText.String
		if err := json.Unmarshal([]byte(header), &fl.Header); err != nil {
			return nil, fmt.Errorf("flight %d header: %w", fl.FlightID, err)
		}
		out = append(out, fl)
	}
	return out, rows.Err()
}

// Records returns the stored records of the flight at index entry in decode
// order.
func (d *DB) Records(ctx context.Context, fileID int64, entry int) ([]edm.FlightDataRecord, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights WHERE file_id = ? AND entry = ?`,
		fileID, entry).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: entry %d of file %d", ErrNotFound, entry, fileID)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT na, data_json FROM records
		WHERE file_id = ? AND entry = ? ORDER BY idx`, fileID, entry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []edm.FlightDataRecord
	for rows.Next() {
		var (
			na   int64
			data string
			rec  edm.FlightDataRecord
		)
		if err := rows.Scan(&na, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		rec.NA = bitfield.FromUint64(uint64(na), edm.NAFlagBits)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*File, error) {
	var (
		f                    File
		registration, proto  sql.NullString
		model, size          sql.NullInt64
		downloaded, imported sql.NullString
	)
	err := s.Scan(&f.ID, &f.SHA256, &f.Name, &registration, &model, &proto, &size, &downloaded, &imported)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Registration = registration.String
	f.Protocol = proto.String
	f.Model = int(model.Int64)
	f.Size = size.Int64
	if f.Downloaded, err = parseTime(downloaded.String); err != nil {
		return nil, err
	}
	if f.Imported, err = parseTime(imported.String); err != nil {
		return nil, err
	}
	return &f, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
