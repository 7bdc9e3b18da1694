// Package store persists image records in a local SQLite database.
//
// The database is long-lived across code changes: opening it against data
// written by an older schema adds any missing columns with null defaults
// instead of failing, so upgrades never require manual migration.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/hogwatch/hogwatch/pkg/types"
)

// timestampLayout is the storage format for scan timestamps, kept in the
// configured location's wall time.
const timestampLayout = "2006-01-02 15:04:05"

// createTable is the schema for a fresh database. Existing databases are
// brought up to this shape by addMissingColumns.
const createTable = `CREATE TABLE IF NOT EXISTS images (
	image_name TEXT,
	tag TEXT,
	digest TEXT,
	last_updated_image_timestamp TEXT,
	vulnerabilities_count INTEGER,
	PRIMARY KEY (image_name, tag))`

// Static errors for store operations.
var (
	errOpenDatabase = errors.New("failed to open state database")
	errMigrate      = errors.New("failed to migrate state database schema")
	errUpsert       = errors.New("failed to upsert image record")
	errLookup       = errors.New("failed to look up image record")
)

// migratableColumns are the columns added after the original schema shipped.
// They are created on open when absent so older databases keep working.
var migratableColumns = map[string]string{
	"digest":                "TEXT",
	"vulnerabilities_count": "INTEGER",
}

// Store is a SQLite-backed implementation of types.Store.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// New opens (creating if necessary) the SQLite database at path and applies
// additive schema migration. Timestamps are rendered in loc; a nil loc means
// time.Local.
func New(ctx context.Context, path string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenDatabase, err)
	}

	// database/sql serializes access per connection; a single connection keeps
	// concurrent sweep writers from tripping SQLite's locking.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, loc: loc}
	if err := store.migrate(ctx); err != nil {
		db.Close()

		return nil, err
	}

	logrus.WithField("path", path).Debug("Opened state database")

	return store, nil
}

// migrate creates the images table when missing and adds any columns
// introduced since the database was first written.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("%w: %w", errMigrate, err)
	}

	existing, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}

	for column, columnType := range migratableColumns {
		if existing[column] {
			continue
		}

		logrus.WithField("column", column).Info("Adding missing column to state database")

		stmt := fmt.Sprintf("ALTER TABLE images ADD COLUMN %s %s", column, columnType)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", errMigrate, err)
		}
	}

	return nil
}

// tableColumns returns the set of column names currently on the images table.
func (s *Store) tableColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(images)")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMigrate, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)

	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)

		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &primaryKey); err != nil {
			return nil, fmt.Errorf("%w: %w", errMigrate, err)
		}

		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errMigrate, err)
	}

	return columns, nil
}

// Get returns the record for (imageName, tag) and whether one exists.
func (s *Store) Get(ctx context.Context, imageName, tag string) (types.ImageRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT digest, last_updated_image_timestamp, vulnerabilities_count
		 FROM images WHERE image_name = ? AND tag = ?`,
		imageName,
		tag,
	)

	var (
		digest    sql.NullString
		timestamp sql.NullString
		count     sql.NullInt64
	)

	err := row.Scan(&digest, &timestamp, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ImageRecord{}, false, nil
	}

	if err != nil {
		return types.ImageRecord{}, false, fmt.Errorf("%w: %w", errLookup, err)
	}

	record := types.ImageRecord{
		ImageName:          imageName,
		Tag:                tag,
		Digest:             digest.String,
		VulnerabilityCount: int(count.Int64),
	}

	if timestamp.Valid {
		if parsed, err := time.ParseInLocation(timestampLayout, timestamp.String, s.loc); err == nil {
			record.LastScannedAt = parsed
		}
	}

	return record, true, nil
}

// Upsert inserts or replaces the record keyed by (ImageName, Tag).
func (s *Store) Upsert(ctx context.Context, record types.ImageRecord) error {
	timestamp := record.LastScannedAt.In(s.loc).Format(timestampLayout)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO images (image_name, tag, digest, last_updated_image_timestamp, vulnerabilities_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (image_name, tag) DO UPDATE SET
			digest = excluded.digest,
			last_updated_image_timestamp = excluded.last_updated_image_timestamp,
			vulnerabilities_count = excluded.vulnerabilities_count`,
		record.ImageName,
		record.Tag,
		record.Digest,
		timestamp,
		record.VulnerabilityCount,
	)
	if err != nil {
		return fmt.Errorf("%w %s:%s: %w", errUpsert, record.ImageName, record.Tag, err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
