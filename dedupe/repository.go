// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"database/sql"
	"fmt"

	"github.com/jcodagnone/poimatch/spatial"
)

// DatasetStats summarizes a stored dataset.
type DatasetStats struct {
	Total   int `json:"total"`
	Similar int `json:"similar"`
}

// RecordRepository persists annotated records for later inspection.
type RecordRepository interface {
	// CreateSchema creates the records table
	CreateSchema() error

	// BulkInsertRecords inserts a slice of annotated records
	BulkInsertRecords(records []*Record) error

	// ListRecords returns stored records in insertion order,
	// optionally restricted to flagged ones
	ListRecords(similarOnly bool, limit, offset int) ([]*Record, error)

	// Stats returns the total and flagged record counts
	Stats() (*DatasetStats, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a record repository over a duckdb connection.
func NewRecordRepository(db *sql.DB) RecordRepository {
	return &sqlRecordRepository{db: db}
}

// DB returns the underlying database connection for advanced queries.
func (r *sqlRecordRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRecordRepository) CreateSchema() error {
	// DuckDB needs to load the spatial extension
	_, err := r.db.Exec(`INSTALL spatial; LOAD spatial;`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS records_seq START 1;

		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY DEFAULT nextval('records_seq'),
			name VARCHAR NOT NULL,
			point POINT_2D NOT NULL,
			is_similar BOOLEAN NOT NULL,
			h3_res8 UBIGINT
		);
	`)

	return err
}

func (r *sqlRecordRepository) BulkInsertRecords(records []*Record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO records(name, point, is_similar, h3_res8)
		VALUES (?, ST_Point(?, ?), ?, ?)
	`)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = rErr
		}

		return err
	}
	defer stmt.Close()

	for _, record := range records {
		point := record.Point()

		cell, err := point.Cell(prefilterResolution)
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return err
		}

		_, err = stmt.Exec(
			record.Name,
			record.Longitude,
			record.Latitude,
			record.IsSimilar == 1,
			uint64(cell),
		)
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return err
		}
	}

	return tx.Commit()
}

func (r *sqlRecordRepository) ListRecords(similarOnly bool, limit, offset int) ([]*Record, error) {
	query := `SELECT name, point, is_similar FROM records`

	args := []any{}

	if similarOnly {
		query += " WHERE is_similar"
	}

	query += " ORDER BY id"

	if limit > 0 {
		query += " LIMIT ? OFFSET ?"

		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		var point spatial.Point

		var similar bool

		record := &Record{}
		if err := rows.Scan(&record.Name, &point, &similar); err != nil {
			return nil, err
		}

		record.Latitude = point.Lat
		record.Longitude = point.Lng

		if similar {
			record.IsSimilar = 1
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *sqlRecordRepository) Stats() (*DatasetStats, error) {
	stats := &DatasetStats{}

	err := r.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_similar THEN 1 ELSE 0 END), 0)
		FROM records
	`).Scan(&stats.Total, &stats.Similar)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	return stats, nil
}
