// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedupe flags point-of-interest records that have at least one
// nearby, similarly named sibling in the same dataset.
package dedupe

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/jcodagnone/poimatch/spatial"
)

// Record is a single point of interest. Identity is positional: records
// carry no external key, and input row order is preserved on output.
type Record struct {
	Name      string  `csv:"name" json:"name"`
	Latitude  float64 `csv:"latitude" json:"latitude"`
	Longitude float64 `csv:"longitude" json:"longitude"`
	IsSimilar int     `csv:"is_similar" json:"is_similar"`
}

// Point returns the record's coordinates as a spatial point.
func (r *Record) Point() spatial.Point {
	return spatial.Point{Lat: r.Latitude, Lng: r.Longitude}
}

// Common errors returned while loading a dataset.
var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyDataset  = errors.New("dataset has no header row")
)

// requiredColumns are the input columns the matcher needs. Extra columns
// are ignored; is_similar in the input is discarded and recomputed.
var requiredColumns = []string{"name", "latitude", "longitude"}

// LoadRecords reads a delimited dataset from path. A missing required
// column or a malformed numeric field is a fatal load error.
func LoadRecords(path string) ([]*Record, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	if err := checkHeader(data); err != nil {
		return nil, err
	}

	var records []*Record
	if err := gocsv.UnmarshalBytes(data, &records); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}

	// Whatever the input says, every record starts unflagged.
	for _, r := range records {
		r.IsSimilar = 0
	}

	return records, nil
}

// Verifies that every required column is present in the header row.
func checkHeader(data []byte) error {
	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyDataset, err)
	}

	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}

	for _, name := range requiredColumns {
		if !present[name] {
			return fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	return nil
}

// SaveRecords writes the annotated dataset to path with exactly the
// columns name, latitude, longitude, is_similar, preserving record order.
func SaveRecords(path string, records []*Record) error {
	output, err := gocsv.MarshalBytes(&records)
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}

	if err := os.WriteFile(path, output, 0o600); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}

	return nil
}
