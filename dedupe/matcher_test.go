// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Montevideo. One degree of latitude is ~111195m, so 0.00009° is ~10m.
const (
	baseLat = -34.9011
	baseLng = -56.1645
)

func record(name string, lat, lng float64) *Record {
	return &Record{Name: name, Latitude: lat, Longitude: lng}
}

func run(t *testing.T, records []*Record, options *Options) *Matcher {
	t.Helper()

	m := NewMatcher(records, options)
	require.NoError(t, m.Run(context.Background()))

	return m
}

func flags(records []*Record) []int {
	ret := make([]int, len(records))
	for i, r := range records {
		ret[i] = r.IsSimilar
	}

	return ret
}

func TestMatcherNearbySameName(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat+0.00009, baseLng), // ~10m away
	}

	run(t, records, nil)

	assert.Equal(t, []int{1, 1}, flags(records))
}

func TestMatcherFarApart(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat+0.45, baseLng), // ~50km away
	}

	run(t, records, nil)

	assert.Equal(t, []int{0, 0}, flags(records))
}

func TestMatcherDissimilarNames(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Zebra Factory", baseLat, baseLng),
	}

	run(t, records, nil)

	assert.Equal(t, []int{0, 0}, flags(records))
}

func TestMatcherUnflaggedRowStillCompared(t *testing.T) {
	// A matches nothing; B and C match each other. B is unflagged when
	// the enumeration reaches it, so the (B, C) pair must be evaluated.
	records := []*Record{
		record("Zebra Factory", baseLat, baseLng),
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Rome", baseLat, baseLng),
	}

	run(t, records, nil)

	assert.Equal(t, []int{0, 1, 1}, flags(records))
}

// chainRecords builds a dataset where A matches B, C matches only B, and
// all three share coordinates. Whether C ends up flagged depends on
// whether B's row is pruned before (B, C) is evaluated.
func chainRecords() []*Record {
	return []*Record{
		record("AAAAAAAA", baseLat, baseLng),
		record("AAAABBBB", baseLat, baseLng), // 4 edits from A, 4 from C
		record("BBBBBBBB", baseLat, baseLng), // 8 edits from A
	}
}

func TestMatcherPruningSkipsFlaggedRow(t *testing.T) {
	// With single-pair batches, (A, B) completes and flags B before the
	// enumeration reaches B's row, so (B, C) is never evaluated.
	records := chainRecords()
	m := run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 1})

	assert.Equal(t, []int{1, 1, 0}, flags(records))
	assert.Equal(t, 1, m.Metrics.RowsPruned)
	assert.Equal(t, 2, m.Metrics.Pairs)
}

func TestMatcherLargeBatchDefersPruning(t *testing.T) {
	// With a batch big enough to hold every pair, no comparison has run
	// by the time each row's flag is checked, so nothing is pruned.
	records := chainRecords()
	m := run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000})

	assert.Equal(t, []int{1, 1, 1}, flags(records))
	assert.Equal(t, 0, m.Metrics.RowsPruned)
	assert.Equal(t, 3, m.Metrics.Pairs)
}

func TestMatcherExactMode(t *testing.T) {
	records := chainRecords()
	m := run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 1, Exact: true})

	assert.Equal(t, []int{1, 1, 1}, flags(records))
	assert.Equal(t, 0, m.Metrics.RowsPruned)
	assert.Equal(t, 3, m.Metrics.Pairs)
}

func TestMatcherEmptyAndSingle(t *testing.T) {
	m := run(t, nil, nil)
	assert.Equal(t, 0, m.Metrics.Pairs)

	records := []*Record{record("Cafe Roma", baseLat, baseLng)}
	m = run(t, records, nil)

	assert.Equal(t, 0, m.Metrics.Pairs)
	assert.Equal(t, []int{0}, flags(records))
}

func TestMatcherDistanceThresholdBoundary(t *testing.T) {
	a := record("Cafe Roma", baseLat, baseLng)
	b := record("Cafe Roma", baseLat+0.0018, baseLng) // ~200m away

	pa, pb := a.Point(), b.Point()
	d := pa.HaversineDistance(&pb)

	// distance exactly equal to the threshold still passes stage one
	records := []*Record{a, b}
	run(t, records, &Options{MaxDistance: d, MaxEdits: 5, BatchSize: 100000})
	assert.Equal(t, []int{1, 1}, flags(records))

	// anything beyond it does not
	a.IsSimilar, b.IsSimilar = 0, 0
	run(t, records, &Options{MaxDistance: d * 0.999, MaxEdits: 5, BatchSize: 100000})
	assert.Equal(t, []int{0, 0}, flags(records))
}

func TestMatcherEditThresholdBoundary(t *testing.T) {
	records := []*Record{
		record("AAAAA", baseLat, baseLng),
		record("BBBBB", baseLat, baseLng), // exactly 5 edits apart
	}

	run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000})
	assert.Equal(t, []int{0, 0}, flags(records))

	run(t, records, &Options{MaxDistance: 200, MaxEdits: 6, BatchSize: 100000})
	assert.Equal(t, []int{1, 1}, flags(records))
}

func TestMatcherEvaluatePairIdempotent(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat, baseLng),
	}

	m := NewMatcher(records, nil)
	m.evaluatePair(0, 1)
	m.evaluatePair(0, 1)

	assert.True(t, m.Flagged(0))
	assert.True(t, m.Flagged(1))
}

func TestMatcherNaNCoordinates(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", math.NaN(), baseLng),
		record("Cafe Roma", baseLat, baseLng),
	}

	run(t, records, nil)

	assert.Equal(t, []int{0, 0}, flags(records))
}

func TestMatcherBatching(t *testing.T) {
	records := make([]*Record, 30)
	for i := range records {
		// far from everything, nothing matches
		records[i] = record("Cafe Roma", baseLat+float64(i), baseLng)
	}

	m := run(t, records, &Options{
		MaxDistance: 200,
		MaxEdits:    5,
		BatchSize:   7,
		MaxProcs:    3,
		Exact:       true,
	})

	assert.Equal(t, 435, m.Metrics.Pairs) // 30*29/2
	assert.Equal(t, 63, m.Metrics.Batches)
	assert.Equal(t, 0, m.Metrics.Matches)
}

func TestMatcherCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat, baseLng),
	}

	m := NewMatcher(records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 1})
	err := m.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, m.Metrics.Pairs, 3)
}

func TestMatcherPrefilterEquivalence(t *testing.T) {
	// two clusters far apart, plus a loner
	records := func() []*Record {
		return []*Record{
			record("Cafe Roma", baseLat, baseLng),
			record("Cafe Rome", baseLat+0.00009, baseLng),
			record("Zebra Factory", baseLat, baseLng),
			record("Panaderia Sur", baseLat+2, baseLng+2),
			record("Panaderia Sud", baseLat+2.00009, baseLng+2),
			record("Solitaria", baseLat-5, baseLng-5),
		}
	}

	plain := records()
	m1 := run(t, plain, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000})

	filtered := records()
	m2 := run(t, filtered, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000, Prefilter: true})

	assert.Equal(t, flags(plain), flags(filtered))
	assert.Equal(t, []int{1, 1, 0, 1, 1, 0}, flags(filtered))
	assert.Less(t, m2.Metrics.Pairs, m1.Metrics.Pairs)
}

func TestMatcherPrefilterRejectsWideThreshold(t *testing.T) {
	records := []*Record{
		record("Cafe Roma", baseLat, baseLng),
		record("Cafe Roma", baseLat, baseLng),
	}

	m := NewMatcher(records, &Options{MaxDistance: 500, MaxEdits: 5, BatchSize: 100000, Prefilter: true})
	err := m.Run(context.Background())

	require.Error(t, err)
}

func TestMatcherFoldNames(t *testing.T) {
	records := []*Record{
		record("CAFÉ ROMA", baseLat, baseLng),
		record("cafe roma", baseLat, baseLng),
	}

	run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000})
	assert.Equal(t, []int{0, 0}, flags(records))

	run(t, records, &Options{MaxDistance: 200, MaxEdits: 5, BatchSize: 100000, FoldNames: true})
	assert.Equal(t, []int{1, 1}, flags(records))
}

func TestMetricsMerge(t *testing.T) {
	a := &Metrics{Rows: 2, Pairs: 1, Batches: 1, Matches: 1, Similar: 2}
	b := &Metrics{Rows: 3, RowsPruned: 1, Pairs: 2, Batches: 1}

	a.Merge(b)

	assert.Equal(t, &Metrics{Rows: 5, RowsPruned: 1, Pairs: 3, Batches: 2, Matches: 1, Similar: 2}, a)
}
