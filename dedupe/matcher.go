// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jcodagnone/poimatch/spatial"
	"github.com/jcodagnone/poimatch/utils"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Options configuration for the matcher.
type Options struct {
	// MaxDistance is the distance threshold in meters. A pair whose
	// distance exceeds it is never a match; equality still passes.
	MaxDistance float64

	// MaxEdits is the name edit-distance threshold. Names must be
	// strictly fewer than MaxEdits edits apart to match.
	MaxEdits int

	// BatchSize is the number of pending comparisons dispatched before
	// waiting for the batch to complete.
	BatchSize int

	// MaxProcs bounds concurrent comparisons within a batch.
	// Defaults to the number of CPUs.
	MaxProcs int

	// Exact disables the left-hand pruning of already flagged rows, so
	// every candidate pair is evaluated.
	Exact bool

	// Prefilter enumerates candidate pairs through an H3 cell index
	// instead of all pairs, skipping pairs that cannot be within
	// MaxDistance of each other. Flag results are unchanged.
	Prefilter bool

	// FoldNames compares accent-folded, lowercased names.
	FoldNames bool
}

// DefaultOptions returns the default matching thresholds.
func DefaultOptions() *Options {
	return &Options{
		MaxDistance: 200,
		MaxEdits:    5,
		BatchSize:   100000,
	}
}

// Metrics tracks statistics about a matching pass.
type Metrics struct {
	Rows       int // records in the dataset
	RowsPruned int // rows skipped because already flagged at loop entry
	Pairs      int // candidate pairs evaluated
	Batches    int // batches dispatched
	Matches    int // pair evaluations that matched
	Similar    int // records flagged at the end of the pass
}

// Merge combines two Metrics.
func (m *Metrics) Merge(o *Metrics) *Metrics {
	m.Rows += o.Rows
	m.RowsPruned += o.RowsPruned
	m.Pairs += o.Pairs
	m.Batches += o.Batches
	m.Matches += o.Matches
	m.Similar += o.Similar

	return m
}

// A candidate pair, alive only for the duration of one comparison.
type pair struct {
	i, j int
}

// Matcher runs the pairwise comparison pass over a dataset. The record
// slice is owned by the matcher for the duration of Run: comparison
// tasks read coordinates and names but only ever write the shared flag
// state, which lives in a separate atomic slice until the pass ends.
type Matcher struct {
	options *Options
	records []*Record
	points  []spatial.Point
	names   []string
	flags   []atomic.Bool
	matches atomic.Int64
	Metrics Metrics
}

// NewMatcher creates a matcher over records with the provided options.
func NewMatcher(records []*Record, options *Options) *Matcher {
	if options == nil {
		options = DefaultOptions()
	}

	m := &Matcher{
		options: options,
		records: records,
		points:  make([]spatial.Point, len(records)),
		names:   make([]string, len(records)),
		flags:   make([]atomic.Bool, len(records)),
	}

	for i, r := range records {
		m.points[i] = r.Point()
		if options.FoldNames {
			m.names[i] = utils.LowerASCIIFolding(r.Name)
		} else {
			m.names[i] = r.Name
		}
	}

	return m
}

// Flagged reports whether record i has been flagged as similar.
func (m *Matcher) Flagged(i int) bool {
	return m.flags[i].Load()
}

// Run enumerates every unordered candidate pair (i, j) with i < j and
// evaluates them in batches of BatchSize comparisons, waiting for each
// batch before dispatching the next. A row whose left record is already
// flagged when the enumeration reaches it is skipped entirely unless
// Exact is set; the check happens at loop entry, in the enumerating
// goroutine, never concurrently with the row's own tasks.
//
// On cancellation the in-flight batch finishes, enumeration stops and
// the context error is returned; flags set so far remain valid.
func (m *Matcher) Run(ctx context.Context) error {
	n := len(m.records)
	m.Metrics.Rows = n

	maxProcs := m.options.MaxProcs
	if maxProcs <= 0 {
		maxProcs = runtime.NumCPU()
	}

	batchSize := m.options.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultOptions().BatchSize
	}

	var index *cellIndex

	if m.options.Prefilter {
		var err error

		index, err = newCellIndex(m.points, m.options.MaxDistance)
		if err != nil {
			return fmt.Errorf("building cell index: %w", err)
		}
	}

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Comparing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	batch := make([]pair, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return ctx.Err()
		}

		m.runBatch(batch, maxProcs)
		m.Metrics.Pairs += len(batch)
		m.Metrics.Batches++
		batch = batch[:0]

		return ctx.Err()
	}

	for i := 0; i < n; i++ {
		if bar != nil {
			_ = bar.Add(1)
		}

		// Pruning: a row already flagged has served its purpose.
		if !m.options.Exact && m.flags[i].Load() {
			m.Metrics.RowsPruned++

			continue
		}

		if index != nil {
			for _, j := range index.candidates(i) {
				batch = append(batch, pair{i, j})
				if len(batch) == batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		} else {
			for j := i + 1; j < n; j++ {
				batch = append(batch, pair{i, j})
				if len(batch) == batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	m.annotate()

	return nil
}

// Executes one batch of comparisons, bounded by maxProcs workers, and
// waits for all of them to finish.
func (m *Matcher) runBatch(batch []pair, maxProcs int) {
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, maxProcs)

	for _, p := range batch {
		wg.Add(1)

		go func(p pair) {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			m.evaluatePair(p.i, p.j)
		}(p)
	}

	wg.Wait()
}

// evaluatePair applies the two-stage test to records i and j: the cheap
// geometric stage first, then the name stage, short-circuiting on the
// first failure. Both records are flagged on a match. Evaluating the
// same pair twice is harmless: flag writes are idempotent boolean sets.
func (m *Matcher) evaluatePair(i, j int) {
	d := m.points[i].HaversineDistance(&m.points[j])
	if math.IsNaN(d) || d > m.options.MaxDistance {
		return
	}

	if !NamesSimilar(m.names[i], m.names[j], m.options.MaxEdits) {
		return
	}

	m.flags[i].Store(true)
	m.flags[j].Store(true)
	m.matches.Add(1)
}

// Copies the flag state back into the records once the pass is over.
func (m *Matcher) annotate() {
	m.Metrics.Matches = int(m.matches.Load())

	for i, r := range m.records {
		if m.flags[i].Load() {
			r.IsSimilar = 1
			m.Metrics.Similar++
		} else {
			r.IsSimilar = 0
		}
	}
}
