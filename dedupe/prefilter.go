// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"fmt"
	"sort"

	"github.com/jcodagnone/poimatch/spatial"
	"github.com/uber/h3-go/v4"
)

// Resolution of the candidate cell index. At resolution 8 the shortest
// hexagon edge is about 391 meters, so two points within
// maxPrefilterDistance of each other always land in the same or in
// adjacent cells.
const (
	prefilterResolution  = 8
	maxPrefilterDistance = 390 // meters
)

// cellIndex buckets record indices by H3 cell so that the scheduler
// only enumerates pairs that can possibly be within the distance
// threshold. It never changes which pairs match, only which pairs are
// worth evaluating.
type cellIndex struct {
	cells   []h3.Cell
	buckets map[h3.Cell][]int
	disks   map[h3.Cell][]h3.Cell
}

func newCellIndex(points []spatial.Point, maxDistance float64) (*cellIndex, error) {
	if maxDistance > maxPrefilterDistance {
		return nil, fmt.Errorf(
			"prefilter supports distance thresholds up to %dm, got %.0fm",
			maxPrefilterDistance, maxDistance,
		)
	}

	index := &cellIndex{
		cells:   make([]h3.Cell, len(points)),
		buckets: make(map[h3.Cell][]int),
		disks:   make(map[h3.Cell][]h3.Cell),
	}

	for i := range points {
		cell, err := points[i].Cell(prefilterResolution)
		if err != nil {
			return nil, err
		}

		index.cells[i] = cell
		index.buckets[cell] = append(index.buckets[cell], i)
	}

	for cell := range index.buckets {
		disk, err := h3.GridDisk(cell, 1)
		if err != nil {
			return nil, fmt.Errorf("computing neighbors of cell %s: %w", cell, err)
		}

		index.disks[cell] = disk
	}

	return index, nil
}

// candidates returns every record index j > i located in the same or an
// adjacent cell, in ascending order.
func (index *cellIndex) candidates(i int) []int {
	var ret []int

	for _, cell := range index.disks[index.cells[i]] {
		for _, j := range index.buckets[cell] {
			if j > i {
				ret = append(ret, j)
			}
		}
	}

	sort.Ints(ret)

	return ret
}
