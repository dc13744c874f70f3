// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"github.com/hbollon/go-edlib"
)

// EditDistance returns the Levenshtein distance between two names:
// the minimum number of single-character insertions, deletions and
// substitutions transforming one into the other. Case sensitive.
func EditDistance(a, b string) int {
	return edlib.LevenshteinDistance(a, b)
}

// NamesSimilar reports whether two names are within maxEdits edits of
// each other. The comparison is strict: a distance equal to maxEdits is
// not similar.
func NamesSimilar(a, b string, maxEdits int) bool {
	return EditDistance(a, b) < maxEdits
}
