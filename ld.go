// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const defaultMAF = 0.01

// filterMAF keeps the variants with maf < Freq < 1-maf. Variants with
// an undefined frequency are dropped.
func filterMAF(t *dosageTable, maf float64) *dosageTable {
	var keep []int
	for r, freq := range t.Freq {
		if freq > maf && freq < 1-maf {
			keep = append(keep, r)
		}
	}
	return t.subset(keep)
}

// constantDosage reports whether d has no variance, i.e., fewer than
// two samples or all values equal.
func constantDosage(d []float64) bool {
	if len(d) < 2 {
		return true
	}
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}

// computeLD returns the Pearson correlation matrix of the variants'
// dosage vectors. Rows and columns of variants with constant dosage
// are NaN. An empty table yields an empty matrix.
func computeLD(t *dosageTable) *mat.SymDense {
	n := t.Len()
	if n == 0 {
		return &mat.SymDense{}
	}
	ld := mat.NewSymDense(n, nil)
	var live, degenerate []int
	for r, d := range t.Dosage {
		if constantDosage(d) {
			degenerate = append(degenerate, r)
		} else {
			live = append(live, r)
		}
	}
	if len(live) > 0 {
		x := mat.NewDense(t.Samples(), len(live), nil)
		for col, r := range live {
			x.SetCol(col, t.Dosage[r])
		}
		corr := mat.NewSymDense(len(live), nil)
		stat.CorrelationMatrix(corr, x, nil)
		for a, i := range live {
			ld.SetSym(i, i, 1)
			for b := a + 1; b < len(live); b++ {
				ld.SetSym(i, live[b], clampCorrelation(corr.At(a, b)))
			}
		}
	}
	nan := math.NaN()
	for _, i := range degenerate {
		for j := 0; j < n; j++ {
			ld.SetSym(i, j, nan)
		}
	}
	return ld
}

// clampCorrelation pulls values pushed just outside [-1, 1] by
// rounding back into range.
func clampCorrelation(r float64) float64 {
	if r > 1 {
		return 1
	} else if r < -1 {
		return -1
	}
	return r
}
