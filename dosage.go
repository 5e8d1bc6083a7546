// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// dosageTable has one row per variant: metadata, allele frequency,
// dosage variance, and one dosage per sample.
type dosageTable struct {
	Variants []Variant
	Freq     []float64
	Var      []float64
	Dosage   [][]float64
}

func (t *dosageTable) Len() int { return len(t.Variants) }

func (t *dosageTable) Samples() int {
	if len(t.Dosage) == 0 {
		return 0
	}
	return len(t.Dosage[0])
}

// dosage is the expected count of allele 2 given the probabilities of
// (hom A1, het, hom A2).
func dosage(p0, p1, p2 float64) float64 {
	return 2*p2 + p1
}

// deriveDosages converts probability triplets to dosages and adds
// the frequency and variance columns.
func deriveDosages(t *genTable) *dosageTable {
	out := &dosageTable{
		Variants: t.Variants,
		Freq:     make([]float64, t.Len()),
		Var:      make([]float64, t.Len()),
		Dosage:   make([][]float64, t.Len()),
	}
	for r, probs := range t.Probs {
		n := len(probs) / 3
		d := make([]float64, n)
		for i := range d {
			off := tripletColumn(i) - variantFields
			d[i] = dosage(probs[off], probs[off+1], probs[off+2])
		}
		out.Dosage[r] = d
		out.Freq[r], out.Var[r] = dosageStats(d)
	}
	return out
}

// dosageStats returns mean/2 and the population variance of d, or
// NaN for both if d is empty.
func dosageStats(d []float64) (freq, variance float64) {
	if len(d) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.Mean(d, nil) / 2, stat.Moment(2, d, nil)
}

// subset returns the rows with the given indices, in the given
// order. Rows are shared with t.
func (t *dosageTable) subset(rows []int) *dosageTable {
	out := &dosageTable{
		Variants: make([]Variant, len(rows)),
		Freq:     make([]float64, len(rows)),
		Var:      make([]float64, len(rows)),
		Dosage:   make([][]float64, len(rows)),
	}
	for k, r := range rows {
		out.Variants[k] = t.Variants[r]
		out.Freq[k] = t.Freq[r]
		out.Var[k] = t.Var[r]
		out.Dosage[k] = t.Dosage[r]
	}
	return out
}
