// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// variantFields is the number of metadata columns at the start of
// each genotype row: variant ID, RSID, position, allele 1, allele 2.
const variantFields = 5

// Variant is the metadata of one genotype row.
type Variant struct {
	ID   string
	RSID string
	Pos  int
	A1   string
	A2   string
}

// tripletColumn returns the 0-based raw column of the first of the
// three genotype probabilities for sample i.
func tripletColumn(i int) int {
	return variantFields + 3*i
}

// genTable holds genotype probability rows. Probs[r] is row r with
// the metadata columns removed, so sample i's triplet starts at
// Probs[r][tripletColumn(i)-variantFields].
type genTable struct {
	Variants []Variant
	Probs    [][]float64
}

func (t *genTable) Len() int { return len(t.Variants) }

// Samples returns the number of samples per row (0 for an empty
// table).
func (t *genTable) Samples() int {
	if len(t.Probs) == 0 {
		return 0
	}
	return len(t.Probs[0]) / 3
}

// loadGenotypes reads the given files in order and returns the rows
// whose position lies within [region.Start, region.End]. Rows are
// concatenated as found; a variant present in two files appears
// twice.
func loadGenotypes(files []genFile, region Region, logger logrus.FieldLogger) (*genTable, error) {
	table := &genTable{}
	for _, gf := range files {
		var read, kept int
		err := readInput(gf.Path, func(rdr io.Reader, fnm string) error {
			var err error
			read, kept, err = table.readRows(rdr, fnm, region)
			return err
		})
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"file":     gf.Path,
			"rows":     read,
			"selected": kept,
		}).Info("read genotype file")
	}
	return table, nil
}

func (t *genTable) readRows(rdr io.Reader, fnm string, region Region) (read, kept int, err error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		read++
		if len(fields) < variantFields {
			return read, kept, &MalformedInputError{Path: fnm, Line: lineno, Msg: fmt.Sprintf("expected at least %d fields, found %d", variantFields, len(fields))}
		}
		pos, err := strconv.Atoi(fields[2])
		if err != nil {
			return read, kept, &MalformedInputError{Path: fnm, Line: lineno, Msg: fmt.Sprintf("bad position %q", fields[2])}
		}
		if pos < region.Start || pos > region.End {
			continue
		}
		nprobs := len(fields) - variantFields
		if nprobs%3 != 0 {
			return read, kept, &MalformedInputError{Path: fnm, Line: lineno, Msg: fmt.Sprintf("%d probability columns is not a multiple of 3", nprobs)}
		}
		if len(t.Probs) > 0 && nprobs != len(t.Probs[0]) {
			return read, kept, &MalformedInputError{Path: fnm, Line: lineno, Msg: fmt.Sprintf("found %d samples, previous rows had %d", nprobs/3, t.Samples())}
		}
		probs := make([]float64, nprobs)
		for i, s := range fields[variantFields:] {
			probs[i], err = strconv.ParseFloat(s, 64)
			if err != nil {
				return read, kept, &MalformedInputError{Path: fnm, Line: lineno, Msg: fmt.Sprintf("bad probability %q in column %d", s, variantFields+i+1)}
			}
		}
		t.Variants = append(t.Variants, Variant{
			ID:   fields[0],
			RSID: fields[1],
			Pos:  pos,
			A1:   fields[3],
			A2:   fields[4],
		})
		t.Probs = append(t.Probs, probs)
		kept++
	}
	if err := scanner.Err(); err != nil {
		return read, kept, fmt.Errorf("%s: %w", fnm, err)
	}
	return read, kept, nil
}

// sampleFilter returns a table with the probability triplets of the
// keep samples, in keep order.
func sampleFilter(t *genTable, keep []int) (*genTable, error) {
	out := &genTable{
		Variants: t.Variants,
		Probs:    make([][]float64, len(t.Probs)),
	}
	for r, row := range t.Probs {
		probs := make([]float64, 0, 3*len(keep))
		for _, i := range keep {
			off := tripletColumn(i) - variantFields
			if i < 0 || off+3 > len(row) {
				return nil, fmt.Errorf("sample index %d out of range: genotype rows have %d samples", i, len(row)/3)
			}
			probs = append(probs, row[off:off+3]...)
		}
		out.Probs[r] = probs
	}
	return out, nil
}
