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
)

// Region is one genomic interval of interest. Start and End are
// base-pair positions, both inclusive. Name is the stem used for
// output files.
type Region struct {
	Chrom string
	Start int
	End   int
	Name  string
}

// NewRegion builds a Region from text fields. Start and end may have
// surrounding whitespace; chrom is stored as given.
func NewRegion(chrom, start, end, name string) (Region, error) {
	s, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return Region{}, fmt.Errorf("bad start %q: %w", start, err)
	}
	e, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return Region{}, fmt.Errorf("bad end %q: %w", end, err)
	}
	return Region{Chrom: chrom, Start: s, End: e, Name: name}, nil
}

func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d %s", r.Chrom, r.Start, r.End, r.Name)
}

// ReadRegions parses BED-style lines (chrom, start, end, name, ...).
// Blank lines, comments, and track/browser lines are skipped. path is
// only used in error messages.
func ReadRegions(rdr io.Reader, path string) ([]Region, error) {
	var regions []Region
	scanner := bufio.NewScanner(rdr)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if skipBEDLine(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, &MalformedInputError{Path: path, Line: lineno, Msg: fmt.Sprintf("expected at least 4 fields, found %d", len(fields))}
		}
		region, err := NewRegion(fields[0], fields[1], fields[2], fields[3])
		if err != nil {
			return nil, &MalformedInputError{Path: path, Line: lineno, Msg: err.Error()}
		}
		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return regions, nil
}

func skipBEDLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "track") ||
		strings.HasPrefix(trimmed, "browser")
}
