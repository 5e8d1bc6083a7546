// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// manifestHeaderLines is the number of lines at the top of a sample
// manifest that do not describe samples.
const manifestHeaderLines = 2

// ReadManifest returns the sample IDs listed in a sample manifest,
// in file order. The position of an ID in the returned slice is the
// sample index used to find its probability columns in genotype
// files.
func ReadManifest(rdr io.Reader, path string) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(rdr)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if lineno <= manifestHeaderLines {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, &MalformedInputError{Path: path, Line: lineno, Msg: "sample ID column missing"}
		}
		ids = append(ids, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// ReadKeep returns the first field of each non-blank line.
func ReadKeep(rdr io.Reader, path string) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// KeepList is the set of retained sample indices, in manifest order.
type KeepList []int

// NewKeepList returns the manifest indices of the samples named in
// keep. The result follows manifest order regardless of the order of
// keep. Keep IDs that do not appear in the manifest are returned in
// missing.
func NewKeepList(manifest, keep []string) (list KeepList, missing []string) {
	want := make(map[string]bool, len(keep))
	for _, id := range keep {
		want[id] = true
	}
	found := make(map[string]bool, len(keep))
	for i, id := range manifest {
		if want[id] {
			list = append(list, i)
			found[id] = true
		}
	}
	for _, id := range keep {
		if !found[id] {
			missing = append(missing, id)
			found[id] = true
		}
	}
	return list, missing
}
