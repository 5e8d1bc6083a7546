// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// genFile is a genotype file whose name encodes the Mb range it
// covers.
type genFile struct {
	Path    string
	StartMb int
	EndMb   int
}

var genRangeRe = regexp.MustCompile(`^(\d+)-(\d+)(Mb)?$`)

// parseGenRange extracts the "<start>-<end>[Mb]" token from a
// genotype file name such as "chr1_1-5Mb.gen" or
// "ukb.chr22.10-15Mb.gen.gz". When several segments look like a
// range, the last one wins.
func parseGenRange(name string) (start, end int, ok bool) {
	segments := strings.FieldsFunc(trimGenSuffix(name), func(r rune) bool { return r == '.' || r == '_' })
	for i := len(segments) - 1; i >= 0; i-- {
		m := genRangeRe.FindStringSubmatch(segments[i])
		if m == nil {
			continue
		}
		s, err1 := strconv.Atoi(m[1])
		e, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || s > e {
			return 0, 0, false
		}
		return s, e, true
	}
	return 0, 0, false
}

// queryMb widens a base-pair interval to the whole megabases it
// touches.
func queryMb(start, end int) (qs, qe int) {
	return int(math.Floor(float64(start) / 1e6)), int(math.Ceil(float64(end) / 1e6))
}

// locator finds the genotype files that overlap a region. Files are
// discovered by listing the directory part of root and matching names
// of the form <prefix><chrom>[._]*.gen[.gz], where prefix is the last
// path component of root. A root ending in "/" has an empty prefix.
type locator struct {
	root    string
	log     logrus.FieldLogger
	byChrom map[string]rangeTree
}

func newLocator(root string, logger logrus.FieldLogger) *locator {
	return &locator{root: root, log: logger, byChrom: map[string]rangeTree{}}
}

func (l *locator) splitRoot() (dir, prefix string) {
	if strings.HasSuffix(l.root, "/") {
		return l.root, ""
	}
	dir, prefix = filepath.Split(l.root)
	if dir == "" {
		dir = "."
	}
	return dir, prefix
}

// candidates lists the genotype files for chrom whose names carry a
// parseable range.
func (l *locator) candidates(chrom string) ([]genFile, error) {
	dir, prefix := l.splitRoot()
	d, err := open(dir)
	if err != nil {
		return nil, fmt.Errorf("listing genotype files: %w", err)
	}
	defer d.Close()
	infos, err := d.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("listing genotype files in %s: %w", dir, err)
	}
	var files []genFile
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !isGenName(name, prefix+chrom) {
			continue
		}
		start, end, ok := parseGenRange(name)
		if !ok {
			l.log.WithField("file", name).Debug("skipping genotype file without a parseable Mb range")
			continue
		}
		files = append(files, genFile{Path: filepath.Join(dir, name), StartMb: start, EndMb: end})
	}
	return files, nil
}

// Locate returns the files overlapping region in ascending start
// order, or a *NoDataError if there are none.
func (l *locator) Locate(region Region) ([]genFile, error) {
	tree, ok := l.byChrom[region.Chrom]
	if !ok {
		files, err := l.candidates(region.Chrom)
		if err != nil {
			return nil, err
		}
		l.log.WithFields(logrus.Fields{"chrom": region.Chrom, "files": len(files)}).Info("indexed genotype files")
		tree = newRangeTree(files)
		l.byChrom[region.Chrom] = tree
	}
	qs, qe := queryMb(region.Start, region.End)
	found := tree.Overlapping(qs, qe)
	if len(found) == 0 {
		return nil, &NoDataError{Region: region, Root: l.root}
	}
	return found, nil
}
