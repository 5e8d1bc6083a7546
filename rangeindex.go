// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"sort"
)

type rangeTreeNode struct {
	file   genFile
	maxend int
	filled bool
}

// rangeTree is a static interval tree over genotype file ranges
// (in Mb), stored as an implicit binary tree built from the sorted
// input. Each node records the largest end of any file in its
// subtree.
type rangeTree []rangeTreeNode

func newRangeTree(files []genFile) rangeTree {
	if len(files) == 0 {
		return nil
	}
	in := append([]genFile(nil), files...)
	sort.Slice(in, func(i, j int) bool {
		return genFileLess(in[i], in[j])
	})
	size := 1
	for size < len(in) {
		size = size * 2
	}
	itree := make(rangeTree, size)
	for i := range itree {
		itree[i].maxend = -1
	}
	itree.importSlice(0, in)
	return itree
}

func genFileLess(a, b genFile) bool {
	if a.StartMb != b.StartMb {
		return a.StartMb < b.StartMb
	}
	if a.EndMb != b.EndMb {
		return a.EndMb < b.EndMb
	}
	return a.Path < b.Path
}

func (itree rangeTree) importSlice(root int, in []genFile) int {
	mid := len(in) / 2
	node := rangeTreeNode{file: in[mid], maxend: in[mid].EndMb, filled: true}
	if mid > 0 {
		end := itree.importSlice(root*2+1, in[0:mid])
		if end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		end := itree.importSlice(root*2+2, in[mid+1:])
		if end > node.maxend {
			node.maxend = end
		}
	}
	itree[root] = node
	return node.maxend
}

// Overlapping returns every file whose range overlaps [qs, qe],
// ordered by start.
func (itree rangeTree) Overlapping(qs, qe int) []genFile {
	return itree.overlapping(0, qs, qe, nil)
}

func (itree rangeTree) overlapping(root, qs, qe int, out []genFile) []genFile {
	if root >= len(itree) || !itree[root].filled || itree[root].maxend < qs {
		return out
	}
	node := itree[root]
	out = itree.overlapping(root*2+1, qs, qe, out)
	if node.file.StartMb > qe {
		// everything to the right starts even later
		return out
	}
	if node.file.EndMb >= qs {
		out = append(out, node.file)
	}
	return itree.overlapping(root*2+2, qs, qe, out)
}
