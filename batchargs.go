// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"flag"
	"fmt"
)

// batchArgs selects one of several contiguous slices of the region
// list, so a large BED file can be split across separate runs.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

// Args returns the command line flags that select the same batch in
// another invocation.
func (b *batchArgs) Args() []string {
	return []string{
		fmt.Sprintf("-batches=%d", b.batches),
		fmt.Sprintf("-batch=%d", b.batch),
	}
}

func (b *batchArgs) Check() error {
	if b.batches < 1 {
		return fmt.Errorf("invalid -batches=%d", b.batches)
	}
	if b.batch >= b.batches {
		return fmt.Errorf("invalid -batch=%d with -batches=%d", b.batch, b.batches)
	}
	return nil
}

// Slice returns the regions belonging to the selected batch, or all
// regions if no batch is selected.
func (b *batchArgs) Slice(in []Region) []Region {
	if b.batches <= 1 || b.batch < 0 {
		return in
	}
	batchsize := (len(in) + b.batches - 1) / b.batches
	if batchsize*b.batch >= len(in) {
		return nil
	}
	out := in[batchsize*b.batch:]
	if len(out) > batchsize {
		out = out[:batchsize]
	}
	return out
}

// LogSuffix distinguishes the log files of separate batch runs.
func (b *batchArgs) LogSuffix() string {
	if b.batches <= 1 || b.batch < 0 {
		return ""
	}
	return fmt.Sprintf(".batch%d", b.batch)
}
