// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import "fmt"

// NoDataError is returned by the locator when no genotype file
// overlaps a region. The driver logs it and moves on to the next
// region.
type NoDataError struct {
	Region Region
	Root   string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no genotype files under %q overlap %s", e.Root, e.Region)
}

// MalformedInputError reports an input line that could not be
// parsed. Line is 1-based; 0 means the problem is not tied to a
// single line.
type MalformedInputError struct {
	Path string
	Line int
	Msg  string
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}
