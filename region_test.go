// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"errors"
	"strings"

	"gopkg.in/check.v1"
)

type regionSuite struct{}

var _ = check.Suite(&regionSuite{})

func (s *regionSuite) TestNewRegion(c *check.C) {
	r, err := NewRegion("chrX", " 1000", "2000\t", "locus1")
	c.Assert(err, check.IsNil)
	c.Check(r, check.Equals, Region{Chrom: "chrX", Start: 1000, End: 2000, Name: "locus1"})

	_, err = NewRegion("1", "10k", "20", "bad")
	c.Check(err, check.NotNil)
}

func (s *regionSuite) TestReadRegions(c *check.C) {
	regions, err := ReadRegions(strings.NewReader(`track name=test
# comment
1	1000	2000	regionA	extra

22 30000 40000 regionB
`), "test.bed")
	c.Assert(err, check.IsNil)
	c.Check(regions, check.DeepEquals, []Region{
		{Chrom: "1", Start: 1000, End: 2000, Name: "regionA"},
		{Chrom: "22", Start: 30000, End: 40000, Name: "regionB"},
	})
}

func (s *regionSuite) TestReadRegionsMalformed(c *check.C) {
	for _, trial := range []struct {
		input string
		line  int
	}{
		{"1 1000 2000\n", 1},
		{"1 1000 2000 a\n1 x 2000 b\n", 2},
	} {
		_, err := ReadRegions(strings.NewReader(trial.input), "test.bed")
		var mie *MalformedInputError
		c.Assert(errors.As(err, &mie), check.Equals, true, check.Commentf("%q", trial.input))
		c.Check(mie.Line, check.Equals, trial.line)
		c.Check(mie.Path, check.Equals, "test.bed")
	}
}
