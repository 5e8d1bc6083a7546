// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/check.v1"
)

type ldCommandSuite struct{}

var _ = check.Suite(&ldCommandSuite{})

const testManifest = `ID_1 ID_2 missing
0 0 0
f0 s0 0
f1 s1 0
f2 s2 0
f3 s3 0
`

// writeTestInputs sets up one genotype file chr1_1-5Mb.gen with
// four samples and variants at 1200, 1500 and 2500.
func writeTestInputs(c *check.C, bed string) (tmpdir string) {
	tmpdir = c.MkDir()
	c.Assert(os.Mkdir(tmpdir+"/gen", 0755), check.IsNil)
	for fnm, content := range map[string]string{
		"/gen/chr1_1-5Mb.gen": testGenA,
		"/test.sample":        testManifest,
		"/test.keep":          "s3 s3\ns1 s1\n",
		"/regions.bed":        bed,
	} {
		c.Assert(ioutil.WriteFile(tmpdir+fnm, []byte(content), 0644), check.IsNil)
	}
	return
}

func readLDMatrix(c *check.C, fnm string) [][]float64 {
	buf, err := ioutil.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	var m [][]float64
	for _, line := range strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n") {
		if line == "" {
			continue
		}
		var row []float64
		for _, f := range strings.Fields(line) {
			v, err := strconv.ParseFloat(f, 64)
			c.Assert(err, check.IsNil)
			row = append(row, v)
		}
		m = append(m, row)
	}
	return m
}

func (s *ldCommandSuite) TestEndToEnd(c *check.C) {
	tmpdir := writeTestInputs(c, "1\t1000\t2000\tregionA\n")
	var stderr bytes.Buffer
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
		"-g", tmpdir + "/gen/chr",
		"-s", tmpdir + "/test.sample",
		"--keep", tmpdir + "/test.keep",
		"-o", tmpdir + "/out",
		"-b", tmpdir + "/regions.bed",
		"-numpy",
	}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))

	snpdat, err := ioutil.ReadFile(tmpdir + "/out/regionA.snpdat")
	c.Assert(err, check.IsNil)
	c.Check(string(snpdat), check.Equals, `RSID POS A1 A2 FREQ1 GVAR
rs1 1200 A G 0.75 0.25
rs2 1500 C T 0.25 0.25
`)

	dos, err := ioutil.ReadFile(tmpdir + "/out/regionA.dos")
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(dos), "\n"), "\n")
	c.Assert(lines, check.HasLen, 2)
	for _, line := range lines {
		c.Check(strings.Fields(line), check.HasLen, 9)
	}
	c.Check(lines[0], check.Equals, "1:1200 rs1 1200 A G 0.75 0.25 1 2")

	ld := readLDMatrix(c, tmpdir+"/out/regionA.ld")
	c.Assert(ld, check.HasLen, 2)
	c.Assert(ld[0], check.HasLen, 2)
	c.Check(ld[0][0], check.Equals, 1.0)
	c.Check(ld[1][1], check.Equals, 1.0)
	c.Check(ld[0][1], check.Equals, ld[1][0])
	c.Check(math.Abs(ld[0][1]-1) < 1e-9, check.Equals, true)

	for _, fnm := range []string{"regionA.ld.npy", "regionA.dos.npy"} {
		_, err = os.Stat(tmpdir + "/out/" + fnm)
		c.Check(err, check.IsNil)
	}

	logtext, err := ioutil.ReadFile(tmpdir + "/out/regions.bed.log")
	c.Assert(err, check.IsNil)
	c.Check(string(logtext), check.Matches, `(?ms).*level=info msg="applied MAF filter".*region=regionA.*variants=2.*`)
}

func (s *ldCommandSuite) TestNoDataRegionSkipped(c *check.C) {
	tmpdir := writeTestInputs(c, "2\t1000\t2000\tregionB\n1\t1000\t2000\tregionA\n1\t30000000\t31000000\tregionC\n")
	var stderr bytes.Buffer
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
		"-gen_fileroot=" + tmpdir + "/gen/chr",
		"-samples=" + tmpdir + "/test.sample",
		"-keep=" + tmpdir + "/test.keep",
		"-out=" + tmpdir + "/out",
		"-bed_intervals=" + tmpdir + "/regions.bed",
	}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	for _, name := range []string{"regionB", "regionC"} {
		for _, ext := range []string{".snpdat", ".ld", ".dos"} {
			_, err := os.Stat(tmpdir + "/out/" + name + ext)
			c.Check(os.IsNotExist(err), check.Equals, true, check.Commentf("%s%s", name, ext))
		}
	}
	_, err := os.Stat(tmpdir + "/out/regionA.ld")
	c.Check(err, check.IsNil)
	logtext, err := ioutil.ReadFile(tmpdir + "/out/regions.bed.log")
	c.Assert(err, check.IsNil)
	c.Check(string(logtext), check.Matches, `(?ms).*level=error msg="no genotype files under .* overlap 2:1000-2000 regionB".*`)
	c.Check(string(logtext), check.Matches, `(?ms).*nodata=2.*`)
}

func (s *ldCommandSuite) TestHighMAFThresholdWritesEmptyOutputs(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 regionA\n")
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
		"-g", tmpdir + "/gen/chr",
		"-s", tmpdir + "/test.sample",
		"-k", tmpdir + "/test.keep",
		"-o", tmpdir + "/out",
		"-b", tmpdir + "/regions.bed",
		"-m", "0.3",
	}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	c.Assert(exited, check.Equals, 0)
	snpdat, err := ioutil.ReadFile(tmpdir + "/out/regionA.snpdat")
	c.Assert(err, check.IsNil)
	c.Check(string(snpdat), check.Equals, "RSID POS A1 A2 FREQ1 GVAR\n")
	ld, err := ioutil.ReadFile(tmpdir + "/out/regionA.ld")
	c.Assert(err, check.IsNil)
	c.Check(ld, check.HasLen, 0)
}

func (s *ldCommandSuite) TestMalformedGenotypeRowFails(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 regionA\n")
	c.Assert(ioutil.WriteFile(tmpdir+"/gen/chr1_1-5Mb.gen", []byte("1:1200 rs1 1200 A G 1 0\n"), 0644), check.IsNil)
	var stderr bytes.Buffer
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
		"-g", tmpdir + "/gen/chr",
		"-s", tmpdir + "/test.sample",
		"-k", tmpdir + "/test.keep",
		"-o", tmpdir + "/out",
		"-b", tmpdir + "/regions.bed",
	}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(strings.Count(stderr.String(), "chr1_1-5Mb.gen:1: "), check.Equals, 1, check.Commentf("%s", stderr.String()))
	logtext, err := ioutil.ReadFile(tmpdir + "/out/regions.bed.log")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(logtext), "chr1_1-5Mb.gen:1: "), check.Equals, 1)
}

func (s *ldCommandSuite) TestRerunReplacesLog(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 regionA\n")
	for i := 0; i < 2; i++ {
		exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
			"-g", tmpdir + "/gen/chr",
			"-s", tmpdir + "/test.sample",
			"-k", tmpdir + "/test.keep",
			"-o", tmpdir + "/out",
			"-b", tmpdir + "/regions.bed",
		}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
		c.Assert(exited, check.Equals, 0)
	}
	logtext, err := ioutil.ReadFile(tmpdir + "/out/regions.bed.log")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(logtext), "msg=finished"), check.Equals, 1)
}

func (s *ldCommandSuite) TestContainerRunnerSingleRun(c *check.C) {
	cmd := &ldCommand{
		genRoot:     "zzzzz-4zz18-aaaaaaaaaaaaaaa/gen/chr",
		samplesPath: "zzzzz-4zz18-aaaaaaaaaaaaaaa/ukb.sample",
		keepPath:    "zzzzz-4zz18-bbbbbbbbbbbbbbb/keep.txt",
		bedPath:     "zzzzz-4zz18-bbbbbbbbbbbbbbb/regions.bed",
		outputDir:   "/ignored",
		maf:         0.05,
		loglevel:    "info",
		batchArgs:   batchArgs{batches: 3, batch: 1},
	}
	runner, err := cmd.containerRunner(quietLogger())
	c.Assert(err, check.IsNil)
	c.Check(runner.Name, check.Equals, "gen-to-ld-matrix ld batch 1/3")
	c.Check(runner.Mounts, check.HasLen, 2)
	c.Check(runner.Args, check.DeepEquals, []string{"ld", "-local=true",
		"-gen_fileroot=/mnt/zzzzz-4zz18-aaaaaaaaaaaaaaa/gen/chr",
		"-samples=/mnt/zzzzz-4zz18-aaaaaaaaaaaaaaa/ukb.sample",
		"-keep=/mnt/zzzzz-4zz18-bbbbbbbbbbbbbbb/keep.txt",
		"-bed_intervals=/mnt/zzzzz-4zz18-bbbbbbbbbbbbbbb/regions.bed",
		"-out=/mnt/output",
		"-maf=0.05",
		"-numpy=false",
		"-loglevel=info",
		"-batches=3",
		"-batch=1",
	})

	cmd.batchArgs = batchArgs{batches: 1, batch: -1}
	runner, err = cmd.containerRunner(quietLogger())
	c.Assert(err, check.IsNil)
	c.Check(runner.Name, check.Equals, "gen-to-ld-matrix ld")
	c.Check(runner.Args[len(runner.Args)-2:], check.DeepEquals, []string{"-batches=1", "-batch=-1"})
}

func (s *ldCommandSuite) TestUsageErrors(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 regionA\n")
	for _, args := range [][]string{
		{},
		{"-g", tmpdir + "/gen/chr"},
		{"-nosuchflag"},
		{"-g", "x", "-s", "x", "-k", "x", "-o", "x", "-b", "x", "extra"},
		{"-g", "x", "-s", "x", "-k", "x", "-o", "x", "-b", "x", "-batches", "2", "-batch", "2"},
	} {
		var stderr bytes.Buffer
		exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", args, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
		c.Check(exited, check.Equals, 2, check.Commentf("%q", args))
		c.Check(stderr.Len() > 0, check.Equals, true)
	}
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{"-help"}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(exited, check.Equals, 0)
}

func (s *ldCommandSuite) TestConfigFile(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 regionA\n")
	config := `gen_fileroot = "` + tmpdir + `/gen/chr"
samples = "` + tmpdir + `/test.sample"
keep = "` + tmpdir + `/test.keep"
out = "` + tmpdir + `/ignored"
bed_intervals = "` + tmpdir + `/regions.bed"
maf = 0.3
`
	c.Assert(ioutil.WriteFile(tmpdir+"/ld.toml", []byte(config), 0644), check.IsNil)
	var stderr bytes.Buffer
	exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
		"-config", tmpdir + "/ld.toml",
		"-o", tmpdir + "/out",
		"--maf=0.01",
	}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	_, err := os.Stat(tmpdir + "/ignored")
	c.Check(os.IsNotExist(err), check.Equals, true)
	snpdat, err := ioutil.ReadFile(tmpdir + "/out/regionA.snpdat")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(snpdat), "\n"), check.Equals, 3)
}

func (s *ldCommandSuite) TestBatches(c *check.C) {
	tmpdir := writeTestInputs(c, "1 1000 2000 r0\n1 1000 1300 r1\n1 1400 2000 r2\n")
	for batch := 0; batch < 2; batch++ {
		exited := (&ldCommand{}).RunCommand("gen-to-ld-matrix ld", []string{
			"-g", tmpdir + "/gen/chr",
			"-s", tmpdir + "/test.sample",
			"-k", tmpdir + "/test.keep",
			"-o", tmpdir + "/out",
			"-b", tmpdir + "/regions.bed",
			"-batches=2",
			"-batch=" + strconv.Itoa(batch),
		}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
		c.Assert(exited, check.Equals, 0)
		_, err := os.Stat(tmpdir + "/out/regions.bed.batch" + strconv.Itoa(batch) + ".log")
		c.Check(err, check.IsNil)
	}
	for _, name := range []string{"r0", "r1", "r2"} {
		_, err := os.Stat(tmpdir + "/out/" + name + ".ld")
		c.Check(err, check.IsNil, check.Commentf("%s", name))
	}
	ld := readLDMatrix(c, tmpdir+"/out/r1.ld")
	c.Check(ld, check.HasLen, 1)
}
