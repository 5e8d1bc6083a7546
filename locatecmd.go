// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// locateCommand prints the genotype files that would be read for
// each region, without reading them.
type locateCommand struct{}

func (cmd *locateCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	genRoot := flags.String("gen_fileroot", "", "genotype file `root`")
	bedPath := flags.String("bed_intervals", "", "BED `file`")
	flags.StringVar(genRoot, "g", "", "shorthand for -gen_fileroot")
	flags.StringVar(bedPath, "b", "", "shorthand for -bed_intervals")
	loglevel := flags.String("loglevel", "warn", "log `level`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *genRoot == "" || *bedPath == "" {
		err = errors.New("-gen_fileroot and -bed_intervals are required")
		return 2
	}
	level, err := logrus.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	logger, err := newRunLogger(stderr, "", level)
	if err != nil {
		return 1
	}

	var regions []Region
	err = readInput(*bedPath, func(rdr io.Reader, fnm string) (err error) {
		regions, err = ReadRegions(rdr, fnm)
		return
	})
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(stdout)
	loc := newLocator(*genRoot, logger)
	for _, region := range regions {
		files, lerr := loc.Locate(region)
		var nde *NoDataError
		if errors.As(lerr, &nde) {
			fmt.Fprintf(bufw, "%s\tno data\n", region.Name)
			continue
		} else if lerr != nil {
			bufw.Flush()
			err = lerr
			return 1
		}
		for _, gf := range files {
			fmt.Fprintf(bufw, "%s\t%s\t%d-%dMb\n", region.Name, gf.Path, gf.StartMb, gf.EndMb)
		}
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	return 0
}
