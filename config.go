// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
)

// ldConfig is the content of a -config file. Each key supplies a
// default for the command line flag of the same name.
//
//	gen_fileroot = "/data/gen/chr"
//	samples = "/data/ukb.sample"
//	keep = "/data/eur.keep"
//	out = "/scratch/ld"
//	bed_intervals = "/data/loci.bed"
//	maf = 0.05
//	numpy = true
type ldConfig struct {
	GenFileRoot  string   `toml:"gen_fileroot"`
	Samples      string   `toml:"samples"`
	Keep         string   `toml:"keep"`
	Out          string   `toml:"out"`
	BedIntervals string   `toml:"bed_intervals"`
	MAF          *float64 `toml:"maf"`
	Numpy        *bool    `toml:"numpy"`
	LogLevel     string   `toml:"loglevel"`
}

func loadConfig(path string) (*ldConfig, error) {
	var cfg ldConfig
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return &cfg, nil
}

// apply sets each flag that was not given on the command line and
// has a value in cfg. Short and long aliases of an option count as
// the same flag.
func (cfg *ldConfig) apply(flags *flag.FlagSet, aliases map[string]string) error {
	given := map[string]bool{}
	flags.Visit(func(f *flag.Flag) {
		given[f.Name] = true
		if long, ok := aliases[f.Name]; ok {
			given[long] = true
		}
	})
	values := map[string]string{
		"gen_fileroot":  cfg.GenFileRoot,
		"samples":       cfg.Samples,
		"keep":          cfg.Keep,
		"out":           cfg.Out,
		"bed_intervals": cfg.BedIntervals,
		"loglevel":      cfg.LogLevel,
	}
	if cfg.MAF != nil {
		values["maf"] = strconv.FormatFloat(*cfg.MAF, 'g', -1, 64)
	}
	if cfg.Numpy != nil {
		values["numpy"] = strconv.FormatBool(*cfg.Numpy)
	}
	for name, value := range values {
		if value == "" || given[name] {
			continue
		}
		err := flags.Set(name, value)
		if err != nil {
			return fmt.Errorf("config value for %s: %w", name, err)
		}
	}
	return nil
}
