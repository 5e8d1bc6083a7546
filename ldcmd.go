// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// short flag name -> long flag name
var ldFlagAliases = map[string]string{
	"g": "gen_fileroot",
	"s": "samples",
	"k": "keep",
	"o": "out",
	"b": "bed_intervals",
	"m": "maf",
}

type ldCommand struct {
	genRoot     string
	samplesPath string
	keepPath    string
	outputDir   string
	bedPath     string
	maf         float64
	numpy       bool
	loglevel    string
	runlocal    bool
	projectUUID string
	priority    int
	ram         int64
	vcpus       int
	image       string
	batchArgs
}

func (cmd *ldCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.genRoot, "gen_fileroot", "", "genotype file `root`: directory, optionally followed by a file name prefix")
	flags.StringVar(&cmd.samplesPath, "samples", "", "sample manifest `file`")
	flags.StringVar(&cmd.keepPath, "keep", "", "`file` listing sample IDs to keep")
	flags.StringVar(&cmd.outputDir, "out", "", "output `directory`")
	flags.StringVar(&cmd.bedPath, "bed_intervals", "", "BED `file` with regions to process")
	flags.Float64Var(&cmd.maf, "maf", defaultMAF, "minor allele frequency `threshold`")
	for short, long := range ldFlagAliases {
		f := flags.Lookup(long)
		flags.Var(f.Value, short, "shorthand for -"+long)
	}
	flags.BoolVar(&cmd.numpy, "numpy", false, "also write LD and dosage matrices in numpy format")
	flags.StringVar(&cmd.loglevel, "loglevel", "info", "log `level` (debug, info, warn, error)")
	configPath := flags.String("config", "", "TOML `file` with default values for the flags above")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.BoolVar(&cmd.runlocal, "local", true, "run on local host (-local=false: run in an arvados container)")
	flags.StringVar(&cmd.projectUUID, "project", "", "project `UUID` for containers and output data")
	flags.IntVar(&cmd.priority, "priority", 500, "container request priority")
	flags.Int64Var(&cmd.ram, "arvados-ram", 8000000000, "amount of memory to request for each container (`bytes`)")
	flags.IntVar(&cmd.vcpus, "arvados-vcpus", 1, "number of VCPUs to request for each container")
	flags.StringVar(&cmd.image, "arvados-image", defaultRuntimeImage, "container `image` for -local=false")
	cmd.batchArgs.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}

	if *configPath != "" {
		var cfg *ldConfig
		cfg, err = loadConfig(*configPath)
		if err != nil {
			return 2
		}
		err = cfg.apply(flags, ldFlagAliases)
		if err != nil {
			return 2
		}
	}
	var missing []string
	for _, f := range []struct{ val, name string }{
		{cmd.genRoot, "gen_fileroot"},
		{cmd.samplesPath, "samples"},
		{cmd.keepPath, "keep"},
		{cmd.outputDir, "out"},
		{cmd.bedPath, "bed_intervals"},
	} {
		if f.val == "" {
			missing = append(missing, "-"+f.name)
		}
	}
	if len(missing) > 0 {
		err = fmt.Errorf("missing required flags: %s", strings.Join(missing, " "))
		return 2
	}
	if err = cmd.batchArgs.Check(); err != nil {
		return 2
	}
	level, err := logrus.ParseLevel(cmd.loglevel)
	if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			fmt.Fprintln(stderr, http.ListenAndServe(*pprof, nil))
		}()
	}

	if !cmd.runlocal {
		var logger *runLogger
		logger, err = newRunLogger(stderr, "", level)
		if err != nil {
			return 1
		}
		err = cmd.runInContainer(context.Background(), logger, stdout)
		if err != nil {
			return 1
		}
		return 0
	}

	logger, err := cmd.openLog(stderr, level)
	if err != nil {
		return 1
	}
	defer logger.Close()
	// errors from here on go to the run log (and stderr) only
	if perr := cmd.process(logger); perr != nil {
		logger.WithError(perr).Error("run failed")
		return 1
	}
	return 0
}

// openLog creates the output directory and the run log file in it.
func (cmd *ldCommand) openLog(stderr io.Writer, level logrus.Level) (*runLogger, error) {
	err := os.MkdirAll(cmd.outputDir, 0777)
	if err != nil {
		return nil, err
	}
	logfile := filepath.Join(cmd.outputDir, filepath.Base(cmd.bedPath)+cmd.batchArgs.LogSuffix()+".log")
	return newRunLogger(stderr, logfile, level)
}

func (cmd *ldCommand) process(logger logrus.FieldLogger) error {
	var regions []Region
	err := readInput(cmd.bedPath, func(rdr io.Reader, fnm string) (err error) {
		regions, err = ReadRegions(rdr, fnm)
		return
	})
	if err != nil {
		return err
	}
	var manifest, keepIDs []string
	err = readInput(cmd.samplesPath, func(rdr io.Reader, fnm string) (err error) {
		manifest, err = ReadManifest(rdr, fnm)
		return
	})
	if err != nil {
		return err
	}
	err = readInput(cmd.keepPath, func(rdr io.Reader, fnm string) (err error) {
		keepIDs, err = ReadKeep(rdr, fnm)
		return
	})
	if err != nil {
		return err
	}
	keep, missing := NewKeepList(manifest, keepIDs)
	if len(missing) > 0 {
		logger.WithField("missing", len(missing)).Warnf("keep file lists samples not in manifest, e.g., %q", missing[0])
	}
	if len(keep) == 0 {
		logger.Warn("no samples selected by keep file")
	}
	logger.WithFields(logrus.Fields{
		"regions":  len(regions),
		"manifest": len(manifest),
		"samples":  len(keep),
	}).Info("read inputs")

	regions = cmd.batchArgs.Slice(regions)
	p := &ldPipeline{
		locator:   newLocator(cmd.genRoot, logger),
		keep:      keep,
		maf:       cmd.maf,
		outputDir: cmd.outputDir,
		numpy:     cmd.numpy,
		log:       logger,
	}
	var done, nodata int
	for _, region := range regions {
		err := p.processRegion(region)
		var nde *NoDataError
		if errors.As(err, &nde) {
			logger.WithField("region", region.Name).Error(err)
			nodata++
			continue
		} else if err != nil {
			return fmt.Errorf("region %s: %w", region, err)
		}
		done++
	}
	logger.WithFields(logrus.Fields{
		"done":   done,
		"nodata": nodata,
	}).Info("finished")
	return nil
}

// ldPipeline computes and writes the LD outputs for one region at a
// time.
type ldPipeline struct {
	locator   *locator
	keep      KeepList
	maf       float64
	outputDir string
	numpy     bool
	log       logrus.FieldLogger
}

func (p *ldPipeline) processRegion(region Region) error {
	log := p.log.WithField("region", region.Name)
	log.Infof("processing %s", region)
	files, err := p.locator.Locate(region)
	if err != nil {
		return err
	}
	log.WithField("files", len(files)).Info("located genotype files")
	raw, err := loadGenotypes(files, region, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"variants": raw.Len(), "samples": raw.Samples()}).Info("loaded genotypes in region")
	raw, err = sampleFilter(raw, p.keep)
	if err != nil {
		return err
	}
	dosages := deriveDosages(raw)
	log.WithFields(logrus.Fields{"variants": dosages.Len(), "samples": dosages.Samples()}).Info("derived dosages")
	dosages = filterMAF(dosages, p.maf)
	log.WithFields(logrus.Fields{"variants": dosages.Len(), "maf": p.maf}).Info("applied MAF filter")
	if dosages.Len() == 0 {
		log.Warn("no variants left after filtering")
	}
	ld := computeLD(dosages)
	log.WithField("shape", fmt.Sprintf("%dx%d", ld.Symmetric(), ld.Symmetric())).Info("computed LD matrix")
	err = p.writeOutputs(region, dosages, ld)
	if err != nil {
		return err
	}
	log.Info("wrote outputs")
	return nil
}

func (p *ldPipeline) writeOutputs(region Region, dosages *dosageTable, ld *mat.SymDense) error {
	stem := filepath.Join(p.outputDir, region.Name)
	err := writeFile(stem+".snpdat", func(w *bufio.Writer) error { return writeSNPDat(w, dosages) })
	if err != nil {
		return err
	}
	err = writeFile(stem+".ld", func(w *bufio.Writer) error { return writeLDText(w, ld) })
	if err != nil {
		return err
	}
	err = writeFile(stem+".dos", func(w *bufio.Writer) error { return writeDosages(w, dosages) })
	if err != nil {
		return err
	}
	if !p.numpy {
		return nil
	}
	err = writeFile(stem+".ld.npy", func(w *bufio.Writer) error {
		data, rows, cols := ldArray(ld)
		return writeNumpy(w, data, rows, cols)
	})
	if err != nil {
		return err
	}
	return writeFile(stem+".dos.npy", func(w *bufio.Writer) error {
		data, rows, cols := dosageArray(dosages)
		return writeNumpy(w, data, rows, cols)
	})
}

// containerRunner returns a runner that executes this run, with the
// same batch selection, in a single Arvados container.
func (cmd *ldCommand) containerRunner(logger logrus.FieldLogger) (*arvadosContainerRunner, error) {
	runner := &arvadosContainerRunner{
		Name:        "gen-to-ld-matrix ld",
		Client:      arvados.NewClientFromEnv(),
		Log:         logger,
		ProjectUUID: cmd.projectUUID,
		Image:       cmd.image,
		RAM:         cmd.ram,
		VCPUs:       cmd.vcpus,
		Priority:    cmd.priority,
	}
	if cmd.batches > 1 && cmd.batch >= 0 {
		runner.Name = fmt.Sprintf("%s batch %d/%d", runner.Name, cmd.batch, cmd.batches)
	}
	genRoot, samples, keep, bed := cmd.genRoot, cmd.samplesPath, cmd.keepPath, cmd.bedPath
	err := runner.TranslatePaths(&genRoot, &samples, &keep, &bed)
	if err != nil {
		return nil, err
	}
	runner.Args = append([]string{"ld", "-local=true",
		"-gen_fileroot=" + genRoot,
		"-samples=" + samples,
		"-keep=" + keep,
		"-bed_intervals=" + bed,
		"-out=/mnt/output",
		fmt.Sprintf("-maf=%v", cmd.maf),
		fmt.Sprintf("-numpy=%v", cmd.numpy),
		"-loglevel=" + cmd.loglevel,
	}, cmd.batchArgs.Args()...)
	return runner, nil
}

// runInContainer runs the pipeline in an Arvados container, waits
// for it to finish, and prints the output collection UUID.
func (cmd *ldCommand) runInContainer(ctx context.Context, logger logrus.FieldLogger, stdout io.Writer) error {
	runner, err := cmd.containerRunner(logger)
	if err != nil {
		return err
	}
	output, err := runner.RunContext(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, output)
	return nil
}
