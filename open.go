// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/klauspost/pgzip"
)

const (
	genSuffix  = ".gen"
	gzipSuffix = ".gz"
)

// isGenName reports whether name is a genotype file for stem
// (<prefix><chrom>), i.e., stem followed by "." or "_" and ending in
// ".gen" or ".gen.gz".
func isGenName(name, stem string) bool {
	if !strings.HasPrefix(name, stem) || len(name) == len(stem) {
		return false
	}
	if c := name[len(stem)]; c != '.' && c != '_' {
		return false
	}
	return strings.HasSuffix(trimGzip(name), genSuffix)
}

// trimGenSuffix strips ".gen" and ".gen.gz".
func trimGenSuffix(name string) string {
	return strings.TrimSuffix(trimGzip(name), genSuffix)
}

func trimGzip(name string) string {
	return strings.TrimSuffix(name, gzipSuffix)
}

var collectionInPathRe = regexp.MustCompile(`^(.*/)?([0-9a-f]{32}\+[0-9]+|[0-9a-z]{5}-[0-9a-z]{5}-[0-9a-z]{15})(/.*)?$`)

type file interface {
	io.ReadCloser
	io.Seeker
	Readdir(n int) ([]os.FileInfo, error)
}

// open opens a local file or directory, or (when ARVADOS_API_HOST is
// set and the path contains a collection ID) the corresponding entry
// in the Arvados site filesystem.
func open(fnm string) (file, error) {
	if os.Getenv("ARVADOS_API_HOST") == "" {
		return os.Open(fnm)
	}
	m := collectionInPathRe.FindStringSubmatch(fnm)
	if m == nil {
		return os.Open(fnm)
	}
	return keepInputs.open(m[2], m[3])
}

// keepInputs is shared by all inputs read from Arvados collections.
var keepInputs = &collectionReader{}

// collectionReader reads files from Arvados collections through the
// site filesystem. Its block cache grows by a few blocks for each
// open file, so several genotype files can be streamed at once
// without thrashing.
type collectionReader struct {
	mtx sync.Mutex
	fs  arvados.CustomFileSystem
	kc  *keepclient.KeepClient
}

const (
	baseCacheBlocks    = 4
	perFileCacheBlocks = 2
)

func (cr *collectionReader) open(collection, path string) (file, error) {
	cr.mtx.Lock()
	defer cr.mtx.Unlock()
	if cr.fs == nil {
		client := arvados.NewClientFromEnv()
		ac, err := arvadosclient.New(client)
		if err != nil {
			return nil, err
		}
		ac.Client = arvados.DefaultSecureClient
		cr.kc = keepclient.New(ac)
		cr.kc.HTTPClient = arvados.DefaultSecureClient
		cr.kc.BlockCache = &keepclient.BlockCache{MaxBlocks: baseCacheBlocks}
		cr.fs = client.SiteFileSystem(cr.kc)
	}
	f, err := cr.fs.Open("by_id/" + collection + path)
	if err != nil {
		return nil, err
	}
	cr.kc.BlockCache.MaxBlocks += perFileCacheBlocks
	return &collectionFile{file: f, cr: cr}, nil
}

func (cr *collectionReader) release() {
	cr.mtx.Lock()
	cr.kc.BlockCache.MaxBlocks -= perFileCacheBlocks
	cr.mtx.Unlock()
}

// collectionFile returns its share of the block cache on Close.
type collectionFile struct {
	file
	cr   *collectionReader
	once sync.Once
}

func (cf *collectionFile) Close() error {
	cf.once.Do(cf.cr.release)
	return cf.file.Close()
}

// gzipFile closes both the decompressor and the underlying file.
type gzipFile struct {
	*pgzip.Reader
	f io.Closer
}

func (gf gzipFile) Close() error {
	e1 := gf.Reader.Close()
	e2 := gf.f.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// openInput opens an input file (genotypes, BED, manifest, keep
// list), decompressing it if the name ends in ".gz".
func openInput(fnm string) (io.ReadCloser, error) {
	f, err := open(fnm)
	if err != nil || !strings.HasSuffix(fnm, gzipSuffix) {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipFile{rdr, f}, nil
}

// readInput opens fnm with openInput, passes it to parse, and closes
// it.
func readInput(fnm string, parse func(io.Reader, string) error) error {
	f, err := openInput(fnm)
	if err != nil {
		return err
	}
	err = parse(f, fnm)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
