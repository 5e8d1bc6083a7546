// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"git.arvados.org/arvados.git/lib/cmd"
	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const (
	binaryName          = "gen-to-ld-matrix"
	defaultRuntimeImage = "gen-to-ld-matrix-runtime"
)

// arvadosContainerRunner runs this program (or Prog) with Args in an
// Arvados container and waits for it to finish.
type arvadosContainerRunner struct {
	Client      *arvados.Client
	Log         logrus.FieldLogger
	Name        string
	OutputName  string
	ProjectUUID string
	Image       string
	VCPUs       int
	RAM         int64
	Prog        string // if empty, upload and run /proc/self/exe
	Args        []string
	Mounts      map[string]map[string]interface{}
	Priority    int
	KeepCache   int // cache buffers per VCPU (0 for default)
	Preemptible bool
}

var refreshTicker = time.NewTicker(5 * time.Second)

// RunContext submits a container request and waits for it to reach
// the final state. It returns the UUID of the output collection. If
// ctx is cancelled, the container request's priority is set to 0.
func (runner *arvadosContainerRunner) RunContext(ctx context.Context) (string, error) {
	if runner.ProjectUUID == "" {
		return "", errors.New("cannot run arvados container: ProjectUUID not provided")
	}
	cr, err := runner.submit()
	if err != nil {
		return "", err
	}
	log := runner.Log.WithField("container_request", cr.UUID)
	log.Printf("submitted container request, container UUID %s", cr.ContainerUUID)

	logch := make(chan eventMessage)
	events := newEventStream(runner.Client, runner.Log)
	defer events.Close()
	subscribed := ""
	defer func() {
		if subscribed != "" {
			events.Unsubscribe(logch, subscribed)
		}
	}()

	tail := &logTail{runner: runner, log: log, tell: map[string]int64{}}
	lastState := cr.State
	refresh := func() {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		err := runner.Client.RequestAndDecodeContext(ctx, &cr, "GET", "arvados/v1/container_requests/"+cr.UUID, nil, nil)
		if err != nil {
			log.Printf("error getting container request: %s", err)
			return
		}
		if lastState != cr.State {
			log.Printf("container request state: %s", cr.State)
			lastState = cr.State
		}
		if subscribed != cr.ContainerUUID {
			if subscribed != "" {
				events.Unsubscribe(logch, subscribed)
			}
			events.Subscribe(logch, cr.ContainerUUID)
			subscribed = cr.ContainerUUID
			tail.tell = map[string]int64{}
		}
	}

	logWaitMin, logWaitMax := time.Second, 10*time.Second
	logWait := logWaitMin
	logWaitDone := time.After(logWait)
waitloop:
	for cr.State != arvados.ContainerRequestStateFinal {
		select {
		case <-ctx.Done():
			err := runner.Client.RequestAndDecode(&cr, "PATCH", "arvados/v1/container_requests/"+cr.UUID, nil, map[string]interface{}{
				"container_request": map[string]interface{}{
					"priority": 0,
				},
			})
			if err != nil {
				log.Errorf("error while trying to cancel container request: %s", err)
			}
			break waitloop
		case <-refreshTicker.C:
			refresh()
		case msg := <-logch:
			if msg.EventType == "update" {
				refresh()
			}
		case <-logWaitDone:
			if tail.fetch(cr) {
				logWait = logWaitMin
			} else {
				logWait = logWait * 2
				if logWait > logWaitMax {
					logWait = logWaitMax
				}
			}
			logWaitDone = time.After(logWait)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var c arvados.Container
	err = runner.Client.RequestAndDecode(&c, "GET", "arvados/v1/containers/"+cr.ContainerUUID, nil, nil)
	if err != nil {
		return "", err
	} else if c.State != arvados.ContainerStateComplete {
		return "", fmt.Errorf("container did not complete: %s", c.State)
	} else if c.ExitCode != 0 {
		return "", fmt.Errorf("container exited %d", c.ExitCode)
	}
	return cr.OutputUUID, nil
}

func (runner *arvadosContainerRunner) submit() (arvados.ContainerRequest, error) {
	var cr arvados.ContainerRequest
	mounts := map[string]map[string]interface{}{
		"/mnt/output": {
			"kind":     "collection",
			"writable": true,
		},
	}
	for path, mnt := range runner.Mounts {
		mounts[path] = mnt
	}
	prog := runner.Prog
	if prog == "" {
		prog = "/mnt/cmd/" + binaryName
		cmdUUID, err := runner.makeCommandCollection()
		if err != nil {
			return cr, err
		}
		mounts["/mnt/cmd"] = map[string]interface{}{
			"kind": "collection",
			"uuid": cmdUUID,
		}
	}
	image := runner.Image
	if image == "" {
		image = defaultRuntimeImage
	}
	priority := runner.Priority
	if priority < 1 {
		priority = 500
	}
	keepCache := runner.KeepCache
	if keepCache < 1 {
		keepCache = 2
	}
	rc := arvados.RuntimeConstraints{
		VCPUs:        runner.VCPUs,
		RAM:          runner.RAM,
		KeepCacheRAM: (1 << 26) * int64(keepCache) * int64(runner.VCPUs),
	}
	var outname interface{}
	if runner.OutputName != "" {
		outname = runner.OutputName
	}
	err := runner.Client.RequestAndDecode(&cr, "POST", "arvados/v1/container_requests", nil, map[string]interface{}{
		"container_request": map[string]interface{}{
			"owner_uuid":          runner.ProjectUUID,
			"name":                runner.Name,
			"container_image":     image,
			"command":             append([]string{prog}, runner.Args...),
			"mounts":              mounts,
			"use_existing":        true,
			"output_path":         "/mnt/output",
			"output_name":         outname,
			"runtime_constraints": rc,
			"priority":            priority,
			"state":               arvados.ContainerRequestStateCommitted,
			"scheduling_parameters": arvados.SchedulingParameters{
				Preemptible: runner.Preemptible,
				Partitions:  []string{},
			},
			"environment": map[string]string{
				"GOMAXPROCS": fmt.Sprintf("%d", rc.VCPUs),
			},
			"container_count_max": 1,
		},
	})
	return cr, err
}

// logTail copies new lines of a container's stderr log to the local
// logger, and reports memory use from its crunchstat log.
type logTail struct {
	runner *arvadosContainerRunner
	log    logrus.FieldLogger
	tell   map[string]int64
}

var reCrunchstatRSS = regexp.MustCompile(`mem .* (\d+) rss`)

// fetch returns true if any new log lines were found.
func (lt *logTail) fetch(cr arvados.ContainerRequest) bool {
	found := false
	for _, fnm := range []string{"stderr.txt", "crunchstat.txt"} {
		logdata, err := lt.get(cr, fnm)
		if err != nil {
			lt.log.Errorf("error getting log data: %s", err)
			continue
		}
		for {
			eol := bytes.IndexByte(logdata, '\n')
			if eol < 0 {
				break
			}
			line := string(logdata[:eol])
			logdata = logdata[eol+1:]
			lt.tell[fnm] += int64(eol + 1)
			if line == "" {
				continue
			}
			found = true
			if fnm == "stderr.txt" {
				lt.log.Print(line)
			} else if m := reCrunchstatRSS.FindStringSubmatch(line); m != nil {
				rss, _ := strconv.ParseInt(m[1], 10, 64)
				lt.log.Debugf("rss %.3f GB", float64(rss)/1e9)
			}
		}
	}
	return found
}

func (lt *logTail) get(cr arvados.ContainerRequest, fnm string) ([]byte, error) {
	client := lt.runner.Client
	req, err := http.NewRequest("GET", "https://"+client.APIHost+"/arvados/v1/container_requests/"+cr.UUID+"/log/"+cr.ContainerUUID+"/"+fnm, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", lt.tell[fnm]))
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if (resp.StatusCode == http.StatusNotFound && lt.tell[fnm] == 0) ||
		(resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && lt.tell[fnm] > 0) {
		return nil, nil
	} else if resp.StatusCode >= 300 {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// TranslatePaths rewrites each path that refers to an Arvados
// collection to the corresponding path inside the container, adding
// a mount for the collection.
func (runner *arvadosContainerRunner) TranslatePaths(paths ...*string) error {
	if runner.Mounts == nil {
		runner.Mounts = make(map[string]map[string]interface{})
	}
	for _, path := range paths {
		if *path == "" || *path == "-" {
			continue
		}
		m := collectionInPathRe.FindStringSubmatch(*path)
		if m == nil {
			return fmt.Errorf("cannot find uuid in path: %q", *path)
		}
		collID := m[2]
		if _, ok := runner.Mounts["/mnt/"+collID]; !ok {
			mnt := map[string]interface{}{
				"kind": "collection",
			}
			if len(collID) == 27 {
				mnt["uuid"] = collID
			} else {
				mnt["portable_data_hash"] = collID
			}
			runner.Mounts["/mnt/"+collID] = mnt
		}
		*path = "/mnt/" + collID + m[3]
	}
	return nil
}

// makeCommandCollection stores the running executable in a
// collection in ProjectUUID, reusing an existing collection with the
// same name and content hash.
func (runner *arvadosContainerRunner) makeCommandCollection() (string, error) {
	exe, err := ioutil.ReadFile("/proc/self/exe")
	if err != nil {
		return "", err
	}
	b2 := fmt.Sprintf("%x", blake2b.Sum256(exe))
	cname := binaryName + " " + cmd.Version.String()
	var existing arvados.CollectionList
	err = runner.Client.RequestAndDecode(&existing, "GET", "arvados/v1/collections", nil, arvados.ListOptions{
		Limit: 1,
		Count: "none",
		Filters: []arvados.Filter{
			{Attr: "name", Operator: "=", Operand: cname},
			{Attr: "owner_uuid", Operator: "=", Operand: runner.ProjectUUID},
			{Attr: "properties.blake2b", Operator: "=", Operand: b2},
		},
	})
	if err != nil {
		return "", err
	}
	if len(existing.Items) > 0 {
		coll := existing.Items[0]
		runner.Log.Printf("using %s binary in existing collection %s", binaryName, coll.UUID)
		return coll.UUID, nil
	}
	ac, err := arvadosclient.New(runner.Client)
	if err != nil {
		return "", err
	}
	var coll arvados.Collection
	fs, err := coll.FileSystem(runner.Client, keepclient.New(ac))
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile(binaryName, os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return "", err
	}
	if _, err = f.Write(exe); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	mtxt, err := fs.MarshalManifest(".")
	if err != nil {
		return "", err
	}
	err = runner.Client.RequestAndDecode(&coll, "POST", "arvados/v1/collections", nil, map[string]interface{}{
		"collection": map[string]interface{}{
			"owner_uuid":    runner.ProjectUUID,
			"manifest_text": mtxt,
			"name":          cname,
			"properties": map[string]interface{}{
				"blake2b": b2,
			},
		},
	})
	if err != nil {
		return "", err
	}
	runner.Log.Printf("stored %s binary in new collection %s", binaryName, coll.UUID)
	return coll.UUID, nil
}
