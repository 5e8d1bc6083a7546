// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// runLogger is a logrus logger that writes to the console and,
// if opened with a log file, to that file too.
type runLogger struct {
	*logrus.Logger
	logfile *os.File
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// newRunLogger returns a logger writing to stderr. If logfile is not
// empty, entries are also written to that file (replacing any
// previous content) with full timestamps.
func newRunLogger(stderr io.Writer, logfile string, level logrus.Level) (*runLogger, error) {
	logger := logrus.New()
	logger.Out = stderr
	logger.Level = level
	if isTerminal(stderr) {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		// crunch-run and other wrappers timestamp stderr lines
		logger.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	rl := &runLogger{Logger: logger}
	if logfile == "" {
		return rl, nil
	}
	f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	rl.logfile = f
	logger.AddHook(&fileHook{
		w:         f,
		formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
	})
	return rl, nil
}

func (rl *runLogger) Close() error {
	if rl.logfile == nil {
		return nil
	}
	return rl.logfile.Close()
}

// fileHook copies every log entry to w.
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
	mtx       sync.Mutex
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	buf, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	_, err = h.w.Write(buf)
	return err
}
