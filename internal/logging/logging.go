// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package logging holds the logger shared by every package
// of the module.
// Nothing is logged until SetLogger or Init is called.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	logger atomic.Pointer[logrus.Logger]

	mu   sync.Mutex
	file *os.File // Opened by the last Init.
)

func init() { logger.Store(silent()) }

func silent() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Logger returns the current logger.
func Logger() *logrus.Logger { return logger.Load() }

// SetLogger replaces the current logger.
// A nil l restores the silent default.
// The log file opened by Init, if any, is closed.
//
// Levels in use:
//   - Debug: per-submission summaries and barrier listings
//   - Info: device lifecycle
//   - Warn: leaked handles and queue ownership mismatches
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	replace(l, nil)
}

// Close restores the silent default and closes the log
// file opened by Init.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return replace(nil, nil)
}

// replace stores l as the current logger, writing to f.
// Callers must hold mu.
func replace(l *logrus.Logger, f *os.File) error {
	if l == nil {
		l = silent()
	}
	logger.Store(l)
	old := file
	file = f
	if old != nil {
		return old.Close()
	}
	return nil
}

// Init creates a text logger at the given level writing to
// stderr (if console is set) and/or to logFile (appended).
// An unparsable level falls back to Info.
// A log file opened by a previous call is closed; Close
// closes the last one.
func Init(level, logFile string, console bool) error {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var ws []io.Writer
	if console {
		ws = append(ws, os.Stderr)
	}
	var f *os.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return err
		}
		f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		ws = append(ws, f)
	}
	switch len(ws) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(ws[0])
	default:
		l.SetOutput(io.MultiWriter(ws...))
	}
	mu.Lock()
	defer mu.Unlock()
	return replace(l, f)
}
