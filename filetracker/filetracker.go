// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package filetracker cooperates with msbuild's FileTracker so cached
// outputs stay visible to incremental builds.
//
// It has two jobs: suspending the tracker while the wrapper does its own
// file work (the tracker would otherwise record cache-internal reads and
// writes as build dependencies), and emitting per-source TLOG records that
// msbuild merges into its incremental-build state.
package filetracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.chromium.org/infra/build/clcache/cache/cachestore"
	"go.chromium.org/infra/build/clcache/winpath"
)

// envBool interprets a tracker environment value.
func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// ReleaseSuppression re-enables tracking immediately. It is used before
// falling back to a direct compiler invocation whose outputs must be seen
// by the build system. SuspendTracking/ResumeTracking are not
// reference-counted; whichever was called last is the effective state.
func ReleaseSuppression() {
	ResumeTracking()
}

// TrackingLog accumulates the sources of one invocation and writes their
// TLOG records.
type TrackingLog struct {
	enabled         bool
	intermediateDir string
	toolchain       string
	sources         []string
	root            string
}

// NewTrackingLog creates a TrackingLog from the TRACKER_* environment.
func NewTrackingLog() *TrackingLog {
	if !envBool(os.Getenv("TRACKER_ENABLED")) {
		return &TrackingLog{}
	}
	return &TrackingLog{
		enabled:         true,
		intermediateDir: os.Getenv("TRACKER_INTERMEDIATE"),
		toolchain:       os.Getenv("TRACKER_TOOLCHAIN"),
	}
}

// Enabled reports whether TLOG records are wanted.
func (t *TrackingLog) Enabled() bool {
	return t.enabled
}

// BuildFiles returns the TLOG files produced for the given source file:
// a read log ("tlog_r") and a write log ("tlog_w"). The per-source naming
// allows entries to be cached per file; msbuild merges them automatically.
func (t *TrackingLog) BuildFiles(filename string) cachestore.BuildFiles {
	if !t.enabled {
		return nil
	}
	basename := strings.ReplaceAll(winpath.Base(filename), ".", "_")
	return cachestore.BuildFiles{
		"tlog_r": {
			Path:     winpath.Join(t.intermediateDir, t.toolchain+"."+basename+".read.1.tlog"),
			Required: true,
		},
		"tlog_w": {
			Path:     winpath.Join(t.intermediateDir, t.toolchain+"."+basename+".write.1.tlog"),
			Required: true,
		},
	}
}

// AddSource registers a source file of the invocation for the root line.
func (t *TrackingLog) AddSource(path string) {
	if !t.enabled {
		return
	}
	t.sources = append(t.sources, fullPath(path))
}

// FinalizeSources computes the root line. It must be called after the last
// AddSource and before the first WriteLogs.
func (t *TrackingLog) FinalizeSources() {
	if !t.enabled {
		return
	}
	sort.Strings(t.sources)
	uniq := t.sources[:0]
	for i, s := range t.sources {
		if i == 0 || s != t.sources[i-1] {
			uniq = append(uniq, s)
		}
	}
	t.sources = uniq
	t.root = "^" + strings.Join(t.sources, "|")
}

// WriteLogs writes the TLOG pair for one source file. buildFiles must
// contain the "object", "tlog_r" and "tlog_w" files and may contain "pch".
// Dependencies are expected to be absolute paths already; the read log is
// upper-cased as a whole.
func (t *TrackingLog) WriteLogs(source string, buildFiles cachestore.BuildFiles, deps []string) error {
	if !t.enabled {
		return nil
	}
	object, ok := buildFiles["object"]
	if !ok {
		return fmt.Errorf("no object output for %s", source)
	}
	objectPath := fullPath(object.Path)

	read := []string{t.root, fullPath(source)}
	read = append(read, deps...)
	read = append(read, objectPath)
	content := strings.ToUpper(strings.Join(read, "\r\n"))
	if err := os.WriteFile(buildFiles["tlog_r"].Path, []byte(content), 0644); err != nil {
		return err
	}

	write := []string{t.root}
	if pch, ok := buildFiles["pch"]; ok {
		write = append(write, pch.Path)
	}
	write = append(write, objectPath)
	return os.WriteFile(buildFiles["tlog_w"].Path, []byte(strings.Join(write, "\r\n")), 0644)
}

func fullPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return strings.ToUpper(path)
}
