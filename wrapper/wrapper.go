// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package wrapper implements compiler wrapping: a wrapped invocation either
// replays previously cached outputs or runs the real compiler and records
// the fresh results.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/clcache/cache/cachestore"
	"go.chromium.org/infra/build/clcache/cache/entry"
	"go.chromium.org/infra/build/clcache/digest"
	"go.chromium.org/infra/build/clcache/execute"
)

// ConfigError reports an invocation shape the cache does not support.
// Caching is skipped and the compiler runs directly; the build still works.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string {
	return e.msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// HardLinksCapability advertises that cached files may be hard-linked into
// the build tree (the tool never overwrites existing outputs in place).
const HardLinksCapability = "hard_links"

// PPSource is the fingerprint surrogate of one input file. For direct mode
// this is the type-tagged raw file content rather than preprocessor output.
type PPSource struct {
	// Key identifies the input; for compilers it is the input path.
	Key string
	// Data is the surrogate content hashed into the fingerprint.
	Data []byte
}

// MissInfo carries the state of one input that needs building.
type MissInfo struct {
	Key        string
	Hash       digest.Digest
	BuildFiles cachestore.BuildFiles
	// Deps is filled by RunForMiss with the dependency digests discovered
	// during the build.
	Deps entry.DependencyRecords
}

// ProgramWrapper is the wrapper API a cacheable tool implements.
type ProgramWrapper interface {
	// CanHandleCommand reports whether this wrapper recognizes argv.
	CanHandleCommand() bool

	// ResolveArgs interprets the command line (including response files)
	// and validates that the invocation is cacheable. It returns a
	// *ConfigError for unsupported-but-valid invocations.
	ResolveArgs(ctx context.Context) error

	// Capabilities lists opt-in capability strings.
	Capabilities() []string

	// PreprocessSource returns the fingerprint surrogate per input file,
	// in command-line order.
	PreprocessSource(ctx context.Context) ([]PPSource, error)

	// RelevantArguments returns the canonical argument vector to hash.
	RelevantArguments() ([]string, error)

	// RelevantEnvVars returns environment variables that affect the
	// tool's output.
	RelevantEnvVars() (map[string]string, error)

	// ProgramID returns a string uniquely identifying the tool build.
	ProgramID() (string, error)

	// BuildFiles returns the files the tool will produce for the input.
	BuildFiles(key string) (cachestore.BuildFiles, error)

	// FilterCacheHit validates a candidate entry against the current
	// state of its recorded dependencies.
	FilterCacheHit(e *entry.Entry) bool

	// RunForMiss runs the real tool for the missed inputs and fills in
	// their dependency records.
	RunForMiss(ctx context.Context, misses []*MissInfo) (execute.Result, error)
}

// Runner drives a ProgramWrapper against a cache store.
type Runner struct {
	Store cachestore.Store
	// Compress selects the compression mode of stored entries.
	Compress bool
}

// HandleCommand wraps one invocation. The returned exit code is only valid
// when handled is true; otherwise the caller must run the command directly
// (after filetracker.ReleaseSuppression, so the direct run is tracked).
func (r *Runner) HandleCommand(ctx context.Context, w ProgramWrapper) (exitCode int32, handled bool) {
	if !w.CanHandleCommand() {
		return 0, false
	}
	code, err := r.runCached(ctx, w)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			log.Infof("caching disabled: %v", cerr)
		} else {
			log.Warnf("cache bypassed: %v", err)
		}
		return 0, false
	}
	return code, true
}

func (r *Runner) runCached(ctx context.Context, w ProgramWrapper) (int32, error) {
	if err := w.ResolveArgs(ctx); err != nil {
		return 0, err
	}
	hardLinks := slices.Contains(w.Capabilities(), HardLinksCapability)
	progID, err := w.ProgramID()
	if err != nil {
		return 0, err
	}
	relArgs, err := w.RelevantArguments()
	if err != nil {
		return 0, err
	}
	relEnv, err := w.RelevantEnvVars()
	if err != nil {
		return 0, err
	}
	sources, err := w.PreprocessSource(ctx)
	if err != nil {
		return 0, err
	}

	var exitCode int32
	var misses []*MissInfo
	for _, src := range sources {
		hash := fingerprint(progID, relArgs, relEnv, src.Data)
		buildFiles, err := w.BuildFiles(src.Key)
		if err != nil {
			return 0, err
		}
		res, err := r.Store.Lookup(ctx, hash, buildFiles, w.FilterCacheHit, hardLinks)
		if err != nil {
			return 0, err
		}
		if res != nil {
			log.Debugf("cache hit %s for %s", hash, src.Key)
			os.Stdout.Write(res.Stdout)
			os.Stderr.Write(res.Stderr)
			if res.ReturnCode != 0 {
				exitCode = res.ReturnCode
			}
			continue
		}
		misses = append(misses, &MissInfo{Key: src.Key, Hash: hash, BuildFiles: buildFiles})
	}
	if len(misses) == 0 {
		return exitCode, nil
	}

	result, err := w.RunForMiss(ctx, misses)
	if err != nil {
		return 0, err
	}
	os.Stdout.Write(result.Stdout)
	os.Stderr.Write(result.Stderr)
	if result.ExitCode != 0 {
		// Failed compilations are not cached.
		return result.ExitCode, nil
	}
	mode := entry.CompressionNone
	if r.Compress {
		mode = entry.CompressionAll
	}
	for _, m := range misses {
		fileIDs := make([]string, 0, len(m.BuildFiles))
		for id := range m.BuildFiles {
			fileIDs = append(fileIDs, id)
		}
		sort.Strings(fileIDs)
		e := &entry.Entry{
			FileIDs:      fileIDs,
			Dependencies: m.Deps,
			Compression:  mode,
			Stdout:       result.Stdout,
			Stderr:       result.Stderr,
			ReturnCode:   result.ExitCode,
		}
		if err := r.Store.Add(ctx, m.Hash, e, m.BuildFiles, hardLinks); err != nil {
			return 0, err
		}
	}
	return exitCode, nil
}

// fingerprint computes the cache key of one input: program id, canonical
// arguments, relevant environment and the input's surrogate content.
func fingerprint(progID string, args []string, env map[string]string, src []byte) digest.Digest {
	h := digest.New()
	h.WriteString(progID)
	h.Write([]byte{0})
	for _, a := range args {
		h.WriteString(a)
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString(k)
		h.Write([]byte{'='})
		h.WriteString(env[k])
		h.Write([]byte{0})
	}
	h.Write(src)
	return h.Sum()
}
