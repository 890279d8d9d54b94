// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cachestore provides the interface Store. It's in its own package
// to break a dependency loop between the wrapper and store implementations.
package cachestore

import (
	"context"

	"go.chromium.org/infra/build/clcache/cache/entry"
	"go.chromium.org/infra/build/clcache/digest"
)

// ExpectedFile describes one file a compilation is expected to produce.
type ExpectedFile struct {
	Path string
	// Required reports whether the compilation must produce the file.
	// A missing optional file is skipped; a missing required file fails
	// the store or restore operation.
	Required bool
}

// BuildFiles maps a file ID (e.g. "object", "pch", "tlog_r") to the file
// the compilation produces under that ID.
type BuildFiles map[string]ExpectedFile

// LookupResult is the replayable outcome of a cached compilation.
type LookupResult struct {
	Stdout     []byte
	Stderr     []byte
	ReturnCode int32
}

// Filter decides whether a candidate entry may be used for a hit.
type Filter func(*entry.Entry) bool

// Store is a content-addressed store of cache entries and their artifacts.
// Implementations own all cross-process locking.
type Store interface {
	// Lookup retrieves the entry for the fingerprint hash and, if filter
	// accepts it, restores its artifacts to the paths in expected.
	// It returns nil on a miss.
	Lookup(ctx context.Context, hash digest.Digest, expected BuildFiles, filter Filter, allowHardLinks bool) (*LookupResult, error)

	// Add stores the entry and the artifact files in expected under the
	// fingerprint hash.
	Add(ctx context.Context, hash digest.Digest, e *entry.Entry, expected BuildFiles, allowHardLinks bool) error
}
