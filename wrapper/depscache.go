// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import "go.chromium.org/infra/build/clcache/digest"

// DepsCache caches content digests of dependency files for the duration of
// one invocation, so a header shared by several inputs is hashed once.
// It is never persisted; a digest recorded for a path is final for the run.
type DepsCache struct {
	m map[string]digest.Digest
}

// NewDepsCache creates an empty DepsCache.
func NewDepsCache() *DepsCache {
	return &DepsCache{m: map[string]digest.Digest{}}
}

// Get returns the recorded digest for path.
func (c *DepsCache) Get(path string) (digest.Digest, bool) {
	d, ok := c.m[path]
	return d, ok
}

// Set records the digest for path.
func (c *DepsCache) Set(path string, d digest.Digest) {
	c.m[path] = d
}
