// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads wrapper configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the effective configuration of one wrapper run.
type Config struct {
	// CacheDir is the root of the local cache store.
	CacheDir string
	// Compress selects compressed captured output in stored entries.
	Compress bool
	// Disable bypasses the cache entirely; the compiler runs directly.
	Disable bool
}

func envBool(v string, dflt bool) bool {
	switch strings.ToLower(v) {
	case "":
		return dflt
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Load reads CLCACHE_DIR, CLCACHE_COMPRESS and CLCACHE_DISABLE.
func Load() Config {
	c := Config{
		CacheDir: os.Getenv("CLCACHE_DIR"),
		Compress: envBool(os.Getenv("CLCACHE_COMPRESS"), true),
		Disable:  envBool(os.Getenv("CLCACHE_DISABLE"), false),
	}
	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		c.CacheDir = filepath.Join(base, "clcache")
	}
	return c
}
