// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package localcache implements an on-disk content-addressed cache store.
//
// Layout under the root directory:
//
//	<hh>/<rest-of-hex>/entry     serialized cache entry
//	<hh>/<rest-of-hex>/<fileID>  artifact blob per output file
//	<hh>/<rest-of-hex>.lock      writer lock
//	tmp/<uuid>/                  staging area, renamed into place
//
// Artifact blobs are stored uncompressed so retrieval can hard-link them
// into the build tree.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/infra/build/clcache/cache/cachestore"
	"go.chromium.org/infra/build/clcache/cache/entry"
	"go.chromium.org/infra/build/clcache/digest"
)

const (
	entryFileName = "entry"

	lockRetryInterval = 50 * time.Millisecond
	lockTimeout       = 5 * time.Second
	lockStaleAge      = 30 * time.Second
)

// LocalCache is a cache store on the local filesystem.
type LocalCache struct {
	root string
}

var _ cachestore.Store = (*LocalCache)(nil)

// New opens (creating if needed) a local cache rooted at root.
func New(root string) (*LocalCache, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("failed to init cache dir: %w", err)
	}
	return &LocalCache{root: root}, nil
}

func (c *LocalCache) entryDir(hash digest.Digest) string {
	hex := hash.String()
	return filepath.Join(c.root, hex[:2], hex[2:])
}

// lock acquires the writer lock for the entry, returning an unlock func.
// A lock file older than lockStaleAge is assumed to be leaked by a dead
// process and is broken.
func (c *LocalCache) lock(ctx context.Context, hash digest.Digest) (func(), error) {
	fname := c.entryDir(hash) + ".lock"
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(fname, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() {
				if err := os.Remove(fname); err != nil {
					log.Warnf("failed to unlock %s: %v", fname, err)
				}
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		if fi, serr := os.Stat(fname); serr == nil && time.Since(fi.ModTime()) > lockStaleAge {
			log.Warnf("breaking stale lock %s", fname)
			os.Remove(fname)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", fname)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Lookup implements cachestore.Store.
func (c *LocalCache) Lookup(ctx context.Context, hash digest.Digest, expected cachestore.BuildFiles, filter cachestore.Filter, allowHardLinks bool) (*cachestore.LookupResult, error) {
	unlock, err := c.lock(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer unlock()
	dir := c.entryDir(hash)
	data, err := os.ReadFile(filepath.Join(dir, entryFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := entry.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", hash, err)
	}
	if filter != nil && !filter(e) {
		return nil, nil
	}
	for _, id := range e.FileIDs {
		target, ok := expected[id]
		if !ok {
			return nil, fmt.Errorf("cache entry %s has unexpected file id %q", hash, id)
		}
		blob := filepath.Join(dir, id)
		if err := os.MkdirAll(filepath.Dir(target.Path), 0755); err != nil {
			return nil, err
		}
		if err := retrieveFile(blob, target.Path, allowHardLinks); err != nil {
			if !target.Required && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to retrieve %s: %w", id, err)
		}
		log.Debugf("cache hit (%s): %s => %s", hash, id, target.Path)
	}
	return &cachestore.LookupResult{
		Stdout:     e.Stdout,
		Stderr:     e.Stderr,
		ReturnCode: e.ReturnCode,
	}, nil
}

// Add implements cachestore.Store.
func (c *LocalCache) Add(ctx context.Context, hash digest.Digest, e *entry.Entry, expected cachestore.BuildFiles, allowHardLinks bool) error {
	data, err := e.Serialize()
	if err != nil {
		return err
	}
	staging := filepath.Join(c.root, "tmp", uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := os.WriteFile(filepath.Join(staging, entryFileName), data, 0644); err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	for _, id := range e.FileIDs {
		src, ok := expected[id]
		if !ok {
			return fmt.Errorf("no expected file for id %q", id)
		}
		blob := filepath.Join(staging, id)
		g.Go(func() error {
			err := storeFile(src.Path, blob, allowHardLinks)
			if err != nil && !src.Required && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	unlock, err := c.lock(ctx, hash)
	if err != nil {
		return err
	}
	defer unlock()
	dir := c.entryDir(hash)
	// Replace any previous generation of the entry.
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.Rename(staging, dir); err != nil {
		return err
	}
	log.Debugf("cache add (%s): %d files", hash, len(e.FileIDs))
	return nil
}

// storeFile copies (or hard-links) src into the cache as blob.
func storeFile(src, blob string, allowHardLinks bool) error {
	if allowHardLinks {
		if err := os.Link(src, blob); err == nil {
			return nil
		}
	}
	return copyFile(src, blob)
}

// retrieveFile materializes blob at target, preferring a hard link.
func retrieveFile(blob, target string, allowHardLinks bool) error {
	// The compiler never overwrites outputs in place, but a previous build
	// may have left one.
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if allowHardLinks {
		if err := os.Link(blob, target); err == nil {
			return touch(target)
		}
	}
	if err := copyFile(blob, target); err != nil {
		return err
	}
	return touch(target)
}

// touch refreshes the timestamp of a retrieved file. A hard link keeps the
// blob's old mtime, and timestamp-based file trackers such as msbuild need
// restored outputs to look newer than their inputs.
func touch(fname string) error {
	now := time.Now()
	return os.Chtimes(fname, now, now)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
