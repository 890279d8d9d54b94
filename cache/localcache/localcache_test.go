// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package localcache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.chromium.org/infra/build/clcache/cache/cachestore"
	"go.chromium.org/infra/build/clcache/cache/entry"
	"go.chromium.org/infra/build/clcache/cache/localcache"
	"go.chromium.org/infra/build/clcache/digest"
)

func TestAddLookup(t *testing.T) {
	ctx := context.Background()
	c, err := localcache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()
	obj := filepath.Join(outDir, "foo.obj")
	if err := os.WriteFile(obj, []byte("object bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	// Backdate the artifact so the stored blob carries an old mtime.
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(obj, old, old); err != nil {
		t.Fatal(err)
	}
	hash := digest.FromBytes([]byte("fingerprint"))
	files := cachestore.BuildFiles{
		"object": {Path: obj, Required: true},
	}
	e := &entry.Entry{
		FileIDs:    []string{"object"},
		Stdout:     []byte("foo.cpp\r\n"),
		ReturnCode: 0,
	}
	if err := c.Add(ctx, hash, e, files, true); err != nil {
		t.Fatalf("Add=%v; want nil err", err)
	}

	// Restore to a different location.
	restored := filepath.Join(outDir, "sub", "foo.obj")
	res, err := c.Lookup(ctx, hash, cachestore.BuildFiles{
		"object": {Path: restored, Required: true},
	}, nil, true)
	if err != nil {
		t.Fatalf("Lookup=_, %v; want nil err", err)
	}
	if res == nil {
		t.Fatal("Lookup=nil; want hit")
	}
	want := &cachestore.LookupResult{Stdout: []byte("foo.cpp\r\n")}
	if diff := cmp.Diff(want, res, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Lookup diff -want +got:\n%s", diff)
	}
	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "object bytes" {
		t.Errorf("restored content=%q; want %q", got, "object bytes")
	}
	// Retrieval refreshes the timestamp so timestamp-based incremental
	// builds see the restored file as up to date.
	fi, err := os.Stat(restored)
	if err != nil {
		t.Fatal(err)
	}
	if fi.ModTime().Before(time.Now().Add(-time.Hour)) {
		t.Errorf("restored mtime=%v; want refreshed, not the blob's %v", fi.ModTime(), old)
	}
}

func TestLookup_miss(t *testing.T) {
	ctx := context.Background()
	c, err := localcache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Lookup(ctx, digest.FromBytes([]byte("nothing here")), nil, nil, true)
	if err != nil {
		t.Fatalf("Lookup=_, %v; want nil err", err)
	}
	if res != nil {
		t.Errorf("Lookup=%v; want nil (miss)", res)
	}
}

func TestLookup_filterRejects(t *testing.T) {
	ctx := context.Background()
	c, err := localcache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	hash := digest.FromBytes([]byte("k"))
	if err := c.Add(ctx, hash, &entry.Entry{ReturnCode: 0}, nil, false); err != nil {
		t.Fatal(err)
	}
	res, err := c.Lookup(ctx, hash, nil, func(*entry.Entry) bool { return false }, false)
	if err != nil {
		t.Fatalf("Lookup=_, %v; want nil err", err)
	}
	if res != nil {
		t.Errorf("Lookup with rejecting filter=%v; want nil", res)
	}
}

func TestAdd_replacesEntry(t *testing.T) {
	ctx := context.Background()
	c, err := localcache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	hash := digest.FromBytes([]byte("k"))
	if err := c.Add(ctx, hash, &entry.Entry{ReturnCode: 1}, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, hash, &entry.Entry{ReturnCode: 0, Stdout: []byte("new")}, nil, false); err != nil {
		t.Fatal(err)
	}
	res, err := c.Lookup(ctx, hash, nil, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("Lookup=nil; want hit")
	}
	if res.ReturnCode != 0 || string(res.Stdout) != "new" {
		t.Errorf("Lookup=%+v; want replaced entry", res)
	}
}

func TestLookup_unexpectedFileID(t *testing.T) {
	ctx := context.Background()
	c, err := localcache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "foo.obj")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	hash := digest.FromBytes([]byte("k"))
	e := &entry.Entry{FileIDs: []string{"object"}}
	files := cachestore.BuildFiles{"object": {Path: src, Required: true}}
	if err := c.Add(ctx, hash, e, files, false); err != nil {
		t.Fatal(err)
	}
	// The caller no longer expects an "object" output: mismatch is an error,
	// which makes the wrapper fall back to full execution.
	if _, err := c.Lookup(ctx, hash, cachestore.BuildFiles{}, nil, false); err == nil {
		t.Error("Lookup with mismatched expected files succeeded; want error")
	}
}
