// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package localexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.chromium.org/infra/build/clcache/execute"
	"go.chromium.org/infra/build/clcache/execute/localexec"
)

func TestRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands are shell scripts")
	}
	ctx := context.Background()
	cmd := &execute.Cmd{
		Args: []string{"/bin/sh", "-c", "echo out; echo err >&2"},
	}
	if err := localexec.Run(ctx, cmd); err != nil {
		t.Fatalf("Run=%v; want nil err", err)
	}
	if got := string(cmd.Stdout()); got != "out\n" {
		t.Errorf("stdout=%q; want %q", got, "out\n")
	}
	if got := string(cmd.Stderr()); got != "err\n" {
		t.Errorf("stderr=%q; want %q", got, "err\n")
	}
}

func TestRun_exitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands are shell scripts")
	}
	ctx := context.Background()
	cmd := &execute.Cmd{
		Args: []string{"/bin/sh", "-c", "exit 3"},
	}
	err := localexec.Run(ctx, cmd)
	var eerr execute.ExitError
	if !errors.As(err, &eerr) || eerr.ExitCode != 3 {
		t.Fatalf("Run=%v; want ExitError{3}", err)
	}
	res, err := localexec.ResultOf(cmd, err)
	if err != nil {
		t.Fatalf("ResultOf=_, %v; want nil err", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode=%d; want 3", res.ExitCode)
	}
}

func TestRun_rspFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands are shell scripts")
	}
	ctx := context.Background()
	rsp := filepath.Join(t.TempDir(), "args.rsp")
	cmd := &execute.Cmd{
		Args:           []string{"/bin/cat", rsp},
		RSPFile:        rsp,
		RSPFileContent: []byte("/c foo.cpp"),
	}
	if err := localexec.Run(ctx, cmd); err != nil {
		t.Fatalf("Run=%v; want nil err", err)
	}
	if got := string(cmd.Stdout()); got != "/c foo.cpp" {
		t.Errorf("stdout=%q; want %q", got, "/c foo.cpp")
	}
	// The response file is cleaned up after the run.
	if _, err := os.Stat(rsp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("rsp file still exists: %v", err)
	}
}

func TestRun_startFailure(t *testing.T) {
	ctx := context.Background()
	cmd := &execute.Cmd{
		Args: []string{filepath.Join(t.TempDir(), "no-such-binary")},
	}
	err := localexec.Run(ctx, cmd)
	if err == nil {
		t.Fatal("Run of missing binary succeeded; want error")
	}
	var eerr execute.ExitError
	if errors.As(err, &eerr) {
		t.Errorf("Run=%v; want non-ExitError for start failure", err)
	}
}
