// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package localexec implements synchronous local command execution.
package localexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/clcache/execute"
	"go.chromium.org/infra/build/clcache/sync/semaphore"
)

// forkSema bounds concurrent process creation. On Windows, unbounded forks
// exhaust memory resources before they exhaust CPUs.
var forkSema = semaphore.New("fork", runtime.NumCPU())

// Run runs cmd, capturing its stdout/stderr into cmd.
// It returns execute.ExitError if the process exits with a non-zero code.
func Run(ctx context.Context, cmd *execute.Cmd) error {
	if len(cmd.Args) == 0 {
		return errors.New("no arguments in the command")
	}
	if cmd.RSPFile != "" {
		if err := os.WriteFile(cmd.RSPFile, cmd.RSPFileContent, 0644); err != nil {
			return fmt.Errorf("failed to write rsp file: %w", err)
		}
		defer func() {
			if err := os.Remove(cmd.RSPFile); err != nil {
				log.Warnf("failed to remove %s: %v", cmd.RSPFile, err)
			}
		}()
	}
	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Env = cmd.Env
	c.Dir = cmd.Dir
	c.Stdout = cmd.StdoutWriter()
	c.Stderr = cmd.StderrWriter()
	s := time.Now()
	err := forkSema.Do(ctx, func(ctx context.Context) error {
		return c.Start()
	})
	if err == nil {
		err = c.Wait()
	}
	code := exitCode(err)
	log.Debugf("run %q exit=%d stdout=%d stderr=%d in %s", cmd.Args[0], code, len(cmd.Stdout()), len(cmd.Stderr()), time.Since(s))
	if err != nil {
		var eerr *exec.ExitError
		if errors.As(err, &eerr) {
			return execute.ExitError{ExitCode: code}
		}
		return fmt.Errorf("failed to run %q: %w", cmd.Args, err)
	}
	return nil
}

func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var eerr *exec.ExitError
	if !errors.As(err, &eerr) {
		return 1
	}
	return int32(eerr.ExitCode())
}

// ResultOf collects the result of a finished cmd run.
func ResultOf(cmd *execute.Cmd, err error) (execute.Result, error) {
	res := execute.Result{
		Stdout: cmd.Stdout(),
		Stderr: cmd.Stderr(),
	}
	if err == nil {
		return res, nil
	}
	var eerr execute.ExitError
	if errors.As(err, &eerr) {
		res.ExitCode = eerr.ExitCode
		return res, nil
	}
	return res, err
}
