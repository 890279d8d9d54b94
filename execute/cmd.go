// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package execute describes a command to run for the compiler wrapper.
package execute

import (
	"bytes"
	"fmt"
)

// Cmd includes all the information needed to run a compiler process.
type Cmd struct {
	// Args holds command line arguments.
	Args []string

	// Env specifies the environment of the process.
	// If nil, the current process environment is used.
	Env []string

	// Dir specifies the working directory of the cmd.
	Dir string

	// RSPFile is the filename of the response file for the cmd.
	// If set, the executor will write RSPFileContent to the file before
	// running the cmd and delete the file afterwards.
	RSPFile string

	// RSPFileContent is the content of the response file for the cmd.
	RSPFileContent []byte

	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer
}

// StdoutWriter returns a writer for the captured stdout of the cmd.
func (c *Cmd) StdoutWriter() *bytes.Buffer {
	c.stdoutBuf.Reset()
	return &c.stdoutBuf
}

// StderrWriter returns a writer for the captured stderr of the cmd.
func (c *Cmd) StderrWriter() *bytes.Buffer {
	c.stderrBuf.Reset()
	return &c.stderrBuf
}

// Stdout returns the captured stdout of the cmd.
func (c *Cmd) Stdout() []byte {
	return c.stdoutBuf.Bytes()
}

// Stderr returns the captured stderr of the cmd.
func (c *Cmd) Stderr() []byte {
	return c.stderrBuf.Bytes()
}

// Result is the outcome of a finished cmd.
type Result struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
}

// ExitError is an error of the cmd exiting with a non-zero exit code.
type ExitError struct {
	ExitCode int32
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit=%d", e.ExitCode)
}
