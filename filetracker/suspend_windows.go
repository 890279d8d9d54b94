// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build windows

package filetracker

import (
	"os"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/windows"
)

// The FileTracker API is resolved dynamically: when msbuild runs the
// wrapper under tracking, one of the FileTracker DLLs is already injected
// into the process; we must not load one ourselves.
var (
	resolveOnce sync.Once
	suspendProc uintptr
	resumeProc  uintptr
)

func resolve() bool {
	resolveOnce.Do(func() {
		if !envBool(os.Getenv("TRACKER_ENABLED")) {
			return
		}
		var handle windows.Handle
		for _, name := range []string{"FileTracker64", "FileTracker32", "FileTracker"} {
			p, err := windows.UTF16PtrFromString(name)
			if err != nil {
				continue
			}
			if h, err := windows.GetModuleHandle(p); err == nil && h != 0 {
				handle = h
				break
			}
		}
		if handle == 0 {
			return
		}
		s, err := windows.GetProcAddress(handle, "SuspendTracking")
		if err != nil {
			log.Warnf("failed to resolve SuspendTracking: %v", err)
			return
		}
		r, err := windows.GetProcAddress(handle, "ResumeTracking")
		if err != nil {
			log.Warnf("failed to resolve ResumeTracking: %v", err)
			return
		}
		suspendProc = s
		resumeProc = r
	})
	return suspendProc != 0 && resumeProc != 0
}

// SuspendTracking suspends tracking in the current context.
// It is a no-op when no FileTracker library is loaded.
func SuspendTracking() {
	if !resolve() {
		return
	}
	syscall.SyscallN(suspendProc)
}

// ResumeTracking resumes tracking in the current context.
func ResumeTracking() {
	if !resolve() {
		return
	}
	syscall.SyscallN(resumeProc)
}
