// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !windows

package filetracker

// FileTracker only exists on Windows; elsewhere tracking control is a no-op
// while TLOG emission still works (useful for tests).

// SuspendTracking suspends tracking in the current context.
func SuspendTracking() {}

// ResumeTracking resumes tracking in the current context.
func ResumeTracking() {}
