// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package msvcutil

import (
	"errors"
	"os"
	"strings"
)

// ToolVersion identifies a concrete msvc toolchain instance.
type ToolVersion struct {
	// HostArch is the architecture the compiler binary runs on, e.g. "x64".
	HostArch string
	// TargetArch is the architecture the compiler emits code for.
	TargetArch string
	// VCVersion is the VC tools version.
	VCVersion Version
}

// DetectToolVersion determines the toolchain from the environment, falling
// back to heuristics over the compiler executable's path.
//
// In a vcvars-like environment, VSCMD_ARG_HOST_ARCH, VSCMD_ARG_TGT_ARCH and
// VCToolsVersion are set. Otherwise the install layout is
//
//	...\<version>\bin\Host<host>\<target>\cl.exe
//
// and the components are recovered positionally, anchored on the "Host"
// prefix.
func DetectToolVersion(compilerPath string) (ToolVersion, error) {
	var tv ToolVersion
	parts := strings.FieldsFunc(compilerPath, func(r rune) bool {
		return r == '\\' || r == '/'
	})
	n := len(parts)
	pathValid := false
	if v := os.Getenv("VSCMD_ARG_HOST_ARCH"); v != "" {
		tv.HostArch = v
	} else if n >= 3 && strings.HasPrefix(parts[n-3], "Host") {
		tv.HostArch = strings.TrimPrefix(parts[n-3], "Host")
		pathValid = true
	}
	if v := os.Getenv("VSCMD_ARG_TGT_ARCH"); v != "" {
		tv.TargetArch = v
	} else if pathValid {
		tv.TargetArch = parts[n-2]
	}
	if tv.HostArch == "" || tv.TargetArch == "" {
		return ToolVersion{}, errors.New("failed to get compiler host/target architecture")
	}
	if v := os.Getenv("VCToolsVersion"); v != "" {
		tv.VCVersion = ParseVersion(v)
	} else if n >= 5 && pathValid {
		tv.VCVersion = ParseVersion(parts[n-5])
	} else {
		return ToolVersion{}, errors.New("failed to get VC version")
	}
	return tv, nil
}
