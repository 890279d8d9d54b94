// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package msvcutil

import (
	"encoding/json"
	"fmt"
	"os"
)

// sourceDepsVersion is the only /sourceDependencies report version handled.
// Version 1.0 guarantees absolute lowercase paths with backslash separators,
// which the system-include prefix match relies on.
const sourceDepsVersion = "1.0"

type sourceDepsFile struct {
	Version string          `json:"Version"`
	Data    *sourceDepsData `json:"Data"`
}

type sourceDepsData struct {
	PCH      string    `json:"PCH"`
	Includes *[]string `json:"Includes"`
}

// ParseSourceDeps reads a /sourceDependencies JSON report and returns the
// dependencies of the compiled source: the PCH, if any, followed by every
// include.
func ParseSourceDeps(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency file: %w", err)
	}
	var f sourceDepsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dependency file %s: %w", path, err)
	}
	if f.Version != sourceDepsVersion {
		return nil, fmt.Errorf("unknown dependency file version: %q", f.Version)
	}
	if f.Data == nil || f.Data.Includes == nil {
		return nil, fmt.Errorf("bad dependency file format: %s", path)
	}
	var deps []string
	if f.Data.PCH != "" {
		deps = append(deps, f.Data.PCH)
	}
	deps = append(deps, *f.Data.Includes...)
	return deps, nil
}
