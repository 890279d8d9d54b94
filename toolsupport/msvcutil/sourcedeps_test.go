// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package msvcutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/infra/build/clcache/toolsupport/msvcutil"
)

func writeDepsFile(t *testing.T, content string) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "foo.cpp.json")
	if err := os.WriteFile(fname, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestParseSourceDeps(t *testing.T) {
	fname := writeDepsFile(t, `{
  "Version": "1.0",
  "Data": {
    "Source": "c:\\src\\foo.cpp",
    "Includes": [
      "c:\\src\\mylib.h",
      "c:\\sdk\\include\\windows.h"
    ]
  }
}`)
	got, err := msvcutil.ParseSourceDeps(fname)
	if err != nil {
		t.Fatalf("ParseSourceDeps=_, %v; want nil err", err)
	}
	want := []string{`c:\src\mylib.h`, `c:\sdk\include\windows.h`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSourceDeps diff -want +got:\n%s", diff)
	}
}

func TestParseSourceDeps_pchFirst(t *testing.T) {
	fname := writeDepsFile(t, `{
  "Version": "1.0",
  "Data": {
    "PCH": "c:\\out\\pre.pch",
    "Includes": ["c:\\src\\mylib.h"]
  }
}`)
	got, err := msvcutil.ParseSourceDeps(fname)
	if err != nil {
		t.Fatalf("ParseSourceDeps=_, %v; want nil err", err)
	}
	want := []string{`c:\out\pre.pch`, `c:\src\mylib.h`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSourceDeps diff -want +got:\n%s", diff)
	}
}

func TestParseSourceDeps_emptyIncludes(t *testing.T) {
	fname := writeDepsFile(t, `{"Version": "1.0", "Data": {"Includes": []}}`)
	got, err := msvcutil.ParseSourceDeps(fname)
	if err != nil {
		t.Fatalf("ParseSourceDeps=_, %v; want nil err", err)
	}
	if len(got) != 0 {
		t.Errorf("ParseSourceDeps=%q; want empty", got)
	}
}

func TestParseSourceDeps_errors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{name: "badVersion", content: `{"Version": "2.0", "Data": {"Includes": []}}`},
		{name: "noVersion", content: `{"Data": {"Includes": []}}`},
		{name: "noData", content: `{"Version": "1.0"}`},
		{name: "noIncludes", content: `{"Version": "1.0", "Data": {}}`},
		{name: "badIncludes", content: `{"Version": "1.0", "Data": {"Includes": [1, 2]}}`},
		{name: "notJSON", content: `Note: including file: foo.h`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := writeDepsFile(t, tc.content)
			if _, err := msvcutil.ParseSourceDeps(fname); err == nil {
				t.Errorf("ParseSourceDeps(%s) succeeded; want error", tc.name)
			}
		})
	}
	if _, err := msvcutil.ParseSourceDeps(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("ParseSourceDeps of missing file succeeded; want error")
	}
}
