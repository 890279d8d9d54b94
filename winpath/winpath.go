// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package winpath manipulates Windows-style paths as strings.
//
// The wrapper handles paths produced by cl.exe and msbuild, which use
// backslash separators regardless of the OS the tests run on, so these
// helpers accept both separators and never consult the local filesystem.
package winpath

import "strings"

func isSep(c byte) bool {
	return c == '\\' || c == '/'
}

// EndsWithSep reports whether path ends with a path separator.
func EndsWithSep(path string) bool {
	return path != "" && isSep(path[len(path)-1])
}

// Base returns the last component of path.
func Base(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	return path[i+1:]
}

// Ext returns the extension of the last component of path, including the
// dot, or "" if there is none.
func Ext(path string) string {
	base := Base(path)
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return ""
	}
	return base[i:]
}

// TrimExt returns path without its extension.
func TrimExt(path string) string {
	return strings.TrimSuffix(path, Ext(path))
}

// ChangeExt returns path with its extension replaced by ext.
func ChangeExt(path, ext string) string {
	return TrimExt(path) + ext
}

// Join appends name to dir, inserting a separator unless dir already ends
// with one.
func Join(dir, name string) string {
	if dir == "" || EndsWithSep(dir) {
		return dir + name
	}
	return dir + `\` + name
}
