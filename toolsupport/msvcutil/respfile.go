// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package msvcutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"
	"unicode/utf16"
)

var (
	bomUTF16LE = []byte{0xff, 0xfe}
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
)

// readLines reads a response file and calls cb for each line.
// UTF-16-LE content (BOM FF FE) is transcoded, a UTF-8 BOM is stripped and
// trailing carriage returns are removed.
func readLines(name string, cb func(line string) error) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	var text string
	switch {
	case len(data) > 2 && len(data)%2 == 0 && bytes.HasPrefix(data, bomUTF16LE):
		u16 := make([]uint16, 0, (len(data)-2)/2)
		for i := 2; i < len(data); i += 2 {
			u16 = append(u16, binary.LittleEndian.Uint16(data[i:]))
		}
		text = string(utf16.Decode(u16))
	case len(data) > 3 && bytes.HasPrefix(data, bomUTF8):
		text = string(data[3:])
	default:
		text = string(data)
	}
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if err := cb(line); err != nil {
			return err
		}
	}
	return nil
}

// SplitArgs splits one command line of text into arguments.
// Double quotes group text including whitespace; the quotes themselves are
// not part of the argument. A backslash escapes only a following quote,
// matching how cl.exe reads response files closely enough for the option
// subset handled here.
func SplitArgs(line string) []string {
	var args []string
	var sb strings.Builder
	inQuote := false
	inArg := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '\\' && i+1 < len(line) && line[i+1] == '"':
			sb.WriteByte('"')
			inArg = true
			i++
		case ch == '"':
			inQuote = !inQuote
			inArg = true
		case (ch == ' ' || ch == '\t') && !inQuote:
			if inArg {
				args = append(args, sb.String())
				sb.Reset()
				inArg = false
			}
		default:
			sb.WriteByte(ch)
			inArg = true
		}
	}
	if inArg {
		args = append(args, sb.String())
	}
	return args
}
