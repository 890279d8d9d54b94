// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package entry implements the serialized record of a cached compilation:
// output-file identifiers, captured diagnostics, return code and dependency
// digests.
package entry

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"go.chromium.org/infra/build/clcache/digest"
)

// FormatVersion is the current entry serialization format version.
// Readers accept versions 1..FormatVersion; writers only emit the current
// version.
const FormatVersion = 4

// CompressionMode controls whether captured program output is compressed.
type CompressionMode int32

const (
	CompressionNone CompressionMode = iota
	CompressionAll
)

// DependencyRecords maps a dependency path to its content digest.
type DependencyRecords map[string]digest.Digest

// Entry is a cache entry. It is immutable once serialized.
type Entry struct {
	// FileIDs identify the output files of the compilation. They are
	// opaque here; the store maps them to blobs.
	FileIDs []string

	// Dependencies records the digest of every non-system file the
	// compilation read.
	Dependencies DependencyRecords

	Compression CompressionMode
	Stdout      []byte
	Stderr      []byte
	ReturnCode  int32
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// All integers and length prefixes on the wire are little-endian int32.

type writer struct {
	buf []byte
}

func (w *writer) int32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *writer) bytes(b []byte) {
	w.int32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) string(s string) {
	w.int32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

type reader struct {
	data []byte
	pos  int
}

var errTruncated = fmt.Errorf("premature end of serialized data stream")

func (r *reader) int32() (int32, error) {
	if r.pos+4 > len(r.data) {
		return 0, errTruncated
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 || r.pos+int(n) > len(r.data) {
		return nil, errTruncated
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

// digest reads a raw fixed-width digest. There is no length prefix; the
// width is implied by the digest type.
func (r *reader) digest() (digest.Digest, error) {
	if r.pos+digest.Size > len(r.data) {
		return digest.Digest{}, errTruncated
	}
	var d digest.Digest
	copy(d[:], r.data[r.pos:])
	r.pos += digest.Size
	return d, nil
}

// Serialize renders the entry in the current format version.
// The dependency map is emitted sorted by path so the byte stream does not
// depend on map iteration order.
func (e *Entry) Serialize() ([]byte, error) {
	var w writer
	w.int32(FormatVersion)
	w.int32(int32(e.Compression))
	w.int32(int32(len(e.FileIDs)))
	for _, id := range e.FileIDs {
		w.string(id)
	}
	if e.Compression == CompressionAll {
		w.bytes(zstdEncoder.EncodeAll(e.Stdout, nil))
		w.bytes(zstdEncoder.EncodeAll(e.Stderr, nil))
	} else {
		w.bytes(e.Stdout)
		w.bytes(e.Stderr)
	}
	w.int32(e.ReturnCode)
	paths := make([]string, 0, len(e.Dependencies))
	for p := range e.Dependencies {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.int32(int32(len(paths)))
	for _, p := range paths {
		w.string(p)
		d := e.Dependencies[p]
		w.buf = append(w.buf, d[:]...)
	}
	return w.buf, nil
}

// Deserialize parses an entry of any supported format version.
//
// Version 1 had no compression mode (none is assumed) and no dependency
// records. Version 2 introduced the compression mode. Up to version 2, file
// IDs were stored as a map; its keys, sorted, become the ID sequence.
// Version 4 added the dependency records.
func Deserialize(data []byte) (*Entry, error) {
	r := &reader{data: data}
	version, err := r.int32()
	if err != nil {
		return nil, err
	}
	if version > FormatVersion {
		return nil, fmt.Errorf("unsupported entry format version %d (max %d)", version, FormatVersion)
	}
	e := &Entry{}
	if version >= 2 {
		m, err := r.int32()
		if err != nil {
			return nil, err
		}
		e.Compression = CompressionMode(m)
	}
	if version >= 3 {
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		for i := int32(0); i < n; i++ {
			id, err := r.string()
			if err != nil {
				return nil, err
			}
			e.FileIDs = append(e.FileIDs, id)
		}
	} else {
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		for i := int32(0); i < n; i++ {
			id, err := r.string()
			if err != nil {
				return nil, err
			}
			// Legacy map value; only the keys carry information now.
			if _, err := r.string(); err != nil {
				return nil, err
			}
			e.FileIDs = append(e.FileIDs, id)
		}
		sort.Strings(e.FileIDs)
	}
	if e.Stdout, err = r.bytes(); err != nil {
		return nil, err
	}
	if e.Stderr, err = r.bytes(); err != nil {
		return nil, err
	}
	if e.ReturnCode, err = r.int32(); err != nil {
		return nil, err
	}
	if version >= 4 {
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		e.Dependencies = make(DependencyRecords, n)
		for i := int32(0); i < n; i++ {
			p, err := r.string()
			if err != nil {
				return nil, err
			}
			d, err := r.digest()
			if err != nil {
				return nil, err
			}
			e.Dependencies[p] = d
		}
	}
	if e.Compression == CompressionAll {
		if e.Stdout, err = zstdDecoder.DecodeAll(e.Stdout, nil); err != nil {
			return nil, fmt.Errorf("failed to decompress stdout: %w", err)
		}
		if e.Stderr, err = zstdDecoder.DecodeAll(e.Stderr, nil); err != nil {
			return nil, fmt.Errorf("failed to decompress stderr: %w", err)
		}
	}
	return e, nil
}
