// elbam: a library for reading, writing, indexing and piling up BAM files.
// Copyright (c) 2017-2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elbam/blob/master/LICENSE.txt>.

// Package bgzf implements parallel reading and writing of BGZF files,
// the blocked gzip format used by BAM. Blocks are inflated and deflated
// concurrently and delivered in stream order. Positions in the
// uncompressed stream are addressed by virtual offsets.
package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxBlockSize is the maximum size of a complete BGZF block,
	// and the maximum size of its uncompressed data.
	MaxBlockSize = 65536

	// maxDataSize is the amount of uncompressed data stored in one
	// written block, so that incompressible data still fits into
	// MaxBlockSize after deflate.
	maxDataSize = 0xff00

	headerSize = 18
	footerSize = 8
)

var (
	// ErrIO is wrapped by all errors caused by unreadable,
	// truncated, or corrupt BGZF data.
	ErrIO = errors.New("bgzf: invalid or unreadable BGZF data")

	// ErrClosed is returned by operations on a closed Reader or Writer.
	ErrClosed = errors.New("bgzf: stream is closed")

	// ErrMissingEOF is returned when a BGZF stream does not end in
	// the standard empty EOF block.
	ErrMissingEOF = errors.New("bgzf: missing EOF marker block")
)

var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var blockHeader = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
}

// CheckEOF verifies that the last bytes of r, which has the given
// size, form the BGZF EOF marker block.
func CheckEOF(r io.ReaderAt, size int64) error {
	if size < int64(len(eofMarker)) {
		return ErrMissingEOF
	}
	tail := make([]byte, len(eofMarker))
	if _, err := r.ReadAt(tail, size-int64(len(eofMarker))); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !bytes.Equal(tail, eofMarker) {
		return ErrMissingEOF
	}
	return nil
}

// block is one block of a BGZF file, either still compressed, or
// already inflated. coffset is the file offset of the block, and next
// the file offset of the block that follows it.
type block struct {
	data    []byte
	crc32   uint32
	size    uint32
	coffset int64
	next    int64
	err     error
}

var blockPool = sync.Pool{New: func() interface{} {
	return &block{data: make([]byte, 0, MaxBlockSize)}
}}

func releaseBlock(b *block) {
	b.data = b.data[:0]
	b.err = nil
	blockPool.Put(b)
}

func truncated(err error, coffset int64) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return fmt.Errorf("%w: truncated block at file offset %v", ErrIO, coffset)
	}
	return fmt.Errorf("%w: %v at file offset %v", ErrIO, err, coffset)
}

// readBlock reads one compressed block starting at file offset coffset.
// It returns io.EOF only if r is exhausted before the first byte of the
// block.
func readBlock(r io.Reader, coffset int64) (*block, error) {
	var header [12]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, truncated(err, coffset)
	}
	if header[0] != 0x1f || header[1] != 0x8b || header[2] != 8 || header[3]&4 == 0 {
		return nil, fmt.Errorf("%w: invalid block header at file offset %v", ErrIO, coffset)
	}
	xlen := int(binary.LittleEndian.Uint16(header[10:12]))
	b := blockPool.Get().(*block)
	extra := b.data[:xlen]
	if _, err := io.ReadFull(r, extra); err != nil {
		releaseBlock(b)
		return nil, truncated(err, coffset)
	}
	bsize := -1
	for i := 0; i+4 <= xlen; {
		slen := int(binary.LittleEndian.Uint16(extra[i+2 : i+4]))
		if extra[i] == 66 && extra[i+1] == 67 && slen == 2 && i+6 <= xlen {
			bsize = int(binary.LittleEndian.Uint16(extra[i+4 : i+6]))
		}
		i += 4 + slen
	}
	if bsize < 0 {
		releaseBlock(b)
		return nil, fmt.Errorf("%w: missing BC extra subfield at file offset %v", ErrIO, coffset)
	}
	cdataLen := bsize + 1 - len(header) - xlen - footerSize
	if cdataLen < 0 {
		releaseBlock(b)
		return nil, fmt.Errorf("%w: invalid block size %v at file offset %v", ErrIO, bsize, coffset)
	}
	b.data = b.data[:cdataLen]
	if _, err := io.ReadFull(r, b.data); err != nil {
		releaseBlock(b)
		return nil, truncated(err, coffset)
	}
	var footer [footerSize]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		releaseBlock(b)
		return nil, truncated(err, coffset)
	}
	b.crc32 = binary.LittleEndian.Uint32(footer[0:4])
	b.size = binary.LittleEndian.Uint32(footer[4:8])
	if b.size > MaxBlockSize {
		releaseBlock(b)
		return nil, fmt.Errorf("%w: uncompressed block size %v too large at file offset %v", ErrIO, b.size, coffset)
	}
	b.coffset = coffset
	b.next = coffset + int64(bsize) + 1
	return b, nil
}
