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

package bgzf

import (
	"fmt"
	"sort"

	"github.com/exascience/pargo/parallel"
	psort "github.com/exascience/pargo/sort"
)

// Offset is a virtual file offset: the file offset of the start of a
// BGZF block in the upper 48 bits, and an offset into the uncompressed
// data of that block in the lower 16 bits. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.1.1.
type Offset uint64

// MakeOffset combines a block file offset and an in-block offset.
func MakeOffset(file int64, block uint16) Offset {
	return Offset(uint64(file)<<16 | uint64(block))
}

// File returns the file offset of the block.
func (o Offset) File() int64 {
	return int64(o >> 16)
}

// Block returns the offset into the uncompressed block data.
func (o Offset) Block() uint16 {
	return uint16(o)
}

func (o Offset) String() string {
	return fmt.Sprintf("%d:%d", o.File(), o.Block())
}

// Chunk is a half-open range [Begin, End) of virtual offsets.
type Chunk struct {
	Begin, End Offset
}

// SortChunksByBegin sorts a slice of Chunk by Begin offset.
func SortChunksByBegin(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Begin < chunks[j].Begin
	})
}

type stableChunkSorter []Chunk

func (s stableChunkSorter) SequentialSort(i, j int) {
	SortChunksByBegin(s[i:j])
}

func (s stableChunkSorter) NewTemp() psort.StableSorter {
	return stableChunkSorter(make([]Chunk, len(s)))
}

func (s stableChunkSorter) Len() int {
	return len(s)
}

func (s stableChunkSorter) Less(i, j int) bool {
	return s[i].Begin < s[j].Begin
}

func (s stableChunkSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableChunkSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

const parallelChunkGrainSize = 0x1000

// ParallelSortChunksByBegin sorts a slice of Chunk by Begin offset
// using a parallel stable sort for large inputs.
func ParallelSortChunksByBegin(chunks []Chunk) {
	if len(chunks) < parallelChunkGrainSize {
		SortChunksByBegin(chunks)
		return
	}
	psort.StableSort(stableChunkSorter(chunks))
}

// Extend makes chunk1 larger if it overlaps or touches chunk2, by
// storing max(chunk1.End, chunk2.End) in chunk1.End; otherwise chunk1
// remains unchanged. chunk2.Begin >= chunk1.Begin must hold.
// Returns true if the two chunks were merged.
func (chunk1 *Chunk) Extend(chunk2 Chunk) bool {
	if chunk2.Begin > chunk1.End {
		return false
	}
	if chunk2.End > chunk1.End {
		chunk1.End = chunk2.End
	}
	return true
}

// FlattenChunks merges overlapping and adjacent chunks. The chunks
// must be sorted by Begin. The result shares memory with the argument.
func FlattenChunks(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	i := 0
	for j := 1; j < len(chunks); j++ {
		if !chunks[i].Extend(chunks[j]) {
			i++
			chunks[i] = chunks[j]
		}
	}
	return chunks[:i+1]
}

// ParallelFlattenChunks is FlattenChunks with a parallel divide and
// conquer for large inputs.
func ParallelFlattenChunks(chunks []Chunk) []Chunk {
	if len(chunks) < parallelChunkGrainSize {
		return FlattenChunks(chunks)
	}
	half := len(chunks) >> 1
	left, right := chunks[:half], chunks[half:]
	parallel.Do(
		func() { left = ParallelFlattenChunks(left) },
		func() { right = ParallelFlattenChunks(right) },
	)
	for len(right) > 0 && left[len(left)-1].Extend(right[0]) {
		right = right[1:]
	}
	return append(left, right...)
}
