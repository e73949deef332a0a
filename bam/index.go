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

package bam

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elbam/utils/bgzf"
)

const (
	baiMagic = "BAI\x01"

	// statsBin is the pseudo-bin that holds per-reference statistics.
	statsBin = 37450

	linearShift = 14

	// MaxCoordinate is the largest position the binning scheme can
	// address.
	MaxCoordinate = 1 << 29
)

var binLevels = [...]struct{ offset, shift int }{
	{1, 26}, {9, 23}, {73, 20}, {585, 17}, {4681, 14},
}

// Reg2Bin returns the smallest bin that contains the 0-based half-open
// region [beg, end). See http://samtools.github.io/hts-specs/SAMv1.pdf
// - Section 5.3.
func Reg2Bin(beg, end int) int {
	end--
	for i := len(binLevels) - 1; i >= 0; i-- {
		if level := binLevels[i]; beg>>level.shift == end>>level.shift {
			return level.offset + beg>>level.shift
		}
	}
	return 0
}

// Reg2Bins returns all bins that may contain records overlapping the
// 0-based half-open region [beg, end), in ascending order.
func Reg2Bins(beg, end int) []int {
	end--
	bins := []int{0}
	for _, level := range binLevels {
		for k := level.offset + beg>>level.shift; k <= level.offset+end>>level.shift; k++ {
			bins = append(bins, k)
		}
	}
	return bins
}

type (
	// ReferenceStats holds the statistics that BAI stores in its
	// pseudo-bin: the virtual offset range of all records of one
	// reference, and the number of mapped and unmapped records.
	ReferenceStats struct {
		Chunk    bgzf.Chunk
		Mapped   uint64
		Unmapped uint64
	}

	referenceIndex struct {
		bins      map[uint32][]bgzf.Chunk
		populated *bitset.BitSet
		linear    []bgzf.Offset
		stats     *ReferenceStats
	}

	// Index is a BAI index. It maps regions of references to the
	// chunks of a BAM file that may contain overlapping records.
	Index struct {
		refs        []referenceIndex
		unplaced    uint64
		hasUnplaced bool
	}

	// IndexSource is a sequence of coordinate-sorted records together
	// with the virtual offset ranges they occupy in a BAM file.
	// Iterator is an IndexSource.
	IndexSource interface {
		Next() bool
		Record() *Record
		Chunk() bgzf.Chunk
		Err() error
	}
)

func newReferenceIndex() referenceIndex {
	return referenceIndex{
		bins:      make(map[uint32][]bgzf.Chunk),
		populated: bitset.New(statsBin),
	}
}

func (ref *referenceIndex) addChunk(bin uint32, chunk bgzf.Chunk) {
	chunks := ref.bins[bin]
	if n := len(chunks); n > 0 {
		if last := &chunks[n-1]; last.End >= chunk.Begin || last.End.File() == chunk.Begin.File() {
			if chunk.End > last.End {
				last.End = chunk.End
			}
			return
		}
	}
	ref.bins[bin] = append(chunks, chunk)
	ref.populated.Set(uint(bin))
}

// BuildIndex builds an index for a BAM file with nRefs references in a
// single pass over its records. It returns ErrUnsorted if the records
// are not sorted by coordinate.
func BuildIndex(nRefs int, records IndexSource) (*Index, error) {
	idx := &Index{refs: make([]referenceIndex, nRefs), hasUnplaced: true}
	for i := range idx.refs {
		idx.refs[i] = newReferenceIndex()
	}
	lastRefID, lastPos := int32(-1), int32(-1)
	seenUnplaced := false
	for records.Next() {
		rec, chunk := records.Record(), records.Chunk()
		if rec.RefID >= int32(nRefs) {
			return nil, fmt.Errorf("%w: reference ID %v in record %v", ErrUnknownReference, rec.RefID, rec.Name)
		}
		if rec.RefID < 0 {
			idx.unplaced++
			seenUnplaced = true
			continue
		}
		if seenUnplaced || rec.RefID < lastRefID || (rec.RefID == lastRefID && rec.Pos < lastPos) {
			return nil, fmt.Errorf("%w: record %v at %v:%v", ErrUnsorted, rec.Name, rec.RefID, rec.Pos)
		}
		lastRefID, lastPos = rec.RefID, rec.Pos
		ref := &idx.refs[rec.RefID]
		if ref.stats == nil {
			ref.stats = &ReferenceStats{Chunk: chunk}
		} else {
			ref.stats.Chunk.End = chunk.End
		}
		if rec.IsUnmapped() {
			ref.stats.Unmapped++
		} else {
			ref.stats.Mapped++
		}
		if rec.Pos < 0 {
			continue
		}
		beg, end := int(rec.Pos), int(rec.End())
		ref.addChunk(uint32(Reg2Bin(beg, end)), chunk)
		for w := beg >> linearShift; w <= (end-1)>>linearShift; w++ {
			for len(ref.linear) <= w {
				ref.linear = append(ref.linear, 0)
			}
			if ref.linear[w] == 0 {
				ref.linear[w] = chunk.Begin
			}
		}
	}
	if err := records.Err(); err != nil {
		return nil, err
	}
	for i := range idx.refs {
		linear := idx.refs[i].linear
		for w := 1; w < len(linear); w++ {
			if linear[w] == 0 {
				linear[w] = linear[w-1]
			}
		}
	}
	return idx, nil
}

// NumReferences returns the number of references covered by the index.
func (idx *Index) NumReferences() int {
	return len(idx.refs)
}

// Stats returns the statistics for the given reference, if present.
func (idx *Index) Stats(refID int) (ReferenceStats, bool) {
	if refID < 0 || refID >= len(idx.refs) || idx.refs[refID].stats == nil {
		return ReferenceStats{}, false
	}
	return *idx.refs[refID].stats, true
}

// Unplaced returns the number of records without coordinates, if the
// index records it.
func (idx *Index) Unplaced() (uint64, bool) {
	return idx.unplaced, idx.hasUnplaced
}

// Query returns the chunks that may contain records of the given
// reference overlapping the 0-based half-open region [start, end).
// The chunks are sorted and do not overlap. The result may contain
// chunks without matching records, but never misses a matching record.
func (idx *Index) Query(refID, start, end int) []bgzf.Chunk {
	if refID < 0 || refID >= len(idx.refs) {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if end > MaxCoordinate {
		end = MaxCoordinate
	}
	if start >= end {
		return nil
	}
	ref := &idx.refs[refID]
	var minOffset bgzf.Offset
	if n := len(ref.linear); n > 0 {
		w := start >> linearShift
		if w >= n {
			w = n - 1
		}
		minOffset = ref.linear[w]
	}
	var chunks []bgzf.Chunk
	for _, bin := range Reg2Bins(start, end) {
		if !ref.populated.Test(uint(bin)) {
			continue
		}
		for _, chunk := range ref.bins[uint32(bin)] {
			if chunk.End > minOffset {
				chunks = append(chunks, chunk)
			}
		}
	}
	bgzf.SortChunksByBegin(chunks)
	return bgzf.FlattenChunks(chunks)
}

func appendUint32(out []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(out, v)
}

func appendUint64(out []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(out, v)
}

// WriteTo writes the index in BAI format. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 5.2.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	out := append([]byte(nil), baiMagic...)
	out = appendUint32(out, uint32(len(idx.refs)))
	for i := range idx.refs {
		ref := &idx.refs[i]
		nBin := ref.populated.Count()
		if ref.stats != nil {
			nBin++
		}
		out = appendUint32(out, uint32(nBin))
		for bin, ok := ref.populated.NextSet(0); ok; bin, ok = ref.populated.NextSet(bin + 1) {
			chunks := ref.bins[uint32(bin)]
			out = appendUint32(out, uint32(bin))
			out = appendUint32(out, uint32(len(chunks)))
			for _, chunk := range chunks {
				out = appendUint64(out, uint64(chunk.Begin))
				out = appendUint64(out, uint64(chunk.End))
			}
		}
		if stats := ref.stats; stats != nil {
			out = appendUint32(out, statsBin)
			out = appendUint32(out, 2)
			out = appendUint64(out, uint64(stats.Chunk.Begin))
			out = appendUint64(out, uint64(stats.Chunk.End))
			out = appendUint64(out, stats.Mapped)
			out = appendUint64(out, stats.Unmapped)
		}
		out = appendUint32(out, uint32(len(ref.linear)))
		for _, offset := range ref.linear {
			out = appendUint64(out, uint64(offset))
		}
	}
	if idx.hasUnplaced {
		out = appendUint64(out, idx.unplaced)
	}
	n, err := w.Write(out)
	return int64(n), err
}

type indexParser struct {
	data  []byte
	index int
	err   error
}

func (p *indexParser) uint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.index+4 > len(p.data) {
		p.err = fmt.Errorf("%w: unexpected end of index", ErrInvalidIndex)
		return 0
	}
	v := binary.LittleEndian.Uint32(p.data[p.index:])
	p.index += 4
	return v
}

func (p *indexParser) uint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.index+8 > len(p.data) {
		p.err = fmt.Errorf("%w: unexpected end of index", ErrInvalidIndex)
		return 0
	}
	v := binary.LittleEndian.Uint64(p.data[p.index:])
	p.index += 8
	return v
}

// count reads a count of items that each take at least size bytes.
func (p *indexParser) count(size int) int {
	n := int(int32(p.uint32()))
	if p.err == nil && (n < 0 || n > (len(p.data)-p.index)/size) {
		p.err = fmt.Errorf("%w: invalid count %v", ErrInvalidIndex, n)
		return 0
	}
	return n
}

// ReadIndex reads an index in BAI format.
func ReadIndex(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(baiMagic) || string(data[:len(baiMagic)]) != baiMagic {
		return nil, fmt.Errorf("%w: missing BAI magic", ErrInvalidIndex)
	}
	p := &indexParser{data: data, index: len(baiMagic)}
	idx := &Index{refs: make([]referenceIndex, p.count(4))}
	for i := range idx.refs {
		ref := newReferenceIndex()
		nBin := p.count(8)
		for b := 0; b < nBin && p.err == nil; b++ {
			bin := p.uint32()
			nChunk := p.count(16)
			if bin == statsBin && nChunk == 2 {
				ref.stats = &ReferenceStats{
					Chunk:    bgzf.Chunk{Begin: bgzf.Offset(p.uint64()), End: bgzf.Offset(p.uint64())},
					Mapped:   p.uint64(),
					Unmapped: p.uint64(),
				}
				continue
			}
			if bin >= statsBin {
				return nil, fmt.Errorf("%w: invalid bin %v", ErrInvalidIndex, bin)
			}
			chunks := make([]bgzf.Chunk, nChunk)
			for c := range chunks {
				chunks[c].Begin = bgzf.Offset(p.uint64())
				chunks[c].End = bgzf.Offset(p.uint64())
			}
			ref.bins[bin] = append(ref.bins[bin], chunks...)
			ref.populated.Set(uint(bin))
		}
		nIntv := p.count(8)
		if nIntv > 0 {
			ref.linear = make([]bgzf.Offset, nIntv)
			for w := range ref.linear {
				ref.linear[w] = bgzf.Offset(p.uint64())
			}
		}
		if p.err != nil {
			return nil, p.err
		}
		idx.refs[i] = ref
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.index+8 <= len(data) {
		idx.unplaced = p.uint64()
		idx.hasUnplaced = true
	}
	return idx, nil
}
