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
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	hbam "github.com/biogo/hts/bam"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elbam/internal"
	"github.com/exascience/elbam/utils/bgzf"
)

func TestReg2Bin(t *testing.T) {
	require.Equal(t, 4681, Reg2Bin(0, 1))
	require.Equal(t, 4681, Reg2Bin(0, 1<<14))
	require.Equal(t, 585, Reg2Bin(0, 1<<14+1))
	require.Equal(t, 4682, Reg2Bin(1<<14, 1<<15))
	require.Equal(t, 0, Reg2Bin(0, MaxCoordinate))
	require.Equal(t, 4680, Reg2Bin(-1, 0))
	require.Equal(t, []int{0, 1, 9, 73, 585, 4681}, Reg2Bins(0, 1))
	require.Equal(t, []int{0, 1, 9, 73, 585, 4681, 4682}, Reg2Bins(100, 1<<14+1))
}

func TestReg2BinsCoversOverlaps(t *testing.T) {
	properties := gopter.NewProperties(nil)
	contains := func(bins []int, bin int) bool {
		for _, b := range bins {
			if b == bin {
				return true
			}
		}
		return false
	}
	properties.Property("the bin of an overlapping region is a candidate", prop.ForAll(
		func(start, length, offset, span int) bool {
			end := start + length
			recStart := start + offset - span/2
			if recStart < 0 {
				recStart = 0
			}
			recEnd := recStart + span
			if recEnd <= start || recStart >= end || recEnd > MaxCoordinate {
				return true
			}
			return contains(Reg2Bins(start, end), Reg2Bin(recStart, recEnd))
		},
		gen.IntRange(0, MaxCoordinate-(1<<20)),
		gen.IntRange(1, 1<<20),
		gen.IntRange(0, 1<<20),
		gen.IntRange(1, 1<<18),
	))
	properties.TestingRun(t)
}

func indexedBAM(t *testing.T, seed int64, n int) (string, []*Record) {
	records := sortedRecords(rand.New(rand.NewSource(seed)), n)
	filename := tempBAM(t, records)
	reader, err := Open(filename, 2)
	require.NoError(t, err)
	require.NoError(t, reader.CreateIndex(false))
	require.True(t, reader.HasIndex())
	require.NoError(t, reader.Close())
	return filename, records
}

func overlapping(records []*Record, refID, start, end int) []string {
	var names []string
	for _, rec := range records {
		if int(rec.RefID) == refID && int(rec.Pos) < end && int(rec.End()) > start {
			names = append(names, rec.Name)
		}
	}
	return names
}

func names(t *testing.T, it *Iterator) []string {
	var result []string
	for _, rec := range readAll(t, it) {
		result = append(result, rec.Name)
	}
	return result
}

func TestFetchMatchesScan(t *testing.T) {
	filename, records := indexedBAM(t, 11, 5000)
	reader, err := Open(filename, 3)
	require.NoError(t, err)
	defer reader.Close()
	require.True(t, reader.HasIndex())

	rnd := rand.New(rand.NewSource(12))
	for i := 0; i < 300; i++ {
		ref := testRefs[rnd.Intn(len(testRefs))]
		start := rnd.Intn(int(ref.Length))
		end := start + 1 + rnd.Intn(1<<(4+rnd.Intn(16)))
		it, err := reader.Fetch(ref.Name, start, end)
		require.NoError(t, err)
		require.Equal(t, overlapping(records, ref.ID, start, end), names(t, it), "%v:%v-%v", ref.Name, start, end)
	}

	it, err := reader.FetchRegion(Region{"chr2", 0, MaxCoordinate})
	require.NoError(t, err)
	require.Equal(t, overlapping(records, 1, 0, MaxCoordinate), names(t, it))

	it, err = reader.Fetch("chr1", 100, 100)
	require.NoError(t, err)
	require.Empty(t, names(t, it))

	_, err = reader.Fetch("chr9", 0, 100)
	require.ErrorIs(t, err, ErrUnknownReference)
	_, err = reader.FetchID(3, 0, 100)
	require.ErrorIs(t, err, ErrUnknownReference)
}

func TestFetchRequiresIndex(t *testing.T) {
	filename := tempBAM(t, sortedRecords(rand.New(rand.NewSource(13)), 100))
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	_, err = reader.Fetch("chr1", 0, 100)
	require.ErrorIs(t, err, ErrNoIndex)

	require.NoError(t, os.WriteFile(internal.IndexFilename(filename), []byte("BAI\x01garbage"), 0666))
	ignored, err := Open(filename, 1)
	require.NoError(t, err)
	require.False(t, ignored.HasIndex())
	require.NoError(t, ignored.Close())
}

func TestCreateIndex(t *testing.T) {
	filename, _ := indexedBAM(t, 14, 1000)
	indexFilename := internal.IndexFilename(filename)
	original, err := os.ReadFile(indexFilename)
	require.NoError(t, err)

	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	require.True(t, reader.HasIndex())

	require.NoError(t, os.WriteFile(indexFilename, []byte("kept"), 0666))
	require.NoError(t, reader.CreateIndex(false))
	kept, err := os.ReadFile(indexFilename)
	require.NoError(t, err)
	require.Equal(t, "kept", string(kept))

	require.NoError(t, reader.CreateIndex(true))
	rebuilt, err := os.ReadFile(indexFilename)
	require.NoError(t, err)
	require.Equal(t, original, rebuilt)

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestIndexRoundTrip(t *testing.T) {
	filename, records := indexedBAM(t, 15, 2000)
	data, err := os.ReadFile(internal.IndexFilename(filename))
	require.NoError(t, err)
	require.Equal(t, "BAI\x01", string(data[:4]))

	idx, err := ReadIndex(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, len(testRefs), idx.NumReferences())
	var buf bytes.Buffer
	n, err := idx.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, data, buf.Bytes())

	unplaced, ok := idx.Unplaced()
	require.True(t, ok)
	require.Equal(t, uint64(5), unplaced)
	for _, ref := range testRefs {
		var mapped, unmapped uint64
		for _, rec := range records {
			if int(rec.RefID) == ref.ID {
				if rec.IsUnmapped() {
					unmapped++
				} else {
					mapped++
				}
			}
		}
		stats, ok := idx.Stats(ref.ID)
		require.True(t, ok)
		require.Equal(t, mapped, stats.Mapped)
		require.Equal(t, unmapped, stats.Unmapped)
		require.True(t, stats.Chunk.Begin < stats.Chunk.End)
	}
	_, ok = idx.Stats(7)
	require.False(t, ok)

	withoutUnplaced, err := ReadIndex(bytes.NewReader(data[:len(data)-8]))
	require.NoError(t, err)
	_, ok = withoutUnplaced.Unplaced()
	require.False(t, ok)

	for _, bad := range [][]byte{nil, []byte("BAM\x01"), data[:len(data)/2], data[:9]} {
		_, err := ReadIndex(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrInvalidIndex)
	}
}

func TestQueryChunks(t *testing.T) {
	filename, _ := indexedBAM(t, 16, 3000)
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	idx := reader.Index()
	for _, ref := range testRefs {
		chunks := idx.Query(ref.ID, 0, int(ref.Length))
		require.NotEmpty(t, chunks)
		for i := 1; i < len(chunks); i++ {
			require.True(t, chunks[i-1].End < chunks[i].Begin)
		}
	}
	require.Nil(t, idx.Query(0, 500, 100))
	require.Nil(t, idx.Query(-1, 0, 100))
	require.Nil(t, idx.Query(3, 0, 100))
}

func TestBuildIndexRejectsUnsorted(t *testing.T) {
	rnd := rand.New(rand.NewSource(17))
	records := sortedRecords(rnd, 100)
	records[0], records[99] = records[99], records[0]
	filename := tempBAM(t, records)
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	require.ErrorIs(t, reader.CreateIndex(false), ErrUnsorted)
	require.False(t, reader.HasIndex())
	exists, err := internal.FileExists(internal.IndexFilename(filename))
	require.NoError(t, err)
	require.False(t, exists)

	unplacedFirst := append([]*Record{NewRecord()}, sortedRecords(rnd, 10)...)
	reader2, err := Open(tempBAM(t, unplacedFirst), 1)
	require.NoError(t, err)
	defer reader2.Close()
	require.ErrorIs(t, reader2.CreateIndex(false), ErrUnsorted)
}

// The index must be usable by other BAI readers: every record that
// overlaps a region must lie in one of the chunks they compute.
func TestIndexInterop(t *testing.T) {
	filename, records := indexedBAM(t, 18, 3000)
	f, err := os.Open(internal.IndexFilename(filename))
	require.NoError(t, err)
	defer f.Close()
	hidx, err := hbam.ReadIndex(f)
	require.NoError(t, err)
	require.Equal(t, len(testRefs), hidx.NumRefs())
	unplaced, ok := hidx.Unmapped()
	require.True(t, ok)
	require.Equal(t, uint64(5), unplaced)

	bamFile, err := os.Open(filename)
	require.NoError(t, err)
	defer bamFile.Close()
	hreader, err := hbam.NewReader(bamFile, 1)
	require.NoError(t, err)
	defer hreader.Close()
	hrefs := hreader.Header().Refs()
	require.Len(t, hrefs, len(testRefs))

	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	offsets := make(map[string]bgzf.Offset)
	it := reader.AllReads()
	for it.Next() {
		offsets[it.Record().Name] = it.Offset()
	}
	require.NoError(t, it.Err())

	rnd := rand.New(rand.NewSource(19))
	for i := 0; i < 100; i++ {
		refID := rnd.Intn(len(testRefs))
		start := rnd.Intn(int(testRefs[refID].Length))
		end := min(start+1+rnd.Intn(100000), int(testRefs[refID].Length))
		expected := overlapping(records, refID, start, end)
		if len(expected) == 0 {
			continue
		}
		chunks, err := hidx.Chunks(hrefs[refID], start, end)
		require.NoError(t, err)
		for _, name := range expected {
			offset := offsets[name]
			found := false
			for _, chunk := range chunks {
				begin := bgzf.MakeOffset(chunk.Begin.File, chunk.Begin.Block)
				end := bgzf.MakeOffset(chunk.End.File, chunk.End.Block)
				if begin <= offset && offset < end {
					found = true
					break
				}
			}
			require.True(t, found, "record %v not in any chunk", name)
		}
	}
}
