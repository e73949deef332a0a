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

	"github.com/stretchr/testify/require"

	"github.com/exascience/elbam/internal"
	"github.com/exascience/elbam/utils/bgzf"
)

func readAll(t *testing.T, it *Iterator) []*Record {
	var records []*Record
	for it.Next() {
		records = append(records, it.Record())
	}
	require.NoError(t, it.Err())
	return records
}

func TestWriteAndRead(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	records := sortedRecords(rnd, 3000)
	for _, level := range []int{0, 1, 6} {
		filename := filepath.Join(t.TempDir(), "test.bam")
		writeBAM(t, filename, records, level, 4)
		for _, threads := range []int{1, 4} {
			reader, err := Open(filename, threads)
			require.NoError(t, err)
			require.Equal(t, testHeaderText, reader.Header().Text)
			require.Equal(t, testRefs, reader.References())
			require.False(t, reader.HasIndex())
			ref, ok := reader.Reference("chr2")
			require.True(t, ok)
			require.Equal(t, 1, ref.ID)
			_, ok = reader.Reference("chr3")
			require.False(t, ok)
			name, err := reader.ReferenceName(-1)
			require.NoError(t, err)
			require.Equal(t, "*", name)
			_, err = reader.ReferenceName(3)
			require.ErrorIs(t, err, ErrUnknownReference)

			result := readAll(t, reader.AllReads())
			require.Len(t, result, len(records))
			for i := range records {
				requireSameRecord(t, records[i], result[i])
			}
			require.NoError(t, reader.Close())
			require.NoError(t, reader.Close())
		}
	}
}

func TestSingleUnmappedRecord(t *testing.T) {
	rec := NewRecord()
	rec.Name = "lonely"
	reader, err := Open(tempBAM(t, []*Record{rec}), 1)
	require.NoError(t, err)
	defer reader.Close()
	it := reader.AllReads()
	require.True(t, it.Next())
	requireSameRecord(t, rec, it.Record())
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestSetTagThroughFile(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	records := sortedRecords(rnd, 200)
	reader, err := Open(tempBAM(t, records), 2)
	require.NoError(t, err)
	original := readAll(t, reader.AllReads())
	require.NoError(t, reader.Close())

	reader, err = Open(tempBAM(t, records), 2)
	require.NoError(t, err)
	mutated := readAll(t, reader.AllReads())
	require.NoError(t, reader.Close())
	for i, rec := range mutated {
		require.NoError(t, rec.SetTag("XN", i))
		require.NoError(t, rec.SetTag("NM", "replaced"))
		require.NoError(t, rec.SetTag("RG", nil))
	}

	reader, err = Open(tempBAM(t, mutated), 2)
	require.NoError(t, err)
	defer reader.Close()
	result := readAll(t, reader.AllReads())
	require.Len(t, result, len(original))
	for i, rec := range result {
		xn, err := rec.Tag("XN")
		require.NoError(t, err)
		expected, err := smallestInteger(int64(i))
		require.NoError(t, err)
		require.Equal(t, expected, xn)
		nm, err := rec.Tag("NM")
		require.NoError(t, err)
		require.Equal(t, "replaced", nm)
		rg, err := rec.Tag("RG")
		require.NoError(t, err)
		require.Nil(t, rg)

		for _, name := range []string{"XN", "NM", "RG"} {
			require.NoError(t, rec.SetTag(name, nil))
			require.NoError(t, original[i].SetTag(name, nil))
		}
		requireSameRecord(t, original[i], rec)
	}
}

func TestRecordOffsets(t *testing.T) {
	rnd := rand.New(rand.NewSource(8))
	records := sortedRecords(rnd, 2000)
	filename := filepath.Join(t.TempDir(), "offsets.bam")
	w, err := Create(filename, 1, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences(testRefs))
	var offsets []bgzf.Offset
	for i, rec := range records {
		if i%500 == 0 {
			require.NoError(t, w.Flush())
		}
		offset, err := w.Offset()
		require.NoError(t, err)
		offsets = append(offsets, offset)
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Close())

	reader, err := Open(filename, 2)
	require.NoError(t, err)
	defer reader.Close()
	it := reader.AllReads()
	var previous bgzf.Chunk
	for i := 0; it.Next(); i++ {
		require.Equal(t, offsets[i], it.Offset(), "record %v", i)
		if i > 0 {
			require.Equal(t, previous.End, it.Chunk().Begin)
		}
		previous = it.Chunk()
	}
	require.NoError(t, it.Err())
}

func TestWriterStates(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, -1, 1)
	require.NoError(t, err)
	require.ErrorIs(t, w.WriteRecord(NewRecord()), ErrWriterNotInitialized)
	require.ErrorIs(t, w.WriteReferences(testRefs), ErrWriterNotInitialized)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.ErrorIs(t, w.WriteHeader(testHeaderText), ErrWriterNotInitialized)
	require.ErrorIs(t, w.WriteRecord(NewRecord()), ErrWriterNotInitialized)
	require.NoError(t, w.WriteReferences(testRefs))
	require.ErrorIs(t, w.WriteReferences(testRefs), ErrWriterNotInitialized)

	rec := NewRecord()
	rec.RefID = 3
	require.ErrorIs(t, w.WriteRecord(rec), ErrInvalidRecord)
	rec.RefID, rec.MateRefID = 0, 3
	require.ErrorIs(t, w.WriteRecord(rec), ErrInvalidRecord)
	require.NoError(t, w.WriteRecord(NewRecord()))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.WriteRecord(NewRecord()), ErrTransportClosed)

	_, err = NewWriter(&buf, 10, 1)
	require.Error(t, err)
}

func TestUnclosedWriter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "unclosed.bam")
	w, err := Create(filename, 6, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences(testRefs))
	require.NoError(t, w.Flush())
	_, err = Open(filename, 1)
	require.ErrorIs(t, err, bgzf.ErrMissingEOF)
	require.NoError(t, w.Close())
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	require.Empty(t, readAll(t, reader.AllReads()))
	require.NoError(t, reader.Close())
}

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "test.bam")
	writeBAM(t, filename, sortedRecords(rand.New(rand.NewSource(9)), 100), 6, 1)
	data, err := os.ReadFile(filename)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.bam")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-28], 0666))
	_, err = Open(truncated, 1)
	require.ErrorIs(t, err, bgzf.ErrMissingEOF)

	empty := filepath.Join(dir, "empty.bam")
	require.NoError(t, os.WriteFile(empty, nil, 0666))
	_, err = Open(empty, 1)
	require.Error(t, err)

	var buf bytes.Buffer
	bw, err := bgzf.NewWriter(&buf, 6, 1)
	require.NoError(t, err)
	_, err = bw.Write([]byte("SAM\x01 is not BAM"))
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	notBAM := filepath.Join(dir, "not.bam")
	require.NoError(t, os.WriteFile(notBAM, buf.Bytes(), 0666))
	_, err = Open(notBAM, 1)
	require.ErrorIs(t, err, ErrInvalidHeader)

	_, err = Open(filepath.Join(dir, "missing.bam"), 1)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestIteratorInvalidation(t *testing.T) {
	filename := tempBAM(t, sortedRecords(rand.New(rand.NewSource(10)), 200))
	reader, err := Open(filename, 2)
	require.NoError(t, err)

	first := reader.AllReads()
	require.True(t, first.Next())
	second := reader.AllReads()
	require.False(t, first.Next())
	require.ErrorIs(t, first.Err(), ErrIteratorInvalidated)
	require.Nil(t, first.Record())
	require.Len(t, readAll(t, second), 205)

	third := reader.AllReads()
	require.True(t, third.Next())
	require.NoError(t, reader.Close())
	require.False(t, third.Next())
	require.ErrorIs(t, third.Err(), ErrTransportClosed)

	closed := reader.AllReads()
	require.False(t, closed.Next())
	require.ErrorIs(t, closed.Err(), ErrTransportClosed)
	_, err = reader.Fetch("chr1", 0, 100)
	require.ErrorIs(t, err, ErrTransportClosed)
	require.ErrorIs(t, reader.CreateIndex(false), ErrTransportClosed)
}

func TestCorruptRecordInFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 6, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences(testRefs))
	rec := NewRecord()
	rec.Name = "good"
	require.NoError(t, w.WriteRecord(rec))
	require.NoError(t, w.Close())
	raw, err := bgzf.NewWriter(&buf, 6, 1)
	require.NoError(t, err)
	_, err = raw.Write([]byte{8, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	filename := filepath.Join(dir, "corrupt.bam")
	require.NoError(t, os.WriteFile(filename, buf.Bytes(), 0666))
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	it := reader.AllReads()
	require.True(t, it.Next())
	require.Equal(t, "good", it.Record().Name)
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrCorruptRecord)
	require.False(t, it.Next())
}

func TestOversizedRecordLength(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 6, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences(testRefs))
	require.NoError(t, w.Close())
	raw, err := bgzf.NewWriter(&buf, 6, 1)
	require.NoError(t, err)
	_, err = raw.Write([]byte{0xff, 0xff, 0xff, 0x7f, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	filename := filepath.Join(t.TempDir(), "oversized.bam")
	require.NoError(t, os.WriteFile(filename, buf.Bytes(), 0666))
	reader, err := Open(filename, 1)
	require.NoError(t, err)
	defer reader.Close()
	it := reader.AllReads()
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrCorruptRecord)
}

func TestIndexFileNames(t *testing.T) {
	require.Equal(t, "x.bam.bai", internal.IndexFilename("x.bam"))
}
