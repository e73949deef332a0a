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

package pileup

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exascience/elbam/bam"
)

// alignedRead returns a read at pos with mismatches and deletions
// against reference, and a matching MD tag.
func alignedRead(t *testing.T, rnd *rand.Rand, reference []byte, name string, pos int) *bam.Record {
	var cigar []bam.CigarOperation
	var seq, md []byte
	matches := 0
	flush := func() {
		md = strconv.AppendInt(md, int64(matches), 10)
		matches = 0
	}
	refPos := pos
	for i := 1 + rnd.Intn(3); i > 0; i-- {
		if len(cigar) > 0 && rnd.Intn(2) == 0 {
			n := 1 + rnd.Intn(3)
			cigar = append(cigar, bam.CigarOperation{Length: int32(n), Operation: 'D'})
			flush()
			md = append(md, '^')
			md = append(md, reference[refPos:refPos+n]...)
			refPos += n
		}
		n := 5 + rnd.Intn(40)
		cigar = append(cigar, bam.CigarOperation{Length: int32(n), Operation: 'M'})
		for k := 0; k < n; k++ {
			b := reference[refPos]
			if rnd.Intn(10) == 0 {
				flush()
				md = append(md, b)
				b = "ACGT"[(baseCodes[b]+1+rnd.Intn(3))%4]
			} else {
				matches++
			}
			seq = append(seq, b)
			refPos++
		}
	}
	flush()
	rec := bam.NewRecord()
	rec.Name = name
	rec.Flag = 0
	rec.RefID = 0
	rec.Pos = int32(pos)
	rec.MapQ = byte(rnd.Intn(61))
	rec.Cigar = cigar
	rec.SetSequence(string(seq))
	require.NoError(t, rec.SetTag("MD", string(md)))
	return rec
}

var baseCodes = map[byte]int{'A': 0, 'C': 1, 'G': 2, 'T': 3}

type observed struct {
	base     byte
	coverage int
}

func pileupRegion(t *testing.T, filename string, start, end int) map[int]observed {
	reader, err := bam.Open(filename, 2)
	require.NoError(t, err)
	defer reader.Close()
	it, err := reader.Fetch("chr1", start, end)
	require.NoError(t, err)
	src := Filter(it, func(rec *bam.Record) bool { return rec.MappingQuality() > 10 })
	p := New(src, true, false)
	result := make(map[int]observed)
	for p.Next() {
		column := p.Column()
		require.NoError(t, column.Err())
		if column.Position() >= start && column.Position() < end {
			result[column.Position()] = observed{column.ReferenceBase(), column.Coverage()}
		}
	}
	require.NoError(t, p.Err())
	return result
}

func TestPileupOfIndexedFile(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	reference := make([]byte, 1000000)
	for i := range reference {
		reference[i] = "ACGT"[rnd.Intn(4)]
	}
	positions := make([]int, 400)
	for i := range positions {
		positions[i] = 499800 + rnd.Intn(500)
	}
	sort.Ints(positions)
	records := make([]*bam.Record, len(positions))
	for i, pos := range positions {
		records[i] = alignedRead(t, rnd, reference, fmt.Sprintf("read%d", i), pos)
	}

	filename := filepath.Join(t.TempDir(), "pileup.bam")
	w, err := bam.Create(filename, 6, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader("@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chr1\tLN:1000000\n"))
	require.NoError(t, w.WriteReferences([]bam.Reference{{ID: 0, Name: "chr1", Length: 1000000}}))
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Close())

	reader, err := bam.Open(filename, 1)
	require.NoError(t, err)
	require.NoError(t, reader.CreateIndex(false))
	require.NoError(t, reader.Close())

	const start, end = 500000, 500100
	first := pileupRegion(t, filename, start, end)
	require.Equal(t, first, pileupRegion(t, filename, start, end))
	for pos := start; pos < end; pos++ {
		coverage := 0
		for _, rec := range records {
			if rec.MappingQuality() > 10 && int(rec.Pos) <= pos && pos < int(rec.End()) {
				coverage++
			}
		}
		column, ok := first[pos]
		if coverage == 0 {
			require.True(t, !ok || column.coverage == 0, "position %v", pos)
			continue
		}
		require.True(t, ok, "position %v", pos)
		require.Equal(t, coverage, column.coverage, "position %v", pos)
		require.Equal(t, reference[pos], column.base, "position %v", pos)
	}
}
