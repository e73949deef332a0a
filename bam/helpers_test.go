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
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

var testRefs = []Reference{
	{ID: 0, Name: "chr1", Length: 2000000},
	{ID: 1, Name: "chr2", Length: 500000},
	{ID: 2, Name: "chrM", Length: 16569},
}

const testHeaderText = "@HD\tVN:1.6\tSO:coordinate\n" +
	"@SQ\tSN:chr1\tLN:2000000\n" +
	"@SQ\tSN:chr2\tLN:500000\n" +
	"@SQ\tSN:chrM\tLN:16569\n" +
	"@RG\tID:rg1\tSM:sample\n"

func randomBases(rnd *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGTN"[rnd.Intn(5)]
	}
	return string(b)
}

func randomCigar(rnd *rand.Rand) []CigarOperation {
	var cigar []CigarOperation
	if rnd.Intn(4) == 0 {
		cigar = append(cigar, CigarOperation{int32(1 + rnd.Intn(10)), 'S'})
	}
	cigar = append(cigar, CigarOperation{int32(1 + rnd.Intn(60)), 'M'})
	for k := rnd.Intn(4); k > 0; k-- {
		cigar = append(cigar, CigarOperation{int32(1 + rnd.Intn(5)), "IDNX="[rnd.Intn(5)]})
		cigar = append(cigar, CigarOperation{int32(1 + rnd.Intn(40)), 'M'})
	}
	if rnd.Intn(4) == 0 {
		cigar = append(cigar, CigarOperation{int32(1 + rnd.Intn(10)), 'S'})
	}
	return cigar
}

func randomTags(rnd *rand.Rand, rec *Record) {
	_ = rec.SetTag("NM", rnd.Intn(10))
	if rnd.Intn(2) == 0 {
		_ = rec.SetTag("RG", "rg1")
	}
	candidates := []interface{}{
		Char('a' + byte(rnd.Intn(26))),
		int8(-rnd.Intn(100)),
		uint8(rnd.Intn(256)),
		int16(-rnd.Intn(30000)),
		uint16(rnd.Intn(65536)),
		int32(-rnd.Intn(1 << 30)),
		uint32(rnd.Uint32()),
		float32(rnd.Intn(1000)) / 8,
		fmt.Sprintf("value%d", rnd.Intn(1000)),
		Hex{byte(rnd.Intn(256)), 0x1a, 0xff},
		[]int8{-1, 2, int8(rnd.Intn(100))},
		[]uint8{1, 2, 3},
		[]int16{-300, int16(rnd.Intn(300))},
		[]uint16{60000},
		[]int32{int32(rnd.Intn(1 << 20)), -5},
		[]uint32{1 << 31},
		[]float32{0.5, -1.25},
	}
	for i, value := range candidates {
		if rnd.Intn(3) == 0 {
			_ = rec.SetTag(fmt.Sprintf("X%c", 'A'+i), value)
		}
	}
}

// randomRecord returns a mapped record at the given position.
func randomRecord(rnd *rand.Rand, name string, refID, pos int32) *Record {
	rec := NewRecord()
	rec.Name = name
	rec.RefID, rec.Pos = refID, pos
	rec.Flag = 0
	rec.SetFlagBits(Reversed, rnd.Intn(2) == 0)
	rec.MapQ = byte(rnd.Intn(61))
	rec.Cigar = randomCigar(rnd)
	rec.SetSequence(randomBases(rnd, QueryLength(rec.Cigar)))
	for i := range rec.Qual {
		rec.Qual[i] = byte(rnd.Intn(42))
	}
	if rnd.Intn(2) == 0 {
		rec.SetFlagBits(Multiple, true)
		rec.MateRefID = refID
		rec.MatePos = pos + int32(rnd.Intn(500))
		rec.TLen = rec.MatePos - pos + 100
	}
	randomTags(rnd, rec)
	return rec
}

// sortedRecords returns coordinate-sorted records over testRefs,
// followed by some unplaced reads.
func sortedRecords(rnd *rand.Rand, n int) []*Record {
	var records []*Record
	for i := 0; i < n; i++ {
		refID := rnd.Intn(len(testRefs))
		limit := int(testRefs[refID].Length) - 2000
		if rnd.Intn(2) == 0 {
			limit = 600000
			if limit > int(testRefs[refID].Length)-2000 {
				limit = int(testRefs[refID].Length) - 2000
			}
		}
		rec := randomRecord(rnd, fmt.Sprintf("r%06d", i), int32(refID), int32(rnd.Intn(limit)))
		if rnd.Intn(50) == 0 {
			rec.SetFlagBits(Unmapped, true)
			rec.Cigar = nil
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RefID != records[j].RefID {
			return records[i].RefID < records[j].RefID
		}
		return records[i].Pos < records[j].Pos
	})
	for i := 0; i < 5; i++ {
		rec := NewRecord()
		rec.Name = fmt.Sprintf("unplaced%d", i)
		rec.SetSequence(randomBases(rnd, 20))
		randomTags(rnd, rec)
		records = append(records, rec)
	}
	return records
}

func writeBAM(t *testing.T, filename string, records []*Record, level, threads int) {
	w, err := Create(filename, level, threads)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences(testRefs))
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Close())
}

func tempBAM(t *testing.T, records []*Record) string {
	filename := filepath.Join(t.TempDir(), "test.bam")
	writeBAM(t, filename, records, 6, 3)
	return filename
}

func encoded(t *testing.T, rec *Record) []byte {
	out, err := rec.Encode(nil)
	require.NoError(t, err)
	return out
}

func requireSameRecord(t *testing.T, expected, actual *Record) {
	require.Equal(t, expected.Name, actual.Name)
	require.Equal(t, expected.RefID, actual.RefID)
	require.Equal(t, expected.Pos, actual.Pos)
	require.Equal(t, expected.Flag, actual.Flag)
	require.Equal(t, expected.MapQ, actual.MapQ)
	require.Equal(t, CigarString(expected.Cigar), CigarString(actual.Cigar))
	require.True(t, expected.Seq.Equal(actual.Seq), "sequence of %v", expected.Name)
	require.True(t, bytes.Equal(expected.Qual, actual.Qual), "qualities of %v", expected.Name)
	require.Equal(t, expected.MateRefID, actual.MateRefID)
	require.Equal(t, expected.MatePos, actual.MatePos)
	require.Equal(t, expected.TLen, actual.TLen)
	require.Equal(t, expected.Tags, actual.Tags)
}
