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

package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exascience/elbam/bam"
)

const testHeaderText = "@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chr1\tLN:1000\n"

func testBAM(t *testing.T) string {
	r1 := bam.NewRecord()
	r1.Name, r1.Flag, r1.RefID, r1.Pos, r1.MapQ = "r1", 0, 0, 9, 60
	require.NoError(t, r1.SetCigar("4M"))
	r1.SetSequence("ACGT")
	require.NoError(t, r1.SetQualities([]byte{30, 30, 30, 30}))
	require.NoError(t, r1.SetTag("MD", "4"))

	r2 := bam.NewRecord()
	r2.Name, r2.Flag, r2.RefID, r2.Pos, r2.MapQ = "r2", 0, 0, 11, 5
	require.NoError(t, r2.SetCigar("2M"))
	r2.SetSequence("GA")
	require.NoError(t, r2.SetTag("MD", "1T0"))

	unplaced := bam.NewRecord()
	unplaced.Name = "r3"

	filename := filepath.Join(t.TempDir(), "test.bam")
	w, err := bam.Create(filename, 6, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testHeaderText))
	require.NoError(t, w.WriteReferences([]bam.Reference{{ID: 0, Name: "chr1", Length: 1000}}))
	for _, rec := range []*bam.Record{r1, r2, unplaced} {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Close())
	return filename
}

func run(t *testing.T, args ...string) (string, error) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--nr-of-threads", "2"))
	err := root.Execute()
	return out.String(), err
}

func TestView(t *testing.T) {
	filename := testBAM(t)
	out, err := run(t, "view", filename, "--count")
	require.NoError(t, err)
	require.Equal(t, "3\n", out)

	out, err = run(t, "view", filename, "--header", "--filter-unmapped-reads")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "@SQ\tSN:chr1\tLN:1000", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "r1\t0\tchr1\t10\t60\t4M\t*\t0\t0\tACGT\t????\tMD:Z:4"))
	require.True(t, strings.HasPrefix(lines[3], "r2\t0\tchr1\t12\t5\t2M\t"))

	_, err = run(t, "view", filename, "chr1:12-12")
	require.ErrorIs(t, err, bam.ErrNoIndex)

	_, err = run(t, "index", filename)
	require.NoError(t, err)
	out, err = run(t, "view", filename, "chr1:12-12", "--count")
	require.NoError(t, err)
	require.Equal(t, "2\n", out)
	out, err = run(t, "view", filename, "chr1:12-12", "chr1:1-5", "--count", "--min-mapq", "10")
	require.NoError(t, err)
	require.Equal(t, "1\n", out)

	_, err = run(t, "view", filename, "chr1:0-10")
	require.ErrorIs(t, err, bam.ErrInvalidRegion)
	_, err = run(t, "view", filename, "chr7:1-10")
	require.ErrorIs(t, err, bam.ErrUnknownReference)
}

func TestViewOutput(t *testing.T) {
	filename := testBAM(t)
	output := filepath.Join(t.TempDir(), "out.bam")
	out, err := run(t, "view", filename, "--output", output, "--min-mapq", "10", "--remove-optional-fields", "MD")
	require.NoError(t, err)
	require.Empty(t, out)

	reader, err := bam.Open(output, 1)
	require.NoError(t, err)
	defer reader.Close()
	require.Equal(t, testHeaderText, reader.Header().Text)
	it := reader.AllReads()
	require.True(t, it.Next())
	require.Equal(t, "r1", it.Record().Name)
	require.Empty(t, it.Record().Tags)
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestPileup(t *testing.T) {
	filename := testBAM(t)
	out, err := run(t, "pileup", filename, "--use-md")
	require.NoError(t, err)
	require.Equal(t, "chr1\t10\tA\t1\tA\t?\n"+
		"chr1\t11\tC\t1\tC\t?\n"+
		"chr1\t12\tG\t2\tGG\t?*\n"+
		"chr1\t13\tT\t2\tTA\t?*\n", out)

	out, err = run(t, "pileup", filename, "--min-mapq", "10")
	require.NoError(t, err)
	require.Equal(t, "chr1\t10\tN\t1\tA\t?\n"+
		"chr1\t11\tN\t1\tC\t?\n"+
		"chr1\t12\tN\t1\tG\t?\n"+
		"chr1\t13\tN\t1\tT\t?\n", out)

	_, err = run(t, "index", filename)
	require.NoError(t, err)
	out, err = run(t, "pileup", filename, "chr1:12-12", "--use-md")
	require.NoError(t, err)
	require.Equal(t, "chr1\t12\tG\t2\tGG\t?*\n", out)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "elbam version")
	_, err = run(t, "index")
	require.Error(t, err)
}
