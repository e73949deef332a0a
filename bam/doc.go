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

// Package bam reads, writes, and indexes BAM files.
//
// A Reader gives access to the header and the reference dictionary of
// a BAM file, iterates over all of its records, and fetches records
// overlapping a region through a BAI index. A Writer creates BAM files.
// Both delegate block compression to the parallel BGZF transport in
// package bgzf; the number of threads used for decompression and
// compression is a parameter of Open, Create, and NewWriter.
//
// Records are plain values. Decoding a record copies all of its data,
// so a Record stays valid independently of the Reader or Iterator that
// produced it.
//
// See http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4 for
// the BAM and BAI formats.
package bam
