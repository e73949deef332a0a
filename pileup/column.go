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
	"log"

	"github.com/exascience/elbam/bam"
)

// A Column describes the reads covering one reference position.
//
// A Column and the Read views it hands out are borrowed from the
// Pileup that produced them, and are only valid until the next call of
// Pileup.Next. Using them afterwards panics.
type Column struct {
	pileup        *Pileup
	generation    uint64
	refID         int32
	pos           int32
	referenceBase byte
	entries       []element
	err           error
}

func (column *Column) check() {
	if column.pileup.generation != column.generation {
		log.Panic("pileup column used after the pileup moved on")
	}
}

// RefID returns the reference ID of the column.
func (column *Column) RefID() int {
	column.check()
	return int(column.refID)
}

// Position returns the 0-based reference position of the column.
func (column *Column) Position() int {
	column.check()
	return int(column.pos)
}

// ReferenceBase returns the reference base at the column, as
// reconstructed from MD tags, or 'N' if it is not known.
func (column *Column) ReferenceBase() byte {
	column.check()
	return column.referenceBase
}

// Coverage returns the number of reads covering the column, including
// reads with a deletion or skip at the column.
func (column *Column) Coverage() int {
	column.check()
	return len(column.entries)
}

// Reads returns views of the reads covering the column, in input order.
func (column *Column) Reads() []Read {
	column.check()
	reads := make([]Read, len(column.entries))
	for i := range reads {
		reads[i] = Read{column: column, index: i}
	}
	return reads
}

// Bases returns the read bases at the column, with '-' for reads that
// have a deletion or skip here.
func (column *Column) Bases() []byte {
	column.check()
	bases := make([]byte, len(column.entries))
	for i := range column.entries {
		bases[i] = column.entries[i].base()
	}
	return bases
}

// BaseQualities returns the base qualities at the column, with -1 for
// deletions, skips and reads without qualities.
func (column *Column) BaseQualities() []int {
	column.check()
	quals := make([]int, len(column.entries))
	for i := range column.entries {
		quals[i] = column.entries[i].quality()
	}
	return quals
}

// Err reports whether the MD tags of the reads disagree about the
// reference base at the column. Such a column is still usable.
func (column *Column) Err() error {
	column.check()
	return column.err
}

// A Read is a view of one read at a pileup column.
type Read struct {
	column *Column
	index  int
}

func (read Read) element() *element {
	read.column.check()
	return &read.column.entries[read.index]
}

// Record returns the underlying read.
func (read Read) Record() *bam.Record {
	return read.element().rec
}

// Base returns the read base at the column, or '-' on a deletion or
// skip.
func (read Read) Base() byte {
	return read.element().base()
}

// Quality returns the base quality at the column, or -1.
func (read Read) Quality() int {
	return read.element().quality()
}

// CigarOperation returns the CIGAR operation covering the column.
func (read Read) CigarOperation() bam.CigarOperation {
	return read.element().operation()
}

// CigarOperationOffset returns how many positions of the current CIGAR
// operation lie before the column.
func (read Read) CigarOperationOffset() int {
	return int(read.element().cigarOffset)
}

// QueryOffset returns the index of the current base in the read
// sequence. On a deletion or skip, it is the index of the last base
// before it, or -1 if there is none.
func (read Read) QueryOffset() int {
	return int(read.element().baseIndex)
}

// CigarBefore returns the CIGAR operations before the current one.
func (read Read) CigarBefore() []bam.CigarOperation {
	e := read.element()
	return e.rec.Cigar[:e.cigarIndex]
}

// CigarAfter returns the CIGAR operations after the current one.
func (read Read) CigarAfter() []bam.CigarOperation {
	e := read.element()
	return e.rec.Cigar[e.cigarIndex+1:]
}
