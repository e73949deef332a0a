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

// An element tracks where one read stands in the current column:
// the index of the last query base consumed, the CIGAR operation that
// covers the column, and the offset within that operation.
type element struct {
	rec         *bam.Record
	baseIndex   int32
	cigarIndex  int32
	cigarOffset int32
	refBases    []byte // reconstructed from MD, nil if unavailable
}

func newElement(rec *bam.Record) (*element, bool) {
	e := &element{
		rec:        rec,
		baseIndex:  -1,
		cigarIndex: -1,
	}
	return e, e.nextCigarOperation()
}

func (e *element) operation() bam.CigarOperation {
	return e.rec.Cigar[e.cigarIndex]
}

func onBase(operation byte) bool {
	switch operation {
	case 'M', '=', 'X':
		return true
	default:
		return false
	}
}

// nextCigarOperation moves to the first column of the next CIGAR
// operation that consumes reference bases. Clips, paddings and
// insertions never occupy a column.
func (e *element) nextCigarOperation() bool {
	cigar := e.rec.Cigar
	for e.cigarIndex++; int(e.cigarIndex) < len(cigar); e.cigarIndex++ {
		op := cigar[e.cigarIndex]
		if op.Length == 0 {
			continue
		}
		switch op.Operation {
		case 'H', 'P':
		case 'I', 'S':
			e.baseIndex += op.Length
		case 'D', 'N':
			e.cigarOffset = 0
			return true
		case 'M', '=', 'X':
			e.baseIndex++
			e.cigarOffset = 0
			return true
		default:
			log.Panicf("invalid CIGAR operation %c in read %v", op.Operation, e.rec.Name)
		}
	}
	return false
}

// next advances the element by one reference position and reports
// whether the read still covers it.
func (e *element) next() bool {
	op := e.operation()
	if e.cigarOffset++; e.cigarOffset < op.Length {
		if onBase(op.Operation) {
			e.baseIndex++
		}
		return true
	}
	return e.nextCigarOperation()
}

func (e *element) base() byte {
	if !onBase(e.operation().Operation) {
		return '-'
	}
	if int(e.baseIndex) >= e.rec.Seq.Len() {
		return 'N'
	}
	return e.rec.Seq.Base(int(e.baseIndex))
}

func (e *element) quality() int {
	if !onBase(e.operation().Operation) || int(e.baseIndex) >= e.rec.Seq.Len() {
		return -1
	}
	return e.rec.BaseQuality(int(e.baseIndex))
}

// referenceBase returns the reference base at pos as known from the
// read's MD tag, or 0.
func (e *element) referenceBase(pos int32) byte {
	offset := pos - e.rec.Pos
	if offset < 0 || int(offset) >= len(e.refBases) {
		return 0
	}
	switch b := e.refBases[offset]; b {
	case 0, '=', 'N', 'n':
		return 0
	default:
		return b
	}
}
