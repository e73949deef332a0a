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
	"fmt"
	"log"

	"github.com/exascience/elbam/utils/nibbles"
)

// Flag bits of a BAM record. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.4.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

// MissingMapQ is the mapping quality stored for an unavailable mapping quality.
const MissingMapQ = 255

// Reference is an entry in the reference sequence dictionary of a BAM file.
type Reference struct {
	ID     int
	Name   string
	Length int32
}

// Sequence is a read sequence in BAM's 4-bit encoding.
type Sequence nibbles.Nibbles

// NewSequence encodes a string of bases.
func NewSequence(bases string) Sequence {
	return Sequence(nibbles.FromBases(bases))
}

// Len returns the number of bases.
func (seq Sequence) Len() int {
	return nibbles.Nibbles(seq).Len()
}

// Base returns the base character at index i.
func (seq Sequence) Base(i int) byte {
	return nibbles.Nibbles(seq).Base(i)
}

// Bases returns the base characters of the sequence.
func (seq Sequence) Bases() []byte {
	return nibbles.Nibbles(seq).Bases()
}

// Equal reports whether both sequences hold the same bases.
func (seq Sequence) Equal(other Sequence) bool {
	return nibbles.Nibbles(seq).Equal(nibbles.Nibbles(other))
}

func (seq Sequence) String() string {
	return string(seq.Bases())
}

// Record is a BAM alignment record. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
//
// Positions are 0-based. RefID and MateRefID are -1 for unplaced
// reads. Qual holds Phred qualities without offset, parallel to Seq;
// a Qual of nil, or entries of 0xFF, denote absent qualities.
type Record struct {
	RefID     int32
	Pos       int32
	Name      string
	MapQ      byte
	Flag      uint16
	Cigar     []CigarOperation
	Seq       Sequence
	Qual      []byte
	MateRefID int32
	MatePos   int32
	TLen      int32
	Tags      Tags

	// tag bytes that follow a tag of unknown type, re-emitted verbatim
	opaque []byte
}

// NewRecord returns an unmapped, unplaced record without data.
func NewRecord() *Record {
	return &Record{
		RefID:     -1,
		Pos:       -1,
		MapQ:      MissingMapQ,
		Flag:      Unmapped,
		MateRefID: -1,
		MatePos:   -1,
	}
}

func (rec *Record) IsMultiple() bool      { return (rec.Flag & Multiple) != 0 }
func (rec *Record) IsProper() bool        { return (rec.Flag & Proper) != 0 }
func (rec *Record) IsUnmapped() bool      { return (rec.Flag & Unmapped) != 0 }
func (rec *Record) IsNextUnmapped() bool  { return (rec.Flag & NextUnmapped) != 0 }
func (rec *Record) IsReversed() bool      { return (rec.Flag & Reversed) != 0 }
func (rec *Record) IsNextReversed() bool  { return (rec.Flag & NextReversed) != 0 }
func (rec *Record) IsFirst() bool         { return (rec.Flag & First) != 0 }
func (rec *Record) IsLast() bool          { return (rec.Flag & Last) != 0 }
func (rec *Record) IsSecondary() bool     { return (rec.Flag & Secondary) != 0 }
func (rec *Record) IsQCFailed() bool      { return (rec.Flag & QCFailed) != 0 }
func (rec *Record) IsDuplicate() bool     { return (rec.Flag & Duplicate) != 0 }
func (rec *Record) IsSupplementary() bool { return (rec.Flag & Supplementary) != 0 }

func (rec *Record) FlagEvery(flag uint16) bool    { return (rec.Flag & flag) == flag }
func (rec *Record) FlagSome(flag uint16) bool     { return (rec.Flag & flag) != 0 }
func (rec *Record) FlagNotEvery(flag uint16) bool { return (rec.Flag & flag) != flag }
func (rec *Record) FlagNotAny(flag uint16) bool   { return (rec.Flag & flag) == 0 }

// SetFlagBits sets or clears the given flag bits.
func (rec *Record) SetFlagBits(flag uint16, on bool) {
	if on {
		rec.Flag |= flag
	} else {
		rec.Flag &^= flag
	}
}

// MappingQuality returns the mapping quality, or -1 if it is unavailable.
func (rec *Record) MappingQuality() int {
	if rec.MapQ == MissingMapQ {
		return -1
	}
	return int(rec.MapQ)
}

// Strand returns '-' for reverse-complemented reads, '+' otherwise.
func (rec *Record) Strand() byte {
	if rec.IsReversed() {
		return '-'
	}
	return '+'
}

// MateStrand returns the strand of the mate.
func (rec *Record) MateStrand() byte {
	if rec.IsNextReversed() {
		return '-'
	}
	return '+'
}

// SetSequence replaces the sequence, and resets all base qualities
// to absent.
func (rec *Record) SetSequence(bases string) {
	rec.Seq = NewSequence(bases)
	rec.Qual = make([]byte, len(bases))
	for i := range rec.Qual {
		rec.Qual[i] = 0xFF
	}
}

// SetQualities replaces the base qualities, which must be as many as
// there are bases.
func (rec *Record) SetQualities(qual []byte) error {
	if len(qual) != rec.Seq.Len() {
		return fmt.Errorf("%w: %v base qualities for %v bases", ErrInvalidRecord, len(qual), rec.Seq.Len())
	}
	rec.Qual = append(rec.Qual[:0], qual...)
	return nil
}

// BaseQuality returns the quality of the base at index i, or -1 if
// qualities are absent.
func (rec *Record) BaseQuality(i int) int {
	if i >= rec.Seq.Len() {
		log.Panic("base index out of range")
	}
	if len(rec.Qual) == 0 || rec.Qual[i] == 0xFF {
		return -1
	}
	return int(rec.Qual[i])
}
