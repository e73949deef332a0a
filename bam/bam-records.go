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
	"math"

	"github.com/exascience/elbam/utils/nibbles"
)

const (
	refIDIndex     = 0
	posIndex       = 4
	lReadNameIndex = posIndex + 4
	mapqIndex      = lReadNameIndex + 1
	binIndex       = mapqIndex + 1
	nCigarOpIndex  = binIndex + 2
	flagIndex      = nCigarOpIndex + 2
	lSeqIndex      = flagIndex + 2
	nextRefIDIndex = lSeqIndex + 4
	nextPosIndex   = nextRefIDIndex + 4
	tlenIndex      = nextPosIndex + 4
	readNameIndex  = tlenIndex + 4
)

const (
	maxReadNameLength = 254
	maxCigarOpLength  = 1<<28 - 1
)

func decodeCigarOp(code uint32) (CigarOperation, error) {
	op := int(code & 0xF)
	if op >= len(CigarOperations) {
		return CigarOperation{}, corrupt("invalid CIGAR op code %v", op)
	}
	return CigarOperation{Length: int32(code >> 4), Operation: CigarOperations[op]}, nil
}

// Decode parses a serialized alignment record without its leading
// block_size field, and returns a freshly allocated Record that does
// not share memory with data. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func Decode(data []byte) (*Record, error) {
	if len(data) < readNameIndex {
		return nil, corrupt("record of %v bytes is shorter than its fixed part", len(data))
	}
	rec := &Record{
		RefID:     int32(binary.LittleEndian.Uint32(data[refIDIndex:])),
		Pos:       int32(binary.LittleEndian.Uint32(data[posIndex:])),
		MapQ:      data[mapqIndex],
		Flag:      binary.LittleEndian.Uint16(data[flagIndex:]),
		MateRefID: int32(binary.LittleEndian.Uint32(data[nextRefIDIndex:])),
		MatePos:   int32(binary.LittleEndian.Uint32(data[nextPosIndex:])),
		TLen:      int32(binary.LittleEndian.Uint32(data[tlenIndex:])),
	}
	lReadName := int(data[lReadNameIndex])
	nCigarOp := int(binary.LittleEndian.Uint16(data[nCigarOpIndex:]))
	lSeq := int(int32(binary.LittleEndian.Uint32(data[lSeqIndex:])))
	if lSeq < 0 {
		return nil, corrupt("negative sequence length %v", lSeq)
	}

	index := readNameIndex
	if lReadName == 0 || lReadName > len(data)-index || data[index+lReadName-1] != 0 {
		return nil, corrupt("read name overruns the record")
	}
	rec.Name = string(data[index : index+lReadName-1])
	index += lReadName

	if nCigarOp > (len(data)-index)/4 {
		return nil, corrupt("CIGAR overruns the record")
	}
	if nCigarOp > 0 {
		rec.Cigar = make([]CigarOperation, nCigarOp)
		for i := range rec.Cigar {
			op, err := decodeCigarOp(binary.LittleEndian.Uint32(data[index:]))
			if err != nil {
				return nil, err
			}
			rec.Cigar[i] = op
			index += 4
		}
	}

	seqBytes := (lSeq + 1) >> 1
	if seqBytes+lSeq > len(data)-index {
		return nil, corrupt("sequence overruns the record")
	}
	rec.Seq = Sequence(nibbles.ReflectMake(lSeq, 0, append([]byte(nil), data[index:index+seqBytes]...)))
	index += seqBytes
	if lSeq > 0 {
		rec.Qual = append([]byte(nil), data[index:index+lSeq]...)
	}
	index += lSeq

	for index < len(data) {
		if index+3 > len(data) {
			return nil, corrupt("tag header overruns the record")
		}
		name := string(data[index : index+2])
		typ := data[index+2]
		value, next, err := parseTagValue(typ, data, index+3)
		if err == errUnknownTagType {
			rec.opaque = append([]byte(nil), data[index:]...)
			break
		}
		if err != nil {
			return nil, err
		}
		index = next
		if name == "CG" {
			if codes, ok := value.([]uint32); ok && isCigarPlaceholder(rec.Cigar, lSeq) {
				cigar := make([]CigarOperation, len(codes))
				for i, code := range codes {
					if cigar[i], err = decodeCigarOp(code); err != nil {
						return nil, err
					}
				}
				rec.Cigar = cigar
				continue
			}
		}
		rec.Tags = append(rec.Tags, TagEntry{Name: name, Value: value})
	}

	if len(rec.Cigar) > 0 && lSeq > 0 {
		if qlen := QueryLength(rec.Cigar); qlen != lSeq {
			return nil, corrupt("CIGAR query length %v differs from sequence length %v", qlen, lSeq)
		}
	}
	return rec, nil
}

// isCigarPlaceholder recognizes the kSmN CIGAR that stands in for a
// CIGAR with more than 65535 operations stored in a CG tag.
func isCigarPlaceholder(cigar []CigarOperation, lSeq int) bool {
	return len(cigar) == 2 &&
		cigar[0].Operation == 'S' && int(cigar[0].Length) == lSeq &&
		cigar[1].Operation == 'N'
}

func (rec *Record) validate() error {
	if len(rec.Name) > maxReadNameLength {
		return fmt.Errorf("%w: read name longer than %v characters", ErrInvalidRecord, maxReadNameLength)
	}
	for i := 0; i < len(rec.Name); i++ {
		if rec.Name[i] == 0 {
			return fmt.Errorf("%w: NUL byte in read name", ErrInvalidRecord)
		}
	}
	if rec.RefID < -1 || rec.MateRefID < -1 {
		return fmt.Errorf("%w: negative reference ID", ErrInvalidRecord)
	}
	for _, op := range rec.Cigar {
		if cigarOpCodes[op.Operation] < 0 {
			return fmt.Errorf("%w: invalid CIGAR operation %c", ErrInvalidRecord, op.Operation)
		}
		if op.Length < 0 || op.Length > maxCigarOpLength {
			return fmt.Errorf("%w: invalid CIGAR operation length %v", ErrInvalidRecord, op.Length)
		}
	}
	lSeq := rec.Seq.Len()
	if len(rec.Cigar) > 0 && lSeq > 0 {
		if qlen := QueryLength(rec.Cigar); qlen != lSeq {
			return fmt.Errorf("%w: CIGAR query length %v differs from sequence length %v", ErrInvalidRecord, qlen, lSeq)
		}
	}
	if len(rec.Qual) != 0 && len(rec.Qual) != lSeq {
		return fmt.Errorf("%w: %v base qualities for %v bases", ErrInvalidRecord, len(rec.Qual), lSeq)
	}
	return nil
}

// Bin returns the BAI bin of the record, computed from its position
// and reference span.
func (rec *Record) Bin() uint16 {
	return uint16(Reg2Bin(int(rec.Pos), int(rec.End())))
}

func cigarCode(op CigarOperation) uint32 {
	return uint32(op.Length)<<4 | uint32(cigarOpCodes[op.Operation])
}

// Encode appends the serialized record, including its leading
// block_size field, to out. The bin field is recomputed. The record
// is validated first; nothing is appended if it is invalid. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func (rec *Record) Encode(out []byte) ([]byte, error) {
	if err := rec.validate(); err != nil {
		return out, err
	}
	start := len(out)
	longCigar := len(rec.Cigar) > math.MaxUint16
	lSeq := rec.Seq.Len()

	var index int
	index, out = enlarge(out, 4+readNameIndex)
	blockSizeIndex := index
	index += 4
	binary.LittleEndian.PutUint32(out[index+refIDIndex:], uint32(rec.RefID))
	binary.LittleEndian.PutUint32(out[index+posIndex:], uint32(rec.Pos))
	out[index+lReadNameIndex] = uint8(len(rec.Name) + 1)
	out[index+mapqIndex] = rec.MapQ
	binary.LittleEndian.PutUint16(out[index+binIndex:], rec.Bin())
	if longCigar {
		binary.LittleEndian.PutUint16(out[index+nCigarOpIndex:], 2)
	} else {
		binary.LittleEndian.PutUint16(out[index+nCigarOpIndex:], uint16(len(rec.Cigar)))
	}
	binary.LittleEndian.PutUint16(out[index+flagIndex:], rec.Flag)
	binary.LittleEndian.PutUint32(out[index+lSeqIndex:], uint32(lSeq))
	binary.LittleEndian.PutUint32(out[index+nextRefIDIndex:], uint32(rec.MateRefID))
	binary.LittleEndian.PutUint32(out[index+nextPosIndex:], uint32(rec.MatePos))
	binary.LittleEndian.PutUint32(out[index+tlenIndex:], uint32(rec.TLen))

	out = append(append(out, rec.Name...), 0)

	if longCigar {
		index, out = enlarge(out, 2*4)
		binary.LittleEndian.PutUint32(out[index:], cigarCode(CigarOperation{int32(lSeq), 'S'}))
		binary.LittleEndian.PutUint32(out[index+4:], cigarCode(CigarOperation{int32(ReferenceLength(rec.Cigar)), 'N'}))
	} else {
		index, out = enlarge(out, 4*len(rec.Cigar))
		for _, op := range rec.Cigar {
			binary.LittleEndian.PutUint32(out[index:], cigarCode(op))
			index += 4
		}
	}

	out = nibbles.Nibbles(rec.Seq).AppendPacked(out)

	if len(rec.Qual) == lSeq {
		out = append(out, rec.Qual...)
	} else {
		index, out = enlarge(out, lSeq)
		for i := index; i < len(out); i++ {
			out[i] = 0xFF
		}
	}

	var err error
	for _, entry := range rec.Tags {
		if out, err = appendTag(out, entry.Name, entry.Value); err != nil {
			return out[:start], err
		}
	}

	if longCigar {
		index, out = appendArrayHeader(append(out, "CG"...), 'I', len(rec.Cigar), 4)
		for _, op := range rec.Cigar {
			binary.LittleEndian.PutUint32(out[index:], cigarCode(op))
			index += 4
		}
	}

	out = append(out, rec.opaque...)

	binary.LittleEndian.PutUint32(out[blockSizeIndex:], uint32(len(out)-blockSizeIndex-4))
	return out, nil
}
