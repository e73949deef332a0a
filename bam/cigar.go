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
	"strconv"
)

// CigarOperation is one operation of a CIGAR string.
type CigarOperation struct {
	Length    int32
	Operation byte
}

// CigarOperations lists the CIGAR operation characters in the order of
// their BAM op codes.
const CigarOperations = "MIDNSHP=X"

var cigarOpCodes [256]int8

func init() {
	for i := range cigarOpCodes {
		cigarOpCodes[i] = -1
	}
	for i := 0; i < len(CigarOperations); i++ {
		cigarOpCodes[CigarOperations[i]] = int8(i)
	}
}

// ConsumesQuery reports whether the operation consumes read bases.
func ConsumesQuery(operation byte) bool {
	switch operation {
	case 'M', 'I', 'S', '=', 'X':
		return true
	default:
		return false
	}
}

// ConsumesReference reports whether the operation consumes reference bases.
func ConsumesReference(operation byte) bool {
	switch operation {
	case 'M', 'D', 'N', '=', 'X':
		return true
	default:
		return false
	}
}

// ConsumesBoth reports whether the operation consumes both read and
// reference bases.
func ConsumesBoth(operation byte) bool {
	switch operation {
	case 'M', '=', 'X':
		return true
	default:
		return false
	}
}

func (op CigarOperation) String() string {
	return strconv.Itoa(int(op.Length)) + string(op.Operation)
}

// ParseCigar parses a CIGAR string. "*" and the empty string yield an
// empty CIGAR.
func ParseCigar(cigar string) ([]CigarOperation, error) {
	if cigar == "*" || cigar == "" {
		return nil, nil
	}
	var ops []CigarOperation
	for i := 0; i < len(cigar); {
		j := i
		for j < len(cigar) && '0' <= cigar[j] && cigar[j] <= '9' {
			j++
		}
		if j == i || j == len(cigar) {
			return nil, fmt.Errorf("invalid CIGAR string %v", cigar)
		}
		length, err := strconv.ParseInt(cigar[i:j], 10, 32)
		if err != nil || length >= 1<<28 {
			return nil, fmt.Errorf("invalid CIGAR operation length in %v", cigar)
		}
		if cigarOpCodes[cigar[j]] < 0 {
			return nil, fmt.Errorf("invalid CIGAR operation %c in %v", cigar[j], cigar)
		}
		ops = append(ops, CigarOperation{Length: int32(length), Operation: cigar[j]})
		i = j + 1
	}
	return ops, nil
}

// AppendCigar appends the string representation of a CIGAR to out.
func AppendCigar(out []byte, cigar []CigarOperation) []byte {
	if len(cigar) == 0 {
		return append(out, '*')
	}
	for _, op := range cigar {
		out = append(strconv.AppendInt(out, int64(op.Length), 10), op.Operation)
	}
	return out
}

// CigarString returns the string representation of a CIGAR.
func CigarString(cigar []CigarOperation) string {
	return string(AppendCigar(nil, cigar))
}

// QueryLength sums the lengths of all operations that consume read bases.
func QueryLength(cigar []CigarOperation) int {
	var length int
	for _, op := range cigar {
		if ConsumesQuery(op.Operation) {
			length += int(op.Length)
		}
	}
	return length
}

// ReferenceLength sums the lengths of all operations that consume
// reference bases.
func ReferenceLength(cigar []CigarOperation) int {
	var length int
	for _, op := range cigar {
		if ConsumesReference(op.Operation) {
			length += int(op.Length)
		}
	}
	return length
}

// End returns the 0-based exclusive end position of the record on the
// reference. Records that are unmapped or that have no operations
// consuming reference bases cover one position.
func (rec *Record) End() int32 {
	if !rec.IsUnmapped() {
		if length := ReferenceLength(rec.Cigar); length > 0 {
			return rec.Pos + int32(length)
		}
	}
	return rec.Pos + 1
}

// SetCigar parses and replaces the CIGAR of the record.
func (rec *Record) SetCigar(cigar string) error {
	ops, err := ParseCigar(cigar)
	if err != nil {
		return err
	}
	rec.Cigar = ops
	return nil
}
