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
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidMD is returned when a record has no MD tag, or when its
// MD tag is malformed or disagrees with its CIGAR.
var ErrInvalidMD = errors.New("bam: missing or invalid MD tag")

// MDOperation is one element of an MD tag: a run of matching bases
// (Kind '='), a mismatching reference base (Kind 'X'), or deleted
// reference bases (Kind 'D').
type MDOperation struct {
	Kind   byte
	Length int
	Bases  string
}

// ParseMD parses the value of an MD tag.
func ParseMD(md string) ([]MDOperation, error) {
	var ops []MDOperation
	for i := 0; i < len(md); {
		switch c := md[i]; {
		case '0' <= c && c <= '9':
			j := i + 1
			for j < len(md) && '0' <= md[j] && md[j] <= '9' {
				j++
			}
			n, err := strconv.Atoi(md[i:j])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMD, md)
			}
			if n > 0 {
				ops = append(ops, MDOperation{Kind: '=', Length: n})
			}
			i = j
		case c == '^':
			j := i + 1
			for j < len(md) && isMDBase(md[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("%w: empty deletion in %v", ErrInvalidMD, md)
			}
			ops = append(ops, MDOperation{Kind: 'D', Length: j - i - 1, Bases: md[i+1 : j]})
			i = j
		case isMDBase(c):
			ops = append(ops, MDOperation{Kind: 'X', Length: 1, Bases: md[i : i+1]})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %c in %v", ErrInvalidMD, c, md)
		}
	}
	return ops, nil
}

func isMDBase(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z')
}

// mdBase is the reference information of MD for one aligned or
// deleted reference position. base is 0 for a match.
type mdBase struct {
	base    byte
	deleted bool
}

func (rec *Record) expandMD() ([]mdBase, error) {
	value, ok := rec.Tags.Get("MD")
	if !ok {
		return nil, fmt.Errorf("%w: record %v has no MD tag", ErrInvalidMD, rec.Name)
	}
	md, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: MD tag of record %v is not a string", ErrInvalidMD, rec.Name)
	}
	ops, err := ParseMD(md)
	if err != nil {
		return nil, err
	}
	var result []mdBase
	for _, op := range ops {
		switch op.Kind {
		case '=':
			for k := 0; k < op.Length; k++ {
				result = append(result, mdBase{})
			}
		case 'X':
			result = append(result, mdBase{base: upperBase(op.Bases[0])})
		case 'D':
			for k := 0; k < op.Length; k++ {
				result = append(result, mdBase{base: upperBase(op.Bases[k]), deleted: true})
			}
		}
	}
	return result, nil
}

func upperBase(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// walkMD pairs every M, =, X, and D position of the CIGAR with its MD
// entry, and calls f with the reference offset, the query offset, and
// the MD entry. N positions are skipped.
func (rec *Record) walkMD(f func(op byte, refOffset, queryOffset int, md mdBase)) error {
	md, err := rec.expandMD()
	if err != nil {
		return err
	}
	var mdIndex, refOffset, queryOffset int
	for _, op := range rec.Cigar {
		length := int(op.Length)
		switch op.Operation {
		case 'M', '=', 'X', 'D':
			deletion := op.Operation == 'D'
			for k := 0; k < length; k++ {
				if mdIndex >= len(md) {
					return fmt.Errorf("%w: MD of record %v is shorter than its CIGAR", ErrInvalidMD, rec.Name)
				}
				if md[mdIndex].deleted != deletion {
					return fmt.Errorf("%w: MD of record %v disagrees with its CIGAR", ErrInvalidMD, rec.Name)
				}
				f(op.Operation, refOffset, queryOffset, md[mdIndex])
				mdIndex++
				refOffset++
				if !deletion {
					queryOffset++
				}
			}
		case 'N':
			refOffset += length
		case 'I', 'S':
			queryOffset += length
		}
	}
	if mdIndex != len(md) {
		return fmt.Errorf("%w: MD of record %v is longer than its CIGAR", ErrInvalidMD, rec.Name)
	}
	return nil
}

// ReferenceBases reconstructs the reference bases covered by the
// record from its MD tag, CIGAR, and sequence. The result has one entry
// per reference position from Pos to End; entries that cannot be
// known, such as skipped regions or matches whose read base is '=',
// are 0.
func (rec *Record) ReferenceBases() ([]byte, error) {
	result := make([]byte, ReferenceLength(rec.Cigar))
	hasSeq := rec.Seq.Len() > 0
	err := rec.walkMD(func(_ byte, refOffset, queryOffset int, md mdBase) {
		switch {
		case md.base != 0:
			result[refOffset] = md.base
		case hasSeq:
			if b := rec.Seq.Base(queryOffset); b != '=' {
				result[refOffset] = b
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExtendedCigar returns the CIGAR of the record with M operations
// split into = and X operations according to its MD tag.
func (rec *Record) ExtendedCigar() ([]CigarOperation, error) {
	var result []CigarOperation
	push := func(op byte, length int32) {
		if n := len(result); n > 0 && result[n-1].Operation == op {
			result[n-1].Length += length
		} else {
			result = append(result, CigarOperation{Length: length, Operation: op})
		}
	}
	marks := make([]byte, 0, ReferenceLength(rec.Cigar))
	err := rec.walkMD(func(op byte, _, _ int, md mdBase) {
		if op == 'M' {
			if md.base == 0 {
				marks = append(marks, '=')
			} else {
				marks = append(marks, 'X')
			}
		}
	})
	if err != nil {
		return nil, err
	}
	for _, op := range rec.Cigar {
		if op.Operation != 'M' {
			push(op.Operation, op.Length)
			continue
		}
		for k := int32(0); k < op.Length; k++ {
			push(marks[0], 1)
			marks = marks[1:]
		}
	}
	return result, nil
}
