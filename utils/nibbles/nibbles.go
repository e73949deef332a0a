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

// Package nibbles stores sequences of 4-bit values, two per byte, high
// nibble first, which is the layout BAM uses for read sequences.
package nibbles

import (
	"log"
	"strconv"
)

// Nibbles is a slice-like data structure for storing
// sequences of 4-bit values.
type Nibbles struct {
	info  int
	bytes []byte
}

// Len returns the number of 4-bit values stored in these nibbles.
func (n Nibbles) Len() int {
	return n.info >> 1
}

func (n Nibbles) offset() int {
	return n.info & 1
}

// Make creates nibbles of the given length.
func Make(n int) Nibbles {
	return Nibbles{
		info:  n << 1,
		bytes: make([]byte, (n+1)>>1),
	}
}

// ReflectMake creates nibbles of the given length, offset, and raw byte slice.
func ReflectMake(len, offset int, bytes []byte) Nibbles {
	return Nibbles{
		info:  (len << 1) | (offset & 1),
		bytes: bytes,
	}
}

// ReflectValue returns the underlying representation of the nibbles.
func (n Nibbles) ReflectValue() (len, offset int, bytes []byte) {
	return n.Len(), n.offset(), n.bytes
}

// Get returns the nibble at the given index.
func (n Nibbles) Get(index int) byte {
	if index >= n.Len() {
		log.Panic("index out of range")
	}
	index += n.offset()
	i := index >> 1
	bit := index & 1
	return 0xF & (n.bytes[i] >> uint((1^bit)<<2))
}

// Set sets the nibble at the given index.
func (n Nibbles) Set(index int, value byte) {
	if index >= n.Len() {
		log.Panic("index out of range")
	}
	index += n.offset()
	i := index >> 1
	bit := index & 1
	n.bytes[i] = ((0xF << uint(bit<<2)) & n.bytes[i]) | ((0xF & value) << uint((1^bit)<<2))
}

// Expand returns a byte slice with the same contents, but where each entry is stored in a byte
func (n Nibbles) Expand() []byte {
	length := n.Len()
	result := make([]byte, length)
	for k := 0; k < length; k++ {
		result[k] = n.Get(k)
	}
	return result
}

// AppendPacked appends the packed representation of the nibbles to
// out, starting at a byte boundary, and returns the extended slice.
// A trailing odd nibble is padded with zero.
func (n Nibbles) AppendPacked(out []byte) []byte {
	length := n.Len()
	if n.offset() == 0 {
		out = append(out, n.bytes[:(length+1)>>1]...)
		if length&1 == 1 {
			out[len(out)-1] &= 0xF0
		}
		return out
	}
	for k := 0; k < length; k += 2 {
		b := n.Get(k) << 4
		if k+1 < length {
			b |= n.Get(k + 1)
		}
		out = append(out, b)
	}
	return out
}

// Equal reports whether both nibbles hold the same values.
func (n Nibbles) Equal(m Nibbles) bool {
	length := n.Len()
	if m.Len() != length {
		return false
	}
	for k := 0; k < length; k++ {
		if n.Get(k) != m.Get(k) {
			return false
		}
	}
	return true
}

// String returns a string representation of the given nibbles.
func (n Nibbles) String() string {
	if len := n.Len(); len > 0 {
		b := []byte("[")
		b = strconv.AppendInt(b, int64(n.Get(0)), 10)
		for i := 1; i < len; i++ {
			b = append(b, ' ')
			b = strconv.AppendInt(b, int64(n.Get(i)), 10)
		}
		return string(append(b, ']'))
	}
	return "[]"
}

// BaseCodes is the BAM 4-bit base alphabet, indexed by nibble value.
const BaseCodes = "=ACMGRSVTWYHKDBN"

var baseTable [256]byte

func init() {
	for i := range baseTable {
		baseTable[i] = 15
	}
	for i := 0; i < len(BaseCodes); i++ {
		baseTable[BaseCodes[i]] = byte(i)
		if c := BaseCodes[i]; 'A' <= c && c <= 'Z' {
			baseTable[c+'a'-'A'] = byte(i)
		}
	}
}

// EncodeBase returns the 4-bit code of a base character. Unknown
// characters map to N.
func EncodeBase(base byte) byte {
	return baseTable[base]
}

// DecodeBase returns the base character for a 4-bit code.
func DecodeBase(code byte) byte {
	return BaseCodes[code&0xF]
}

// FromBases packs a string of base characters.
func FromBases(bases string) Nibbles {
	n := Make(len(bases))
	for i := 0; i < len(bases); i++ {
		n.Set(i, EncodeBase(bases[i]))
	}
	return n
}

// Base returns the base character at the given index.
func (n Nibbles) Base(index int) byte {
	return DecodeBase(n.Get(index))
}

// Bases returns the base characters of the nibbles.
func (n Nibbles) Bases() []byte {
	length := n.Len()
	result := make([]byte, length)
	for k := 0; k < length; k++ {
		result[k] = DecodeBase(n.Get(k))
	}
	return result
}
