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
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

type (
	// Char is the value of a tag of type A, a single printable character.
	Char byte

	// Hex is the value of a tag of type H, a byte array stored as a
	// hexadecimal string.
	Hex []byte

	// TagEntry is an entry in Tags.
	TagEntry struct {
		Name  string
		Value interface{}
	}

	// Tags is the ordered list of optional fields of a record. Each
	// value has one of the types Char, int8, uint8, int16, uint16,
	// int32, uint32, float32, string, Hex, []int8, []uint8, []int16,
	// []uint16, []int32, []uint32, or []float32, and its type
	// determines the BAM type of the tag.
	Tags []TagEntry
)

// Get returns the value of the first entry with the given name.
func (tags Tags) Get(name string) (interface{}, bool) {
	for _, entry := range tags {
		if entry.Name == name {
			return entry.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of the first entry with the given name, or
// appends a new entry.
func (tags *Tags) Set(name string, value interface{}) {
	for index := range *tags {
		if (*tags)[index].Name == name {
			(*tags)[index].Value = value
			return
		}
	}
	*tags = append(*tags, TagEntry{name, value})
}

// Delete removes the first entry with the given name.
func (tags Tags) Delete(name string) (Tags, bool) {
	for index, entry := range tags {
		if entry.Name == name {
			return append(tags[:index], tags[index+1:]...), true
		}
	}
	return tags, false
}

func checkTagName(name string) error {
	if len(name) != 2 {
		return fmt.Errorf("%w: %q", ErrInvalidTagName, name)
	}
	return nil
}

// Tag returns the value of the tag with the given name, or nil if the
// record has no such tag.
func (rec *Record) Tag(name string) (interface{}, error) {
	if err := checkTagName(name); err != nil {
		return nil, err
	}
	value, _ := rec.Tags.Get(name)
	return value, nil
}

// TagType returns the BAM type character of the tag with the given
// name, or 0 if the record has no such tag. Arrays have type 'B'.
func (rec *Record) TagType(name string) (byte, error) {
	if err := checkTagName(name); err != nil {
		return 0, err
	}
	value, ok := rec.Tags.Get(name)
	if !ok {
		return 0, nil
	}
	typ, _ := tagType(value)
	return typ, nil
}

// SetTag sets the tag with the given name. A nil value deletes the
// tag. Values of type int and int64 are stored as the smallest integer
// type that can hold them, and float64 values are stored as float32.
// Other values must have one of the types listed for Tags.
//
// Tags that follow a tag of unknown type in a decoded record are kept
// as undecoded bytes and re-encoded verbatim. SetTag returns
// ErrUndecodedTag if name occurs in those bytes, since the tag would
// otherwise be encoded twice.
func (rec *Record) SetTag(name string, value interface{}) error {
	if err := checkTagName(name); err != nil {
		return err
	}
	if bytes.Contains(rec.opaque, []byte(name)) {
		return fmt.Errorf("%w: %v in record %v", ErrUndecodedTag, name, rec.Name)
	}
	if value == nil {
		rec.Tags, _ = rec.Tags.Delete(name)
		return nil
	}
	switch val := value.(type) {
	case int:
		v, err := smallestInteger(int64(val))
		if err != nil {
			return err
		}
		value = v
	case int64:
		v, err := smallestInteger(val)
		if err != nil {
			return err
		}
		value = v
	case float64:
		value = float32(val)
	}
	if _, subtype := tagType(value); subtype == 0 {
		return fmt.Errorf("%w: %T", ErrInvalidTagValue, value)
	}
	rec.Tags.Set(name, value)
	return nil
}

// DeleteTag removes the tag with the given name, if present.
func (rec *Record) DeleteTag(name string) error {
	return rec.SetTag(name, nil)
}

func smallestInteger(val int64) (interface{}, error) {
	switch {
	case val < math.MinInt32:
		return nil, fmt.Errorf("%w: integer %v too small", ErrInvalidTagValue, val)
	case val < math.MinInt16:
		return int32(val), nil
	case val < math.MinInt8:
		return int16(val), nil
	case val < 0:
		return int8(val), nil
	case val <= math.MaxUint8:
		return uint8(val), nil
	case val <= math.MaxUint16:
		return uint16(val), nil
	case val <= math.MaxUint32:
		return uint32(val), nil
	default:
		return nil, fmt.Errorf("%w: integer %v too large", ErrInvalidTagValue, val)
	}
}

// tagType returns the type character and, for arrays, the element
// type character. For scalars, subtype equals typ. Both are 0 for
// unsupported values.
func tagType(value interface{}) (typ, subtype byte) {
	switch value.(type) {
	case Char:
		return 'A', 'A'
	case int8:
		return 'c', 'c'
	case uint8:
		return 'C', 'C'
	case int16:
		return 's', 's'
	case uint16:
		return 'S', 'S'
	case int32:
		return 'i', 'i'
	case uint32:
		return 'I', 'I'
	case float32:
		return 'f', 'f'
	case string:
		return 'Z', 'Z'
	case Hex:
		return 'H', 'H'
	case []int8:
		return 'B', 'c'
	case []uint8:
		return 'B', 'C'
	case []int16:
		return 'B', 's'
	case []uint16:
		return 'B', 'S'
	case []int32:
		return 'B', 'i'
	case []uint32:
		return 'B', 'I'
	case []float32:
		return 'B', 'f'
	default:
		return 0, 0
	}
}

var errUnknownTagType = errors.New("unknown tag type")

func scalarSize(typ byte) int {
	switch typ {
	case 'A', 'c', 'C':
		return 1
	case 's', 'S':
		return 2
	case 'i', 'I', 'f':
		return 4
	default:
		return 0
	}
}

func corrupt(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrCorruptRecord, fmt.Sprintf(format, v...))
}

// parseTagValue parses the value of a tag of the given type that starts
// at data[index]. See http://samtools.github.io/hts-specs/SAMv1.pdf -
// Section 4.2.4.
func parseTagValue(typ byte, data []byte, index int) (value interface{}, newIndex int, err error) {
	if size := scalarSize(typ); size > 0 {
		if index+size > len(data) {
			return nil, 0, corrupt("tag value of type %c overruns the record", typ)
		}
		switch typ {
		case 'A':
			value = Char(data[index])
		case 'c':
			value = int8(data[index])
		case 'C':
			value = data[index]
		case 's':
			value = int16(binary.LittleEndian.Uint16(data[index:]))
		case 'S':
			value = binary.LittleEndian.Uint16(data[index:])
		case 'i':
			value = int32(binary.LittleEndian.Uint32(data[index:]))
		case 'I':
			value = binary.LittleEndian.Uint32(data[index:])
		case 'f':
			value = math.Float32frombits(binary.LittleEndian.Uint32(data[index:]))
		}
		return value, index + size, nil
	}
	switch typ {
	case 'Z', 'H':
		end := index
		for end < len(data) && data[end] != 0 {
			end++
		}
		if end == len(data) {
			return nil, 0, corrupt("missing NUL byte in a tag string")
		}
		if typ == 'Z' {
			return string(data[index:end]), end + 1, nil
		}
		result := make(Hex, hex.DecodedLen(end-index))
		if _, err := hex.Decode(result, data[index:end]); err != nil {
			return nil, 0, corrupt("invalid hex tag value: %v", err)
		}
		return result, end + 1, nil
	case 'B':
		return parseTagArray(data, index)
	default:
		return nil, 0, errUnknownTagType
	}
}

func parseTagArray(data []byte, index int) (value interface{}, newIndex int, err error) {
	if index+5 > len(data) {
		return nil, 0, corrupt("array tag header overruns the record")
	}
	subtype := data[index]
	count := int(binary.LittleEndian.Uint32(data[index+1:]))
	index += 5
	size := scalarSize(subtype)
	if size == 0 || subtype == 'A' {
		return nil, 0, corrupt("invalid array tag subtype %c", subtype)
	}
	if count < 0 || count > (len(data)-index)/size {
		return nil, 0, corrupt("array tag of %v elements overruns the record", count)
	}
	switch subtype {
	case 'c':
		result := make([]int8, count)
		for i := range result {
			result[i] = int8(data[index+i])
		}
		value = result
	case 'C':
		value = append(make([]uint8, 0, count), data[index:index+count]...)
	case 's':
		result := make([]int16, count)
		for i := range result {
			result[i] = int16(binary.LittleEndian.Uint16(data[index+2*i:]))
		}
		value = result
	case 'S':
		result := make([]uint16, count)
		for i := range result {
			result[i] = binary.LittleEndian.Uint16(data[index+2*i:])
		}
		value = result
	case 'i':
		result := make([]int32, count)
		for i := range result {
			result[i] = int32(binary.LittleEndian.Uint32(data[index+4*i:]))
		}
		value = result
	case 'I':
		result := make([]uint32, count)
		for i := range result {
			result[i] = binary.LittleEndian.Uint32(data[index+4*i:])
		}
		value = result
	case 'f':
		result := make([]float32, count)
		for i := range result {
			result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[index+4*i:]))
		}
		value = result
	}
	return value, index + count*size, nil
}

func enlarge(out []byte, by int) (int, []byte) {
	index := len(out)
	length := index + by
	for cap(out) < length {
		out = append(out[:cap(out)], 0)
	}
	out = out[:length]
	return index, out
}

func appendArrayHeader(out []byte, subtype byte, count, size int) (int, []byte) {
	index, out := enlarge(out, 2+4+count*size)
	out[index] = 'B'
	out[index+1] = subtype
	binary.LittleEndian.PutUint32(out[index+2:], uint32(count))
	return index + 6, out
}

// appendTag writes a BAM tag by appending its binary representation to
// out, dispatching on the actual type of the given value. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.4.
func appendTag(out []byte, name string, value interface{}) ([]byte, error) {
	if len(name) != 2 {
		return out, fmt.Errorf("%w: %q", ErrInvalidTagName, name)
	}
	out = append(out, name...)
	var index int
	switch val := value.(type) {
	case Char:
		out = append(out, 'A', byte(val))
	case int8:
		out = append(out, 'c', byte(val))
	case uint8:
		out = append(out, 'C', val)
	case int16:
		index, out = enlarge(out, 3)
		out[index] = 's'
		binary.LittleEndian.PutUint16(out[index+1:], uint16(val))
	case uint16:
		index, out = enlarge(out, 3)
		out[index] = 'S'
		binary.LittleEndian.PutUint16(out[index+1:], val)
	case int32:
		index, out = enlarge(out, 5)
		out[index] = 'i'
		binary.LittleEndian.PutUint32(out[index+1:], uint32(val))
	case uint32:
		index, out = enlarge(out, 5)
		out[index] = 'I'
		binary.LittleEndian.PutUint32(out[index+1:], val)
	case float32:
		index, out = enlarge(out, 5)
		out[index] = 'f'
		binary.LittleEndian.PutUint32(out[index+1:], math.Float32bits(val))
	case string:
		for i := 0; i < len(val); i++ {
			if val[i] == 0 {
				return out, fmt.Errorf("%w: NUL byte in string tag %v", ErrInvalidRecord, name)
			}
		}
		out = append(append(append(out, 'Z'), val...), 0)
	case Hex:
		index, out = enlarge(out, 1+hex.EncodedLen(len(val))+1)
		out[index] = 'H'
		hex.Encode(out[index+1:], val)
		for i := index + 1; i < len(out)-1; i++ {
			if c := out[i]; 'a' <= c && c <= 'f' {
				out[i] = c - 'a' + 'A'
			}
		}
		out[len(out)-1] = 0
	case []int8:
		index, out = appendArrayHeader(out, 'c', len(val), 1)
		for i, v := range val {
			out[index+i] = byte(v)
		}
	case []uint8:
		index, out = appendArrayHeader(out, 'C', len(val), 1)
		copy(out[index:], val)
	case []int16:
		index, out = appendArrayHeader(out, 's', len(val), 2)
		for i, v := range val {
			binary.LittleEndian.PutUint16(out[index+2*i:], uint16(v))
		}
	case []uint16:
		index, out = appendArrayHeader(out, 'S', len(val), 2)
		for i, v := range val {
			binary.LittleEndian.PutUint16(out[index+2*i:], v)
		}
	case []int32:
		index, out = appendArrayHeader(out, 'i', len(val), 4)
		for i, v := range val {
			binary.LittleEndian.PutUint32(out[index+4*i:], uint32(v))
		}
	case []uint32:
		index, out = appendArrayHeader(out, 'I', len(val), 4)
		for i, v := range val {
			binary.LittleEndian.PutUint32(out[index+4*i:], v)
		}
	case []float32:
		index, out = appendArrayHeader(out, 'f', len(val), 4)
		for i, v := range val {
			binary.LittleEndian.PutUint32(out[index+4*i:], math.Float32bits(v))
		}
	default:
		return out, fmt.Errorf("%w: %T in tag %v", ErrInvalidTagValue, value, name)
	}
	return out, nil
}
