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
	"strings"
)

// Region is a 0-based half-open interval [Start, End) on a named
// reference.
type Region struct {
	Reference  string
	Start, End int
}

func (region Region) String() string {
	return fmt.Sprintf("%v:%v-%v", region.Reference, region.Start+1, region.End)
}

func parsePosition(s string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(s, ",", ""))
}

// ParseRegion parses a samtools-style region: "ref", "ref:start", or
// "ref:start-end", with 1-based inclusive positions that may contain
// thousands separators. A missing end extends to MaxCoordinate.
func ParseRegion(s string) (Region, error) {
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		if s == "" {
			return Region{}, fmt.Errorf("%w: empty region", ErrInvalidRegion)
		}
		return Region{Reference: s, Start: 0, End: MaxCoordinate}, nil
	}
	region := Region{Reference: s[:colon], End: MaxCoordinate}
	if region.Reference == "" {
		return Region{}, fmt.Errorf("%w: %v (expected ref:start-end)", ErrInvalidRegion, s)
	}
	positions := strings.SplitN(s[colon+1:], "-", 2)
	start, err := parsePosition(positions[0])
	if err != nil || start < 1 {
		return Region{}, fmt.Errorf("%w: invalid start position in %v", ErrInvalidRegion, s)
	}
	region.Start = start - 1
	if len(positions) == 2 {
		end, err := parsePosition(positions[1])
		if err != nil || end < start {
			return Region{}, fmt.Errorf("%w: invalid end position in %v", ErrInvalidRegion, s)
		}
		region.End = end
	}
	return region, nil
}

// ParseRegion is like the package-level ParseRegion, except that a
// string naming a reference of the file denotes that whole reference,
// so that names containing colons need no position suffix.
func (reader *Reader) ParseRegion(s string) (Region, error) {
	if ref, ok := reader.Reference(s); ok {
		return Region{Reference: ref.Name, Start: 0, End: MaxCoordinate}, nil
	}
	return ParseRegion(s)
}

// FetchRegion is Fetch for a Region.
func (reader *Reader) FetchRegion(region Region) (*Iterator, error) {
	return reader.Fetch(region.Reference, region.Start, region.End)
}
