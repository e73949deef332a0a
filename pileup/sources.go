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

import "github.com/exascience/elbam/bam"

// A Source delivers coordinate-sorted reads to a pileup. A
// *bam.Iterator is a Source.
type Source interface {
	Next() bool
	Record() *bam.Record
	Err() error
}

type sliceSource struct {
	records []*bam.Record
	index   int
}

// FromRecords returns a Source over an in-memory slice of reads.
func FromRecords(records []*bam.Record) Source {
	return &sliceSource{records: records, index: -1}
}

func (s *sliceSource) Next() bool {
	if s.index < len(s.records) {
		s.index++
	}
	return s.index < len(s.records)
}

func (s *sliceSource) Record() *bam.Record {
	if s.index < 0 || s.index >= len(s.records) {
		return nil
	}
	return s.records[s.index]
}

func (s *sliceSource) Err() error { return nil }

type filteredSource struct {
	Source
	keep func(*bam.Record) bool
}

// Filter returns a Source that only delivers the reads of src for
// which keep returns true.
func Filter(src Source, keep func(*bam.Record) bool) Source {
	if keep == nil {
		return src
	}
	return &filteredSource{Source: src, keep: keep}
}

func (s *filteredSource) Next() bool {
	for s.Source.Next() {
		if s.keep(s.Source.Record()) {
			return true
		}
	}
	return false
}
