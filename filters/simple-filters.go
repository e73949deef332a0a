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

// Package filters provides read filters that select the reads of a BAM
// file to take into account, for example in a pileup.
package filters

import "github.com/exascience/elbam/bam"

// A ReadFilter returns true for reads that should be kept. A filter may
// modify the read it is given.
type ReadFilter func(rec *bam.Record) bool

// ComposeFilters returns a filter that keeps the reads all of the given
// filters keep, applying them in order. Nil filters are ignored. The
// result is nil if there are no filters left.
func ComposeFilters(filters ...ReadFilter) ReadFilter {
	var readFilters []ReadFilter
	for _, f := range filters {
		if f != nil {
			readFilters = append(readFilters, f)
		}
	}
	switch len(readFilters) {
	case 0:
		return nil
	case 1:
		return readFilters[0]
	}
	return func(rec *bam.Record) bool {
		for _, f := range readFilters {
			if !f(rec) {
				return false
			}
		}
		return true
	}
}

// RemoveUnmappedReads is a filter for removing unmapped reads, based
// on FLAG.
func RemoveUnmappedReads(rec *bam.Record) bool {
	return !rec.IsUnmapped()
}

// RemoveUnmappedReadsStrict is a filter for removing unmapped reads,
// based on FLAG, or an unknown position or reference.
func RemoveUnmappedReadsStrict(rec *bam.Record) bool {
	return !rec.IsUnmapped() && rec.Pos >= 0 && rec.RefID >= 0
}

// RemoveDuplicateReads is a filter for removing duplicate reads, based
// on FLAG.
func RemoveDuplicateReads(rec *bam.Record) bool {
	return !rec.IsDuplicate()
}

// RemoveNonPrimaryReads is a filter for removing secondary and
// supplementary alignments, based on FLAG.
func RemoveNonPrimaryReads(rec *bam.Record) bool {
	return rec.FlagNotAny(bam.Secondary | bam.Supplementary)
}

// RemoveQCFailedReads is a filter for removing reads that did not pass
// quality controls, based on FLAG.
func RemoveQCFailedReads(rec *bam.Record) bool {
	return !rec.IsQCFailed()
}

var nonExactMappingOperator = map[byte]bool{'I': true, 'D': true, 'N': true, 'H': true, 'P': true, 'X': true, '=': true}

// RemoveNonExactMappingReads is a filter that removes all reads that
// are not exact matches with the reference (soft-clipping ok), based
// on CIGAR string (only M and S allowed).
func RemoveNonExactMappingReads(rec *bam.Record) bool {
	for _, op := range rec.Cigar {
		if nonExactMappingOperator[op.Operation] {
			return false
		}
	}
	return true
}

func integerTag(rec *bam.Record, name string) (int64, bool) {
	value, ok := rec.Tags.Get(name)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

// RemoveNonExactMappingReadsStrict is a filter that removes all reads
// that are not exact matches with the reference, based on the optional
// fields X0=1 (unique mapping), X1=0 (no suboptimal hit), XM=0 (no
// mismatch), XO=0 (no gap opening), XG=0 (no gap extension).
func RemoveNonExactMappingReadsStrict(rec *bam.Record) bool {
	if x0, ok := integerTag(rec, "X0"); !ok || x0 != 1 {
		return false
	}
	for _, name := range []string{"X1", "XM", "XO", "XG"} {
		if x, ok := integerTag(rec, name); !ok || x != 0 {
			return false
		}
	}
	return true
}

// RemoveMappingQualityLessThan returns a filter for removing reads
// with a mapping quality less than mq. Reads with a missing mapping
// quality are removed as well. The result is nil for mq <= 0.
func RemoveMappingQualityLessThan(mq int) ReadFilter {
	if mq <= 0 {
		return nil
	}
	return func(rec *bam.Record) bool {
		return rec.MappingQuality() >= mq
	}
}

// RemoveOptionalFields returns a filter for removing optional fields
// from reads. The result is nil if there are no fields to remove.
func RemoveOptionalFields(tags []string) ReadFilter {
	if len(tags) == 0 {
		return nil
	}
	return func(rec *bam.Record) bool {
		for _, tag := range tags {
			rec.Tags, _ = rec.Tags.Delete(tag)
		}
		return true
	}
}

// KeepOnlyOptionalFields returns a filter for removing all optional
// fields from reads except the given ones.
func KeepOnlyOptionalFields(tags []string) ReadFilter {
	keep := make(map[string]bool, len(tags))
	for _, tag := range tags {
		keep[tag] = true
	}
	return func(rec *bam.Record) bool {
		kept := rec.Tags[:0]
		for _, entry := range rec.Tags {
			if keep[entry.Name] {
				kept = append(kept, entry)
			}
		}
		rec.Tags = kept
		return true
	}
}
