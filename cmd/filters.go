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

package cmd

import (
	"github.com/spf13/pflag"

	"github.com/exascience/elbam/filters"
)

type filterOptions struct {
	minMapQ              int
	removeUnmapped       bool
	removeDuplicates     bool
	removeNonPrimary     bool
	removeQCFailed       bool
	exactMappingOnly     bool
	removeOptionalFields []string
	keepOptionalFields   []string
}

func (options *filterOptions) register(flags *pflag.FlagSet) {
	flags.IntVar(&options.minMapQ, "min-mapq", 0, "remove reads with a lower mapping quality")
	flags.BoolVar(&options.removeUnmapped, "filter-unmapped-reads", false, "remove unmapped reads")
	flags.BoolVar(&options.removeDuplicates, "filter-duplicate-reads", false, "remove reads flagged as duplicates")
	flags.BoolVar(&options.removeNonPrimary, "filter-non-primary-reads", false, "remove secondary and supplementary alignments")
	flags.BoolVar(&options.removeQCFailed, "filter-qc-failed-reads", false, "remove reads that failed quality checks")
	flags.BoolVar(&options.exactMappingOnly, "filter-non-exact-mapping-reads", false, "remove reads whose CIGAR has operations other than M and S")
	flags.StringSliceVar(&options.removeOptionalFields, "remove-optional-fields", nil, "remove these tags from the reads")
	flags.StringSliceVar(&options.keepOptionalFields, "keep-optional-fields", nil, "remove all tags from the reads except these")
}

// filter composes the selected filters, or returns nil if no filter is
// selected.
func (options *filterOptions) filter() filters.ReadFilter {
	var selected []filters.ReadFilter
	if options.removeUnmapped {
		selected = append(selected, filters.RemoveUnmappedReads)
	}
	if options.removeDuplicates {
		selected = append(selected, filters.RemoveDuplicateReads)
	}
	if options.removeNonPrimary {
		selected = append(selected, filters.RemoveNonPrimaryReads)
	}
	if options.removeQCFailed {
		selected = append(selected, filters.RemoveQCFailedReads)
	}
	if options.exactMappingOnly {
		selected = append(selected, filters.RemoveNonExactMappingReads)
	}
	selected = append(selected, filters.RemoveMappingQualityLessThan(options.minMapQ))
	selected = append(selected, filters.RemoveOptionalFields(options.removeOptionalFields))
	if len(options.keepOptionalFields) > 0 {
		selected = append(selected, filters.KeepOnlyOptionalFields(options.keepOptionalFields))
	}
	return filters.ComposeFilters(selected...)
}
