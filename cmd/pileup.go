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
	"bufio"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/exascience/elbam/bam"
	"github.com/exascience/elbam/pileup"
)

func appendColumn(out []byte, refName string, column *pileup.Column) []byte {
	out = append(out, refName...)
	out = strconv.AppendInt(append(out, '\t'), int64(column.Position())+1, 10)
	out = append(out, '\t', column.ReferenceBase(), '\t')
	out = strconv.AppendInt(out, int64(column.Coverage()), 10)
	out = append(out, '\t')
	if column.Coverage() == 0 {
		return append(out, "*\t*\n"...)
	}
	out = append(out, column.Bases()...)
	out = append(out, '\t')
	for _, q := range column.BaseQualities() {
		if q < 0 {
			out = append(out, '*')
		} else {
			out = append(out, byte(q+33))
		}
	}
	return append(out, '\n')
}

func newPileupCommand(options *globalOptions) *cobra.Command {
	var (
		filter       filterOptions
		useMD        bool
		includeZeros bool
	)
	command := &cobra.Command{
		Use:   "pileup <file.bam> [region...]",
		Short: "Print per-position pileups",
		Long: `Print one line per reference position covered by the reads of a
coordinate-sorted BAM file: the reference name, the 1-based position,
the reference base, the coverage, the read bases, and the base
qualities.

Deletions and skipped regions show as '-' in the bases and '*' in the
qualities. The reference base is N unless --use-md reconstructs it
from the MD tags of the reads.`,
		Example: `  elbam pileup sample.bam chr1:500,001-500,100 --use-md --min-mapq 11`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			reader, err := bam.Open(args[0], options.threads)
			if err != nil {
				return err
			}
			defer reader.Close()
			keep := filter.filter()

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer func() {
				if nerr := out.Flush(); err == nil {
					err = nerr
				}
			}()
			var buf []byte
			return timedRun(options.timed, "Piling up "+args[0]+".", func() error {
				return forEachRegion(reader, args[1:], func(region *bam.Region, it *bam.Iterator) error {
					p := pileup.New(pileup.Filter(it, keep), useMD, !includeZeros)
					for p.Next() {
						column := p.Column()
						if region != nil && (column.Position() < region.Start || column.Position() >= region.End) {
							continue
						}
						refName, err := reader.ReferenceName(column.RefID())
						if err != nil {
							return err
						}
						buf = appendColumn(buf[:0], refName, column)
						if _, err := out.Write(buf); err != nil {
							return err
						}
					}
					return p.Err()
				})
			})
		},
	}
	flags := command.Flags()
	flags.BoolVar(&useMD, "use-md", false, "reconstruct reference bases from MD tags")
	flags.BoolVar(&includeZeros, "include-zero-coverage", false, "also print positions without reads between covered positions")
	filter.register(flags)
	return command
}
