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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exascience/elbam/bam"
)

// forEachRegion calls f with each region and an iterator over its
// reads, or once with a nil region and an iterator over all reads if
// there are no regions.
func forEachRegion(reader *bam.Reader, regions []string, f func(*bam.Region, *bam.Iterator) error) error {
	if len(regions) == 0 {
		return f(nil, reader.AllReads())
	}
	for _, s := range regions {
		region, err := reader.ParseRegion(s)
		if err != nil {
			return err
		}
		it, err := reader.FetchRegion(region)
		if errors.Is(err, bam.ErrNoIndex) {
			return fmt.Errorf("%w: run elbam index %v first", err, reader.Filename())
		} else if err != nil {
			return err
		}
		if err := f(&region, it); err != nil {
			return err
		}
	}
	return nil
}

func newViewCommand(options *globalOptions) *cobra.Command {
	var (
		filter           filterOptions
		count, header    bool
		output           string
		compressionLevel int
	)
	command := &cobra.Command{
		Use:   "view <file.bam> [region...]",
		Short: "Print or extract reads",
		Long: `Print the reads of a BAM file as SAM text, or write them to a new BAM
file with --output.

Regions have the form ref, ref:start or ref:start-end, with 1-based
inclusive positions, and require an index.`,
		Example: `  elbam view sample.bam chr1:1,000,000-2,000,000 --count
  elbam view sample.bam chr2 --min-mapq 20 --output chr2.bam`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			reader, err := bam.Open(args[0], options.threads)
			if err != nil {
				return err
			}
			defer reader.Close()
			refs := reader.References()
			keep := filter.filter()

			var writer *bam.Writer
			out := bufio.NewWriter(cmd.OutOrStdout())
			defer func() {
				if nerr := out.Flush(); err == nil {
					err = nerr
				}
			}()
			switch {
			case count:
			case output != "":
				if writer, err = bam.Create(output, compressionLevel, options.threads); err != nil {
					return err
				}
				defer func() {
					if nerr := writer.Close(); err == nil {
						err = nerr
					}
				}()
				if err = writer.WriteHeader(reader.Header().Text); err != nil {
					return err
				}
				if err = writer.WriteReferences(refs); err != nil {
					return err
				}
			case header:
				if _, err = out.WriteString(reader.Header().Text); err != nil {
					return err
				}
			}

			var n int
			var buf []byte
			err = timedRun(options.timed, "Viewing "+args[0]+".", func() error {
				return forEachRegion(reader, args[1:], func(_ *bam.Region, it *bam.Iterator) error {
					for it.Next() {
						rec := it.Record()
						if keep != nil && !keep(rec) {
							continue
						}
						n++
						switch {
						case count:
						case writer != nil:
							if err := writer.WriteRecord(rec); err != nil {
								return err
							}
						default:
							buf = append(rec.Format(refs, buf[:0]), '\n')
							if _, err := out.Write(buf); err != nil {
								return err
							}
						}
					}
					return it.Err()
				})
			})
			if err != nil {
				return err
			}
			if count {
				_, err = fmt.Fprintln(out, n)
			}
			return err
		},
	}
	flags := command.Flags()
	flags.BoolVar(&count, "count", false, "only print the number of reads")
	flags.BoolVar(&header, "header", false, "print the header text before the reads")
	flags.StringVar(&output, "output", "", "write the reads to this BAM file instead of printing them")
	flags.IntVar(&compressionLevel, "compression-level", -1, "compression level of the --output file, 0 to 9, or -1 for the default")
	filter.register(flags)
	return command
}
