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
	"log"

	"github.com/spf13/cobra"

	"github.com/exascience/elbam/bam"
)

func newIndexCommand(options *globalOptions) *cobra.Command {
	var overwrite bool
	command := &cobra.Command{
		Use:   "index <file.bam>...",
		Short: "Create BAI index files",
		Long: `Create a BAI index file next to each given coordinate-sorted BAM file.

Existing index files are kept unless --overwrite is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			for _, filename := range args {
				err := timedRun(options.timed, "Indexing "+filename+".", func() error {
					reader, err := bam.Open(filename, options.threads)
					if err != nil {
						return err
					}
					defer reader.Close()
					return reader.CreateIndex(overwrite)
				})
				if err != nil {
					log.Printf("Error: cannot index %v: %v", filename, err)
					return err
				}
			}
			return nil
		},
	}
	command.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing index files")
	return command
}
