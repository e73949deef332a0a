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

// Package cmd implements the elbam command line.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/exascience/elbam/utils"
)

type globalOptions struct {
	logPath string
	threads int
	timed   bool
}

// NewRootCommand returns the elbam command with all its subcommands.
func NewRootCommand() *cobra.Command {
	options := &globalOptions{}
	root := &cobra.Command{
		Use:   utils.ProgramName,
		Short: "Read, index and pile up BAM files",
		Long: `elbam reads, writes and indexes BAM files, and computes per-position
pileups of the reads they contain.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("log-path") {
				if err := setLogOutput(options.logPath); err != nil {
					return fmt.Errorf("cannot create log file: %w", err)
				}
			}
			if options.threads < 1 {
				return fmt.Errorf("invalid number of threads %v", options.threads)
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&options.logPath, "log-path", "", "write a copy of the log to a timestamped file in this directory (default $HOME)")
	flags.IntVar(&options.threads, "nr-of-threads", runtime.GOMAXPROCS(0), "number of worker threads for BGZF compression")
	flags.BoolVar(&options.timed, "timed", false, "log the time taken by the command")

	root.AddCommand(
		newIndexCommand(options),
		newViewCommand(options),
		newPileupCommand(options),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), ProgramMessage)
		},
	}
}

// Execute runs the elbam command line and exits with status 1 on
// failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
