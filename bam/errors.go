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
	"errors"

	"github.com/exascience/elbam/utils/bgzf"
)

var (
	// ErrCorruptRecord is returned when a serialized record is too
	// short for its fixed part, or a variable-length field overruns
	// the record.
	ErrCorruptRecord = errors.New("bam: corrupt alignment record")

	// ErrInvalidRecord is returned when a record cannot be encoded
	// because its fields are inconsistent.
	ErrInvalidRecord = errors.New("bam: invalid alignment record")

	// ErrInvalidHeader is returned for a malformed BAM header.
	ErrInvalidHeader = errors.New("bam: invalid BAM header")

	// ErrNoIndex is returned by region queries on a file without index.
	ErrNoIndex = errors.New("bam: file has no index")

	// ErrInvalidIndex is returned for a malformed BAI file.
	ErrInvalidIndex = errors.New("bam: invalid BAI index")

	// ErrWriterNotInitialized is returned when records or references
	// are written before the parts of the file that precede them.
	ErrWriterNotInitialized = errors.New("bam: writer not initialized")

	// ErrInvalidTagName is returned for tag names that are not
	// exactly two characters long.
	ErrInvalidTagName = errors.New("bam: tag name must consist of exactly two characters")

	// ErrInvalidTagValue is returned by SetTag for values that have
	// no BAM tag representation.
	ErrInvalidTagValue = errors.New("bam: unsupported tag value type")

	// ErrUndecodedTag is returned by SetTag for names that may occur
	// among the tags that follow a tag of unknown type, which are kept
	// undecoded.
	ErrUndecodedTag = errors.New("bam: tag may be among the undecoded tags of the record")

	// ErrUnknownReference is returned for reference names or IDs that
	// are not in the reference dictionary.
	ErrUnknownReference = errors.New("bam: unknown reference")

	// ErrUnsorted is returned when building an index over records
	// that are not sorted by coordinate.
	ErrUnsorted = errors.New("bam: records not sorted by coordinate")

	// ErrIteratorInvalidated is returned by an Iterator after its
	// Reader started another iteration.
	ErrIteratorInvalidated = errors.New("bam: iterator invalidated by a newer iteration")

	// ErrInvalidRegion is returned by ParseRegion.
	ErrInvalidRegion = errors.New("bam: invalid region")

	// ErrIO is wrapped by errors caused by unreadable or corrupt
	// compressed data.
	ErrIO = bgzf.ErrIO

	// ErrTransportClosed is returned by operations on closed files.
	ErrTransportClosed = bgzf.ErrClosed
)
