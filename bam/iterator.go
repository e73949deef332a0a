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
	"io"

	"github.com/exascience/elbam/utils/bgzf"
)

// Iterator iterates over records of a Reader. Use it as follows:
//
//	it := reader.AllReads()
//	for it.Next() {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	reader     *Reader
	generation int

	region     bool
	chunks     []bgzf.Chunk
	positioned bool
	refID      int32
	start, end int

	record *Record
	chunk  bgzf.Chunk
	buf    []byte
	err    error
	done   bool
}

func (it *Iterator) stop(err error) bool {
	it.record = nil
	it.err = err
	it.done = true
	return false
}

// Next advances to the next record and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	reader := it.reader
	if reader.closed {
		return it.stop(ErrTransportClosed)
	}
	if it.generation != reader.generation {
		return it.stop(ErrIteratorInvalidated)
	}
	for {
		if it.region {
			if len(it.chunks) == 0 {
				return it.stop(nil)
			}
			if !it.positioned {
				if err := reader.bgzf.Seek(it.chunks[0].Begin); err != nil {
					return it.stop(err)
				}
				it.positioned = true
			}
			if reader.bgzf.Offset() >= it.chunks[0].End {
				it.chunks = it.chunks[1:]
				it.positioned = false
				continue
			}
		}
		begin := reader.bgzf.Offset()
		rec, buf, err := reader.readRecord(it.buf)
		it.buf = buf
		if err == io.EOF {
			return it.stop(nil)
		}
		if err != nil {
			return it.stop(err)
		}
		if it.region {
			if rec.RefID != it.refID || int(rec.Pos) >= it.end {
				return it.stop(nil)
			}
			if int(rec.End()) <= it.start {
				continue
			}
		}
		it.record = rec
		it.chunk = bgzf.Chunk{Begin: begin, End: reader.bgzf.Offset()}
		return true
	}
}

// Record returns the current record. The record is owned by the caller.
func (it *Iterator) Record() *Record {
	return it.record
}

// Offset returns the virtual offset at which the current record starts.
func (it *Iterator) Offset() bgzf.Offset {
	return it.chunk.Begin
}

// Chunk returns the virtual offset range of the current record.
func (it *Iterator) Chunk() bgzf.Chunk {
	return it.chunk
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
