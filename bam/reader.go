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
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/exascience/elbam/internal"
	"github.com/exascience/elbam/utils/bgzf"
)

// Reader reads a BAM file. A Reader has a single cursor into the file:
// starting a new iteration with AllReads or Fetch invalidates all
// earlier iterators. A Reader is not safe for concurrent use.
type Reader struct {
	filename   string
	file       *os.File
	bgzf       *bgzf.Reader
	header     *Header
	refs       []Reference
	refMap     map[string]int
	records    bgzf.Offset
	index      *Index
	generation int
	closed     bool
}

// Open opens a BAM file for reading, using the given number of threads
// for decompression. It reads the header and the reference dictionary,
// and loads the BAI index if it exists. Files that do not end in a
// BGZF EOF marker block are rejected.
func Open(filename string, threads int) (reader *Reader, err error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = file.Close()
		}
	}()
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if err := bgzf.CheckEOF(file, stat.Size()); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	internal.AdviseSequential(file)
	bgzfReader, err := bgzf.NewReader(file, threads)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	header, refs, err := readHeader(bgzfReader)
	if err != nil {
		_ = bgzfReader.Close()
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	reader = &Reader{
		filename: filename,
		file:     file,
		bgzf:     bgzfReader,
		header:   header,
		refs:     refs,
		refMap:   make(map[string]int, len(refs)),
		records:  bgzfReader.Offset(),
	}
	for _, ref := range refs {
		reader.refMap[ref.Name] = ref.ID
	}
	reader.loadIndex()
	return reader, nil
}

func (reader *Reader) loadIndex() {
	indexFilename := internal.IndexFilename(reader.filename)
	f, err := os.Open(indexFilename)
	if err != nil {
		return
	}
	defer f.Close()
	index, err := ReadIndex(f)
	if err != nil {
		log.Println("Warning: ignoring index", indexFilename, ":", err)
		return
	}
	if index.NumReferences() != len(reader.refs) {
		log.Println("Warning: ignoring index", indexFilename, ": number of references does not match", reader.filename)
		return
	}
	reader.index = index
}

// Filename returns the name of the file.
func (reader *Reader) Filename() string {
	return reader.filename
}

// Header returns the header of the file.
func (reader *Reader) Header() *Header {
	return reader.header
}

// References returns the reference dictionary of the file.
func (reader *Reader) References() []Reference {
	return reader.refs
}

// Reference returns the reference with the given name.
func (reader *Reader) Reference(name string) (Reference, bool) {
	if id, ok := reader.refMap[name]; ok {
		return reader.refs[id], true
	}
	return Reference{}, false
}

// ReferenceName returns the name of the reference with the given ID,
// or "*" for -1.
func (reader *Reader) ReferenceName(id int) (string, error) {
	switch {
	case id == -1:
		return "*", nil
	case id < -1 || id >= len(reader.refs):
		return "", fmt.Errorf("%w: reference ID %v", ErrUnknownReference, id)
	default:
		return reader.refs[id].Name, nil
	}
}

// HasIndex reports whether an index is available for region queries.
func (reader *Reader) HasIndex() bool {
	return reader.index != nil
}

// Index returns the index of the file, or nil.
func (reader *Reader) Index() *Index {
	return reader.index
}

// CreateIndex builds the BAI index of the file and stores it next to
// the file. If an index file already exists and overwrite is false,
// the existing index is kept. Building the index reads the whole file,
// which invalidates all iterators.
func (reader *Reader) CreateIndex(overwrite bool) error {
	if reader.closed {
		return ErrTransportClosed
	}
	indexFilename := internal.IndexFilename(reader.filename)
	if !overwrite {
		exists, err := internal.FileExists(indexFilename)
		if err != nil {
			return err
		}
		if exists {
			if reader.index == nil {
				reader.loadIndex()
			}
			return nil
		}
	}
	index, err := BuildIndex(len(reader.refs), reader.AllReads())
	if err != nil {
		return fmt.Errorf("%v: %w", reader.filename, err)
	}
	if err := internal.WriteFileAtomically(indexFilename, func(w io.Writer) error {
		_, err := index.WriteTo(w)
		return err
	}); err != nil {
		return err
	}
	reader.index = index
	return nil
}

// AllReads returns an iterator over all records of the file, in file
// order.
func (reader *Reader) AllReads() *Iterator {
	reader.generation++
	it := &Iterator{reader: reader, generation: reader.generation}
	if reader.closed {
		it.err = ErrTransportClosed
		it.done = true
		return it
	}
	if err := reader.bgzf.Seek(reader.records); err != nil {
		it.err = err
		it.done = true
	}
	return it
}

// Fetch returns an iterator over the records of the named reference
// that overlap the 0-based half-open region [start, end), in file
// order. It requires an index.
func (reader *Reader) Fetch(name string, start, end int) (*Iterator, error) {
	id, ok := reader.refMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownReference, name)
	}
	return reader.FetchID(id, start, end)
}

// FetchID is like Fetch, but takes a reference ID.
func (reader *Reader) FetchID(id, start, end int) (*Iterator, error) {
	if reader.closed {
		return nil, ErrTransportClosed
	}
	if id < 0 || id >= len(reader.refs) {
		return nil, fmt.Errorf("%w: reference ID %v", ErrUnknownReference, id)
	}
	if reader.index == nil {
		return nil, fmt.Errorf("%v: %w", reader.filename, ErrNoIndex)
	}
	reader.generation++
	return &Iterator{
		reader:     reader,
		generation: reader.generation,
		region:     true,
		chunks:     reader.index.Query(id, start, end),
		refID:      int32(id),
		start:      start,
		end:        end,
	}, nil
}

// maxRecordSize bounds the block_size of a serialized record, so that
// a corrupt length is reported before it is allocated.
const maxRecordSize = 1 << 28

// readRecord reads the next serialized record into buf and decodes it.
func (reader *Reader) readRecord(buf []byte) (*Record, []byte, error) {
	_, buf = enlarge(buf[:0], 4)
	if n, err := io.ReadFull(reader.bgzf, buf); err != nil {
		if n == 0 && err == io.EOF {
			return nil, buf, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("%w: truncated record length", ErrCorruptRecord)
		}
		return nil, buf, err
	}
	size := int(int32(binary.LittleEndian.Uint32(buf)))
	if size < readNameIndex || size > maxRecordSize {
		return nil, buf, fmt.Errorf("%w: invalid record length %v", ErrCorruptRecord, size)
	}
	_, buf = enlarge(buf[:0], size)
	if _, err := io.ReadFull(reader.bgzf, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("%w: truncated record", ErrCorruptRecord)
		}
		return nil, buf, err
	}
	rec, err := Decode(buf)
	return rec, buf, err
}

// Close closes the file. Iterators of a closed Reader report
// ErrTransportClosed. Closing a closed Reader has no effect.
func (reader *Reader) Close() error {
	if reader.closed {
		return nil
	}
	reader.closed = true
	reader.generation++
	err := reader.bgzf.Close()
	if ferr := reader.file.Close(); err == nil {
		err = ferr
	}
	return err
}
