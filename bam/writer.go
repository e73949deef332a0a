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
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sync"

	"github.com/exascience/elbam/internal"
	"github.com/exascience/elbam/utils/bgzf"
)

const (
	writerNew = iota
	writerHeaderWritten
	writerReady
)

// Writer writes a BAM file. The header text must be written first,
// then the reference dictionary, and then the records. A Writer is not
// safe for concurrent use.
type Writer struct {
	filename  string
	closer    io.Closer
	bgzf      *bgzf.Writer
	state     int
	nRefs     int
	buf       []byte
	closeOnce sync.Once
	closeErr  error
}

// NewWriter returns a Writer that writes a BAM file to w, compressing
// at the given level (-1 to 9) with the given number of threads.
// Closing the Writer does not close w.
func NewWriter(w io.Writer, level, threads int) (*Writer, error) {
	bgzfWriter, err := bgzf.NewWriter(w, level, threads)
	if err != nil {
		return nil, err
	}
	return &Writer{bgzf: bgzfWriter}, nil
}

// Create creates or truncates the named file and returns a Writer for
// it. Closing the Writer closes the file. A Writer that is dropped
// without Close is closed by a finalizer on a best-effort basis, but
// only an explicit Close reports errors.
func Create(filename string, level, threads int) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(file, level, threads)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	writer.filename = filename
	writer.closer = file
	runtime.SetFinalizer(writer, func(writer *Writer) {
		log.Println("Warning: BAM file", writer.filename, "was not closed explicitly")
		if err := writer.Close(); err != nil {
			log.Println("Warning: closing", writer.filename, ":", err)
		}
	})
	return writer, nil
}

// WriteHeader writes the SAM header text. It must be called first.
func (writer *Writer) WriteHeader(text string) error {
	if writer.state != writerNew {
		return fmt.Errorf("%w: header already written", ErrWriterNotInitialized)
	}
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)
	*buf = appendHeaderText(*buf, text)
	if _, err := writer.bgzf.Write(*buf); err != nil {
		return err
	}
	writer.state = writerHeaderWritten
	return nil
}

// WriteReferences writes the reference dictionary. It must be called
// after WriteHeader and before WriteRecord. The IDs of the references
// are their indices in refs.
func (writer *Writer) WriteReferences(refs []Reference) error {
	if writer.state != writerHeaderWritten {
		return fmt.Errorf("%w: references must follow the header", ErrWriterNotInitialized)
	}
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)
	*buf = appendReferences(*buf, refs)
	if _, err := writer.bgzf.Write(*buf); err != nil {
		return err
	}
	writer.nRefs = len(refs)
	writer.state = writerReady
	return nil
}

// WriteRecord writes an alignment record. The reference IDs of the
// record must be valid for the written reference dictionary.
func (writer *Writer) WriteRecord(rec *Record) error {
	if writer.state != writerReady {
		return fmt.Errorf("%w: records must follow the references", ErrWriterNotInitialized)
	}
	if int(rec.RefID) >= writer.nRefs || int(rec.MateRefID) >= writer.nRefs {
		return fmt.Errorf("%w: reference ID out of range in record %v", ErrInvalidRecord, rec.Name)
	}
	var err error
	if writer.buf, err = rec.Encode(writer.buf[:0]); err != nil {
		return err
	}
	_, err = writer.bgzf.Write(writer.buf)
	return err
}

// Offset returns the virtual offset at which the next record will start.
func (writer *Writer) Offset() (bgzf.Offset, error) {
	return writer.bgzf.Offset()
}

// Flush ends the current BGZF block.
func (writer *Writer) Flush() error {
	return writer.bgzf.Flush()
}

// Close writes all pending data and the EOF marker block, and closes
// the file if the Writer was created with Create. Only the first call
// has an effect; later calls return the same result.
func (writer *Writer) Close() error {
	writer.closeOnce.Do(func() {
		runtime.SetFinalizer(writer, nil)
		writer.closeErr = writer.bgzf.Close()
		if writer.closer != nil {
			if err := writer.closer.Close(); writer.closeErr == nil {
				writer.closeErr = err
			}
		}
	})
	return writer.closeErr
}
