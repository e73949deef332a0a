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

package bgzf

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
	"github.com/klauspost/compress/flate"
)

type (
	bytesBlock struct {
		bytes []byte
	}

	// Writer writes in parallel to a BGZF file.
	Writer struct {
		w       io.Writer
		level   int
		p       pipeline.Pipeline
		wait    sync.WaitGroup
		block   *bytesBlock
		channel chan *bytesBlock
		data    interface{}
		ctx     context.Context
		cancel  context.CancelFunc

		flateWriters sync.Pool

		mutex   sync.Mutex
		cond    sync.Cond
		sent    int
		written int
		coffset int64
		err     error

		closeOnce sync.Once
		closeErr  error
		closed    bool
	}

	internalWriter Writer
)

func (writer *internalWriter) Err() error {
	return nil
}

func (writer *internalWriter) Prepare(_ context.Context) (size int) {
	return -1
}

func (writer *internalWriter) Fetch(size int) (fetched int) {
	select {
	case block, ok := <-writer.channel:
		if ok {
			writer.data = block
			return 1
		}
	case <-writer.ctx.Done():
	}
	writer.data = nil
	return 0
}

func (writer *internalWriter) Data() interface{} {
	return writer.data
}

var bytesPool = sync.Pool{New: func() interface{} {
	return &bytesBlock{bytes: make([]byte, 0, MaxBlockSize)}
}}

func releaseBytes(b *bytesBlock) {
	b.bytes = b.bytes[:0]
	bytesPool.Put(b)
}

// NewWriter returns a Writer that deflates blocks at the given
// compression level using the given number of threads. The level
// ranges from -1 (default compression) over 0 (no compression) to 9
// (best compression). If threads <= 0, one thread is used.
func NewWriter(w io.Writer, level, threads int) (*Writer, error) {
	if level < flate.DefaultCompression || level > flate.BestCompression {
		return nil, fmt.Errorf("bgzf: invalid compression level %v", level)
	}
	if threads <= 0 {
		threads = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	bgzf := &Writer{
		w:       w,
		level:   level,
		block:   bytesPool.Get().(*bytesBlock),
		channel: make(chan *bytesBlock, threads),
		ctx:     ctx,
		cancel:  cancel,
	}
	bgzf.cond.L = &bgzf.mutex
	bgzf.p.Source((*internalWriter)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(threads, pipeline.Receive(func(_ int, data interface{}) interface{} {
		return bgzf.deflateBlock(data.(*bytesBlock))
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		bgzf.output(data.(*bytesBlock))
		return nil
	})))
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		bgzf.p.Run()
	}()
	return bgzf, nil
}

func (bgzf *Writer) setErr(err error) {
	bgzf.mutex.Lock()
	if bgzf.err == nil {
		bgzf.err = err
		bgzf.cancel()
	}
	bgzf.cond.Broadcast()
	bgzf.mutex.Unlock()
}

func (bgzf *Writer) failed() error {
	bgzf.mutex.Lock()
	defer bgzf.mutex.Unlock()
	return bgzf.err
}

func (bgzf *Writer) appendBlock(out, data []byte, level int) ([]byte, error) {
	buf := bytes.NewBuffer(append(out, blockHeader...))
	var flateWriter *flate.Writer
	if level == bgzf.level {
		if pooled := bgzf.flateWriters.Get(); pooled != nil {
			flateWriter = pooled.(*flate.Writer)
			flateWriter.Reset(buf)
			defer bgzf.flateWriters.Put(flateWriter)
		}
	}
	if flateWriter == nil {
		var err error
		if flateWriter, err = flate.NewWriter(buf, level); err != nil {
			return nil, err
		}
		if level == bgzf.level {
			defer bgzf.flateWriters.Put(flateWriter)
		}
	}
	if _, err := flateWriter.Write(data); err != nil {
		return nil, err
	}
	if err := flateWriter.Close(); err != nil {
		return nil, err
	}
	out = buf.Bytes()
	index := len(out)
	out = append(out, make([]byte, footerSize)...)
	binary.LittleEndian.PutUint32(out[index:index+4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(out[index+4:index+8], uint32(len(data)))
	binary.LittleEndian.PutUint16(out[16:18], uint16(len(out)-1))
	return out, nil
}

func (bgzf *Writer) deflateBlock(block *bytesBlock) *bytesBlock {
	defer releaseBytes(block)
	gzBytes := bytesPool.Get().(*bytesBlock)
	out, err := bgzf.appendBlock(gzBytes.bytes[:0], block.bytes, bgzf.level)
	if err == nil && len(out) > MaxBlockSize {
		out, err = bgzf.appendBlock(gzBytes.bytes[:0], block.bytes, flate.NoCompression)
	}
	if err != nil {
		bgzf.setErr(fmt.Errorf("bgzf: %v", err))
		out = gzBytes.bytes[:0]
	}
	gzBytes.bytes = out
	return gzBytes
}

func (bgzf *Writer) output(gzBytes *bytesBlock) {
	defer releaseBytes(gzBytes)
	if bgzf.failed() == nil && len(gzBytes.bytes) > 0 {
		if _, err := bgzf.w.Write(gzBytes.bytes); err != nil {
			bgzf.setErr(err)
		}
	}
	bgzf.mutex.Lock()
	bgzf.coffset += int64(len(gzBytes.bytes))
	bgzf.written++
	bgzf.cond.Broadcast()
	bgzf.mutex.Unlock()
}

func (bgzf *Writer) sendBlock() error {
	bgzf.mutex.Lock()
	bgzf.sent++
	bgzf.mutex.Unlock()
	select {
	case bgzf.channel <- bgzf.block:
		bgzf.block = bytesPool.Get().(*bytesBlock)
		return nil
	case <-bgzf.ctx.Done():
		return bgzf.failed()
	}
}

// Write implements the corresponding method of io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	if bgzf.closed {
		return 0, ErrClosed
	}
	if err = bgzf.failed(); err != nil {
		return 0, err
	}
	for len(p) > 0 {
		k := min(maxDataSize-len(bgzf.block.bytes), len(p))
		bgzf.block.bytes = append(bgzf.block.bytes, p[:k]...)
		p = p[k:]
		n += k
		if len(bgzf.block.bytes) == maxDataSize {
			if err = bgzf.sendBlock(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush ends the current block, so that the next byte written starts a
// new block. Flushing an empty block has no effect.
func (bgzf *Writer) Flush() error {
	if bgzf.closed {
		return ErrClosed
	}
	if len(bgzf.block.bytes) > 0 {
		if err := bgzf.sendBlock(); err != nil {
			return err
		}
	}
	return bgzf.failed()
}

// Offset returns the virtual offset at which the next byte written will
// be stored. It waits until all pending blocks are written.
func (bgzf *Writer) Offset() (Offset, error) {
	if bgzf.closed {
		return 0, ErrClosed
	}
	bgzf.mutex.Lock()
	for bgzf.written < bgzf.sent && bgzf.err == nil {
		bgzf.cond.Wait()
	}
	coffset, err := bgzf.coffset, bgzf.err
	bgzf.mutex.Unlock()
	if err != nil {
		return 0, err
	}
	return MakeOffset(coffset, uint16(len(bgzf.block.bytes))), nil
}

// Close writes all pending data followed by the EOF marker block. It
// does not close the underlying writer. Only the first call has an
// effect; later calls return the same result.
func (bgzf *Writer) Close() error {
	bgzf.closeOnce.Do(func() {
		var err error
		if len(bgzf.block.bytes) > 0 {
			err = bgzf.sendBlock()
		}
		close(bgzf.channel)
		bgzf.wait.Wait()
		if err == nil {
			err = bgzf.failed()
		}
		if err == nil {
			err = bgzf.p.Err()
		}
		if err == nil {
			_, err = bgzf.w.Write(eofMarker)
		}
		bgzf.cancel()
		bgzf.closed = true
		bgzf.closeErr = err
	})
	return bgzf.closeErr
}
