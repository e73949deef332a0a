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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
	"github.com/klauspost/compress/flate"
)

type (
	// blockSource reads compressed blocks sequentially, starting at
	// a given file offset.
	blockSource struct {
		ctx     context.Context
		r       io.Reader
		coffset int64
		sawEOF  bool
		err     error
		data    interface{}
	}

	// readerRun is one run of the decompression pipeline. A new run
	// is started on every Seek.
	readerRun struct {
		src     blockSource
		p       pipeline.Pipeline
		w       sync.WaitGroup
		channel chan *block
		cancel  context.CancelFunc
	}

	// Reader reads in parallel from a BGZF file.
	Reader struct {
		r       io.Reader
		seeker  io.Seeker
		threads int
		start   int64
		run     *readerRun
		block   *block
		index   int
		err     error
		closed  bool
	}
)

// Err implements the corresponding method of pipeline.Source
func (src *blockSource) Err() error {
	if src.err != io.EOF {
		return src.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (src *blockSource) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (src *blockSource) Fetch(size int) (fetched int) {
	src.data = nil
	if src.err != nil {
		return 0
	}
	select {
	case <-src.ctx.Done():
		return 0
	default:
	}
	b, err := readBlock(src.r, src.coffset)
	if err != nil {
		if err == io.EOF && !src.sawEOF {
			err = ErrMissingEOF
		}
		src.err = err
		return 0
	}
	src.sawEOF = b.size == 0
	src.coffset = b.next
	src.data = b
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (src *blockSource) Data() interface{} {
	return src.data
}

var flateReaderPool sync.Pool

func inflateBlock(b *block) *block {
	defer releaseBlock(b)
	out := blockPool.Get().(*block)
	out.coffset, out.next = b.coffset, b.next
	out.data = out.data[:int(b.size)]
	blockReader := bytes.NewReader(b.data)
	var flateReader io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		flateReader = flate.NewReader(blockReader)
	} else {
		flateReader = pooled.(io.ReadCloser)
		if err := flateReader.(flate.Resetter).Reset(blockReader, nil); err != nil {
			flateReader = flate.NewReader(blockReader)
		}
	}
	defer flateReaderPool.Put(flateReader)
	if _, err := io.ReadFull(flateReader, out.data); err != nil {
		out.err = truncated(err, b.coffset)
	} else if crc32.ChecksumIEEE(out.data) != b.crc32 {
		out.err = fmt.Errorf("%w: invalid CRC-32 value for block at file offset %v", ErrIO, b.coffset)
	} else if err := flateReader.Close(); err != nil {
		out.err = truncated(err, b.coffset)
	}
	return out
}

// NewReader returns a Reader that inflates BGZF blocks from r using the
// given number of threads. If threads <= 0, one thread is used. If r is
// an io.Seeker that supports seeking, the Reader supports Seek.
//
// The first block is read eagerly to verify that r is a BGZF stream.
func NewReader(r io.Reader, threads int) (*Reader, error) {
	if threads <= 0 {
		threads = 1
	}
	bgzf := &Reader{r: r, threads: threads}
	if seeker, ok := r.(io.Seeker); ok {
		if pos, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			bgzf.seeker = seeker
			bgzf.start = pos
		}
	}
	bgzf.startRun(bgzf.start)
	if err := bgzf.fetchBlock(); err != nil {
		if err != io.EOF {
			_ = bgzf.Close()
			return nil, err
		}
		bgzf.err = err
	}
	return bgzf, nil
}

func (bgzf *Reader) startRun(coffset int64) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &readerRun{
		channel: make(chan *block, bgzf.threads),
		cancel:  cancel,
	}
	run.src = blockSource{
		ctx:     ctx,
		r:       bufio.NewReaderSize(bgzf.r, MaxBlockSize),
		coffset: coffset,
	}
	run.p.Source(&run.src)
	run.p.Add(pipeline.LimitedPar(bgzf.threads, pipeline.Receive(func(_ int, data interface{}) interface{} {
		return inflateBlock(data.(*block))
	})), pipeline.StrictOrd(pipeline.ReceiveAndFinalize(func(_ int, data interface{}) interface{} {
		select {
		case <-ctx.Done():
			releaseBlock(data.(*block))
		case run.channel <- data.(*block):
		}
		return nil
	}, func() {
		close(run.channel)
	})))
	run.w.Add(1)
	go func() {
		defer run.w.Done()
		run.p.Run()
	}()
	bgzf.run = run
}

func (run *readerRun) stop() {
	run.cancel()
	run.w.Wait()
}

// fetchBlock makes the next non-empty block current. Empty blocks are
// still made current on the way, so that Offset sees their successors.
func (bgzf *Reader) fetchBlock() error {
	for {
		b, ok := <-bgzf.run.channel
		if !ok {
			bgzf.run.w.Wait()
			if err := bgzf.run.src.Err(); err != nil {
				return err
			}
			if err := bgzf.run.p.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			return io.EOF
		}
		if b.err != nil {
			err := b.err
			releaseBlock(b)
			return err
		}
		if bgzf.block != nil {
			releaseBlock(bgzf.block)
		}
		bgzf.block, bgzf.index = b, 0
		if len(b.data) > 0 {
			return nil
		}
	}
}

// Read implements the corresponding method of io.Reader
func (bgzf *Reader) Read(p []byte) (n int, err error) {
	if bgzf.closed {
		return 0, ErrClosed
	}
	if bgzf.err != nil {
		return 0, bgzf.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for bgzf.block == nil || bgzf.index == len(bgzf.block.data) {
		if err = bgzf.fetchBlock(); err != nil {
			bgzf.err = err
			return 0, err
		}
	}
	n = copy(p, bgzf.block.data[bgzf.index:])
	bgzf.index += n
	return n, nil
}

// Offset returns the virtual offset of the next byte that Read
// returns. At the end of a block, this is the start of the next block.
func (bgzf *Reader) Offset() Offset {
	if bgzf.block == nil {
		return MakeOffset(bgzf.start, 0)
	}
	if bgzf.index == len(bgzf.block.data) {
		return MakeOffset(bgzf.block.next, 0)
	}
	return MakeOffset(bgzf.block.coffset, uint16(bgzf.index))
}

// Seek positions the Reader at the given virtual offset. Seeking within
// the current block does not touch the underlying reader.
func (bgzf *Reader) Seek(off Offset) error {
	if bgzf.closed {
		return ErrClosed
	}
	if b := bgzf.block; b != nil && bgzf.err == nil {
		if off.File() == b.coffset && int(off.Block()) <= len(b.data) {
			bgzf.index = int(off.Block())
			return nil
		}
		if off.File() == b.next && off.Block() == 0 && bgzf.index == len(b.data) {
			return nil
		}
	}
	if bgzf.seeker == nil {
		return fmt.Errorf("%w: cannot seek in a non-seekable stream", ErrIO)
	}
	bgzf.run.stop()
	if bgzf.block != nil {
		releaseBlock(bgzf.block)
		bgzf.block = nil
	}
	bgzf.err = nil
	if _, err := bgzf.seeker.Seek(off.File(), io.SeekStart); err != nil {
		bgzf.err = fmt.Errorf("%w: %v", ErrIO, err)
		bgzf.startRun(off.File())
		return bgzf.err
	}
	bgzf.start = off.File()
	bgzf.startRun(off.File())
	if off.Block() == 0 {
		return nil
	}
	if err := bgzf.fetchBlock(); err != nil {
		bgzf.err = err
		return err
	}
	if bgzf.block.coffset != off.File() || int(off.Block()) > len(bgzf.block.data) {
		bgzf.err = fmt.Errorf("%w: virtual offset %v is outside its block", ErrIO, off)
		return bgzf.err
	}
	bgzf.index = int(off.Block())
	return nil
}

// Close stops the decompression pipeline. It does not close the
// underlying reader. Closing a closed Reader has no effect.
func (bgzf *Reader) Close() error {
	if bgzf.closed {
		return nil
	}
	bgzf.closed = true
	bgzf.run.stop()
	if bgzf.block != nil {
		releaseBlock(bgzf.block)
		bgzf.block = nil
	}
	return nil
}
