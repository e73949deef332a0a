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

// Package pileup aggregates coordinate-sorted reads into per-position
// columns.
package pileup

import (
	"errors"
	"fmt"
	"log"

	"github.com/exascience/elbam/bam"
)

var (
	// ErrUnsorted is reported when the reads of a Source are not sorted
	// by reference ID and position.
	ErrUnsorted = errors.New("pileup: reads are not coordinate-sorted")

	// ErrInconsistentMD is reported by a Column when the MD tags of its
	// reads disagree about the reference base.
	ErrInconsistentMD = errors.New("pileup: reads disagree about the reference base")
)

// A Pileup walks the reference positions covered by the reads of a
// Source, one Column at a time.
//
// Unmapped reads and reads without reference-consuming CIGAR
// operations are skipped. If skipZeroCoverage is false, positions
// between reads of the same reference are reported as empty columns.
type Pileup struct {
	src              Source
	useMD            bool
	skipZeroCoverage bool

	pending            *bam.Record
	lastRefID          int32
	lastPos            int32
	sourceExhausted    bool
	started            bool
	warnedInconsistent bool

	active []*element
	refID  int32
	pos    int32

	generation uint64
	column     *Column
	err        error
}

// New returns a pileup over the reads of src. If useMD is true, the
// reference bases are reconstructed from the MD tags of the reads;
// otherwise they are 'N'.
func New(src Source, useMD, skipZeroCoverage bool) *Pileup {
	return &Pileup{
		src:              src,
		useMD:            useMD,
		skipZeroCoverage: skipZeroCoverage,
		lastRefID:        -1,
		lastPos:          -1,
	}
}

// fetch makes the next usable read of the source pending.
func (p *Pileup) fetch() {
	for p.pending == nil && !p.sourceExhausted {
		if !p.src.Next() {
			p.sourceExhausted = true
			if err := p.src.Err(); err != nil {
				p.err = fmt.Errorf("pileup source: %w", err)
			}
			return
		}
		rec := p.src.Record()
		if rec.IsUnmapped() || rec.RefID < 0 || rec.Pos < 0 || bam.ReferenceLength(rec.Cigar) == 0 {
			continue
		}
		if rec.RefID < p.lastRefID || (rec.RefID == p.lastRefID && rec.Pos < p.lastPos) {
			p.sourceExhausted = true
			p.err = fmt.Errorf("%w: read %v at %v:%v follows %v:%v", ErrUnsorted, rec.Name, rec.RefID, rec.Pos, p.lastRefID, p.lastPos)
			return
		}
		p.lastRefID, p.lastPos = rec.RefID, rec.Pos
		p.pending = rec
	}
}

func (p *Pileup) activate(rec *bam.Record) {
	e, ok := newElement(rec)
	if !ok {
		return
	}
	if p.useMD {
		if bases, err := rec.ReferenceBases(); err == nil {
			e.refBases = bases
		}
	}
	p.active = append(p.active, e)
}

// Next moves to the next column and reports whether there is one. It
// invalidates the previous Column and its Read views.
func (p *Pileup) Next() bool {
	p.generation++
	p.column = nil
	if p.err != nil {
		return false
	}
	p.fetch()
	if len(p.active) == 0 {
		if p.pending == nil {
			return false
		}
		if !p.started || p.skipZeroCoverage || p.pending.RefID != p.refID {
			p.refID, p.pos = p.pending.RefID, p.pending.Pos
			p.started = true
		}
	}
	for p.pending != nil && p.pending.RefID == p.refID && p.pending.Pos <= p.pos {
		p.activate(p.pending)
		p.pending = nil
		p.fetch()
	}
	if p.err != nil {
		return false
	}

	column := &Column{
		pileup:        p,
		generation:    p.generation,
		refID:         p.refID,
		pos:           p.pos,
		referenceBase: 'N',
		entries:       make([]element, len(p.active)),
	}
	for i, e := range p.active {
		column.entries[i] = *e
	}
	if p.useMD {
		p.resolveReferenceBase(column)
	}
	p.column = column

	active := p.active[:0]
	for _, e := range p.active {
		if e.next() {
			active = append(active, e)
		}
	}
	clear(p.active[len(active):])
	p.active = active
	p.pos++
	return true
}

// resolveReferenceBase takes the reference base from the first read
// that knows it. Later reads that disagree mark the column.
func (p *Pileup) resolveReferenceBase(column *Column) {
	var base byte
	var first *element
	for i := range column.entries {
		e := &column.entries[i]
		b := e.referenceBase(column.pos)
		if b == 0 {
			continue
		}
		if first == nil {
			base, first = b, e
			continue
		}
		if b != base && column.err == nil {
			column.err = fmt.Errorf("%w: %c from read %v, %c from read %v at %v:%v",
				ErrInconsistentMD, base, first.rec.Name, b, e.rec.Name, column.refID, column.pos)
			if !p.warnedInconsistent {
				p.warnedInconsistent = true
				log.Println("Warning:", column.err)
			}
		}
	}
	if first != nil {
		column.referenceBase = base
	}
}

// Column returns the current column, or nil if Next has not been
// called or returned false.
func (p *Pileup) Column() *Column {
	return p.column
}

// Err returns the error, if any, that ended the pileup.
func (p *Pileup) Err() error {
	return p.err
}
