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
	"strconv"
	"strings"

	"github.com/exascience/elbam/utils"
)

// bamMagic is the magic string for the BAM format. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
const bamMagic = "BAM\x01"

// Header holds the SAM header text of a BAM file verbatim.
type Header struct {
	Text string
}

// Records returns the fields of all header lines with the given
// two-letter record type code, such as "SQ" or "RG". Malformed fields
// are skipped.
func (hdr *Header) Records(code string) []utils.StringMap {
	var records []utils.StringMap
	prefix := "@" + code + "\t"
	for _, line := range strings.Split(hdr.Text, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		record := make(utils.StringMap)
		for _, field := range strings.Split(strings.TrimRight(line[len(prefix):], "\r"), "\t") {
			if len(field) > 3 && field[2] == ':' {
				record.SetUniqueEntry(field[:2], field[3:])
			}
		}
		records = append(records, record)
	}
	return records
}

// ReadGroup returns the fields of the @RG line with the given ID.
func (hdr *Header) ReadGroup(id string) (utils.StringMap, bool) {
	rg := hdr.Records("RG")
	if index := utils.Find(rg, func(record utils.StringMap) bool { return record["ID"] == id }); index >= 0 {
		return rg[index], true
	}
	return nil, false
}

// SortOrder returns the SO field of the @HD line, or "unknown".
func (hdr *Header) SortOrder() string {
	if hd := hdr.Records("HD"); len(hd) > 0 {
		if so, found := hd[0]["SO"]; found {
			return so
		}
	}
	return "unknown"
}

// References returns the reference dictionary described by the @SQ
// lines of the header text.
func (hdr *Header) References() ([]Reference, error) {
	var refs []Reference
	for i, sq := range hdr.Records("SQ") {
		name, found := sq["SN"]
		if !found {
			return nil, fmt.Errorf("%w: SN entry in a SQ header line missing", ErrInvalidHeader)
		}
		ln, err := strconv.ParseInt(sq["LN"], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid LN entry for reference %v", ErrInvalidHeader, name)
		}
		refs = append(refs, Reference{ID: i, Name: name, Length: int32(ln)})
	}
	return refs, nil
}

func headerError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: unexpected end of header", ErrInvalidHeader)
	}
	return err
}

func readInt32(r io.Reader, buf []byte) (int32, error) {
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return 0, headerError(err)
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// readHeader parses the header section of a BAM file. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func readHeader(r io.Reader) (*Header, []Reference, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, headerError(err)
	}
	if string(buf) != bamMagic {
		return nil, nil, fmt.Errorf("%w: missing BAM magic", ErrInvalidHeader)
	}
	lText, err := readInt32(r, buf)
	if err != nil {
		return nil, nil, err
	}
	if lText < 0 {
		return nil, nil, fmt.Errorf("%w: negative header length", ErrInvalidHeader)
	}
	text := make([]byte, lText)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, nil, headerError(err)
	}
	for i, b := range text {
		if b == 0 {
			text = text[:i]
			break
		}
	}
	nRef, err := readInt32(r, buf)
	if err != nil {
		return nil, nil, err
	}
	if nRef < 0 {
		return nil, nil, fmt.Errorf("%w: negative number of references", ErrInvalidHeader)
	}
	refs := make([]Reference, 0, min(int(nRef), 1<<16))
	for i := 0; i < int(nRef); i++ {
		lName, err := readInt32(r, buf)
		if err != nil {
			return nil, nil, err
		}
		if lName <= 0 || lName > 1<<20 {
			return nil, nil, fmt.Errorf("%w: invalid reference name length %v", ErrInvalidHeader, lName)
		}
		name := make([]byte, lName)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, nil, headerError(err)
		}
		lRef, err := readInt32(r, buf)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, Reference{ID: i, Name: string(name[:lName-1]), Length: lRef})
	}
	return &Header{Text: string(text)}, refs, nil
}

func appendHeaderText(out []byte, text string) []byte {
	out = append(out, bamMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(text)))
	return append(out, text...)
}

func appendReferences(out []byte, refs []Reference) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(refs)))
	for _, ref := range refs {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(ref.Name)+1))
		out = append(append(out, ref.Name...), 0)
		out = binary.LittleEndian.AppendUint32(out, uint32(ref.Length))
	}
	return out
}
