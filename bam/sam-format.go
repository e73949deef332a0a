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

import "strconv"

const hexDigits = "0123456789ABCDEF"

func appendReferenceName(out []byte, refs []Reference, id int32) []byte {
	if id >= 0 && int(id) < len(refs) {
		return append(out, refs[id].Name...)
	}
	if id >= 0 {
		return strconv.AppendInt(append(out, '#'), int64(id), 10)
	}
	return append(out, '*')
}

// appendSamTag appends a tag in SAM text format.
func appendSamTag(out []byte, name string, value interface{}) []byte {
	out = append(append(out, '\t'), name...)
	switch val := value.(type) {
	case Char:
		out = append(append(out, ":A:"...), byte(val))
	case int8:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case uint8:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case int16:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case uint16:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case int32:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case uint32:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case float32:
		out = strconv.AppendFloat(append(out, ":f:"...), float64(val), 'g', -1, 32)
	case string:
		out = append(append(out, ":Z:"...), val...)
	case Hex:
		out = append(out, ":H:"...)
		for _, b := range val {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
	case []int8:
		out = append(out, ":B:c"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint8:
		out = append(out, ":B:C"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []int16:
		out = append(out, ":B:s"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint16:
		out = append(out, ":B:S"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []int32:
		out = append(out, ":B:i"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint32:
		out = append(out, ":B:I"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []float32:
		out = append(out, ":B:f"...)
		for _, v := range val {
			out = strconv.AppendFloat(append(out, ','), float64(v), 'g', -1, 32)
		}
	}
	return out
}

// Format appends the record as a line of SAM text, without trailing
// newline, to out. Reference IDs are resolved in refs; IDs not in refs
// are rendered as #id. Positions are rendered 1-based. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.4.
func (rec *Record) Format(refs []Reference, out []byte) []byte {
	if rec.Name == "" {
		out = append(out, '*')
	} else {
		out = append(out, rec.Name...)
	}
	out = strconv.AppendUint(append(out, '\t'), uint64(rec.Flag), 10)
	out = appendReferenceName(append(out, '\t'), refs, rec.RefID)
	out = strconv.AppendInt(append(out, '\t'), int64(rec.Pos)+1, 10)
	out = strconv.AppendUint(append(out, '\t'), uint64(rec.MapQ), 10)
	out = AppendCigar(append(out, '\t'), rec.Cigar)
	out = append(out, '\t')
	if rec.MateRefID >= 0 && rec.MateRefID == rec.RefID {
		out = append(out, '=')
	} else {
		out = appendReferenceName(out, refs, rec.MateRefID)
	}
	out = strconv.AppendInt(append(out, '\t'), int64(rec.MatePos)+1, 10)
	out = strconv.AppendInt(append(out, '\t'), int64(rec.TLen), 10)
	out = append(out, '\t')
	if rec.Seq.Len() == 0 {
		out = append(out, '*')
	} else {
		out = append(out, rec.Seq.Bases()...)
	}
	out = append(out, '\t')
	if len(rec.Qual) == 0 || rec.Qual[0] == 0xFF {
		out = append(out, '*')
	} else {
		for _, q := range rec.Qual {
			out = append(out, q+33)
		}
	}
	for _, entry := range rec.Tags {
		out = appendSamTag(out, entry.Name, entry.Value)
	}
	return out
}

// String returns the record as SAM text with numeric reference IDs.
func (rec *Record) String() string {
	return string(rec.Format(nil, nil))
}
