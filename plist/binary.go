package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf16"
)

// appleEpoch is 2001-01-01T00:00:00Z, the zero point of binary plist dates.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// maxDepth bounds container nesting so that crafted reference cycles fail
// instead of recursing forever.
const maxDepth = 512

const trailerSize = 32

// binaryDecoder walks the object table of a bplist00 document. Offsets are
// validated up front; limit marks the start of the offset table, past which
// no object payload may extend.
type binaryDecoder struct {
	data    []byte
	refSize int
	limit   int
	offsets []uint64
}

func decodeBinary(data []byte) (Value, error) {
	if len(data) < len(binaryMagic)+trailerSize+2 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a binary plist", ErrMalformed, len(data))
	}
	trailer := data[len(data)-trailerSize:]
	offSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := binary.BigEndian.Uint64(trailer[8:16])
	topObject := binary.BigEndian.Uint64(trailer[16:24])
	tableOffset := binary.BigEndian.Uint64(trailer[24:32])

	if offSize < 1 || offSize > 8 || refSize < 1 || refSize > 8 {
		return nil, fmt.Errorf("%w: implausible offset width %d or reference width %d", ErrMalformed, offSize, refSize)
	}
	if numObjects == 0 || numObjects > uint64(len(data)) {
		return nil, fmt.Errorf("%w: object count %d out of range", ErrMalformed, numObjects)
	}
	if topObject >= numObjects {
		return nil, fmt.Errorf("%w: root object %d beyond table of %d", ErrMalformed, topObject, numObjects)
	}
	// Checked piecewise so a huge tableOffset cannot wrap the sum. The
	// product cannot overflow: numObjects and offSize are bounded above.
	bodyEnd := uint64(len(data) - trailerSize)
	if tableOffset < uint64(len(binaryMagic)) || tableOffset > bodyEnd ||
		numObjects*uint64(offSize) > bodyEnd-tableOffset {
		return nil, fmt.Errorf("%w: offset table out of range", ErrMalformed)
	}

	d := &binaryDecoder{
		data:    data,
		refSize: refSize,
		limit:   int(tableOffset),
		offsets: make([]uint64, numObjects),
	}
	for i := range d.offsets {
		start := tableOffset + uint64(i)*uint64(offSize)
		off := readUint(data[start : start+uint64(offSize)])
		if off < uint64(len(binaryMagic)) || off >= tableOffset {
			return nil, fmt.Errorf("%w: object %d offset %d out of range", ErrMalformed, i, off)
		}
		d.offsets[i] = off
	}
	return d.object(topObject, 0)
}

func (d *binaryDecoder) object(ref uint64, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: object graph too deep", ErrMalformed)
	}
	pos := int(d.offsets[ref])
	marker := d.data[pos]
	p := pos + 1

	switch marker >> 4 {
	case 0x0:
		switch marker {
		case 0x00:
			return Null{}, nil
		case 0x08:
			return Bool(false), nil
		case 0x09:
			return Bool(true), nil
		}
	case 0x1:
		v, _, err := d.intAt(p, int(marker&0x0f))
		if err != nil {
			return nil, err
		}
		return Integer(v), nil
	case 0x2:
		switch marker & 0x0f {
		case 2:
			b, err := d.take(p, 4)
			if err != nil {
				return nil, err
			}
			return Real(math.Float32frombits(uint32(readUint(b)))), nil
		case 3:
			b, err := d.take(p, 8)
			if err != nil {
				return nil, err
			}
			return Real(math.Float64frombits(readUint(b))), nil
		}
		return nil, fmt.Errorf("%w: real width 2^%d unsupported", ErrMalformed, marker&0x0f)
	case 0x3:
		if marker != 0x33 {
			break
		}
		b, err := d.take(p, 8)
		if err != nil {
			return nil, err
		}
		secs := math.Float64frombits(readUint(b))
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return nil, fmt.Errorf("%w: non-finite date", ErrMalformed)
		}
		return Date(appleEpochPlus(secs)), nil
	case 0x4:
		count, p, err := d.count(marker, p)
		if err != nil {
			return nil, err
		}
		b, err := d.take(p, count)
		if err != nil {
			return nil, err
		}
		return Data(append([]byte(nil), b...)), nil
	case 0x5:
		count, p, err := d.count(marker, p)
		if err != nil {
			return nil, err
		}
		b, err := d.take(p, count)
		if err != nil {
			return nil, err
		}
		return String(b), nil
	case 0x6:
		count, p, err := d.count(marker, p)
		if err != nil {
			return nil, err
		}
		b, err := d.take(p, 2*count)
		if err != nil {
			return nil, err
		}
		units := make([]uint16, count)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(b[2*i:])
		}
		return String(string(utf16.Decode(units))), nil
	case 0xa:
		count, p, err := d.count(marker, p)
		if err != nil {
			return nil, err
		}
		arr := make(Array, 0, count)
		for i := 0; i < count; i++ {
			r, next, err := d.refAt(p)
			if err != nil {
				return nil, err
			}
			p = next
			v, err := d.object(r, depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case 0xd:
		count, p, err := d.count(marker, p)
		if err != nil {
			return nil, err
		}
		keyRefs := make([]uint64, count)
		valRefs := make([]uint64, count)
		for i := range keyRefs {
			r, next, err := d.refAt(p)
			if err != nil {
				return nil, err
			}
			keyRefs[i], p = r, next
		}
		for i := range valRefs {
			r, next, err := d.refAt(p)
			if err != nil {
				return nil, err
			}
			valRefs[i], p = r, next
		}
		dict := NewDict()
		for i := 0; i < count; i++ {
			kv, err := d.object(keyRefs[i], depth+1)
			if err != nil {
				return nil, err
			}
			key, ok := kv.(String)
			if !ok {
				return nil, fmt.Errorf("%w: dictionary key is not a string", ErrMalformed)
			}
			vv, err := d.object(valRefs[i], depth+1)
			if err != nil {
				return nil, err
			}
			dict.Set(string(key), vv)
		}
		return dict, nil
	}
	return nil, fmt.Errorf("%w: unknown marker 0x%02x", ErrMalformed, marker)
}

// take returns n payload bytes at pos, refusing to read past the offset
// table. Truncated objects fail here.
func (d *binaryDecoder) take(pos, n int) ([]byte, error) {
	if n < 0 || pos+n > d.limit {
		return nil, fmt.Errorf("%w: object truncated at byte %d", ErrMalformed, d.limit)
	}
	return d.data[pos : pos+n], nil
}

// intAt reads a 2^sizeExp byte big-endian integer, sign-extending from the
// stored width. Widths above 8 bytes are not supported.
func (d *binaryDecoder) intAt(pos, sizeExp int) (int64, int, error) {
	if sizeExp > 3 {
		return 0, 0, fmt.Errorf("%w: integer width 2^%d unsupported", ErrMalformed, sizeExp)
	}
	n := 1 << sizeExp
	b, err := d.take(pos, n)
	if err != nil {
		return 0, 0, err
	}
	shift := uint(64 - 8*n)
	return int64(readUint(b)<<shift) >> shift, pos + n, nil
}

// count resolves a marker's low-nibble length; the value 15 means the real
// count follows as an integer object.
func (d *binaryDecoder) count(marker byte, pos int) (int, int, error) {
	n := int(marker & 0x0f)
	if n != 0x0f {
		return n, pos, nil
	}
	b, err := d.take(pos, 1)
	if err != nil {
		return 0, 0, err
	}
	if b[0]>>4 != 0x1 {
		return 0, 0, fmt.Errorf("%w: extended count is not an integer", ErrMalformed)
	}
	v, next, err := d.intAt(pos+1, int(b[0]&0x0f))
	if err != nil {
		return 0, 0, err
	}
	if v < 0 || v > int64(len(d.data)) {
		return 0, 0, fmt.Errorf("%w: count %d out of range", ErrMalformed, v)
	}
	return int(v), next, nil
}

func (d *binaryDecoder) refAt(pos int) (uint64, int, error) {
	b, err := d.take(pos, d.refSize)
	if err != nil {
		return 0, 0, err
	}
	r := readUint(b)
	if r >= uint64(len(d.offsets)) {
		return 0, 0, fmt.Errorf("%w: object reference %d beyond table of %d", ErrMalformed, r, len(d.offsets))
	}
	return r, pos + d.refSize, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func appleEpochPlus(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return appleEpoch.Add(time.Duration(whole)*time.Second + time.Duration(frac*float64(time.Second)))
}
