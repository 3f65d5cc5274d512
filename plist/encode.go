package plist

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// Encode serializes v to the binary plist form. Objects are written in
// encounter order without uniquing; integers and counts take the narrowest
// signed width that holds them, reals are always float64.
func Encode(v Value) ([]byte, error) {
	var e binaryEncoder
	if _, err := e.flatten(v); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

// flatValue is one slot of the object table: the value plus the table
// indices of its children (array elements, or dict keys then values).
type flatValue struct {
	value Value
	kids  []int
}

type binaryEncoder struct {
	objects []flatValue
}

func (e *binaryEncoder) flatten(v Value) (int, error) {
	if v == nil {
		return 0, errors.New("plist: cannot encode nil value")
	}
	id := len(e.objects)
	e.objects = append(e.objects, flatValue{value: v})

	switch t := v.(type) {
	case Null, Bool, Integer, Real, String, Data, Date:
	case Array:
		kids := make([]int, 0, len(t))
		for _, el := range t {
			k, err := e.flatten(el)
			if err != nil {
				return 0, err
			}
			kids = append(kids, k)
		}
		e.objects[id].kids = kids
	case *Dict:
		if t == nil {
			break
		}
		kids := make([]int, 0, 2*len(t.keys))
		for _, key := range t.keys {
			k, err := e.flatten(String(key))
			if err != nil {
				return 0, err
			}
			kids = append(kids, k)
		}
		for _, key := range t.keys {
			k, err := e.flatten(t.values[key])
			if err != nil {
				return 0, fmt.Errorf("key %q: %w", key, err)
			}
			kids = append(kids, k)
		}
		e.objects[id].kids = kids
	default:
		return 0, fmt.Errorf("plist: cannot encode %T", v)
	}
	return id, nil
}

func (e *binaryEncoder) bytes() []byte {
	refSize := uintWidth(uint64(len(e.objects) - 1))
	var buf bytes.Buffer
	buf.Write(binaryMagic)

	offsets := make([]uint64, len(e.objects))
	for i, obj := range e.objects {
		offsets[i] = uint64(buf.Len())
		writeObject(&buf, obj, refSize)
	}

	tableOffset := uint64(buf.Len())
	offSize := uintWidth(tableOffset)
	for _, off := range offsets {
		writeSizedUint(&buf, off, offSize)
	}

	var trailer [trailerSize]byte
	trailer[6] = byte(offSize)
	trailer[7] = byte(refSize)
	putUint64(trailer[8:], uint64(len(e.objects)))
	putUint64(trailer[16:], 0) // root object is written first
	putUint64(trailer[24:], tableOffset)
	buf.Write(trailer[:])
	return buf.Bytes()
}

func writeObject(buf *bytes.Buffer, obj flatValue, refSize int) {
	switch t := obj.value.(type) {
	case Null:
		buf.WriteByte(0x00)
	case Bool:
		if t {
			buf.WriteByte(0x09)
		} else {
			buf.WriteByte(0x08)
		}
	case Integer:
		writeInt(buf, int64(t))
	case Real:
		buf.WriteByte(0x23)
		writeSizedUint(buf, math.Float64bits(float64(t)), 8)
	case Date:
		buf.WriteByte(0x33)
		secs := time.Time(t).Sub(appleEpoch).Seconds()
		writeSizedUint(buf, math.Float64bits(secs), 8)
	case Data:
		writeHeader(buf, 0x40, len(t))
		buf.Write(t)
	case String:
		if isASCII(string(t)) {
			writeHeader(buf, 0x50, len(t))
			buf.WriteString(string(t))
		} else {
			units := utf16.Encode([]rune(string(t)))
			writeHeader(buf, 0x60, len(units))
			for _, u := range units {
				buf.WriteByte(byte(u >> 8))
				buf.WriteByte(byte(u))
			}
		}
	case Array:
		writeHeader(buf, 0xa0, len(t))
		for _, kid := range obj.kids {
			writeSizedUint(buf, uint64(kid), refSize)
		}
	case *Dict:
		writeHeader(buf, 0xd0, len(obj.kids)/2)
		for _, kid := range obj.kids {
			writeSizedUint(buf, uint64(kid), refSize)
		}
	}
}

// writeHeader emits marker|count, spilling counts of 15 and above into a
// following integer object.
func writeHeader(buf *bytes.Buffer, marker byte, count int) {
	if count < 0x0f {
		buf.WriteByte(marker | byte(count))
		return
	}
	buf.WriteByte(marker | 0x0f)
	writeInt(buf, int64(count))
}

func writeInt(buf *bytes.Buffer, v int64) {
	n := intWidth(v)
	buf.WriteByte(0x10 | markerExp(n))
	writeSizedUint(buf, uint64(v), n)
}

// intWidth picks the narrowest width whose sign extension restores v.
func intWidth(v int64) int {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return 1
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return 2
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return 4
	}
	return 8
}

func uintWidth(v uint64) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<32:
		return 4
	}
	return 8
}

func markerExp(n int) byte {
	switch n {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	return 3
}

// writeSizedUint writes the low n bytes of v, big-endian.
func writeSizedUint(buf *bytes.Buffer, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(7-i)))
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
