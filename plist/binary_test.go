package plist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"null", Null{}},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"int zero", Integer(0)},
		{"int one byte", Integer(127)},
		{"int negative one", Integer(-1)},
		{"int two bytes", Integer(4095)},
		{"int negative two bytes", Integer(-4096)},
		{"int four bytes", Integer(1 << 20)},
		{"int eight bytes", Integer(1 << 40)},
		{"int min", Integer(math.MinInt64)},
		{"int max", Integer(math.MaxInt64)},
		{"real", Real(3.14159)},
		{"real negative", Real(-1e300)},
		{"real zero", Real(0)},
		{"real inf", Real(math.Inf(1))},
		{"string empty", String("")},
		{"string ascii", String("ready-to-play")},
		{"string long", String(strings.Repeat("x", 20))},
		{"string unicode", String("héllo ☃")},
		{"string astral", String("movie 🎬 night")},
		{"data empty", Data{}},
		{"data", Data{0x00, 0xff, 0x10, 0x80}},
		{"data long", Data(bytes.Repeat([]byte{0xAB}, 40))},
		{"date", Date(time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC))},
		{"date fractional", Date(time.Date(2024, 5, 1, 12, 30, 15, 250_000_000, time.UTC))},
		{"date before epoch", Date(time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC))},
		{"array empty", Array{}},
		{"array mixed", Array{Integer(1), String("two"), Bool(true), Null{}}},
		{"array nested", Array{Array{Integer(1)}, Array{Array{String("deep")}}}},
		{"array long", func() Value {
			arr := make(Array, 20)
			for i := range arr {
				arr[i] = Integer(int64(i))
			}
			return arr
		}()},
		{"dict empty", NewDict()},
		{"dict flat", NewDict().Set("duration", Real(120.5)).Set("position", Real(3.25))},
		{"dict nested", NewDict().
			Set("category", String("video")).
			Set("params", NewDict().Set("uuid", String("a-b-c")).Set("readyToPlay", Bool(false))).
			Set("banked", Data{0xde, 0xad}).
			Set("history", Array{Integer(1), Integer(2)})},
		{"dict wide", func() Value {
			d := NewDict()
			for _, k := range strings.Split("abcdefghijklmnopqr", "") {
				d.Set(k, Integer(int64(len(k))))
			}
			return d
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.HasPrefix(raw, []byte("bplist00")) {
				t.Fatalf("Encode output lacks bplist00 magic: % x", raw[:8])
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !Equal(got, tt.v) {
				t.Errorf("round trip = %#v, want %#v", got, tt.v)
			}
		})
	}
}

// deviceEventFixture is a hand-assembled bplist00 document for
// {"category": "video", "state": "paused"}, the shape devices emit on the
// event stream.
func deviceEventFixture() []byte {
	doc := []byte{
		'b', 'p', 'l', 'i', 's', 't', '0', '0',
		// object 0 at 8: dict of 2, key refs 1,2, value refs 3,4
		0xd2, 0x01, 0x02, 0x03, 0x04,
		// object 1 at 13: "category"
		0x58, 'c', 'a', 't', 'e', 'g', 'o', 'r', 'y',
		// object 2 at 22: "state"
		0x55, 's', 't', 'a', 't', 'e',
		// object 3 at 28: "video"
		0x55, 'v', 'i', 'd', 'e', 'o',
		// object 4 at 34: "paused"
		0x56, 'p', 'a', 'u', 's', 'e', 'd',
		// offset table at 41
		8, 13, 22, 28, 34,
	}
	trailer := make([]byte, trailerSize)
	trailer[6] = 1 // offset width
	trailer[7] = 1 // reference width
	binary.BigEndian.PutUint64(trailer[8:], 5)
	binary.BigEndian.PutUint64(trailer[16:], 0)
	binary.BigEndian.PutUint64(trailer[24:], 41)
	return append(doc, trailer...)
}

func TestBinaryDecodeFixture(t *testing.T) {
	got, err := Decode(deviceEventFixture())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := NewDict().Set("category", String("video")).Set("state", String("paused"))
	if !Equal(got, want) {
		t.Fatalf("Decode = %#v, want %#v", got, want)
	}
	d := got.(*Dict)
	if keys := d.Keys(); keys[0] != "category" || keys[1] != "state" {
		t.Errorf("key order = %v, want [category state]", keys)
	}
}

// rawPlist assembles a document with a 1-byte offset table.
func rawPlist(objects []byte, offsets []byte, refSize byte, num, top, table uint64) []byte {
	doc := append([]byte("bplist00"), objects...)
	doc = append(doc, offsets...)
	trailer := make([]byte, trailerSize)
	trailer[6] = 1
	trailer[7] = refSize
	binary.BigEndian.PutUint64(trailer[8:], num)
	binary.BigEndian.PutUint64(trailer[16:], top)
	binary.BigEndian.PutUint64(trailer[24:], table)
	return append(doc, trailer...)
}

func TestBinaryDecodeMalformed(t *testing.T) {
	mutate := func(index int, b byte) []byte {
		doc := deviceEventFixture()
		doc[index] = b
		return doc
	}
	fixture := deviceEventFixture()

	tests := []struct {
		name string
		in   []byte
	}{
		{"magic only", []byte("bplist00")},
		{"truncated trailer", fixture[:len(fixture)-10]},
		{"truncated body", append(append([]byte{}, fixture[:20]...), fixture[41:]...)},
		{"root beyond table", mutate(len(fixture)-9, 9)},
		{"zero objects", func() []byte {
			doc := deviceEventFixture()
			binary.BigEndian.PutUint64(doc[len(doc)-24:], 0)
			return doc
		}()},
		{"reference beyond table", mutate(9, 0x07)},
		{"offset out of range", mutate(41, 0xff)},
		{"offset into magic", mutate(41, 0x03)},
		{"table offset wraps", func() []byte {
			doc := append([]byte("bplist00"), 0x09, 0x08)
			trailer := make([]byte, trailerSize)
			trailer[6] = 8
			trailer[7] = 1
			binary.BigEndian.PutUint64(trailer[8:], 1)
			binary.BigEndian.PutUint64(trailer[24:], 1<<64-8)
			return append(doc, trailer...)
		}()},
		{"zero reference width", mutate(len(fixture)-25, 0)},
		{"unknown marker", mutate(34, 0x80)},
		{"set marker", mutate(34, 0xc1)},
		{"fill marker", mutate(34, 0x0f)},
		{"sixteen byte int", rawPlist(
			[]byte{0x14, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
			[]byte{8}, 1, 1, 0, 25)},
		{"truncated int payload", rawPlist([]byte{0x13, 0x01}, []byte{8}, 1, 1, 0, 10)},
		{"self referencing array", rawPlist([]byte{0xa1, 0x00}, []byte{8}, 1, 1, 0, 10)},
		{"mutually referencing arrays", rawPlist(
			[]byte{0xa1, 0x01, 0xa1, 0x00},
			[]byte{8, 10}, 1, 2, 0, 12)},
		{"non-string dict key", rawPlist(
			[]byte{0xd1, 0x01, 0x02, 0x08, 0x09},
			[]byte{8, 11, 12}, 1, 3, 0, 13)},
		{"extended count not an int", rawPlist([]byte{0x5f, 0x08}, []byte{8}, 1, 1, 0, 10)},
		{"negative extended count", rawPlist([]byte{0x5f, 0x10, 0xff}, []byte{8}, 1, 1, 0, 11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.in)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode = %#v, err %v; want ErrMalformed", v, err)
			}
		})
	}
}

func TestBinaryIntegerWidths(t *testing.T) {
	// The encoder picks the narrowest signed width.
	raw, err := Encode(Integer(-1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw[8] != 0x10 || raw[9] != 0xff {
		t.Errorf("Encode(-1) object = % x, want 10 ff", raw[8:10])
	}

	// And the decoder sign-extends from the stored width.
	doc := rawPlist([]byte{0x11, 0xff, 0xfe}, []byte{8}, 1, 1, 0, 11)
	got, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != Integer(-2) {
		t.Errorf("Decode(11 ff fe) = %#v, want Integer(-2)", got)
	}
}

func TestBinaryDecodeFloat32(t *testing.T) {
	bits := math.Float32bits(1.5)
	doc := rawPlist([]byte{0x22, byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)},
		[]byte{8}, 1, 1, 0, 13)
	got, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != Real(1.5) {
		t.Errorf("Decode(float32 1.5) = %#v, want Real(1.5)", got)
	}
}

func TestBinaryZeroLengthValues(t *testing.T) {
	// A frame emitting {} must survive; so must inner empties.
	v := NewDict().Set("empty", Array{}).Set("blank", String("")).Set("none", Data{})
	raw, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !Equal(got, v) {
		t.Errorf("round trip = %#v, want %#v", got, v)
	}
}

func TestEncodeNilValue(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("Encode(nil) succeeded, want error")
	}
	if _, err := Encode(Array{Integer(1), nil}); err == nil {
		t.Error("Encode(array with nil) succeeded, want error")
	}
	if _, err := Encode(NewDict().Set("k", nil)); err == nil {
		t.Error("Encode(dict with nil) succeeded, want error")
	}
}

func TestEncodeNilDictPointer(t *testing.T) {
	raw, err := Encode((*Dict)(nil))
	if err != nil {
		t.Fatalf("Encode(nil *Dict): %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d, ok := got.(*Dict); !ok || d.Len() != 0 {
		t.Errorf("Decode = %#v, want empty dict", got)
	}
}
