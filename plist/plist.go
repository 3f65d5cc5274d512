// Package plist encodes and decodes Apple property lists in their binary
// (bplist00) and XML forms.
//
// Values are modeled as a closed set of concrete types implementing Value:
// Null, Bool, Integer, Real, String, Data, Date, Array and *Dict. Dict
// remembers insertion order so documents encode deterministically; key order
// carries no meaning on decode.
package plist

import (
	"bytes"
	"errors"
	"time"
)

// ErrMalformed is wrapped by every decode failure, for both plist forms.
var ErrMalformed = errors.New("plist: malformed property list")

// Value is a property-list value. The concrete types are Null, Bool,
// Integer, Real, String, Data, Date, Array and *Dict; nothing else
// satisfies it.
type Value interface {
	isValue()
}

type (
	// Null is the explicit empty value.
	Null struct{}

	// Bool is a boolean value.
	Bool bool

	// Integer is a signed integer value.
	Integer int64

	// Real is a double-precision floating point value.
	Real float64

	// String is a text value.
	String string

	// Data is an opaque byte string.
	Data []byte

	// Date is a point in time. Binary plists store it as seconds since
	// 2001-01-01T00:00:00Z; both forms keep fractional seconds to at
	// least microsecond precision.
	Date time.Time

	// Array is an ordered, possibly heterogeneous sequence of values.
	Array []Value
)

func (Null) isValue()    {}
func (Bool) isValue()    {}
func (Integer) isValue() {}
func (Real) isValue()    {}
func (String) isValue()  {}
func (Data) isValue()    {}
func (Date) isValue()    {}
func (Array) isValue()   {}
func (*Dict) isValue()   {}

// Dict maps unique string keys to values and preserves insertion order for
// encoding. The zero value is usable; all methods tolerate a nil receiver
// for reads.
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set adds or replaces key. A replaced key keeps its original position.
// It returns the receiver, so literals can be built by chaining.
func (d *Dict) Set(key string, v Value) *Dict {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Delete removes key if present.
func (d *Dict) Delete(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// The typed accessors report ok=false on a missing key or a variant
// mismatch; they never coerce between types.

func (d *Dict) GetString(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

func (d *Dict) GetInt(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(Integer)
	return int64(n), ok
}

func (d *Dict) GetReal(key string) (float64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(Real)
	return float64(f), ok
}

func (d *Dict) GetBool(key string) (bool, bool) {
	v, ok := d.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(Bool)
	return bool(b), ok
}

func (d *Dict) GetData(key string) ([]byte, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.(Data)
	return []byte(b), ok
}

func (d *Dict) GetDate(key string) (time.Time, bool) {
	v, ok := d.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(Date)
	return time.Time(t), ok
}

func (d *Dict) GetArray(key string) (Array, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	a, ok := v.(Array)
	return a, ok
}

func (d *Dict) GetDict(key string) (*Dict, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Dict)
	return sub, ok
}

// Equal reports structural equality of two values. Dict key order is
// ignored, Date values compare by instant, and Real follows float64
// equality (NaN never equals anything).
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Integer:
		bv, ok := b.(Integer)
		return ok && av == bv
	case Real:
		bv, ok := b.(Real)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Data:
		bv, ok := b.(Data)
		return ok && bytes.Equal(av, bv)
	case Date:
		bv, ok := b.(Date)
		return ok && time.Time(av).Equal(time.Time(bv))
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Dict:
		bv, ok := b.(*Dict)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.Keys() {
			w, ok := bv.Get(k)
			if !ok {
				return false
			}
			v, _ := av.Get(k)
			if !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

var binaryMagic = []byte("bplist00")

// Decode parses data in either plist form, detecting the binary form by its
// 8-byte magic prefix and assuming XML otherwise. Errors wrap ErrMalformed.
func Decode(data []byte) (Value, error) {
	if bytes.HasPrefix(data, binaryMagic) {
		return decodeBinary(data)
	}
	return decodeXML(data)
}
