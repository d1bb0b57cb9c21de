/*
Copyright 2026 The ioslink authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package opack implements Apple's OPACK object encoding: the compact, self-describing binary format used to
// pack the "device info" dictionary carried inside the TLV8 Info entry
// of remote pair-setup (pkg/remotepairing). It plays the same role for
// that one blob that pkg/xpc's codec plays for RemoteXPC messages: a
// single Encode/Decode pair over a small closed set of Go types.
package opack

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// Supported value types, mirroring the JSON/plist-like universe OPACK
// carries in practice: nil, bool, int64, uint64, float64, string, []byte,
// []any and map[string]any (or Dict, for key-order-sensitive callers).
const (
	tagNull      = 0x04
	tagTrue      = 0x01
	tagFalse     = 0x02
	tagUUID      = 0x05
	tagDate      = 0x06
	tagFloat32   = 0x36
	tagFloat64   = 0x35
	tagIntZero   = 0x08 // small ints 0x08..0x2f encode 0..39 inline
	tagIntMax    = 0x2f
	tagInt1Byte  = 0x30
	tagInt2Byte  = 0x31
	tagInt4Byte  = 0x32
	tagInt8Byte  = 0x33
	tagStrShort  = 0x40 // 0x40..0x60 inline length 0..0x20
	tagStrMax    = 0x60
	tagStrLenPfx = 0x61
	tagDataShort = 0x90 // 0x90..0xb0 inline length 0..0x20
	tagDataMax   = 0xb0
	tagDataLenPf = 0xb1
	tagArrStart  = 0xd0 // 0xd0..0xdd inline count 0..13, 0xdf terminated
	tagArrEnd    = 0xdf
	tagTerminate = 0x03
	tagDictStart = 0xe0 // 0xe0..0xed inline count 0..13, 0xef terminated
	tagDictEnd   = 0xef
	tagUIDRef    = 0xa0 // previously-seen-string backreference (unused on encode)
)

// Dict is an insertion-ordered string-keyed map, used when callers need
// deterministic key order on the wire (the device-info blob does not
// strictly require it, but matching order makes golden-byte tests
// possible).
type Dict struct {
	keys []string
	vals map[string]any
}

// NewDict returns an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{vals: make(map[string]any)}
}

// Set inserts or overwrites key, preserving first-insertion order.
func (d *Dict) Set(key string, val any) *Dict {
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = val
	return d
}

// Get retrieves a value previously set on d.
func (d *Dict) Get(key string) (any, bool) {
	v, ok := d.vals[key]
	return v, ok
}

// Keys returns the dictionary's keys in insertion order.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Encode serializes v into its OPACK wire form.
func Encode(v any) ([]byte, error) {
	var out []byte
	out, err := encodeValue(out, v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeValue(out []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(out, tagNull), nil
	case bool:
		if t {
			return append(out, tagTrue), nil
		}
		return append(out, tagFalse), nil
	case int:
		return encodeInt(out, int64(t)), nil
	case int64:
		return encodeInt(out, t), nil
	case uint64:
		return encodeInt(out, int64(t)), nil
	case float64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(t))
		return append(append(out, tagFloat64), buf[:]...), nil
	case string:
		return encodeString(out, t), nil
	case []byte:
		return encodeData(out, t), nil
	case []any:
		return encodeArray(out, t)
	case map[string]any:
		return encodeDict(out, dictFromMap(t))
	case *Dict:
		return encodeDict(out, t)
	default:
		return nil, &ierrors.InternalError{Text: fmt.Sprintf("opack: unsupported value type %T", v)}
	}
}

func dictFromMap(m map[string]any) *Dict {
	d := NewDict()
	for k, v := range m {
		d.Set(k, v)
	}
	return d
}

func encodeInt(out []byte, n int64) []byte {
	if n >= 0 && n <= tagIntMax-tagIntZero {
		return append(out, byte(tagIntZero+n))
	}
	u := uint64(n)
	switch {
	case n >= -128 && n <= 127:
		return append(out, tagInt1Byte, byte(u))
	case n >= -32768 && n <= 32767:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(u))
		return append(append(out, tagInt2Byte), buf[:]...)
	case n >= -2147483648 && n <= 2147483647:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(u))
		return append(append(out, tagInt4Byte), buf[:]...)
	default:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], u)
		return append(append(out, tagInt8Byte), buf[:]...)
	}
}

func encodeString(out []byte, s string) []byte {
	b := []byte(s)
	if len(b) <= int(tagStrMax-tagStrShort) {
		out = append(out, byte(tagStrShort+len(b)))
		return append(out, b...)
	}
	out = append(out, tagStrLenPfx)
	out = appendVarlen(out, len(b))
	return append(out, b...)
}

func encodeData(out []byte, b []byte) []byte {
	if len(b) <= int(tagDataMax-tagDataShort) {
		out = append(out, byte(tagDataShort+len(b)))
		return append(out, b...)
	}
	out = append(out, tagDataLenPf)
	out = appendVarlen(out, len(b))
	return append(out, b...)
}

func appendVarlen(out []byte, n int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	return append(out, buf[:]...)
}

func encodeArray(out []byte, arr []any) ([]byte, error) {
	var err error
	if len(arr) <= 13 {
		out = append(out, byte(tagArrStart+len(arr)))
		for _, item := range arr {
			out, err = encodeValue(out, item)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	out = append(out, tagArrEnd)
	for _, item := range arr {
		out, err = encodeValue(out, item)
		if err != nil {
			return nil, err
		}
	}
	return append(out, tagTerminate), nil
}

func encodeDict(out []byte, d *Dict) ([]byte, error) {
	var err error
	n := len(d.keys)
	if n <= 13 {
		out = append(out, byte(tagDictStart+n))
	} else {
		out = append(out, tagDictEnd)
	}
	for _, k := range d.keys {
		out = encodeString(out, k)
		out, err = encodeValue(out, d.vals[k])
		if err != nil {
			return nil, err
		}
	}
	if n > 13 {
		out = append(out, tagTerminate)
	}
	return out, nil
}

// Decode parses a single OPACK value from the front of b.
func Decode(b []byte) (any, error) {
	d := &decoder{b: b}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	return v, nil
}

type decoder struct {
	b   []byte
	pos int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.b) {
		return 0, &ierrors.TruncatedError{Want: 1, Got: 0}
	}
	v := d.b[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.b) {
		return nil, &ierrors.TruncatedError{Want: n, Got: len(d.b) - d.pos}
	}
	v := d.b[d.pos : d.pos+n]
	d.pos += n
	return v, nil
}

func (d *decoder) varlen() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(b)), nil
}

func (d *decoder) value() (any, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch {
	case tag == tagNull:
		return nil, nil
	case tag == tagTrue:
		return true, nil
	case tag == tagFalse:
		return false, nil
	case tag == tagFloat64:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case tag == tagFloat32:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case tag >= tagIntZero && tag <= tagIntMax:
		return int64(tag - tagIntZero), nil
	case tag == tagInt1Byte:
		b, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case tag == tagInt2Byte:
		b, err := d.take(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case tag == tagInt4Byte:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case tag == tagInt8Byte:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case tag >= tagStrShort && tag <= tagStrMax:
		n := int(tag - tagStrShort)
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tag == tagStrLenPfx:
		n, err := d.varlen()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tag >= tagDataShort && tag <= tagDataMax:
		n := int(tag - tagDataShort)
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case tag == tagDataLenPf:
		n, err := d.varlen()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case tag >= tagArrStart && tag <= tagArrStart+13:
		n := int(tag - tagArrStart)
		arr := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item, err := d.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	case tag == tagArrEnd:
		var arr []any
		for {
			if d.pos < len(d.b) && d.b[d.pos] == tagTerminate {
				d.pos++
				break
			}
			item, err := d.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	case tag >= tagDictStart && tag <= tagDictStart+13:
		n := int(tag - tagDictStart)
		dict := NewDict()
		for i := 0; i < n; i++ {
			kv, err := d.value()
			if err != nil {
				return nil, err
			}
			k, _ := kv.(string)
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			dict.Set(k, v)
		}
		return dict, nil
	case tag == tagDictEnd:
		dict := NewDict()
		for {
			if d.pos < len(d.b) && d.b[d.pos] == tagTerminate {
				d.pos++
				break
			}
			kv, err := d.value()
			if err != nil {
				return nil, err
			}
			k, _ := kv.(string)
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			dict.Set(k, v)
		}
		return dict, nil
	default:
		return nil, &ierrors.InternalError{Text: fmt.Sprintf("opack: unknown tag 0x%02x", tag)}
	}
}
