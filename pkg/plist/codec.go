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

package plist

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ioslink/idevice/pkg/ierrors"
	"howett.net/plist"
)

// Format selects the on-wire representation. Mux packet headers carry this
// as a version field (0 = binary, 1 = XML); lockdown and devicelink always
// use one or the other consistently.
type Format int

const (
	FormatBinary Format = iota
	FormatXML
)

func (f Format) nativeFormat() int {
	if f == FormatXML {
		return plist.XMLFormat
	}
	return plist.BinaryFormat
}

// Marshal serializes v using howett.net/plist in the requested format.
func Marshal(v Value, format Format) ([]byte, error) {
	native := v.native()
	buf := &bytes.Buffer{}
	enc := plist.NewEncoderForFormat(buf, format.nativeFormat())
	if err := enc.Encode(native); err != nil {
		return nil, &ierrors.MalformedPlistError{Err: err}
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes b (either binary or XML; howett.net/plist auto-detects)
// into a Value tree.
func Unmarshal(b []byte) (Value, error) {
	var native interface{}
	_, err := plist.Unmarshal(b, &native)
	if err != nil {
		return Value{}, &ierrors.MalformedPlistError{Err: err}
	}
	return fromNative(native), nil
}

// native converts a Value tree into the interface{} shape howett.net/plist
// expects to encode. Dictionary key order is not preserved on the wire: CF
// binary/XML plists have no on-disk ordering concept, and no peer parses
// by position.
func (v Value) native() interface{} {
	switch v.Kind {
	case KindBool:
		return v.bool_
	case KindInt:
		return v.int_
	case KindReal:
		return v.real_
	case KindString:
		return v.str_
	case KindData:
		return v.data_
	case KindDate:
		return v.date_
	case KindUID:
		return plist.UID(v.uid_)
	case KindArray:
		out := make([]interface{}, len(v.arr_))
		for i, e := range v.arr_ {
			out[i] = e.native()
		}
		return out
	case KindDictionary:
		out := make(map[string]interface{}, v.dict_.Len())
		for _, k := range v.dict_.Keys() {
			val, _ := v.dict_.Get(k)
			out[k] = val.native()
		}
		return out
	default:
		return nil
	}
}

// fromNative converts howett.net/plist's generic decode result back into a
// Value tree. Go map iteration is randomized, so dictionary keys are sorted
// for determinism; true wire insertion order cannot be recovered through
// the library's generic Unmarshal path.
func fromNative(n interface{}) Value {
	switch t := n.(type) {
	case nil:
		return Value{}
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return Data(t)
	case time.Time:
		return Date(t)
	case plist.UID:
		return UID(uint64(t))
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float64:
		return Real(t)
	case float32:
		return Real(float64(t))
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromNative(e)
		}
		return ArraySlice(out)
	case map[string]interface{}:
		d := NewDict()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.Set(k, fromNative(t[k]))
		}
		return Dictionary(d)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
