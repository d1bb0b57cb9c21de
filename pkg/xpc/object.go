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

// Package xpc implements the XPC binary object codec and message
// envelope used by the RemoteXPC services exposed inside a CoreDeviceProxy
// tunnel: a tagged-union Object value (mirroring pkg/plist's
// Value), its 4-byte-aligned wire encoding, and the 24-byte message
// envelope that carries it.
package xpc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the tagged union an Object holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt64
	KindUInt64
	KindDouble
	KindDate
	KindString
	KindData
	KindUUID
	KindArray
	KindDictionary
	KindFileTransfer
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt64:
		return "Int64"
	case KindUInt64:
		return "UInt64"
	case KindDouble:
		return "Double"
	case KindDate:
		return "Date"
	case KindString:
		return "String"
	case KindData:
		return "Data"
	case KindUUID:
		return "UUID"
	case KindArray:
		return "Array"
	case KindDictionary:
		return "Dictionary"
	case KindFileTransfer:
		return "FileTransfer"
	default:
		return "Invalid"
	}
}

// Object is the XPC tagged-union value: Bool, Int64, UInt64, Double,
// Date, String, Data, UUID, Array, Dictionary and FileTransfer. Only the
// field matching Kind is meaningful.
type Object struct {
	Kind    Kind
	bool_   bool
	int_    int64
	uint_   uint64
	real_   float64
	date_   time.Time
	str_    string
	data_   []byte
	uuid_   uuid.UUID
	arr_    []Object
	dict_   *Dict
	ftID    uint64
	ftInner *Object
}

func Bool(b bool) Object            { return Object{Kind: KindBool, bool_: b} }
func Int64(i int64) Object          { return Object{Kind: KindInt64, int_: i} }
func UInt64(u uint64) Object        { return Object{Kind: KindUInt64, uint_: u} }
func Double(f float64) Object       { return Object{Kind: KindDouble, real_: f} }
func DateValue(t time.Time) Object  { return Object{Kind: KindDate, date_: t} }
func String(s string) Object        { return Object{Kind: KindString, str_: s} }
func Data(d []byte) Object          { return Object{Kind: KindData, data_: d} }
func UUID(u uuid.UUID) Object       { return Object{Kind: KindUUID, uuid_: u} }
func Array(vs ...Object) Object     { return Object{Kind: KindArray, arr_: vs} }
func ArraySlice(vs []Object) Object { return Object{Kind: KindArray, arr_: vs} }
func Dictionary(d *Dict) Object     { return Object{Kind: KindDictionary, dict_: d} }

// FileTransfer wraps msgID and an inner object.6 "FileTransfer
// carries an 8-byte id then an inner object."
func FileTransfer(msgID uint64, inner Object) Object {
	return Object{Kind: KindFileTransfer, ftID: msgID, ftInner: &inner}
}

func (o Object) IsValid() bool { return o.Kind != KindInvalid }

func (o Object) AsBool() (bool, bool)        { return o.bool_, o.Kind == KindBool }
func (o Object) AsInt64() (int64, bool)      { return o.int_, o.Kind == KindInt64 }
func (o Object) AsUInt64() (uint64, bool)    { return o.uint_, o.Kind == KindUInt64 }
func (o Object) AsDouble() (float64, bool)   { return o.real_, o.Kind == KindDouble }
func (o Object) AsDate() (time.Time, bool)   { return o.date_, o.Kind == KindDate }
func (o Object) AsString() (string, bool)    { return o.str_, o.Kind == KindString }
func (o Object) AsData() ([]byte, bool)      { return o.data_, o.Kind == KindData }
func (o Object) AsUUID() (uuid.UUID, bool)   { return o.uuid_, o.Kind == KindUUID }
func (o Object) AsArray() ([]Object, bool)   { return o.arr_, o.Kind == KindArray }
func (o Object) AsDictionary() (*Dict, bool) { return o.dict_, o.Kind == KindDictionary }

// AsFileTransfer returns the message id and inner object of a FileTransfer.
func (o Object) AsFileTransfer() (uint64, Object, bool) {
	if o.Kind != KindFileTransfer {
		return 0, Object{}, false
	}
	return o.ftID, *o.ftInner, true
}

func (o Object) StringValue() string { return o.str_ }

// Dict is an insertion-ordered string-keyed map of Objects, matching
// pkg/plist.Dict's shape. Insertion order is part of the wire contract,
// not just a convenience.
type Dict struct {
	keys []string
	vals map[string]Object
}

func NewDict() *Dict {
	return &Dict{vals: make(map[string]Object)}
}

func (d *Dict) Set(key string, v Object) *Dict {
	if _, exists := d.vals[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = v
	return d
}

func (d *Dict) Get(key string) (Object, bool) {
	v, ok := d.vals[key]
	return v, ok
}

func (d *Dict) GetString(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (d *Dict) Len() int { return len(d.keys) }

// Keys returns keys in insertion order.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Equal performs a deep structural comparison, used by round-trip tests.
func (o Object) Equal(other Object) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case KindBool:
		return o.bool_ == other.bool_
	case KindInt64:
		return o.int_ == other.int_
	case KindUInt64:
		return o.uint_ == other.uint_
	case KindDouble:
		return o.real_ == other.real_
	case KindDate:
		return o.date_.Equal(other.date_)
	case KindString:
		return o.str_ == other.str_
	case KindData:
		return string(o.data_) == string(other.data_)
	case KindUUID:
		return o.uuid_ == other.uuid_
	case KindArray:
		if len(o.arr_) != len(other.arr_) {
			return false
		}
		for i := range o.arr_ {
			if !o.arr_[i].Equal(other.arr_[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		if o.dict_.Len() != other.dict_.Len() {
			return false
		}
		for i, k := range o.dict_.Keys() {
			if other.dict_.Keys()[i] != k {
				return false // insertion order is part of equality
			}
			a, _ := o.dict_.Get(k)
			b, ok := other.dict_.Get(k)
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	case KindFileTransfer:
		return o.ftID == other.ftID && o.ftInner.Equal(*other.ftInner)
	default:
		return true
	}
}

func (o Object) String() string {
	switch o.Kind {
	case KindString:
		return o.str_
	default:
		return fmt.Sprintf("%s(...)", o.Kind)
	}
}
