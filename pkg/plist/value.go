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

// Package plist implements the framed plist channel: a dynamic
// property-list value, a length-prefixed
// reader/writer over a byte stream, and a log-friendly pretty-printer.
// The binary/XML codec itself is delegated to howett.net/plist.
package plist

import (
	"fmt"
	"time"
)

// Kind discriminates the tagged union a Value holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindData
	KindDate
	KindUID
	KindArray
	KindDictionary
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindReal:
		return "Real"
	case KindString:
		return "String"
	case KindData:
		return "Data"
	case KindDate:
		return "Date"
	case KindUID:
		return "UID"
	case KindArray:
		return "Array"
	case KindDictionary:
		return "Dictionary"
	default:
		return "Invalid"
	}
}

// Value is a tagged-union plist value: Bool, Int, Real, String, Data,
// Date, UID, Array, Dictionary. Only the field matching Kind is
// meaningful.
type Value struct {
	Kind  Kind
	bool_ bool
	int_  int64
	real_ float64
	str_  string
	data_ []byte
	date_ time.Time
	uid_  uint64
	arr_  []Value
	dict_ *Dict
}

func Bool(b bool) Value           { return Value{Kind: KindBool, bool_: b} }
func Int(i int64) Value           { return Value{Kind: KindInt, int_: i} }
func Real(f float64) Value        { return Value{Kind: KindReal, real_: f} }
func String(s string) Value       { return Value{Kind: KindString, str_: s} }
func Data(d []byte) Value         { return Value{Kind: KindData, data_: d} }
func Date(t time.Time) Value      { return Value{Kind: KindDate, date_: t} }
func UID(u uint64) Value          { return Value{Kind: KindUID, uid_: u} }
func Array(vs ...Value) Value     { return Value{Kind: KindArray, arr_: vs} }
func ArraySlice(vs []Value) Value { return Value{Kind: KindArray, arr_: vs} }
func Dictionary(d *Dict) Value    { return Value{Kind: KindDictionary, dict_: d} }

func (v Value) IsValid() bool { return v.Kind != KindInvalid }

func (v Value) AsBool() (bool, bool)        { return v.bool_, v.Kind == KindBool }
func (v Value) AsInt() (int64, bool)        { return v.int_, v.Kind == KindInt }
func (v Value) AsReal() (float64, bool)     { return v.real_, v.Kind == KindReal }
func (v Value) AsString() (string, bool)    { return v.str_, v.Kind == KindString }
func (v Value) AsData() ([]byte, bool)      { return v.data_, v.Kind == KindData }
func (v Value) AsDate() (time.Time, bool)   { return v.date_, v.Kind == KindDate }
func (v Value) AsUID() (uint64, bool)       { return v.uid_, v.Kind == KindUID }
func (v Value) AsArray() ([]Value, bool)    { return v.arr_, v.Kind == KindArray }
func (v Value) AsDictionary() (*Dict, bool) { return v.dict_, v.Kind == KindDictionary }

// String variants that do not need the ok flag, for call sites that already
// checked Kind (e.g. after a schema lookup).
func (v Value) StringValue() string { return v.str_ }
func (v Value) IntValue() int64     { return v.int_ }
func (v Value) BoolValue() bool     { return v.bool_ }
func (v Value) DataValue() []byte   { return v.data_ }

// Dict is an insertion-ordered string-keyed map. Insertion order is kept
// because some services (notably mux and lockdown) care about key ordering
// for human inspection, though never for parsing.
type Dict struct {
	keys []string
	vals map[string]Value
}

func NewDict() *Dict {
	return &Dict{vals: make(map[string]Value)}
}

// Set inserts or overwrites key, preserving the position of the first
// insertion on overwrite (matching how ordered dictionaries normally
// behave).
func (d *Dict) Set(key string, v Value) *Dict {
	if _, exists := d.vals[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = v
	return d
}

func (d *Dict) Get(key string) (Value, bool) {
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

func (d *Dict) Delete(key string) {
	if _, ok := d.vals[key]; !ok {
		return
	}
	delete(d.vals, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Equal performs a deep structural comparison, used by round-trip tests.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.bool_ == o.bool_
	case KindInt:
		return v.int_ == o.int_
	case KindReal:
		return v.real_ == o.real_
	case KindString:
		return v.str_ == o.str_
	case KindData:
		return string(v.data_) == string(o.data_)
	case KindDate:
		return v.date_.Equal(o.date_)
	case KindUID:
		return v.uid_ == o.uid_
	case KindArray:
		if len(v.arr_) != len(o.arr_) {
			return false
		}
		for i := range v.arr_ {
			if !v.arr_[i].Equal(o.arr_[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		if v.dict_.Len() != o.dict_.Len() {
			return false
		}
		for _, k := range v.dict_.Keys() {
			a, _ := v.dict_.Get(k)
			b, ok := o.dict_.Get(k)
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.str_
	default:
		return fmt.Sprintf("%s(%v)", v.Kind, v.native())
	}
}
