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

package xpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// RemoteXPC wire constants: the body magic/version pair and the 32-bit
// type tag assigned to each object kind.
const (
	objectMagic   uint32 = 0x42133742
	objectVersion uint32 = 0x00000005

	typeBool         uint32 = 0x00002000
	typeInt64        uint32 = 0x00003000
	typeUInt64       uint32 = 0x00004000
	typeDouble       uint32 = 0x00005000
	typeDate         uint32 = 0x00007000
	typeData         uint32 = 0x00008000
	typeString       uint32 = 0x00009000
	typeUUID         uint32 = 0x0000a000
	typeArray        uint32 = 0x0000e000
	typeDictionary   uint32 = 0x0000f000
	typeFileTransfer uint32 = 0x0001a000
)

// alignPadding returns the number of zero bytes needed to round n up to the
// next multiple of 4 (0 if n is already aligned).
func alignPadding(n int) int {
	return (4 - n%4) % 4
}

// Encode serializes o as an 8-byte magic+version header followed by its
// object encoding.
func Encode(o Object) ([]byte, error) {
	buf := &bytes.Buffer{}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], objectMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], objectVersion)
	buf.Write(hdr[:])
	if err := encodeObject(buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeObject(buf *bytes.Buffer, o Object) error {
	switch o.Kind {
	case KindBool:
		writeU32(buf, typeBool)
		if o.bool_ {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write([]byte{0, 0, 0})

	case KindDictionary:
		writeU32(buf, typeDictionary)
		content := &bytes.Buffer{}
		writeU32(content, uint32(o.dict_.Len()))
		for _, k := range o.dict_.Keys() {
			v, _ := o.dict_.Get(k)
			writeCString(content, k)
			if err := encodeObject(content, v); err != nil {
				return err
			}
		}
		writeU32(buf, uint32(content.Len()))
		buf.Write(content.Bytes())

	case KindArray:
		writeU32(buf, typeArray)
		content := &bytes.Buffer{}
		writeU32(content, uint32(len(o.arr_)))
		for _, item := range o.arr_ {
			if err := encodeObject(content, item); err != nil {
				return err
			}
		}
		writeU32(buf, uint32(content.Len()))
		buf.Write(content.Bytes())

	case KindDouble:
		writeU32(buf, typeDouble)
		writeU64(buf, math.Float64bits(o.real_))

	case KindInt64:
		writeU32(buf, typeInt64)
		writeU64(buf, uint64(o.int_))

	case KindUInt64:
		writeU32(buf, typeUInt64)
		writeU64(buf, o.uint_)

	case KindDate:
		writeU32(buf, typeDate)
		writeU64(buf, uint64(o.date_.UnixNano()))

	case KindString:
		writeU32(buf, typeString)
		writeCString(buf, o.str_)

	case KindData:
		writeU32(buf, typeData)
		writeU32(buf, uint32(len(o.data_)))
		buf.Write(o.data_)
		buf.Write(make([]byte, alignPadding(len(o.data_))))

	case KindUUID:
		writeU32(buf, typeUUID)
		b := o.uuid_
		buf.Write(b[:])

	case KindFileTransfer:
		writeU32(buf, typeFileTransfer)
		writeU64(buf, o.ftID)
		return encodeObject(buf, *o.ftInner)

	default:
		return &ierrors.InternalError{Text: fmt.Sprintf("xpc: cannot encode object of kind %s", o.Kind)}
	}
	return nil
}

// writeCString writes s NUL-terminated and 4-byte padded, the layout used
// for both dictionary keys and String values (the length includes the
// trailing NUL; padding rounds up to 4-byte alignment).
func writeCString(buf *bytes.Buffer, s string) {
	l := len(s) + 1
	writeU32(buf, uint32(l))
	buf.WriteString(s)
	buf.WriteByte(0)
	buf.Write(make([]byte, alignPadding(l)))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// Decode parses an object previously produced by Encode.
func Decode(b []byte) (Object, error) {
	if len(b) < 8 {
		return Object{}, &ierrors.TruncatedError{Want: 8, Got: len(b)}
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != objectMagic {
		return Object{}, &ierrors.BadMagicError{Want: objectMagic, Got: magic}
	}
	version := binary.LittleEndian.Uint32(b[4:8])
	if version != objectVersion {
		return Object{}, &ierrors.InternalError{Text: fmt.Sprintf("xpc: unexpected object version 0x%08x", version)}
	}
	d := &decoder{buf: b[8:]}
	o, err := d.decodeObject()
	if err != nil {
		return Object{}, err
	}
	return o, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, &ierrors.TruncatedError{Want: n, Got: d.remaining()}
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// cString reads a NUL-terminated string whose on-wire length l (including
// the NUL) was already read by the caller, followed by its alignment
// padding.
func (d *decoder) cString(l int) (string, error) {
	b, err := d.take(l)
	if err != nil {
		return "", err
	}
	if l == 0 || b[l-1] != 0 {
		return "", &ierrors.InternalError{Text: "xpc: string is not NUL-terminated"}
	}
	s := string(b[:l-1])
	if _, err := d.take(alignPadding(l)); err != nil {
		return "", err
	}
	return s, nil
}

func (d *decoder) decodeObject() (Object, error) {
	t, err := d.u32()
	if err != nil {
		return Object{}, err
	}
	switch t {
	case typeBool:
		b, err := d.take(4)
		if err != nil {
			return Object{}, err
		}
		return Bool(b[0] != 0), nil

	case typeDictionary:
		if _, err := d.u32(); err != nil { // content length, unused: entries are self-delimiting
			return Object{}, err
		}
		count, err := d.u32()
		if err != nil {
			return Object{}, err
		}
		dict := NewDict()
		for i := uint32(0); i < count; i++ {
			keyLen, err := d.u32()
			if err != nil {
				return Object{}, err
			}
			key, err := d.cString(int(keyLen))
			if err != nil {
				return Object{}, err
			}
			val, err := d.decodeObject()
			if err != nil {
				return Object{}, err
			}
			dict.Set(key, val)
		}
		return Dictionary(dict), nil

	case typeArray:
		if _, err := d.u32(); err != nil { // content length, unused
			return Object{}, err
		}
		count, err := d.u32()
		if err != nil {
			return Object{}, err
		}
		items := make([]Object, 0, count)
		for i := uint32(0); i < count; i++ {
			item, err := d.decodeObject()
			if err != nil {
				return Object{}, err
			}
			items = append(items, item)
		}
		return ArraySlice(items), nil

	case typeDouble:
		v, err := d.u64()
		if err != nil {
			return Object{}, err
		}
		return Double(math.Float64frombits(v)), nil

	case typeInt64:
		v, err := d.u64()
		if err != nil {
			return Object{}, err
		}
		return Int64(int64(v)), nil

	case typeUInt64:
		v, err := d.u64()
		if err != nil {
			return Object{}, err
		}
		return UInt64(v), nil

	case typeDate:
		v, err := d.u64()
		if err != nil {
			return Object{}, err
		}
		return DateValue(time.Unix(0, int64(v)).UTC()), nil

	case typeString:
		l, err := d.u32()
		if err != nil {
			return Object{}, err
		}
		s, err := d.cString(int(l))
		if err != nil {
			return Object{}, err
		}
		return String(s), nil

	case typeData:
		l, err := d.u32()
		if err != nil {
			return Object{}, err
		}
		b, err := d.take(int(l))
		if err != nil {
			return Object{}, err
		}
		out := append([]byte(nil), b...)
		if _, err := d.take(alignPadding(int(l))); err != nil {
			return Object{}, err
		}
		return Data(out), nil

	case typeUUID:
		b, err := d.take(16)
		if err != nil {
			return Object{}, err
		}
		u, err := uuid.FromBytes(b)
		if err != nil {
			return Object{}, &ierrors.InternalError{Text: "xpc: malformed uuid bytes"}
		}
		return UUID(u), nil

	case typeFileTransfer:
		id, err := d.u64()
		if err != nil {
			return Object{}, err
		}
		inner, err := d.decodeObject()
		if err != nil {
			return Object{}, err
		}
		return FileTransfer(id, inner), nil

	default:
		return Object{}, &ierrors.InternalError{Text: fmt.Sprintf("xpc: unknown type tag 0x%08x", t)}
	}
}
