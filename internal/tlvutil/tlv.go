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

// Package tlvutil implements Apple's TLV8 byte layout shared by the
// pairing protocols under pkg/remotepairing: one byte type, one byte length, values over 255 bytes split
// across contiguous entries of the same type and reassembled on decode.
// The tag values themselves are protocol-specific and stay with their
// callers; this package only knows the generic (type, length, value)
// shape.
package tlvutil

const maxChunk = 255

// Entry is one decoded (type, value) pair; entries split across the
// wire for values over 255 bytes have already been reassembled.
type Entry struct {
	Type byte
	Data []byte
}

// Encode serializes entries, splitting any value longer than 255 bytes
// into contiguous same-type chunks.
func Encode(entries []Entry) []byte {
	var out []byte
	for _, e := range entries {
		data := e.Data
		if len(data) == 0 {
			out = append(out, e.Type, 0)
			continue
		}
		for len(data) > 0 {
			n := len(data)
			if n > maxChunk {
				n = maxChunk
			}
			out = append(out, e.Type, byte(n))
			out = append(out, data[:n]...)
			data = data[n:]
		}
	}
	return out
}

// Decode parses b into entries, concatenating consecutive chunks of the
// same type (the wire representation of a >255-byte value).
func Decode(b []byte) []Entry {
	var out []Entry
	for len(b) >= 2 {
		typ := b[0]
		n := int(b[1])
		b = b[2:]
		if n > len(b) {
			n = len(b)
		}
		chunk := b[:n]
		b = b[n:]

		if len(out) > 0 && out[len(out)-1].Type == typ {
			out[len(out)-1].Data = append(out[len(out)-1].Data, chunk...)
			continue
		}
		out = append(out, Entry{Type: typ, Data: append([]byte(nil), chunk...)})
	}
	return out
}

// Find returns the data for the first entry of type typ.
func Find(entries []Entry, typ byte) ([]byte, bool) {
	for _, e := range entries {
		if e.Type == typ {
			return e.Data, true
		}
	}
	return nil, false
}

// Has reports whether any entry has type typ.
func Has(entries []Entry, typ byte) bool {
	_, ok := Find(entries, typ)
	return ok
}
