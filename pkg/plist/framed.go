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
	"encoding/binary"
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// ReadFrame reads a single 4-byte big-endian length prefix followed by
// that many bytes, the framing shared by lockdown and the DeviceLink
// outer framing. The length does not include itself.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, &ierrors.TransportError{Op: "read frame length", Err: err}
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ierrors.TransportError{Op: "read frame body", Err: err}
	}
	return body, nil
}

// WriteFrame writes body prefixed with its 4-byte big-endian length in a
// single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return &ierrors.TransportError{Op: "write frame", Err: err}
	}
	return nil
}

// ReadPlistFrame reads one framed plist and decodes it.
func ReadPlistFrame(r io.Reader) (Value, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Value{}, err
	}
	return Unmarshal(body)
}

// WritePlistFrame encodes v in the given format and writes it as one frame.
func WritePlistFrame(w io.Writer, v Value, format Format) error {
	body, err := Marshal(v, format)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}
