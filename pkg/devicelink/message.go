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

// Package devicelink implements the bidirectional, device-driven message
// loop shared by MobileBackup2 and related DeviceLink services. Outer
// framing is a big-endian 4-byte length followed by a binary plist array
// whose first element is a tag string.
package devicelink

import (
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

// ReadMessage reads one outer-framed DL message and returns its array
// value. The first element is always the tag string.
func ReadMessage(r io.Reader) ([]plist.Value, error) {
	v, err := plist.ReadPlistFrame(r)
	if err != nil {
		return nil, err
	}
	arr, ok := v.AsArray()
	if !ok || len(arr) == 0 {
		return nil, &ierrors.UnexpectedResponseError{Context: "devicelink message", Key: "array tag"}
	}
	if _, ok := arr[0].AsString(); !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "devicelink message", Key: "tag"}
	}
	return arr, nil
}

// WriteMessage frames and writes a tag-prefixed array as a binary plist,
// matching the device's own outer framing.
func WriteMessage(w io.Writer, values ...plist.Value) error {
	return plist.WritePlistFrame(w, plist.ArraySlice(values), plist.FormatBinary)
}

// Tag returns the tag string of an already-read message, or "" if msg is
// empty or malformed (ReadMessage already rejects malformed messages, so
// this is mainly useful for tests building messages by hand).
func Tag(msg []plist.Value) string {
	if len(msg) == 0 {
		return ""
	}
	s, _ := msg[0].AsString()
	return s
}

// StatusResponse builds the status array
// ["DLMessageStatusResponse", code, phrase, details].
func StatusResponse(code int64, phrase string, details plist.Value) []plist.Value {
	if !details.IsValid() {
		details = plist.Dictionary(plist.NewDict())
	}
	return []plist.Value{
		plist.String("DLMessageStatusResponse"),
		plist.Int(code),
		plist.String(phrase),
		details,
	}
}

// WriteStatus writes a status response message.
func WriteStatus(w io.Writer, code int64, phrase string, details plist.Value) error {
	return WriteMessage(w, StatusResponse(code, phrase, details)...)
}

// ProcessMessage wraps a dictionary in the DLMessageProcessMessage
// envelope host-initiated requests use.
func ProcessMessage(body *plist.Dict) []plist.Value {
	return []plist.Value{
		plist.String("DLMessageProcessMessage"),
		plist.Dictionary(body),
	}
}
