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

// Package mux implements the usbmuxd client: list/listen for devices,
// read/save pairing records, read the host BUID, and connect to a device
// port. The wire format is a 16-byte little-endian header followed by a
// plist body.
package mux

import (
	"encoding/binary"
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

// Version selects the body encoding the header advertises. usbmuxd
// speaks XML-plist framing on the modern protocol version used throughout
// this client.
const (
	versionBinaryPlist uint32 = 0
	versionXMLPlist    uint32 = 1
)

// Message type constants of the usbmuxd packet header.
const (
	msgTypeResult uint32 = 1
	msgTypePlist  uint32 = 8
)

const packetHeaderLen = 16

// packet is the decoded form of one mux frame: header fields plus the body
// plist value.
type packet struct {
	version uint32
	msgType uint32
	tag     uint32
	body    plist.Value
}

// writePacket serializes and writes one XML-plist mux packet with the given
// tag. Outgoing tags must be unique per connection;
// callers obtain them from Client.nextTag.
func writePacket(w io.Writer, tag uint32, body plist.Value) error {
	payload, err := plist.Marshal(body, plist.FormatXML)
	if err != nil {
		return err
	}
	total := packetHeaderLen + len(payload)
	hdr := make([]byte, packetHeaderLen, total)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(total))
	binary.LittleEndian.PutUint32(hdr[4:8], versionXMLPlist)
	binary.LittleEndian.PutUint32(hdr[8:12], msgTypePlist)
	binary.LittleEndian.PutUint32(hdr[12:16], tag)
	buf := append(hdr, payload...)
	if _, err := w.Write(buf); err != nil {
		return &ierrors.TransportError{Op: "write mux packet", Err: err}
	}
	return nil
}

// readPacket reads one mux frame and decodes its body plist.
func readPacket(r io.Reader) (*packet, error) {
	var hdr [packetHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, &ierrors.TransportError{Op: "read mux header", Err: err}
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	if total < packetHeaderLen {
		return nil, &ierrors.TruncatedError{Want: packetHeaderLen, Got: int(total)}
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	msgType := binary.LittleEndian.Uint32(hdr[8:12])
	tag := binary.LittleEndian.Uint32(hdr[12:16])

	bodyLen := int(total) - packetHeaderLen
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ierrors.TransportError{Op: "read mux body", Err: err}
	}

	if msgType != msgTypePlist && msgType != msgTypeResult {
		return nil, &ierrors.UnexpectedResponseError{Context: "mux packet", Key: "MessageType"}
	}

	v, err := plist.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	return &packet{version: version, msgType: msgType, tag: tag, body: v}, nil
}
