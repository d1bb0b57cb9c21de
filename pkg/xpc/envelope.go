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
	"encoding/binary"
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// Flag bits for Message.Flags.
const (
	FlagAlwaysSet            uint32 = 0x00000001
	FlagDataFlag             uint32 = 0x00000100
	FlagWantingReply         uint32 = 0x00010000
	FlagFileTxStreamRequest  uint32 = 0x00100000
	FlagFileTxStreamResponse uint32 = 0x00200000
	FlagInitHandshake        uint32 = 0x00400000
)

const (
	messageMagic uint32 = 0x29b00b92
	envelopeLen         = 24
)

// Message is the 24-byte XPC envelope (magic, flags, body length, message
// id) plus the body it frames.
type Message struct {
	Flags     uint32
	MessageID uint64
	// Body is the decoded body object. Has() reports whether a body was
	// actually present: a body length of zero (e.g. a bare keep-alive) is
	// valid and distinct from an empty dictionary.
	Body    Object
	hasBody bool
}

func (m Message) Has() bool { return m.hasBody }

// NewMessage wraps body as a present-body Message.
func NewMessage(flags uint32, messageID uint64, body Object) Message {
	return Message{Flags: flags, MessageID: messageID, Body: body, hasBody: true}
}

// Encode serializes the envelope header followed by the encoded body:
// caller-chosen flags, the message id, and the body length.
func (m Message) Encode() ([]byte, error) {
	var body []byte
	if m.hasBody {
		var err error
		body, err = Encode(m.Body)
		if err != nil {
			return nil, err
		}
	}
	out := make([]byte, envelopeLen+len(body))
	binary.LittleEndian.PutUint32(out[0:4], messageMagic)
	binary.LittleEndian.PutUint32(out[4:8], m.Flags)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(body)))
	binary.LittleEndian.PutUint64(out[16:24], m.MessageID)
	copy(out[24:], body)
	return out, nil
}

// WriteMessage encodes m and writes it to w in a single call, since the
// envelope carries its own body length and needs no external framing.
func WriteMessage(w io.Writer, m Message) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return &ierrors.TransportError{Op: "write xpc message", Err: err}
	}
	return nil
}

// ReadMessage reads one envelope header and its body from r.6
// "Receive": read 24 bytes, reject bad magic, then read exactly body_len
// bytes and decode.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [envelopeLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, &ierrors.TransportError{Op: "read xpc envelope", Err: err}
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != messageMagic {
		return Message{}, &ierrors.BadMagicError{Want: messageMagic, Got: magic}
	}
	flags := binary.LittleEndian.Uint32(hdr[4:8])
	bodyLen := binary.LittleEndian.Uint64(hdr[8:16])
	messageID := binary.LittleEndian.Uint64(hdr[16:24])

	if bodyLen == 0 {
		return Message{Flags: flags, MessageID: messageID}, nil
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, &ierrors.TransportError{Op: "read xpc body", Err: err}
	}
	obj, err := Decode(body)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(flags, messageID, obj), nil
}

// DecodeMessage parses a full envelope+body already held in memory.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < envelopeLen {
		return Message{}, &ierrors.TruncatedError{Want: envelopeLen, Got: len(b)}
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != messageMagic {
		return Message{}, &ierrors.BadMagicError{Want: messageMagic, Got: magic}
	}
	flags := binary.LittleEndian.Uint32(b[4:8])
	bodyLen := binary.LittleEndian.Uint64(b[8:16])
	messageID := binary.LittleEndian.Uint64(b[16:24])
	if uint64(len(b)) < envelopeLen+bodyLen {
		return Message{}, &ierrors.TruncatedError{Want: int(envelopeLen + bodyLen), Got: len(b)}
	}
	if bodyLen == 0 {
		return Message{Flags: flags, MessageID: messageID}, nil
	}
	obj, err := Decode(b[envelopeLen : envelopeLen+bodyLen])
	if err != nil {
		return Message{}, err
	}
	return NewMessage(flags, messageID, obj), nil
}
