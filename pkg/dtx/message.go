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

// Package dtx implements the DTX message framing used by Instruments-style
// developer-tools services: a 32-byte message header, a
// 16-byte payload header, an optional tagged auxiliary-value section, and
// an NSKeyedArchiver-encoded payload. The archiver's object graph is opaque
// to this package — Payload is carried as raw bytes.
package dtx

import (
	"encoding/binary"
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
)

const dtxMagic uint32 = 0x1F3D5B79

const messageHeaderLen = 32
const payloadHeaderLen = 16
const auxHeaderLen = 16

// Payload header flags.
const (
	FlagMethodInvocation uint32 = 2
	FlagExpectsReplyMap  uint32 = 0x1000
)

// Auxiliary value tags, each preceded by a 0x0a separator tag.
const (
	auxSeparator uint32 = 0x0a
	auxString    uint32 = 0x01
	auxBytes     uint32 = 0x02
	auxUint32    uint32 = 0x03
	auxInt64     uint32 = 0x06
)

// AuxValue is one tagged entry of a message's auxiliary section.
// Exactly one of the fields other than Kind is meaningful, selected by Kind.
type AuxValue struct {
	Kind    byte // one of AuxKindString, AuxKindBytes, AuxKindUint32, AuxKindInt64
	Str     string
	Bytes   []byte
	Uint32V uint32
	Int64V  int64
}

// Kind values for AuxValue.Kind.
const (
	AuxKindString = byte(auxString)
	AuxKindBytes  = byte(auxBytes)
	AuxKindUint32 = byte(auxUint32)
	AuxKindInt64  = byte(auxInt64)
)

func AuxString(s string) AuxValue { return AuxValue{Kind: AuxKindString, Str: s} }
func AuxBytes(b []byte) AuxValue  { return AuxValue{Kind: AuxKindBytes, Bytes: b} }
func AuxUint32(u uint32) AuxValue { return AuxValue{Kind: AuxKindUint32, Uint32V: u} }
func AuxInt64(i int64) AuxValue   { return AuxValue{Kind: AuxKindInt64, Int64V: i} }

// ChannelID identifies a DTX channel. Channel 0 is the control channel used
// to establish further channels; GlobalChannel (-1) is the reserved channel
// for unsolicited device broadcasts.
type ChannelID int32

const (
	ControlChannel ChannelID = 0
	GlobalChannel  ChannelID = -1
)

// Message is a fully reassembled DTX message: header fields relevant past
// the wire framing, the auxiliary values, and the opaque archiver payload.
type Message struct {
	Identifier        uint32
	ConversationIndex uint32
	Channel           ChannelID
	ExpectsReply      bool
	Flags             uint32
	Aux               []AuxValue
	Payload           []byte
}

type wireHeader struct {
	fragmentID        uint16
	fragmentCount     uint16
	length            uint32
	identifier        uint32
	conversationIndex uint32
	channel           int32
	expectsReply      bool
}

func readWireHeader(r io.Reader) (wireHeader, error) {
	var buf [messageHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return wireHeader{}, &ierrors.TransportError{Op: "read dtx header", Err: err}
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != dtxMagic {
		return wireHeader{}, &ierrors.BadMagicError{Want: dtxMagic, Got: magic}
	}
	return wireHeader{
		fragmentID:        binary.LittleEndian.Uint16(buf[8:10]),
		fragmentCount:     binary.LittleEndian.Uint16(buf[10:12]),
		length:            binary.LittleEndian.Uint32(buf[12:16]),
		identifier:        binary.LittleEndian.Uint32(buf[16:20]),
		conversationIndex: binary.LittleEndian.Uint32(buf[20:24]),
		channel:           int32(binary.LittleEndian.Uint32(buf[24:28])),
		expectsReply:      binary.LittleEndian.Uint32(buf[28:32]) == 1,
	}, nil
}

func encodeWireHeader(h wireHeader) []byte {
	buf := make([]byte, messageHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], dtxMagic)
	binary.LittleEndian.PutUint32(buf[4:8], messageHeaderLen)
	binary.LittleEndian.PutUint16(buf[8:10], h.fragmentID)
	binary.LittleEndian.PutUint16(buf[10:12], h.fragmentCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.length)
	binary.LittleEndian.PutUint32(buf[16:20], h.identifier)
	binary.LittleEndian.PutUint32(buf[20:24], h.conversationIndex)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.channel))
	var er uint32
	if h.expectsReply {
		er = 1
	}
	binary.LittleEndian.PutUint32(buf[28:32], er)
	return buf
}

// Encode serializes m as a single, unfragmented DTX message. The payload
// header's aux_length/total_length and the message header's length are
// computed here.
func Encode(m Message) []byte {
	aux := encodeAux(m.Aux)

	body := make([]byte, payloadHeaderLen, payloadHeaderLen+len(aux)+len(m.Payload))
	binary.LittleEndian.PutUint32(body[0:4], m.Flags)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(aux)))
	binary.LittleEndian.PutUint64(body[8:16], uint64(len(aux)+len(m.Payload)))
	body = append(body, aux...)
	body = append(body, m.Payload...)

	hdr := encodeWireHeader(wireHeader{
		fragmentID:        0,
		fragmentCount:     1,
		length:            uint32(len(body)),
		identifier:        m.Identifier,
		conversationIndex: m.ConversationIndex,
		channel:           int32(m.Channel),
		expectsReply:      m.ExpectsReply,
	})
	return append(hdr, body...)
}

// ReadMessage reads one DTX message from r, reassembling fragments:
// a header-only prelude (fragment_count > 1, fragment_id == 0)
// announces the fragment count; each subsequent fragment carries its own
// header plus a slice of the body, concatenated until
// fragment_id == fragment_count-1.
func ReadMessage(r io.Reader) (Message, error) {
	hdr, err := readWireHeader(r)
	if err != nil {
		return Message{}, err
	}

	var body []byte
	if hdr.fragmentCount > 1 && hdr.fragmentID == 0 {
		body = make([]byte, 0, hdr.length)
		for i := uint16(1); i < hdr.fragmentCount; i++ {
			fhdr, err := readWireHeader(r)
			if err != nil {
				return Message{}, err
			}
			chunk := make([]byte, fhdr.length)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return Message{}, &ierrors.TransportError{Op: "read dtx fragment", Err: err}
			}
			body = append(body, chunk...)
		}
	} else {
		body = make([]byte, hdr.length)
		if _, err := io.ReadFull(r, body); err != nil {
			return Message{}, &ierrors.TransportError{Op: "read dtx body", Err: err}
		}
	}

	if len(body) < payloadHeaderLen {
		return Message{}, &ierrors.TruncatedError{Want: payloadHeaderLen, Got: len(body)}
	}
	flags := binary.LittleEndian.Uint32(body[0:4])
	auxLen := binary.LittleEndian.Uint32(body[4:8])
	totalLen := binary.LittleEndian.Uint64(body[8:16])
	rest := body[payloadHeaderLen:]
	if uint64(len(rest)) < totalLen {
		return Message{}, &ierrors.TruncatedError{Want: int(totalLen), Got: len(rest)}
	}
	auxBytes := rest[:auxLen]
	payload := append([]byte(nil), rest[auxLen:totalLen]...)

	aux, err := decodeAux(auxBytes)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Identifier:        hdr.identifier,
		ConversationIndex: hdr.conversationIndex,
		Channel:           ChannelID(hdr.channel),
		ExpectsReply:      hdr.expectsReply,
		Flags:             flags,
		Aux:               aux,
		Payload:           payload,
	}, nil
}

// encodeAux serializes the auxiliary section: a 16-byte sub-header (the
// fixed buffer_size 496 every known client hardcodes, its real meaning
// undocumented) followed by each value preceded by a 0x0a separator tag.
// No values at all means no auxiliary section.
func encodeAux(values []AuxValue) []byte {
	if len(values) == 0 {
		return nil
	}

	var vals []byte
	for _, v := range values {
		vals = binary.LittleEndian.AppendUint32(vals, auxSeparator)
		switch v.Kind {
		case AuxKindString:
			vals = binary.LittleEndian.AppendUint32(vals, auxString)
			vals = binary.LittleEndian.AppendUint32(vals, uint32(len(v.Str)))
			vals = append(vals, v.Str...)
		case AuxKindBytes:
			vals = binary.LittleEndian.AppendUint32(vals, auxBytes)
			vals = binary.LittleEndian.AppendUint32(vals, uint32(len(v.Bytes)))
			vals = append(vals, v.Bytes...)
		case AuxKindUint32:
			vals = binary.LittleEndian.AppendUint32(vals, auxUint32)
			vals = binary.LittleEndian.AppendUint32(vals, v.Uint32V)
		case AuxKindInt64:
			vals = binary.LittleEndian.AppendUint32(vals, auxInt64)
			vals = binary.LittleEndian.AppendUint64(vals, uint64(v.Int64V))
		}
	}

	out := make([]byte, auxHeaderLen, auxHeaderLen+len(vals))
	binary.LittleEndian.PutUint32(out[0:4], 496)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(vals)))
	return append(out, vals...)
}

func decodeAux(b []byte) ([]AuxValue, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < auxHeaderLen {
		return nil, &ierrors.TruncatedError{Want: auxHeaderLen, Got: len(b)}
	}
	b = b[auxHeaderLen:]

	var values []AuxValue
	for len(b) >= 4 {
		tag := binary.LittleEndian.Uint32(b[0:4])
		b = b[4:]
		switch tag {
		case auxSeparator:
			// Precedes every value; carries no data of its own.
		case auxString:
			if len(b) < 4 {
				return nil, &ierrors.TruncatedError{Want: 4, Got: len(b)}
			}
			n := binary.LittleEndian.Uint32(b[0:4])
			b = b[4:]
			if uint64(len(b)) < uint64(n) {
				return nil, &ierrors.TruncatedError{Want: int(n), Got: len(b)}
			}
			values = append(values, AuxString(string(b[:n])))
			b = b[n:]
		case auxBytes:
			if len(b) < 4 {
				return nil, &ierrors.TruncatedError{Want: 4, Got: len(b)}
			}
			n := binary.LittleEndian.Uint32(b[0:4])
			b = b[4:]
			if uint64(len(b)) < uint64(n) {
				return nil, &ierrors.TruncatedError{Want: int(n), Got: len(b)}
			}
			values = append(values, AuxBytes(append([]byte(nil), b[:n]...)))
			b = b[n:]
		case auxUint32:
			if len(b) < 4 {
				return nil, &ierrors.TruncatedError{Want: 4, Got: len(b)}
			}
			values = append(values, AuxUint32(binary.LittleEndian.Uint32(b[0:4])))
			b = b[4:]
		case auxInt64:
			if len(b) < 8 {
				return nil, &ierrors.TruncatedError{Want: 8, Got: len(b)}
			}
			values = append(values, AuxInt64(int64(binary.LittleEndian.Uint64(b[0:8]))))
			b = b[8:]
		default:
			return nil, &ierrors.InternalError{Text: "dtx: unknown auxiliary value tag"}
		}
	}
	return values, nil
}
