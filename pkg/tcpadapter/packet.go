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

// Package tcpadapter implements a minimal, single-peer user-space
// IPv4/IPv6+TCP stack carried over a reliable byte stream (a tunnel). It
// has no retransmission, no congestion control and no PMTU discovery
// ; it exists to give higher layers (RSD, XPC) a net.Conn-like
// stream abstraction on top of an encrypted tunnel that only understands
// raw IP packets.
package tcpadapter

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// errBadPacket covers IP/TCP framing problems that aren't a plain
// truncation: wrong version, non-TCP protocol, bad header length.
var errBadPacket = errors.New("tcpadapter: malformed packet")

const (
	protoTCP = 6

	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
	tcpHeaderLen  = 20
)

// TCP control bits.
const (
	flagFIN uint8 = 1 << 0
	flagSYN uint8 = 1 << 1
	flagRST uint8 = 1 << 2
	flagPSH uint8 = 1 << 3
	flagACK uint8 = 1 << 4
)

// segment is a parsed TCP header plus its payload.
type segment struct {
	srcPort uint16
	dstPort uint16
	seq     uint32
	ack     uint32
	flags   uint8
	window  uint16
	payload []byte
}

func (s segment) has(f uint8) bool { return s.flags&f != 0 }

// buildPacket encodes a full IP packet (v4 or v6, chosen by the address
// family of srcIP/dstIP) carrying s as its TCP payload.
func buildPacket(srcIP, dstIP net.IP, s segment) []byte {
	tcp := encodeTCP(srcIP, dstIP, s)
	if v4 := srcIP.To4(); v4 != nil {
		return encodeIPv4(v4, dstIP.To4(), tcp)
	}
	return encodeIPv6(srcIP.To16(), dstIP.To16(), tcp)
}

// parsePacket decodes an IP packet and returns its addresses and TCP
// segment. Non-TCP packets and truncated packets return an error.
func parsePacket(data []byte) (srcIP, dstIP net.IP, s segment, err error) {
	if len(data) == 0 {
		return nil, nil, segment{}, &ierrors.TruncatedError{Want: 1, Got: 0}
	}
	version := data[0] >> 4
	switch version {
	case 4:
		srcIP, dstIP, payload, err := decodeIPv4(data)
		if err != nil {
			return nil, nil, segment{}, err
		}
		s, err := decodeTCP(payload)
		return srcIP, dstIP, s, err
	case 6:
		srcIP, dstIP, payload, err := decodeIPv6(data)
		if err != nil {
			return nil, nil, segment{}, err
		}
		s, err := decodeTCP(payload)
		return srcIP, dstIP, s, err
	default:
		return nil, nil, segment{}, errBadPacket
	}
}

// ---- IPv4 ----

func encodeIPv4(srcIP, dstIP net.IP, payload []byte) []byte {
	total := ipv4HeaderLen + len(payload)
	buf := make([]byte, total)
	buf[0] = 0x45 // version 4, IHL 5 (no options)
	buf[1] = 0x00 // DSCP/ECN
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], 0) // identification
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/fragment offset
	buf[8] = 64                             // TTL
	buf[9] = protoTCP
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum placeholder
	copy(buf[12:16], srcIP)
	copy(buf[16:20], dstIP)
	binary.BigEndian.PutUint16(buf[10:12], onesComplementChecksum(buf[:ipv4HeaderLen]))
	copy(buf[ipv4HeaderLen:], payload)
	return buf
}

func decodeIPv4(data []byte) (srcIP, dstIP net.IP, payload []byte, err error) {
	if len(data) < ipv4HeaderLen {
		return nil, nil, nil, &ierrors.TruncatedError{Want: ipv4HeaderLen, Got: len(data)}
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(data) < ihl {
		return nil, nil, nil, errBadPacket
	}
	if data[9] != protoTCP {
		return nil, nil, nil, errBadPacket
	}
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < ihl || totalLen > len(data) {
		totalLen = len(data)
	}
	src := make(net.IP, 4)
	dst := make(net.IP, 4)
	copy(src, data[12:16])
	copy(dst, data[16:20])
	return src, dst, data[ihl:totalLen], nil
}

// ---- IPv6 ----

func encodeIPv6(srcIP, dstIP net.IP, payload []byte) []byte {
	buf := make([]byte, ipv6HeaderLen+len(payload))
	buf[0] = 0x60 // version 6
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	buf[6] = protoTCP // next header
	buf[7] = 64       // hop limit
	copy(buf[8:24], srcIP)
	copy(buf[24:40], dstIP)
	copy(buf[ipv6HeaderLen:], payload)
	return buf
}

func decodeIPv6(data []byte) (srcIP, dstIP net.IP, payload []byte, err error) {
	if len(data) < ipv6HeaderLen {
		return nil, nil, nil, &ierrors.TruncatedError{Want: ipv6HeaderLen, Got: len(data)}
	}
	if data[6] != protoTCP {
		return nil, nil, nil, errBadPacket
	}
	plen := int(binary.BigEndian.Uint16(data[4:6]))
	end := ipv6HeaderLen + plen
	if end > len(data) {
		end = len(data)
	}
	src := make(net.IP, 16)
	dst := make(net.IP, 16)
	copy(src, data[8:24])
	copy(dst, data[24:40])
	return src, dst, data[ipv6HeaderLen:end], nil
}

// ---- TCP ----

func encodeTCP(srcIP, dstIP net.IP, s segment) []byte {
	buf := make([]byte, tcpHeaderLen+len(s.payload))
	binary.BigEndian.PutUint16(buf[0:2], s.srcPort)
	binary.BigEndian.PutUint16(buf[2:4], s.dstPort)
	binary.BigEndian.PutUint32(buf[4:8], s.seq)
	binary.BigEndian.PutUint32(buf[8:12], s.ack)
	buf[12] = (tcpHeaderLen / 4) << 4 // data offset, no options
	buf[13] = s.flags
	window := s.window
	if window == 0 {
		window = 65535
	}
	binary.BigEndian.PutUint16(buf[14:16], window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(buf[18:20], 0) // urgent pointer
	copy(buf[tcpHeaderLen:], s.payload)

	var sum uint16
	if v4 := srcIP.To4(); v4 != nil {
		sum = tcpChecksumV4(v4, dstIP.To4(), buf)
	} else {
		sum = tcpChecksumV6(srcIP.To16(), dstIP.To16(), buf)
	}
	binary.BigEndian.PutUint16(buf[16:18], sum)
	return buf
}

func decodeTCP(data []byte) (segment, error) {
	if len(data) < tcpHeaderLen {
		return segment{}, &ierrors.TruncatedError{Want: tcpHeaderLen, Got: len(data)}
	}
	dataOffset := int(data[12]>>4) * 4
	if dataOffset < tcpHeaderLen || dataOffset > len(data) {
		return segment{}, errBadPacket
	}
	return segment{
		srcPort: binary.BigEndian.Uint16(data[0:2]),
		dstPort: binary.BigEndian.Uint16(data[2:4]),
		seq:     binary.BigEndian.Uint32(data[4:8]),
		ack:     binary.BigEndian.Uint32(data[8:12]),
		flags:   data[13],
		window:  binary.BigEndian.Uint16(data[14:16]),
		payload: data[dataOffset:],
	}, nil
}

// onesComplementChecksum is the standard RFC 1071 one's-complement sum
// used by the IPv4 header checksum and, over a pseudo-header plus
// segment, the TCP checksum.
func onesComplementChecksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func tcpChecksumV4(srcIP, dstIP net.IP, tcpSegment []byte) uint16 {
	pseudo := make([]byte, 12+len(tcpSegment))
	copy(pseudo[0:4], srcIP)
	copy(pseudo[4:8], dstIP)
	pseudo[8] = 0
	pseudo[9] = protoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcpSegment)))
	copy(pseudo[12:], tcpSegment)
	return onesComplementChecksum(pseudo)
}

func tcpChecksumV6(srcIP, dstIP net.IP, tcpSegment []byte) uint16 {
	pseudo := make([]byte, 40+len(tcpSegment))
	copy(pseudo[0:16], srcIP)
	copy(pseudo[16:32], dstIP)
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(tcpSegment)))
	pseudo[36], pseudo[37], pseudo[38] = 0, 0, 0
	pseudo[39] = protoTCP
	copy(pseudo[40:], tcpSegment)
	return onesComplementChecksum(pseudo)
}
