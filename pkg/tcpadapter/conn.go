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

package tcpadapter

import (
	"github.com/ioslink/idevice/pkg/ierrors"
)

// lifecycle is the per-connection state machine.
type lifecycle int

const (
	lifecycleConnecting lifecycle = iota
	lifecycleConnected
	lifecycleError
	lifecycleClosed
)

// conn holds all state the adapter task owns for one logical stream.
// Every field is touched only from the adapter's run loop goroutine; no
// locking is required.
type conn struct {
	hostPort uint16
	peerPort uint16

	state   lifecycle
	errKind ierrors.TCPErrorKind
	sndNxt  uint32 // next sequence number this side will send
	rcvNxt  uint32 // next sequence number expected from the peer
	haveRcv bool   // whether rcvNxt has been initialized yet

	peerAcked uint32 // highest sequence number (in sndNxt's space) the peer has acknowledged

	writeBuf []byte // pending bytes not yet flushed as a segment

	recvCh     chan []byte // delivered payloads, pulled by the Stream
	ackWaiters []waiter
}

// seqLE reports whether a <= b, accounting for sequence number wraparound.
func seqLE(a, b uint32) bool {
	return int32(b-a) >= 0
}
