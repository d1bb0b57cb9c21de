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
	"context"
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// Stream is a net.Conn-like handle onto one adapter connection. Reads
// and writes are serviced by the adapter's single task via message
// passing; Stream itself holds no connection state beyond
// its read-side leftover buffer and a reference to its conn for reading
// the error kind left behind when recvCh closes, so it is safe to use
// from any goroutine as long as calls are not issued concurrently with
// each other.
type Stream struct {
	adapter  *Adapter
	conn     *conn
	hostPort uint16
	recvCh   chan []byte
	leftover []byte
	closed   bool
}

func newStream(a *Adapter, c *conn) *Stream {
	return &Stream{adapter: a, conn: c, hostPort: c.hostPort, recvCh: c.recvCh}
}

// Read blocks until the connection delivers payload, returns a
// TCPError on reset/EOF, or the stream is closed.
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.leftover) == 0 {
		chunk, ok := <-s.recvCh
		if !ok {
			// recvCh closing happens-before this receive observes it, so
			// reading conn.errKind here is safe without extra locking
			// (the adapter's single task set it before closing).
			if s.conn.errKind != "" {
				return 0, &ierrors.TCPError{Kind: s.conn.errKind}
			}
			return 0, io.EOF
		}
		s.leftover = chunk
	}
	n := copy(p, s.leftover)
	s.leftover = s.leftover[n:]
	return n, nil
}

// Write enqueues data for the next flush tick; it does not wait for the
// peer to acknowledge. Use Flush to wait for that.
func (s *Stream) Write(p []byte) (int, error) {
	resp := make(chan error, 1)
	s.adapter.sendReqCh <- sendRequest{hostPort: s.hostPort, data: p, resp: resp}
	if err := <-resp; err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush resolves once every byte handed to Write so far has been
// acknowledged by the peer, or ctx is done.
func (s *Stream) Flush(ctx context.Context) error {
	resp := make(chan error, 1)
	select {
	case s.adapter.flushReqCh <- flushRequest{hostPort: s.hostPort, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends FIN+ACK and releases the connection's host port.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	resp := make(chan error, 1)
	s.adapter.closeReqCh <- closeRequest{hostPort: s.hostPort, resp: resp}
	return <-resp
}
