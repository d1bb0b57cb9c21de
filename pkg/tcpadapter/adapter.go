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
	"math/rand"
	"net"
	"time"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
)

// PacketTunnel is the reliable channel over which the adapter exchanges
// whole IPv4/IPv6 packets. It is normally backed by the
// encrypted CoreDeviceProxy tunnel; tests back it with an in-memory pipe.
type PacketTunnel interface {
	ReadPacket() ([]byte, error)
	WritePacket(pkt []byte) error
}

const (
	connectTimeout = 5 * time.Second
	flushInterval  = time.Millisecond
)

type connectRequest struct {
	port uint16
	resp chan connectResult
}

type connectResult struct {
	stream *Stream
	err    error
}

type pendingConnect struct {
	hostPort uint16
	deadline time.Time
	resp     chan connectResult
}

type sendRequest struct {
	hostPort uint16
	data     []byte
	resp     chan error
}

type flushRequest struct {
	hostPort uint16
	resp     chan error
}

type closeRequest struct {
	hostPort uint16
	resp     chan error
}

type pcapRequest struct {
	path string
	resp chan error
}

// Adapter is the single-task owner of every connection's state. Create one with New and drive
// it with Run; all other interaction happens through Connect and the
// Stream handles it returns.
type Adapter struct {
	tunnel PacketTunnel
	hostIP net.IP
	peerIP net.IP
	log    logr.Logger

	connectReqCh chan connectRequest
	sendReqCh    chan sendRequest
	flushReqCh   chan flushRequest
	closeReqCh   chan closeRequest
	pcapReqCh    chan pcapRequest

	conns   map[uint16]*conn
	pending map[uint16]*pendingConnect
	capture *pcapWriter
}

// New creates an adapter for a single (hostIP, peerIP) pair. Run must be
// called to start its task before Connect is used.
func New(tunnel PacketTunnel, hostIP, peerIP net.IP, log logr.Logger) *Adapter {
	return &Adapter{
		tunnel:       tunnel,
		hostIP:       hostIP,
		peerIP:       peerIP,
		log:          logging.OrDiscard(log),
		connectReqCh: make(chan connectRequest),
		sendReqCh:    make(chan sendRequest),
		flushReqCh:   make(chan flushRequest),
		closeReqCh:   make(chan closeRequest),
		pcapReqCh:    make(chan pcapRequest),
		conns:        make(map[uint16]*conn),
		pending:      make(map[uint16]*pendingConnect),
	}
}

// Run drives the adapter's event loop until ctx is cancelled or the
// tunnel returns a fatal read error. It is meant to run on its own
// goroutine for the adapter's lifetime.
func (a *Adapter) Run(ctx context.Context) error {
	packetCh := make(chan []byte, 16)
	readErrCh := make(chan error, 1)
	go a.readLoop(ctx, packetCh, readErrCh)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrCh:
			a.failAll(&ierrors.TCPError{Kind: ierrors.TCPConnectionReset})
			return &ierrors.TransportError{Op: "tcpadapter tunnel read", Err: err}

		case pkt := <-packetCh:
			a.onPacket(pkt)

		case req := <-a.connectReqCh:
			a.onConnect(req)

		case req := <-a.sendReqCh:
			a.onSend(req)

		case req := <-a.flushReqCh:
			a.onFlush(req)

		case req := <-a.closeReqCh:
			a.onClose(req)

		case req := <-a.pcapReqCh:
			a.onPcap(req)

		case now := <-ticker.C:
			a.onTick(now)
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, packetCh chan<- []byte, errCh chan<- error) {
	for {
		pkt, err := a.tunnel.ReadPacket()
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case packetCh <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

// Connect opens a new stream to port on the peer, choosing a random
// unused host port and blocking until the connection completes, fails,
// or the 5-second timeout elapses.
func (a *Adapter) Connect(ctx context.Context, port uint16) (*Stream, error) {
	resp := make(chan connectResult, 1)
	select {
	case a.connectReqCh <- connectRequest{port: port, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-resp:
		return res.stream, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnablePcap starts (or, with an empty path, stops) libpcap-format
// capture of every packet the adapter emits or receives.
func (a *Adapter) EnablePcap(path string) error {
	resp := make(chan error, 1)
	a.pcapReqCh <- pcapRequest{path: path, resp: resp}
	return <-resp
}

func (a *Adapter) onPcap(req pcapRequest) {
	if a.capture != nil {
		_ = a.capture.Close()
		a.capture = nil
	}
	if req.path == "" {
		req.resp <- nil
		return
	}
	w, err := newPcapWriter(req.path)
	if err != nil {
		req.resp <- err
		return
	}
	a.capture = w
	req.resp <- nil
}

func (a *Adapter) onConnect(req connectRequest) {
	hostPort := a.choosePort()
	seq := rand.Uint32()
	c := &conn{hostPort: hostPort, peerPort: req.port, state: lifecycleConnecting, sndNxt: seq, peerAcked: seq, recvCh: make(chan []byte, 64)}
	a.conns[hostPort] = c
	a.pending[hostPort] = &pendingConnect{hostPort: hostPort, deadline: time.Now().Add(connectTimeout), resp: req.resp}

	a.emit(segment{srcPort: hostPort, dstPort: req.port, seq: seq, flags: flagSYN})
}

func (a *Adapter) choosePort() uint16 {
	for {
		p := uint16(rand.Intn(1<<16-1024) + 1024)
		if _, ok := a.conns[p]; !ok {
			return p
		}
	}
}

func (a *Adapter) onSend(req sendRequest) {
	c, ok := a.conns[req.hostPort]
	if !ok {
		req.resp <- &ierrors.InternalError{Text: "send on unknown connection"}
		return
	}
	c.writeBuf = append(c.writeBuf, req.data...)
	req.resp <- nil
}

func (a *Adapter) onFlush(req flushRequest) {
	c, ok := a.conns[req.hostPort]
	if !ok {
		req.resp <- nil
		return
	}
	// Account for bytes still sitting in the write buffer: they will
	// reach this sequence number once the next tick flushes them.
	target := c.sndNxt + uint32(len(c.writeBuf))
	if seqLE(target, c.peerAcked) {
		req.resp <- nil
		return
	}
	c.ackWaiters = append(c.ackWaiters, waiter{needSeq: target, resp: req.resp})
}

func (a *Adapter) onClose(req closeRequest) {
	c, ok := a.conns[req.hostPort]
	if !ok {
		req.resp <- nil
		return
	}
	a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagFIN | flagACK})
	a.forget(c)
	req.resp <- nil
}

func (a *Adapter) onTick(time.Time) {
	now := time.Now()
	for port, p := range a.pending {
		if now.After(p.deadline) {
			delete(a.pending, port)
			delete(a.conns, port)
			p.resp <- connectResult{err: &ierrors.TCPError{Kind: ierrors.TCPTimedOut}}
		}
	}
	for _, c := range a.conns {
		if c.state == lifecycleConnected && len(c.writeBuf) > 0 {
			payload := c.writeBuf
			c.writeBuf = nil
			a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagPSH | flagACK, payload: payload})
			c.sndNxt += uint32(len(payload))
		}
	}
}

func (a *Adapter) onPacket(pkt []byte) {
	if a.capture != nil {
		a.capture.writeRaw(pkt, false)
	}
	_, _, seg, err := parsePacket(pkt)
	if err != nil {
		a.log.V(1).Info("dropping unparseable packet", "err", err)
		return
	}
	c, ok := a.conns[seg.dstPort]
	if !ok {
		return
	}
	a.handleSegment(c, seg)
}

func (a *Adapter) handleSegment(c *conn, seg segment) {
	if c.state == lifecycleConnecting {
		if seg.has(flagSYN) && seg.has(flagACK) {
			c.rcvNxt = seg.seq + 1
			c.haveRcv = true
			c.sndNxt++
			c.state = lifecycleConnected
			a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagACK})
			if p, ok := a.pending[c.hostPort]; ok {
				delete(a.pending, c.hostPort)
				p.resp <- connectResult{stream: newStream(a, c)}
			}
		}
		return
	}
	if c.state != lifecycleConnected {
		return
	}

	// Keep-alive: a bare ACK restating the byte just before what we
	// already have.
	if len(seg.payload) == 0 && !seg.has(flagSYN) && !seg.has(flagFIN) && !seg.has(flagRST) && c.haveRcv && seg.seq == c.rcvNxt-1 {
		if seg.has(flagACK) {
			a.recordAck(c, seg.ack)
		}
		a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagACK})
		return
	}

	if seg.has(flagACK) {
		a.recordAck(c, seg.ack)
	}

	// Retransmission suppression: drop anything already inside the
	// acknowledged window.
	if c.haveRcv && seqLE(seg.seq+1, c.rcvNxt) && len(seg.payload) == 0 && !seg.has(flagFIN) {
		return
	}
	if c.haveRcv && seqLE(seg.seq, c.rcvNxt-1) && len(seg.payload) > 0 {
		return
	}

	advance := uint32(len(seg.payload))
	if seg.has(flagFIN) {
		advance++
	}
	if advance > 0 || !c.haveRcv {
		c.rcvNxt = seg.seq + advance
		c.haveRcv = true
	}

	if seg.has(flagPSH) || len(seg.payload) > 0 {
		select {
		case c.recvCh <- append([]byte(nil), seg.payload...):
		default:
			a.log.V(1).Info("receive buffer full, dropping payload", "hostPort", c.hostPort)
		}
	}

	if seg.has(flagRST) {
		c.state = lifecycleError
		c.errKind = ierrors.TCPConnectionReset
		close(c.recvCh)
		return
	}
	if seg.has(flagFIN) {
		a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagACK})
		c.state = lifecycleError
		c.errKind = ierrors.TCPUnexpectedEOF
		close(c.recvCh)
		return
	}

	a.emit(segment{srcPort: c.hostPort, dstPort: c.peerPort, seq: c.sndNxt, ack: c.rcvNxt, flags: flagACK})
}

func (a *Adapter) recordAck(c *conn, ack uint32) {
	if !seqLE(c.peerAcked, ack) {
		return
	}
	c.peerAcked = ack
	remaining := c.ackWaiters[:0]
	for _, w := range c.ackWaiters {
		if seqLE(w.needSeq, ack) {
			w.resp <- nil
		} else {
			remaining = append(remaining, w)
		}
	}
	c.ackWaiters = remaining
}

func (a *Adapter) emit(seg segment) {
	pkt := buildPacket(a.hostIP, a.peerIP, seg)
	if a.capture != nil {
		a.capture.writeRaw(pkt, true)
	}
	if err := a.tunnel.WritePacket(pkt); err != nil {
		a.log.V(1).Info("tunnel write failed", "err", err)
	}
}

func (a *Adapter) forget(c *conn) {
	delete(a.conns, c.hostPort)
	if c.state != lifecycleClosed {
		c.state = lifecycleClosed
		close(c.recvCh)
	}
	for _, w := range c.ackWaiters {
		w.resp <- nil
	}
	c.ackWaiters = nil
}

func (a *Adapter) failAll(err *ierrors.TCPError) {
	for _, p := range a.pending {
		p.resp <- connectResult{err: err}
	}
	a.pending = make(map[uint16]*pendingConnect)
	for _, c := range a.conns {
		if c.state != lifecycleClosed {
			c.state = lifecycleError
			c.errKind = err.Kind
			close(c.recvCh)
		}
	}
}

type waiter struct {
	needSeq uint32
	resp    chan error
}
