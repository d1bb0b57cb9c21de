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

package mux

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

var errNotADict = errors.New("mux reply body is not a dictionary")

const clientVersionString = "ioslink"
const libUSBMuxVersion = 3

// Error codes usbmuxd returns in a "Number" reply.
const (
	muxResultOK                uint32 = 0
	muxResultBadCommand        uint32 = 1
	muxResultBadDevice         uint32 = 2
	muxResultConnectionRefused uint32 = 3
	muxResultBadVersion        uint32 = 6
)

// DefaultSocketAddress resolves USBMUXD_SOCKET_ADDRESS: either a
// Unix socket path or a "host:port" pair. Absent the variable, it falls back
// to /var/run/usbmuxd on Unix and 127.0.0.1:27015 elsewhere.
func DefaultSocketAddress() (network, address string) {
	if addr := os.Getenv("USBMUXD_SOCKET_ADDRESS"); addr != "" {
		if runtime.GOOS != "windows" && len(addr) > 0 && addr[0] == '/' {
			return "unix", addr
		}
		return "tcp", addr
	}
	if runtime.GOOS == "windows" {
		return "tcp", "127.0.0.1:27015"
	}
	return "unix", "/var/run/usbmuxd"
}

// Dial opens a fresh connection to the mux daemon using the resolved
// default socket address.
func Dial() (net.Conn, error) {
	network, address := DefaultSocketAddress()
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, &ierrors.TransportError{Op: "dial usbmuxd", Err: err}
	}
	return conn, nil
}

// Client speaks the usbmuxd plist protocol over a single connection. A
// Client instance is owned by one goroutine: callers must not issue
// concurrent requests on the same connection.
type Client struct {
	conn     net.Conn
	log      logr.Logger
	progName string
	tag      uint32
}

// NewClient wraps conn (already dialed to the mux daemon) in a Client.
func NewClient(conn net.Conn, progName string, log logr.Logger) *Client {
	return &Client{conn: conn, log: logging.OrDiscard(log), progName: progName}
}

func (c *Client) nextTag() uint32 {
	return atomic.AddUint32(&c.tag, 1)
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) configDict(messageType string) *plist.Dict {
	d := plist.NewDict()
	d.Set("ClientVersionString", plist.String(clientVersionString))
	d.Set("MessageType", plist.String(messageType))
	d.Set("ProgName", plist.String(c.progName))
	d.Set("kLibUSBMuxVersion", plist.Int(libUSBMuxVersion))
	return d
}

func (c *Client) roundTrip(messageType string, extra func(*plist.Dict)) (*packet, error) {
	d := c.configDict(messageType)
	if extra != nil {
		extra(d)
	}
	tag := c.nextTag()
	if err := writePacket(c.conn, tag, plist.Dictionary(d)); err != nil {
		return nil, err
	}
	pkt, err := readPacket(c.conn)
	if err != nil {
		return nil, err
	}
	if pkt.tag != tag {
		return nil, &ierrors.UnexpectedResponseError{Context: "mux reply", Key: "tag mismatch"}
	}
	return pkt, nil
}

// resultError maps a usbmuxd "Number" reply onto an error, or nil on
// success.
func resultError(code uint32) error {
	switch code {
	case muxResultOK:
		return nil
	case muxResultBadCommand:
		return &ierrors.UnexpectedResponseError{Context: "mux", Key: "BadCommand"}
	case muxResultBadDevice:
		return &ierrors.NotFoundError{What: "device"}
	case muxResultConnectionRefused:
		return &ierrors.TCPError{Kind: ierrors.TCPConnectionRefused}
	case muxResultBadVersion:
		return &ierrors.UnexpectedResponseError{Context: "mux", Key: "BadVersion"}
	default:
		return &ierrors.UnexpectedResponseError{Context: "mux", Key: "unknown result code"}
	}
}

func numberField(d *plist.Dict) (uint32, bool) {
	v, ok := d.Get("Number")
	if !ok {
		return 0, false
	}
	n, ok := v.AsInt()
	return uint32(n), ok
}

// ListDevices returns every device currently known to the daemon.
func (c *Client) ListDevices() ([]Device, error) {
	pkt, err := c.roundTrip("ListDevices", nil)
	if err != nil {
		return nil, err
	}
	d, ok := pkt.body.AsDictionary()
	if !ok {
		return nil, &ierrors.MalformedPlistError{Err: errNotADict}
	}
	listV, ok := d.Get("DeviceList")
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "ListDevices", Key: "DeviceList"}
	}
	list, ok := listV.AsArray()
	if !ok {
		return nil, &ierrors.UnexpectedResponseError{Context: "ListDevices", Key: "DeviceList"}
	}
	out := make([]Device, 0, len(list))
	for _, item := range list {
		dev, ok := deviceFromEntry(item)
		if ok {
			out = append(out, dev)
		}
	}
	return out, nil
}

// deviceFromEntry decodes one {DeviceID, Properties{...}} dictionary, the
// shape shared by ListDevices entries and Attached listen events.
func deviceFromEntry(item plist.Value) (Device, bool) {
	entry, ok := item.AsDictionary()
	if !ok {
		return Device{}, false
	}
	idV, ok := entry.Get("DeviceID")
	if !ok {
		return Device{}, false
	}
	id, _ := idV.AsInt()

	propsV, ok := entry.Get("Properties")
	if !ok {
		return Device{}, false
	}
	props, ok := propsV.AsDictionary()
	if !ok {
		return Device{}, false
	}
	udid, _ := props.GetString("SerialNumber")

	dev := Device{UDID: udid, ID: uint32(id)}
	if connType, ok := props.GetString("ConnectionType"); ok {
		switch connType {
		case "USB":
			dev.Kind = ConnectionUSB
		case "Network":
			dev.Kind = ConnectionNetwork
			if addr, ok := props.GetString("NetworkAddress"); ok {
				dev.NetworkAddress = addr
			}
		default:
			dev.Kind = ConnectionUnknown
		}
	}
	return dev, true
}

// Listen sends the Listen request and returns a channel of Attached/Detached
// events. The channel
// is closed when the connection is closed by either side, or when ctx is
// found cancelled while an event is being delivered; a cancelled ctx alone
// does not end a pending read. Non-device messages are logged and ignored.
func (c *Client) Listen(ctx context.Context) (<-chan Event, error) {
	tag := c.nextTag()
	d := c.configDict("Listen")
	if err := writePacket(c.conn, tag, plist.Dictionary(d)); err != nil {
		return nil, err
	}
	ack, err := readPacket(c.conn)
	if err != nil {
		return nil, err
	}
	if body, ok := ack.body.AsDictionary(); ok {
		if code, ok := numberField(body); ok {
			if err := resultError(code); err != nil {
				return nil, err
			}
		}
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			pkt, err := readPacket(c.conn)
			if err != nil {
				c.log.V(1).Info("mux listen stream ended", "err", err)
				return
			}
			body, ok := pkt.body.AsDictionary()
			if !ok {
				continue
			}
			msgType, _ := body.GetString("MessageType")
			var ev Event
			switch msgType {
			case "Attached":
				dev, ok := deviceFromEntry(pkt.body)
				if !ok {
					c.log.V(1).Info("ignoring malformed Attached event")
					continue
				}
				ev = Event{Kind: EventAttached, Device: dev}
			case "Detached":
				idV, ok := body.Get("DeviceID")
				if !ok {
					continue
				}
				id, _ := idV.AsInt()
				ev = Event{Kind: EventDetached, DeviceID: uint32(id)}
			default:
				c.log.V(1).Info("ignoring non-device mux message", "type", msgType)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// ReadBUID returns the host's SystemBUID.
func (c *Client) ReadBUID() (string, error) {
	pkt, err := c.roundTrip("ReadBUID", nil)
	if err != nil {
		return "", err
	}
	d, ok := pkt.body.AsDictionary()
	if !ok {
		return "", &ierrors.MalformedPlistError{Err: errNotADict}
	}
	buid, ok := d.GetString("BUID")
	if !ok {
		return "", &ierrors.UnexpectedResponseError{Context: "ReadBUID", Key: "BUID"}
	}
	return buid, nil
}

// ReadPairRecord returns the raw pairing-record bytes the daemon has on
// file for udid. Returns NotFoundError if
// the daemon has no record.
func (c *Client) ReadPairRecord(udid string) ([]byte, error) {
	pkt, err := c.roundTrip("ReadPairRecord", func(d *plist.Dict) {
		d.Set("PairRecordID", plist.String(udid))
	})
	if err != nil {
		return nil, err
	}
	d, ok := pkt.body.AsDictionary()
	if !ok {
		return nil, &ierrors.MalformedPlistError{Err: errNotADict}
	}
	if data, ok := d.Get("PairRecordData"); ok {
		b, _ := data.AsData()
		return b, nil
	}
	if code, ok := numberField(d); ok {
		if err := resultError(code); err != nil {
			return nil, err
		}
	}
	return nil, &ierrors.NotFoundError{What: "pairing record for " + udid}
}

// SavePairRecord asks the daemon to persist data as the pairing record for
// (deviceID, udid).
func (c *Client) SavePairRecord(deviceID uint32, udid string, data []byte) error {
	pkt, err := c.roundTrip("SavePairRecord", func(d *plist.Dict) {
		d.Set("PairRecordID", plist.String(udid))
		d.Set("PairRecordData", plist.Data(data))
		d.Set("DeviceID", plist.Int(int64(deviceID)))
	})
	if err != nil {
		return err
	}
	d, ok := pkt.body.AsDictionary()
	if !ok {
		return &ierrors.MalformedPlistError{Err: errNotADict}
	}
	if code, ok := numberField(d); ok {
		return resultError(code)
	}
	return nil
}

// ConnectToDevice asks the daemon to splice the connection through to port
// on the named device, and returns the now-raw byte stream on success.
// The port is transmitted in network byte order even though the field is
// conventionally named "PortNumber" (a documented oddity). The
// Client must not be used again after a successful connect: the underlying
// connection becomes the service's byte stream.
func (c *Client) ConnectToDevice(deviceID uint32, port uint16) (io.ReadWriteCloser, error) {
	netOrderPort := make([]byte, 2)
	binary.BigEndian.PutUint16(netOrderPort, port)
	wirePort := binary.LittleEndian.Uint16(netOrderPort)

	pkt, err := c.roundTrip("Connect", func(d *plist.Dict) {
		d.Set("DeviceID", plist.Int(int64(deviceID)))
		d.Set("PortNumber", plist.Int(int64(wirePort)))
	})
	if err != nil {
		return nil, err
	}
	d, ok := pkt.body.AsDictionary()
	if !ok {
		return nil, &ierrors.MalformedPlistError{Err: errNotADict}
	}
	if code, ok := numberField(d); ok {
		if err := resultError(code); err != nil {
			return nil, err
		}
	}
	return c.conn, nil
}
