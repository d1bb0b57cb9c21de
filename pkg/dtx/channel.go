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

package dtx

import (
	"io"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
)

// Client drives one DTX connection: message identifier allocation, local
// channel allocation, and the request/reply correlation used to set up new
// channels. It does not
// itself dispatch to per-channel handlers concurrently; callers drive a
// single read loop and route by Message.Channel.
type Client struct {
	conn io.ReadWriter
	log  logr.Logger

	nextIdentifier uint32
	nextChannel    int32
}

// NewClient wraps conn, typically a *tcpadapter.Stream or an in-tunnel
// lockdown-service connection already upgraded to the target port.
func NewClient(conn io.ReadWriter, log logr.Logger) *Client {
	return &Client{conn: conn, log: logging.OrDiscard(log), nextChannel: 1}
}

// Request describes one outgoing message.
type Request struct {
	Channel           ChannelID
	ConversationIndex uint32
	ExpectsReply      bool
	Flags             uint32
	Aux               []AuxValue
	Payload           []byte
}

// Send allocates a fresh message identifier, encodes req, and writes it.
// It returns the identifier so the caller can correlate a reply read back
// through ReadMessage.
func (c *Client) Send(req Request) (uint32, error) {
	identifier := c.nextIdentifier
	c.nextIdentifier++

	msg := Message{
		Identifier:        identifier,
		ConversationIndex: req.ConversationIndex,
		Channel:           req.Channel,
		ExpectsReply:      req.ExpectsReply,
		Flags:             req.Flags,
		Aux:               req.Aux,
		Payload:           req.Payload,
	}
	if _, err := c.conn.Write(Encode(msg)); err != nil {
		return 0, &ierrors.TransportError{Op: "write dtx message", Err: err}
	}
	c.log.V(1).Info("sent dtx message", "identifier", identifier, "channel", req.Channel)
	return identifier, nil
}

// ReadMessage reads and reassembles the next message from the connection.
// Callers dispatch on the returned Message.Channel themselves; routing to
// per-channel handlers is policy the framing layer doesn't impose.
func (c *Client) ReadMessage() (Message, error) {
	return ReadMessage(c.conn)
}

// OpenChannel runs the channel-0 setup exchange: it sends payload/aux (the
// NSKeyedArchiver-encoded method invocation, built by the caller since its
// object-graph contents are opaque to this package) on the control channel
// and waits for the device's reply with a matching identifier. On success
// it allocates and returns a fresh local ChannelID for the caller to tag
// subsequent traffic with.
func (c *Client) OpenChannel(payload []byte, aux []AuxValue) (ChannelID, Message, error) {
	identifier, err := c.Send(Request{
		Channel:      ControlChannel,
		ExpectsReply: true,
		Flags:        FlagMethodInvocation | FlagExpectsReplyMap,
		Aux:          aux,
		Payload:      payload,
	})
	if err != nil {
		return 0, Message{}, err
	}

	for {
		reply, err := c.ReadMessage()
		if err != nil {
			return 0, Message{}, err
		}
		if reply.Identifier != identifier || reply.Channel != ControlChannel {
			c.log.V(1).Info("dropping unrelated dtx message while awaiting channel reply",
				"identifier", reply.Identifier, "channel", reply.Channel)
			continue
		}
		id := ChannelID(c.nextChannel)
		c.nextChannel++
		return id, reply, nil
	}
}
