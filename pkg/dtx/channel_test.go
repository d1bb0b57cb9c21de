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

package dtx_test

import (
	"net"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/dtx"
)

var _ = Describe("Client", func() {
	It("opens a channel by correlating the control-channel reply", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		client := dtx.NewClient(hostConn, logr.Discard())

		type result struct {
			id  dtx.ChannelID
			msg dtx.Message
			err error
		}
		done := make(chan result, 1)
		go func() {
			id, msg, err := client.OpenChannel([]byte("archived-request"), []dtx.AuxValue{
				dtx.AuxUint32(1),
				dtx.AuxString("com.apple.instruments.server.services.deviceinfo"),
			})
			done <- result{id, msg, err}
		}()

		req, err := dtx.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Channel).To(Equal(dtx.ControlChannel))
		Expect(req.ExpectsReply).To(BeTrue())
		Expect(req.Aux).To(HaveLen(2))

		reply := dtx.Encode(dtx.Message{
			Identifier: req.Identifier,
			Channel:    dtx.ControlChannel,
			Payload:    []byte("archived-reply"),
		})
		_, err = deviceConn.Write(reply)
		Expect(err).NotTo(HaveOccurred())

		res := <-done
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.id).To(Equal(dtx.ChannelID(1)))
		Expect(res.msg.Payload).To(Equal([]byte("archived-reply")))
	})

	It("ignores unrelated messages while awaiting the channel reply", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		client := dtx.NewClient(hostConn, logr.Discard())

		type result struct {
			id  dtx.ChannelID
			err error
		}
		done := make(chan result, 1)
		go func() {
			id, _, err := client.OpenChannel(nil, nil)
			done <- result{id, err}
		}()

		req, err := dtx.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())

		// An unsolicited broadcast on the global channel, arriving before
		// the real reply, must not be mistaken for it.
		_, err = deviceConn.Write(dtx.Encode(dtx.Message{
			Identifier: req.Identifier + 100,
			Channel:    dtx.GlobalChannel,
			Payload:    []byte("broadcast"),
		}))
		Expect(err).NotTo(HaveOccurred())

		_, err = deviceConn.Write(dtx.Encode(dtx.Message{
			Identifier: req.Identifier,
			Channel:    dtx.ControlChannel,
		}))
		Expect(err).NotTo(HaveOccurred())

		res := <-done
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.id).To(Equal(dtx.ChannelID(1)))
	})
})
