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

package xpc_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/xpc"
)

var _ = Describe("XPC message envelope", func() {
	It("encodes the documented 24-byte header for flags and message id 7", func() {
		body := xpc.Dictionary(xpc.NewDict().Set("k", xpc.String("v")))
		msg := xpc.NewMessage(xpc.FlagAlwaysSet|xpc.FlagDataFlag|xpc.FlagWantingReply, 7, body)

		b, err := msg.Encode()
		Expect(err).NotTo(HaveOccurred())
		Expect(len(b)).To(BeNumerically(">=", 24))

		Expect(binary.LittleEndian.Uint32(b[0:4])).To(Equal(uint32(0x29b00b92)))
		Expect(binary.LittleEndian.Uint32(b[4:8])).To(Equal(xpc.FlagAlwaysSet | xpc.FlagDataFlag | xpc.FlagWantingReply))
		bodyLen := binary.LittleEndian.Uint64(b[8:16])
		Expect(int(bodyLen)).To(Equal(len(b) - 24))
		Expect(binary.LittleEndian.Uint64(b[16:24])).To(Equal(uint64(7)))

		decoded, err := xpc.DecodeMessage(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.MessageID).To(Equal(uint64(7)))
		Expect(decoded.Flags).To(Equal(xpc.FlagAlwaysSet | xpc.FlagDataFlag | xpc.FlagWantingReply))
		Expect(decoded.Body.Equal(body)).To(BeTrue())
	})

	It("round-trips a bare handshake message with no body", func() {
		msg := xpc.Message{Flags: xpc.FlagAlwaysSet | xpc.FlagInitHandshake, MessageID: 1}
		Expect(msg.Has()).To(BeFalse())

		b, err := msg.Encode()
		Expect(err).NotTo(HaveOccurred())
		Expect(len(b)).To(Equal(24))

		decoded, err := xpc.DecodeMessage(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Has()).To(BeFalse())
		Expect(decoded.Flags).To(Equal(xpc.FlagAlwaysSet | xpc.FlagInitHandshake))
	})

	It("round-trips over a stream via ReadMessage/WriteMessage", func() {
		body := xpc.String("ok")
		msg := xpc.NewMessage(xpc.FlagAlwaysSet, 42, body)
		buf := &bytes.Buffer{}
		Expect(xpc.WriteMessage(buf, msg)).To(Succeed())

		got, err := xpc.ReadMessage(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.MessageID).To(Equal(uint64(42)))
		Expect(got.Body.Equal(body)).To(BeTrue())
	})

	It("rejects a message with the wrong magic", func() {
		b := make([]byte, 24)
		_, err := xpc.DecodeMessage(b)
		Expect(err).To(HaveOccurred())
	})
})
