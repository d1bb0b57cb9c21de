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

package rsd_test

import (
	"net"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/rsd"
	"github.com/ioslink/idevice/pkg/xpc"
)

func serviceEntry(port int64, usesRemoteXPC bool, version int64, features []string, entitlement string) xpc.Object {
	props := xpc.NewDict()
	props.Set("UsesRemoteXPC", xpc.Bool(usesRemoteXPC))
	props.Set("ServiceVersion", xpc.Int64(version))
	if features != nil {
		var arr []xpc.Object
		for _, f := range features {
			arr = append(arr, xpc.String(f))
		}
		props.Set("Features", xpc.ArraySlice(arr))
	}
	props.Set("Entitlement", xpc.String(entitlement))

	entry := xpc.NewDict()
	entry.Set("Port", xpc.Int64(port))
	entry.Set("Properties", xpc.Dictionary(props))
	return xpc.Dictionary(entry)
}

var _ = Describe("RSD handshake", func() {
	It("sends InitHandshake and parses a two-service catalogue", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		done := make(chan *rsd.Handshake, 1)
		errCh := make(chan error, 1)
		go func() {
			h, err := rsd.Perform(hostConn, logr.Discard())
			if err != nil {
				errCh <- err
				return
			}
			done <- h
		}()

		req, err := xpc.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Flags & (xpc.FlagAlwaysSet | xpc.FlagInitHandshake)).To(Equal(xpc.FlagAlwaysSet | xpc.FlagInitHandshake))
		Expect(req.Has()).To(BeFalse())

		services := xpc.NewDict()
		services.Set("com.apple.mobile.diagnostics_relay", serviceEntry(1234, true, 1, []string{"a", "b"}, "com.apple.private.diagnostics"))
		services.Set("com.apple.misagent", serviceEntry(5678, false, 0, nil, "com.apple.private.misagent\nwith-newline"))

		body := xpc.NewDict()
		body.Set("Services", xpc.Dictionary(services))
		body.Set("ProtocolVersion", xpc.String("2"))
		body.Set("UUID", xpc.String("ABCDEF12-3456-7890-ABCD-EF1234567890"))

		reply := xpc.NewMessage(xpc.FlagAlwaysSet|xpc.FlagInitHandshake, req.MessageID, xpc.Dictionary(body))
		Expect(xpc.WriteMessage(deviceConn, reply)).To(Succeed())

		var h *rsd.Handshake
		select {
		case h = <-done:
		case err := <-errCh:
			Fail(err.Error())
		}

		Expect(h.ProtocolVersion).To(Equal("2"))
		Expect(h.UUID).To(Equal("ABCDEF12-3456-7890-ABCD-EF1234567890"))
		Expect(h.Services).To(HaveLen(2))

		diag, ok := h.Service("com.apple.mobile.diagnostics_relay")
		Expect(ok).To(BeTrue())
		Expect(diag.Port).To(Equal(uint16(1234)))
		Expect(diag.UsesRemoteXPC).To(BeTrue())
		Expect(*diag.ServiceVersion).To(Equal(int64(1)))
		Expect(diag.Features).To(Equal([]string{"a", "b"}))
		Expect(diag.Entitlement).To(Equal("com.apple.private.diagnostics"))

		misagent, ok := h.Service("com.apple.misagent")
		Expect(ok).To(BeTrue())
		Expect(misagent.Entitlement).To(Equal("com.apple.private.misagent\nwith-newline"))
	})

	It("rejects a reply that does not echo InitHandshake", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		errCh := make(chan error, 1)
		go func() {
			_, err := rsd.Perform(hostConn, logr.Discard())
			errCh <- err
		}()

		req, err := xpc.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())

		reply := xpc.NewMessage(xpc.FlagAlwaysSet, req.MessageID, xpc.Dictionary(xpc.NewDict()))
		Expect(xpc.WriteMessage(deviceConn, reply)).To(Succeed())

		Expect(<-errCh).To(HaveOccurred())
	})
})
