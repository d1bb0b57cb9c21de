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

package lockdown_test

import (
	"net"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/pairing"
	"github.com/ioslink/idevice/pkg/plist"
)

// deviceReadRequest reads one request frame from conn and returns its decoded
// dictionary, a simple fixture "device" side of the lockdown protocol.
func deviceReadRequest(conn net.Conn) *plist.Dict {
	v, err := plist.ReadPlistFrame(conn)
	Expect(err).NotTo(HaveOccurred())
	d, ok := v.AsDictionary()
	Expect(ok).To(BeTrue())
	return d
}

func deviceWriteReply(conn net.Conn, d *plist.Dict) {
	Expect(plist.WritePlistFrame(conn, plist.Dictionary(d), plist.FormatXML)).To(Succeed())
}

var _ = Describe("Client", func() {
	It("accepts QueryType before a session starts", func() {
		clientConn, deviceConn := net.Pipe()
		defer clientConn.Close()
		defer deviceConn.Close()

		c := lockdown.NewClient(clientConn, logr.Discard())
		done := make(chan struct{})
		go func() {
			defer close(done)
			typ, err := c.QueryType()
			Expect(err).NotTo(HaveOccurred())
			Expect(typ).To(Equal("com.apple.mobile.lockdown"))
		}()

		req := deviceReadRequest(deviceConn)
		name, _ := req.GetString("Request")
		Expect(name).To(Equal("QueryType"))

		reply := plist.NewDict()
		reply.Set("Type", plist.String("com.apple.mobile.lockdown"))
		deviceWriteReply(deviceConn, reply)
		<-done
	})

	It("rejects StartService before StartSession", func() {
		clientConn, deviceConn := net.Pipe()
		defer clientConn.Close()
		defer deviceConn.Close()

		c := lockdown.NewClient(clientConn, logr.Discard())
		_, _, err := c.StartService("com.apple.afc", nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a second StartSession", func() {
		clientConn, deviceConn := net.Pipe()
		defer clientConn.Close()

		c := lockdown.NewClient(clientConn, logr.Discard())
		record := &pairing.Record{HostID: "HOST", SystemBUID: "BUID"}

		done := make(chan error, 1)
		go func() {
			_, _, err := c.StartSession(record)
			done <- err
		}()

		req := deviceReadRequest(deviceConn)
		name, _ := req.GetString("Request")
		Expect(name).To(Equal("StartSession"))
		reply := plist.NewDict()
		reply.Set("SessionID", plist.String("session-1"))
		reply.Set("EnableSessionSSL", plist.Bool(false))
		deviceWriteReply(deviceConn, reply)
		Expect(<-done).NotTo(HaveOccurred())
		deviceConn.Close()

		_, _, err := c.StartSession(record)
		Expect(err).To(HaveOccurred())
	})
})
