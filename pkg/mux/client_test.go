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

package mux_test

import (
	"encoding/binary"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	"github.com/ioslink/idevice/pkg/mux"
	"github.com/ioslink/idevice/pkg/plist"
)

// fixtureFrame is one raw frame read off the wire by the fixture daemon, or
// written back to the client; it mirrors the usbmuxd packet header without
// reaching into the unexported mux.packet type.
type fixtureFrame struct {
	version uint32
	msgType uint32
	tag     uint32
	body    plist.Value
}

func readFixtureFrame(conn net.Conn) fixtureFrame {
	var hdr [16]byte
	_, err := readFull(conn, hdr[:])
	Expect(err).NotTo(HaveOccurred())
	total := binary.LittleEndian.Uint32(hdr[0:4])
	body := make([]byte, int(total)-16)
	_, err = readFull(conn, body)
	Expect(err).NotTo(HaveOccurred())
	v, err := plist.Unmarshal(body)
	Expect(err).NotTo(HaveOccurred())
	return fixtureFrame{
		version: binary.LittleEndian.Uint32(hdr[4:8]),
		msgType: binary.LittleEndian.Uint32(hdr[8:12]),
		tag:     binary.LittleEndian.Uint32(hdr[12:16]),
		body:    v,
	}
}

func writeFixtureFrame(conn net.Conn, tag uint32, body plist.Value) {
	payload, err := plist.Marshal(body, plist.FormatXML)
	Expect(err).NotTo(HaveOccurred())
	total := 16 + len(payload)
	hdr := make([]byte, 16, total)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(total))
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	binary.LittleEndian.PutUint32(hdr[8:12], 8)
	binary.LittleEndian.PutUint32(hdr[12:16], tag)
	_, err = conn.Write(append(hdr, payload...))
	Expect(err).NotTo(HaveOccurred())
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func numberReply(tag uint32, code int64) func(net.Conn) {
	return func(conn net.Conn) {
		d := plist.NewDict()
		d.Set("MessageType", plist.String("Result"))
		d.Set("Number", plist.Int(code))
		writeFixtureFrame(conn, tag, plist.Dictionary(d))
	}
}

var _ = Describe("Client", func() {
	var clientConn, daemonConn net.Conn

	BeforeEach(func() {
		clientConn, daemonConn = net.Pipe()
	})

	AfterEach(func() {
		clientConn.Close()
		daemonConn.Close()
	})

	It("lists devices", func() {
		c := mux.NewClient(clientConn, "ioslink-test", logr.Discard())
		done := make(chan []mux.Device, 1)
		errCh := make(chan error, 1)
		go func() {
			devs, err := c.ListDevices()
			if err != nil {
				errCh <- err
				return
			}
			done <- devs
		}()

		req := readFixtureFrame(daemonConn)
		reqDict, ok := req.body.AsDictionary()
		Expect(ok).To(BeTrue())
		Expect(reqDict.Len()).To(BeNumerically(">", 0))

		props := plist.NewDict()
		props.Set("SerialNumber", plist.String("abc-udid"))
		props.Set("ConnectionType", plist.String("USB"))
		entry := plist.NewDict()
		entry.Set("DeviceID", plist.Int(7))
		entry.Set("Properties", plist.Dictionary(props))

		reply := plist.NewDict()
		reply.Set("DeviceList", plist.Array(plist.Dictionary(entry)))
		writeFixtureFrame(daemonConn, req.tag, plist.Dictionary(reply))

		select {
		case devs := <-done:
			Expect(devs).To(HaveLen(1))
			Expect(devs[0].UDID).To(Equal("abc-udid"))
			Expect(devs[0].ID).To(Equal(uint32(7)))
			Expect(devs[0].Kind).To(Equal(mux.ConnectionUSB))
		case err := <-errCh:
			Fail(err.Error())
		}
	})

	It("maps a bad-device result code to NotFound", func() {
		c := mux.NewClient(clientConn, "ioslink-test", logr.Discard())
		errCh := make(chan error, 1)
		go func() {
			_, err := c.ConnectToDevice(99, 62078)
			errCh <- err
		}()

		req := readFixtureFrame(daemonConn)
		numberReply(req.tag, 2)(daemonConn)

		err := <-errCh
		Expect(err).To(HaveOccurred())
	})

	It("carries htons(port) in the PortNumber field", func() {
		c := mux.NewClient(clientConn, "ioslink-test", logr.Discard())
		go func() { _, _ = c.ConnectToDevice(1, 62078) }()

		req := readFixtureFrame(daemonConn)
		d, _ := req.body.AsDictionary()
		portV, ok := d.Get("PortNumber")
		Expect(ok).To(BeTrue())
		n, _ := portV.AsInt()

		// 62078 == 0xF27E; htons on a little-endian host swaps the bytes.
		Expect(uint16(n)).To(Equal(uint16(0x7EF2)))

		numberReply(req.tag, 0)(daemonConn)
	})

	It("surfaces a tag mismatch as an error", func() {
		c := mux.NewClient(clientConn, "ioslink-test", logr.Discard())
		errCh := make(chan error, 1)
		go func() {
			_, err := c.ReadBUID()
			errCh <- err
		}()

		req := readFixtureFrame(daemonConn)
		d := plist.NewDict()
		d.Set("BUID", plist.String("not-used"))
		writeFixtureFrame(daemonConn, req.tag+1, plist.Dictionary(d))

		Expect(<-errCh).To(HaveOccurred())
	})

	It("returns NotFound when the daemon has no pairing record", func() {
		c := mux.NewClient(clientConn, "ioslink-test", logr.Discard())
		errCh := make(chan error, 1)
		go func() {
			_, err := c.ReadPairRecord("missing-udid")
			errCh <- err
		}()

		req := readFixtureFrame(daemonConn)
		numberReply(req.tag, 2)(daemonConn)

		Expect(<-errCh).To(HaveOccurred())
	})
})
