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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/pairing"
	"github.com/ioslink/idevice/pkg/plist"
)

// generateTestRecord builds a self-signed RSA identity used as both "host"
// and "device" for the TLS-upgrade contract test: in the real
// protocol these are distinct keys, but the handshake-starts-immediately
// assertion only needs a key pair X509KeyPair accepts.
func generateTestRecord() *pairing.Record {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	Expect(err).NotTo(HaveOccurred())

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-host"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	Expect(err).NotTo(HaveOccurred())

	keyPKCS1 := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyPKCS1})

	return &pairing.Record{
		DeviceCertificate: der,
		HostPrivateKey:    keyPEM,
		HostCertificate:   der,
		HostID:            "HOST-ID",
		SystemBUID:        "BUID",
	}
}

var _ = Describe("TLS upgrade", func() {
	It("begins a TLS handshake as the next bytes on the wire after enableSSL", func() {
		clientConn, deviceConn := net.Pipe()
		defer clientConn.Close()
		defer deviceConn.Close()

		record := generateTestRecord()
		c := lockdown.NewClient(clientConn, logr.Discard())

		go func() {
			_, enableSSL, err := c.StartSession(record)
			if err != nil || !enableSSL {
				return
			}
			_ = c.UpgradeTLS(record)
			// Any further frame write triggers the handshake.
			_ = c.SetValue("", "noop", plist.Bool(true))
		}()

		req := deviceReadRequest(deviceConn)
		name, _ := req.GetString("Request")
		Expect(name).To(Equal("StartSession"))
		reply := plist.NewDict()
		reply.Set("SessionID", plist.String("s1"))
		reply.Set("EnableSessionSSL", plist.Bool(true))
		deviceWriteReply(deviceConn, reply)

		first := make([]byte, 1)
		_, err := deviceConn.Read(first)
		Expect(err).NotTo(HaveOccurred())
		// TLS record type 0x16 == Handshake (ClientHello).
		Expect(first[0]).To(Equal(byte(0x16)))
	})
})
