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

package remotepairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/pairing"
)

// fakeDevice plays the device side of the RPPairing wire protocol well
// enough to drive Client.Pair and Client.PairVerify end-to-end in tests.
type fakeDevice struct {
	conn net.Conn
	seq  uint64

	identity   []byte
	srp        *srpServer
	devicePriv ed25519.PrivateKey
	devicePub  ed25519.PublicKey
}

func newFakeDevice(conn net.Conn) *fakeDevice {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	return &fakeDevice{conn: conn, identity: []byte("device-under-test"), devicePriv: priv, devicePub: pub}
}

func (d *fakeDevice) send(v any) {
	body, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	out := make([]byte, 0, len(rpPairingMagic)+2+len(body))
	out = append(out, rpPairingMagic...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)))
	out = append(out, body...)
	_, err = d.conn.Write(out)
	Expect(err).NotTo(HaveOccurred())
}

func (d *fakeDevice) recv() map[string]any {
	magic := make([]byte, len(rpPairingMagic))
	readFull(d.conn, magic)
	Expect(string(magic)).To(Equal(rpPairingMagic))

	var lenBuf [2]byte
	readFull(d.conn, lenBuf[:])
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	readFull(d.conn, body)

	var v map[string]any
	Expect(json.Unmarshal(body, &v)).To(Succeed())
	return v
}

func readFull(conn net.Conn, buf []byte) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		Expect(err).NotTo(HaveOccurred())
		read += n
	}
}

func (d *fakeDevice) sendPlain(v any) {
	seq := d.seq
	d.seq++
	d.send(map[string]any{
		"message":        map[string]any{"plain": map[string]any{"_0": v}},
		"originatedBy":   "device",
		"sequenceNumber": seq,
	})
}

func (d *fakeDevice) recvPlain() map[string]any {
	v := d.recv()
	m, ok := dig(v, "message", "plain", "_0")
	Expect(ok).To(BeTrue())
	return m.(map[string]any)
}

func (d *fakeDevice) sendPairingData(tlv []byte) {
	d.sendPlain(map[string]any{"event": map[string]any{"_0": map[string]any{"pairingData": map[string]any{"_0": map[string]any{
		"data": tlv,
	}}}}})
}

func (d *fakeDevice) recvPairingDataTLV() []tlvEntry {
	m := d.recvPlain()
	s, ok := digString(m, "event", "_0", "pairingData", "_0", "data")
	Expect(ok).To(BeTrue())
	raw, err := base64.StdEncoding.DecodeString(s)
	Expect(err).NotTo(HaveOccurred())
	return decodeTLV8(raw)
}

// runPairSetup drives the device side of the full 7-step pair-setup flow
// against the real Client running on the other end of conn.
func (d *fakeDevice) runPairSetup(pin string) {
	// Step 1: Method/State
	step1 := d.recvPlain()
	_, ok := digString(step1, "event", "_0", "pairingData", "_0", "data")
	Expect(ok).To(BeTrue())

	d.srp = newSRPServer([]byte("Pair-Setup"), []byte(pin))
	saltAndPub := encodeTLV8([]tlvEntry{
		{Type: tlvSalt, Data: d.srp.salt},
		{Type: tlvPublicKey, Data: d.srp.publicEphemeral()},
	})
	d.sendPairingData(saltAndPub)

	// Step 3: client's A/M1
	entries := d.recvPairingDataTLV()
	a, ok := tlvFind(entries, tlvPublicKey)
	Expect(ok).To(BeTrue())
	m1, ok := tlvFind(entries, tlvProof)
	Expect(ok).To(BeTrue())

	m2 := d.srp.computeKeyAndM2(a, m1)
	d.sendPairingData(encodeTLV8([]tlvEntry{{Type: tlvProof, Data: m2}}))

	// Step 5: encrypted identifier/pubkey/signature/info
	entries = d.recvPairingDataTLV()
	ciphertext, ok := tlvFind(entries, tlvEncryptedData)
	Expect(ok).To(BeTrue())

	setupKey, err := hkdfExpand([]byte("Pair-Setup-Encrypt-Salt"), d.srp.key, []byte("Pair-Setup-Encrypt-Info"))
	Expect(err).NotTo(HaveOccurred())
	aead, err := chacha20poly1305.New(setupKey)
	Expect(err).NotTo(HaveOccurred())
	nonce5 := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce5[4:], "PS-Msg05")
	_, err = aead.Open(nil, nonce5, ciphertext, nil)
	Expect(err).NotTo(HaveOccurred())

	// Step 7: device's own encrypted identity
	devicePlain := encodeTLV8([]tlvEntry{
		{Type: tlvIdentifier, Data: d.identity},
		{Type: tlvPublicKey, Data: d.devicePub},
		{Type: tlvSignature, Data: []byte("fake-signature")},
	})
	nonce6 := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce6[4:], "PS-Msg06")
	deviceCiphertext := aead.Seal(nil, nonce6, devicePlain, nil)
	d.sendPairingData(encodeTLV8([]tlvEntry{{Type: tlvEncryptedData, Data: deviceCiphertext}}))
}

// runPairVerify drives the device side of pair-verify given the host's
// already-established long-term Ed25519 identity.
func (d *fakeDevice) runPairVerify(hostIdentifier, hostEd25519Pub []byte) {
	entries := d.recvPairingDataTLV()
	hostXPub, ok := tlvFind(entries, tlvPublicKey)
	Expect(ok).To(BeTrue())

	var devXPriv [32]byte
	_, err := rand.Read(devXPriv[:])
	Expect(err).NotTo(HaveOccurred())
	devXPub, err := curve25519.X25519(devXPriv[:], curve25519.Basepoint)
	Expect(err).NotTo(HaveOccurred())

	d.sendPairingData(encodeTLV8([]tlvEntry{{Type: tlvPublicKey, Data: devXPub}}))

	entries = d.recvPairingDataTLV()
	ciphertext, ok := tlvFind(entries, tlvEncryptedData)
	Expect(ok).To(BeTrue())

	shared, err := curve25519.X25519(devXPriv[:], hostXPub)
	Expect(err).NotTo(HaveOccurred())
	sessionKey, err := hkdfExpand([]byte("Pair-Verify-Encrypt-Salt"), shared, []byte("Pair-Verify-Encrypt-Info"))
	Expect(err).NotTo(HaveOccurred())
	aead, err := chacha20poly1305.New(sessionKey)
	Expect(err).NotTo(HaveOccurred())
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], "PV-Msg03")
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	Expect(err).NotTo(HaveOccurred())

	plainEntries := decodeTLV8(plaintext)
	gotID, ok := tlvFind(plainEntries, tlvIdentifier)
	Expect(ok).To(BeTrue())
	Expect(gotID).To(Equal(hostIdentifier))
	sig, ok := tlvFind(plainEntries, tlvSignature)
	Expect(ok).To(BeTrue())

	signBuf := append(append([]byte{}, hostXPub...), hostIdentifier...)
	signBuf = append(signBuf, devXPub...)
	Expect(ed25519.Verify(ed25519.PublicKey(hostEd25519Pub), signBuf, sig)).To(BeTrue())

	d.sendPairingData([]byte{})
}

var _ = Describe("Client pair-setup and pair-verify", func() {
	It("completes pair-setup end to end and stores a long-term identity", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		rec := pairing.Record{HostID: "11111111-1111-1111-1111-111111111111"}
		client, err := NewClient(hostConn, "test-host", rec, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- client.Pair(func() string { return "123456" }) }()

		device := newFakeDevice(deviceConn)

		// drain the handshake request the real flow doesn't send in Pair()
		// directly (Connect sends it; Pair alone does not), so nothing to
		// read here before step 1.
		device.runPairSetup("123456")

		Expect(<-done).To(Succeed())

		updated := client.PairingRecord()
		Expect(updated.RemotePairingEd25519PublicKey).To(HaveLen(ed25519.PublicKeySize))
		Expect(updated.RemotePairingEd25519PrivateKey).To(HaveLen(ed25519.PrivateKeySize))

		cAEAD, sAEAD := client.TunnelCiphers()
		Expect(cAEAD).NotTo(BeNil())
		Expect(sAEAD).NotTo(BeNil())
	})

	It("verifies an existing long-term identity via pair-verify", func() {
		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		Expect(err).NotTo(HaveOccurred())
		rec := pairing.Record{
			HostID:                         "22222222-2222-2222-2222-222222222222",
			RemotePairingEd25519PublicKey:  pub,
			RemotePairingEd25519PrivateKey: priv,
		}
		client, err := NewClient(hostConn, "test-host", rec, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- client.PairVerify() }()

		device := newFakeDevice(deviceConn)
		device.runPairVerify([]byte(rec.HostID), pub)

		Expect(<-done).To(Succeed())
	})
})
