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
	"crypto/rand"
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// srpServer is a minimal standalone re-implementation of the device side
// of SRP-6a, used only to exercise srpClient end-to-end in tests; it is
// not part of the production client (the real device is the only server
// this package ever talks to).
type srpServer struct {
	identity, password, salt []byte
	b, B, v                  *big.Int
	key                      []byte
}

func newSRPServer(identity, password []byte) *srpServer {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)

	x := new(big.Int).SetBytes(sha512Sum(salt, sha512Sum(identity, []byte(":"), password)))
	v := new(big.Int).Exp(srpG, x, srpN)

	bbuf := make([]byte, 32)
	_, _ = rand.Read(bbuf)
	b := new(big.Int).SetBytes(bbuf)

	// B = k*v + g^b mod N
	gb := new(big.Int).Exp(srpG, b, srpN)
	kv := new(big.Int).Mul(srpK, v)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, srpN)

	return &srpServer{identity: identity, password: password, salt: salt, b: b, B: B, v: v}
}

func (s *srpServer) publicEphemeral() []byte { return pad(s.B.Bytes()) }

// computeKeyAndM2 derives the server's session key from the client's
// public ephemeral A and returns the M2 proof it would send back. It does
// not check M1 (the srpClient test below exercises that negative path
// directly).
func (s *srpServer) computeKeyAndM2(aBytes, m1 []byte) []byte {
	A := new(big.Int).SetBytes(aBytes)
	u := new(big.Int).SetBytes(sha512Sum(pad(aBytes), pad(s.B.Bytes())))

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(s.v, u, srpN)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, srpN)
	S := new(big.Int).Exp(base, s.b, srpN)

	s.key = sha512Sum(pad(S.Bytes()))
	return sha512Sum(pad(aBytes), m1, s.key)
}

var _ = Describe("SRP-6a client", func() {
	It("derives a session key and proof that a compliant server accepts and echoes", func() {
		identity := []byte("Pair-Setup")
		password := []byte("123456")

		server := newSRPServer(identity, password)
		client, err := newSRPClient(identity, password)
		Expect(err).NotTo(HaveOccurred())

		m1, err := client.processServerReply(server.salt, server.publicEphemeral())
		Expect(err).NotTo(HaveOccurred())

		m2 := server.computeKeyAndM2(client.publicEphemeral(), m1)
		Expect(client.verifyServerProof(m1, m2)).To(Succeed())
		Expect(client.sessionKey()).To(Equal(server.key))
	})

	It("rejects a forged server proof", func() {
		identity := []byte("Pair-Setup")
		password := []byte("123456")

		server := newSRPServer(identity, password)
		client, err := newSRPClient(identity, password)
		Expect(err).NotTo(HaveOccurred())

		m1, err := client.processServerReply(server.salt, server.publicEphemeral())
		Expect(err).NotTo(HaveOccurred())

		forged := append([]byte(nil), server.computeKeyAndM2(client.publicEphemeral(), m1)...)
		forged[0] ^= 0xff
		Expect(client.verifyServerProof(m1, forged)).To(HaveOccurred())
	})

	It("rejects a wrong password at server-proof verification", func() {
		identity := []byte("Pair-Setup")
		server := newSRPServer(identity, []byte("123456"))
		client, err := newSRPClient(identity, []byte("000000"))
		Expect(err).NotTo(HaveOccurred())

		m1, err := client.processServerReply(server.salt, server.publicEphemeral())
		Expect(err).NotTo(HaveOccurred())
		m2 := server.computeKeyAndM2(client.publicEphemeral(), m1)
		Expect(client.verifyServerProof(m1, m2)).To(HaveOccurred())
	})
})
