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
	"crypto/sha512"
	"math/big"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// srpGroupN3072Hex is the RFC 5054 3072-bit MODP group used by
// pair-setup's SRP-6a exchange.
const srpGroupN3072Hex = "FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA886B423861285C97FFFFFFFFFFFFFFFF"

var (
	srpN = mustHexBig(srpGroupN3072Hex)
	srpG = big.NewInt(5)
	srpK = computeK(srpN, srpG)
)

func mustHexBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("remotepairing: invalid SRP group constant")
	}
	return n
}

func sha512Sum(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// pad left-pads b with zero bytes to the byte length of srpN, the "PAD()"
// operation the SRP-6a proof hashes require so operands of different
// natural length still hash as fixed-width integers.
func pad(b []byte) []byte {
	n := (srpN.BitLen() + 7) / 8
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func computeK(n, g *big.Int) *big.Int {
	return new(big.Int).SetBytes(sha512Sum(pad(n.Bytes()), pad(g.Bytes())))
}

// srpClient drives the host side of pair-setup's SRP-6a exchange, HAP's non-interleaved-hash variant: K = H(S) rather
// than the original SRP6 interleaved hash, consistent with the rest of
// the pairing handshake's exclusive use of SHA-512.
type srpClient struct {
	identity []byte
	password []byte

	a *big.Int // private ephemeral
	A *big.Int // public ephemeral

	key []byte // session key K, set after processServerReply
}

func newSRPClient(identity, password []byte) (*srpClient, error) {
	abuf := make([]byte, 32)
	if _, err := rand.Read(abuf); err != nil {
		return nil, &ierrors.InternalError{Text: "remotepairing: rng failure generating SRP ephemeral: " + err.Error()}
	}
	a := new(big.Int).SetBytes(abuf)
	A := new(big.Int).Exp(srpG, a, srpN)
	return &srpClient{identity: identity, password: password, a: a, A: A}, nil
}

// publicEphemeral returns A, padded to the group's byte width.
func (c *srpClient) publicEphemeral() []byte {
	return pad(c.A.Bytes())
}

// processServerReply computes the shared session key K and the client
// proof M1 from the device's salt and public ephemeral B.
func (c *srpClient) processServerReply(salt, bBytes []byte) (clientProof []byte, err error) {
	B := new(big.Int).SetBytes(bBytes)
	if new(big.Int).Mod(B, srpN).Sign() == 0 {
		return nil, &ierrors.SrpAuthFailedError{}
	}

	u := new(big.Int).SetBytes(sha512Sum(pad(c.A.Bytes()), pad(bBytes)))
	if u.Sign() == 0 {
		return nil, &ierrors.SrpAuthFailedError{}
	}

	x := new(big.Int).SetBytes(sha512Sum(salt, sha512Sum(c.identity, []byte(":"), c.password)))

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(srpK, gx)
	kgx.Mod(kgx, srpN)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, srpN)
	if base.Sign() < 0 {
		base.Add(base, srpN)
	}
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)
	S := new(big.Int).Exp(base, exp, srpN)

	c.key = sha512Sum(pad(S.Bytes()))

	hn := sha512Sum(pad(srpN.Bytes()))
	hg := sha512Sum(pad(srpG.Bytes()))
	hxor := make([]byte, len(hn))
	for i := range hn {
		hxor[i] = hn[i] ^ hg[i]
	}
	hi := sha512Sum(c.identity)

	m1 := sha512Sum(hxor, hi, salt, pad(c.A.Bytes()), pad(bBytes), c.key)
	return m1, nil
}

// verifyServerProof checks the device's M2 against the value this client
// would have computed, returning SrpAuthFailedError on mismatch.
func (c *srpClient) verifyServerProof(m1, m2 []byte) error {
	want := sha512Sum(pad(c.A.Bytes()), m1, c.key)
	if !constantTimeEqual(want, m2) {
		return &ierrors.SrpAuthFailedError{}
	}
	return nil
}

// sessionKey returns K, valid only after a successful processServerReply.
func (c *srpClient) sessionKey() []byte {
	return c.key
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
