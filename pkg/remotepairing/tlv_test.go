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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TLV8 codec", func() {
	It("round-trips a handful of short entries", func() {
		entries := []tlvEntry{
			{Type: tlvMethod, Data: []byte{0x00}},
			{Type: tlvState, Data: []byte{0x01}},
		}
		got := decodeTLV8(encodeTLV8(entries))
		Expect(got).To(HaveLen(2))
		Expect(got[0].Type).To(Equal(byte(tlvMethod)))
		Expect(got[0].Data).To(Equal([]byte{0x00}))
		Expect(got[1].Type).To(Equal(byte(tlvState)))
		Expect(got[1].Data).To(Equal([]byte{0x01}))
	})

	It("splits and reassembles a value longer than 255 bytes", func() {
		big := make([]byte, 400)
		for i := range big {
			big[i] = byte(i)
		}
		wire := encodeTLV8([]tlvEntry{{Type: tlvPublicKey, Data: big}})
		// Two chunks: 255 bytes then 145, each carrying their own 1-byte length.
		Expect(len(wire)).To(Equal(2 + 255 + 2 + 145))

		got := decodeTLV8(wire)
		Expect(got).To(HaveLen(1))
		Expect(got[0].Type).To(Equal(byte(tlvPublicKey)))
		Expect(got[0].Data).To(Equal(big))
	})

	It("finds entries by type and reports absence", func() {
		entries := decodeTLV8(encodeTLV8([]tlvEntry{{Type: tlvSalt, Data: []byte{1, 2, 3}}}))
		v, ok := tlvFind(entries, tlvSalt)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal([]byte{1, 2, 3}))

		_, ok = tlvFind(entries, tlvProof)
		Expect(ok).To(BeFalse())
		Expect(tlvHas(entries, tlvProof)).To(BeFalse())
	})
})
