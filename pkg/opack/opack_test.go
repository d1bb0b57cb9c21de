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

package opack_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/opack"
)

var _ = Describe("OPACK codec", func() {
	It("round-trips scalars", func() {
		for _, v := range []any{nil, true, false, int64(5), int64(39), int64(-1), int64(1000), int64(1 << 40), "hi", []byte{1, 2, 3}} {
			b, err := opack.Encode(v)
			Expect(err).NotTo(HaveOccurred())
			got, err := opack.Decode(b)
			Expect(err).NotTo(HaveOccurred())
			if v == nil {
				Expect(got).To(BeNil())
			} else {
				Expect(got).To(Equal(v))
			}
		}
	})

	It("round-trips a device-info style dictionary, preserving key order", func() {
		d := opack.NewDict()
		d.Set("accountID", "11111111-2222-3333-4444-555555555555")
		d.Set("model", "computer-model")
		d.Set("mac", []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
		d.Set("name", "my-host")

		b, err := opack.Encode(d)
		Expect(err).NotTo(HaveOccurred())

		got, err := opack.Decode(b)
		Expect(err).NotTo(HaveOccurred())
		gotDict, ok := got.(*opack.Dict)
		Expect(ok).To(BeTrue())
		Expect(gotDict.Keys()).To(Equal([]string{"accountID", "model", "mac", "name"}))

		mac, ok := gotDict.Get("mac")
		Expect(ok).To(BeTrue())
		Expect(mac).To(Equal([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}))
	})

	It("round-trips a long string and a dictionary with more than 13 entries", func() {
		long := ""
		for i := 0; i < 100; i++ {
			long += "x"
		}
		got, err := opack.Decode(mustEncode(long))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(long))

		d := opack.NewDict()
		for i := 0; i < 20; i++ {
			d.Set(string(rune('a'+i)), int64(i))
		}
		b, err := opack.Encode(d)
		Expect(err).NotTo(HaveOccurred())
		decoded, err := opack.Decode(b)
		Expect(err).NotTo(HaveOccurred())
		dd := decoded.(*opack.Dict)
		Expect(dd.Keys()).To(HaveLen(20))
		v, _ := dd.Get("a")
		Expect(v).To(Equal(int64(0)))
	})
})

func mustEncode(v any) []byte {
	b, err := opack.Encode(v)
	Expect(err).NotTo(HaveOccurred())
	return b
}
