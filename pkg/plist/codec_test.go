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

package plist_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/plist"
)

var _ = Describe("codec", func() {
	DescribeTable("round-trips through binary and XML",
		func(format plist.Format) {
			d := plist.NewDict()
			d.Set("Label", plist.String("host"))
			d.Set("Count", plist.Int(42))
			d.Set("Ok", plist.Bool(true))
			d.Set("Blob", plist.Data([]byte{0x01, 0x02, 0x03}))
			d.Set("Items", plist.Array(plist.String("a"), plist.String("b")))
			v := plist.Dictionary(d)

			b, err := plist.Marshal(v, format)
			Expect(err).NotTo(HaveOccurred())

			got, err := plist.Unmarshal(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Equal(v)).To(BeTrue())
		},
		Entry("binary", plist.FormatBinary),
		Entry("xml", plist.FormatXML),
	)

	It("rejects malformed input", func() {
		_, err := plist.Unmarshal([]byte("not a plist"))
		Expect(err).To(HaveOccurred())
	})

	Describe("framed channel", func() {
		It("reads back exactly what was written", func() {
			d := plist.NewDict()
			d.Set("Request", plist.String("QueryType"))
			v := plist.Dictionary(d)

			buf := &bytes.Buffer{}
			Expect(plist.WritePlistFrame(buf, v, plist.FormatXML)).To(Succeed())

			got, err := plist.ReadPlistFrame(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Equal(v)).To(BeTrue())
		})

		It("errors on a truncated frame", func() {
			buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x10, 0x01, 0x02})
			_, err := plist.ReadPlistFrame(buf)
			Expect(err).To(HaveOccurred())
		})
	})
})
