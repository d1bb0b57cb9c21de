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

package cmd

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("command tree", func() {
	It("registers every subcommand under root", func() {
		names := map[string]bool{}
		for _, c := range rootCmd.Commands() {
			names[c.Name()] = true
		}
		Expect(names).To(HaveKey("devices"))
		Expect(names).To(HaveKey("info"))
		Expect(names).To(HaveKey("pair"))
		Expect(names).To(HaveKey("remote-pair"))
	})

	It("requires exactly one udid argument for pair", func() {
		Expect(pairCmd.Args(pairCmd, nil)).To(HaveOccurred())
		Expect(pairCmd.Args(pairCmd, []string{"udid"})).NotTo(HaveOccurred())
		Expect(pairCmd.Args(pairCmd, []string{"udid", "extra"})).To(HaveOccurred())
	})

	It("accepts between one and three arguments for info", func() {
		Expect(infoCmd.Args(infoCmd, nil)).To(HaveOccurred())
		Expect(infoCmd.Args(infoCmd, []string{"udid"})).NotTo(HaveOccurred())
		Expect(infoCmd.Args(infoCmd, []string{"udid", "domain", "key"})).NotTo(HaveOccurred())
		Expect(infoCmd.Args(infoCmd, []string{"udid", "domain", "key", "extra"})).To(HaveOccurred())
	})
})

var _ = Describe("remote-pair", func() {
	It("rejects a missing --udid before dialing anything", func() {
		remotePairUDID = ""
		err := remotePairCmd.RunE(remotePairCmd, []string{"127.0.0.1:0"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("--udid"))
	})
})
