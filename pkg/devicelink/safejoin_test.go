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

package devicelink_test

import (
	"net"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ioslink/idevice/pkg/devicelink"
	"github.com/ioslink/idevice/pkg/plist"
)

var _ = Describe("Path escape rejection", func() {
	It("refuses a directory creation outside the backup root", func() {
		outer := GinkgoT().TempDir()
		root := filepath.Join(outer, "backup")
		Expect(os.Mkdir(root, 0o755)).To(Succeed())

		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		loopErr := make(chan error, 1)
		go func() {
			_, err := devicelink.RunLoop(hostConn, root, logr.Discard())
			loopErr <- err
		}()

		Expect(devicelink.WriteMessage(deviceConn,
			plist.String("DLMessageCreateDirectory"),
			plist.String("../../etc/passwd"),
		)).To(Succeed())

		status, err := devicelink.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(devicelink.Tag(status)).To(Equal("DLMessageStatusResponse"))
		code, _ := status[1].AsInt()
		Expect(code).To(Equal(int64(-1)))

		_, statErr := os.Stat(filepath.Join(outer, "etc", "passwd"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		Expect(devicelink.WriteMessage(deviceConn, plist.String("DLMessageDisconnect"))).To(Succeed())
		Expect(<-loopErr).NotTo(HaveOccurred())
	})

	It("refuses an upload entry that escapes the backup root", func() {
		outer := GinkgoT().TempDir()
		root := filepath.Join(outer, "backup")
		Expect(os.Mkdir(root, 0o755)).To(Succeed())

		hostConn, deviceConn := net.Pipe()
		defer hostConn.Close()
		defer deviceConn.Close()

		loopErr := make(chan error, 1)
		go func() {
			_, err := devicelink.RunLoop(hostConn, root, logr.Discard())
			loopErr <- err
		}()

		Expect(devicelink.WriteMessage(deviceConn, plist.String("DLMessageUploadFiles"))).To(Succeed())
		Expect(devicelink.WriteUploadEntry(deviceConn, "../../tmp", "evil.txt", []byte("payload"))).To(Succeed())
		Expect(devicelink.WriteUploadTerminator(deviceConn)).To(Succeed())

		status, err := devicelink.ReadMessage(deviceConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(devicelink.Tag(status)).To(Equal("DLMessageStatusResponse"))
		code, _ := status[1].AsInt()
		Expect(code).To(Equal(int64(0)))

		_, statErr := os.Stat(filepath.Join(outer, "tmp", "evil.txt"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		Expect(devicelink.WriteMessage(deviceConn, plist.String("DLMessageDisconnect"))).To(Succeed())
		Expect(<-loopErr).NotTo(HaveOccurred())
	})
})
