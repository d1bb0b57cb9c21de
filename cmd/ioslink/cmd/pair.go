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
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/mux"
	"github.com/ioslink/idevice/pkg/pairing"
)

var pairCmd = &cobra.Command{
	Use:   "pair <udid>",
	Short: "Run the lockdown Pair check-in for an already-provisioned record",
	Long: `pair runs the lockdown "Pair" request for a record already
cached under --pair-dir (its DeviceCertificate/HostCertificate/RootCertificate
fields must already be populated, e.g. from a prior mux-daemon pairing or
another provisioning tool: this library does not generate the X.509 key
material itself). On success the device's escrow bag is saved back into the
cached record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		udid := args[0]

		store := pairing.NewFileStore(pairDir)
		record, err := store.Load(udid)
		if err != nil {
			return err
		}

		deviceID, err := resolveDeviceID(udid)
		if err != nil {
			return err
		}

		conn, err := mux.Dial()
		if err != nil {
			return err
		}
		muxClient := mux.NewClient(conn, "ioslink", log)
		stream, err := muxClient.ConnectToDevice(deviceID, lockdown.Port)
		if err != nil {
			conn.Close()
			return err
		}
		ldConn, ok := stream.(net.Conn)
		if !ok {
			return &ierrors.InternalError{Text: "lockdown stream is not a net.Conn"}
		}
		defer ldConn.Close()

		client := lockdown.NewClient(ldConn, log)
		if _, err := client.QueryType(); err != nil {
			return err
		}
		bag, err := client.Pair(record, nil)
		if err != nil {
			return err
		}

		if err := store.Save(udid, record.WithEscrowBag(bag)); err != nil {
			return err
		}
		fmt.Printf("paired %s, escrow bag %d bytes\n", udid, len(bag))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pairCmd)
}
