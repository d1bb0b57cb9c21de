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
)

var infoCmd = &cobra.Command{
	Use:   "info <udid> [domain] [key]",
	Short: "Query a lockdown value from a device",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(_ *cobra.Command, args []string) error {
		udid := args[0]
		var domain, key string
		if len(args) > 1 {
			domain = args[1]
		}
		if len(args) > 2 {
			key = args[2]
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
		value, err := client.GetValue(domain, key)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

// resolveDeviceID looks up the mux daemon's current short-lived device id
// for udid.
func resolveDeviceID(udid string) (uint32, error) {
	conn, err := mux.Dial()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	client := mux.NewClient(conn, "ioslink", log)
	devices, err := client.ListDevices()
	if err != nil {
		return 0, err
	}
	for _, d := range devices {
		if d.UDID == udid {
			return d.ID, nil
		}
	}
	return 0, &ierrors.NotFoundError{What: "device " + udid}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
