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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ioslink/idevice/pkg/mux"
)

var devicesOutput string

// deviceListing is the YAML shape of one `devices -o yaml` entry.
type deviceListing struct {
	UDID           string `yaml:"udid"`
	DeviceID       uint32 `yaml:"deviceID"`
	Connection     string `yaml:"connection"`
	NetworkAddress string `yaml:"networkAddress,omitempty"`
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices known to usbmuxd",
	RunE: func(*cobra.Command, []string) error {
		conn, err := mux.Dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		client := mux.NewClient(conn, "ioslink", log)
		devices, err := client.ListDevices()
		if err != nil {
			return err
		}

		if devicesOutput == "yaml" {
			listings := make([]deviceListing, 0, len(devices))
			for _, d := range devices {
				listings = append(listings, deviceListing{
					UDID:           d.UDID,
					DeviceID:       d.ID,
					Connection:     connectionName(d.Kind),
					NetworkAddress: d.NetworkAddress,
				})
			}
			return yaml.NewEncoder(os.Stdout).Encode(listings)
		}

		for _, d := range devices {
			fmt.Printf("%-40s id=%-6d %s", d.UDID, d.ID, connectionName(d.Kind))
			if d.NetworkAddress != "" {
				fmt.Printf(" (%s)", d.NetworkAddress)
			}
			fmt.Println()
		}
		return nil
	},
}

func connectionName(k mux.ConnectionKind) string {
	switch k {
	case mux.ConnectionUSB:
		return "usb"
	case mux.ConnectionNetwork:
		return "network"
	default:
		return "unknown"
	}
}

func init() {
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "", "output format (one of: yaml)")
	rootCmd.AddCommand(devicesCmd)
}
