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
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/pairing"
	"github.com/ioslink/idevice/pkg/remotepairing"
)

var remotePairUDID string

var remotePairCmd = &cobra.Command{
	Use:   "remote-pair <host:port>",
	Short: "Run the SRP-6a/X25519 remote-pairing handshake against a direct endpoint",
	Long: `remote-pair dials addr directly and runs pair-verify, falling back to
pair-setup when verification fails. The host's long-term identity is saved
under --pair-dir keyed by --udid for reuse by later pair-verify runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if remotePairUDID == "" {
			return fmt.Errorf("remote-pair: --udid is required")
		}
		addr := args[0]

		store := pairing.NewFileStore(pairDir)
		record, err := store.Load(remotePairUDID)
		if err != nil {
			record = &pairing.Record{HostID: lockdown.NewHostID()}
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		client, err := remotepairing.NewClient(conn, "ioslink", *record, log)
		if err != nil {
			return err
		}

		if err := client.Connect(promptPIN); err != nil {
			return err
		}

		updated := client.PairingRecord()
		if err := store.Save(remotePairUDID, &updated); err != nil {
			return err
		}
		fmt.Printf("remote pairing complete for %s\n", remotePairUDID)
		return nil
	},
}

func promptPIN() string {
	fmt.Fprint(os.Stderr, "pairing PIN: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func init() {
	remotePairCmd.Flags().StringVar(&remotePairUDID, "udid", "", "device UDID to key the saved pairing record with")
	rootCmd.AddCommand(remotePairCmd)
}
