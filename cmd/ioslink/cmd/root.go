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

// Package cmd is the cobra front end exercising the mux, provider,
// lockdown, and remote-pairing packages from a terminal.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ioslink/idevice/internal/logging"
)

var (
	pairDir string
	verbose bool
	log     logr.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ioslink",
	Short: "Talk to an iOS device over usbmuxd, lockdown, and remote pairing",
	Long: `ioslink is a command-line front end over the mux, lockdown, and
remote-pairing protocol clients: list attached devices, read lockdown
values, run first-time pairing, and run the SRP/X25519 remote-pairing
handshake against a direct TCP endpoint.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		log = logging.NewZapLogger(verbose)
	},
}

// Execute adds all child commands and runs the root command. Called once
// from main.main.
func Execute() {
	setupPairDir()
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pairDir, "pair-dir", "",
		"directory holding cached pairing records (default is $HOME/.ioslink)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		cobra.CheckErr(err)
	}
	viper.SetEnvPrefix("ioslink")
	viper.AutomaticEnv()
}

func setupPairDir() {
	if pairDir == "" {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		pairDir = filepath.Join(home, ".ioslink")
	}
	cobra.CheckErr(os.MkdirAll(pairDir, 0o755))
}
