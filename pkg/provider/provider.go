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

// Package provider defines the abstract factory that yields a fresh
// byte stream to a device port plus the pairing record that authenticates
// it.
// Consumers (pkg/service, pkg/lockdown) depend on the Provider interface,
// never on a concrete variant.
package provider

import (
	"io"

	"github.com/ioslink/idevice/pkg/pairing"
)

// Provider is the capability set every service connector needs: open a
// fresh stream to a port, and read the pairing record that authenticates
// it. Implementations: mux-backed (Provider wraps pkg/mux), direct-TCP
// (device IP + pairing file), and a test double.
type Provider interface {
	// OpenStream dials a fresh byte stream to the given device port.
	OpenStream(port uint16) (io.ReadWriteCloser, error)
	// PairingFile returns the pairing record used to authenticate streams
	// from this provider.
	PairingFile() (*pairing.Record, error)
	// Label identifies the provider for logging (typically the device
	// UDID).
	Label() string
}
