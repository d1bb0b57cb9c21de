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

package provider

import (
	"fmt"
	"io"
	"net"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/pairing"
)

// DirectTCPProvider is the direct-TCP Provider variant: it
// dials the device's IP directly, bypassing usbmuxd, using an already
// loaded pairing file (e.g. obtained once over mux and cached to disk, or
// produced by pkg/remotepairing).
type DirectTCPProvider struct {
	ip     string
	record *pairing.Record
	label  string
}

// NewDirectTCPProvider builds a provider that dials ip directly. label is
// used only for logging (typically the device UDID).
func NewDirectTCPProvider(ip string, record *pairing.Record, label string) *DirectTCPProvider {
	return &DirectTCPProvider{ip: ip, record: record, label: label}
}

func (p *DirectTCPProvider) Label() string { return p.label }

func (p *DirectTCPProvider) OpenStream(port uint16) (io.ReadWriteCloser, error) {
	addr := fmt.Sprintf("%s:%d", p.ip, port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &ierrors.TransportError{Op: "dial " + addr, Err: err}
	}
	return conn, nil
}

func (p *DirectTCPProvider) PairingFile() (*pairing.Record, error) {
	if p.record == nil {
		return nil, &ierrors.NotFoundError{What: "pairing record for " + p.label}
	}
	return p.record, nil
}

var _ Provider = (*DirectTCPProvider)(nil)
