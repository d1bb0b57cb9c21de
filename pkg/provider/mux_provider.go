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
	"io"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/mux"
	"github.com/ioslink/idevice/pkg/pairing"
)

// MuxProvider is the mux-backed Provider variant: every
// OpenStream call dials a fresh connection to usbmuxd (a Client instance is
// single-use once Connect succeeds, per pkg/mux's ownership rule) and asks
// it to splice through to the device port.
type MuxProvider struct {
	udid     string
	deviceID uint32
	progName string
	log      logr.Logger

	mu     sync.Mutex
	record *pairing.Record
}

// NewMuxProvider builds a provider for the device identified by udid and
// its current mux deviceID (obtained from mux.Client.ListDevices or a
// Listen event).
func NewMuxProvider(udid string, deviceID uint32, progName string, log logr.Logger) *MuxProvider {
	return &MuxProvider{
		udid:     udid,
		deviceID: deviceID,
		progName: progName,
		log:      logging.OrDiscard(log),
	}
}

func (p *MuxProvider) Label() string { return p.udid }

// OpenStream dials a fresh mux connection and asks it to connect to port,
// returning the resulting raw byte stream.
func (p *MuxProvider) OpenStream(port uint16) (io.ReadWriteCloser, error) {
	conn, err := mux.Dial()
	if err != nil {
		return nil, err
	}
	client := mux.NewClient(conn, p.progName, p.log)
	stream, err := client.ConnectToDevice(p.deviceID, port)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return stream, nil
}

// PairingFile fetches and caches the pairing record for this device from
// the mux daemon. The cached record is
// immutable after first load.
func (p *MuxProvider) PairingFile() (*pairing.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record != nil {
		return p.record, nil
	}

	conn, err := mux.Dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	client := mux.NewClient(conn, p.progName, p.log)
	raw, err := client.ReadPairRecord(p.udid)
	if err != nil {
		return nil, err
	}
	record, err := pairing.Parse(raw)
	if err != nil {
		return nil, err
	}
	p.record = record
	return record, nil
}

var _ Provider = (*MuxProvider)(nil)
