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

	"github.com/ioslink/idevice/pkg/pairing"
)

// TestProvider is the test-double Provider variant: every
// OpenStream call invokes Dial, letting tests hand back an in-memory pipe
// (net.Pipe) or a scripted fake service without a real mux daemon.
type TestProvider struct {
	Record *pairing.Record
	// Dial is invoked once per OpenStream call with the requested port.
	Dial func(port uint16) (io.ReadWriteCloser, error)
	Name string
}

func (p *TestProvider) Label() string { return p.Name }

func (p *TestProvider) OpenStream(port uint16) (io.ReadWriteCloser, error) {
	return p.Dial(port)
}

func (p *TestProvider) PairingFile() (*pairing.Record, error) {
	return p.Record, nil
}

var _ Provider = (*TestProvider)(nil)
