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

package service

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/pairing"
)

// upgradeServiceTLS wraps a freshly dialed service stream in the same
// client-credential TLS profile lockdown uses.
func upgradeServiceTLS(conn net.Conn, record *pairing.Record) (io.ReadWriteCloser, error) {
	cfg, err := lockdown.ClientTLSConfig(record)
	if err != nil {
		return nil, err
	}
	return tls.Client(conn, cfg), nil
}
