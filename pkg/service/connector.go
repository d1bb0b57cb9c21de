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

// Package service implements the service connector: given a Provider and
// a service name, it opens lockdown, starts a session,
// ask for the service port, and dial a fresh stream to it.
package service

import (
	"io"
	"net"

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/lockdown"
	"github.com/ioslink/idevice/pkg/provider"
)

const expectedQueryType = "com.apple.mobile.lockdown"

// Connect runs the full service-open sequence: it opens its own
// lockdown connection, verifies QueryType, starts a session (upgrading to
// TLS if required), starts the named service, and dials a fresh stream to
// the returned port (upgrading that stream to TLS too if required). The
// lockdown connection is never reused for service traffic; it is closed
// before returning.
func Connect(p provider.Provider, serviceName string, log logr.Logger) (io.ReadWriteCloser, error) {
	log = logging.OrDiscard(log)

	record, err := p.PairingFile()
	if err != nil {
		return nil, err
	}

	ldStream, err := p.OpenStream(lockdown.Port)
	if err != nil {
		return nil, err
	}
	ldConn, ok := ldStream.(net.Conn)
	if !ok {
		ldStream.Close()
		return nil, &ierrors.InternalError{Text: "lockdown stream is not a net.Conn"}
	}
	client := lockdown.NewClient(ldConn, log)
	defer client.Close()

	typ, err := client.QueryType()
	if err != nil {
		return nil, err
	}
	if typ != expectedQueryType {
		return nil, &ierrors.UnexpectedResponseError{Context: "QueryType", Key: typ}
	}

	_, enableSSL, err := client.StartSession(record)
	if err != nil {
		return nil, err
	}
	if enableSSL {
		if err := client.UpgradeTLS(record); err != nil {
			return nil, err
		}
	}

	port, ssl, err := client.StartService(serviceName, record.EscrowBag)
	if err != nil {
		return nil, err
	}

	svcStream, err := p.OpenStream(port)
	if err != nil {
		return nil, err
	}
	if ssl {
		svcConn, ok := svcStream.(net.Conn)
		if !ok {
			svcStream.Close()
			return nil, &ierrors.InternalError{Text: "service stream is not a net.Conn"}
		}
		return upgradeServiceTLS(svcConn, record)
	}
	return svcStream, nil
}
