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

package devicelink

import (
	"io"

	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

const hostProtocolVersion int64 = 400

// Handshake runs the version-exchange sequence: wait for the device's
// DLMessageVersionExchange, reply DLVersionsOk/400, wait for
// DLMessageDeviceReady, then send the service-specific Hello process
// message advertising supportedVersions. It returns the device's
// negotiated ProtocolVersion. A non-zero device ErrorCode aborts.
func Handshake(rw io.ReadWriter, helloName string, supportedVersions []float64) (protocolVersion float64, err error) {
	exchange, err := ReadMessage(rw)
	if err != nil {
		return 0, err
	}
	if Tag(exchange) != "DLMessageVersionExchange" {
		return 0, &ierrors.UnexpectedResponseError{Context: "devicelink handshake", Key: "DLMessageVersionExchange"}
	}

	if err := WriteMessage(rw, plist.String("DLMessageVersionExchange"), plist.String("DLVersionsOk"), plist.Int(hostProtocolVersion)); err != nil {
		return 0, err
	}

	ready, err := ReadMessage(rw)
	if err != nil {
		return 0, err
	}
	if Tag(ready) != "DLMessageDeviceReady" {
		return 0, &ierrors.UnexpectedResponseError{Context: "devicelink handshake", Key: "DLMessageDeviceReady"}
	}

	versions := make([]plist.Value, len(supportedVersions))
	for i, v := range supportedVersions {
		versions[i] = plist.Real(v)
	}
	hello := plist.NewDict()
	hello.Set("MessageName", plist.String(helloName))
	hello.Set("SupportedProtocolVersions", plist.ArraySlice(versions))
	if err := WriteMessage(rw, ProcessMessage(hello)...); err != nil {
		return 0, err
	}

	reply, err := ReadMessage(rw)
	if err != nil {
		return 0, err
	}
	if Tag(reply) != "DLMessageProcessMessage" || len(reply) < 2 {
		return 0, &ierrors.UnexpectedResponseError{Context: "devicelink handshake", Key: "Hello reply"}
	}
	body, ok := reply[1].AsDictionary()
	if !ok {
		return 0, &ierrors.UnexpectedResponseError{Context: "devicelink handshake", Key: "Hello reply body"}
	}
	if code, ok := body.Get("ErrorCode"); ok {
		if n, _ := code.AsInt(); n != 0 {
			return 0, &ProcessError{Code: n}
		}
	}
	pv, _ := body.Get("ProtocolVersion")
	protocolVersion, _ = pv.AsReal()
	return protocolVersion, nil
}

// SendRequest issues a host-initiated operation (Backup, Restore, Info,
// List, Unback, Extract, ChangePassword, EraseDevice).
func SendRequest(w io.Writer, operation, targetIdentifier, sourceIdentifier string, options *plist.Dict) error {
	body := plist.NewDict()
	body.Set("MessageName", plist.String(operation))
	body.Set("TargetIdentifier", plist.String(targetIdentifier))
	if sourceIdentifier != "" {
		body.Set("SourceIdentifier", plist.String(sourceIdentifier))
	}
	if options == nil {
		options = plist.NewDict()
	}
	body.Set("Options", plist.Dictionary(options))
	return WriteMessage(w, ProcessMessage(body)...)
}
