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

package pairing

import (
	"encoding/pem"
	"errors"
)

var errNotADictionary = errors.New("pairing record is not a plist dictionary")

// derToPEM wraps a DER-encoded certificate in PEM armor, since
// tls.X509KeyPair expects PEM on both halves while the pairing record
// stores the device/host certificates as raw DER.
func derToPEM(blockType string, der []byte) ([]byte, error) {
	if len(der) == 0 {
		return nil, errors.New("empty certificate")
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}
