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

import "fmt"

// ProcessError carries a non-zero ErrorCode from a device-emitted
// DLMessageProcessMessage: this service's analogue of the other
// per-service device-side error kinds in pkg/ierrors (AfcError,
// MisagentError, InstallationProxyError).
type ProcessError struct {
	Code int64
}

func (e *ProcessError) Error() string { return fmt.Sprintf("devicelink process error %d", e.Code) }
