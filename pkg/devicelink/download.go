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

// handleDownloadFiles implements the DLMessageDownloadFiles response: for each requested path it streams the file (or a
// local-error block if it cannot be opened), then terminates the stream
// and returns the status code/phrase the caller should send.
func handleDownloadFiles(w io.Writer, root string, msg []plist.Value) (code int64, phrase string, err error) {
	if len(msg) < 2 {
		return 0, "", &ierrors.UnexpectedResponseError{Context: "DLMessageDownloadFiles", Key: "paths"}
	}
	paths, ok := msg[1].AsArray()
	if !ok {
		return 0, "", &ierrors.UnexpectedResponseError{Context: "DLMessageDownloadFiles", Key: "paths"}
	}

	anyFailed := false
	for _, pv := range paths {
		rel, ok := pv.AsString()
		if !ok {
			return 0, "", &ierrors.UnexpectedResponseError{Context: "DLMessageDownloadFiles", Key: "path entry"}
		}
		full, joinErr := safeJoin(root, rel)
		if joinErr != nil {
			if err := writePathSegment(w, rel); err != nil {
				return 0, "", err
			}
			if err := writeDataBlock(w, codeLocalError, []byte(joinErr.Error())); err != nil {
				return 0, "", err
			}
			anyFailed = true
			continue
		}
		ok2, err := sendFile(w, full, rel)
		if err != nil {
			return 0, "", err
		}
		if !ok2 {
			anyFailed = true
		}
	}

	if err := writePathSegment(w, ""); err != nil {
		return 0, "", err
	}
	if anyFailed {
		return -13, "Multi status", nil
	}
	return 0, "", nil
}
