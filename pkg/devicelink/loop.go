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

	"github.com/go-logr/logr"

	"github.com/ioslink/idevice/internal/logging"
	"github.com/ioslink/idevice/pkg/ierrors"
	"github.com/ioslink/idevice/pkg/plist"
)

// Outcome is what RunLoop returns when the device ends the loop.
type Outcome struct {
	// Disconnected is true when the device sent DLMessageDisconnect.
	Disconnected bool
	// FinalMessage is the terminating DLMessageProcessMessage's body, set
	// when Disconnected is false.
	FinalMessage *plist.Dict
}

// RunLoop drives the DL loop until the device sends a
// terminating DLMessageProcessMessage or DLMessageDisconnect, responding
// to every device-driven message along the way. Individual filesystem
// failures are mapped to -1 status responses without aborting the loop,
// except during DLMessageUploadFiles, where a failure to create or write a
// file ends the loop with that error; a
// malformed device
// tag aborts it (ReadMessage / the default case below).
func RunLoop(rw io.ReadWriter, root string, log logr.Logger) (Outcome, error) {
	log = logging.OrDiscard(log)
	for {
		msg, err := ReadMessage(rw)
		if err != nil {
			return Outcome{}, err
		}
		switch Tag(msg) {
		case "DLMessageDownloadFiles":
			code, phrase, err := handleDownloadFiles(rw, root, msg)
			if err != nil {
				return Outcome{}, err
			}
			if err := WriteStatus(rw, code, phrase, plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageUploadFiles":
			if err := handleUploadFiles(rw, root); err != nil {
				return Outcome{}, err
			}
			if err := WriteStatus(rw, 0, "", plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageGetFreeDiskSpace":
			free, err := freeDiskSpace(root)
			if err != nil {
				log.V(1).Info("free disk space query failed", "err", err)
				if err := WriteStatus(rw, -1, err.Error(), plist.Value{}); err != nil {
					return Outcome{}, err
				}
				continue
			}
			if err := WriteStatus(rw, 0, "", plist.Int(free)); err != nil {
				return Outcome{}, err
			}

		case "DLContentsOfDirectory":
			entries, err := contentsOfDirectory(root)
			if err != nil {
				if err := WriteStatus(rw, -1, err.Error(), plist.Value{}); err != nil {
					return Outcome{}, err
				}
				continue
			}
			d := plist.NewDict()
			for name, info := range entries {
				entry := plist.NewDict()
				entry.Set("st_size", plist.Int(info.Size()))
				if info.IsDir() {
					entry.Set("st_ifmt", plist.String("S_IFDIR"))
				} else {
					entry.Set("st_ifmt", plist.String("S_IFREG"))
				}
				d.Set(name, plist.Dictionary(entry))
			}
			if err := WriteStatus(rw, 0, "", plist.Dictionary(d)); err != nil {
				return Outcome{}, err
			}

		case "DLMessageCreateDirectory":
			if len(msg) < 2 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageCreateDirectory", Key: "path"}
			}
			rel, ok := msg[1].AsString()
			if !ok {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageCreateDirectory", Key: "path"}
			}
			if err := createDirectory(root, rel); err != nil {
				if err := WriteStatus(rw, -1, err.Error(), plist.Value{}); err != nil {
					return Outcome{}, err
				}
				continue
			}
			if err := WriteStatus(rw, 0, "", plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageMoveFiles", "DLMessageMoveItems":
			if len(msg) < 2 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: Tag(msg), Key: "map"}
			}
			mapping, ok := msg[1].AsDictionary()
			if !ok {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: Tag(msg), Key: "map"}
			}
			failed := false
			for _, src := range mapping.Keys() {
				dstV, _ := mapping.Get(src)
				dst, _ := dstV.AsString()
				if err := moveItem(root, src, dst); err != nil {
					failed = true
				}
			}
			code := int64(0)
			if failed {
				code = -1
			}
			if err := WriteStatus(rw, code, "", plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageRemoveFiles", "DLMessageRemoveItems":
			if len(msg) < 2 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: Tag(msg), Key: "paths"}
			}
			paths, ok := msg[1].AsArray()
			if !ok {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: Tag(msg), Key: "paths"}
			}
			failed := false
			for _, pv := range paths {
				rel, _ := pv.AsString()
				if err := removeItem(root, rel); err != nil {
					failed = true
				}
			}
			code := int64(0)
			if failed {
				code = -1
			}
			if err := WriteStatus(rw, code, "", plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageCopyItem":
			if len(msg) < 3 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageCopyItem", Key: "src/dst"}
			}
			src, ok1 := msg[1].AsString()
			dst, ok2 := msg[2].AsString()
			if !ok1 || !ok2 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageCopyItem", Key: "src/dst"}
			}
			code := int64(0)
			if err := copyItem(root, src, dst); err != nil {
				code = -1
			}
			if err := WriteStatus(rw, code, "", plist.Value{}); err != nil {
				return Outcome{}, err
			}

		case "DLMessageProcessMessage":
			if len(msg) < 2 {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageProcessMessage", Key: "body"}
			}
			body, ok := msg[1].AsDictionary()
			if !ok {
				return Outcome{}, &ierrors.UnexpectedResponseError{Context: "DLMessageProcessMessage", Key: "body"}
			}
			return Outcome{FinalMessage: body}, nil

		case "DLMessageDisconnect":
			return Outcome{Disconnected: true}, nil

		default:
			return Outcome{}, &ierrors.UnexpectedResponseError{Context: "devicelink loop", Key: Tag(msg)}
		}
	}
}
