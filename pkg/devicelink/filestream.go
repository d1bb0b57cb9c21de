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

// File-stream data block codes.
const (
	codeSuccess     byte = 0x00
	codeLocalError  byte = 0x06
	codeRemoteError byte = 0x0b
	codeFileData    byte = 0x0c
)

const fileChunkSize = 32 * 1024

// writePathSegment writes a length-prefixed path, or a zero-length
// terminator when path == "". It reuses the
// plist package's raw big-endian length framing (plist.WriteFrame), which
// is byte-identical to this segment's shape.
func writePathSegment(w io.Writer, path string) error {
	return plist.WriteFrame(w, []byte(path))
}

// readPathSegment reads one length-prefixed path segment. An empty string
// with ok==false signals the zero-length terminator.
func readPathSegment(r io.Reader) (path string, ok bool, err error) {
	b, err := plist.ReadFrame(r)
	if err != nil {
		return "", false, err
	}
	if len(b) == 0 {
		return "", false, nil
	}
	return string(b), true, nil
}

// writeDataBlock writes one code+payload block: 4-byte big-endian length
// of (1+len(payload)), the code byte, then payload.
func writeDataBlock(w io.Writer, code byte, payload []byte) error {
	body := make([]byte, 1+len(payload))
	body[0] = code
	copy(body[1:], payload)
	return plist.WriteFrame(w, body)
}

// readDataBlock reads one data block. n==0 signals the end of a data
// stream for the current file (the upload side's sentinel.6).
func readDataBlock(r io.Reader) (code byte, payload []byte, end bool, err error) {
	body, err := plist.ReadFrame(r)
	if err != nil {
		return 0, nil, false, err
	}
	if len(body) == 0 {
		return 0, nil, true, nil
	}
	return body[0], body[1:], false, nil
}

// sendFile streams one file's contents as a path segment followed by data
// blocks and a success trailer. If the file cannot be
// opened, it instead writes a single local-error data block, which the
// caller should treat as a per-file failure without aborting
// the overall loop.
func sendFile(w io.Writer, fullPath, relPath string) (ok bool, err error) {
	if err := writePathSegment(w, relPath); err != nil {
		return false, err
	}

	f, openErr := openFileForRead(fullPath)
	if openErr != nil {
		desc := openErr.Error()
		if err := writeDataBlock(w, codeLocalError, []byte(desc)); err != nil {
			return false, err
		}
		return false, nil
	}
	defer f.Close()

	buf := make([]byte, fileChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := writeDataBlock(w, codeFileData, buf[:n]); err != nil {
				return false, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if err := writeDataBlock(w, codeLocalError, []byte(readErr.Error())); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	if err := writeDataBlock(w, codeSuccess, nil); err != nil {
		return false, err
	}
	return true, nil
}

// recvFile reads one upload entry's data blocks into fullPath, creating
// parent directories as needed.
func recvFile(r io.Reader, fullPath string) error {
	f, err := createFileForWrite(fullPath)
	if err != nil {
		return &ierrors.TransportError{Op: "create upload target", Err: err}
	}
	defer f.Close()

	for {
		code, payload, end, err := readDataBlock(r)
		if err != nil {
			return err
		}
		if end {
			return nil
		}
		switch code {
		case codeFileData:
			if _, err := f.Write(payload); err != nil {
				return &ierrors.TransportError{Op: "write upload target", Err: err}
			}
		case codeRemoteError, codeLocalError:
			// Skipped without being logged; the upload continues.
		}
	}
}
