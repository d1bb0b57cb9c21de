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
	"path/filepath"

	"github.com/ioslink/idevice/pkg/plist"
)

// handleUploadFiles implements the DLMessageUploadFiles response: repeatedly read (directory, filename) segment pairs
// followed by data blocks until a zero-length directory segment.
func handleUploadFiles(r io.Reader, root string) error {
	for {
		dir, ok, err := readPathSegment(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		filename, ok, err := readPathSegment(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		rel := filename
		if dir != "" {
			rel = filepath.Join(dir, filename)
		}
		full, joinErr := safeJoin(root, rel)
		if joinErr != nil {
			// Drain the data blocks so framing stays in sync, but discard them.
			if err := drainDataBlocks(r); err != nil {
				return err
			}
			continue
		}
		if err := recvFile(r, full); err != nil {
			return err
		}
	}
}

func drainDataBlocks(r io.Reader) error {
	for {
		_, _, end, err := readDataBlock(r)
		if err != nil {
			return err
		}
		if end {
			return nil
		}
	}
}

// WriteUploadEntry writes one upload entry (directory + filename segments
// followed by the file's data blocks and the zero-length block that ends
// the file), the shape a
// device drives the host with. Exposed for tests and for any
// host-initiated upload-simulation tooling.
func WriteUploadEntry(w io.Writer, directory, filename string, data []byte) error {
	if err := writePathSegment(w, directory); err != nil {
		return err
	}
	if err := writePathSegment(w, filename); err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > fileChunkSize {
			n = fileChunkSize
		}
		if err := writeDataBlock(w, codeFileData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	// A zero-length data block ends this file's stream,
	// distinct from the download side's u32be(1)||0x00 success trailer.
	return plist.WriteFrame(w, nil)
}

// WriteUploadTerminator writes the zero-length directory segment that ends
// an upload stream.
func WriteUploadTerminator(w io.Writer) error {
	return writePathSegment(w, "")
}
