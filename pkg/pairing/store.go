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
	"os"
	"path/filepath"

	"github.com/ioslink/idevice/pkg/ierrors"
)

// FileStore reads and writes pairing records under a directory keyed by
// device UDID. On Unix the mux daemon is the sole writer of the canonical
// record store; FileStore exists for platforms
// and tests where records are read directly off disk instead of through
// the mux protocol (pkg/mux.Client.ReadPairRecord).
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(udid string) string {
	return filepath.Join(s.Dir, udid+".plist")
}

// Load reads and parses the pairing record for udid.
func (s *FileStore) Load(udid string) (*Record, error) {
	data, err := os.ReadFile(s.path(udid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ierrors.NotFoundError{What: "pairing record for " + udid}
		}
		return nil, &ierrors.TransportError{Op: "read pairing record", Err: err}
	}
	return Parse(data)
}

// Save persists r for udid, overwriting any existing record. FileStore is
// the only mutator of its directory; Records themselves stay immutable.
func (s *FileStore) Save(udid string, r *Record) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return &ierrors.TransportError{Op: "create pairing dir", Err: err}
	}
	return os.WriteFile(s.path(udid), data, 0o600)
}
